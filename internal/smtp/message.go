package smtp

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"html"
	"strings"

	"github.com/sungwon/newsletter-relay/internal/idempotency"
	"github.com/sungwon/newsletter-relay/internal/issue"
	"github.com/sungwon/newsletter-relay/internal/mimeparse"
)

// IdempotencyKeyHeader lets a submitter pick the key explicitly.
const IdempotencyKeyHeader = "Idempotency-Key"

var (
	errMissingSubject = errors.New("message has no subject")
	errMissingText    = errors.New("message has no text/plain body")
)

// issueFromMessage maps a parsed submission onto an issue. A message without
// an HTML part gets its text wrapped in <pre>.
func issueFromMessage(msg *mimeparse.Message) (issue.NewIssue, error) {
	title := strings.TrimSpace(msg.Subject)
	if title == "" {
		return issue.NewIssue{}, errMissingSubject
	}
	if strings.TrimSpace(msg.TextBody) == "" {
		return issue.NewIssue{}, errMissingText
	}

	htmlBody := msg.HTMLBody
	if strings.TrimSpace(htmlBody) == "" {
		htmlBody = "<pre>" + html.EscapeString(msg.TextBody) + "</pre>"
	}

	return issue.NewIssue{
		Title:       title,
		TextContent: msg.TextBody,
		HTMLContent: htmlBody,
	}, nil
}

// deriveKey picks the idempotency key of a submission: the explicit header,
// else a digest of the Message-ID, else a digest of the whole message. SMTP
// client retries resend the same Message-ID, so they replay.
func deriveKey(msg *mimeparse.Message, raw []byte) (idempotency.Key, error) {
	if v := strings.TrimSpace(msg.Header(IdempotencyKeyHeader)); v != "" {
		return idempotency.ParseKey(v)
	}
	if msg.MessageID != "" {
		sum := sha256.Sum256([]byte(msg.MessageID))
		return idempotency.ParseKey("msgid-" + hex.EncodeToString(sum[:])[:40])
	}
	sum := sha256.Sum256(raw)
	return idempotency.ParseKey("raw-" + hex.EncodeToString(sum[:])[:40])
}
