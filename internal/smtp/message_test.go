package smtp

import (
	"strings"
	"testing"

	"github.com/sungwon/newsletter-relay/internal/mimeparse"
)

func mustParse(t *testing.T, raw string) *mimeparse.Message {
	t.Helper()
	msg, err := mimeparse.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return msg
}

func TestIssueFromMessage_EscapesTextFallback(t *testing.T) {
	msg := mustParse(t, "Subject:  Tips & tricks \r\n\r\n<b>not html</b>\r\n")

	ni, err := issueFromMessage(msg)
	if err != nil {
		t.Fatalf("issueFromMessage() error = %v", err)
	}
	if ni.Title != "Tips & tricks" {
		t.Errorf("title = %q, want trimmed subject", ni.Title)
	}
	if ni.HTMLContent != "<pre>&lt;b&gt;not html&lt;/b&gt;\r\n</pre>" {
		t.Errorf("html = %q", ni.HTMLContent)
	}
}

func TestIssueFromMessage_KeepsHTMLPart(t *testing.T) {
	msg := mustParse(t, "Subject: s\r\n"+
		"Content-Type: multipart/alternative; boundary=\"b\"\r\n\r\n"+
		"--b\r\nContent-Type: text/plain\r\n\r\ntext\r\n"+
		"--b\r\nContent-Type: text/html\r\n\r\n<p>html</p>\r\n"+
		"--b--\r\n")

	ni, err := issueFromMessage(msg)
	if err != nil {
		t.Fatalf("issueFromMessage() error = %v", err)
	}
	if ni.HTMLContent != "<p>html</p>" || ni.TextContent != "text" {
		t.Errorf("issue = %+v", ni)
	}
}

func TestDeriveKey(t *testing.T) {
	explicit := mustParse(t, "Subject: s\r\nIdempotency-Key: issue-42\r\nMessage-ID: <x@y>\r\n\r\nbody")
	key, err := deriveKey(explicit, nil)
	if err != nil || key.String() != "issue-42" {
		t.Errorf("explicit header: key = %q, err = %v", key, err)
	}

	raw := "Subject: s\r\nMessage-ID: <x@y>\r\n\r\nbody"
	a, _ := deriveKey(mustParse(t, raw), []byte(raw))
	raw2 := "Subject: different\r\nMessage-ID: <x@y>\r\n\r\nother body"
	b, _ := deriveKey(mustParse(t, raw2), []byte(raw2))
	if a != b {
		t.Errorf("same Message-ID gave different keys %q and %q", a, b)
	}
	if !strings.HasPrefix(a.String(), "msgid-") || len(a.String()) != len("msgid-")+40 {
		t.Errorf("message-id key = %q", a)
	}

	noID := "Subject: s\r\n\r\nbody"
	c, err := deriveKey(mustParse(t, noID), []byte(noID))
	if err != nil {
		t.Fatalf("deriveKey() error = %v", err)
	}
	d, _ := deriveKey(mustParse(t, noID), []byte(noID))
	if c != d || !strings.HasPrefix(c.String(), "raw-") {
		t.Errorf("raw digest keys = %q, %q", c, d)
	}
	other := noID + " changed"
	e, _ := deriveKey(mustParse(t, other), []byte(other))
	if e == c {
		t.Error("different raw messages share a key")
	}
}
