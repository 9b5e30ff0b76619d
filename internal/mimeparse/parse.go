// Package mimeparse extracts the parts of a submitted newsletter issue from a
// raw RFC 5322 message: the subject, the text and HTML bodies and the headers
// used to derive an idempotency key.
package mimeparse

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
)

// ErrMissingBoundary is returned for a multipart message without a boundary.
var ErrMissingBoundary = errors.New("mimeparse: multipart message missing boundary")

// Message holds what an issue submission carries.
type Message struct {
	Subject   string
	MessageID string
	Headers   mail.Header
	TextBody  string
	HTMLBody  string
	// SkippedParts counts attachments and other parts that are not bodies.
	SkippedParts int
}

var wordDecoder = &mime.WordDecoder{}

// Parse reads raw (headers + body). Single-part messages land in TextBody or
// HTMLBody by Content-Type; multipart messages are walked recursively and the
// first text/plain and text/html parts win.
func Parse(raw []byte) (*Message, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("mimeparse: read message: %w", err)
	}

	out := &Message{
		Headers:   msg.Header,
		Subject:   decodeHeader(msg.Header.Get("Subject")),
		MessageID: strings.Trim(strings.TrimSpace(msg.Header.Get("Message-Id")), "<>"),
	}

	if err := walkPart(msg.Body, msg.Header.Get("Content-Type"), msg.Header.Get("Content-Transfer-Encoding"), out); err != nil {
		return nil, err
	}
	return out, nil
}

// Header returns the decoded value of a top-level header.
func (m *Message) Header(name string) string {
	return decodeHeader(m.Headers.Get(name))
}

func walkPart(r io.Reader, contentType, transferEncoding string, out *Message) error {
	// No Content-Type means text/plain per RFC 2045.
	mediaType := "text/plain"
	var params map[string]string
	if contentType != "" {
		var err error
		mediaType, params, err = mime.ParseMediaType(contentType)
		if err != nil {
			return fmt.Errorf("mimeparse: parse Content-Type: %w", err)
		}
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return ErrMissingBoundary
		}
		return walkMultipart(r, boundary, out)
	}

	body, err := readBody(r, transferEncoding)
	if err != nil {
		return fmt.Errorf("mimeparse: read body: %w", err)
	}

	switch {
	case mediaType == "text/plain" && out.TextBody == "":
		out.TextBody = string(body)
	case mediaType == "text/html" && out.HTMLBody == "":
		out.HTMLBody = string(body)
	default:
		out.SkippedParts++
	}
	return nil
}

func walkMultipart(r io.Reader, boundary string, out *Message) error {
	mr := multipart.NewReader(r, boundary)

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("mimeparse: read next part: %w", err)
		}

		if isAttachment(part) {
			out.SkippedParts++
			continue
		}

		ct := part.Header.Get("Content-Type")
		if ct != "" {
			if _, _, err := mime.ParseMediaType(ct); err != nil {
				out.SkippedParts++
				continue
			}
		}

		if err := walkPart(part, ct, part.Header.Get("Content-Transfer-Encoding"), out); err != nil {
			// A broken nested multipart does not spoil the rest.
			if errors.Is(err, ErrMissingBoundary) {
				out.SkippedParts++
				continue
			}
			return err
		}
	}
}

func isAttachment(part *multipart.Part) bool {
	disposition := part.Header.Get("Content-Disposition")
	if disposition == "" {
		return false
	}
	dispType, _, err := mime.ParseMediaType(disposition)
	return err == nil && strings.EqualFold(dispType, "attachment")
}

// readBody reads r, undoing base64 or quoted-printable transfer encoding.
func readBody(r io.Reader, transferEncoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(transferEncoding)) {
	case "base64":
		return io.ReadAll(base64.NewDecoder(base64.StdEncoding, r))
	case "quoted-printable":
		return io.ReadAll(quotedprintable.NewReader(r))
	default:
		return io.ReadAll(r)
	}
}

func decodeHeader(v string) string {
	if v == "" {
		return ""
	}
	decoded, err := wordDecoder.DecodeHeader(v)
	if err != nil {
		return v
	}
	return decoded
}
