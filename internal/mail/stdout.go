package mail

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// Stdout writes messages to standard output instead of delivering them.
// Intended for development.
type Stdout struct {
	sender string
	writer io.Writer
}

// NewStdout creates a Stdout client that prints to os.Stdout.
func NewStdout(cfg Config) *Stdout {
	return &Stdout{sender: cfg.Sender, writer: os.Stdout}
}

func (s *Stdout) Name() string { return "stdout" }

func (s *Stdout) Send(_ context.Context, email Email) error {
	from := email.From
	if from == "" {
		from = s.sender
	}

	var b strings.Builder
	b.WriteString("--- stdout mail ---\n")
	fmt.Fprintf(&b, "From:    %s\n", from)
	fmt.Fprintf(&b, "To:      %s\n", email.To)
	fmt.Fprintf(&b, "Subject: %s\n", email.Subject)
	fmt.Fprintf(&b, "Text:    (%d bytes)\n", len(email.TextBody))
	fmt.Fprintf(&b, "HTML:    (%d bytes)\n", len(email.HTMLBody))
	b.WriteString("--- end ---\n")

	if _, err := io.WriteString(s.writer, b.String()); err != nil {
		return fmt.Errorf("stdout: write: %w", err)
	}
	return nil
}
