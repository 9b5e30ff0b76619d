// Package main provides a CLI for publishing a newsletter issue through the
// SMTP publishing endpoint. It supports STARTTLS, implicit TLS and plaintext
// connections with SMTP AUTH PLAIN, and can resend the same message to check
// that duplicates are absorbed.
//
// Usage:
//
//	publish-client --user admin --password secret --subject "Issue #1" --text "Hello" --html-file issue.html
//	publish-client --tls none --idempotency-key weekly-42 --count 3
package main

import (
	"crypto/tls"
	"flag"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"net/textproto"
	"os"
	"strings"
	"time"
)

type config struct {
	host           string
	port           int
	tlsMode        string
	insecure       bool
	user           string
	password       string
	from           string
	to             string
	subject        string
	text           string
	htmlFile       string
	idempotencyKey string
	count          int
}

func main() {
	cfg := parseFlags()

	if cfg.subject == "" || cfg.text == "" {
		fmt.Fprintln(os.Stderr, "error: --subject and --text are required")
		flag.Usage()
		os.Exit(2)
	}

	var html string
	if cfg.htmlFile != "" {
		b, err := os.ReadFile(cfg.htmlFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: read html file: %v\n", err)
			os.Exit(1)
		}
		html = string(b)
	}

	addr := net.JoinHostPort(cfg.host, fmt.Sprint(cfg.port))
	msg, err := buildMessage(cfg.from, cfg.to, cfg.subject, cfg.text, html, cfg.idempotencyKey, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: build message: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Publishing to %s (%s) as %q\n", addr, cfg.to, cfg.user)

	var failCount int
	for i := 1; i <= cfg.count; i++ {
		start := time.Now()
		if err := send(cfg, addr, msg); err != nil {
			failCount++
			fmt.Printf("  [%d/%d] FAIL (%s): %v\n", i, cfg.count, time.Since(start), err)
			continue
		}
		fmt.Printf("  [%d/%d] OK   (%s)\n", i, cfg.count, time.Since(start))
	}

	if failCount > 0 {
		os.Exit(1)
	}
}

func parseFlags() config {
	var cfg config

	flag.StringVar(&cfg.host, "host", "localhost", "SMTP server host")
	flag.IntVar(&cfg.port, "port", 2525, "SMTP server port")
	flag.StringVar(&cfg.tlsMode, "tls", "none", "TLS mode: starttls, implicit, none")
	flag.BoolVar(&cfg.insecure, "insecure", false, "Skip TLS certificate verification")
	flag.StringVar(&cfg.user, "user", "admin", "SMTP AUTH username")
	flag.StringVar(&cfg.password, "password", "", "SMTP AUTH password")
	flag.StringVar(&cfg.from, "from", "editor@example.com", "Envelope sender")
	flag.StringVar(&cfg.to, "to", "publish@newsletter.local", "Publish address")
	flag.StringVar(&cfg.subject, "subject", "", "Issue title")
	flag.StringVar(&cfg.text, "text", "", "Plain-text body")
	flag.StringVar(&cfg.htmlFile, "html-file", "", "File holding the HTML body")
	flag.StringVar(&cfg.idempotencyKey, "idempotency-key", "", "Idempotency-Key header value")
	flag.IntVar(&cfg.count, "count", 1, "Number of times to send the same message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: publish-client [options]\n\n")
		fmt.Fprintf(os.Stderr, "Publishes a newsletter issue through the SMTP endpoint.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()
	return cfg
}

func send(cfg config, addr string, msg []byte) error {
	tlsConfig := &tls.Config{
		ServerName:         cfg.host,
		InsecureSkipVerify: cfg.insecure, //nolint:gosec // Intentional for dev self-signed certs.
	}

	var (
		c   *smtp.Client
		err error
	)
	switch cfg.tlsMode {
	case "none", "starttls":
		c, err = smtp.Dial(addr)
		if err != nil {
			return fmt.Errorf("dial: %w", err)
		}
		if cfg.tlsMode == "starttls" {
			if err := c.StartTLS(tlsConfig); err != nil {
				c.Close()
				return fmt.Errorf("starttls: %w", err)
			}
		}
	case "implicit":
		conn, err := tls.Dial("tcp", addr, tlsConfig)
		if err != nil {
			return fmt.Errorf("tls dial: %w", err)
		}
		c, err = smtp.NewClient(conn, cfg.host)
		if err != nil {
			conn.Close()
			return fmt.Errorf("new client: %w", err)
		}
	default:
		return fmt.Errorf("unknown TLS mode: %s (use starttls, implicit, or none)", cfg.tlsMode)
	}
	defer c.Close()

	if cfg.password != "" {
		if err := c.Auth(smtp.PlainAuth("", cfg.user, cfg.password, cfg.host)); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := c.Mail(cfg.from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := c.Rcpt(cfg.to); err != nil {
		return fmt.Errorf("rcpt to %s: %w", cfg.to, err)
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}
	return c.Quit()
}

// buildMessage renders a multipart/alternative message. An empty html sends
// text only and lets the server derive the HTML part.
func buildMessage(from, to, subject, text, html, key string, now time.Time) ([]byte, error) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "From: %s\r\n", from)
	fmt.Fprintf(&sb, "To: %s\r\n", to)
	fmt.Fprintf(&sb, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&sb, "Date: %s\r\n", now.Format(time.RFC1123Z))
	if key != "" {
		fmt.Fprintf(&sb, "Idempotency-Key: %s\r\n", key)
	}
	sb.WriteString("MIME-Version: 1.0\r\n")

	if html == "" {
		sb.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
		sb.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")
		if err := writeQP(&sb, text); err != nil {
			return nil, err
		}
		return []byte(sb.String()), nil
	}

	var body strings.Builder
	mw := multipart.NewWriter(&body)
	fmt.Fprintf(&sb, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mw.Boundary())

	for _, p := range []struct{ ctype, content string }{
		{"text/plain; charset=utf-8", text},
		{"text/html; charset=utf-8", html},
	} {
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {p.ctype},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return nil, err
		}
		qp := quotedprintable.NewWriter(part)
		if _, err := qp.Write([]byte(p.content)); err != nil {
			return nil, err
		}
		if err := qp.Close(); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	sb.WriteString(body.String())
	return []byte(sb.String()), nil
}

func writeQP(sb *strings.Builder, s string) error {
	qp := quotedprintable.NewWriter(sb)
	if _, err := qp.Write([]byte(s)); err != nil {
		return err
	}
	return qp.Close()
}
