package smtp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/mail"
	"strings"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sungwon/newsletter-relay/internal/auth"
	"github.com/sungwon/newsletter-relay/internal/idempotency"
	"github.com/sungwon/newsletter-relay/internal/metrics"
	"github.com/sungwon/newsletter-relay/internal/mimeparse"
)

var (
	errAuthRequired = &gosmtp.SMTPError{
		Code:         530,
		EnhancedCode: gosmtp.EnhancedCode{5, 7, 0},
		Message:      "Authentication required",
	}
	errAuthFailed = &gosmtp.SMTPError{
		Code:         535,
		EnhancedCode: gosmtp.EnhancedCode{5, 7, 8},
		Message:      "Authentication failed",
	}
	errAuthLocked = &gosmtp.SMTPError{
		Code:         454,
		EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
		Message:      "Too many failed attempts, try again later",
	}
	errAuthUnavailable = &gosmtp.SMTPError{
		Code:         454,
		EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
		Message:      "Temporary authentication failure",
	}
	errTryLater = &gosmtp.SMTPError{
		Code:         451,
		EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
		Message:      "Error publishing issue, try again later",
	}
)

func rejectMessage(msg string) *gosmtp.SMTPError {
	return &gosmtp.SMTPError{
		Code:         554,
		EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
		Message:      msg,
	}
}

// Session handles a single SMTP connection. It authenticates the publisher,
// accepts only the publish address as recipient and publishes each message.
type Session struct {
	ctx           context.Context
	log           zerolog.Logger
	backend       *Backend
	userID        uuid.UUID
	username      string
	authenticated bool
	sender        string
	recipients    []string
}

// AuthMechanisms advertises AUTH PLAIN only.
func (s *Session) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

// Auth returns the SASL server for mech.
func (s *Session) Auth(mech string) (sasl.Server, error) {
	if mech != sasl.Plain {
		return nil, gosmtp.ErrAuthUnknownMechanism
	}
	return sasl.NewPlainServer(func(_, username, password string) error {
		return s.authPlain(username, password)
	}), nil
}

func (s *Session) authPlain(username, password string) error {
	user, err := s.backend.auth.Authenticate(s.ctx, username, password)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrInvalidCredentials):
		metrics.SMTPAuthAttemptsTotal.WithLabelValues("failure").Inc()
		s.log.Warn().Str("username", username).Msg("auth failed")
		return errAuthFailed
	case errors.Is(err, auth.ErrLockedOut):
		metrics.SMTPAuthAttemptsTotal.WithLabelValues("failure").Inc()
		s.log.Warn().Str("username", username).Msg("auth refused: locked out")
		return errAuthLocked
	default:
		s.log.Error().Err(err).Str("username", username).Msg("auth lookup failed")
		return errAuthUnavailable
	}

	metrics.SMTPAuthAttemptsTotal.WithLabelValues("success").Inc()
	s.userID = user.ID
	s.username = user.Username
	s.authenticated = true
	s.log = s.log.With().Str("user_id", user.ID.String()).Logger()
	s.log.Info().Str("username", username).Msg("auth successful")
	return nil
}

// Mail handles MAIL FROM.
func (s *Session) Mail(from string, _ *gosmtp.MailOptions) error {
	if !s.authenticated {
		return errAuthRequired
	}
	s.sender = from
	return nil
}

// Rcpt handles RCPT TO. Only the publish address is accepted.
func (s *Session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	if !s.authenticated {
		return errAuthRequired
	}

	address := to
	if addr, err := mail.ParseAddress(to); err == nil {
		address = addr.Address
	}
	if !strings.EqualFold(strings.TrimSpace(address), s.backend.publishAddress) {
		s.log.Warn().Str("to", to).Msg("recipient is not the publish address")
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
			Message:      "Recipient not accepted, send issues to " + s.backend.publishAddress,
		}
	}

	s.recipients = append(s.recipients, address)
	return nil
}

// Data handles DATA. The message becomes one publish; a resubmission with
// the same idempotency key replays the saved outcome and is accepted again.
// Message bodies are never logged.
func (s *Session) Data(r io.Reader) error {
	if !s.authenticated {
		return errAuthRequired
	}
	if len(s.recipients) == 0 {
		return &gosmtp.SMTPError{
			Code:         503,
			EnhancedCode: gosmtp.EnhancedCode{5, 5, 1},
			Message:      "No recipients specified",
		}
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		s.log.Error().Err(err).Msg("failed to read message data")
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      "Error reading message",
		}
	}
	raw := buf.Bytes()

	msg, err := mimeparse.Parse(raw)
	if err != nil {
		s.log.Warn().Err(err).Msg("unparseable submission")
		return rejectMessage("Malformed message")
	}

	ni, err := issueFromMessage(msg)
	if err != nil {
		s.log.Warn().Err(err).Msg("rejected submission")
		return rejectMessage(err.Error())
	}

	key, err := deriveKey(msg, raw)
	if err != nil {
		s.log.Warn().Err(err).Msg("invalid idempotency key")
		return rejectMessage("Invalid " + IdempotencyKeyHeader + " header")
	}

	res, err := s.backend.publisher.Publish(s.ctx, s.userID, key, ni)
	if err != nil {
		if errors.Is(err, idempotency.ErrResponseNotReady) {
			s.log.Warn().Str("idempotency_key", key.String()).Msg("submission still being processed")
		} else {
			s.log.Error().Err(err).Str("idempotency_key", key.String()).Msg("publish failed")
		}
		return errTryLater
	}

	if res.Response.StatusCode >= 300 {
		return rejectMessage("Issue was rejected")
	}

	ev := s.log.Info().
		Str("from", s.sender).
		Str("idempotency_key", key.String()).
		Bool("replayed", res.Replayed).
		Int("skipped_parts", msg.SkippedParts)
	if !res.Replayed {
		ev = ev.Str("newsletter_issue_id", res.IssueID.String()).
			Int64("deliveries_enqueued", res.DeliveriesEnqueued)
	}
	ev.Msg("issue accepted over SMTP")

	return nil
}

// Reset is called between messages in the same session. It clears the sender
// and recipients but preserves the authentication state.
func (s *Session) Reset() {
	s.sender = ""
	s.recipients = nil
}

// Logout is called when the client disconnects.
func (s *Session) Logout() error {
	s.backend.active.Add(-1)
	metrics.SMTPActiveSessions.Dec()
	s.log.Debug().Msg("session closed")
	return nil
}
