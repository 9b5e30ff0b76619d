// Package smtp lets publishers submit a newsletter issue by mailing it to the
// publish address. Each accepted DATA command becomes one idempotent publish.
package smtp

import (
	"context"
	"strings"
	"sync/atomic"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sungwon/newsletter-relay/internal/idempotency"
	"github.com/sungwon/newsletter-relay/internal/issue"
	"github.com/sungwon/newsletter-relay/internal/logger"
	"github.com/sungwon/newsletter-relay/internal/metrics"
	"github.com/sungwon/newsletter-relay/internal/publish"
	"github.com/sungwon/newsletter-relay/internal/storage"
)

// Authenticator checks publisher credentials. *auth.Authenticator implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (*storage.User, error)
}

// Publisher publishes an issue idempotently. *publish.Service implements it.
type Publisher interface {
	Publish(ctx context.Context, userID uuid.UUID, key idempotency.Key, ni issue.NewIssue) (*publish.Result, error)
}

// Backend implements the go-smtp Backend interface.
// It manages session creation and enforces connection limits.
type Backend struct {
	auth           Authenticator
	publisher      Publisher
	publishAddress string
	log            zerolog.Logger
	maxConns       int
	active         atomic.Int64
}

// NewBackend creates an SMTP backend that accepts issues addressed to
// publishAddress.
func NewBackend(authn Authenticator, publisher Publisher, publishAddress string, log zerolog.Logger, maxConns int) *Backend {
	return &Backend{
		auth:           authn,
		publisher:      publisher,
		publishAddress: strings.ToLower(strings.TrimSpace(publishAddress)),
		log:            log,
		maxConns:       maxConns,
	}
}

// NewSession is called after a client connects. It enforces the connection
// limit and creates a Session for the connection.
func (b *Backend) NewSession(conn *gosmtp.Conn) (gosmtp.Session, error) {
	remote := ""
	if conn != nil && conn.Conn() != nil {
		remote = conn.Conn().RemoteAddr().String()
	}
	return b.newSession(remote)
}

func (b *Backend) newSession(remoteAddr string) (*Session, error) {
	current := b.active.Add(1)
	if b.maxConns > 0 && int(current) > b.maxConns {
		b.active.Add(-1)
		metrics.SMTPConnectionsTotal.WithLabelValues("rejected").Inc()
		b.log.Warn().
			Int64("active", current-1).
			Int("max", b.maxConns).
			Msg("connection limit reached")
		return nil, &gosmtp.SMTPError{
			Code:         421,
			EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
			Message:      "Too many connections",
		}
	}
	metrics.SMTPConnectionsTotal.WithLabelValues("accepted").Inc()
	metrics.SMTPActiveSessions.Inc()

	correlationID := logger.NewCorrelationID()
	sessionLog := b.log.With().
		Str("correlation_id", correlationID).
		Str("remote_addr", remoteAddr).
		Logger()

	ctx := logger.WithCorrelationID(context.Background(), correlationID)
	ctx = logger.WithLogger(ctx, sessionLog)

	sessionLog.Debug().Msg("new SMTP session")

	return &Session{
		ctx:     ctx,
		log:     sessionLog,
		backend: b,
	}, nil
}

// ActiveSessions returns the current number of active SMTP sessions.
func (b *Backend) ActiveSessions() int64 {
	return b.active.Load()
}
