// Package mail sends transactional email through an external HTTP provider.
package mail

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Email is one outbound message. An empty From uses the client's sender.
type Email struct {
	From     string
	To       string
	Subject  string
	HTMLBody string
	TextBody string
}

// Client sends a single email. Any returned error means the message may not
// have been delivered and the caller should retry later.
type Client interface {
	Send(ctx context.Context, email Email) error
	Name() string
}

// Config holds configuration for the mail client.
type Config struct {
	// Provider is one of "postmark", "sendgrid" or "stdout".
	Provider           string
	BaseURL            string
	Sender             string
	AuthorizationToken string
	Timeout            time.Duration
}

const defaultTimeout = 10 * time.Second

// Validate checks that required fields are set for the selected provider.
func (c *Config) Validate() error {
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}

	switch c.Provider {
	case "postmark":
		if c.BaseURL == "" {
			return errors.New("postmark: base_url is required")
		}
		if c.AuthorizationToken == "" {
			return errors.New("postmark: authorization_token is required")
		}
	case "sendgrid":
		if c.AuthorizationToken == "" {
			return errors.New("sendgrid: authorization_token is required")
		}
	case "stdout":
	case "":
		return errors.New("mail provider is required")
	default:
		return errors.New("unknown mail provider: " + c.Provider)
	}

	if c.Provider != "stdout" && c.Sender == "" {
		return errors.New("mail sender is required")
	}
	return nil
}

// New creates the Client selected by cfg.Provider. A nil httpClient gets a
// DefaultHTTPClient bounded by cfg.Timeout.
func New(cfg Config, httpClient HTTPClient) (Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mail config: %w", err)
	}
	if httpClient == nil {
		httpClient = NewHTTPClient(cfg.Timeout)
	}

	switch cfg.Provider {
	case "postmark":
		return NewPostmark(cfg, httpClient), nil
	case "sendgrid":
		return NewSendGrid(cfg, httpClient), nil
	default:
		return NewStdout(cfg), nil
	}
}
