package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const postmarkSendPath = "/email"

// Postmark sends mail through the Postmark email API.
type Postmark struct {
	baseURL string
	sender  string
	token   string
	client  HTTPClient
}

// NewPostmark creates a Postmark client from cfg.
func NewPostmark(cfg Config, client HTTPClient) *Postmark {
	return &Postmark{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		sender:  cfg.Sender,
		token:   cfg.AuthorizationToken,
		client:  client,
	}
}

func (p *Postmark) Name() string { return "postmark" }

type postmarkRequest struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

// Send posts the email to {base_url}/email.
func (p *Postmark) Send(ctx context.Context, email Email) error {
	from := email.From
	if from == "" {
		from = p.sender
	}

	body, err := json.Marshal(postmarkRequest{
		From:     from,
		To:       email.To,
		Subject:  email.Subject,
		HtmlBody: email.HTMLBody,
		TextBody: email.TextBody,
	})
	if err != nil {
		return fmt.Errorf("postmark: marshal request: %w", err)
	}

	resp, err := p.client.Do(ctx, &HTTPRequest{
		Method: "POST",
		URL:    p.baseURL + postmarkSendPath,
		Headers: map[string]string{
			"X-Postmark-Server-Token": p.token,
			"Content-Type":            "application/json",
			"Accept":                  "application/json",
		},
		Body: body,
	})
	if err != nil {
		return fmt.Errorf("postmark: send request: %w", err)
	}

	if se := ClassifyHTTPError(p.Name(), resp.StatusCode, string(resp.Body)); se != nil {
		return se
	}
	return nil
}
