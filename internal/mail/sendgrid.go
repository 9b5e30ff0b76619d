package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	sendgridDefaultEndpoint = "https://api.sendgrid.com"
	sendgridSendPath        = "/v3/mail/send"
)

// SendGrid sends mail through the SendGrid v3 API.
type SendGrid struct {
	apiKey   string
	endpoint string
	sender   string
	client   HTTPClient
}

// NewSendGrid creates a SendGrid client. An empty BaseURL selects the public
// SendGrid endpoint.
func NewSendGrid(cfg Config, client HTTPClient) *SendGrid {
	endpoint := strings.TrimRight(cfg.BaseURL, "/")
	if endpoint == "" {
		endpoint = sendgridDefaultEndpoint
	}
	return &SendGrid{
		apiKey:   cfg.AuthorizationToken,
		endpoint: endpoint,
		sender:   cfg.Sender,
		client:   client,
	}
}

func (s *SendGrid) Name() string { return "sendgrid" }

func (s *SendGrid) Send(ctx context.Context, email Email) error {
	body, err := json.Marshal(s.buildPayload(email))
	if err != nil {
		return fmt.Errorf("sendgrid: marshal request: %w", err)
	}

	resp, err := s.client.Do(ctx, &HTTPRequest{
		Method: "POST",
		URL:    s.endpoint + sendgridSendPath,
		Headers: map[string]string{
			"Authorization": "Bearer " + s.apiKey,
			"Content-Type":  "application/json",
		},
		Body: body,
	})
	if err != nil {
		return fmt.Errorf("sendgrid: send request: %w", err)
	}

	if se := ClassifyHTTPError(s.Name(), resp.StatusCode, string(resp.Body)); se != nil {
		return se
	}
	return nil
}

// sendgridPayload matches the SendGrid v3 mail/send JSON schema.
type sendgridPayload struct {
	Personalizations []sendgridPersonalization `json:"personalizations"`
	From             sendgridEmail             `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendgridContent         `json:"content"`
}

type sendgridPersonalization struct {
	To []sendgridEmail `json:"to"`
}

type sendgridEmail struct {
	Email string `json:"email"`
}

type sendgridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

func (s *SendGrid) buildPayload(email Email) sendgridPayload {
	from := email.From
	if from == "" {
		from = s.sender
	}

	// SendGrid requires text/plain before text/html.
	var content []sendgridContent
	if email.TextBody != "" {
		content = append(content, sendgridContent{Type: "text/plain", Value: email.TextBody})
	}
	if email.HTMLBody != "" {
		content = append(content, sendgridContent{Type: "text/html", Value: email.HTMLBody})
	}

	return sendgridPayload{
		Personalizations: []sendgridPersonalization{
			{To: []sendgridEmail{{Email: email.To}}},
		},
		From:    sendgridEmail{Email: from},
		Subject: email.Subject,
		Content: content,
	}
}
