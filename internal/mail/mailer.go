// Package mail sends transactional email through Resend.
package mail

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/resend/resend-go/v2"
)

// ErrNoRecipient is returned for a message without a To address.
var ErrNoRecipient = errors.New("mail: recipient required")

// Attachment is a file sent along with a message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Message is one outbound email.
type Message struct {
	To          string
	ReplyTo     string
	Subject     string
	HTML        string
	Text        string
	Attachments []Attachment
}

// Mailer delivers messages and returns the provider message id.
type Mailer interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// ResendMailer implements Mailer on the Resend API.
type ResendMailer struct {
	client *resend.Client
	from   string
}

// NewResendMailer constructs a mailer. A non-empty baseURL overrides the API endpoint.
func NewResendMailer(apiKey, from, baseURL string) (*ResendMailer, error) {
	client := resend.NewClient(apiKey)
	if baseURL != "" {
		u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("mail: parse base url: %w", err)
		}
		client.BaseURL = u
	}
	return &ResendMailer{client: client, from: from}, nil
}

// Send delivers msg.
func (m *ResendMailer) Send(ctx context.Context, msg Message) (string, error) {
	if strings.TrimSpace(msg.To) == "" {
		return "", ErrNoRecipient
	}
	req := &resend.SendEmailRequest{
		From:    m.from,
		To:      []string{msg.To},
		ReplyTo: msg.ReplyTo,
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    msg.Text,
	}
	for _, a := range msg.Attachments {
		req.Attachments = append(req.Attachments, &resend.Attachment{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Content:     a.Content,
		})
	}
	resp, err := m.client.Emails.SendWithContext(ctx, req)
	if err != nil {
		return "", fmt.Errorf("mail: send to %s: %w", msg.To, err)
	}
	return resp.Id, nil
}
