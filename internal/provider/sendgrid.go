package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/austindbirch/harbor_notify/internal/config"
	"github.com/austindbirch/harbor_notify/internal/notification"
	"github.com/austindbirch/harbor_notify/internal/tracing"
)

const (
	SendGridName     = "sendgrid"
	sendGridMailPath = "/v3/mail/send"
)

// SendGrid sends email through the SendGrid v3 mail API.
type SendGrid struct {
	baseURL string
	apiKey  string
	from    string
	http    *http.Client
}

func NewSendGrid(cfg config.Email) *SendGrid {
	return &SendGrid{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		from:    cfg.FromEmail,
		http:    tracing.HTTPClient("sendgrid.send", cfg.Timeout),
	}
}

type sgAddress struct {
	Email string `json:"email"`
}

type sgContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sgPersonalization struct {
	To []sgAddress `json:"to"`
}

type sgMail struct {
	Personalizations []sgPersonalization `json:"personalizations"`
	From             sgAddress           `json:"from"`
	Subject          string              `json:"subject"`
	Content          []sgContent         `json:"content"`
	CustomArgs       map[string]string   `json:"custom_args,omitempty"`
}

// Deliver posts one mail. Any 2xx is acceptance.
func (s *SendGrid) Deliver(ctx context.Context, msg Message) error {
	mail := sgMail{
		Personalizations: []sgPersonalization{{To: []sgAddress{{Email: msg.Recipient}}}},
		From:             sgAddress{Email: s.from},
		Subject:          msg.Subject,
		Content:          []sgContent{{Type: "text/html", Value: msg.Body}},
	}
	if msg.RequestID != "" {
		mail.CustomArgs = map[string]string{"request_id": msg.RequestID}
	}
	body, err := json.Marshal(mail)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+sendGridMailPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody+1))
	return &StatusError{Provider: SendGridName, StatusCode: resp.StatusCode, Body: truncate(b)}
}

// EmailPrecheck rejects malformed addresses before a send.
func EmailPrecheck(msg Message) error {
	return notification.ValidateEmail(msg.Recipient)
}
