package notification

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// Channel identifies the delivery medium of a request.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
)

// Header keys carried in the message envelope.
const (
	HeaderCorrelationID = "correlation_id"
)

// Request is a single queued notification as published by the gateway.
// It is treated as immutable once decoded.
type Request struct {
	RequestID     string         `json:"request_id"`
	UserID        string         `json:"user_id,omitempty"`
	Channel       Channel        `json:"channel"`
	TemplateCode  string         `json:"template_code,omitempty"`
	Subject       string         `json:"subject,omitempty"`
	Body          string         `json:"body,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	Attempts      int            `json:"attempts"` // informational, never drives retries
	Email         string         `json:"email,omitempty"`
	PushToken     string         `json:"push_token,omitempty"`
}

// Envelope is the NSQ message body: the request plus transport headers
// (correlation id and W3C trace context).
type Envelope struct {
	Request
	Headers map[string]string `json:"headers,omitempty"`
}

// Recipient returns the channel-specific address of the request.
func (r Request) Recipient() string {
	switch r.Channel {
	case ChannelEmail:
		return r.Email
	case ChannelPush:
		return r.PushToken
	default:
		return ""
	}
}

// Decode parses a raw message body into an envelope and resolves the
// correlation id: header first, then payload, then request id. Numbers in
// data decode as json.Number so they keep their wire form.
func Decode(body []byte) (Envelope, error) {
	var env Envelope
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, fmt.Errorf("decode request: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return Envelope{}, errors.New("decode request: trailing data after envelope")
	}
	if cid := env.Headers[HeaderCorrelationID]; cid != "" {
		env.CorrelationID = cid
	}
	if env.CorrelationID == "" {
		env.CorrelationID = env.RequestID
	}
	if err := env.Request.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
