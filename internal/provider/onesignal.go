package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/austindbirch/harbor_notify/internal/config"
	"github.com/austindbirch/harbor_notify/internal/notification"
	"github.com/austindbirch/harbor_notify/internal/tracing"
)

const (
	OneSignalName     = "onesignal"
	oneSignalSendPath = "/notifications"
)

var errNotAccepted = errors.New("onesignal response carried neither id nor recipients")

// OneSignal sends push notifications to player ids.
type OneSignal struct {
	baseURL string
	apiKey  string
	appID   string
	http    *http.Client
}

func NewOneSignal(cfg config.Push) *OneSignal {
	return &OneSignal{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		appID:   cfg.AppID,
		http:    tracing.HTTPClient("onesignal.send", cfg.Timeout),
	}
}

type osNotification struct {
	AppID            string            `json:"app_id"`
	IncludePlayerIDs []string          `json:"include_player_ids"`
	Headings         map[string]string `json:"headings"`
	Contents         map[string]string `json:"contents"`
	Data             map[string]any    `json:"data,omitempty"`
}

type osResponse struct {
	ID         string          `json:"id"`
	Recipients json.RawMessage `json:"recipients"`
	Errors     json.RawMessage `json:"errors"`
}

// Deliver posts one notification. OneSignal accepts with a 2xx carrying a
// notification id or a recipients count.
func (o *OneSignal) Deliver(ctx context.Context, msg Message) error {
	payload := osNotification{
		AppID:            o.appID,
		IncludePlayerIDs: []string{msg.Recipient},
		Headings:         map[string]string{"en": msg.Subject},
		Contents:         map[string]string{"en": msg.Body},
		Data:             msg.Data,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+oneSignalSendPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Basic "+o.apiKey)

	resp, err := o.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Provider: OneSignalName, StatusCode: resp.StatusCode, Body: truncate(b)}
	}

	var out osResponse
	if err := json.Unmarshal(b, &out); err != nil {
		return err
	}
	if out.ID != "" || (len(out.Recipients) > 0 && string(out.Recipients) != "null") {
		return nil
	}
	if len(out.Errors) > 0 {
		return errors.Join(errNotAccepted, errors.New(truncate(out.Errors)))
	}
	return errNotAccepted
}

// PushPrecheck rejects empty or short push tokens before a send.
func PushPrecheck(msg Message) error {
	return notification.ValidatePushToken(msg.Recipient)
}
