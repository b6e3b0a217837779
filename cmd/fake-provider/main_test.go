package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/austindbirch/harbor_notify/internal/config"
	"github.com/austindbirch/harbor_notify/internal/provider"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		n        int
		expected string
	}{
		{name: "short string", input: "hello", n: 10, expected: "hello"},
		{name: "exact length", input: "hello", n: 5, expected: "hello"},
		{name: "long string", input: "hello world", n: 5, expected: "hello..."},
		{name: "empty string", input: "", n: 5, expected: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, truncate(tt.input, tt.n))
		})
	}
}

func TestSendGridEndpoint(t *testing.T) {
	srv := httptest.NewServer((&fakeProvider{failFirstN: 1}).routes())
	defer srv.Close()

	sg := provider.NewSendGrid(config.Email{
		BaseURL:   srv.URL,
		APIKey:    "key",
		FromEmail: "no-reply@example.com",
		Timeout:   time.Second,
	})
	msg := provider.Message{RequestID: "r1", Recipient: "a@b.co", Subject: "hi", Body: "hello"}

	err := sg.Deliver(context.Background(), msg)
	var se *provider.StatusError
	require.ErrorAs(t, err, &se, "first send is configured to fail")
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)

	assert.NoError(t, sg.Deliver(context.Background(), msg))
}

func TestSendGridEndpointAuth(t *testing.T) {
	srv := httptest.NewServer((&fakeProvider{apiKey: "secret"}).routes())
	defer srv.Close()

	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{name: "matching key", key: "secret"},
		{name: "wrong key", key: "nope", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sg := provider.NewSendGrid(config.Email{BaseURL: srv.URL, APIKey: tt.key, Timeout: time.Second})
			err := sg.Deliver(context.Background(), provider.Message{Recipient: "a@b.co", Body: "x"})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSendGridEndpointRejectsMissingRecipient(t *testing.T) {
	srv := httptest.NewServer((&fakeProvider{}).routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v3/mail/send", "application/json", strings.NewReader(`{"personalizations":[]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOneSignalEndpoint(t *testing.T) {
	srv := httptest.NewServer((&fakeProvider{}).routes())
	defer srv.Close()

	p := provider.NewOneSignal(config.Push{BaseURL: srv.URL, APIKey: "key", AppID: "app", Timeout: time.Second})

	tests := []struct {
		name      string
		recipient string
		wantErr   bool
	}{
		{name: "subscribed player", recipient: "player-token-123"},
		{name: "unsubscribed player", recipient: "invalid-player", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Deliver(context.Background(), provider.Message{Recipient: tt.recipient, Subject: "s", Body: "b"})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer((&fakeProvider{}).routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
