package notification

import (
	"errors"
	"testing"
)

func TestValidateRecipient(t *testing.T) {
	tests := []struct {
		name      string
		req       Request
		wantErr   bool
		wantField string
	}{
		{name: "valid email", req: Request{Channel: ChannelEmail, Email: "user@example.com"}},
		{name: "blank email", req: Request{Channel: ChannelEmail}, wantErr: true, wantField: "email"},
		{name: "malformed email", req: Request{Channel: ChannelEmail, Email: "not-an-email"}, wantErr: true, wantField: "email"},
		{name: "valid push token", req: Request{Channel: ChannelPush, PushToken: "abcdef"}},
		{name: "empty push token", req: Request{Channel: ChannelPush}, wantErr: true, wantField: "push_token"},
		{name: "short push token", req: Request{Channel: ChannelPush, PushToken: "abc"}, wantErr: true, wantField: "push_token"},
		{name: "blank push token", req: Request{Channel: ChannelPush, PushToken: "       "}, wantErr: true, wantField: "push_token"},
		{name: "padded short push token", req: Request{Channel: ChannelPush, PushToken: "  abc   "}, wantErr: true, wantField: "push_token"},
		{name: "email channel ignores push token", req: Request{Channel: ChannelEmail, PushToken: "abcdef"}, wantErr: true, wantField: "email"},
		{name: "unknown channel", req: Request{Channel: "sms"}, wantErr: true, wantField: "channel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRecipient(tt.req)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("ValidateRecipient() error = %v, want nil", err)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("ValidateRecipient() error = %v, want *ValidationError", err)
			}
			if ve.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", ve.Field, tt.wantField)
			}
		})
	}
}

func TestRequestValidateReportsFirstField(t *testing.T) {
	err := Request{}.Validate()
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Validate() error = %v, want *ValidationError", err)
	}
	// fields are reported in sorted order
	if ve.Field != "channel" {
		t.Errorf("Field = %q, want channel", ve.Field)
	}
}
