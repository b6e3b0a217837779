package notification

import (
	"errors"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// MinPushTokenLength is the shortest push token accepted by the push channel.
const MinPushTokenLength = 6

// Validate checks the structural fields every request must carry.
// Recipients are checked per channel by ValidateRecipient.
func (r Request) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.RequestID, validation.Required),
		validation.Field(&r.Channel, validation.Required, validation.In(ChannelEmail, ChannelPush)),
	)
	return asValidationError(err)
}

// ValidateEmail checks an email recipient.
func ValidateEmail(addr string) error {
	return asValidationError(validation.Errors{
		"email": validation.Validate(addr, validation.Required, is.EmailFormat),
	}.Filter())
}

// ValidatePushToken checks a push token is non-blank and long enough.
// Surrounding whitespace does not count toward the length.
func ValidatePushToken(token string) error {
	return asValidationError(validation.Errors{
		"push_token": validation.Validate(strings.TrimSpace(token), validation.Required, validation.RuneLength(MinPushTokenLength, 0)),
	}.Filter())
}

// ValidateRecipient dispatches to the channel's recipient check.
func ValidateRecipient(r Request) error {
	switch r.Channel {
	case ChannelEmail:
		return ValidateEmail(r.Email)
	case ChannelPush:
		return ValidatePushToken(r.PushToken)
	default:
		return &ValidationError{Field: "channel", Reason: "unsupported channel " + string(r.Channel)}
	}
}

// asValidationError flattens ozzo errors into a single ValidationError,
// reporting the first failing field.
func asValidationError(err error) error {
	if err == nil {
		return nil
	}
	var errs validation.Errors
	if errors.As(err, &errs) {
		fields := make([]string, 0, len(errs))
		for field := range errs {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		for _, field := range fields {
			if fe := errs[field]; fe != nil {
				return &ValidationError{Field: field, Reason: fe.Error()}
			}
		}
	}
	return &ValidationError{Field: "request", Reason: err.Error()}
}
