// Package render turns a request's template reference or inline body into
// final subject and body text.
package render

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/harbor_notify/internal/logging"
	"github.com/austindbirch/harbor_notify/internal/metrics"
	"github.com/austindbirch/harbor_notify/internal/notification"
	"github.com/austindbirch/harbor_notify/internal/tracing"
)

var errNoInlineBody = errors.New("no inline body to fall back to")

// Content is what a request asks to have rendered.
type Content struct {
	TemplateCode string
	Subject      string
	Body         string
}

// ContentOf extracts the renderable parts of a request.
func ContentOf(r notification.Request) Content {
	return Content{TemplateCode: r.TemplateCode, Subject: r.Subject, Body: r.Body}
}

type Rendered struct {
	Subject string
	Body    string
}

// Remote is the template service contract.
type Remote interface {
	Render(ctx context.Context, code, inline string, vars map[string]any) (string, error)
}

// Renderer tries the remote template service first and falls back to
// local placeholder substitution of the inline body.
type Renderer struct {
	channel notification.Channel
	remote  Remote
	logger  *logging.Logger
}

// New returns a Renderer. A nil remote means only local substitution runs.
func New(channel notification.Channel, remote Remote, logger *logging.Logger) *Renderer {
	return &Renderer{channel: channel, remote: remote, logger: logger}
}

// Render resolves c with vars. It returns a *notification.RenderError only
// when neither the remote service nor the local fallback can produce a body.
func (r *Renderer) Render(ctx context.Context, c Content, vars map[string]any) (Rendered, error) {
	out := Rendered{Subject: Substitute(c.Subject, vars)}

	var remoteErr error
	if r.remote != nil && (c.TemplateCode != "" || c.Body != "") {
		ctx, span := tracing.StartSpan(ctx, "render.remote",
			attribute.String("template_code", c.TemplateCode),
		)
		body, err := r.remote.Render(ctx, c.TemplateCode, c.Body, vars)
		if err == nil {
			span.End()
			out.Body = body
			return out, nil
		}
		tracing.SetSpanError(ctx, err)
		span.End()

		remoteErr = err
		metrics.RecordRenderFallback(string(r.channel))
		r.logger.WithContext(ctx).WithChannel(string(r.channel)).WithError(err).
			WithField("template_code", c.TemplateCode).
			Warn("template service failed, using local renderer")
	}

	if c.Body == "" {
		err := errNoInlineBody
		if remoteErr != nil {
			err = errors.Join(remoteErr, errNoInlineBody)
		}
		return Rendered{}, &notification.RenderError{Template: c.TemplateCode, Err: err}
	}
	out.Body = Substitute(c.Body, vars)
	return out, nil
}
