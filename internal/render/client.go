package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/austindbirch/harbor_notify/internal/tracing"
)

const renderPath = "/api/v1/templates/render"

// TemplateClient calls the template service render endpoint.
type TemplateClient struct {
	baseURL string
	http    *http.Client
}

func NewTemplateClient(baseURL string, timeout time.Duration) *TemplateClient {
	return &TemplateClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    tracing.HTTPClient("template.render", timeout),
	}
}

type renderRequest struct {
	TemplateCode string         `json:"template_code,omitempty"`
	TemplateStr  string         `json:"template_str,omitempty"`
	Variables    map[string]any `json:"variables"`
}

type renderResponse struct {
	Success bool `json:"success"`
	Data    *struct {
		Rendered *string `json:"rendered"`
	} `json:"data"`
	Error string `json:"error"`
}

// Render renders a stored template by code, or the inline template when
// code is empty.
func (c *TemplateClient) Render(ctx context.Context, code, inline string, vars map[string]any) (string, error) {
	if vars == nil {
		vars = map[string]any{}
	}
	payload := renderRequest{Variables: vars}
	if code != "" {
		payload.TemplateCode = code
	} else {
		payload.TemplateStr = inline
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode render request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+renderPath, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("template service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("template service returned status %d", resp.StatusCode)
	}

	var out renderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode render response: %w", err)
	}
	if !out.Success {
		if out.Error == "" {
			out.Error = "unsuccessful response"
		}
		return "", fmt.Errorf("template service: %s", out.Error)
	}
	if out.Data == nil || out.Data.Rendered == nil {
		return "", errors.New("template service: response missing data.rendered")
	}
	return *out.Data.Rendered, nil
}
