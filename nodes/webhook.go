package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"text/template"

	"github.com/petal-labs/signalflow/core"
)

var httpMethodTokenPattern = regexp.MustCompile(`^[!#$%&'*+.^_` + "`" + `|~0-9A-Za-z-]+$`)

// HTTPClient abstracts outbound HTTP execution.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// WebhookErrorPolicy controls http/webhook behavior on request failures.
type WebhookErrorPolicy string

const (
	// WebhookErrorPolicyFail fails the node and silences its branch.
	WebhookErrorPolicyFail WebhookErrorPolicy = "fail"

	// WebhookErrorPolicyContinue records the failure in the outputs and
	// continues.
	WebhookErrorPolicyContinue WebhookErrorPolicy = "continue"
)

// WebhookConfig is the normalized configuration of an http/webhook node.
type WebhookConfig struct {
	URL         string
	Method      string
	Headers     map[string]string
	Template    string
	ErrorPolicy WebhookErrorPolicy
}

// ParseWebhookConfig normalizes node properties.
func ParseWebhookConfig(m map[string]any) (WebhookConfig, error) {
	cfg := WebhookConfig{
		URL:         strings.TrimSpace(paramString(m, "url")),
		Method:      strings.ToUpper(strings.TrimSpace(paramString(m, "method"))),
		Headers:     paramStringMap(m, "headers"),
		Template:    paramString(m, "template"),
		ErrorPolicy: WebhookErrorPolicy(strings.TrimSpace(paramString(m, "errorPolicy"))),
	}
	if cfg.URL == "" {
		return WebhookConfig{}, fmt.Errorf("url is required")
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	if !httpMethodTokenPattern.MatchString(cfg.Method) {
		return WebhookConfig{}, fmt.Errorf("method %q is invalid", cfg.Method)
	}
	switch cfg.ErrorPolicy {
	case "":
		cfg.ErrorPolicy = WebhookErrorPolicyFail
	case WebhookErrorPolicyFail, WebhookErrorPolicyContinue:
	default:
		return WebhookConfig{}, fmt.Errorf("errorPolicy must be one of: fail, continue")
	}
	return cfg, nil
}

// WebhookDefinition returns the http/webhook definition using client for
// requests. Builtins uses http.DefaultClient.
func WebhookDefinition(client HTTPClient) core.Definition {
	if client == nil {
		client = http.DefaultClient
	}
	return core.Definition{
		Type:        TypeWebhook,
		Version:     Version,
		Archetype:   core.ArchetypeAction,
		Category:    "http",
		DisplayName: "Webhook",
		Description: "Sends its body input to an HTTP endpoint",
		Ports: []core.Port{
			core.ControlIn(core.PortIn),
			core.DataIn("body", "any", nil),
			core.ControlOut(core.PortOut),
			core.DataOut("status", "number"),
			core.DataOut("response", "string"),
			core.DataOut("ok", "boolean"),
		},
		Properties: []core.Property{
			{Name: "url", Label: "URL"},
			{Name: "method", Label: "Method", Default: http.MethodPost},
			{Name: "headers", Label: "Headers"},
			{Name: "timeout", Label: "Timeout"},
			{Name: "template", Label: "Body template"},
			{Name: "errorPolicy", Label: "On error", Default: string(WebhookErrorPolicyFail)},
		},
		Run: func(ctx context.Context, p core.RunParams) (core.NodeOutput, error) {
			cfg, err := ParseWebhookConfig(p.Params)
			if err != nil {
				return nil, err
			}
			return callWebhook(ctx, client, cfg, timeoutFunc(p.Params), p.Input["body"])
		},
	}
}

func webhookDefinition() core.Definition {
	return WebhookDefinition(nil)
}

func timeoutFunc(m map[string]any) func(context.Context) (context.Context, context.CancelFunc) {
	d := paramDuration(m, "timeout")
	return func(ctx context.Context) (context.Context, context.CancelFunc) {
		if d <= 0 {
			return ctx, func() {}
		}
		return context.WithTimeout(ctx, d)
	}
}

func callWebhook(
	ctx context.Context,
	client HTTPClient,
	cfg WebhookConfig,
	withTimeout func(context.Context) (context.Context, context.CancelFunc),
	payload any,
) (core.NodeOutput, error) {
	body, err := buildWebhookBody(cfg.Template, payload)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, cfg.Method, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return webhookFailure(cfg, 0, nil, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return webhookFailure(cfg, resp.StatusCode, nil, fmt.Errorf("read response body: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return webhookFailure(cfg, resp.StatusCode, respBody, fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}

	return core.NodeOutput{
		"status":   resp.StatusCode,
		"response": string(respBody),
		"ok":       true,
	}, nil
}

func buildWebhookBody(tmpl string, payload any) ([]byte, error) {
	if tmpl == "" {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		return body, nil
	}

	tpl, err := template.New("webhook").Funcs(template.FuncMap{
		"json": func(v any) string {
			data, err := json.Marshal(v)
			if err != nil {
				return fmt.Sprintf("error: %v", err)
			}
			return string(data)
		},
	}).Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, map[string]any{"body": payload}); err != nil {
		return nil, fmt.Errorf("execute template: %w", err)
	}
	return buf.Bytes(), nil
}

func webhookFailure(cfg WebhookConfig, status int, body []byte, err error) (core.NodeOutput, error) {
	if cfg.ErrorPolicy == WebhookErrorPolicyContinue {
		return core.NodeOutput{
			"status":   status,
			"response": string(body),
			"ok":       false,
			"error":    err.Error(),
		}, nil
	}
	return nil, fmt.Errorf("%s %s: %w", cfg.Method, cfg.URL, err)
}
