package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// maxResponseBytes bounds how much of a tool response is kept.
	maxResponseBytes = 64 << 10

	defaultRequestTimeout = 30 * time.Second
)

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodDelete: true,
	http.MethodPatch:  true,
}

// RequestTool is a caller-defined HTTP capability. URL, headers and body are
// templates; "{key}" placeholders are substituted from the model's
// arguments. Arguments no template consumes are merged into the query string
// (GET, DELETE) or sent as a JSON body (POST, PUT, PATCH without a body
// template).
type RequestTool struct {
	ToolName        string            `json:"name"`
	ToolDescription string            `json:"description,omitempty"`
	Method          string            `json:"method"`
	URL             string            `json:"url"`
	Headers         map[string]string `json:"headers,omitempty"`
	Body            string            `json:"body,omitempty"`
	TimeoutMS       int               `json:"timeout_ms,omitempty"`
	ParameterSchema map[string]any    `json:"parameter_schema,omitempty"`
}

func (t *RequestTool) Name() string {
	return t.ToolName
}

func (t *RequestTool) Validate() error {
	if t.ToolName == "" {
		return fmt.Errorf("request tool name must not be empty")
	}
	if !allowedMethods[strings.ToUpper(t.Method)] {
		return fmt.Errorf("request tool %q has unsupported method %q", t.ToolName, t.Method)
	}
	if t.URL == "" {
		return fmt.Errorf("request tool %q has no URL", t.ToolName)
	}
	return nil
}

func (t *RequestTool) Descriptor() Descriptor {
	parameters := t.ParameterSchema
	if parameters == nil {
		parameters = map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}
	}
	return Descriptor{
		Name:        t.ToolName,
		Description: t.ToolDescription,
		Parameters:  parameters,
	}
}

func (t *RequestTool) timeout() time.Duration {
	if t.TimeoutMS > 0 {
		return time.Duration(t.TimeoutMS) * time.Millisecond
	}
	return defaultRequestTimeout
}

// Execute performs the HTTP request. A non-2xx status or transport failure
// returns the body (if any) together with an error; the caller records the
// error without aborting the turn.
func (t *RequestTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	used := map[string]bool{}
	renderedURL := renderTemplate(t.URL, args, used, true)
	body := renderTemplate(t.Body, args, used, false)

	headers := make(map[string]string, len(t.Headers))
	for k, v := range t.Headers {
		headers[k] = renderTemplate(v, args, used, false)
	}

	method := strings.ToUpper(t.Method)
	leftover := leftoverArgs(args, used)

	if len(leftover) > 0 {
		switch method {
		case http.MethodGet, http.MethodDelete:
			renderedURL = mergeQueryParams(renderedURL, leftover)
		default:
			if body == "" {
				body = encodeJSONObject(leftover)
				if _, ok := headers["Content-Type"]; !ok {
					headers["Content-Type"] = "application/json"
				}
			}
		}
	}

	var reqBody io.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, renderedURL, reqBody)
	if err != nil {
		return "", fmt.Errorf("invalid request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: t.timeout()}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	content := string(raw)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return content, fmt.Errorf("status %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return content, nil
}

// renderTemplate substitutes "{key}" placeholders with argument values and
// records which keys were consumed.
func renderTemplate(template string, args map[string]any, used map[string]bool, escape bool) string {
	if template == "" || len(args) == 0 {
		return template
	}

	out := template
	for key, value := range args {
		placeholder := "{" + key + "}"
		if !strings.Contains(out, placeholder) {
			continue
		}
		rendered := stringify(value)
		if escape {
			rendered = url.QueryEscape(rendered)
		}
		out = strings.ReplaceAll(out, placeholder, rendered)
		used[key] = true
	}
	return out
}

func leftoverArgs(args map[string]any, used map[string]bool) map[string]any {
	leftover := map[string]any{}
	for k, v := range args {
		if !used[k] {
			leftover[k] = v
		}
	}
	return leftover
}

// mergeQueryParams appends the leftover arguments to the URL's query
// string. Arguments override template-supplied parameters of the same name.
func mergeQueryParams(rawURL string, params map[string]any) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	query := parsed.Query()
	for k, v := range params {
		query.Set(k, stringify(v))
	}
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

func encodeJSONObject(params map[string]any) string {
	data, err := json.Marshal(params)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%v", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
