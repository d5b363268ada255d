package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/weftlabs/weft/common/nodes/security"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTP executes outbound requests for http nodes. Every target URL
// passes the security guard before the client dials.
type HTTP struct {
	client *http.Client
	guard  *security.Guard
}

type HTTPOpts struct {
	Timeout    time.Duration
	AllowLocal bool
	Transport  http.RoundTripper
}

func NewHTTP(opts HTTPOpts) *HTTP {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &HTTP{
		client: &http.Client{Timeout: timeout, Transport: opts.Transport},
		guard:  security.NewGuard(security.Opts{AllowLocal: opts.AllowLocal}),
	}
}

func (h *HTTP) Kind() string { return "http" }

func (h *HTTP) Execute(ctx context.Context, req Request) Response {
	rawURL, ok := req.Config["url"].(string)
	if !ok || rawURL == "" {
		return Fail(ErrorTypeValidation, "http node requires a url", false)
	}
	if err := h.guard.CheckURL(rawURL); err != nil {
		return Fail(ErrorTypePermission, fmt.Sprintf("url rejected: %v", err), false)
	}

	method, _ := req.Config["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	body, err := requestBody(req.Config)
	if err != nil {
		return Fail(ErrorTypeValidation, err.Error(), false)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(body))
	if err != nil {
		return Fail(ErrorTypeValidation, fmt.Sprintf("failed to build request: %v", err), false)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", "weft-engine/1.0")
	if headers, ok := req.Config["headers"].(map[string]interface{}); ok {
		for key, value := range headers {
			httpReq.Header.Set(key, fmt.Sprintf("%v", value))
		}
	}

	start := time.Now()
	resp, err := h.client.Do(httpReq)
	elapsed := time.Since(start)
	if err != nil {
		return FailErr(Classify(err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return FailErr(Classify(err))
	}

	var parsed interface{}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		parsed = string(respBody)
	}

	metrics := &Metrics{DurationMs: elapsed.Milliseconds()}

	if resp.StatusCode >= 400 {
		errType, retryable := ClassifyStatus(resp.StatusCode)
		nodeErr := &NodeError{
			Type:      errType,
			Message:   fmt.Sprintf("%s %s returned %d", method, rawURL, resp.StatusCode),
			Retryable: retryable,
		}
		if errType == ErrorTypeRateLimit {
			nodeErr.RetryAfterMs = retryAfterMs(resp.Header.Get("Retry-After"))
		}
		return Response{Success: false, Error: nodeErr, Metrics: metrics}
	}

	headers := make(map[string]interface{}, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	return Succeed(map[string]interface{}{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        parsed,
		"duration_ms": elapsed.Milliseconds(),
		"url":         rawURL,
		"method":      method,
	}, metrics)
}

// requestBody accepts a string payload as-is and marshals anything
// else to JSON.
func requestBody(config map[string]interface{}) ([]byte, error) {
	raw, ok := config["body"]
	if !ok {
		raw, ok = config["payload"]
	}
	if !ok || raw == nil {
		return nil, nil
	}
	if s, ok := raw.(string); ok {
		return []byte(s), nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %v", err)
	}
	return data, nil
}

// retryAfterMs parses the delay-seconds form of Retry-After. The HTTP
// date form is rare on rate limits and is ignored. Nil means no hint.
func retryAfterMs(header string) *int64 {
	if header == "" {
		return nil
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return nil
	}
	ms := int64(secs) * 1000
	return &ms
}
