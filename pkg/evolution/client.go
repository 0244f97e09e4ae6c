package evolution

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Client issues requests against the active connection's gateway: it
// resolves the connection profile, applies rate-limit admission, substitutes
// the {instance} placeholder, retries transient failures and translates
// responses into Results and typed errors.
//
// Connection, Instance, WithHeaders and WithoutThrowing mutate the client
// and return it for chaining. That state persists across calls, so a Client
// must not be shared by concurrent workflows targeting different tenants;
// give each workflow its own Client (they are cheap, sharing registry and
// limiter).
type Client struct {
	registry *ConnectionRegistry
	limiter  *RateLimiter
	logCfg   LogConfig
	logger   Logger

	mu          sync.Mutex
	httpClients map[string]*http.Client

	connection string
	instance   string
	headers    map[string]string
	throwing   bool
}

// UploadFile is one multipart file part.
type UploadFile struct {
	FileName string
	Content  io.Reader
}

func NewClient(registry *ConnectionRegistry, limiter *RateLimiter, logCfg LogConfig, logger Logger) *Client {
	if logger == nil {
		logger = NopLogger{}
	}
	return &Client{
		registry:    registry,
		limiter:     limiter,
		logCfg:      logCfg,
		logger:      logger,
		httpClients: make(map[string]*http.Client),
		throwing:    true,
	}
}

// New wires registry, limiter and client from one Config. Most hosts want
// this; NewClient exists for explicit wiring.
func New(cfg Config, logger Logger) *Client {
	registry := NewConnectionRegistry(cfg)
	limiter := NewRateLimiter(cfg.RateLimit, nil, logger)
	return NewClient(registry, limiter, cfg.Log, logger)
}

// Registry exposes the underlying connection registry.
func (c *Client) Registry() *ConnectionRegistry {
	return c.registry
}

// RateLimiter exposes the underlying rate limiter.
func (c *Client) RateLimiter() *RateLimiter {
	return c.limiter
}

// Connection selects the connection profile for subsequent calls. Empty
// reverts to the registry's active connection.
func (c *Client) Connection(name string) *Client {
	c.connection = name
	return c
}

// Instance selects the tenant instance substituted into {instance}
// placeholders for subsequent calls.
func (c *Client) Instance(name string) *Client {
	c.instance = name
	return c
}

// CurrentInstance returns the instance set via Instance.
func (c *Client) CurrentInstance() string {
	return c.instance
}

// WithHeaders sets one-shot headers for the next call only; they are
// cleared after it, whatever its outcome.
func (c *Client) WithHeaders(headers map[string]string) *Client {
	c.headers = headers
	return c
}

// WithoutThrowing switches the client to result-inspection mode: failure
// responses come back as a Result with Success=false instead of a typed
// error. Network-level failures still return an error, there being no
// response to inspect.
func (c *Client) WithoutThrowing() *Client {
	c.throwing = false
	return c
}

// Throwing restores the default error-translating mode.
func (c *Client) Throwing() *Client {
	c.throwing = true
	return c
}

func (c *Client) Get(ctx context.Context, endpoint string, query map[string]any) (*Result, error) {
	return c.Execute(ctx, http.MethodGet, endpoint, query)
}

func (c *Client) Post(ctx context.Context, endpoint string, body map[string]any) (*Result, error) {
	return c.Execute(ctx, http.MethodPost, endpoint, body)
}

func (c *Client) Put(ctx context.Context, endpoint string, body map[string]any) (*Result, error) {
	return c.Execute(ctx, http.MethodPut, endpoint, body)
}

func (c *Client) Delete(ctx context.Context, endpoint string, body map[string]any) (*Result, error) {
	return c.Execute(ctx, http.MethodDelete, endpoint, body)
}

// Execute performs one gateway call. For GET the payload becomes query
// parameters, otherwise a JSON body.
func (c *Client) Execute(ctx context.Context, method, endpoint string, payload map[string]any) (*Result, error) {
	oneShot := c.headers
	c.headers = nil

	conn, endpoint, category, err := c.prepare(endpoint)
	if err != nil {
		return nil, err
	}
	if err := c.admit(ctx, conn, category); err != nil {
		return c.failAdmission(category, err)
	}

	requestURL := conn.ServerURL + "/" + strings.TrimLeft(endpoint, "/")
	var body []byte
	if method == http.MethodGet {
		requestURL = appendQuery(requestURL, payload)
	} else if payload != nil {
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, newConfigurationError("request body is not encodable: %v", err)
		}
	}

	headers := c.baseHeaders(conn, "application/json", oneShot)

	c.logRequest(method, requestURL, conn, category, payload)
	result, err := c.dispatch(ctx, conn, method, requestURL, headers, body)
	if err != nil {
		return nil, err
	}
	c.logResponse(method, requestURL, result)
	return c.finish(result, category)
}

// Upload performs a multipart POST with the given form fields and files.
func (c *Client) Upload(ctx context.Context, endpoint string, fields map[string]string, files map[string]UploadFile) (*Result, error) {
	oneShot := c.headers
	c.headers = nil

	conn, endpoint, category, err := c.prepare(endpoint)
	if err != nil {
		return nil, err
	}
	if err := c.admit(ctx, conn, category); err != nil {
		return c.failAdmission(category, err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, newConnectionError("failed building multipart body", err)
		}
	}
	for name, file := range files {
		part, err := writer.CreateFormFile(name, file.FileName)
		if err != nil {
			return nil, newConnectionError("failed building multipart body", err)
		}
		if _, err := io.Copy(part, file.Content); err != nil {
			return nil, newConnectionError("failed reading multipart file "+file.FileName, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, newConnectionError("failed building multipart body", err)
	}

	headers := c.baseHeaders(conn, writer.FormDataContentType(), oneShot)
	// the boundary in the header must match the body, so not even a
	// one-shot Content-Type may replace it here
	headers["Content-Type"] = writer.FormDataContentType()

	requestURL := conn.ServerURL + "/" + strings.TrimLeft(endpoint, "/")
	c.logRequest(http.MethodPost, requestURL, conn, category, nil)
	result, err := c.dispatch(ctx, conn, http.MethodPost, requestURL, headers, buf.Bytes())
	if err != nil {
		return nil, err
	}
	c.logResponse(http.MethodPost, requestURL, result)
	return c.finish(result, category)
}

// prepare resolves the connection and substitutes the {instance}
// placeholder, and picks the rate-limit category for the endpoint.
func (c *Client) prepare(endpoint string) (*Connection, string, string, error) {
	name := c.connection
	if name == "" {
		name = c.registry.Active()
	}
	conn, err := c.registry.Resolve(name)
	if err != nil {
		return nil, "", "", err
	}

	category := categoryForEndpoint(endpoint)

	if strings.Contains(endpoint, "{instance}") {
		if c.instance == "" {
			return nil, "", "", &Error{
				Kind:    KindInstanceNotFound,
				Message: "endpoint " + endpoint + " requires an instance, none selected",
			}
		}
		endpoint = strings.ReplaceAll(endpoint, "{instance}", url.PathEscape(c.instance))
	}
	return conn, endpoint, category, nil
}

func (c *Client) admit(ctx context.Context, conn *Connection, category string) error {
	key := conn.Name
	if c.instance != "" {
		key += ":" + c.instance
	}
	ok, err := c.limiter.Attempt(ctx, key, category)
	if err != nil {
		return err
	}
	if !ok {
		return newRateLimitError(category, c.limiter.availableInSeconds(ctx, key, category))
	}
	return nil
}

// failAdmission translates a local rate-limit rejection for the configured
// mode: throwing surfaces the typed error, non-throwing a 429-shaped Result.
func (c *Client) failAdmission(category string, err error) (*Result, error) {
	ee := AsError(err)
	if c.throwing || ee == nil || ee.Kind != KindRateLimitExceeded {
		return nil, err
	}
	return &Result{
		Success:    false,
		StatusCode: http.StatusTooManyRequests,
		Data:       map[string]any{"error": ee.Message},
		Message:    ee.Message,
		Headers:    http.Header{},
	}, nil
}

// baseHeaders merges one-shot headers over the defaults, so a caller can
// override Content-Type for endpoints with unusual payloads.
func (c *Client) baseHeaders(conn *Connection, contentType string, oneShot map[string]string) map[string]string {
	headers := map[string]string{
		"apikey":       conn.APIKey,
		"Accept":       "application/json",
		"Content-Type": contentType,
	}
	for k, v := range oneShot {
		headers[k] = v
	}
	return headers
}

// dispatch runs the retry loop. Attempts beyond the first happen only for
// transport errors and the connection's retryable status codes.
func (c *Client) dispatch(ctx context.Context, conn *Connection, method, requestURL string, headers map[string]string, body []byte) (*Result, error) {
	maxAttempts := 1
	if conn.Retry.Enabled {
		maxAttempts = conn.Retry.MaxAttempts
	}

	httpClient := c.httpClientFor(conn)
	start := time.Now()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, requestURL, bytes.NewReader(body))
		if err != nil {
			return nil, newConnectionError("failed building request", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			lastErr = err
			if attempt < maxAttempts {
				if err := sleepBackoff(ctx, conn.Retry.BaseDelay, attempt); err != nil {
					return nil, newConnectionError("request cancelled during retry backoff", err)
				}
				continue
			}
			break
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			if attempt < maxAttempts {
				if err := sleepBackoff(ctx, conn.Retry.BaseDelay, attempt); err != nil {
					return nil, newConnectionError("request cancelled during retry backoff", err)
				}
				continue
			}
			break
		}

		if attempt < maxAttempts && statusRetryable(resp.StatusCode, conn.Retry.RetryableStatusCodes) {
			lastErr = fmt.Errorf("gateway answered %d", resp.StatusCode)
			if err := sleepBackoff(ctx, conn.Retry.BaseDelay, attempt); err != nil {
				return nil, newConnectionError("request cancelled during retry backoff", err)
			}
			continue
		}

		return buildResult(resp.StatusCode, resp.Header, respBody, time.Since(start)), nil
	}

	return nil, newConnectionError("no response from gateway "+conn.ServerURL, lastErr)
}

// finish applies the throwing-mode status translation.
func (c *Client) finish(result *Result, category string) (*Result, error) {
	if result.Success || !c.throwing {
		return result, nil
	}

	switch result.StatusCode {
	case http.StatusUnauthorized:
		return result, &Error{
			Kind:       KindAuthentication,
			Message:    "gateway rejected the api key",
			StatusCode: result.StatusCode,
			Body:       result.Data,
		}
	case http.StatusNotFound:
		return result, &Error{
			Kind:       KindInstanceNotFound,
			Message:    "instance or resource not found",
			StatusCode: result.StatusCode,
			Body:       result.Data,
		}
	case http.StatusTooManyRequests:
		err := newRateLimitError(category, retryAfterSeconds(result.Headers))
		err.Body = result.Data
		return result, err
	default:
		message := result.Message
		if message == "" {
			message = "gateway request failed"
		}
		return result, &Error{
			Kind:       KindAPI,
			Message:    message,
			StatusCode: result.StatusCode,
			Body:       result.Data,
		}
	}
}

func (c *Client) httpClientFor(conn *Connection) *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.httpClients[conn.Name]; ok {
		return client
	}
	client := &http.Client{
		Timeout: conn.HTTP.Timeout,
		Transport: &http.Transport{
			DialContext:     (&net.Dialer{Timeout: conn.HTTP.ConnectTimeout}).DialContext,
			TLSClientConfig: &tls.Config{InsecureSkipVerify: conn.HTTP.InsecureSkipVerify},
		},
	}
	c.httpClients[conn.Name] = client
	return client
}

func (c *Client) logRequest(method, requestURL string, conn *Connection, category string, payload map[string]any) {
	if !c.logCfg.Enabled || !c.logCfg.LogRequests {
		return
	}
	fields := map[string]any{
		"method":     method,
		"url":        requestURL,
		"connection": conn.Name,
		"category":   category,
	}
	if c.instance != "" {
		fields["instance"] = c.instance
	}
	if payload != nil {
		fields["body"] = c.redact(payload)
	}
	c.logger.Info("gateway request", fields)
}

func (c *Client) logResponse(method, requestURL string, result *Result) {
	if !c.logCfg.Enabled || !c.logCfg.LogResponses {
		return
	}
	c.logger.Info("gateway response", map[string]any{
		"method":      method,
		"url":         requestURL,
		"status":      result.StatusCode,
		"success":     result.Success,
		"duration_ms": result.Duration.Milliseconds(),
		"body":        c.redact(result.Data),
	})
}

// redact deep-copies a payload replacing configured sensitive fields, at any
// nesting depth, with a placeholder.
func (c *Client) redact(data map[string]any) map[string]any {
	if !c.logCfg.RedactSensitive || data == nil {
		return data
	}
	return redactMap(data, c.logCfg.SensitiveFields)
}

func redactMap(data map[string]any, sensitive []string) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if isSensitive(k, sensitive) {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = redactValue(v, sensitive)
	}
	return out
}

func redactValue(v any, sensitive []string) any {
	switch typed := v.(type) {
	case map[string]any:
		return redactMap(typed, sensitive)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = redactValue(item, sensitive)
		}
		return out
	default:
		return v
	}
}

func isSensitive(key string, sensitive []string) bool {
	for _, s := range sensitive {
		if strings.EqualFold(key, s) {
			return true
		}
	}
	return false
}

// categoryForEndpoint maps an endpoint path onto a rate-limit category:
// media-ish paths first so sendMedia lands in the tighter bucket.
func categoryForEndpoint(endpoint string) string {
	lowered := strings.ToLower(endpoint)
	if strings.Contains(lowered, "media") || strings.Contains(lowered, "upload") {
		return CategoryMedia
	}
	if strings.Contains(lowered, "send") || strings.Contains(lowered, "message") {
		return CategoryMessages
	}
	return CategoryDefault
}

func appendQuery(requestURL string, query map[string]any) string {
	if len(query) == 0 {
		return requestURL
	}
	values := url.Values{}
	for k, v := range query {
		values.Set(k, fmt.Sprintf("%v", v))
	}
	separator := "?"
	if strings.Contains(requestURL, "?") {
		separator = "&"
	}
	return requestURL + separator + values.Encode()
}

func statusRetryable(status int, retryable []int) bool {
	for _, code := range retryable {
		if status == code {
			return true
		}
	}
	return false
}

func sleepBackoff(ctx context.Context, baseDelay time.Duration, attempt int) error {
	timer := time.NewTimer(baseDelay * time.Duration(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func retryAfterSeconds(headers http.Header) int {
	if headers != nil {
		if v := headers.Get("Retry-After"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				return n
			}
		}
	}
	return 60
}
