// Package apiclient is a small JSON client for the EduFolio API.
//
// A Client carries its own default headers; the Authorization header is bound
// and unbound explicitly, so two clients never share credentials.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/edufolio/adminconsole/internal/telemetry/tracing"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultTimeout = 10 * time.Second
	// error bodies are only read for their message
	maxErrorBodyBytes = 64 * 1024
)

type Client struct {
	baseURL    string
	httpClient *http.Client

	mu            sync.RWMutex
	authorization string
	userAgent     string
}

// New returns a client for baseURL. Every request is bounded by timeout,
// a non-positive timeout means DefaultTimeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return NewWithHTTPClient(baseURL, &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   timeout,
	})
}

func NewWithHTTPClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		userAgent:  "edufolio-admin-console",
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Bind makes every following request carry "Authorization: Bearer <token>".
// A previously bound token is replaced.
func (c *Client) Bind(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authorization = "Bearer " + token
}

func (c *Client) Unbind() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authorization = ""
}

// Authorization returns the currently bound header value.
func (c *Client) Authorization() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authorization, c.authorization != ""
}

// Do sends body (if not nil) as JSON and decodes a 2xx response into out (if not nil).
// Failures are either *TransportError or *ResponseError.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	ctx, span := tracing.GlobalTracer.Start(ctx, "apiClient.do")
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("api.path", path),
	)

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authorization, ok := c.Authorization(); ok {
		req.Header.Set("Authorization", authorization)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, "transport-failure")
		span.RecordError(err)
		return &TransportError{Method: method, Path: path, Err: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		if err := resp.Body.Close(); err != nil {
			log.Warnf("api client, close response body [%s %s]: %s", method, path, err)
		}
	}()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		span.SetStatus(codes.Error, fmt.Sprintf("status %d", resp.StatusCode))
		return newResponseError(method, path, resp)
	}

	if out == nil {
		return nil
	}

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		// the server answered, but the body got lost on the way
		return &TransportError{Method: method, Path: path, Err: fmt.Errorf("read response body: %w", err)}
	}

	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], respBytes...)
		return nil
	}

	if err := json.Unmarshal(respBytes, out); err != nil {
		return &ResponseError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       respBytes,
			decodeErr:  err,
		}
	}

	return nil
}

func newResponseError(method, path string, resp *http.Response) *ResponseError {
	respErr := &ResponseError{
		Method:     method,
		Path:       path,
		StatusCode: resp.StatusCode,
	}

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil {
		log.Debugf("api client, read error body [%s %s]: %s", method, path, err)
		return respErr
	}
	respErr.Body = respBytes

	var errBody struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(respBytes, &errBody) == nil {
		respErr.Message = errBody.Message
	}

	return respErr
}
