// Package upstream forwards requests to the third-party APIs behind the
// gateway. Callers' payloads are passed through untouched: the client adds
// credentials, throttles outbound traffic and retries transient failures, and
// returns the upstream status, headers and body as received.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

const (
	// defaultMaxResponseBytes caps buffered upstream bodies.
	defaultMaxResponseBytes = 20 << 20

	// maxRetryAfter is the longest Retry-After the client will wait out
	// itself; longer hints are handed back to the caller.
	maxRetryAfter = 10 * time.Second
)

// ErrResponseTooLarge is returned when an upstream body exceeds the client's
// buffer limit. The truncated body is never handed to the caller.
var ErrResponseTooLarge = errors.New("upstream response too large")

// Request is one outbound call. Path is joined onto the client's base URL.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Response is the buffered upstream answer.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
}

// statusError marks a retryable upstream status.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("upstream returned %d", e.code)
}

// Client calls one upstream API.
type Client struct {
	name       string
	baseURL    *url.URL
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	header     http.Header
	configured bool
	maxBody    int64
	newBackOff func() backoff.BackOff
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithHeader sets a header on every outbound request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		if value != "" {
			c.header.Set(key, value)
		}
	}
}

// WithRateLimit throttles outbound requests to rps with a burst of one
// second's worth of requests. Zero or negative rps disables throttling.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetries sets how many times a transient failure is retried.
func WithRetries(n int) Option {
	return func(c *Client) {
		if n < 0 {
			n = 0
		}
		c.maxRetries = n
	}
}

// WithBackOff overrides the retry schedule. Intended for tests.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(c *Client) {
		c.newBackOff = fn
	}
}

// WithMaxResponseBytes sets the largest upstream body the client buffers.
func WithMaxResponseBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// WithConfigured marks whether the client holds the credentials it needs.
func WithConfigured(ok bool) Option {
	return func(c *Client) {
		c.configured = ok
	}
}

// New creates a client for the API rooted at baseURL.
func New(name, baseURL string, timeout time.Duration, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse %s base URL: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%s base URL must be http or https: %q", name, baseURL)
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		name:       name,
		baseURL:    u,
		httpClient: &http.Client{Timeout: timeout},
		header:     make(http.Header),
		configured: true,
		maxBody:    defaultMaxResponseBytes,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Name() string {
	return c.name
}

// Configured reports whether the client holds its credentials.
func (c *Client) Configured() bool {
	return c.configured
}

// URL returns the absolute URL for path.
func (c *Client) URL(path string, query url.Values) string {
	u := *c.baseURL
	if path = strings.TrimLeft(path, "/"); path != "" {
		u.Path = u.Path + "/" + path
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// Do sends req, retrying transport errors and 429/502/503/504 responses.
// Only GET and HEAD are retried on those; POST is retried on 429 alone,
// since a 429 guarantees the upstream did not act on the request. When
// retries run out the last upstream response is returned without error.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	target := c.URL(req.Path, req.Query)

	var (
		last     *Response
		attempts int
	)

	operation := func() (*Response, error) {
		attempts++
		last = nil

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, backoff.Permanent(fmt.Errorf("%s throttle: %w", c.name, err))
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(req.Body))
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("build %s request: %w", c.name, err))
		}
		for k, vs := range c.header {
			httpReq.Header[k] = vs
		}
		for k, vs := range req.Header {
			httpReq.Header[k] = vs
		}
		if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
			httpReq.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			err = fmt.Errorf("%s %s: %w", method, c.name, err)
			if ctx.Err() != nil || !idempotent(method) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("read %s response: %w", c.name, err))
		}
		if int64(len(body)) > c.maxBody {
			return nil, backoff.Permanent(fmt.Errorf("%s response over %d bytes: %w", c.name, c.maxBody, ErrResponseTooLarge))
		}

		out := &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}
		if !retryable(method, resp.StatusCode) {
			return out, nil
		}

		last = out
		if wait, ok := retryAfter(resp.Header); ok {
			if wait > maxRetryAfter {
				return nil, backoff.Permanent(&statusError{code: resp.StatusCode})
			}
			return nil, backoff.RetryAfter(int(wait.Seconds()))
		}
		return nil, &statusError{code: resp.StatusCode}
	}

	notify := func(err error, next time.Duration) {
		slog.Debug("Retrying upstream request",
			"upstream", c.name,
			"method", method,
			"attempt", attempts,
			"next_in", next,
			"error", err,
		)
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(uint(c.maxRetries+1)),
		backoff.WithNotify(notify),
	)
	if err != nil {
		if last != nil && ctx.Err() == nil {
			last.Attempts = attempts
			return last, nil
		}
		return nil, err
	}

	resp.Attempts = attempts
	return resp, nil
}

func idempotent(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

func retryable(method string, status int) bool {
	switch status {
	case http.StatusTooManyRequests:
		return true
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return idempotent(method)
	}
	return false
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func retryAfter(h http.Header) (time.Duration, bool) {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
