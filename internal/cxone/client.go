package cxone

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/cx1export/internal/pagination"
	"github.com/ppiankov/cx1export/internal/retry"
)

const (
	// DefaultRequestTimeout bounds a single HTTP request.
	DefaultRequestTimeout = 30 * time.Second
	maxErrorBody          = 1024
	// TokenEnv is the variable replay commands reference instead of the token.
	TokenEnv = "CX1EXPORT_TOKEN"
)

// Client fetches pages from the Checkmarx One REST API.
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
	policy     retry.Policy
	logger     *slog.Logger
}

// NewClient creates an API client for baseURL authenticating with token.
func NewClient(baseURL, token string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid API URL %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid API URL %q: scheme and host are required", baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	c := &Client{
		baseURL:    u,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
	}
	c.SetRetryPolicy(retry.Default())
	return c, nil
}

// SetHTTPClient replaces the HTTP client, keeping its own timeout.
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

// SetRetryPolicy sets the policy applied to every page request. Only
// transient failures are retried regardless of the policy's own filter.
func (c *Client) SetRetryPolicy(p retry.Policy) {
	p.Retryable = isRetryableError
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		c.logger.Warn("Retrying request",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))
	}
	c.policy = p
}

// SetLogger sets the logger.
func (c *Client) SetLogger(logger *slog.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// BaseURL returns the API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// FetchPage GETs rawURL and decodes it into a page. Relative URLs are
// resolved against the base URL. Transient failures are retried.
func (c *Client) FetchPage(ctx context.Context, rawURL string) (pagination.Page, error) {
	target, err := c.resolve(rawURL)
	if err != nil {
		return pagination.Page{}, err
	}

	var page pagination.Page
	err = c.policy.Do(ctx, func() error {
		p, err := c.get(ctx, target)
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	if err != nil {
		return pagination.Page{}, err
	}

	for i := range page.Links {
		if resolved, err := c.resolve(page.Links[i].URL); err == nil {
			page.Links[i].URL = resolved
		}
	}
	if page.Next != "" {
		if resolved, err := c.resolve(page.Next); err == nil {
			page.Next = resolved
		}
	}
	return page, nil
}

func (c *Client) get(ctx context.Context, target string) (pagination.Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return pagination.Page{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pagination.Page{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug("API response",
		slog.String("url", target),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)))

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return pagination.Page{}, &HTTPError{
			StatusCode: resp.StatusCode,
			URL:        target,
			Body:       strings.TrimSpace(string(body)),
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	page, err := decodePage(resp.Body)
	if err != nil {
		return pagination.Page{}, fmt.Errorf("decoding %s: %w", target, err)
	}
	return page, nil
}

func (c *Client) resolve(rawURL string) (string, error) {
	ref, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid page URL %q: %w", rawURL, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	if strings.HasPrefix(ref.Path, "/") {
		return c.baseURL.ResolveReference(ref).String(), nil
	}
	base := *c.baseURL
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	return base.ResolveReference(&url.URL{Path: strings.TrimPrefix(ref.Path, "/"), RawQuery: ref.RawQuery}).String(), nil
}

// Curl renders a replayable curl command for a GET of rawURL. The token is
// referenced through TokenEnv rather than embedded.
func (c *Client) Curl(rawURL string) string {
	target, err := c.resolve(rawURL)
	if err != nil {
		target = rawURL
	}
	return fmt.Sprintf("curl -X GET '%s' -H 'Accept: application/json' -H \"Authorization: Bearer $%s\"", target, TokenEnv)
}

// HTTPError is a non-200 API response.
type HTTPError struct {
	StatusCode int
	URL        string
	Body       string
	retryAfter time.Duration
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("GET %s: status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// RetryAfter returns the server-requested wait, if any.
func (e *HTTPError) RetryAfter() time.Duration {
	return e.retryAfter
}

// isRetryableError reports whether a request failure is transient.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
