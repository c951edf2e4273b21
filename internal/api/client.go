// Package api is the HTTP client for the Pocket v3 API.
//
// Only the two calls the replica needs are implemented: /v3/get to fetch
// items changed since a cursor and /v3/send to submit tag mutations. Both
// are form-encoded POSTs authenticated by a consumer key and a user access
// token. The client never retries; callers decide what to do with failures.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mschirtzinger/pocketsync/internal/pocket"
)

// DefaultBaseURL is the public Pocket endpoint.
const DefaultBaseURL = "https://getpocket.com"

const (
	getPath  = "/v3/get"
	sendPath = "/v3/send"

	userAgent = "pocketsync"

	// maxBodySize caps how much of a response is read.
	maxBodySize = 64 << 20
)

// Config configures a Client.
type Config struct {
	// BaseURL is the API root (default DefaultBaseURL).
	BaseURL string
	// ConsumerKey identifies the application.
	ConsumerKey string
	// Timeout bounds every request (default 30s).
	Timeout time.Duration
	// HTTPClient overrides the transport. Timeout is ignored when set.
	HTTPClient *http.Client
	// Logger for request tracing (default stderr with [api] prefix).
	Logger *log.Logger
}

// Client talks to the Pocket API.
type Client struct {
	baseURL     string
	consumerKey string
	httpClient  *http.Client
	logger      *log.Logger
}

// New creates a Client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[api] ", log.LstdFlags)
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		consumerKey: cfg.ConsumerKey,
		httpClient:  cfg.HTTPClient,
		logger:      cfg.Logger,
	}
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// post sends a form-encoded request and returns the body and headers of a
// 2xx response. Anything else becomes a *pocket.NetworkError.
func (c *Client) post(ctx context.Context, op, path, token string, form url.Values) ([]byte, http.Header, error) {
	if token == "" {
		return nil, nil, pocket.ErrNotAuthenticated
	}
	form.Set("consumer_key", c.consumerKey)
	form.Set("access_token", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, nil, &pocket.NetworkError{Op: op, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("X-Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, &pocket.NetworkError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, nil, &pocket.NetworkError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}
	c.logger.Printf("%s %s -> %d (%d bytes, %v)", op, path, resp.StatusCode, len(body), time.Since(start).Round(time.Millisecond))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		nerr := &pocket.NetworkError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Reason:     resp.Header.Get("X-Error"),
			Code:       resp.Header.Get("X-Error-Code"),
		}
		if resp.StatusCode == http.StatusUnauthorized {
			nerr.Err = pocket.ErrNotAuthenticated
		}
		return nil, nil, nerr
	}
	return body, resp.Header, nil
}

// decode unmarshals a response body, wrapping failures as network errors
// since a malformed body is a remote fault.
func decode(op string, body []byte, v interface{}) error {
	if err := json.Unmarshal(body, v); err != nil {
		return &pocket.NetworkError{Op: op, Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	return nil
}
