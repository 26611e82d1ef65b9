// Package notion is a read-only client for the Notion REST API covering
// database queries and block children, with cursor pagination and retries.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/starford/pagesync/internal/apperr"
	"github.com/starford/pagesync/internal/retry"
)

const (
	defaultBaseURL    = "https://api.notion.com"
	defaultAPIVersion = "2022-06-28"
	defaultPageSize   = 100
	defaultMaxDepth   = 8
)

// Options configures a Client. Zero values select defaults.
type Options struct {
	BaseURL    string
	Token      string
	APIVersion string
	HTTPClient *http.Client
	Timeout    time.Duration
	PageSize   int
	MaxDepth   int
	Retry      retry.Policy
	// Filters holds an optional query filter per database id.
	Filters map[string]map[string]any
	Logger  *slog.Logger
}

// Client talks to the Notion API.
type Client struct {
	baseURL    string
	token      string
	apiVersion string
	httpClient *http.Client
	pageSize   int
	maxDepth   int
	policy     retry.Policy
	filters    map[string]map[string]any
	logger     *slog.Logger
}

// NewClient returns a Client for opts.
func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = defaultPageSize
	}
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}
	policy := opts.Retry
	if policy == (retry.Policy{}) {
		policy = retry.DefaultPolicy()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(opts.Token),
		apiVersion: apiVersion,
		httpClient: httpClient,
		pageSize:   pageSize,
		maxDepth:   maxDepth,
		policy:     policy,
		filters:    opts.Filters,
		logger:     logger,
	}
}

// HTTPError is a non-2xx API response.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("notion api: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("notion api: status=%d message=%s", e.StatusCode, e.Message)
}

// IsFatalStatus reports whether a status means the source itself is
// unusable: bad credentials, no access, or no such database.
func IsFatalStatus(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden || code == http.StatusNotFound
}

// doJSON sends one request under the retry policy and decodes the
// response into out.
func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("notion: encode request: %w", err)
		}
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("notion: retrying request",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("wait", wait.String()),
			slog.String("error", err.Error()),
		)
	}
	return retry.Do(ctx, c.policy, func(ctx context.Context) error {
		return c.attempt(ctx, method, path, body, out)
	}, notify)
}

func (c *Client) attempt(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", c.apiVersion)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		// Transport failures (reset, timeout, DNS) are transient.
		return &apperr.TransientError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &apperr.TransientError{Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		httpErr := &HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var parsed struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &parsed) == nil {
			httpErr.Code = parsed.Code
			if strings.TrimSpace(parsed.Message) != "" {
				httpErr.Message = parsed.Message
			}
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return &apperr.TransientError{Err: httpErr, After: parseRetryAfter(resp.Header.Get("Retry-After"))}
		}
		return httpErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("notion: decode response: %w", err)
	}
	return nil
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
