// Package api is the ClosetConnect REST client: login, cloth upload, the
// status and detail views used by the review, and confirm or reject.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	nethttp "net/http"
	"strings"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/closetconnect/closet-tracker/internal/config"
	"github.com/closetconnect/closet-tracker/internal/constants"
	"github.com/closetconnect/closet-tracker/internal/http"
	"github.com/closetconnect/closet-tracker/internal/logging"
)

// retryLogger adapts retryablehttp.LeveledLogger to zerolog.
type retryLogger struct {
	logger *logging.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	// Only log errors and warnings, not all info
}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}

// Client talks to the ClosetConnect backend.
type Client struct {
	// httpClient retries idempotent calls; uploadClient never retries so a
	// transient failure cannot register the same photo twice.
	httpClient   *nethttp.Client
	uploadClient *nethttp.Client
	baseURL      string
	token        string
	logger       *logging.Logger
}

// NewClient creates an API client for cfg.Server.APIURL. token may be empty
// for Login.
func NewClient(cfg *config.Config, token string, logger *logging.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Server.APIURL) == "" {
		return nil, ErrEmptyBaseURL
	}
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.With("api")

	// Configure HTTP client with proxy support
	baseClient, err := http.NewClient(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure HTTP client: %w", err)
	}

	// Wrap with retry logic
	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = baseClient
	retryClient.RetryMax = constants.MaxRetries
	retryClient.RetryWaitMin = constants.RetryInitialDelay
	retryClient.RetryWaitMax = constants.RetryMaxDelay
	retryClient.Backoff = http.JitterBackoff
	retryClient.Logger = &retryLogger{logger: logger}
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		httpClient:   retryClient.StandardClient(),
		uploadClient: baseClient,
		baseURL:      strings.TrimSuffix(cfg.Server.APIURL, "/"),
		token:        token,
		logger:       logger,
	}, nil
}

// Token returns the bearer token used by this client.
func (c *Client) Token() string {
	return c.token
}

// doRequest performs a JSON request with authentication.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (*nethttp.Response, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := nethttp.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("method", method).Str("path", path).Msg("API call failed")
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func (c *Client) authorize(req *nethttp.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// decode reads a JSON response into out after checking the status.
func decode(op string, resp *nethttp.Response, out interface{}, ok ...int) error {
	defer resp.Body.Close()

	if !statusIn(resp.StatusCode, ok) {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return newError(op, resp.StatusCode, body)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

func statusIn(code int, ok []int) bool {
	if len(ok) == 0 {
		return code == nethttp.StatusOK
	}
	for _, c := range ok {
		if code == c {
			return true
		}
	}
	return false
}
