// Package msgraph holds the Microsoft Graph and SharePoint adapters: stock
// directory lookups, lab calendar availability and booking, and outbound
// mail. All calls go through a shared retrying HTTP client authenticated
// with the OAuth2 client-credentials flow.
package msgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/schoolops/labflow/internal/logging"
)

const defaultBaseURL = "https://graph.microsoft.com/v1.0"

// Config holds the Graph connection settings.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string

	// BaseURL overrides the Graph endpoint, mainly for tests.
	BaseURL string

	// MaxAttempts bounds request attempts including the first. Zero means 3.
	MaxAttempts int

	// RetryBaseDelay is the first backoff delay. Zero means 500ms.
	RetryBaseDelay time.Duration
}

// Client is the shared HTTP door to Graph. Retries 429, 5xx and transport
// errors with exponential backoff and jitter.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	maxAttempts int
	baseDelay   time.Duration
	logger      zerolog.Logger

	// sleep is replaceable for tests.
	sleep func(context.Context, time.Duration) error
}

// NewClient builds a Graph client using client-credentials authentication.
func NewClient(config Config) *Client {
	creds := &clientcredentials.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", config.TenantID),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}
	return newClient(config, creds.Client(context.Background()))
}

// NewClientWithHTTP builds a Graph client over a caller-supplied HTTP
// client, bypassing authentication. Used by tests.
func NewClientWithHTTP(config Config, httpClient *http.Client) *Client {
	return newClient(config, httpClient)
}

func newClient(config Config, httpClient *http.Client) *Client {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	maxAttempts := config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	baseDelay := config.RetryBaseDelay
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	return &Client{
		httpClient:  httpClient,
		baseURL:     strings.TrimRight(baseURL, "/"),
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		logger:      logging.Component("msgraph"),
		sleep: func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		},
	}
}

// doJSON performs a Graph request, retrying transient failures, and decodes
// the response body into out when out is non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := c.backoff(attempt - 1)
			c.logger.Debug().
				Str("path", path).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("retrying graph request")
			if err := c.sleep(ctx, delay); err != nil {
				return err
			}
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%s %s: %w", method, path, err)
			continue
		}

		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()

		if retryableStatus(resp.StatusCode) {
			lastErr = fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, truncate(respBody, 256))
		}
		if readErr != nil {
			return fmt.Errorf("read response: %w", readErr)
		}
		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}
	return fmt.Errorf("graph request failed after %d attempts: %w", c.maxAttempts, lastErr)
}

func (c *Client) backoff(retry int) time.Duration {
	delay := c.baseDelay << (retry - 1)
	jitter := time.Duration(rand.Int63n(int64(c.baseDelay) / 2))
	return delay + jitter
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// escapeOData doubles single quotes for use inside an OData string literal.
func escapeOData(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
