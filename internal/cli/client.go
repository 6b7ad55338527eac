package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"stackctl/internal/api"
	"stackctl/pkg/logging"

	"github.com/hashicorp/go-retryablehttp"
)

// Client talks to the status API of a foreground deploy.
type Client struct {
	endpoint string
	timeout  time.Duration
	http     *retryablehttp.Client
}

// NewClient returns a client for endpoint, which may omit the scheme.
func NewClient(endpoint string) *Client {
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	hc := retryablehttp.NewClient()
	hc.RetryMax = 2
	hc.RetryWaitMin = 100 * time.Millisecond
	hc.RetryWaitMax = 500 * time.Millisecond
	hc.Logger = nil
	hc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	// Only connection failures are retried; a 503 from recheck is an answer.
	hc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return err != nil, nil
	}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		timeout:  30 * time.Second,
		http:     hc,
	}
}

// Status fetches the run and its services.
func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	var out api.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/v1/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Recheck asks the run to probe every service once. The returned status is
// populated even when some service failed its check.
func (c *Client) Recheck(ctx context.Context) (*api.StatusResponse, error) {
	var out api.StatusResponse
	err := c.do(ctx, http.MethodPost, "/v1/recheck", &out)
	return &out, err
}

func (c *Client) do(ctx context.Context, method, path string, data any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.endpoint+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("status API at %s is not reachable: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response from %s: %w", c.endpoint, err)
	}
	var envelope struct {
		Status  string          `json:"status"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("unexpected response from %s (HTTP %d): %w", c.endpoint, resp.StatusCode, err)
	}
	if len(envelope.Data) > 0 && data != nil {
		if err := json.Unmarshal(envelope.Data, data); err != nil {
			return fmt.Errorf("decoding %s: %w", path, err)
		}
	}
	if envelope.Status != "success" {
		logging.Debug("StatusClient", "%s %s failed with HTTP %d", method, path, resp.StatusCode)
		return fmt.Errorf("%s", envelope.Message)
	}
	return nil
}
