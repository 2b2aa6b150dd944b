// Package httpapi is the shared JSON-over-HTTP client used by the media,
// transcription and language-model service clients. Response codes map onto
// the task error taxonomy: 408/429/5xx are retryable, other non-2xx fatal.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cadenza-io/cadenza/pkg/tasks"
)

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// PostJSON posts a JSON body and decodes the JSON response into out.
func (c *Client) PostJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return tasks.Fatal(fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return tasks.Fatal(fmt.Errorf("build request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return tasks.Retryable(fmt.Errorf("call %s: %w", path, err))
	}
	defer resp.Body.Close()

	if err := classifyStatus(path, resp.StatusCode); err != nil {
		return err
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return tasks.Retryable(fmt.Errorf("decode %s response: %w", path, err))
	}

	return nil
}

func classifyStatus(path string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status >= 500:
		return tasks.Retryablef("%s returned %d", path, status)
	default:
		return tasks.Fatalf("%s returned %d", path, status)
	}
}
