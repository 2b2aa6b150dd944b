// Package llm is the client for the language-model service that derives
// topics, titles and summaries from a merged transcript.
package llm

import (
	"context"

	"github.com/cadenza-io/cadenza/pkg/services/httpapi"
)

type Topic struct {
	Label   string `json:"label"`
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
}

type Client struct {
	api *httpapi.Client
}

func NewClient(baseURL string) *Client {
	return &Client{api: httpapi.New(baseURL)}
}

func (c *Client) Topics(ctx context.Context, transcript map[string]any) ([]Topic, error) {
	var out struct {
		Topics []Topic `json:"topics"`
	}

	if err := c.api.PostJSON(ctx, "/v1/topics", transcript, &out); err != nil {
		return nil, err
	}

	return out.Topics, nil
}

func (c *Client) Title(ctx context.Context, transcript map[string]any, topics []Topic) (string, error) {
	var out struct {
		Title string `json:"title"`
	}

	err := c.api.PostJSON(ctx, "/v1/title", map[string]any{
		"transcript": transcript,
		"topics":     topics,
	}, &out)
	if err != nil {
		return "", err
	}

	return out.Title, nil
}

func (c *Client) Summary(ctx context.Context, transcript map[string]any) (string, error) {
	var out struct {
		Summary string `json:"summary"`
	}

	err := c.api.PostJSON(ctx, "/v1/summary", map[string]any{
		"transcript": transcript,
	}, &out)
	if err != nil {
		return "", err
	}

	return out.Summary, nil
}
