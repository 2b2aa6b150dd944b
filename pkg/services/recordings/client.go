// Package recordings is the client for the recording source service: it
// resolves an opaque input reference into a stored recording and the set of
// participant tracks it contains.
package recordings

import (
	"context"

	"github.com/cadenza-io/cadenza/pkg/models"
	"github.com/cadenza-io/cadenza/pkg/services/httpapi"
)

type Recording struct {
	Key        string `json:"key"`
	DurationMs int64  `json:"duration_ms"`
	SampleRate int    `json:"sample_rate"`
	SizeBytes  int64  `json:"size_bytes"`
}

type Client struct {
	api *httpapi.Client
}

func NewClient(baseURL string) *Client {
	return &Client{api: httpapi.New(baseURL)}
}

func (c *Client) Fetch(ctx context.Context, inputRef string) (*Recording, error) {
	var out Recording

	err := c.api.PostJSON(ctx, "/v1/recordings/fetch", map[string]string{
		"input_reference": inputRef,
	}, &out)
	if err != nil {
		return nil, err
	}

	return &out, nil
}

func (c *Client) Participants(ctx context.Context, inputRef string) ([]models.Participant, error) {
	var out struct {
		Participants []models.Participant `json:"participants"`
	}

	err := c.api.PostJSON(ctx, "/v1/recordings/participants", map[string]string{
		"input_reference": inputRef,
	}, &out)
	if err != nil {
		return nil, err
	}

	return out.Participants, nil
}
