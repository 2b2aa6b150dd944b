// Package speech is the client for the transcription service.
package speech

import (
	"context"

	"github.com/cadenza-io/cadenza/pkg/services/httpapi"
)

type Segment struct {
	Speaker string  `json:"speaker,omitempty"`
	StartMs int64   `json:"start_ms"`
	EndMs   int64   `json:"end_ms"`
	Text    string  `json:"text"`
	Score   float64 `json:"score,omitempty"`
}

type Transcript struct {
	TrackID  string    `json:"track_id"`
	Language string    `json:"language,omitempty"`
	Segments []Segment `json:"segments"`
}

type Client struct {
	api *httpapi.Client
}

func NewClient(baseURL string) *Client {
	return &Client{api: httpapi.New(baseURL)}
}

// Transcribe runs speech recognition over one padded track. The language
// hint is optional; the service auto-detects when it is empty.
func (c *Client) Transcribe(ctx context.Context, paddedKey, trackID, language, speaker string) (*Transcript, error) {
	var out Transcript

	err := c.api.PostJSON(ctx, "/v1/transcribe", map[string]string{
		"padded_key": paddedKey,
		"track_id":   trackID,
		"language":   language,
		"speaker":    speaker,
	}, &out)
	if err != nil {
		return nil, err
	}

	return &out, nil
}
