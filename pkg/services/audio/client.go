// Package audio is the client for the audio processing service that performs
// the opaque DSP work: track padding, mixdown and waveform rendering. The
// orchestrator only moves references; the service reads and writes the
// object store directly.
package audio

import (
	"context"

	"github.com/cadenza-io/cadenza/pkg/services/httpapi"
)

type Client struct {
	api *httpapi.Client
}

func NewClient(baseURL string) *Client {
	return &Client{api: httpapi.New(baseURL)}
}

type PadResult struct {
	PaddedKey  string `json:"padded_key"`
	DurationMs int64  `json:"duration_ms"`
}

// Pad aligns one participant track against the recording timeline.
func (c *Client) Pad(ctx context.Context, recordingKey, trackRef, outputKey string) (*PadResult, error) {
	var out PadResult

	err := c.api.PostJSON(ctx, "/v1/audio/pad", map[string]string{
		"recording_key":   recordingKey,
		"track_reference": trackRef,
		"output_key":      outputKey,
	}, &out)
	if err != nil {
		return nil, err
	}

	return &out, nil
}

type MixdownResult struct {
	MixKey     string `json:"mix_key"`
	DurationMs int64  `json:"duration_ms"`
}

// Mixdown combines the padded tracks into the final mix.
func (c *Client) Mixdown(ctx context.Context, paddedKeys []string, outputKey string) (*MixdownResult, error) {
	var out MixdownResult

	err := c.api.PostJSON(ctx, "/v1/audio/mixdown", map[string]any{
		"padded_keys": paddedKeys,
		"output_key":  outputKey,
	}, &out)
	if err != nil {
		return nil, err
	}

	return &out, nil
}

type WaveformResult struct {
	WaveformKey string `json:"waveform_key"`
	Peaks       int    `json:"peaks"`
}

// Waveform renders peak data for the player UI.
func (c *Client) Waveform(ctx context.Context, mixKey, outputKey string) (*WaveformResult, error) {
	var out WaveformResult

	err := c.api.PostJSON(ctx, "/v1/audio/waveform", map[string]string{
		"mix_key":    mixKey,
		"output_key": outputKey,
	}, &out)
	if err != nil {
		return nil, err
	}

	return &out, nil
}
