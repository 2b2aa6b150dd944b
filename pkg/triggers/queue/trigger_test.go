package queue

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewQueueTrigger(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	tests := []struct {
		name        string
		config      map[string]interface{}
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid_config",
			config: map[string]interface{}{
				"queue": "cadenza_runs",
				"connection": map[string]interface{}{
					"addr":     "localhost:6379",
					"password": "",
					"db":       "0",
				},
			},
			expectError: false,
		},
		{
			name:        "missing_queue",
			config:      map[string]interface{}{},
			expectError: true,
			errorMsg:    "queue trigger queue name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trigger, err := NewTrigger(context.Background(), tt.config, logger)

			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
				assert.Nil(t, trigger)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, trigger)
				assert.Equal(t, tt.config["queue"], trigger.Queue)
				assert.Equal(t, "localhost:6379", trigger.Connection["addr"])
			}
		})
	}
}

func TestDecodeRunRequest(t *testing.T) {
	tests := []struct {
		name        string
		message     string
		expectError bool
		want        RunRequest
	}{
		{
			name:    "full_json_payload",
			message: `{"input_reference":"rec-42","provider":"flow","metadata":{"language_hint":"en"}}`,
			want: RunRequest{
				InputRef: "rec-42",
				Provider: "flow",
				Metadata: map[string]any{"language_hint": "en"},
			},
		},
		{
			name:    "bare_input_reference",
			message: "rec-7",
			want:    RunRequest{InputRef: "rec-7", Provider: "pool"},
		},
		{
			name:    "provider_defaults_to_pool",
			message: `{"input_reference":"rec-9"}`,
			want:    RunRequest{InputRef: "rec-9", Provider: "pool"},
		},
		{
			name:        "json_without_input_reference",
			message:     `{"provider":"flow"}`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := DecodeRunRequest([]byte(tt.message))

			if tt.expectError {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want.InputRef, req.InputRef)
			assert.Equal(t, tt.want.Provider, req.Provider)
			assert.Equal(t, tt.want.Metadata, req.Metadata)
		})
	}
}
