// Package queue provides a redis-backed trigger that starts runs from
// messages pushed onto a list.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/cadenza-io/cadenza/pkg/models"
)

// RunRequest is the payload expected on the queue. Plain (non-JSON)
// messages are treated as a bare input reference.
type RunRequest struct {
	InputRef string         `json:"input_reference"`
	Provider string         `json:"provider,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Callback receives each decoded run request. It is invoked on its own
// goroutine so a slow submission never stalls the consumer loop.
type Callback func(ctx context.Context, req RunRequest) error

type Trigger struct {
	Connection map[string]string
	Queue      string
	Enabled    bool

	client   redis.UniversalClient
	callback Callback
	logger   *slog.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewTrigger(ctx context.Context, config map[string]any, logger *slog.Logger) (*Trigger, error) {
	queue, _ := config["queue"].(string)

	connectionConfig, _ := config["connection"].(map[string]any)

	connection := make(map[string]string)
	for k, v := range connectionConfig {
		if str, ok := v.(string); ok {
			connection[k] = str
		}
	}

	trigger := &Trigger{
		Connection: connection,
		Queue:      queue,
		Enabled:    true,
		stopCh:     make(chan struct{}),
		logger: logger.With(
			"module", "queue_trigger",
			"queue", queue,
		),
	}

	err := trigger.Validate(ctx)
	if err != nil {
		return nil, err
	}

	return trigger, nil
}

func (t *Trigger) Validate(_ context.Context) error {
	if t.Queue == "" {
		return errors.New("queue trigger queue name is required")
	}

	return nil
}

func (t *Trigger) Start(ctx context.Context, callback Callback) error {
	if !t.Enabled {
		t.logger.InfoContext(ctx, "QueueTrigger is disabled.")

		return nil
	}

	t.logger.InfoContext(ctx, "Starting QueueTrigger")
	t.callback = callback

	err := t.initializeClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize queue client: %w", err)
	}

	t.wg.Add(1)

	go t.consume(ctx)

	return nil
}

func (t *Trigger) initializeClient(ctx context.Context) error {
	addr := t.Connection["addr"]
	if addr == "" {
		addr = "localhost:6379"
	}

	password := t.Connection["password"]
	db := 0

	if dbStr := t.Connection["db"]; dbStr != "" {
		var err error
		if db, err = t.parseDB(dbStr); err != nil {
			return fmt.Errorf("invalid db value: %w", err)
		}
	}

	t.client = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := t.client.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	t.logger.InfoContext(ctx, "Connected to Redis", "addr", addr, "db", db)

	return nil
}

func (t *Trigger) parseDB(dbStr string) (int, error) {
	var db int

	_, err := fmt.Sscanf(dbStr, "%d", &db)

	return db, err
}

func (t *Trigger) consume(ctx context.Context) {
	defer t.wg.Done()

	t.logger.InfoContext(ctx, "Starting queue consumer", "queue", t.Queue)

	for {
		select {
		case <-t.stopCh:
			t.logger.InfoContext(ctx, "Queue consumer stopped")

			return
		case <-ctx.Done():
			t.logger.InfoContext(ctx, "Context cancelled, stopping queue consumer")

			return
		default:
			err := t.processMessage(ctx)
			if err != nil {
				t.logger.ErrorContext(ctx, "Error processing message", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

func (t *Trigger) processMessage(ctx context.Context) error {
	result, err := t.client.BLPop(ctx, 1*time.Second, t.Queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}

		return fmt.Errorf("failed to pop message from queue: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	message := result[1]
	t.logger.InfoContext(ctx, "Received message from queue", "message", message)

	req, err := DecodeRunRequest([]byte(message))
	if err != nil {
		t.logger.WarnContext(ctx, "Discarding malformed queue message", "error", err)

		return nil
	}

	go func() {
		err := t.callback(ctx, req)
		if err != nil {
			t.logger.ErrorContext(ctx, "Error starting run for trigger", "error", err)
		}
	}()

	return nil
}

// DecodeRunRequest parses a queue message. JSON objects map onto
// RunRequest; anything else is taken as a raw input reference.
func DecodeRunRequest(message []byte) (RunRequest, error) {
	var req RunRequest
	if err := json.Unmarshal(message, &req); err != nil {
		req = RunRequest{InputRef: string(message)}
	}

	if req.InputRef == "" {
		return RunRequest{}, errors.New("queue message has no input_reference")
	}

	if req.Provider == "" {
		req.Provider = string(models.ProviderPool)
	}

	return req, nil
}

func (t *Trigger) Stop(ctx context.Context) error {
	t.logger.InfoContext(ctx, "Stopping QueueTrigger")

	close(t.stopCh)
	t.wg.Wait()

	if t.client != nil {
		err := t.client.Close()
		if err != nil {
			t.logger.ErrorContext(ctx, "Error closing Redis client", "error", err)
		}
	}

	return nil
}
