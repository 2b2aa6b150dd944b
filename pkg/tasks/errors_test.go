package tasks

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFatalClassification(t *testing.T) {
	err := Fatalf("unsupported container format %q", "wma")
	assert.True(t, IsFatal(err))
	assert.False(t, IsRetryable(err))
}

func TestRetryableClassification(t *testing.T) {
	err := Retryablef("transcription service returned 429")
	assert.True(t, IsRetryable(err))
	assert.False(t, IsFatal(err))
}

func TestUnclassifiedDefaultsToRetryable(t *testing.T) {
	assert.True(t, IsRetryable(errors.New("connection reset")))
}

func TestDeadlineExceededIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.True(t, IsRetryable(fmt.Errorf("attempt: %w", context.DeadlineExceeded)))
}

func TestWrappedFatalStaysFatal(t *testing.T) {
	err := fmt.Errorf("execute pad_track: %w", Fatal(errors.New("corrupt header")))
	assert.True(t, IsFatal(err))
	assert.False(t, IsRetryable(err))
}

func TestNilErrors(t *testing.T) {
	assert.Nil(t, Retryable(nil))
	assert.Nil(t, Fatal(nil))
	assert.False(t, IsRetryable(nil))
}
