package models

import "time"

// RetryPolicy is the per-task-type retry and timeout tuning. The backoff
// delay grows by Multiplier per attempt up to MaxDelay; MaxAttempts counts
// the first execution.
type RetryPolicy struct {
	InitialDelay time.Duration `json:"initial_delay"`
	Multiplier   float64       `json:"multiplier"`
	MaxDelay     time.Duration `json:"max_delay"`
	MaxAttempts  int           `json:"max_attempts"`
	Timeout      time.Duration `json:"timeout"` // Per-attempt; expiry is a retryable error
}

const (
	defaultInitialDelay = 500 * time.Millisecond
	defaultMultiplier   = 2.0
	defaultMaxDelay     = 30 * time.Second
	defaultMaxAttempts  = 3
	defaultTimeout      = 2 * time.Minute
)

// DefaultRetryPolicies returns the documented defaults per task type.
// Long external calls (transcription) and delivery tasks get more attempts.
func DefaultRetryPolicies() map[TaskType]RetryPolicy {
	base := RetryPolicy{
		InitialDelay: defaultInitialDelay,
		Multiplier:   defaultMultiplier,
		MaxDelay:     defaultMaxDelay,
		MaxAttempts:  defaultMaxAttempts,
		Timeout:      defaultTimeout,
	}

	policies := make(map[TaskType]RetryPolicy)
	for _, taskType := range []TaskType{
		TaskTypeFetchRecording,
		TaskTypeFetchParticipants,
		TaskTypePadTrack,
		TaskTypeMixdown,
		TaskTypeWaveform,
		TaskTypeTranscribeTrack,
		TaskTypeMergeTranscripts,
		TaskTypeDetectTopics,
		TaskTypeGenerateTitle,
		TaskTypeGenerateSummary,
		TaskTypeFinalize,
		TaskTypeCleanup,
		TaskTypeNotifyChat,
		TaskTypeNotifyWebhook,
	} {
		policies[taskType] = base
	}

	transcribe := base
	transcribe.MaxAttempts = 5
	transcribe.Timeout = 15 * time.Minute
	policies[TaskTypeTranscribeTrack] = transcribe

	notify := base
	notify.MaxAttempts = 5
	notify.Timeout = 30 * time.Second
	policies[TaskTypeNotifyChat] = notify
	policies[TaskTypeNotifyWebhook] = notify

	return policies
}

// PolicyFor returns the policy for a task type, falling back to defaults
// when the map has no entry.
func PolicyFor(policies map[TaskType]RetryPolicy, taskType TaskType) RetryPolicy {
	if policy, ok := policies[taskType]; ok {
		return policy
	}

	return RetryPolicy{
		InitialDelay: defaultInitialDelay,
		Multiplier:   defaultMultiplier,
		MaxDelay:     defaultMaxDelay,
		MaxAttempts:  defaultMaxAttempts,
		Timeout:      defaultTimeout,
	}
}
