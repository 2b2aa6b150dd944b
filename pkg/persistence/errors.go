package persistence

import "errors"

var (
	ErrRunNotFound  = errors.New("run not found")
	ErrNodeNotFound = errors.New("node not found")

	// ErrConflict is returned when a compare-and-set transition observes a
	// different current status than expected. Callers treat it as "someone
	// else got there first", never as corruption.
	ErrConflict = errors.New("state conflict")

	// ErrInvalidTransition is returned for transitions the state machine
	// forbids, including any transition out of a terminal state.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrFanOutMaterialized is returned when a fan-out expansion is applied
	// to a run whose fan-out group already exists.
	ErrFanOutMaterialized = errors.New("fan-out already materialized")
)

func IsRunNotFound(err error) bool  { return errors.Is(err, ErrRunNotFound) }
func IsNodeNotFound(err error) bool { return errors.Is(err, ErrNodeNotFound) }
func IsConflict(err error) bool     { return errors.Is(err, ErrConflict) }
