package models

import (
	"errors"
	"fmt"
)

// Status is the pipeline state stored on every Document.
type Status string

const (
	StatusCreated            Status = "CREATED"
	StatusExtractionStarted  Status = "EXTRACTION_STARTED"
	StatusExtractionDone     Status = "EXTRACTION_DONE"
	StatusStructuringStarted Status = "STRUCTURING_STARTED"
	StatusStructuringDone    Status = "STRUCTURING_DONE"
	StatusFailed             Status = "FAILED"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrTerminalState     = errors.New("document is in a terminal state")
)

// pipeline order; FAILED is outside the chain
var statusOrder = map[Status]int{
	StatusCreated:            0,
	StatusExtractionStarted:  1,
	StatusExtractionDone:     2,
	StatusStructuringStarted: 3,
	StatusStructuringDone:    4,
}

func (s Status) Valid() bool {
	_, ok := statusOrder[s]
	return ok || s == StatusFailed
}

func (s Status) Terminal() bool {
	return s == StatusStructuringDone || s == StatusFailed
}

func (s Status) String() string {
	return string(s)
}

// TransitionOutcome tells the store what to do with a requested transition.
type TransitionOutcome int

const (
	// TransitionApply writes the new status.
	TransitionApply TransitionOutcome = iota
	// TransitionNoop leaves the row untouched; the document already has the target status.
	TransitionNoop
	// TransitionStale leaves the row untouched; the document is already past the target.
	TransitionStale
)

func (o TransitionOutcome) String() string {
	switch o {
	case TransitionApply:
		return "apply"
	case TransitionNoop:
		return "noop"
	case TransitionStale:
		return "stale"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// DecideTransition is the whole state machine. Stores call it inside the
// row lock and write only on TransitionApply.
func DecideTransition(current, target Status) (TransitionOutcome, error) {
	if !current.Valid() || !target.Valid() {
		return 0, fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, current, target)
	}
	if current.Terminal() {
		if current == target {
			return TransitionNoop, nil
		}
		return 0, fmt.Errorf("%w: %s -> %s", ErrTerminalState, current, target)
	}
	if target == StatusFailed {
		return TransitionApply, nil
	}
	if current == target {
		return TransitionNoop, nil
	}

	from, to := statusOrder[current], statusOrder[target]
	switch {
	case to < from:
		return TransitionStale, nil
	case to == from+1:
		return TransitionApply, nil
	default:
		return 0, fmt.Errorf("%w: %s -> %s skips a stage", ErrInvalidTransition, current, target)
	}
}
