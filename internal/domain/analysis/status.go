package analysis

import (
	"errors"
	"fmt"
)

// Status enum for the review lifecycle
type Status string

const (
	StatusDraft     Status = "draft"
	StatusCompleted Status = "completed"
	StatusReviewed  Status = "reviewed"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusError     Status = "error"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrReadOnly          = errors.New("analysis is read-only")
)

// reviewed -> reviewed is a re-annotation by another reviewer.
var transitions = map[Status][]Status{
	StatusDraft:     {StatusCompleted, StatusError},
	StatusCompleted: {StatusReviewed},
	StatusReviewed:  {StatusReviewed, StatusApproved, StatusRejected},
}

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusCompleted, StatusReviewed, StatusApproved, StatusRejected, StatusError:
		return true
	}
	return false
}

// CanTransition reports whether to is an allowed successor of s.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal states accept no further transitions.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Transition is the only way a status changes.
func Transition(from, to Status) (Status, error) {
	if !from.CanTransition(to) {
		return from, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return to, nil
}

// ContentEditable: analysis content may change only before a decision.
func (s Status) ContentEditable() bool {
	return s == StatusCompleted || s == StatusReviewed
}

// NotesEditable: notes stay editable after a decision.
func (s Status) NotesEditable() bool {
	switch s {
	case StatusCompleted, StatusReviewed, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Decision is the binary outcome of a professional review.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// Status maps a decision to its terminal state.
func (d Decision) Status() (Status, error) {
	switch d {
	case DecisionApproved:
		return StatusApproved, nil
	case DecisionRejected:
		return StatusRejected, nil
	}
	return "", fmt.Errorf("%w: unknown decision %q", ErrInvalidTransition, d)
}
