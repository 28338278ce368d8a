// Package domain defines mark states, the aggregate transition table, and the
// typed errors shared across the consistency layer.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// MarkState is the directional mark an actor holds on a subject.
type MarkState string

const (
	// MarkStateNone means the actor holds no mark on the subject.
	MarkStateNone MarkState = "none"
	// MarkStatePositive is an upward mark.
	MarkStatePositive MarkState = "positive"
	// MarkStateNegative is a downward mark.
	MarkStateNegative MarkState = "negative"
)

// ParseMarkState parses a stored mark state string.
func ParseMarkState(value string) (MarkState, error) {
	switch MarkState(strings.TrimSpace(strings.ToLower(value))) {
	case MarkStateNone, "":
		return MarkStateNone, nil
	case MarkStatePositive:
		return MarkStatePositive, nil
	case MarkStateNegative:
		return MarkStateNegative, nil
	default:
		return MarkStateNone, fmt.Errorf("unknown mark state %q", value)
	}
}

// Valid reports whether the state is one of the three known states.
func (s MarkState) Valid() bool {
	switch s {
	case MarkStateNone, MarkStatePositive, MarkStateNegative:
		return true
	default:
		return false
	}
}

// Requestable reports whether the state may be submitted to Apply. Clearing a
// mark has no explicit input; resubmitting the held state toggles it off.
func (s MarkState) Requestable() bool {
	return s == MarkStatePositive || s == MarkStateNegative
}

// MarkAction describes what a mark request did to the (actor, subject) pair.
type MarkAction string

const (
	// MarkActionCreated means the actor had no prior mark.
	MarkActionCreated MarkAction = "created"
	// MarkActionChanged means the actor flipped an existing mark.
	MarkActionChanged MarkAction = "changed"
	// MarkActionRemoved means the actor toggled an existing mark off.
	MarkActionRemoved MarkAction = "removed"
)

// Delta is the aggregate adjustment produced by one transition.
type Delta struct {
	Positive int64
	Negative int64
}

// Transition resolves the mark state machine for one request.
//
// It returns the action taken, the resulting state for the pair, and the
// aggregate delta to apply. Requested must be positive or negative; requesting
// the held state again removes the mark.
func Transition(prior, requested MarkState) (MarkAction, MarkState, Delta, error) {
	if !prior.Valid() {
		return "", MarkStateNone, Delta{}, fmt.Errorf("invalid prior state %q", prior)
	}
	if !requested.Requestable() {
		return "", MarkStateNone, Delta{}, fmt.Errorf("%w: %q", ErrInvalidRequestedState, requested)
	}

	switch {
	case prior == MarkStateNone && requested == MarkStatePositive:
		return MarkActionCreated, MarkStatePositive, Delta{Positive: 1}, nil
	case prior == MarkStateNone && requested == MarkStateNegative:
		return MarkActionCreated, MarkStateNegative, Delta{Negative: 1}, nil
	case prior == MarkStatePositive && requested == MarkStatePositive:
		return MarkActionRemoved, MarkStateNone, Delta{Positive: -1}, nil
	case prior == MarkStateNegative && requested == MarkStateNegative:
		return MarkActionRemoved, MarkStateNone, Delta{Negative: -1}, nil
	case prior == MarkStatePositive && requested == MarkStateNegative:
		return MarkActionChanged, MarkStateNegative, Delta{Positive: -1, Negative: 1}, nil
	default: // negative -> positive
		return MarkActionChanged, MarkStatePositive, Delta{Positive: 1, Negative: -1}, nil
	}
}

// Counters is a per-subject aggregate tally. Both fields are always >= 0.
type Counters struct {
	Positive int64
	Negative int64
}

// Add applies a delta and clamps both fields at zero. The clamped result
// reports whether either field would have gone negative, which signals the
// counters had drifted from ground truth.
func (c Counters) Add(d Delta) (Counters, bool) {
	next := Counters{
		Positive: c.Positive + d.Positive,
		Negative: c.Negative + d.Negative,
	}
	clamped := false
	if next.Positive < 0 {
		next.Positive = 0
		clamped = true
	}
	if next.Negative < 0 {
		next.Negative = 0
		clamped = true
	}
	return next, clamped
}

// AuditEvent is one diagnostic entry in the bounded apply log.
type AuditEvent struct {
	RequestID string
	ActorID   string
	SubjectID string
	Action    MarkAction
	Timestamp time.Time
}

// RequestStatus is the lifecycle state of a recorded mark request.
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"
	RequestStatusCommitted RequestStatus = "committed"
	RequestStatusFailed    RequestStatus = "failed"
)

// MarkRequest is the cache-resident record of one Apply call. It exists for
// idempotent replay and inspection and is never authoritative.
type MarkRequest struct {
	RequestID        string
	ActorID          string
	SubjectID        string
	RequestedState   MarkState
	PriorState       MarkState
	Action           MarkAction
	OptimisticCounts Counters
	Status           RequestStatus
	CreatedAt        time.Time
}
