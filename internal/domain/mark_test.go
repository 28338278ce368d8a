package domain

import (
	"errors"
	"testing"
)

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		name      string
		prior     MarkState
		requested MarkState
		action    MarkAction
		next      MarkState
		delta     Delta
	}{
		{"none to positive", MarkStateNone, MarkStatePositive, MarkActionCreated, MarkStatePositive, Delta{Positive: 1}},
		{"none to negative", MarkStateNone, MarkStateNegative, MarkActionCreated, MarkStateNegative, Delta{Negative: 1}},
		{"positive toggles off", MarkStatePositive, MarkStatePositive, MarkActionRemoved, MarkStateNone, Delta{Positive: -1}},
		{"negative toggles off", MarkStateNegative, MarkStateNegative, MarkActionRemoved, MarkStateNone, Delta{Negative: -1}},
		{"positive flips negative", MarkStatePositive, MarkStateNegative, MarkActionChanged, MarkStateNegative, Delta{Positive: -1, Negative: 1}},
		{"negative flips positive", MarkStateNegative, MarkStatePositive, MarkActionChanged, MarkStatePositive, Delta{Positive: 1, Negative: -1}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			action, next, delta, err := Transition(tc.prior, tc.requested)
			if err != nil {
				t.Fatalf("transition: %v", err)
			}
			if action != tc.action {
				t.Fatalf("action = %q, want %q", action, tc.action)
			}
			if next != tc.next {
				t.Fatalf("next = %q, want %q", next, tc.next)
			}
			if delta != tc.delta {
				t.Fatalf("delta = %+v, want %+v", delta, tc.delta)
			}
		})
	}
}

func TestTransitionRejectsNoneRequest(t *testing.T) {
	_, _, _, err := Transition(MarkStatePositive, MarkStateNone)
	if !errors.Is(err, ErrInvalidRequestedState) {
		t.Fatalf("err = %v, want ErrInvalidRequestedState", err)
	}
}

func TestCountersAddClampsAtZero(t *testing.T) {
	counters, clamped := Counters{}.Add(Delta{Positive: -1})
	if !clamped {
		t.Fatal("expected clamp on negative result")
	}
	if counters.Positive != 0 || counters.Negative != 0 {
		t.Fatalf("counters = %+v, want zero", counters)
	}

	counters, clamped = Counters{Positive: 2, Negative: 1}.Add(Delta{Positive: -1, Negative: 1})
	if clamped {
		t.Fatal("unexpected clamp")
	}
	if counters.Positive != 1 || counters.Negative != 2 {
		t.Fatalf("counters = %+v, want {1 2}", counters)
	}
}

func TestParseMarkState(t *testing.T) {
	state, err := ParseMarkState(" Positive ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if state != MarkStatePositive {
		t.Fatalf("state = %q, want positive", state)
	}
	if _, err := ParseMarkState("sideways"); err == nil {
		t.Fatal("expected error for unknown state")
	}
	state, err = ParseMarkState("")
	if err != nil {
		t.Fatalf("parse empty: %v", err)
	}
	if state != MarkStateNone {
		t.Fatalf("state = %q, want none", state)
	}
}

func TestErrorCodeMapping(t *testing.T) {
	cases := []struct {
		err  error
		code Code
	}{
		{&ConflictError{SubjectID: "s", Attempts: 3, Err: errors.New("busy")}, CodeMarkConflict},
		{&SubjectNotFoundError{SubjectID: "s"}, CodeSubjectNotFound},
		{&RefreshExecutionError{ViewName: "v", Err: errors.New("boom")}, CodeRefreshExecution},
		{&ReconciliationItemError{SubjectID: "s", Err: errors.New("boom")}, CodeReconcileItem},
		{ErrInvalidRequestedState, CodeInvalidRequestedState},
		{ErrEmptyActorID, CodeInvalidArgument},
		{errors.New("other"), CodeUnknown},
	}
	for _, tc := range cases {
		if got := ErrorCode(tc.err); got != tc.code {
			t.Fatalf("ErrorCode(%v) = %q, want %q", tc.err, got, tc.code)
		}
	}
}
