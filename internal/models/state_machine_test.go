package models

import (
	"testing"
	"time"
)

var t0 = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func TestStateMachine_BasicTransitions(t *testing.T) {
	sm := NewStateMachine()

	if sm.GetCurrentState() != StatePendingOpen {
		t.Errorf("Initial state should be StatePendingOpen, got %s", sm.GetCurrentState())
	}

	if err := sm.Transition(StateOpen, ConditionOpenFilled, t0); err != nil {
		t.Errorf("Valid transition failed: %v", err)
	}
	if sm.GetCurrentState() != StateOpen {
		t.Errorf("State should be StateOpen, got %s", sm.GetCurrentState())
	}
	if sm.GetPreviousState() != StatePendingOpen {
		t.Errorf("Previous state should be StatePendingOpen, got %s", sm.GetPreviousState())
	}
	if !sm.GetTransitionTime().Equal(t0) {
		t.Errorf("Transition time should be %v, got %v", t0, sm.GetTransitionTime())
	}
}

func TestStateMachine_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name      string
		from      PositionState
		to        PositionState
		condition string
	}{
		{"pending to closing", StatePendingOpen, StateClosing, ConditionCloseTriggered},
		{"pending to closed", StatePendingOpen, StateClosed, ConditionCloseFilled},
		{"open with wrong condition", StatePendingOpen, StateOpen, ConditionManual},
		{"open to cancelled", StateOpen, StateCancelled, ConditionManual},
		{"closed is terminal", StateClosed, StateOpen, ConditionOpenFilled},
		{"cancelled is terminal", StateCancelled, StatePendingOpen, ConditionManual},
		{"closing back to open", StateClosing, StateOpen, ConditionOpenFilled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := NewStateMachineFromState(tt.from)
			if err := sm.Transition(tt.to, tt.condition, t0); err == nil {
				t.Errorf("Transition %s -> %s (%s) should fail", tt.from, tt.to, tt.condition)
			}
			if sm.GetCurrentState() != tt.from {
				t.Errorf("State should remain %s after failed transition, got %s", tt.from, sm.GetCurrentState())
			}
		})
	}
}

func TestStateMachine_FullLifecycle(t *testing.T) {
	sm := NewStateMachine()

	steps := []struct {
		to        PositionState
		condition string
	}{
		{StateOpen, ConditionOpenFilled},
		{StateClosing, ConditionCloseTriggered},
		{StateClosed, ConditionCloseFilled},
	}
	for i, s := range steps {
		if err := sm.Transition(s.to, s.condition, t0.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("Step %d (%s) failed: %v", i, s.to, err)
		}
	}

	if !sm.IsTerminal() {
		t.Error("Closed state should be terminal")
	}
	if err := sm.ValidateStateConsistency(); err != nil {
		t.Errorf("Consistency check failed: %v", err)
	}
	if got := sm.GetTransitionCount(StateClosed); got != 1 {
		t.Errorf("Expected one entry into closed, got %d", got)
	}
}

func TestStateMachine_ExpiredWhileOpen(t *testing.T) {
	sm := NewStateMachineFromState(StateOpen)
	if err := sm.Transition(StateClosed, ConditionExpired, t0); err != nil {
		t.Fatalf("Open -> Closed on expiry should be allowed: %v", err)
	}
	if sm.GetCurrentState() != StateClosed {
		t.Errorf("Expected closed, got %s", sm.GetCurrentState())
	}
}

func TestStateMachine_CancellationPaths(t *testing.T) {
	for _, from := range []PositionState{StatePendingOpen, StateClosing} {
		for _, cond := range []string{ConditionOrderExpired, ConditionLegExpired, ConditionManual} {
			sm := NewStateMachineFromState(from)
			if err := sm.Transition(StateCancelled, cond, t0); err != nil {
				t.Errorf("%s -> cancelled (%s) should be allowed: %v", from, cond, err)
			}
		}
	}
}

func TestNewStateMachineFromState_Restored(t *testing.T) {
	sm := NewStateMachineFromState(StateOpen)

	if sm.GetCurrentState() != StateOpen {
		t.Errorf("Expected state to be Open, got %s", sm.GetCurrentState())
	}
	// No history yet, nothing to validate against
	if err := sm.ValidateStateConsistency(); err != nil {
		t.Errorf("Restored machine should be consistent: %v", err)
	}
	if err := sm.Transition(StateClosing, ConditionCloseTriggered, t0); err != nil {
		t.Errorf("Failed to transition restored machine: %v", err)
	}

	if got := NewStateMachineFromState("").GetCurrentState(); got != StatePendingOpen {
		t.Errorf("Empty state should default to pending open, got %s", got)
	}
}

func TestStateMachine_Copy(t *testing.T) {
	sm := NewStateMachine()
	if err := sm.Transition(StateOpen, ConditionOpenFilled, t0); err != nil {
		t.Fatal(err)
	}

	cp := sm.Copy()
	if err := cp.Transition(StateClosing, ConditionCloseTriggered, t0); err != nil {
		t.Fatal(err)
	}

	if sm.GetCurrentState() != StateOpen {
		t.Errorf("Original should stay open after copy transitions, got %s", sm.GetCurrentState())
	}
	if sm.GetTransitionCount(StateClosing) != 0 {
		t.Error("Copy must not share transition counts")
	}

	var nilSM *StateMachine
	if nilSM.Copy() != nil {
		t.Error("Copy of nil should be nil")
	}
}

func TestStateMachine_Descriptions(t *testing.T) {
	for _, s := range []PositionState{StatePendingOpen, StateOpen, StateClosing, StateClosed, StateCancelled} {
		if d := NewStateMachineFromState(s).GetStateDescription(); d == "Unknown state" {
			t.Errorf("State %s should have a description", s)
		}
	}
	if d := NewStateMachineFromState("bogus").GetStateDescription(); d != "Unknown state" {
		t.Errorf("Unexpected description for bogus state: %s", d)
	}
}
