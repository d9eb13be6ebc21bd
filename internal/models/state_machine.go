// Package models provides data structures and lifecycle management for
// multi-leg option positions.
package models

import (
	"fmt"
	"time"
)

// PositionState represents the current lifecycle state of a position
type PositionState string

const (
	StatePendingOpen PositionState = "pending_open" // Open order working, not yet filled
	StateOpen        PositionState = "open"         // Fully filled, under risk monitoring
	StateClosing     PositionState = "closing"      // Close triggered, close order working
	StateClosed      PositionState = "closed"       // Close side filled or expired, P&L frozen
	StateCancelled   PositionState = "cancelled"    // Working order abandoned
)

// Transition conditions
const (
	ConditionOpenFilled     = "open_filled"
	ConditionCloseTriggered = "close_triggered"
	ConditionCloseFilled    = "close_filled"
	ConditionExpired        = "expired"
	ConditionOrderExpired   = "order_expired"
	ConditionLegExpired     = "leg_expired"
	ConditionManual         = "manual"
)

// StateTransition defines valid state transitions
type StateTransition struct {
	From        PositionState
	To          PositionState
	Condition   string
	Description string
}

// ValidTransitions lists every allowed lifecycle move.
var ValidTransitions = []StateTransition{
	{StatePendingOpen, StateOpen, ConditionOpenFilled, "Open order fully filled"},
	{StateOpen, StateClosing, ConditionCloseTriggered, "Risk monitor requested closure"},
	{StateClosing, StateClosed, ConditionCloseFilled, "Close order fully filled"},
	{StateOpen, StateClosed, ConditionExpired, "Legs expired while open, settled at intrinsic value"},

	// Cancellation side channel
	{StatePendingOpen, StateCancelled, ConditionOrderExpired, "Open order time-to-live elapsed"},
	{StatePendingOpen, StateCancelled, ConditionLegExpired, "A leg expired before the open filled"},
	{StatePendingOpen, StateCancelled, ConditionManual, "Cancelled by operator"},
	{StateClosing, StateCancelled, ConditionOrderExpired, "Close order time-to-live elapsed"},
	{StateClosing, StateCancelled, ConditionLegExpired, "A leg expired before the close filled"},
	{StateClosing, StateCancelled, ConditionManual, "Cancelled by operator"},
}

// StateMachine manages position state transitions
type StateMachine struct {
	transitionTime  time.Time
	transitionCount map[PositionState]int
	currentState    PositionState
	previousState   PositionState
}

// NewStateMachine creates a new state machine in the pending-open state
func NewStateMachine() *StateMachine {
	return NewStateMachineFromState(StatePendingOpen)
}

// NewStateMachineFromState rebuilds a machine for a persisted state. The
// transition history is not persisted, so counts restart at zero.
func NewStateMachineFromState(state PositionState) *StateMachine {
	if state == "" {
		state = StatePendingOpen
	}
	return &StateMachine{
		currentState:    state,
		previousState:   state,
		transitionCount: make(map[PositionState]int),
	}
}

// GetCurrentState returns the current state
func (sm *StateMachine) GetCurrentState() PositionState {
	return sm.currentState
}

// GetPreviousState returns the previous state
func (sm *StateMachine) GetPreviousState() PositionState {
	return sm.previousState
}

// GetTransitionTime returns when the last transition happened
func (sm *StateMachine) GetTransitionTime() time.Time {
	return sm.transitionTime
}

// IsValidTransition checks if a transition is valid
func (sm *StateMachine) IsValidTransition(to PositionState, condition string) error {
	if !sm.isTransitionDefined(to, condition) {
		return fmt.Errorf("invalid transition from %s to %s with condition '%s'",
			sm.currentState, to, condition)
	}
	return nil
}

func (sm *StateMachine) isTransitionDefined(to PositionState, condition string) bool {
	for _, transition := range ValidTransitions {
		if transition.From == sm.currentState && transition.To == to &&
			conditionMatches(transition.Condition, condition) {
			return true
		}
	}
	return false
}

// conditionMatches requires an exact match when the table names a condition;
// unconditioned transitions accept anything.
func conditionMatches(required, provided string) bool {
	return required == "" || required == provided
}

// Transition moves to a new state at the given time
func (sm *StateMachine) Transition(to PositionState, condition string, at time.Time) error {
	if err := sm.IsValidTransition(to, condition); err != nil {
		return err
	}

	sm.previousState = sm.currentState
	sm.currentState = to
	sm.transitionTime = at.UTC()
	sm.transitionCount[to]++
	return nil
}

// GetTransitionCount returns how many times we've entered a state
func (sm *StateMachine) GetTransitionCount(state PositionState) int {
	return sm.transitionCount[state]
}

// IsTerminal reports whether no further transitions are possible
func (sm *StateMachine) IsTerminal() bool {
	return IsTerminalState(sm.currentState)
}

// IsTerminalState reports whether state is closed or cancelled
func IsTerminalState(state PositionState) bool {
	return state == StateClosed || state == StateCancelled
}

// GetStateDescription returns a human-readable description of the current state
func (sm *StateMachine) GetStateDescription() string {
	switch sm.currentState {
	case StatePendingOpen:
		return "Open order working, waiting for a complete fill"
	case StateOpen:
		return "Position open, monitored for profit target, stop loss and time exits"
	case StateClosing:
		return "Close triggered, close order working"
	case StateClosed:
		return "Position closed, P&L final"
	case StateCancelled:
		return "Working order cancelled before completion"
	default:
		return "Unknown state"
	}
}

// ValidateStateConsistency ensures the state machine is in a valid state
func (sm *StateMachine) ValidateStateConsistency() error {
	totalTransitions := 0
	for _, count := range sm.transitionCount {
		totalTransitions += count
	}
	if totalTransitions == 0 {
		return nil
	}

	if sm.transitionTime.IsZero() {
		return fmt.Errorf("missing transition time: transitionTime is zero")
	}
	if sm.transitionCount[sm.currentState] == 0 {
		return fmt.Errorf("current state %s was never entered through a transition", sm.currentState)
	}
	if sm.transitionCount[StateClosed] > 1 {
		return fmt.Errorf("position closed %d times", sm.transitionCount[StateClosed])
	}
	return nil
}

// Copy creates a deep copy of the StateMachine
func (sm *StateMachine) Copy() *StateMachine {
	if sm == nil {
		return nil
	}

	newSM := &StateMachine{
		currentState:   sm.currentState,
		previousState:  sm.previousState,
		transitionTime: sm.transitionTime,
	}
	newSM.transitionCount = make(map[PositionState]int, len(sm.transitionCount))
	for k, v := range sm.transitionCount {
		newSM.transitionCount[k] = v
	}
	return newSM
}
