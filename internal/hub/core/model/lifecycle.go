package model

import (
	"context"

	"github.com/looplab/fsm"
)

// Lifecycle events. Every mutation of a command's state corresponds to one
// of these; cancellation rides the fail event with a cancelled result body.
const (
	EventDispatch = "dispatch"
	EventComplete = "complete"
	EventFail     = "fail"
	EventExpire   = "expire"
)

// lifecycleEvents defines the only legal edges of the command state machine:
//
//	created → dispatched → {completed, failed}
//	created → failed (cancellation)
//	created|dispatched → expired (deadline sweep)
//
// Terminal states have no outgoing edges.
func lifecycleEvents() fsm.Events {
	return fsm.Events{
		{Name: EventDispatch, Src: []string{string(StateCreated)}, Dst: string(StateDispatched)},
		{Name: EventComplete, Src: []string{string(StateDispatched)}, Dst: string(StateCompleted)},
		{Name: EventFail, Src: []string{string(StateCreated), string(StateDispatched)}, Dst: string(StateFailed)},
		{Name: EventExpire, Src: []string{string(StateCreated), string(StateDispatched)}, Dst: string(StateExpired)},
	}
}

// eventFor maps a destination state to the lifecycle event reaching it.
func eventFor(to CommandState) (string, bool) {
	switch to {
	case StateDispatched:
		return EventDispatch, true
	case StateCompleted:
		return EventComplete, true
	case StateFailed:
		return EventFail, true
	case StateExpired:
		return EventExpire, true
	}
	return "", false
}

// CanTransition reports whether from → to is a legal lifecycle edge. Both
// stores consult this before applying a compare-and-swap, so no code path
// can move a terminal command back to a non-terminal state.
func CanTransition(from, to CommandState) bool {
	event, ok := eventFor(to)
	if !ok {
		return false
	}

	machine := fsm.NewFSM(string(from), lifecycleEvents(), fsm.Callbacks{})
	return machine.Event(context.Background(), event) == nil
}
