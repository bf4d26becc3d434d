package engine

import "github.com/lazerflow/lazerflow/pkg/flow"

// ValidTransitions defines the allowed status transitions for a workflow
// instance. Terminal statuses have no successors.
var ValidTransitions = map[flow.Status][]flow.Status{
	flow.StatusPending: {flow.StatusRunning, flow.StatusCancelled},
	flow.StatusRunning: {flow.StatusWaiting, flow.StatusCompleted, flow.StatusFailed, flow.StatusCancelled, flow.StatusTimedOut},
	flow.StatusWaiting: {flow.StatusRunning, flow.StatusCancelled, flow.StatusTimedOut},

	flow.StatusCompleted: {},
	flow.StatusFailed:    {},
	flow.StatusCancelled: {},
	flow.StatusTimedOut:  {},
}

func isValidTransition(from, to flow.Status) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

// Event types emitted on status transitions.
const (
	EventWorkflowStarted   = "workflow.started"
	EventWorkflowWaiting   = "workflow.waiting"
	EventWorkflowCompleted = "workflow.completed"
	EventWorkflowFailed    = "workflow.failed"
	EventWorkflowCancelled = "workflow.cancelled"
	EventWorkflowTimedOut  = "workflow.timed_out"
)

func eventTypeFor(to flow.Status) string {
	switch to {
	case flow.StatusRunning:
		return EventWorkflowStarted
	case flow.StatusWaiting:
		return EventWorkflowWaiting
	case flow.StatusCompleted:
		return EventWorkflowCompleted
	case flow.StatusFailed:
		return EventWorkflowFailed
	case flow.StatusCancelled:
		return EventWorkflowCancelled
	case flow.StatusTimedOut:
		return EventWorkflowTimedOut
	default:
		return ""
	}
}
