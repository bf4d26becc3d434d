package engine

import (
	"testing"

	"github.com/lazerflow/lazerflow/pkg/flow"
)

func TestValidTransitions(t *testing.T) {
	cases := []struct {
		from, to flow.Status
		want     bool
	}{
		{flow.StatusPending, flow.StatusRunning, true},
		{flow.StatusPending, flow.StatusCancelled, true},
		{flow.StatusPending, flow.StatusCompleted, false},
		{flow.StatusRunning, flow.StatusWaiting, true},
		{flow.StatusRunning, flow.StatusCompleted, true},
		{flow.StatusRunning, flow.StatusFailed, true},
		{flow.StatusRunning, flow.StatusTimedOut, true},
		{flow.StatusRunning, flow.StatusPending, false},
		{flow.StatusWaiting, flow.StatusRunning, true},
		{flow.StatusWaiting, flow.StatusCancelled, true},
		{flow.StatusWaiting, flow.StatusTimedOut, true},
		{flow.StatusWaiting, flow.StatusCompleted, false},
		{flow.StatusCompleted, flow.StatusRunning, false},
		{flow.StatusFailed, flow.StatusRunning, false},
		{flow.StatusCancelled, flow.StatusRunning, false},
		{flow.StatusTimedOut, flow.StatusRunning, false},
	}
	for _, tc := range cases {
		if got := isValidTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("isValidTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTerminalStatusesHaveNoSuccessors(t *testing.T) {
	for _, s := range flow.Statuses {
		if !s.IsTerminal() {
			continue
		}
		if allowed := ValidTransitions[s]; len(allowed) != 0 {
			t.Errorf("terminal status %s has successors %v", s, allowed)
		}
	}
}

func TestEventTypeFor(t *testing.T) {
	cases := map[flow.Status]string{
		flow.StatusRunning:   EventWorkflowStarted,
		flow.StatusWaiting:   EventWorkflowWaiting,
		flow.StatusCompleted: EventWorkflowCompleted,
		flow.StatusFailed:    EventWorkflowFailed,
		flow.StatusCancelled: EventWorkflowCancelled,
		flow.StatusTimedOut:  EventWorkflowTimedOut,
		flow.StatusPending:   "",
	}
	for status, want := range cases {
		if got := eventTypeFor(status); got != want {
			t.Errorf("eventTypeFor(%s) = %q, want %q", status, got, want)
		}
	}
}
