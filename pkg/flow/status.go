package flow

// Status is the lifecycle state of a workflow instance.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusWaiting   Status = "waiting"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusTimedOut  Status = "timed_out"
)

// IsTerminal reports whether no further steps will execute for this status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Statuses lists every status, for iteration in health summaries.
var Statuses = []Status{
	StatusPending,
	StatusRunning,
	StatusWaiting,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
	StatusTimedOut,
}
