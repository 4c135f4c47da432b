package eventbus

import "time"

// Domain event types.
const (
	TypeDispatchCompleted  = "dispatch.completed"
	TypeTargetFailed       = "dispatch.target_failed"
	TypeStatusChanged      = "delivery.status_changed"
	TypeTransitionRejected = "delivery.transition_rejected"
	TypeProjectsSynced     = "projects.synced"
)

type DispatchCompleted struct {
	BatchID  string
	Sent     int
	Failed   int
	Duration time.Duration
}

type TargetFailed struct {
	BatchID string
	Partner string
	Project string
	Reason  string
}

type StatusChanged struct {
	RecordID int64
	From     string
	To       string
	// Admin is true for operator overrides that skip the forward-only check.
	Admin bool
}

type TransitionRejected struct {
	RecordID int64
	From     string
	To       string
}

type ProjectsSynced struct {
	Partner string
	Added   int
	Renamed int
	Removed int
}
