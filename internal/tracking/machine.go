package tracking

import (
	"dispatchbot/internal/domain"
)

// RejectedError is a reply transition that would not move the record
// strictly forward.
type RejectedError struct {
	Current domain.Status
	Target  domain.Status
}

func (e *RejectedError) Error() string {
	return "invalid status progression: current " + e.Current.String() +
		", cannot go to " + e.Target.String() + "; valid next status: " + e.NextText()
}

// NextText names the only valid next status, or "completed" at the end of
// the chain.
func (e *RejectedError) NextText() string {
	if next, ok := e.Current.Next(); ok {
		return next.String()
	}
	return "completed"
}

func (e *RejectedError) Unwrap() error {
	return &domain.ValidationError{Code: domain.CodeInvalidTransition, Msg: e.Error()}
}

// CheckForward allows target only if it lies strictly after current in the
// chain. Skipping stages is allowed. An unknown current status is not
// ordered, so any target is accepted.
func CheckForward(current, target domain.Status) error {
	if !current.Known() {
		return nil
	}
	if target.Index() <= current.Index() {
		return &RejectedError{Current: current, Target: target}
	}
	return nil
}
