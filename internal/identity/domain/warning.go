package domain

import "time"

// ConsistencyWarning records a compensation or cleanup step that failed, leaving the local store and the
// identity provider out of step. It is reported for operational follow-up and never returned to callers.
type ConsistencyWarning struct {
	Saga       string
	Action     string
	IdentityID string
	Username   string
	RemoteID   string
	Cause      error
	At         time.Time
}

// CauseText returns the cause message, or "" when there is none.
func (w ConsistencyWarning) CauseText() string {
	if w.Cause == nil {
		return ""
	}
	return w.Cause.Error()
}
