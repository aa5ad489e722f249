package audit

import "time"

// Event captures one session lifecycle action in one tab. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Action    Action    `json:"action"`
	TabID     string    `json:"tab_id"`
	UserID    string    `json:"user_id,omitempty"`
	CompanyID string    `json:"company_id,omitempty"`
	// Source is "local" for user actions, "remote" for broadcast-driven changes
	// and "timer" for scheduled renewal.
	Source string `json:"source,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type Action string

const (
	ActionLogin            Action = "session.login"
	ActionSignup           Action = "session.signup"
	ActionLogout           Action = "session.logout"
	ActionRefreshed        Action = "session.refreshed"
	ActionRefreshFailed    Action = "session.refresh_failed"
	ActionCompanySwitched  Action = "session.company_switched"
	ActionRemoteApplied    Action = "session.remote_applied"
	ActionConflictOpened   Action = "session.conflict_opened"
	ActionConflictResolved Action = "session.conflict_resolved"
)
