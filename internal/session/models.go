package session

import (
	"fmt"
	"strings"

	"sessionkit/internal/broadcast"
	"sessionkit/internal/identity"
)

// Navigation surfaces the coordinator sends a tab to.
const (
	RouteLogin = "/login"
	RouteApp   = "/app"
)

// State is the coordinator state machine position.
type State int

const (
	StateInitializing State = iota
	StateUnauthenticated
	StateAuthenticated
	StateAwaitingConflictResolution
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateAwaitingConflictResolution:
		return "awaiting_conflict_resolution"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is the per-tab view the UI renders.
type Session struct {
	User            *identity.User
	IsAuthenticated bool
	IsLoading       bool
	// Error is the last user-facing failure of a login or signup attempt.
	Error string
}

// PendingAuthChange is a remote change held back because the tab has unsaved work.
type PendingAuthChange struct {
	Kind           broadcast.Kind
	IncomingUser   *identity.User
	UnsavedSummary string
	UnsavedCount   int

	msg broadcast.Message
}

// sameChange reports whether msg would produce the same pending change.
func (p *PendingAuthChange) sameChange(msg broadcast.Message) bool {
	if p == nil || p.Kind != msg.Kind() {
		return false
	}
	if p.Kind == broadcast.KindLogout {
		return true
	}
	incoming, ok := broadcast.UserOf(msg)
	return ok && p.IncomingUser != nil && p.IncomingUser.SameTenant(incoming)
}

// Resolution is the user's answer to a conflict prompt.
type Resolution int

const (
	ResolutionSaveAndSync Resolution = iota
	ResolutionProceedWithoutSaving
	ResolutionDismiss
)

func (r Resolution) String() string {
	switch r {
	case ResolutionSaveAndSync:
		return "save_and_sync"
	case ResolutionProceedWithoutSaving:
		return "proceed_without_saving"
	case ResolutionDismiss:
		return "dismiss"
	default:
		return fmt.Sprintf("resolution(%d)", int(r))
	}
}

// ParseResolution accepts the canonical names plus the short forms save,
// discard and dismiss.
func ParseResolution(s string) (Resolution, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "save", "save_and_sync":
		return ResolutionSaveAndSync, nil
	case "discard", "proceed", "proceed_without_saving":
		return ResolutionProceedWithoutSaving, nil
	case "dismiss", "keep", "keep_working":
		return ResolutionDismiss, nil
	default:
		return 0, fmt.Errorf("unknown resolution %q", s)
	}
}
