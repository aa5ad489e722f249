package session

import (
	"context"

	"sessionkit/internal/audit"
	"sessionkit/internal/broadcast"
)

const (
	sourceLocal  = "local"
	sourceRemote = "remote"
	sourceTimer  = "timer"
)

// Logout ends the session in every tab of the origin. With unsaved work it
// asks first and reports false if the user declines.
func (c *Coordinator) Logout(ctx context.Context) (bool, error) {
	state, _, err := c.snapshot()
	if err != nil {
		return false, err
	}
	if state == StateInitializing || state == StateUnauthenticated {
		return false, nil
	}
	if c.unsaved.HasUnsavedWork() {
		if !c.prompt.Confirm(ctx, logoutConfirmMessage(c.unsaved.Summary())) {
			c.logger.InfoContext(ctx, "logout declined, unsaved work kept")
			return false, nil
		}
	}
	return c.finalizeLogout(ctx, nil, sourceLocal, "user"), nil
}

// finalizeLogout tears the session down and publishes exactly one LOGOUT.
// With a non-nil guard it only proceeds if the epoch is unchanged, so a stale
// refresh failure cannot log out a session that has since moved on.
func (c *Coordinator) finalizeLogout(ctx context.Context, guard *uint64, source, reason string) bool {
	c.writeMu.Lock()
	c.mu.Lock()
	if (guard != nil && c.epoch != *guard) || c.state == StateUnauthenticated {
		c.mu.Unlock()
		c.writeMu.Unlock()
		return false
	}
	wasAwaiting := c.state == StateAwaitingConflictResolution
	var userID string
	if c.session.User != nil {
		userID = c.session.User.ID
	}
	c.epoch++
	c.session = Session{}
	c.pending = nil
	c.transitionLocked(StateUnauthenticated)
	c.mu.Unlock()

	c.scheduler.Cancel()
	if err := c.creds.Clear(ctx); err != nil {
		c.logger.WarnContext(ctx, "failed to clear credentials on logout", "error", err)
	}
	c.unsaved.Clear()
	c.bus.Publish(ctx, broadcast.Logout{})
	c.writeMu.Unlock()

	if wasAwaiting {
		c.prompt.HideConflict()
	}
	c.logAudit(ctx, audit.Event{Action: audit.ActionLogout, UserID: userID, Source: source, Reason: reason})
	c.navigate(RouteLogin)
	return true
}
