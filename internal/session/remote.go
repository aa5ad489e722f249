package session

import (
	"context"

	"sessionkit/internal/audit"
	"sessionkit/internal/broadcast"
	"sessionkit/internal/identity"
)

const (
	outcomeApplied   = "applied"
	outcomeDeferred  = "deferred"
	outcomeIgnored   = "ignored"
	outcomeDuplicate = "duplicate"
	outcomeWithdrawn = "withdrawn"
)

// remoteEffect is what onRemote decided to do once the locks are released.
type remoteEffect int

const (
	effectNone remoteEffect = iota
	effectApply
	effectPrompt
	effectWithdraw
)

// onRemote is the single dispatch point for changes broadcast by other tabs.
// With unsaved work the change is held behind a conflict prompt and the
// session is left untouched until the user resolves it.
func (c *Coordinator) onRemote(msg broadcast.Message) {
	ctx := context.Background()
	kind := string(msg.Kind())

	if msg.Kind() != broadcast.KindLogout && !c.hasLiveCredentials(ctx) {
		c.logger.DebugContext(ctx, "remote change ignored until credentials land", "type", kind)
		c.metrics.incRemote(kind, outcomeIgnored)
		return
	}

	dirty := c.unsaved.HasUnsavedWork()
	var summary string
	var count int
	if dirty {
		summary = c.unsaved.Summary()
		count = c.unsaved.UnsavedCount()
	}

	c.writeMu.Lock()
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		c.writeMu.Unlock()
		return
	}

	effect := effectNone
	awaiting := c.state == StateAwaitingConflictResolution
	base := c.state
	if awaiting {
		base = c.resume
	}
	noop := c.isNoopLocked(base, msg)
	var pending PendingAuthChange

	switch {
	case awaiting && noop:
		// the latest change restores what the tab already shows
		c.pending = nil
		c.transitionLocked(c.resume)
		effect = effectWithdraw
	case noop:
	case awaiting && dirty && c.pending.sameChange(msg):
	case dirty && c.state != StateInitializing:
		pending = PendingAuthChange{
			Kind:           msg.Kind(),
			UnsavedSummary: summary,
			UnsavedCount:   count,
			msg:            msg,
		}
		if incoming, ok := broadcast.UserOf(msg); ok {
			pending.IncomingUser = &incoming
		}
		if !awaiting {
			c.resume = c.state
		}
		c.pending = &pending
		c.transitionLocked(StateAwaitingConflictResolution)
		effect = effectPrompt
	default:
		c.pending = nil
		c.applyLocked(msg)
		effect = effectApply
	}
	c.mu.Unlock()
	c.writeMu.Unlock()

	switch effect {
	case effectNone:
		c.logger.DebugContext(ctx, "remote change already reflected", "type", kind)
		c.metrics.incRemote(kind, outcomeDuplicate)
	case effectWithdraw:
		c.prompt.HideConflict()
		c.metrics.incRemote(kind, outcomeWithdrawn)
		c.logAudit(ctx, audit.Event{Action: audit.ActionConflictResolved, UserID: c.userID(), Source: sourceRemote, Reason: "withdrawn"})
	case effectPrompt:
		c.prompt.ShowConflict(pending)
		c.metrics.incRemote(kind, outcomeDeferred)
		c.logAudit(ctx, audit.Event{Action: audit.ActionConflictOpened, UserID: c.userID(), Source: sourceRemote, Reason: kind})
	case effectApply:
		if awaiting {
			c.prompt.HideConflict()
		}
		c.afterApply(ctx, msg)
		c.metrics.incRemote(kind, outcomeApplied)
	}
}

// isNoopLocked reports whether msg leaves a tab in state base unchanged.
func (c *Coordinator) isNoopLocked(base State, msg broadcast.Message) bool {
	current := c.session.User
	switch m := msg.(type) {
	case broadcast.Logout:
		return base == StateUnauthenticated
	case broadcast.Login:
		return base == StateAuthenticated && current != nil && current.SameIdentity(m.User)
	case broadcast.CompanySwitch:
		return base == StateAuthenticated && current != nil && current.SameTenant(m.User)
	default:
		return false
	}
}

// applyLocked mutates the session to reflect msg.
func (c *Coordinator) applyLocked(msg broadcast.Message) {
	c.epoch++
	switch m := msg.(type) {
	case broadcast.Logout:
		c.session = Session{}
		c.transitionLocked(StateUnauthenticated)
	case broadcast.Login:
		c.setUserLocked(m.User)
	case broadcast.CompanySwitch:
		c.setUserLocked(m.User)
	}
}

func (c *Coordinator) setUserLocked(user identity.User) {
	c.session = Session{User: &user, IsAuthenticated: true}
	c.transitionLocked(StateAuthenticated)
}

// afterApply runs the side effects of an applied change: renewal and
// navigation. Remote changes never reload the tab.
func (c *Coordinator) afterApply(ctx context.Context, msg broadcast.Message) {
	user, _ := broadcast.UserOf(msg)
	switch msg.(type) {
	case broadcast.Logout:
		c.scheduler.Cancel()
		c.navigate(RouteLogin)
	default:
		c.scheduler.Schedule(ctx)
		c.enterApp()
	}
	c.logAudit(ctx, audit.Event{
		Action:    audit.ActionRemoteApplied,
		UserID:    user.ID,
		CompanyID: user.CompanyID,
		Source:    sourceRemote,
		Reason:    string(msg.Kind()),
	})
}
