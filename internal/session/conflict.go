package session

import (
	"context"

	"sessionkit/internal/audit"
	"sessionkit/internal/broadcast"
	dErrors "sessionkit/pkg/domain-errors"
)

// ResolveConflict applies the user's answer to the open conflict prompt.
//
// SaveAndSync saves every dirty item and then applies the pending change. If
// saving fails the prompt stays open, an alert is shown and the error is
// returned. ProceedWithoutSaving asks for a second confirmation naming the
// unsaved item count, then discards the work and applies the change. Dismiss
// drops the pending change and keeps the tab on its current session.
func (c *Coordinator) ResolveConflict(ctx context.Context, r Resolution) error {
	state, _, err := c.snapshot()
	if err != nil {
		return err
	}
	if state != StateAwaitingConflictResolution {
		return invalidState(msgNoConflict)
	}

	switch r {
	case ResolutionSaveAndSync:
		if err := c.unsaved.SaveAll(ctx); err != nil {
			c.prompt.Alert(msgSaveFailed)
			c.metrics.incResolution(r, "save_failed")
			c.logger.WarnContext(ctx, "save before sync failed, prompt kept open", "error", err)
			return dErrors.Wrap(err, dErrors.CodeInternal, msgSaveFailed)
		}
		return c.settle(ctx, r)

	case ResolutionProceedWithoutSaving:
		if count := c.unsaved.UnsavedCount(); count > 0 {
			if !c.prompt.Confirm(ctx, discardConfirmMessage(count)) {
				c.metrics.incResolution(r, "declined")
				return nil
			}
		}
		c.unsaved.Clear()
		return c.settle(ctx, r)

	case ResolutionDismiss:
		c.writeMu.Lock()
		c.mu.Lock()
		if c.state != StateAwaitingConflictResolution {
			c.mu.Unlock()
			c.writeMu.Unlock()
			return nil
		}
		kind := c.pending.Kind
		c.pending = nil
		c.transitionLocked(c.resume)
		c.mu.Unlock()
		c.writeMu.Unlock()

		c.prompt.HideConflict()
		c.metrics.incResolution(r, "ok")
		c.logAudit(ctx, audit.Event{Action: audit.ActionConflictResolved, UserID: c.userID(), Source: sourceLocal, Reason: r.String() + ":" + string(kind)})
		return nil

	default:
		return dErrors.New(dErrors.CodeBadRequest, "unknown conflict resolution")
	}
}

// settle applies the latest pending change. A pending LOGIN whose
// credentials are gone from the shared store is applied as a LOGOUT so an
// authenticated session always has a live pair behind it.
func (c *Coordinator) settle(ctx context.Context, r Resolution) error {
	c.writeMu.Lock()
	c.mu.Lock()
	if c.state != StateAwaitingConflictResolution || c.pending == nil {
		c.mu.Unlock()
		c.writeMu.Unlock()
		return nil
	}
	msg := c.pending.msg
	c.mu.Unlock()

	if msg.Kind() != broadcast.KindLogout && !c.hasLiveCredentials(ctx) {
		msg = broadcast.Logout{}
	}

	c.mu.Lock()
	c.pending = nil
	noop := c.isNoopLocked(c.resume, msg)
	if noop {
		c.transitionLocked(c.resume)
	} else {
		c.applyLocked(msg)
	}
	c.mu.Unlock()
	c.writeMu.Unlock()

	c.prompt.HideConflict()
	if !noop {
		c.afterApply(ctx, msg)
	}
	c.metrics.incResolution(r, "ok")
	c.logAudit(ctx, audit.Event{Action: audit.ActionConflictResolved, UserID: c.userID(), Source: sourceLocal, Reason: r.String() + ":" + string(msg.Kind())})
	return nil
}
