package session

import (
	"context"

	"sessionkit/internal/audit"
	dErrors "sessionkit/pkg/domain-errors"
)

const refreshKey = "refresh"

// Refresh renews the token pair now. Any failure is fatal to the session: it
// logs out locally without asking and the returned error says why.
func (c *Coordinator) Refresh(ctx context.Context) error {
	if _, _, err := c.snapshot(); err != nil {
		return err
	}
	return c.refresh(ctx, "explicit")
}

// onRenewalDue runs on the scheduler timer. Another tab may already have
// renewed the shared pair, in which case only the timer is re-armed.
func (c *Coordinator) onRenewalDue(ctx context.Context) {
	state, _, err := c.snapshot()
	if err != nil || (state != StateAuthenticated && state != StateAwaitingConflictResolution) {
		return
	}
	if _, ok := c.creds.Read(ctx); !ok {
		// another tab logged out; its LOGOUT drives this tab
		c.logger.DebugContext(ctx, "renewal due without credentials")
		return
	}
	// an early jittered timer still counts as due
	if !c.creds.IsExpiringWithin(ctx, c.buffer+c.jitter) {
		c.metrics.incRefresh(sourceTimer, "renewed_elsewhere")
		c.scheduler.Schedule(ctx)
		return
	}
	_ = c.refresh(ctx, sourceTimer)
}

// refresh collapses concurrent renewals of this tab into one call. In-flight
// calls are not cancelled by the caller's context.
func (c *Coordinator) refresh(ctx context.Context, trigger string) error {
	_, err, _ := c.refreshes.Do(refreshKey, func() (any, error) {
		return nil, c.doRefresh(context.WithoutCancel(ctx), trigger)
	})
	return err
}

func (c *Coordinator) doRefresh(ctx context.Context, trigger string) error {
	state, epoch, err := c.snapshot()
	if err != nil {
		return err
	}
	if state != StateAuthenticated && state != StateAwaitingConflictResolution {
		return invalidState(msgNotSignedIn)
	}

	pair, ok := c.creds.Read(ctx)
	if !ok {
		c.metrics.incRefresh(trigger, "no_credentials")
		if state == StateAuthenticated {
			c.finalizeLogout(ctx, &epoch, sourceLocal, "missing_credentials")
		}
		return dErrors.New(dErrors.CodeUnauthorized, msgSessionExpired)
	}

	grant, err := c.api.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		if current, ok := c.creds.Read(ctx); ok && current.RefreshToken != pair.RefreshToken && !c.creds.IsExpired(ctx) {
			// another tab rotated the pair while this call was in flight
			c.metrics.incRefresh(trigger, "renewed_elsewhere")
			c.scheduler.Schedule(ctx)
			return nil
		}
		c.metrics.incRefresh(trigger, "failed")
		c.logger.WarnContext(ctx, "token refresh failed, ending session",
			"trigger", trigger,
			"code", string(dErrors.CodeOf(err)),
			"error", err,
		)
		c.logAudit(ctx, audit.Event{Action: audit.ActionRefreshFailed, UserID: c.userID(), Source: trigger, Reason: string(dErrors.CodeOf(err))})
		c.finalizeLogout(ctx, &epoch, sourceLocal, "refresh_failed")
		return userFacing(err, opRefresh)
	}

	c.writeMu.Lock()
	if !c.epochIs(epoch) {
		c.writeMu.Unlock()
		c.metrics.incRefresh(trigger, "discarded")
		c.logger.InfoContext(ctx, "refresh result discarded, session changed meanwhile", "trigger", trigger)
		return nil
	}
	if _, err := c.creds.Store(ctx, grant.AccessToken, grant.RefreshToken, grant.TTL); err != nil {
		c.writeMu.Unlock()
		c.metrics.incRefresh(trigger, "failed")
		c.logger.ErrorContext(ctx, "failed to store renewed credentials", "error", err)
		c.finalizeLogout(ctx, &epoch, sourceLocal, "store_failed")
		return userFacing(err, opRefresh)
	}
	if grant.User != nil {
		c.mu.Lock()
		if c.state == StateAuthenticated && c.session.User != nil && c.session.User.SameIdentity(*grant.User) {
			u := *grant.User
			c.session.User = &u
		}
		c.mu.Unlock()
	}
	c.writeMu.Unlock()

	c.scheduler.Schedule(ctx)
	c.metrics.incRefresh(trigger, "ok")
	c.logAudit(ctx, audit.Event{Action: audit.ActionRefreshed, UserID: c.userID(), Source: trigger})
	return nil
}

func (c *Coordinator) userID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.User == nil {
		return ""
	}
	return c.session.User.ID
}
