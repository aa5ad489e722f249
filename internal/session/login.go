package session

import (
	"context"

	"sessionkit/internal/audit"
	"sessionkit/internal/authclient"
	"sessionkit/internal/broadcast"
	"sessionkit/internal/identity"
	dErrors "sessionkit/pkg/domain-errors"
)

// Login signs in, tells the other tabs and reloads this one. Failures leave
// the session untouched and come back as a user-facing error.
func (c *Coordinator) Login(ctx context.Context, email, password string) error {
	state, _, err := c.snapshot()
	if err != nil {
		return err
	}
	switch state {
	case StateInitializing:
		return invalidState(msgNotReady)
	case StateAwaitingConflictResolution:
		return invalidState(msgResolveFirst)
	}

	c.setLoading(true, "")
	grant, err := c.api.Login(ctx, email, password)
	if err != nil {
		uf := userFacing(err, opLogin)
		c.setLoading(false, uf.Error())
		c.logger.InfoContext(ctx, "login failed", "code", string(dErrors.CodeOf(err)), "error", err)
		return uf
	}

	user, ok := c.userFromGrant(grant)
	if !ok {
		uf := userFacing(dErrors.New(dErrors.CodeInternal, "login response carried no user"), opLogin)
		c.setLoading(false, uf.Error())
		return uf
	}

	c.writeMu.Lock()
	if _, err := c.creds.Store(ctx, grant.AccessToken, grant.RefreshToken, grant.TTL); err != nil {
		c.writeMu.Unlock()
		uf := userFacing(err, opLogin)
		c.setLoading(false, uf.Error())
		c.logger.ErrorContext(ctx, "failed to store credentials", "error", err)
		return uf
	}
	c.bus.Publish(ctx, broadcast.Login{User: user})
	c.mu.Lock()
	c.epoch++
	c.session = Session{User: &user, IsAuthenticated: true}
	c.pending = nil
	c.transitionLocked(StateAuthenticated)
	c.mu.Unlock()
	c.writeMu.Unlock()

	c.scheduler.Schedule(ctx)
	c.logAudit(ctx, audit.Event{Action: audit.ActionLogin, UserID: user.ID, CompanyID: user.CompanyID, Source: sourceLocal})
	c.nav.Reload()
	return nil
}

// Signup registers an account without signing in.
func (c *Coordinator) Signup(ctx context.Context, req authclient.SignupRequest) (authclient.SignupResponse, error) {
	if _, _, err := c.snapshot(); err != nil {
		return authclient.SignupResponse{}, err
	}

	c.setLoading(true, "")
	resp, err := c.api.Signup(ctx, req)
	if err != nil {
		uf := userFacing(err, opSignup)
		c.setLoading(false, uf.Error())
		c.logger.InfoContext(ctx, "signup failed", "code", string(dErrors.CodeOf(err)), "error", err)
		return authclient.SignupResponse{}, uf
	}
	c.setLoading(false, "")
	c.logAudit(ctx, audit.Event{Action: audit.ActionSignup, UserID: resp.UserID, Source: sourceLocal})
	return resp, nil
}

// CurrentUser fetches the user behind the stored access token and refreshes
// the session's copy when it is the same principal.
func (c *Coordinator) CurrentUser(ctx context.Context) (identity.User, error) {
	if _, _, err := c.snapshot(); err != nil {
		return identity.User{}, err
	}
	user, err := c.api.Me(ctx)
	if err != nil {
		return identity.User{}, userFacing(err, opMe)
	}

	c.mu.Lock()
	if c.state == StateAuthenticated && c.session.User != nil && c.session.User.SameIdentity(user) {
		u := user
		c.session.User = &u
	}
	c.mu.Unlock()
	return user, nil
}

// SwitchCompany re-scopes the session to companyID and broadcasts the change.
// It reports false when the user declined to discard unsaved work or the
// session already targets companyID.
func (c *Coordinator) SwitchCompany(ctx context.Context, companyID string) (bool, error) {
	state, epoch, err := c.snapshot()
	if err != nil {
		return false, err
	}
	if state == StateAwaitingConflictResolution {
		return false, invalidState(msgResolveFirst)
	}
	if state != StateAuthenticated {
		return false, invalidState(msgNotSignedIn)
	}
	if current := c.Session().User; current != nil && current.CompanyID == companyID {
		return false, nil
	}
	discard := c.unsaved.HasUnsavedWork()
	if discard && !c.prompt.Confirm(ctx, switchConfirmMessage(c.unsaved.Summary())) {
		return false, nil
	}

	grant, err := c.api.SwitchCompany(ctx, companyID)
	if err != nil {
		return false, userFacing(err, opSwitchCompany)
	}
	user, ok := c.userFromGrant(grant)
	if !ok {
		return false, userFacing(dErrors.New(dErrors.CodeInternal, "switch-company response carried no user"), opSwitchCompany)
	}

	c.writeMu.Lock()
	if !c.epochIs(epoch) {
		c.writeMu.Unlock()
		c.logger.InfoContext(ctx, "company switch discarded, session changed meanwhile")
		return false, invalidState("The session changed while switching company.")
	}
	if _, err := c.creds.Store(ctx, grant.AccessToken, grant.RefreshToken, grant.TTL); err != nil {
		c.writeMu.Unlock()
		return false, userFacing(err, opSwitchCompany)
	}
	c.bus.Publish(ctx, broadcast.CompanySwitch{User: user})
	c.mu.Lock()
	c.epoch++
	c.session = Session{User: &user, IsAuthenticated: true}
	c.mu.Unlock()
	c.writeMu.Unlock()

	if discard {
		c.unsaved.Clear()
	}
	c.scheduler.Schedule(ctx)
	c.logAudit(ctx, audit.Event{Action: audit.ActionCompanySwitched, UserID: user.ID, CompanyID: user.CompanyID, Source: sourceLocal})
	c.nav.Navigate(RouteApp)
	return true, nil
}

// userFromGrant prefers the user in the response body and falls back to the
// access token claims.
func (c *Coordinator) userFromGrant(grant authclient.Grant) (identity.User, bool) {
	if grant.User != nil && grant.User.ID != "" {
		return *grant.User, true
	}
	if claims, ok := c.creds.DecodePayload(grant.AccessToken); ok {
		if user := identity.FromClaims(claims); user.ID != "" {
			return user, true
		}
	}
	return identity.User{}, false
}
