package session_test

import (
	"context"
	"time"

	"go.uber.org/mock/gomock"

	"sessionkit/internal/audit"
	"sessionkit/internal/authclient"
	"sessionkit/internal/broadcast"
	"sessionkit/internal/session"
	dErrors "sessionkit/pkg/domain-errors"
)

func (s *CoordinatorSuite) TestTimerRenewsAndReschedules() {
	s.startAuthenticated(ada)
	s.api.EXPECT().Refresh(gomock.Any(), "refresh-access-init").Return(grantFor(ada, "access-2", time.Hour), nil).Times(1)

	s.clock.Advance(3300 * time.Second)

	pair, ok := s.creds.Read(s.ctx)
	s.Require().True(ok)
	s.Equal("access-2", pair.AccessToken)
	due, armed := s.coord.RenewalDue()
	s.Require().True(armed)
	s.Equal(start.Add(6600*time.Second), due)
	s.Len(s.clock.Pending(), 1)
	s.Contains(s.audits.Actions(), audit.ActionRefreshed)
}

func (s *CoordinatorSuite) TestTimerSkipsNetworkWhenAnotherTabRenewed() {
	s.startAuthenticated(ada)
	s.clock.Advance(time.Hour - 10*time.Minute)
	s.seed("access-other-tab", time.Hour)

	// no Refresh expectation: the timer must only re-arm
	s.clock.Advance(5 * time.Minute)

	due, armed := s.coord.RenewalDue()
	s.Require().True(armed)
	s.Equal(start.Add(50*time.Minute+time.Hour-5*time.Minute), due)
}

func (s *CoordinatorSuite) TestJitteredTimerRenewsOnce() {
	s.coord.Dispose()
	deps := session.Deps{
		TabID:       "tab-jitter",
		API:         s.api,
		Credentials: s.creds,
		Bus:         s.bus,
		Unsaved:     s.unsaved,
		Navigator:   s.nav,
		Prompter:    s.prompt,
	}
	coord, err := session.New(deps, session.WithClock(s.clock), session.WithLogger(discardLogger()), session.WithRenewalJitter(time.Minute))
	s.Require().NoError(err)
	s.coord = coord
	s.startAuthenticated(ada)

	due, armed := s.coord.RenewalDue()
	s.Require().True(armed)
	s.False(due.Before(start.Add(3240*time.Second)))
	s.False(due.After(start.Add(3300*time.Second)))

	// an early fire still renews instead of re-arming in place
	s.api.EXPECT().Refresh(gomock.Any(), "refresh-access-init").Return(grantFor(ada, "access-2", time.Hour), nil).Times(1)
	s.clock.Advance(3300 * time.Second)

	pair, ok := s.creds.Read(s.ctx)
	s.Require().True(ok)
	s.Equal("access-2", pair.AccessToken)
	due, armed = s.coord.RenewalDue()
	s.Require().True(armed)
	s.True(due.After(s.clock.Now()))
	s.Len(s.clock.Pending(), 1)
}

func (s *CoordinatorSuite) TestRefreshRejectedLogsOutWithOneBroadcast() {
	s.startAuthenticated(ada)
	s.dirty(nil)
	s.api.EXPECT().Refresh(gomock.Any(), gomock.Any()).Return(authclient.Grant{}, dErrors.New(dErrors.CodeUnauthorized, "refresh token revoked"))
	s.bus.EXPECT().Publish(gomock.Any(), broadcast.Logout{}).Return("env").Times(1)
	s.expectNavigate(session.RouteLogin)

	err := s.coord.Refresh(s.ctx)
	s.Require().Error(err)
	s.Equal("Your session has expired. Please sign in again.", err.Error())

	s.Equal(session.StateUnauthenticated, s.coord.State())
	_, ok := s.creds.Read(s.ctx)
	s.False(ok)
	_, armed := s.coord.RenewalDue()
	s.False(armed)
	s.Contains(s.audits.Actions(), audit.ActionRefreshFailed)
}

func (s *CoordinatorSuite) TestRefreshNetworkFailureIsAlsoFatal() {
	s.startAuthenticated(ada)
	s.api.EXPECT().Refresh(gomock.Any(), gomock.Any()).Return(authclient.Grant{}, dErrors.New(dErrors.CodeUnavailable, "auth api unreachable"))
	s.bus.EXPECT().Publish(gomock.Any(), broadcast.Logout{}).Return("env").Times(1)
	s.expectNavigate(session.RouteLogin)

	err := s.coord.Refresh(s.ctx)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	s.Equal(session.StateUnauthenticated, s.coord.State())
}

func (s *CoordinatorSuite) TestRefreshRejectedAfterAnotherTabRotatedKeepsSession() {
	s.startAuthenticated(ada)
	s.api.EXPECT().Refresh(gomock.Any(), "refresh-access-init").
		DoAndReturn(func(context.Context, string) (authclient.Grant, error) {
			s.seed("access-rotated", time.Hour)
			return authclient.Grant{}, dErrors.New(dErrors.CodeUnauthorized, "refresh token already used")
		})

	s.Require().NoError(s.coord.Refresh(s.ctx))
	s.Equal(session.StateAuthenticated, s.coord.State())
	pair, _ := s.creds.Read(s.ctx)
	s.Equal("access-rotated", pair.AccessToken)
}

func (s *CoordinatorSuite) TestRefreshResultAfterLogoutIsDiscarded() {
	s.startAuthenticated(ada)
	entered := make(chan struct{})
	release := make(chan struct{})
	s.api.EXPECT().Refresh(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, string) (authclient.Grant, error) {
			close(entered)
			<-release
			return grantFor(ada, "access-late", time.Hour), nil
		})
	s.bus.EXPECT().Publish(gomock.Any(), broadcast.Logout{}).Return("env").Times(1)
	s.expectNavigate(session.RouteLogin)

	done := make(chan error, 1)
	go func() { done <- s.coord.Refresh(s.ctx) }()
	<-entered

	ok, err := s.coord.Logout(s.ctx)
	s.Require().NoError(err)
	s.Require().True(ok)
	close(release)
	s.Require().NoError(<-done)

	s.Equal(session.StateUnauthenticated, s.coord.State())
	_, stored := s.creds.Read(s.ctx)
	s.False(stored, "late refresh must not resurrect credentials")
	_, armed := s.coord.RenewalDue()
	s.False(armed)
}

func (s *CoordinatorSuite) TestRefreshRequiresSession() {
	s.startUnauthenticated()
	err := s.coord.Refresh(s.ctx)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
}
