package session_test

import (
	"time"

	"go.uber.org/mock/gomock"

	"sessionkit/internal/broadcast"
	"sessionkit/internal/session"
)

func (s *CoordinatorSuite) TestRemoteLogoutApplied() {
	s.startAuthenticated(ada)
	s.expectNavigate(session.RouteLogin)

	s.remote(broadcast.Logout{})

	s.Equal(session.StateUnauthenticated, s.coord.State())
	s.False(s.coord.Session().IsAuthenticated)
	_, armed := s.coord.RenewalDue()
	s.False(armed)
	s.Empty(s.clock.Pending())
}

func (s *CoordinatorSuite) TestRemoteLogoutIsIdempotent() {
	s.startAuthenticated(ada)
	s.expectNavigate(session.RouteLogin)

	s.remote(broadcast.Logout{})
	s.remote(broadcast.Logout{})
	s.remote(broadcast.Logout{})

	s.Equal(session.StateUnauthenticated, s.coord.State())
}

func (s *CoordinatorSuite) TestRemoteLoginForSameUserIsNoop() {
	s.startAuthenticated(ada)
	before := s.coord.Session()

	s.remote(broadcast.Login{User: ada})

	s.Equal(before, s.coord.Session())
	s.Equal(session.StateAuthenticated, s.coord.State())
}

func (s *CoordinatorSuite) TestRemoteLoginIgnoredWithoutCredentials() {
	s.startUnauthenticated()

	s.remote(broadcast.Login{User: grace})

	s.Equal(session.StateUnauthenticated, s.coord.State())
	s.Nil(s.coord.Session().User)
}

func (s *CoordinatorSuite) TestRemoteLoginAppliedWithoutReload() {
	s.startUnauthenticated()
	s.seed("access-grace", time.Hour)
	s.expectNavigate(session.RouteApp)
	s.nav.EXPECT().Reload().Times(0)

	s.remote(broadcast.Login{User: grace})

	s.Equal(session.StateAuthenticated, s.coord.State())
	s.Require().NotNil(s.coord.Session().User)
	s.Equal("u-grace", s.coord.Session().User.ID)
	due, armed := s.coord.RenewalDue()
	s.Require().True(armed)
	s.Equal(start.Add(55*time.Minute), due)
}

func (s *CoordinatorSuite) TestRemoteLoginStaysOnCurrentAppRoute() {
	s.startAuthenticated(ada)
	s.router.set("/app/settings")
	s.seed("access-grace", time.Hour)

	// no Navigate expectation: already inside the app
	s.remote(broadcast.Login{User: grace})

	s.Equal("u-grace", s.coord.Session().User.ID)
	s.Equal("/app/settings", s.router.current())
}

func (s *CoordinatorSuite) TestRemoteCompanySwitchApplied() {
	s.startAuthenticated(ada)
	moved := ada
	moved.CompanyID = "c-9"

	s.remote(broadcast.CompanySwitch{User: moved})

	s.Equal("c-9", s.coord.Session().User.CompanyID)
	s.Equal(session.StateAuthenticated, s.coord.State())
}

func (s *CoordinatorSuite) TestRemoteChangeWithUnsavedWorkPrompts() {
	shown := s.openConflict(nil)

	s.Equal(broadcast.KindLogout, shown.Kind)
	s.Equal("1 unsaved item: Profile", shown.UnsavedSummary)
	s.Equal(1, shown.UnsavedCount)
	s.Nil(shown.IncomingUser)

	// the session is untouched while the prompt is open
	s.True(s.coord.Session().IsAuthenticated)
	s.Equal("u-ada", s.coord.Session().User.ID)
	s.Equal(session.RouteApp, s.router.current())
	_, stored := s.creds.Read(s.ctx)
	s.True(stored)
}

func (s *CoordinatorSuite) TestDuplicateWhileAwaitingDoesNotPromptAgain() {
	s.openConflict(nil)

	s.remote(broadcast.Logout{})

	s.Equal(session.StateAwaitingConflictResolution, s.coord.State())
}

func (s *CoordinatorSuite) TestLatestChangeWinsWhileAwaiting() {
	s.openConflict(nil)
	var latest session.PendingAuthChange
	s.prompt.EXPECT().ShowConflict(gomock.Any()).Do(func(p session.PendingAuthChange) { latest = p }).Times(1)

	s.remote(broadcast.Login{User: grace})

	s.Equal(broadcast.KindLogin, latest.Kind)
	s.Require().NotNil(latest.IncomingUser)
	s.Equal("u-grace", latest.IncomingUser.ID)
	pending, ok := s.coord.Pending()
	s.Require().True(ok)
	s.Equal(broadcast.KindLogin, pending.Kind)
}

func (s *CoordinatorSuite) TestChangeMatchingSessionWithdrawsPrompt() {
	s.openConflict(nil)
	s.prompt.EXPECT().HideConflict().Times(1)

	s.remote(broadcast.Login{User: ada})

	s.Equal(session.StateAuthenticated, s.coord.State())
	_, ok := s.coord.Pending()
	s.False(ok)
	s.True(s.unsaved.HasUnsavedWork())
}
