package session_test

import (
	"go.uber.org/mock/gomock"

	"sessionkit/internal/audit"
	"sessionkit/internal/broadcast"
	"sessionkit/internal/session"
)

func (s *CoordinatorSuite) TestLogoutWithoutUnsavedWork() {
	s.startAuthenticated(ada)
	s.unsaved.Register("notes", "Notes", nil)
	s.bus.EXPECT().Publish(gomock.Any(), broadcast.Logout{}).Return("env").Times(1)
	s.expectNavigate(session.RouteLogin)

	ok, err := s.coord.Logout(s.ctx)
	s.Require().NoError(err)
	s.True(ok)

	s.Equal(session.StateUnauthenticated, s.coord.State())
	s.Nil(s.coord.Session().User)
	_, stored := s.creds.Read(s.ctx)
	s.False(stored)
	_, armed := s.coord.RenewalDue()
	s.False(armed)
	s.Empty(s.clock.Pending())
	s.Equal(0, s.unsaved.UnsavedCount())
	s.Contains(s.audits.Actions(), audit.ActionLogout)
}

func (s *CoordinatorSuite) TestLogoutDeclinedKeepsSession() {
	s.startAuthenticated(ada)
	s.dirty(nil)
	s.prompt.EXPECT().Confirm(gomock.Any(), "You have 1 unsaved item: Profile. Log out anyway?").Return(false)

	ok, err := s.coord.Logout(s.ctx)
	s.Require().NoError(err)
	s.False(ok)

	s.Equal(session.StateAuthenticated, s.coord.State())
	_, stored := s.creds.Read(s.ctx)
	s.True(stored)
	s.True(s.unsaved.HasUnsavedWork())
}

func (s *CoordinatorSuite) TestLogoutConfirmedDiscardsWork() {
	s.startAuthenticated(ada)
	s.dirty(nil)
	s.prompt.EXPECT().Confirm(gomock.Any(), gomock.Any()).Return(true)
	s.bus.EXPECT().Publish(gomock.Any(), broadcast.Logout{}).Return("env").Times(1)
	s.expectNavigate(session.RouteLogin)

	ok, err := s.coord.Logout(s.ctx)
	s.Require().NoError(err)
	s.True(ok)
	s.False(s.unsaved.HasUnsavedWork())
}

func (s *CoordinatorSuite) TestLogoutWhenSignedOutIsNoop() {
	s.startUnauthenticated()
	ok, err := s.coord.Logout(s.ctx)
	s.NoError(err)
	s.False(ok)
}

func (s *CoordinatorSuite) TestLocalLogoutClosesOpenConflict() {
	s.openConflict(nil)
	s.prompt.EXPECT().Confirm(gomock.Any(), gomock.Any()).Return(true)
	s.prompt.EXPECT().HideConflict().Times(1)
	s.bus.EXPECT().Publish(gomock.Any(), broadcast.Logout{}).Return("env").Times(1)
	s.expectNavigate(session.RouteLogin)

	ok, err := s.coord.Logout(s.ctx)
	s.Require().NoError(err)
	s.True(ok)
	_, pending := s.coord.Pending()
	s.False(pending)
}
