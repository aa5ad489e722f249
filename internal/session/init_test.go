package session_test

import (
	"errors"
	"time"

	"go.uber.org/mock/gomock"

	"sessionkit/internal/audit"
	"sessionkit/internal/broadcast"
	"sessionkit/internal/session"
	dErrors "sessionkit/pkg/domain-errors"
)

func (s *CoordinatorSuite) TestInitWithoutCredentials() {
	s.Equal(session.StateInitializing, s.coord.State())
	s.True(s.coord.Session().IsLoading)

	s.startUnauthenticated()

	sess := s.coord.Session()
	s.False(sess.IsLoading)
	s.False(sess.IsAuthenticated)
	s.Nil(sess.User)
	_, armed := s.coord.RenewalDue()
	s.False(armed)
}

func (s *CoordinatorSuite) TestInitRestoresSessionAndArmsRenewal() {
	s.startAuthenticated(ada)

	sess := s.coord.Session()
	s.True(sess.IsAuthenticated)
	s.Require().NotNil(sess.User)
	s.Equal(ada.ID, sess.User.ID)

	due, armed := s.coord.RenewalDue()
	s.Require().True(armed)
	s.Equal(start.Add(3300*time.Second), due)
}

func (s *CoordinatorSuite) TestInitWithExpiredCredentialsSkipsLookup() {
	s.seed("access-old", time.Minute)
	s.clock.Advance(2 * time.Minute)
	s.expectSubscribe()

	s.Require().NoError(s.coord.Init(s.ctx))
	s.Equal(session.StateUnauthenticated, s.coord.State())
}

func (s *CoordinatorSuite) TestInitClearsCredentialsWhenLookupFails() {
	s.seed("access-revoked", time.Hour)
	s.expectSubscribe()
	s.api.EXPECT().Me(gomock.Any()).Return(identityZero(), dErrors.New(dErrors.CodeUnauthorized, "token revoked"))

	s.Require().NoError(s.coord.Init(s.ctx))

	s.Equal(session.StateUnauthenticated, s.coord.State())
	_, ok := s.creds.Read(s.ctx)
	s.False(ok)
}

func (s *CoordinatorSuite) TestInitKeepsCredentialsWhenLookupUnavailable() {
	s.seed("access-live", time.Hour)
	s.expectSubscribe()
	s.api.EXPECT().Me(gomock.Any()).Return(identityZero(), dErrors.New(dErrors.CodeUnavailable, "auth api unreachable"))

	s.Require().NoError(s.coord.Init(s.ctx))

	s.Equal(session.StateUnauthenticated, s.coord.State())
	pair, ok := s.creds.Read(s.ctx)
	s.Require().True(ok)
	s.Equal("access-live", pair.AccessToken)
}

func (s *CoordinatorSuite) TestInitTwiceFails() {
	s.startUnauthenticated()
	err := s.coord.Init(s.ctx)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func (s *CoordinatorSuite) TestInitSubscribeFailure() {
	s.bus.EXPECT().Subscribe(gomock.Any(), gomock.Any()).Return(nil, errors.New("no transport"))
	s.Error(s.coord.Init(s.ctx))
}

func (s *CoordinatorSuite) TestDisposeStopsEverything() {
	s.startAuthenticated(ada)
	s.coord.Dispose()
	s.coord.Dispose()

	_, armed := s.coord.RenewalDue()
	s.False(armed)
	s.ErrorIs(s.coord.Login(s.ctx, "a@b.com", "x"), session.ErrDisposed)
	_, err := s.coord.Logout(s.ctx)
	s.ErrorIs(err, session.ErrDisposed)
	s.ErrorIs(s.coord.Refresh(s.ctx), session.ErrDisposed)

	// deliveries racing Dispose are dropped without touching the UI
	s.remote(broadcast.Logout{})
	s.Equal(session.StateAuthenticated, s.coord.State())
	s.NotContains(s.audits.Actions(), audit.ActionRemoteApplied)
}
