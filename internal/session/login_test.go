package session_test

import (
	"time"

	"go.uber.org/mock/gomock"

	"sessionkit/internal/audit"
	"sessionkit/internal/authclient"
	"sessionkit/internal/broadcast"
	"sessionkit/internal/session"
	dErrors "sessionkit/pkg/domain-errors"
)

func (s *CoordinatorSuite) TestLoginPublishesOnceArmsRenewalAndReloads() {
	s.startUnauthenticated()

	s.api.EXPECT().Login(gomock.Any(), "a@b.com", "Password1!").Return(grantFor(ada, "access-1", 3600*time.Second), nil)
	s.bus.EXPECT().Publish(gomock.Any(), broadcast.Login{User: ada}).Return("env-1").Times(1)
	s.nav.EXPECT().Reload().Times(1)

	s.Require().NoError(s.coord.Login(s.ctx, "a@b.com", "Password1!"))

	s.Equal(session.StateAuthenticated, s.coord.State())
	sess := s.coord.Session()
	s.True(sess.IsAuthenticated)
	s.False(sess.IsLoading)
	s.Empty(sess.Error)
	s.Equal(ada, *sess.User)

	pair, ok := s.creds.Read(s.ctx)
	s.Require().True(ok)
	s.Equal("access-1", pair.AccessToken)
	s.Equal(start.Add(time.Hour).Unix(), pair.ExpiresAt)

	due, armed := s.coord.RenewalDue()
	s.Require().True(armed)
	s.Equal(start.Add(3300*time.Second), due)
	s.Len(s.clock.Pending(), 1)
	s.Contains(s.audits.Actions(), audit.ActionLogin)
}

func (s *CoordinatorSuite) TestLoginFailuresLeaveSessionUntouched() {
	cases := []struct {
		name string
		err  error
		want string
		code dErrors.Code
	}{
		{"network", dErrors.New(dErrors.CodeUnavailable, "auth api unreachable"), "Unable to connect. Please check your connection and try again.", dErrors.CodeUnavailable},
		{"rejected", dErrors.New(dErrors.CodeUnauthorized, "bad credentials"), "Invalid email or password.", dErrors.CodeUnauthorized},
		{"server", dErrors.New(dErrors.CodeInternal, "http 500"), "Something went wrong. Please try again.", dErrors.CodeInternal},
	}
	s.startUnauthenticated()
	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.api.EXPECT().Login(gomock.Any(), "a@b.com", "x").Return(authclient.Grant{}, tc.err)

			err := s.coord.Login(s.ctx, "a@b.com", "x")
			s.Require().Error(err)
			s.Equal(tc.want, err.Error())
			s.Equal(tc.code, dErrors.CodeOf(err))

			s.Equal(session.StateUnauthenticated, s.coord.State())
			sess := s.coord.Session()
			s.False(sess.IsLoading)
			s.Equal(tc.want, sess.Error)
			_, ok := s.creds.Read(s.ctx)
			s.False(ok)
		})
	}
}

func (s *CoordinatorSuite) TestLoginWithoutAnyUserFails() {
	s.startUnauthenticated()
	grant := grantFor(ada, "not-a-jwt", time.Hour)
	grant.User = nil
	s.api.EXPECT().Login(gomock.Any(), gomock.Any(), gomock.Any()).Return(grant, nil)

	err := s.coord.Login(s.ctx, "a@b.com", "x")
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	s.Equal(session.StateUnauthenticated, s.coord.State())
}

func (s *CoordinatorSuite) TestLoginRejectedWhileConflictPending() {
	s.openConflict(nil)
	err := s.coord.Login(s.ctx, "a@b.com", "x")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func (s *CoordinatorSuite) TestSignupDoesNotSignIn() {
	s.startUnauthenticated()
	req := authclient.SignupRequest{Email: "ada@example.com", Password: "Password1!", FirstName: "Ada", LastName: "L"}
	s.api.EXPECT().Signup(gomock.Any(), req).Return(authclient.SignupResponse{UserID: "u-9", Email: req.Email}, nil)

	resp, err := s.coord.Signup(s.ctx, req)
	s.Require().NoError(err)
	s.Equal("u-9", resp.UserID)
	s.Equal(session.StateUnauthenticated, s.coord.State())
	s.Contains(s.audits.Actions(), audit.ActionSignup)
}

func (s *CoordinatorSuite) TestSignupValidationMessagePassesThrough() {
	s.startUnauthenticated()
	s.api.EXPECT().Signup(gomock.Any(), gomock.Any()).Return(authclient.SignupResponse{}, dErrors.New(dErrors.CodeConflict, "email already registered"))

	_, err := s.coord.Signup(s.ctx, authclient.SignupRequest{Email: "a@b.com"})
	s.Require().Error(err)
	s.Equal("email already registered", err.Error())
	s.Equal("email already registered", s.coord.Session().Error)
}

func (s *CoordinatorSuite) TestCurrentUserRefreshesSessionCopy() {
	s.startAuthenticated(ada)
	renamed := ada
	renamed.FirstName = "Augusta"
	s.api.EXPECT().Me(gomock.Any()).Return(renamed, nil)

	user, err := s.coord.CurrentUser(s.ctx)
	s.Require().NoError(err)
	s.Equal("Augusta", user.FirstName)
	s.Equal("Augusta", s.coord.Session().User.FirstName)
}

func (s *CoordinatorSuite) TestSwitchCompanyBroadcastsAndNavigates() {
	s.startAuthenticated(ada)
	switched := ada
	switched.CompanyID = "c-9"
	s.api.EXPECT().SwitchCompany(gomock.Any(), "c-9").Return(grantFor(switched, "access-c9", 30*time.Minute), nil)
	s.bus.EXPECT().Publish(gomock.Any(), broadcast.CompanySwitch{User: switched}).Return("env").Times(1)
	s.expectNavigate(session.RouteApp)
	s.router.set("/app/settings")

	ok, err := s.coord.SwitchCompany(s.ctx, "c-9")
	s.Require().NoError(err)
	s.True(ok)
	s.Equal("c-9", s.coord.Session().User.CompanyID)

	due, _ := s.coord.RenewalDue()
	s.Equal(start.Add(25*time.Minute), due)
}

func (s *CoordinatorSuite) TestSwitchCompanySameCompanyIsNoop() {
	s.startAuthenticated(ada)
	ok, err := s.coord.SwitchCompany(s.ctx, ada.CompanyID)
	s.NoError(err)
	s.False(ok)
}

func (s *CoordinatorSuite) TestSwitchCompanyDeclinedWithUnsavedWork() {
	s.startAuthenticated(ada)
	s.dirty(nil)
	s.prompt.EXPECT().Confirm(gomock.Any(), "You have 1 unsaved item: Profile. Switch company anyway?").Return(false)

	ok, err := s.coord.SwitchCompany(s.ctx, "c-9")
	s.NoError(err)
	s.False(ok)
	s.True(s.unsaved.HasUnsavedWork())
}
