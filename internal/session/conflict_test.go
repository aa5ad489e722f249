package session_test

import (
	"context"
	"errors"

	"go.uber.org/mock/gomock"

	"sessionkit/internal/audit"
	"sessionkit/internal/session"
	dErrors "sessionkit/pkg/domain-errors"
)

func (s *CoordinatorSuite) TestSaveAndSyncAppliesPendingChange() {
	saved := 0
	s.openConflict(func(context.Context) error { saved++; return nil })
	s.prompt.EXPECT().HideConflict().Times(1)
	s.expectNavigate(session.RouteLogin)

	s.Require().NoError(s.coord.ResolveConflict(s.ctx, session.ResolutionSaveAndSync))

	s.Equal(1, saved)
	s.Equal(session.StateUnauthenticated, s.coord.State())
	s.Contains(s.audits.Actions(), audit.ActionConflictResolved)
}

func (s *CoordinatorSuite) TestSaveFailureKeepsPromptOpen() {
	s.openConflict(func(context.Context) error { return errors.New("disk full") })
	s.prompt.EXPECT().Alert("Your changes could not be saved. Try again or choose another option.").Times(1)

	err := s.coord.ResolveConflict(s.ctx, session.ResolutionSaveAndSync)
	s.Require().Error(err)

	s.Equal(session.StateAwaitingConflictResolution, s.coord.State())
	s.True(s.unsaved.HasUnsavedWork())
	s.True(s.coord.Session().IsAuthenticated)
	_, ok := s.coord.Pending()
	s.True(ok)
}

func (s *CoordinatorSuite) TestItemWithoutSaveCannotSync() {
	s.openConflict(nil)
	s.prompt.EXPECT().Alert(gomock.Any()).Times(1)

	s.Error(s.coord.ResolveConflict(s.ctx, session.ResolutionSaveAndSync))
	s.Equal(session.StateAwaitingConflictResolution, s.coord.State())
}

func (s *CoordinatorSuite) TestProceedDeclinedKeepsPrompt() {
	s.openConflict(nil)
	s.prompt.EXPECT().Confirm(gomock.Any(), "Discard 1 unsaved item? This cannot be undone.").Return(false)

	s.Require().NoError(s.coord.ResolveConflict(s.ctx, session.ResolutionProceedWithoutSaving))

	s.Equal(session.StateAwaitingConflictResolution, s.coord.State())
	s.True(s.unsaved.HasUnsavedWork())
}

func (s *CoordinatorSuite) TestProceedDiscardsAndApplies() {
	s.openConflict(nil)
	s.prompt.EXPECT().Confirm(gomock.Any(), gomock.Any()).Return(true)
	s.prompt.EXPECT().HideConflict().Times(1)
	s.expectNavigate(session.RouteLogin)

	s.Require().NoError(s.coord.ResolveConflict(s.ctx, session.ResolutionProceedWithoutSaving))

	s.Equal(session.StateUnauthenticated, s.coord.State())
	s.False(s.unsaved.HasUnsavedWork())
}

func (s *CoordinatorSuite) TestDismissKeepsCurrentSession() {
	s.openConflict(nil)
	s.prompt.EXPECT().HideConflict().Times(1)

	s.Require().NoError(s.coord.ResolveConflict(s.ctx, session.ResolutionDismiss))

	s.Equal(session.StateAuthenticated, s.coord.State())
	s.Equal("u-ada", s.coord.Session().User.ID)
	s.True(s.unsaved.HasUnsavedWork())
	_, ok := s.coord.Pending()
	s.False(ok)
}

func (s *CoordinatorSuite) TestResolveWithoutConflict() {
	s.startAuthenticated(ada)
	err := s.coord.ResolveConflict(s.ctx, session.ResolutionDismiss)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func (s *CoordinatorSuite) TestUnknownResolution() {
	s.openConflict(nil)
	err := s.coord.ResolveConflict(s.ctx, session.Resolution(99))
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
}
