package unsaved

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	dErrors "sessionkit/pkg/domain-errors"
)

type RegistrySuite struct {
	suite.Suite
	ctx context.Context
	reg *Registry
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) SetupTest() {
	s.ctx = context.Background()
	s.reg = New()
}

func okSave(calls *atomic.Int32) SaveFunc {
	return func(context.Context) error {
		calls.Add(1)
		return nil
	}
}

func (s *RegistrySuite) TestSummaryAndCount() {
	s.False(s.reg.HasUnsavedWork())
	s.Empty(s.reg.Summary())

	var calls atomic.Int32
	s.reg.Register("profile", "Profile", okSave(&calls))
	s.reg.Register("billing", "Billing", okSave(&calls))
	s.reg.Register("theme", "", nil)

	s.True(s.reg.SetDirty("profile", true))
	s.Equal(1, s.reg.UnsavedCount())
	s.Equal("1 unsaved item: Profile", s.reg.Summary())

	s.True(s.reg.SetDirty("theme", true))
	s.True(s.reg.SetDirty("billing", true))
	s.Equal(3, s.reg.UnsavedCount())
	s.Equal("3 unsaved items: Profile, Billing, theme", s.reg.Summary())

	s.False(s.reg.SetDirty("missing", true))
}

func (s *RegistrySuite) TestSaveAllMarksClean() {
	var calls atomic.Int32
	s.reg.Register("profile", "Profile", okSave(&calls))
	s.reg.Register("billing", "Billing", okSave(&calls))
	s.reg.Register("clean", "Clean", okSave(&calls))
	s.reg.SetDirty("profile", true)
	s.reg.SetDirty("billing", true)

	s.Require().NoError(s.reg.SaveAll(s.ctx))
	s.Equal(int32(2), calls.Load(), "only dirty items are saved")
	s.False(s.reg.HasUnsavedWork())
}

func (s *RegistrySuite) TestSaveAllFailureLeavesStateUnchanged() {
	var calls atomic.Int32
	boom := errors.New("boom")
	s.reg.Register("profile", "Profile", okSave(&calls))
	s.reg.Register("billing", "Billing", func(context.Context) error { return boom })
	s.reg.SetDirty("profile", true)
	s.reg.SetDirty("billing", true)

	err := s.reg.SaveAll(s.ctx)
	s.Require().Error(err)
	s.ErrorIs(err, boom)
	s.Contains(err.Error(), "Billing")
	s.Equal(2, s.reg.UnsavedCount(), "successful saves are not marked clean when another fails")

	// Retry after the failing source recovers.
	s.reg.Register("billing", "Billing", okSave(&calls))
	s.Require().NoError(s.reg.SaveAll(s.ctx))
	s.Equal(0, s.reg.UnsavedCount())
}

func (s *RegistrySuite) TestSaveAllWithUnsaveableItem() {
	s.reg.Register("draft", "Draft", nil)
	s.reg.SetDirty("draft", true)

	err := s.reg.SaveAll(s.ctx)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Equal(1, s.reg.UnsavedCount())
}

func (s *RegistrySuite) TestItemEditedDuringSaveStaysDirty() {
	s.reg.Register("profile", "Profile", func(context.Context) error {
		s.reg.SetDirty("profile", true)
		return nil
	})
	s.reg.SetDirty("profile", true)

	s.Require().NoError(s.reg.SaveAll(s.ctx))
	s.True(s.reg.HasUnsavedWork())
}

func (s *RegistrySuite) TestClearAndUnregister() {
	s.reg.Register("a", "A", nil)
	s.reg.Register("b", "B", nil)
	s.reg.SetDirty("a", true)
	s.reg.SetDirty("b", true)

	s.reg.Unregister("a")
	s.Equal(1, s.reg.UnsavedCount())
	s.reg.Clear()
	s.False(s.reg.HasUnsavedWork())
	s.False(s.reg.SetDirty("b", true))
}

func TestSaveAllNothingDirty(t *testing.T) {
	reg := New()
	require.NoError(t, reg.SaveAll(context.Background()))
	assert.Empty(t, reg.Summary())
}
