package session_test

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"sessionkit/internal/broadcast"
	"sessionkit/internal/credentials"
	storagememory "sessionkit/internal/credentials/storage/memory"
	"sessionkit/internal/identity"
	"sessionkit/internal/platform/clock"
	"sessionkit/internal/session"
	"sessionkit/internal/session/mocks"
	"sessionkit/internal/unsaved"
)

// A tab holding unsaved work never has its session changed by a remote
// message, whatever order messages, edits and resolutions arrive in.
func TestRemoteDeliveryNeverTouchesDirtySession(t *testing.T) {
	switched := ada
	switched.CompanyID = "c-9"
	messages := []broadcast.Message{
		broadcast.Logout{},
		broadcast.Login{User: ada},
		broadcast.Login{User: grace},
		broadcast.CompanySwitch{User: switched},
	}
	resolutions := []session.Resolution{
		session.ResolutionProceedWithoutSaving,
		session.ResolutionDismiss,
		session.ResolutionSaveAndSync,
	}

	for seed := uint64(1); seed <= 25; seed++ {
		rng := rand.New(rand.NewPCG(seed, seed*7919))
		ctx := context.Background()
		ctrl := gomock.NewController(t)
		api := mocks.NewMockAuthAPI(ctrl)
		api.EXPECT().Me(gomock.Any()).Return(ada, nil).AnyTimes()

		clk := clock.NewFake(start)
		origin := storagememory.NewOrigin()
		creds := credentials.New(origin.Tab(), credentials.WithClock(clk))
		_, err := creds.Store(ctx, "opaque-access", "opaque-refresh", 24*time.Hour)
		require.NoError(t, err)

		bus := &captureBus{}
		registry := unsaved.New()
		registry.Register("profile", "Profile", func(context.Context) error { return nil })
		prompt := &fakePrompter{confirm: true}
		coord, err := session.New(session.Deps{
			TabID:       "tab-prop",
			API:         api,
			Credentials: creds,
			Bus:         bus,
			Unsaved:     registry,
			Navigator:   &fakeNavigator{route: session.RouteApp},
			Prompter:    prompt,
		}, session.WithClock(clk), session.WithLogger(discardLogger()))
		require.NoError(t, err)
		require.NoError(t, coord.Init(ctx))

		for step := 0; step < 60; step++ {
			switch rng.IntN(4) {
			case 0, 1:
				msg := messages[rng.IntN(len(messages))]
				dirty := registry.HasUnsavedWork()
				before := coord.Session()
				bus.deliver(msg)
				if dirty {
					require.Equal(t, sessionUser(before), sessionUser(coord.Session()),
						"seed %d step %d: %s changed a dirty session", seed, step, msg.Kind())
					require.Equal(t, before.IsAuthenticated, coord.Session().IsAuthenticated)
				}
			case 2:
				if rng.IntN(2) == 0 {
					registry.Register("profile", "Profile", func(context.Context) error { return nil })
				}
				registry.SetDirty("profile", rng.IntN(2) == 0)
			case 3:
				if coord.State() == session.StateAwaitingConflictResolution {
					_ = coord.ResolveConflict(ctx, resolutions[rng.IntN(len(resolutions))])
				}
			}

			if coord.State() == session.StateAuthenticated {
				require.NotNil(t, coord.Session().User, "seed %d step %d", seed, step)
			}
			if _, awaiting := coord.Pending(); awaiting {
				require.Equal(t, session.StateAwaitingConflictResolution, coord.State())
			}
		}
		coord.Dispose()
		ctrl.Finish()
	}
}

func sessionUser(s session.Session) identity.User {
	if s.User == nil {
		return identity.User{}
	}
	return *s.User
}
