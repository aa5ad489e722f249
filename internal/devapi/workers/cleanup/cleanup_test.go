package cleanup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessionkit/internal/devapi/store"
	"sessionkit/internal/platform/clock"
)

var now = time.Unix(1_700_000_000, 0)

type countingRecorder struct {
	purged int
	live   int
}

func (r *countingRecorder) AddRefreshTokensPurged(n int) { r.purged += n }
func (r *countingRecorder) SetRefreshTokens(n int)       { r.live = n }

func TestRunOnceAgainstMemoryStore(t *testing.T) {
	ctx := context.Background()
	tokens := store.NewRefreshTokens()
	require.NoError(t, tokens.Create(ctx, &store.RefreshToken{Token: "expired", UserID: "u1", CreatedAt: now.Add(-48 * time.Hour), ExpiresAt: now.Add(-time.Hour)}))
	require.NoError(t, tokens.Create(ctx, &store.RefreshToken{Token: "used", UserID: "u2", CreatedAt: now.Add(-48 * time.Hour), ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, tokens.Create(ctx, &store.RefreshToken{Token: "live", UserID: "u3", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}))
	_, err := tokens.Rotate(ctx, "used", store.RefreshToken{Token: "used-next", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}, 0)
	require.NoError(t, err)

	rec := &countingRecorder{}
	svc, err := New(tokens, WithClock(clock.NewFake(now)), WithRecorder(rec))
	require.NoError(t, err)

	res, err := svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{DeletedExpired: 1, DeletedUsed: 1}, res)
	assert.Equal(t, 2, rec.purged)
	assert.Equal(t, 2, rec.live, "live and the rotated successor")

	res, err = svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}

type failingStore struct{}

func (failingStore) DeleteExpiredTokens(context.Context, time.Time) (int, error) {
	return 0, errors.New("expired boom")
}

func (failingStore) DeleteUsedTokensBefore(context.Context, time.Time) (int, error) {
	return 3, nil
}

func (failingStore) Live() int { return 0 }

func TestRunOnceJoinsErrors(t *testing.T) {
	svc, err := New(failingStore{})
	require.NoError(t, err)

	res, err := svc.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete expired refresh tokens: expired boom")
	assert.Equal(t, 3, res.DeletedUsed)
}

func TestStartStopsOnCancel(t *testing.T) {
	svc, err := New(store.NewRefreshTokens(), WithInterval(time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}
