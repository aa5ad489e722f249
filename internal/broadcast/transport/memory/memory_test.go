package memory

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessionkit/internal/broadcast"
	"sessionkit/internal/sentinel"
)

func TestHubScopesByChannel(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(nil)

	var auth, billing atomic.Int32
	stop1, err := hub.Transport("auth").Subscribe(ctx, func(broadcast.Envelope) { auth.Add(1) })
	require.NoError(t, err)
	defer stop1()
	stop2, err := hub.Transport("billing").Subscribe(ctx, func(broadcast.Envelope) { billing.Add(1) })
	require.NoError(t, err)
	defer stop2()

	require.NoError(t, hub.Transport("auth").Publish(ctx, broadcast.Envelope{ID: "1", Message: broadcast.Logout{}}))

	assert.Eventually(t, func() bool { return auth.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), billing.Load())
}

func TestStopDetaches(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(nil)
	var n atomic.Int32
	stop, err := hub.Transport("auth").Subscribe(ctx, func(broadcast.Envelope) { n.Add(1) })
	require.NoError(t, err)
	stop()

	require.NoError(t, hub.Transport("auth").Publish(ctx, broadcast.Envelope{ID: "1", Message: broadcast.Logout{}}))
	assert.Never(t, func() bool { return n.Load() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestClosedHub(t *testing.T) {
	hub := NewHub(nil)
	hub.Close()
	assert.ErrorIs(t, hub.Transport("auth").Publish(context.Background(), broadcast.Envelope{}), sentinel.ErrClosed)
	_, err := hub.Transport("auth").Subscribe(context.Background(), func(broadcast.Envelope) {})
	assert.ErrorIs(t, err, sentinel.ErrClosed)
}
