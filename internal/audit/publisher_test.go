package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessionkit/internal/platform/clock"
	"sessionkit/internal/platform/kafka/producer"
)

func TestPublisherSyncStampsTimestamp(t *testing.T) {
	store := NewInMemoryStore()
	now := time.Unix(1_700_000_000, 0)
	p := NewPublisher(store, WithPublisherClock(clock.NewFake(now)))

	require.NoError(t, p.Emit(context.Background(), Event{Action: ActionLogin, UserID: "u1"}))

	events, err := store.ListByUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, now, events[0].Timestamp)
}

func TestPublisherAsyncDrainsOnClose(t *testing.T) {
	store := NewInMemoryStore()
	p := NewPublisher(store, WithAsyncBuffer(16))

	for _, a := range []Action{ActionLogin, ActionRefreshed, ActionLogout} {
		require.NoError(t, p.Emit(context.Background(), Event{Action: a, UserID: "u1"}))
	}
	p.Close()
	p.Close()

	assert.Equal(t, []Action{ActionLogin, ActionRefreshed, ActionLogout}, store.Actions())
	require.NoError(t, p.Emit(context.Background(), Event{Action: ActionLogin}))
	assert.Len(t, store.Actions(), 3, "emit after close is discarded")
}

type recordingProducer struct {
	msgs []*producer.Message
	err  error
}

func (r *recordingProducer) Produce(_ context.Context, msg *producer.Message) error {
	r.msgs = append(r.msgs, msg)
	return r.err
}

func TestKafkaStoreKeysByUser(t *testing.T) {
	rp := &recordingProducer{}
	store := NewKafkaStore(rp, "sessionkit.audit")

	require.NoError(t, store.Append(context.Background(), Event{Action: ActionLogin, TabID: "tab-1", UserID: "u1"}))
	require.NoError(t, store.Append(context.Background(), Event{Action: ActionLogout, TabID: "tab-1"}))

	require.Len(t, rp.msgs, 2)
	assert.Equal(t, "sessionkit.audit", rp.msgs[0].Topic)
	assert.Equal(t, "u1", string(rp.msgs[0].Key))
	assert.Equal(t, "tab-1", string(rp.msgs[1].Key), "falls back to tab id")
	assert.Equal(t, "session.logout", rp.msgs[1].Headers["action"])

	var decoded Event
	require.NoError(t, json.Unmarshal(rp.msgs[0].Value, &decoded))
	assert.Equal(t, ActionLogin, decoded.Action)
}

func TestMultiStoreAppendsEverywhere(t *testing.T) {
	mem := NewInMemoryStore()
	failing := &recordingProducer{err: errors.New("broker down")}
	multi := MultiStore{NewKafkaStore(failing, "t"), mem}

	err := multi.Append(context.Background(), Event{Action: ActionLogin, UserID: "u1"})
	require.Error(t, err)
	assert.Equal(t, []Action{ActionLogin}, mem.Actions())
}
