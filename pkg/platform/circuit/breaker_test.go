package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type manualClock struct{ t time.Time }

func (c *manualClock) now() time.Time          { return c.t }
func (c *manualClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := New("primary", WithFailureThreshold(3))

	for i := 0; i < 2; i++ {
		useFallback, change := b.RecordFailure()
		assert.False(t, useFallback)
		assert.False(t, change.Opened)
	}
	useFallback, change := b.RecordFailure()
	assert.True(t, useFallback)
	assert.True(t, change.Opened)
	assert.True(t, b.IsOpen())
	assert.Equal(t, "open", b.State().String())
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := New("primary", WithFailureThreshold(2))
	b.RecordFailure()
	b.RecordSuccess()
	useFallback, _ := b.RecordFailure()
	assert.False(t, useFallback)
	assert.False(t, b.IsOpen())
}

func TestAllowProbesOncePerCooldown(t *testing.T) {
	clk := &manualClock{t: time.Unix(0, 0)}
	b := New("primary", WithFailureThreshold(1), WithCooldown(10*time.Second), WithNow(clk.now))

	assert.True(t, b.Allow())
	b.RecordFailure()
	assert.False(t, b.Allow(), "open and cooling down")

	clk.advance(10 * time.Second)
	assert.True(t, b.Allow(), "probe due")
	assert.False(t, b.Allow(), "one probe per cooldown")

	b.RecordFailure()
	clk.advance(5 * time.Second)
	assert.False(t, b.Allow())
	clk.advance(5 * time.Second)
	assert.True(t, b.Allow())

	usePrimary, change := b.RecordSuccess()
	assert.True(t, usePrimary)
	assert.True(t, change.Closed)
	assert.True(t, b.Allow())
}

func TestSuccessThreshold(t *testing.T) {
	b := New("primary", WithFailureThreshold(1), WithSuccessThreshold(2))
	b.RecordFailure()

	usePrimary, change := b.RecordSuccess()
	assert.False(t, usePrimary)
	assert.False(t, change.Closed)

	usePrimary, change = b.RecordSuccess()
	assert.True(t, usePrimary)
	assert.True(t, change.Closed)
}

func TestReset(t *testing.T) {
	b := New("primary", WithFailureThreshold(1))
	b.RecordFailure()
	b.Reset()
	assert.False(t, b.IsOpen())
	assert.Equal(t, "primary", b.Name())
}
