package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllow_PerKeyBurst(t *testing.T) {
	rl := New(Config{Rate: 1, Burst: 2})

	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"), "third request exceeds the burst")

	assert.True(t, rl.Allow("b"), "keys have independent buckets")

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("a"), "one token refilled after a second")
}

func TestCleanup_ForgetsIdleClients(t *testing.T) {
	rl := New(Config{Rate: 1, Burst: 1, TTL: time.Minute})

	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	rl.Allow("idle")

	now = now.Add(30 * time.Second)
	rl.Allow("active")

	now = now.Add(45 * time.Second)
	rl.cleanup()

	assert.Equal(t, 1, rl.Len())
}

func TestStartStop(t *testing.T) {
	rl := New(Config{Rate: 1, Burst: 1})

	require.NoError(t, rl.Start())
	require.ErrorIs(t, rl.Start(), ErrAlreadyStarted)

	rl.Stop()
	rl.Stop()

	require.NoError(t, rl.Start(), "limiter can be restarted after stop")
	rl.Stop()
}
