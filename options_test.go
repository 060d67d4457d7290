//go:build unix

package evdp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveQueueOptions(t *testing.T) {
	cfg, err := resolveQueueOptions(nil)
	require.NoError(t, err)
	assert.NotNil(t, cfg.logger)
	assert.NotNil(t, cfg.clock)
	assert.Equal(t, defaultErrorLogRates, cfg.errorLogRates)

	cfg, err = resolveQueueOptions([]QueueOption{nil, WithUserData(5), WithErrorLogRates(nil)})
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.userData)
	assert.Nil(t, cfg.errorLogRates)
}

func TestWithClock_nil(t *testing.T) {
	_, err := NewQueue(0, WithClock(nil))
	assert.EqualError(t, err, "evdp: nil clock")
}

func TestWithErrorLogRates_invalid(t *testing.T) {
	for _, rates := range []map[time.Duration]int{
		{0: 1},
		{time.Second: 0},
		{-time.Second: 3},
	} {
		_, err := resolveQueueOptions([]QueueOption{WithErrorLogRates(rates)})
		assert.Error(t, err)
	}
}

func TestWithClock_drivesNow(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	q := newTestQueue(t, WithClock(func() time.Time { return at }))
	q.UpdateCurrentTime()
	assert.Equal(t, at, q.Now())
	assert.Equal(t, at.Add(1500*time.Millisecond), q.AbsTimeoutMs(1500))
	assert.Equal(t, at.Add(time.Hour), q.AbsTimeout(time.Hour))
}

func TestQueue_logsRejectedCalls(t *testing.T) {
	var buf syncBuffer
	q, err := NewQueue(4, WithLogger(newTestLogger(&buf)))
	require.NoError(t, err)
	defer q.Destroy()

	other := newTestQueue(t)
	s, err := NewITimerSec(0, 60, noWakeup)
	require.NoError(t, err)
	require.NoError(t, other.Attach(s))
	defer other.Detach(s, false)

	assert.ErrorIs(t, q.Detach(s, false), ErrNotOwner)
	out := buf.String()
	assert.Contains(t, out, `"msg":"evdp: call rejected"`)
	assert.Contains(t, out, `"queue":"`+q.ID()+`"`)
	assert.Contains(t, out, `"op":"detach"`)
	assert.Contains(t, out, `"kind":"itimer_s"`)
}
