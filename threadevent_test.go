//go:build unix

package evdp

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestThreadEvent_String(t *testing.T) {
	assert.Equal(t, "none", ThreadEvent(0).String())
	assert.Equal(t, "quit|user1", (ThreadEventQuit | ThreadEventUser1).String())
	assert.Equal(t, "child|user2", (ThreadEventChild | ThreadEventUser2).String())
	assert.Equal(t, "other", ThreadEvent(1<<10).String())
}

func TestQueue_RaiseThreadEvents_accumulates(t *testing.T) {
	q := newTestQueue(t)
	q.RaiseThreadEvents(0)
	assert.Equal(t, ThreadEvent(0), q.ThreadEvents())
	q.RaiseThreadEvents(ThreadEventUser1)
	q.RaiseThreadEvents(ThreadEventUser2)
	assert.Equal(t, ThreadEventUser1|ThreadEventUser2, q.ThreadEvents())
}

func TestNotifySignals(t *testing.T) {
	q := newTestQueue(t)
	stop := NotifySignals(q, map[os.Signal]ThreadEvent{unix.SIGUSR1: ThreadEventUser1})
	defer stop()

	require.NoError(t, unix.Kill(os.Getpid(), unix.SIGUSR1))
	assert.Eventually(t, func() bool {
		return q.ThreadEvents()&ThreadEventUser1 != 0
	}, 2*time.Second, 5*time.Millisecond)

	stop()
	stop()
	NotifySignals(q, nil)()
}

func TestQueue_wakeReceived_raiseBeforeDrain(t *testing.T) {
	q := newTestQueue(t)

	// the raise's wakeup is consumed by a drain already in progress
	q.RaiseThreadEvents(ThreadEventUser1)
	require.True(t, q.wakePending.Load())
	q.wakeReceived(q.ctx.wake)
	assert.False(t, q.wakePending.Load())

	done := make(chan error, 1)
	go func() { done <- q.Run() }()
	time.Sleep(50 * time.Millisecond)
	q.RaiseThreadEvents(ThreadEventQuit)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not wake for the quit event")
	}
}
