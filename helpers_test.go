//go:build unix

package evdp

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// syncBuffer is a bytes.Buffer safe for the concurrent writes of a logger.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLogger(w io.Writer) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w), stumpy.WithTimeField(``)),
		stumpy.L.WithLevel(stumpy.L.LevelDebug()),
	).Logger()
}

func newTestQueue(t *testing.T, opts ...QueueOption) *Queue {
	t.Helper()
	q, err := NewQueue(0, append([]QueueOption{WithLogger(newTestLogger(io.Discard))}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Destroy() })
	return q
}

// guard attaches an interval timer that stops the run with BreakError
// after d, so that a broken test fails rather than hangs.
func guard(t *testing.T, q *Queue, d time.Duration) *Source {
	t.Helper()
	s, err := NewITimerMsec(0, int(d/time.Millisecond), func(*Source, uint, int64) Verdict {
		t.Error("guard timer fired")
		return BreakError
	})
	require.NoError(t, err)
	require.NoError(t, q.Attach(s))
	return s
}

func newPipe(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	for _, fd := range fds {
		require.NoError(t, unix.SetNonblock(fd, true))
	}
	return fds[0], fds[1]
}

func newSocketpair(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	for _, fd := range fds {
		require.NoError(t, unix.SetNonblock(fd, true))
	}
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}
