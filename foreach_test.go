//go:build unix

package evdp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// idleFD numbers the descriptors of idle sources, which are never used.
var idleFD = 1000

// attachIdle attaches os_fd sources without interest, which need no kernel
// registration, one per utype.
func attachIdle(t *testing.T, q *Queue, utypes ...int) []*Source {
	t.Helper()
	var sources []*Source
	for i, utype := range utypes {
		idleFD++
		s, err := NewOSFD(idleFD, SockLogOnHup)
		require.NoError(t, err)
		s.SetUType(utype)
		s.SetUserData(i)
		require.NoError(t, q.Attach(s))
		sources = append(sources, s)
	}
	return sources
}

func TestQueue_Foreach(t *testing.T) {
	q := newTestQueue(t)
	sources := attachIdle(t, q, 1, 0, 2, 1, 3)
	t.Cleanup(func() {
		for _, s := range sources {
			if s.Queue() != nil {
				_ = q.Detach(s, true)
			}
		}
	})

	var (
		visited []int
		late    *Source
	)
	n, err := q.ForeachStart(func(s *Source, utype int) Verdict {
		visited = append(visited, s.UserData().(int))
		assert.Equal(t, s.UType(), utype)
		switch s.UserData().(int) {
		case 2:
			ls := attachIdle(t, q, 9)
			late = ls[0]
		case 3:
			return Remove
		}
		return Continue
	})
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = q.ForeachStart(func(*Source, int) Verdict { return Continue })
	assert.ErrorIs(t, err, ErrForeachActive)

	handled, err := q.ForeachNext(2)
	require.NoError(t, err)
	assert.Equal(t, 2, handled)
	assert.Equal(t, []int{0, 2}, visited)
	assert.False(t, q.ForeachHasEnded())

	handled, err = q.ForeachNext(0)
	require.NoError(t, err)
	assert.Equal(t, 2, handled)
	assert.Equal(t, []int{0, 2, 3, 4}, visited)
	assert.True(t, q.ForeachHasEnded())

	assert.Nil(t, sources[3].Queue())
	assert.Same(t, q, late.Queue())
	assert.Equal(t, 5, q.Stats().Running)

	q.ForeachSetEnd()
	assert.True(t, q.ForeachHasEnded())
	_, err = q.ForeachNext(1)
	assert.ErrorIs(t, err, ErrForeachInactive)
	require.NoError(t, q.Detach(late, true))
}

func TestQueue_Foreach_endAndBreak(t *testing.T) {
	q := newTestQueue(t)
	attachIdle(t, q, 1, 1, 1)

	var calls int
	_, err := q.ForeachStart(func(*Source, int) Verdict {
		calls++
		return EndForeach
	})
	require.NoError(t, err)
	handled, err := q.ForeachNext(0)
	require.NoError(t, err)
	assert.Equal(t, 1, handled)
	assert.True(t, q.ForeachHasEnded())
	q.ForeachSetEnd()

	_, err = q.ForeachStart(func(*Source, int) Verdict { return BreakError })
	require.NoError(t, err)
	_, err = q.ForeachNext(0)
	assert.ErrorIs(t, err, ErrBreakError)
	q.ForeachSetEnd()

	// a new pass visits every source again
	calls = 0
	_, err = q.ForeachStart(func(*Source, int) Verdict {
		calls++
		return Continue
	})
	require.NoError(t, err)
	_, err = q.ForeachNext(0)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	q.ForeachSetEnd()
}

func TestQueue_Foreach_destroyEndsPass(t *testing.T) {
	q := newTestQueue(t)
	attachIdle(t, q, 1, 1)
	_, err := q.ForeachStart(func(*Source, int) Verdict { return Continue })
	require.NoError(t, err)

	require.NoError(t, q.Destroy())
	assert.True(t, q.ForeachHasEnded())
	_, err = q.ForeachStart(func(*Source, int) Verdict { return Continue })
	assert.ErrorIs(t, err, ErrQueueDestroyed)
}
