package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(ms int) time.Time { return epoch.Add(time.Duration(ms) * time.Millisecond) }

func TestTimer_firesOnce(t *testing.T) {
	tm := New(4, 4)
	var calls int
	tm.NewPoint(at(10), func(any) Result { calls++; return Free }, nil)

	assert.Equal(t, 0, tm.RunUntil(at(9)))
	assert.Equal(t, 1, tm.RunUntil(at(10)))
	assert.Equal(t, 0, tm.RunUntil(at(10)))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, tm.Len())
	assert.Equal(t, time.Duration(-1), tm.MinWait(at(0)))
}

func TestTimer_keepParksPoint(t *testing.T) {
	tm := New(4, 4)
	var calls int
	p := tm.NewPoint(at(5), func(any) Result { calls++; return Keep }, nil)

	require.Equal(t, 1, tm.RunUntil(at(5)))
	assert.Equal(t, 1, tm.Len())
	_, ok := tm.Deadline(p)
	assert.False(t, ok)
	assert.Equal(t, 0, tm.RunUntil(at(100)))

	tm.ResetPoint(p, at(200))
	d, ok := tm.Deadline(p)
	require.True(t, ok)
	assert.Equal(t, at(200), d)
	assert.Equal(t, 1, tm.RunUntil(at(200)))
	assert.Equal(t, 2, calls)

	tm.DelPoint(p)
	assert.Equal(t, 0, tm.Len())
}

func TestTimer_minWait(t *testing.T) {
	tm := New(0, 0)
	tm.NewPoint(at(50), func(any) Result { return Free }, nil)
	tm.NewPoint(at(20), func(any) Result { return Free }, nil)

	assert.Equal(t, 20*time.Millisecond, tm.MinWait(at(0)))
	assert.Equal(t, 5*time.Millisecond, tm.MinWait(at(15)))
	assert.Equal(t, time.Duration(0), tm.MinWait(at(20)))
	assert.Equal(t, time.Duration(0), tm.MinWait(at(40)))

	tm.RunUntil(at(20))
	assert.Equal(t, 30*time.Millisecond, tm.MinWait(at(20)))
}

func TestTimer_orderWithinAndAcrossBuckets(t *testing.T) {
	tm := New(4, 4)
	var order []string
	record := func(data any) Result {
		order = append(order, data.(string))
		return Free
	}
	tm.NewPoint(at(2), record, "b1")
	tm.NewPoint(at(1), record, "a1")
	tm.NewPoint(at(2), record, "b2")
	tm.NewPoint(at(1), record, "a2")
	tm.NewPoint(at(3), record, "c1")

	assert.Equal(t, 4, tm.RunUntil(at(2)))
	assert.Equal(t, []string{"a2", "a1", "b2", "b1"}, order)
	assert.Equal(t, 1, tm.Len())
}

func TestTimer_resetInCallbackFiresOnLaterRun(t *testing.T) {
	tm := New(4, 4)
	var (
		calls int
		self  *Point
	)
	self = tm.NewPoint(at(1), func(any) Result {
		calls++
		if calls == 1 {
			tm.ResetPoint(self, at(5))
			return Keep
		}
		return Free
	}, nil)

	assert.Equal(t, 1, tm.RunUntil(at(4)))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 4*time.Millisecond, tm.MinWait(at(1)))

	assert.Equal(t, 1, tm.RunUntil(at(5)))
	assert.Equal(t, 2, calls)
	assert.Equal(t, 0, tm.Len())
}

func TestTimer_resetToDrainingBucketParks(t *testing.T) {
	tm := New(4, 4)
	var (
		calls int
		self  *Point
	)
	self = tm.NewPoint(at(3), func(any) Result {
		calls++
		tm.ResetPoint(self, at(3))
		return Keep
	}, nil)

	assert.Equal(t, 1, tm.RunUntil(at(10)))
	assert.Equal(t, 0, tm.RunUntil(at(10)))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, tm.Len())
}

func TestTimer_repeatedResetInCallback(t *testing.T) {
	tm := New(4, 4)
	var self *Point
	self = tm.NewPoint(at(1), func(any) Result {
		tm.ResetPoint(self, at(4))
		tm.ResetPoint(self, at(8))
		return Keep
	}, nil)

	assert.Equal(t, 1, tm.RunUntil(at(1)))
	assert.Len(t, tm.heap, 1)
	assert.Equal(t, 7*time.Millisecond, tm.MinWait(at(1)))
	d, ok := tm.Deadline(self)
	require.True(t, ok)
	assert.Equal(t, at(8), d)
}

func TestTimer_resetOntoBucketEmptiedInCallback(t *testing.T) {
	tm := New(4, 4)
	var (
		order []string
		self  *Point
		sib   *Point
		calls int
	)
	self = tm.NewPoint(at(1), func(any) Result {
		order = append(order, "p")
		calls++
		if calls == 1 {
			tm.ResetPoint(self, at(2))
			tm.DelPoint(sib)
			return Keep
		}
		return Free
	}, nil)
	sib = tm.NewPoint(at(2), func(any) Result {
		order = append(order, "sib")
		return Free
	}, nil)
	tm.NewPoint(at(3), func(any) Result {
		order = append(order, "other")
		return Free
	}, nil)

	assert.Equal(t, 1, tm.RunUntil(at(1)))
	assert.Equal(t, 2, tm.Len())
	assert.Len(t, tm.heap, 2)
	d, ok := tm.Deadline(self)
	require.True(t, ok)
	assert.Equal(t, at(2), d)
	assert.Equal(t, time.Millisecond, tm.MinWait(at(1)))

	assert.Equal(t, 1, tm.RunUntil(at(2)))
	assert.Equal(t, 1, tm.RunUntil(at(3)))
	assert.Equal(t, []string{"p", "p", "other"}, order)
	assert.Equal(t, 0, tm.Len())
	assert.Empty(t, tm.heap)
}

func TestTimer_freeWinsOverReset(t *testing.T) {
	tm := New(4, 4)
	var self *Point
	self = tm.NewPoint(at(1), func(any) Result {
		tm.ResetPoint(self, at(9))
		return Free
	}, nil)

	assert.Equal(t, 1, tm.RunUntil(at(1)))
	assert.Equal(t, 0, tm.Len())
	assert.Empty(t, tm.heap)
	assert.Empty(t, tm.byDeadline)
}

func TestTimer_deleteSiblingInSameBucket(t *testing.T) {
	tm := New(4, 4)
	var (
		victim *Point
		quit   bool
		fired  []string
	)
	victim = tm.NewPoint(at(2), func(any) Result {
		fired = append(fired, "victim")
		return Free
	}, nil)
	tm.NewPoint(at(2), func(any) Result {
		fired = append(fired, "quitter")
		quit = true
		return Free
	}, nil)
	tm.NewPoint(at(1), func(any) Result {
		fired = append(fired, "deleter")
		tm.DelPoint(victim)
		return Free
	}, nil)

	assert.Equal(t, 2, tm.RunUntil(at(2)))
	assert.True(t, quit)
	assert.Equal(t, []string{"deleter", "quitter"}, fired)
	assert.Equal(t, 0, tm.Len())
}

func TestTimer_deleteSiblingWhileDraining(t *testing.T) {
	tm := New(4, 4)
	var (
		first, second *Point
		fired         []string
	)
	first = tm.NewPoint(at(1), func(any) Result {
		fired = append(fired, "first")
		return Free
	}, nil)
	second = tm.NewPoint(at(1), func(any) Result {
		fired = append(fired, "second")
		tm.DelPoint(first)
		return Free
	}, nil)
	_ = second

	assert.Equal(t, 1, tm.RunUntil(at(1)))
	assert.Equal(t, []string{"second"}, fired)
	assert.Equal(t, 0, tm.Len())
	assert.Empty(t, tm.heap)
}

func TestTimer_deleteSelf(t *testing.T) {
	tm := New(4, 4)
	var (
		self  *Point
		calls int
	)
	self = tm.NewPoint(at(1), func(any) Result {
		calls++
		tm.DelPoint(self)
		return Keep
	}, nil)

	assert.Equal(t, 1, tm.RunUntil(at(1)))
	assert.Equal(t, 0, tm.RunUntil(at(100)))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, tm.Len())
}

func TestTimer_deleteAfterResetInCallback(t *testing.T) {
	tm := New(4, 4)
	var self *Point
	self = tm.NewPoint(at(1), func(any) Result {
		tm.ResetPoint(self, at(7))
		tm.DelPoint(self)
		return Keep
	}, nil)

	assert.Equal(t, 1, tm.RunUntil(at(1)))
	assert.Equal(t, 0, tm.Len())
	assert.Equal(t, time.Duration(-1), tm.MinWait(at(1)))
}

func TestTimer_resetQueuedPoint(t *testing.T) {
	tm := New(4, 4)
	var calls int
	p := tm.NewPoint(at(10), func(any) Result { calls++; return Free }, nil)

	tm.ResetPoint(p, at(10))
	tm.ResetPoint(p, at(30))
	assert.Len(t, tm.heap, 1)
	assert.Equal(t, 0, tm.RunUntil(at(20)))
	assert.Equal(t, 1, tm.RunUntil(at(30)))
	assert.Equal(t, 1, calls)
}

func TestTimer_poolsAreBounded(t *testing.T) {
	tm := New(2, 3)
	for i := range 10 {
		tm.NewPoint(at(i), func(any) Result { return Free }, nil)
	}
	require.Equal(t, 10, tm.RunUntil(at(10)))
	assert.Equal(t, 2, tm.buckets.Len())
	assert.Equal(t, 3, tm.points.Len())
}

func TestTimer_Destroy(t *testing.T) {
	tm := New(-1, -1)
	tm.NewPoint(at(1), func(any) Result { return Keep }, nil)
	tm.NewPoint(at(2), func(any) Result { return Free }, nil)
	tm.RunUntil(at(1))
	require.Equal(t, 2, tm.Len())

	tm.Destroy()
	assert.Equal(t, 0, tm.Len())
	assert.Equal(t, time.Duration(-1), tm.MinWait(at(0)))
	assert.Equal(t, 0, tm.RunUntil(at(100)))

	var calls int
	tm.NewPoint(at(3), func(any) Result { calls++; return Free }, nil)
	assert.Equal(t, 1, tm.RunUntil(at(3)))
	assert.Equal(t, 1, calls)
}

func TestResult_String(t *testing.T) {
	assert.Equal(t, "keep", Keep.String())
	assert.Equal(t, "free", Free.String())
	assert.Equal(t, "unknown", Result(7).String())
}
