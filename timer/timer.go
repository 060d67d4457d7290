// Package timer orders absolute-deadline callbacks ("points") so that an
// event loop can service any number of them from a single wakeup.
//
// Points sharing a deadline share one bucket. Buckets are kept in a min-heap,
// so the nearest deadline is always available in O(1), including from within
// a callback. Buckets and points are recycled through bounded free lists.
//
// A Timer is not safe for concurrent use; it is intended to be driven by the
// goroutine running the owning event loop, via MinWait and RunUntil.
package timer

import (
	"container/heap"
	"time"

	"github.com/joeycumines/go-evdp/internal/nodepool"
)

// Result is returned by a Callback to decide the fate of its point.
type Result int

const (
	// Keep retains the point. If it was not reset by the callback, it is
	// parked until it is reset or deleted.
	Keep Result = iota
	// Free releases the point after the callback returns, even if it was
	// reset by the callback.
	Free
)

// String implements fmt.Stringer.
func (r Result) String() string {
	switch r {
	case Keep:
		return "keep"
	case Free:
		return "free"
	default:
		return "unknown"
	}
}

// Callback is invoked once the deadline of its point has passed.
type Callback func(data any) Result

// Default cache sizes, used when New is given a negative size.
const (
	DefaultBucketCache = 32
	DefaultPointCache  = 64
)

// epoch anchors deadlines to a monotonic reading.
var epoch = time.Now()

func nanos(t time.Time) int64 { return int64(t.Sub(epoch)) }

type pointState uint8

const (
	pointFree pointState = iota
	pointQueued
	pointKept
	pointFiring
)

// Point is a handle to one scheduled callback. A handle must not be used
// after the point has been released, either by DelPoint or by its callback
// returning Free.
type Point struct {
	cb     Callback
	data   any
	bucket *bucket // owning bucket, or the target bucket while firing
	list   *pointList
	prev   *Point
	next   *Point
	state  pointState
	// deleted marks a firing point as deleted by DelPoint
	deleted bool
}

type pointList struct {
	head *Point
	size int
}

func (l *pointList) pushFront(p *Point) {
	p.list = l
	p.prev = nil
	p.next = l.head
	if l.head != nil {
		l.head.prev = p
	}
	l.head = p
	l.size++
}

func (l *pointList) remove(p *Point) {
	if p.prev != nil {
		p.prev.next = p.next
	} else {
		l.head = p.next
	}
	if p.next != nil {
		p.next.prev = p.prev
	}
	p.prev, p.next, p.list = nil, nil, nil
	l.size--
}

type bucket struct {
	points pointList
	at     int64
	index  int
	// pins counts firing points whose reset targets this bucket, which
	// keep it alive until they are spliced in
	pins int
	// noAutoDel keeps an emptied bucket alive while it is being drained
	noAutoDel bool
}

// bucketHeap is a min-heap of buckets, ordered by deadline.
type bucketHeap []*bucket

func (h bucketHeap) Len() int           { return len(h) }
func (h bucketHeap) Less(i, j int) bool { return h[i].at < h[j].at }
func (h bucketHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *bucketHeap) Push(x any) {
	b := x.(*bucket)
	b.index = len(*h)
	*h = append(*h, b)
}

func (h *bucketHeap) Pop() any {
	old := *h
	n := len(old)
	b := old[n-1]
	old[n-1] = nil
	b.index = -1
	*h = old[:n-1]
	return b
}

// Timer is an ordered collection of points.
type Timer struct {
	byDeadline map[int64]*bucket
	buckets    *nodepool.Pool[bucket]
	points     *nodepool.Pool[Point]
	heap       bucketHeap
	kept       pointList
	live       int
}

// New returns an empty timer, caching up to bucketCache released buckets
// and pointCache released points. Negative sizes select the defaults.
func New(bucketCache, pointCache int) *Timer {
	if bucketCache < 0 {
		bucketCache = DefaultBucketCache
	}
	if pointCache < 0 {
		pointCache = DefaultPointCache
	}
	return &Timer{
		byDeadline: make(map[int64]*bucket),
		buckets:    nodepool.New[bucket](bucketCache),
		points:     nodepool.New[Point](pointCache),
	}
}

// Destroy releases every point and bucket. Outstanding point handles become
// invalid. The timer may be reused afterward.
func (t *Timer) Destroy() {
	for _, b := range t.heap {
		for p := b.points.head; p != nil; {
			next := p.next
			*p = Point{}
			p = next
		}
		delete(t.byDeadline, b.at)
	}
	for p := t.kept.head; p != nil; {
		next := p.next
		*p = Point{}
		p = next
	}
	clear(t.heap)
	t.heap = t.heap[:0]
	t.kept = pointList{}
	t.live = 0
	t.buckets.Drain()
	t.points.Drain()
}

// Len returns the number of live points, including parked ones.
func (t *Timer) Len() int { return t.live }

// NewPoint schedules cb to be called with data once deadline has passed.
func (t *Timer) NewPoint(deadline time.Time, cb Callback, data any) *Point {
	if cb == nil {
		panic("timer: nil callback")
	}
	b := t.bucketAt(nanos(deadline))
	p := t.points.Get()
	p.cb = cb
	p.data = data
	p.bucket = b
	p.state = pointQueued
	b.points.pushFront(p)
	t.live++
	return p
}

// DelPoint cancels p. Deleting a point from within its own callback is
// deferred until the callback returns.
func (t *Timer) DelPoint(p *Point) {
	if p == nil {
		return
	}
	switch p.state {
	case pointFiring:
		p.deleted = true
	case pointQueued:
		b := p.bucket
		b.points.remove(p)
		t.release(p)
		t.maybeDropBucket(b)
	case pointKept:
		t.kept.remove(p)
		t.release(p)
	}
}

// ResetPoint moves p to a new deadline. From within the callback of p, a
// reset to the deadline currently being drained parks the point instead of
// firing it again in the same pass.
func (t *Timer) ResetPoint(p *Point, deadline time.Time) {
	if p == nil {
		return
	}
	at := nanos(deadline)
	switch p.state {
	case pointFiring:
		if p.deleted {
			return
		}
		old := p.bucket
		p.bucket = t.bucketAt(at)
		if old != p.bucket {
			p.bucket.pins++
			old.pins--
			t.maybeDropBucket(old)
		}
	case pointQueued:
		old := p.bucket
		if old.at == at {
			return
		}
		old.points.remove(p)
		t.maybeDropBucket(old)
		p.bucket = t.bucketAt(at)
		p.bucket.points.pushFront(p)
	case pointKept:
		t.kept.remove(p)
		p.bucket = t.bucketAt(at)
		p.state = pointQueued
		p.bucket.points.pushFront(p)
	}
}

// Deadline returns the deadline p is scheduled for, and false if p is parked,
// firing, or released.
func (t *Timer) Deadline(p *Point) (time.Time, bool) {
	if p == nil || p.state != pointQueued {
		return time.Time{}, false
	}
	return epoch.Add(time.Duration(p.bucket.at)), true
}

// MinWait returns the time from now until the nearest deadline, zero if it
// has already passed, or -1 if there are no scheduled points.
func (t *Timer) MinWait(now time.Time) time.Duration {
	if len(t.heap) == 0 {
		return -1
	}
	d := t.heap[0].at - nanos(now)
	if d <= 0 {
		return 0
	}
	return time.Duration(d)
}

// RunUntil calls every point whose deadline is at or before deadline, in
// deadline order, and returns the number of callbacks invoked. Within a
// bucket, the most recently added point fires first.
func (t *Timer) RunUntil(deadline time.Time) (count int) {
	limit := nanos(deadline)
	for len(t.heap) != 0 {
		b := t.heap[0]
		if b.at > limit {
			break
		}
		b.noAutoDel = true
		for b.points.head != nil {
			p := b.points.head
			b.points.remove(p)
			p.state = pointFiring
			p.deleted = false
			b.pins++
			result := p.cb(p.data)
			count++
			target := p.bucket
			target.pins--
			switch {
			case p.deleted, result == Free:
				t.release(p)
				if target != b {
					t.maybeDropBucket(target)
				}
			case target == b:
				p.bucket = nil
				p.state = pointKept
				t.kept.pushFront(p)
			default:
				p.state = pointQueued
				target.points.pushFront(p)
			}
		}
		heap.Remove(&t.heap, b.index)
		delete(t.byDeadline, b.at)
		t.buckets.Put(b)
	}
	return count
}

func (t *Timer) bucketAt(at int64) *bucket {
	if b, ok := t.byDeadline[at]; ok {
		return b
	}
	b := t.buckets.Get()
	b.at = at
	heap.Push(&t.heap, b)
	t.byDeadline[at] = b
	return b
}

func (t *Timer) maybeDropBucket(b *bucket) {
	if b.noAutoDel || b.pins != 0 || b.points.size != 0 {
		return
	}
	heap.Remove(&t.heap, b.index)
	delete(t.byDeadline, b.at)
	t.buckets.Put(b)
}

func (t *Timer) release(p *Point) {
	t.live--
	t.points.Put(p)
}
