package evdp

import (
	"time"

	"github.com/bassosimone/runtimex"
	"github.com/google/uuid"
	"github.com/joeycumines/go-evdp/timer"
	"go.uber.org/atomic"
)

type (
	// EventHandler is called by Queue.Run when thread events have been
	// raised. BreakExpected stops the run cleanly, BreakError stops it with
	// ErrBreakError.
	EventHandler func(q *Queue, events ThreadEvent) Verdict

	// BatchHandler is called once per round in which at least one event was
	// dispatched. Break verdicts stop the run as for EventHandler.
	BatchHandler func(q *Queue) Verdict
)

// Stats are diagnostic counters of a Queue.
type Stats struct {
	// Rounds is the number of waits that returned at least one event.
	Rounds uint64
	// Events is the number of events dispatched to sources.
	Events uint64
	// Registrations is the number of kernel registration calls issued on
	// behalf of sources.
	Registrations uint64
	// Pending is the number of sources awaiting registration.
	Pending int
	// Running is the number of registered sources.
	Running int
}

// Queue is a single-goroutine event reactor. It owns one kernel multiplexer
// (selected at build time), and the sources attached to it.
//
// Apart from RaiseThreadEvents, a Queue must only be used from one
// goroutine at a time, and never concurrently with Run.
type Queue struct {
	ctx            queueContext
	pending        sourceList
	running        sourceList
	cursor         Source
	reg            registry
	log            queueLog
	fdEvent        FDEvent
	timer          *timer.Timer
	clock          func() time.Time
	now            time.Time
	eventHandler   EventHandler
	batchHandler   BatchHandler
	foreachHandler ForeachHandler
	userData       any
	threadEvents   *atomic.Uint32
	wakePending    *atomic.Bool
	id             string
	stats          Stats
	foreachGen     uint64
	overrun        int64
	batchSize      int
	nevents        int
	current        int
	destroying     bool
	destroyed      bool
	isRunning      bool
	foreachActive  bool
	foreachEnded   bool
}

// NewQueue creates a queue fetching up to batchSize events per wait. A
// batchSize of zero or less selects DefaultBatchSize.
func NewQueue(batchSize int, opts ...QueueOption) (*Queue, error) {
	cfg, err := resolveQueueOptions(opts)
	if err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	q := &Queue{
		timer:        cfg.timer,
		clock:        cfg.clock,
		eventHandler: cfg.eventHandler,
		batchHandler: cfg.batchHandler,
		userData:     cfg.userData,
		threadEvents: atomic.NewUint32(0),
		wakePending:  atomic.NewBool(false),
		id:           runtimex.PanicOnError1(uuid.NewV7()).String(),
		batchSize:    batchSize,
	}
	q.log = newQueueLog(cfg.logger, q.id, cfg.errorLogRates)
	q.pending.init()
	q.running.init()
	q.cursor.sentinel = true
	if err := q.ctx.init(q, batchSize); err != nil {
		q.log.syscall("create", nil, err)
		return nil, backendError("create", kindNone, err)
	}
	q.UpdateCurrentTime()
	return q, nil
}

// ID returns the unique identifier of q, as included in its log entries.
func (q *Queue) ID() string { return q.id }

// BatchSize returns the maximum number of events fetched per wait.
func (q *Queue) BatchSize() int { return q.batchSize }

// SetEventHandler sets the thread event handler. A nil handler restores the
// default, which stops the run on ThreadEventQuit and ignores other events.
func (q *Queue) SetEventHandler(h EventHandler) { q.eventHandler = h }

// SetBatchHandler sets the per-round batch handler.
func (q *Queue) SetBatchHandler(h BatchHandler) { q.batchHandler = h }

// SetUserData sets an arbitrary value associated with q.
func (q *Queue) SetUserData(v any) { q.userData = v }

// UserData returns the value set by SetUserData.
func (q *Queue) UserData() any { return q.userData }

// SetTimer attaches t, whose points are run after each wait, and whose
// nearest deadline bounds each wait. The queue does not own t: detach it
// (SetTimer(nil)) before destroying it.
func (q *Queue) SetTimer(t *timer.Timer) { q.timer = t }

// Timer returns the attached timer, or nil.
func (q *Queue) Timer() *timer.Timer { return q.timer }

// UpdateCurrentTime refreshes the cached current time. Run refreshes it
// before and after each wait.
func (q *Queue) UpdateCurrentTime() { q.now = q.clock() }

// Now returns the cached current time.
func (q *Queue) Now() time.Time { return q.now }

// AbsTimeout returns the absolute deadline d from the cached current time.
func (q *Queue) AbsTimeout(d time.Duration) time.Time { return q.now.Add(d) }

// AbsTimeoutMs returns the absolute deadline ms milliseconds from the cached
// current time.
func (q *Queue) AbsTimeoutMs(ms int) time.Time {
	return q.AbsTimeout(time.Duration(ms) * time.Millisecond)
}

// Stats returns a snapshot of the queue's counters.
func (q *Queue) Stats() Stats { return q.stats }

// Attach attaches s to q. On failure, s is left detached and reusable.
func (q *Queue) Attach(s *Source) error {
	err := s.checkUsable()
	switch {
	case err != nil:
	case s.q != nil:
		err = ErrAlreadyAttached
	case q.destroyed:
		err = ErrQueueDestroyed
	case q.destroying:
		err = ErrQueueDestroying
	}
	if err != nil {
		q.log.misuse("attach", s, err)
		return err
	}
	s.foreachGen = q.foreachGen
	s.tok = q.reg.add(s)
	s.q = q
	pending, err := q.ctx.attach(s)
	if err != nil {
		q.reg.remove(s.tok)
		s.tok = token{}
		s.q = nil
		q.log.syscall("attach", s, err)
		return backendError("attach", s.kind, err)
	}
	if pending {
		q.insertPending(s)
	} else {
		q.insertRunning(s)
	}
	return nil
}

// Detach removes s from q, firing its on-remove callback. If willClose is
// true, the caller is about to close the descriptor, and de-registration
// that the close makes redundant is skipped. Sources must not detach
// themselves from their own handlers; return Remove or Close instead.
func (q *Queue) Detach(s *Source, willClose bool) error {
	var err error
	switch {
	case s == nil || s.sentinel:
		err = ErrEmptySource
	case s.q != q:
		err = ErrNotOwner
	case s.inHandler:
		err = ErrDetachInHandler
	}
	if err != nil {
		q.log.misuse("detach", s, err)
		return err
	}
	return q.detach(s, willClose)
}

func (q *Queue) detach(s *Source, willClose bool) error {
	q.unlinkSource(s)
	q.ctx.scrub(s)
	err := q.ctx.detach(s, willClose)
	if err != nil {
		if q.destroying {
			q.log.teardown("detach", s, err)
			err = nil
		} else {
			q.log.syscall("detach", s, err)
		}
	}
	q.reg.remove(s.tok)
	s.tok = token{}
	s.q = nil
	if fn := s.onRemove; fn != nil {
		if e := fn(s); e != nil {
			q.log.onRemoveFailed(s, e)
		}
	}
	if s.deletePending && s.q == nil && !s.inHandler {
		_ = s.Delete()
	}
	return backendError("detach", s.kind, err)
}

// Destroy detaches every source (pending first, then running), firing each
// on-remove callback, and releases the kernel multiplexer. Errors are logged
// and ignored. It must not be called from within Run.
func (q *Queue) Destroy() error {
	switch {
	case q.destroyed || q.destroying:
		return nil
	case q.isRunning:
		q.log.misuse("destroy", nil, ErrQueueRunning)
		return ErrQueueRunning
	}
	q.destroying = true
	if q.foreachActive {
		q.ForeachSetEnd()
	}
	for s := q.pending.first(); s != nil; s = q.pending.first() {
		_ = q.detach(s, false)
	}
	for s := q.running.first(); s != nil; s = q.running.first() {
		_ = q.detach(s, false)
	}
	if err := q.ctx.close(); err != nil {
		q.log.teardown("close", nil, err)
	}
	q.destroyed = true
	return nil
}

// Run dispatches events until a handler stops it. It returns nil for a
// clean stop, ErrBreakError if a handler returned BreakError, or the
// backend error that ended the loop.
func (q *Queue) Run() error {
	switch {
	case q.destroyed || q.destroying:
		return ErrQueueDestroyed
	case q.isRunning:
		return ErrQueueRunning
	}
	q.isRunning = true
	defer func() {
		q.isRunning = false
		q.nevents, q.current = 0, 0
	}()
	for {
		if ev := ThreadEvent(q.threadEvents.Swap(0)); ev != 0 {
			if stop, err := q.stopOn("event", q.handleThreadEvents(ev)); stop {
				return err
			}
		}

		if err := q.flushPending(); err != nil {
			return err
		}

		q.UpdateCurrentTime()
		n, err := q.ctx.wait(q.waitTimeout())
		if err != nil {
			if !isInterrupted(err) {
				q.log.syscall("wait", nil, err)
				return backendError("wait", kindNone, err)
			}
			n = 0
		}
		q.UpdateCurrentTime()

		dispatched, stop, err := q.dispatchBatch(n)
		if stop {
			return err
		}

		if q.timer != nil {
			q.timer.RunUntil(q.now)
		}

		if dispatched != 0 && q.batchHandler != nil {
			if stop, err := q.stopOn("batch", q.batchHandler(q)); stop {
				return err
			}
		}
	}
}

// stopOn maps a queue level handler verdict to the run loop's decision.
func (q *Queue) stopOn(where string, v Verdict) (bool, error) {
	switch v {
	case Continue:
		return false, nil
	case BreakExpected:
		return true, nil
	case BreakError:
		return true, ErrBreakError
	default:
		q.log.invalidVerdict(where, v)
		return false, nil
	}
}

func (q *Queue) waitTimeout() time.Duration {
	if q.timer == nil {
		return -1
	}
	return q.timer.MinWait(q.now)
}

// dispatchBatch dispatches the n events returned by the last wait.
func (q *Queue) dispatchBatch(n int) (dispatched int, stop bool, err error) {
	q.nevents = n
	defer func() { q.nevents, q.current = 0, 0 }()
	for q.current = 0; q.current < n; q.current++ {
		s := q.ctx.decode(q.current)
		if s == nil {
			continue
		}
		dispatched++
		q.stats.Events++
		if stop, err = q.dispatch(s); stop {
			q.abandon(q.current + 1)
			break
		}
	}
	if dispatched != 0 {
		q.stats.Rounds++
	}
	return dispatched, stop, err
}

// dispatch runs the handlers of s for the decoded event, and applies the
// verdict.
func (q *Queue) dispatch(s *Source) (bool, error) {
	s.inHandler = true
	var v Verdict
	switch s.kind {
	case KindITimerSec, KindITimerMsec, KindAbsTimer:
		v = q.fireTimer(s, q.overrun)
	case KindROFD:
		v = q.dispatchROFD(s, &q.fdEvent)
	case KindOSFD:
		v = q.dispatchOSFD(s, &q.fdEvent)
	default:
		v = BreakError
	}
	s.inHandler = false

	if s.q != q {
		// detached by a callback of another source, or by on-remove
		return v.breaks(), breakErr(v)
	}

	switch v {
	case Remove, Close:
		if err := q.detach(s, v == Close); err != nil {
			return true, err
		}
		return false, nil
	case Continue, BreakExpected, BreakError:
	default:
		q.log.invalidVerdict(s.kind.String(), v)
	}
	if err := q.ctx.rearm(s); err != nil {
		q.log.syscall("rearm", s, err)
		return true, backendError("rearm", s.kind, err)
	}
	return v.breaks(), breakErr(v)
}

func breakErr(v Verdict) error {
	if v == BreakError {
		return ErrBreakError
	}
	return nil
}

// abandon restores the bookkeeping of sources whose events, from index
// from onward, will not be dispatched because the run stopped.
func (q *Queue) abandon(from int) {
	for i := from; i < q.nevents; i++ {
		q.current = i
		if s := q.ctx.decode(i); s != nil {
			if err := q.ctx.rearm(s); err != nil {
				q.log.syscall("rearm", s, err)
			}
		}
	}
}

// flushPending registers every pending source with the kernel.
func (q *Queue) flushPending() error {
	for s := q.pending.first(); s != nil; s = q.pending.first() {
		if err := q.ctx.flush(s); err != nil {
			q.log.syscall("flush", s, err)
			return backendError("flush", s.kind, err)
		}
		q.moveRunning(s)
	}
	if err := q.ctx.commit(); err != nil {
		q.log.syscall("commit", nil, err)
		return backendError("commit", kindNone, err)
	}
	return nil
}

func (q *Queue) insertPending(s *Source) {
	s.pending = true
	q.pending.pushBack(s)
	q.stats.Pending++
}

func (q *Queue) insertRunning(s *Source) {
	s.pending = false
	q.running.pushBack(s)
	q.stats.Running++
}

func (q *Queue) unlinkSource(s *Source) {
	unlink(s)
	if s.pending {
		s.pending = false
		q.stats.Pending--
	} else {
		q.stats.Running--
	}
}

// movePending moves a running source to the pending list.
func (q *Queue) movePending(s *Source) {
	if s.pending {
		return
	}
	q.unlinkSource(s)
	q.insertPending(s)
}

// moveRunning moves a pending source to the running list.
func (q *Queue) moveRunning(s *Source) {
	if !s.pending {
		return
	}
	q.unlinkSource(s)
	q.insertRunning(s)
}

func (q *Queue) handleThreadEvents(ev ThreadEvent) Verdict {
	if q.eventHandler != nil {
		return q.eventHandler(q, ev)
	}
	if ev&ThreadEventQuit != 0 {
		return BreakExpected
	}
	return Continue
}
