package evdp

import (
	"strconv"
	"time"
)

// Kind identifies the variant of a Source.
type Kind uint8

const (
	kindNone Kind = iota
	// KindITimerSec is an interval timer with a period in seconds.
	KindITimerSec
	// KindITimerMsec is an interval timer with a period in milliseconds.
	KindITimerMsec
	// KindAbsTimer fires at a wall-clock time of day.
	KindAbsTimer
	// KindROFD is a persistent read-only file descriptor.
	KindROFD
	// KindOSFD is a file descriptor with one-shot read and write interest.
	KindOSFD
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case kindNone:
		return "none"
	case KindITimerSec:
		return "itimer_s"
	case KindITimerMsec:
		return "itimer_ms"
	case KindAbsTimer:
		return "abstimer"
	case KindROFD:
		return "ro_fd"
	case KindOSFD:
		return "os_fd"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

func (k Kind) isTimer() bool {
	return k == KindITimerSec || k == KindITimerMsec || k == KindAbsTimer
}

type (
	// WakeupHandler is called when a timer source fires. The overrun is the
	// number of expirations since the previous call, at least 1.
	WakeupHandler func(s *Source, ident uint, overrun int64) Verdict

	// FDHandler is called when a descriptor is ready, or has hung up.
	FDHandler func(s *Source, fd int, ev *FDEvent) Verdict

	// OnRemoveFunc is called exactly once each time a source leaves a queue,
	// after it has been detached. A returned error is logged.
	OnRemoveFunc func(s *Source) error
)

// sourceConfig is the kind-specific, user-facing configuration of a source.
type sourceConfig interface {
	sourceKind() Kind
}

// Source is one unit of interest (a timer, or a descriptor's readiness).
//
// A Source is created detached, and may be attached to at most one Queue at
// a time. Sources are not safe for concurrent use, and must only be used
// from the goroutine running their queue.
type Source struct {
	prev       *Source
	next       *Source
	q          *Queue
	cfg        sourceConfig
	userData   any
	onRemove   OnRemoveFunc
	ctx        sourceContext
	foreachGen uint64
	tok        token
	utype      int
	kind       Kind
	sentinel   bool
	pending    bool
	// inHandler is the no-detach guard, set while the source's own handler
	// runs.
	inHandler     bool
	deleted       bool
	deletePending bool
}

func newSource(kind Kind, cfg sourceConfig) (*Source, error) {
	s := &Source{kind: kind, cfg: cfg}
	if err := s.ctx.init(s); err != nil {
		return nil, backendError("create", kind, err)
	}
	return s, nil
}

// Kind returns the variant of s.
func (s *Source) Kind() Kind { return s.kind }

// Queue returns the queue s is attached to, or nil.
func (s *Source) Queue() *Queue { return s.q }

// SetUserData sets an arbitrary value associated with s.
func (s *Source) SetUserData(v any) { s.userData = v }

// UserData returns the value set by SetUserData.
func (s *Source) UserData() any { return s.userData }

// SetOnRemove sets the callback fired each time s leaves a queue.
func (s *Source) SetOnRemove(fn OnRemoveFunc) { s.onRemove = fn }

// SetUType sets the foreach tag. Sources with a zero tag are skipped by
// Queue.ForeachNext.
func (s *Source) SetUType(utype int) { s.utype = utype }

// UType returns the foreach tag.
func (s *Source) UType() int { return s.utype }

// FD returns the descriptor of an fd source, or -1.
func (s *Source) FD() int {
	switch c := s.cfg.(type) {
	case *roFDConfig:
		return c.fd
	case *osFDConfig:
		return c.fd
	default:
		return -1
	}
}

// Delete releases the resources held by s. It fails for attached sources,
// except from within the source's own handler, where the deletion is
// deferred until the source leaves its queue.
func (s *Source) Delete() error {
	if s.sentinel || s.cfg == nil {
		return ErrEmptySource
	}
	if s.deleted {
		return nil
	}
	if s.q != nil {
		if s.inHandler {
			s.deletePending = true
			return nil
		}
		s.q.log.misuse("delete", s, ErrSourceAttached)
		return ErrSourceAttached
	}
	s.deleted = true
	s.deletePending = false
	return s.ctx.release()
}

func (s *Source) checkUsable() error {
	switch {
	case s == nil || s.sentinel || s.cfg == nil:
		return ErrEmptySource
	case s.deleted:
		return ErrSourceDeleted
	}
	return nil
}

// --- interval timers ---

type itimerConfig struct {
	wakeup WakeupHandler
	period time.Duration
	ident  uint
	kind   Kind
}

func (c *itimerConfig) sourceKind() Kind { return c.kind }

// NewITimerSec returns a timer source that fires every sec seconds.
func NewITimerSec(ident uint, sec int, wakeup WakeupHandler) (*Source, error) {
	return newITimer(KindITimerSec, ident, time.Duration(sec)*time.Second, wakeup)
}

// NewITimerMsec returns a timer source that fires every msec milliseconds.
func NewITimerMsec(ident uint, msec int, wakeup WakeupHandler) (*Source, error) {
	return newITimer(KindITimerMsec, ident, time.Duration(msec)*time.Millisecond, wakeup)
}

func newITimer(kind Kind, ident uint, period time.Duration, wakeup WakeupHandler) (*Source, error) {
	if period <= 0 {
		return nil, ErrInvalidInterval
	}
	if wakeup == nil {
		return nil, ErrNilHandler
	}
	return newSource(kind, &itimerConfig{wakeup: wakeup, period: period, ident: ident, kind: kind})
}

// --- absolute timers ---

const secondsPerDay = 86400

type absTimerConfig struct {
	wakeup   WakeupHandler
	interval time.Duration
	ident    uint
	secOfDay int
}

func (c *absTimerConfig) sourceKind() Kind { return KindAbsTimer }

// next returns the nearest instant after now, on the grid of interval
// spaced instants anchored at today's secOfDay in now's location.
func (c *absTimerConfig) next(now time.Time) time.Time {
	t := nextDaytime(now, c.secOfDay)
	for t.Add(-c.interval).After(now) {
		t = t.Add(-c.interval)
	}
	return t
}

// nextDaytime returns the nearest instant after now whose local time of day
// is secOfDay.
func nextDaytime(now time.Time, secOfDay int) time.Time {
	y, m, d := now.Date()
	t := time.Date(y, m, d, 0, 0, secOfDay, 0, now.Location())
	for !t.After(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

// NewAbsTimer returns a timer source firing at secOfDay (local time), then
// every intervalHour hours, or daily if intervalHour is zero or less.
func NewAbsTimer(ident uint, secOfDay int, intervalHour int, wakeup WakeupHandler) (*Source, error) {
	if secOfDay < 0 || secOfDay >= secondsPerDay {
		return nil, ErrInvalidSecOfDay
	}
	if wakeup == nil {
		return nil, ErrNilHandler
	}
	interval := 24 * time.Hour
	if intervalHour > 0 {
		interval = time.Duration(intervalHour) * time.Hour
	}
	return newSource(KindAbsTimer, &absTimerConfig{
		wakeup:   wakeup,
		interval: interval,
		ident:    ident,
		secOfDay: secOfDay,
	})
}

// Regulate changes the time of day of an absolute timer, and re-programs it
// if armed. A negative secOfDay keeps the current value.
func (s *Source) Regulate(secOfDay int) error {
	if err := s.checkUsable(); err != nil {
		return err
	}
	c, ok := s.cfg.(*absTimerConfig)
	if !ok {
		return ErrInvalidKind
	}
	if secOfDay >= secondsPerDay {
		return ErrInvalidSecOfDay
	}
	if secOfDay >= 0 {
		c.secOfDay = secOfDay
	}
	if s.q == nil {
		return nil
	}
	if err := s.q.ctx.regulate(s); err != nil {
		s.q.log.syscall("regulate", s, err)
		return backendError("regulate", s.kind, err)
	}
	return nil
}

// SecOfDay returns the configured time of day of an absolute timer, or -1.
func (s *Source) SecOfDay() int {
	if c, ok := s.cfg.(*absTimerConfig); ok {
		return c.secOfDay
	}
	return -1
}

func (q *Queue) fireTimer(s *Source, overrun int64) Verdict {
	if overrun < 1 {
		overrun = 1
	}
	switch c := s.cfg.(type) {
	case *itimerConfig:
		return c.wakeup(s, c.ident, overrun)
	case *absTimerConfig:
		return c.wakeup(s, c.ident, overrun)
	}
	return BreakError
}

// --- read-only fd ---

type roFDConfig struct {
	read FDHandler
	hup  FDHandler
	fd   int
}

func (c *roFDConfig) sourceKind() Kind { return KindROFD }

// NewROFD returns a source that is always interested in fd becoming
// readable. A read handler result other than Continue ends dispatch of the
// event. The hup handler's result becomes Remove, unless it is Close or a
// break.
func NewROFD(fd int, read, hup FDHandler) (*Source, error) {
	if fd < 0 {
		return nil, ErrInvalidFD
	}
	if read == nil || hup == nil {
		return nil, ErrNilHandler
	}
	return newSource(KindROFD, &roFDConfig{read: read, hup: hup, fd: fd})
}

func normalizeHup(v Verdict) Verdict {
	switch v {
	case BreakError, BreakExpected, Close:
		return v
	default:
		return Remove
	}
}

func (q *Queue) dispatchROFD(s *Source, ev *FDEvent) Verdict {
	c := s.cfg.(*roFDConfig)
	if ev.readable {
		if v := c.read(s, c.fd, ev); v != Continue {
			return v
		}
	}
	if ev.hup {
		return normalizeHup(c.hup(s, c.fd, ev))
	}
	return Continue
}
