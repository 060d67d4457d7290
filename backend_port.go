//go:build solaris || illumos

package evdp

import (
	"errors"
	"time"

	"github.com/joeycumines/go-evdp/timer"
	"golang.org/x/sys/unix"
)

// Backend names the kernel multiplexer compiled into this build.
const Backend = "port"

var _ driver = (*queueContext)(nil)
var _ sourceDriver = (*sourceContext)(nil)

// queueContext drives an event port. Descriptor associations are one-shot
// and carry their source as the cookie. Timer sources are serviced in
// software, from a private timer.Timer that bounds each wait; their
// expirations follow the port events of the same wait.
type queueContext struct {
	q      *Queue
	port   *unix.EventPort
	timers *timer.Timer
	events []unix.PortEvent
	fired  []*Source
	wake   wakeFDs
	nport  int
	// wakeArmed is true while the wakeup descriptor is associated
	wakeArmed bool
}

// sourceContext is the per-source event port state.
type sourceContext struct {
	point *timer.Point
	// due is the deadline of an interval timer's current period
	due     time.Time
	overrun int64
	mask    int
	// armed is true while a descriptor is associated, or an absolute timer
	// is scheduled
	armed bool
}

func (c *sourceContext) init(*Source) error { return nil }

func (c *sourceContext) release() error { return nil }

func (c *sourceContext) resetFD() { c.mask, c.armed = 0, false }

func (x *queueContext) init(q *Queue, batchSize int) error {
	x.q = q
	port, err := unix.NewEventPort()
	if err != nil {
		return syscallError("port_create", err)
	}
	x.port = port
	if x.wake, err = createWakeFDs(); err != nil {
		_ = port.Close()
		return err
	}
	x.timers = timer.New(0, 0)
	x.events = make([]unix.PortEvent, batchSize)
	return nil
}

func (x *queueContext) close() error {
	err := syscallError("close", x.port.Close())
	if e := x.wake.close(); err == nil {
		err = syscallError("close", e)
	}
	x.wake = wakeFDs{-1, -1}
	x.timers.Destroy()
	return err
}

func (x *queueContext) wait(timeout time.Duration) (int, error) {
	if !x.wakeArmed {
		x.q.stats.Registrations++
		if err := x.port.AssociateFd(uintptr(x.wake.r), unix.POLLIN, x); err != nil {
			return 0, syscallError("port_associate", err)
		}
		x.wakeArmed = true
	}
	if d := x.timers.MinWait(time.Now()); d >= 0 && (timeout < 0 || d < timeout) {
		timeout = d
	}
	var ts *unix.Timespec
	if timeout >= 0 {
		v := unix.NsecToTimespec(int64(timeout))
		ts = &v
	}

	clear(x.fired)
	x.fired = x.fired[:0]
	n, err := x.port.Get(x.events, 1, ts)
	if err != nil && !errors.Is(err, unix.ETIME) {
		return 0, syscallError("port_getn", err)
	}
	x.nport = n
	x.timers.RunUntil(time.Now())
	return n + len(x.fired), nil
}

// expire records the expiration of a timer source, for decode.
func (x *queueContext) expire(data any) timer.Result {
	s := data.(*Source)
	c := &s.ctx
	switch cfg := s.cfg.(type) {
	case *itimerConfig:
		late := time.Since(c.due)
		c.overrun = 1 + int64(late/cfg.period)
		c.due = c.due.Add(time.Duration(c.overrun) * cfg.period)
		x.timers.ResetPoint(c.point, c.due)
	case *absTimerConfig:
		c.overrun = 1
		c.armed = false
	}
	x.fired = append(x.fired, s)
	return timer.Keep
}

func (x *queueContext) decode(i int) *Source {
	if i >= x.nport {
		s := x.fired[i-x.nport]
		if s == nil {
			return nil
		}
		x.q.overrun = s.ctx.overrun
		return s
	}
	pe := &x.events[i]
	switch v := pe.Cookie.(type) {
	case *queueContext:
		x.wakeArmed = false
		x.q.wakeReceived(x.wake)
		return nil
	case *Source:
		if v.q != x.q {
			return nil
		}
		v.ctx.armed = false
		e := &x.q.fdEvent
		e.reset(v.FD())
		e.readable = pe.Events&unix.POLLIN != 0
		e.writable = pe.Events&unix.POLLOUT != 0
		e.hup = pe.Events&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0
		return v
	}
	return nil
}

func (x *queueContext) scrub(s *Source) {
	for i := x.q.current + 1; i < x.q.nevents; i++ {
		if i >= x.nport {
			if x.fired[i-x.nport] == s {
				x.fired[i-x.nport] = nil
			}
		} else if v, ok := x.events[i].Cookie.(*Source); ok && v == s {
			x.events[i].Cookie = nil
		}
	}
}

func (x *queueContext) attach(s *Source) (bool, error) {
	if s.kind == KindOSFD {
		return osFDInterest(s) != 0, nil
	}
	return true, nil
}

func portMask(s *Source) int {
	if s.kind != KindOSFD {
		return unix.POLLIN
	}
	var mask int
	i := osFDInterest(s)
	if i&interestRead != 0 {
		mask |= unix.POLLIN
	}
	if i&interestWrite != 0 {
		mask |= unix.POLLOUT
	}
	return mask
}

func (x *queueContext) dissociate(s *Source) error {
	if !s.ctx.armed {
		return nil
	}
	s.ctx.mask, s.ctx.armed = 0, false
	fd := uintptr(s.FD())
	if !x.port.FdIsWatched(fd) {
		// already fired, and retrieved by the last wait
		return nil
	}
	x.q.stats.Registrations++
	return syscallError("port_dissociate", x.port.DissociateFd(fd))
}

func (x *queueContext) flush(s *Source) error {
	c := &s.ctx
	switch cfg := s.cfg.(type) {
	case *itimerConfig:
		if c.point == nil {
			c.due = time.Now().Add(cfg.period)
			c.point = x.timers.NewPoint(c.due, x.expire, s)
		}
		return nil
	case *absTimerConfig:
		if c.point == nil {
			c.point = x.timers.NewPoint(cfg.next(time.Now()), x.expire, s)
			c.armed = true
		}
		return nil
	}
	mask := portMask(s)
	if c.armed && c.mask == mask {
		return nil
	}
	if err := x.dissociate(s); err != nil {
		return err
	}
	if mask == 0 {
		return nil
	}
	x.q.stats.Registrations++
	if err := x.port.AssociateFd(uintptr(s.FD()), mask, s); err != nil {
		return syscallError("port_associate", err)
	}
	c.mask, c.armed = mask, true
	return nil
}

func (x *queueContext) commit() error { return nil }

// detach dissociates regardless of willClose, to release the association
// bookkeeping of the event port.
func (x *queueContext) detach(s *Source, _ bool) error {
	c := &s.ctx
	if s.kind.isTimer() {
		x.timers.DelPoint(c.point)
		c.point, c.armed = nil, false
		return nil
	}
	return x.dissociate(s)
}

func (x *queueContext) rearm(s *Source) error {
	c := &s.ctx
	switch s.kind {
	case KindITimerSec, KindITimerMsec:
	case KindAbsTimer:
		if !c.armed {
			return x.regulate(s)
		}
	case KindOSFD:
		if !c.armed && osFDInterest(s) != 0 {
			x.q.movePending(s)
		}
	default:
		if !c.armed {
			x.q.movePending(s)
		}
	}
	return nil
}

func (x *queueContext) enable(s *Source, bit interest) error {
	osFDSetInterest(s, osFDInterest(s)|bit)
	if !s.ctx.armed || s.ctx.mask != portMask(s) {
		x.q.movePending(s)
	}
	return nil
}

func (x *queueContext) disable(s *Source, bit interest) error {
	osFDSetInterest(s, osFDInterest(s)&^bit)
	if osFDInterest(s) == 0 {
		x.q.moveRunning(s)
		return x.dissociate(s)
	}
	if s.ctx.armed && s.ctx.mask != portMask(s) {
		x.q.movePending(s)
	}
	return nil
}

func (x *queueContext) regulate(s *Source) error {
	c := &s.ctx
	if cfg, ok := s.cfg.(*absTimerConfig); ok && c.point != nil {
		x.timers.ResetPoint(c.point, cfg.next(time.Now()))
		c.armed = true
	}
	return nil
}

func (x *queueContext) wakeup() error { return syscallError("write", x.wake.signal()) }
