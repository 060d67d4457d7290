//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package evdp

import (
	"time"

	"golang.org/x/sys/unix"
)

// Backend names the kernel multiplexer compiled into this build.
const Backend = "kqueue"

var _ driver = (*queueContext)(nil)
var _ sourceDriver = (*sourceContext)(nil)

// queueContext drives a kqueue. Descriptor filters are identified by the
// descriptor itself, timers by their token slot. Kevent_t.Udata differs in
// type between systems, so it is not used.
type queueContext struct {
	q       *Queue
	byFD    map[int]*Source
	changes []unix.Kevent_t
	events  []unix.Kevent_t
	// dead marks scrubbed entries of events
	dead []bool
	wake wakeFDs
	kq   int
}

// sourceContext is the per-source kqueue state.
type sourceContext struct {
	// registered is true while a persistent filter (ro_fd read, itimer) is
	// in the kqueue
	registered bool
	// readArmed and writeArmed track os_fd and abstimer one-shot filters;
	// abstimers use readArmed
	readArmed  bool
	writeArmed bool
}

func (c *sourceContext) init(*Source) error { return nil }

func (c *sourceContext) release() error { return nil }

func (c *sourceContext) resetFD() { *c = sourceContext{} }

func (x *queueContext) init(q *Queue, batchSize int) error {
	x.q = q
	x.wake = wakeFDs{-1, -1}
	x.byFD = make(map[int]*Source)

	kq, err := unix.Kqueue()
	if err != nil {
		x.kq = -1
		return syscallError("kqueue", err)
	}
	x.kq = kq
	unix.CloseOnExec(kq)

	if x.wake, err = createWakeFDs(); err != nil {
		_ = x.close()
		return err
	}
	var ev [1]unix.Kevent_t
	unix.SetKevent(&ev[0], x.wake.r, unix.EVFILT_READ, unix.EV_ADD)
	if _, err := unix.Kevent(x.kq, ev[:], nil, nil); err != nil {
		_ = x.close()
		return syscallError("kevent", err)
	}

	x.events = make([]unix.Kevent_t, batchSize)
	x.dead = make([]bool, batchSize)
	return nil
}

func (x *queueContext) close() error {
	err := x.wake.close()
	if e := closeFD(x.kq); err == nil {
		err = e
	}
	x.kq = -1
	x.wake = wakeFDs{-1, -1}
	clear(x.byFD)
	return syscallError("close", err)
}

func (x *queueContext) wait(timeout time.Duration) (int, error) {
	var ts *unix.Timespec
	if timeout >= 0 {
		v := unix.NsecToTimespec(int64(timeout))
		ts = &v
	}
	n, err := unix.Kevent(x.kq, nil, x.events, ts)
	if err != nil {
		return 0, syscallError("kevent", err)
	}
	clear(x.dead[:n])
	return n, nil
}

func (x *queueContext) sourceOf(ev *unix.Kevent_t) *Source {
	if int(ev.Filter) == unix.EVFILT_TIMER {
		return x.q.reg.bySlot(uint32(ev.Ident))
	}
	return x.byFD[int(ev.Ident)]
}

func (x *queueContext) decode(i int) *Source {
	if x.dead[i] {
		return nil
	}
	ev := &x.events[i]
	filter := int(ev.Filter)
	if filter == unix.EVFILT_READ && int(ev.Ident) == x.wake.r {
		x.q.wakeReceived(x.wake)
		return nil
	}
	if int(ev.Flags)&unix.EV_ERROR != 0 {
		s := x.sourceOf(ev)
		x.q.log.syscall("kevent", s, syscallError("kevent", unix.Errno(ev.Data)))
		return nil
	}
	s := x.sourceOf(ev)
	if s == nil {
		return nil
	}

	eof := int(ev.Flags)&unix.EV_EOF != 0
	switch s.kind {
	case KindITimerSec, KindITimerMsec, KindAbsTimer:
		if filter != unix.EVFILT_TIMER {
			return nil
		}
		if s.kind == KindAbsTimer {
			s.ctx.readArmed = false
		}
		x.q.overrun = ev.Data
		return s
	case KindROFD, KindOSFD:
		e := &x.q.fdEvent
		e.reset(s.FD())
		switch filter {
		case unix.EVFILT_READ:
			if s.kind == KindOSFD {
				s.ctx.readArmed = false
			}
			e.readable = ev.Data > 0 || !eof
			e.nread, e.nreadKnown = int(ev.Data), true
		case unix.EVFILT_WRITE:
			s.ctx.writeArmed = false
			e.writable = !eof
		default:
			return nil
		}
		if eof {
			e.hup = true
			e.sockErr, e.sockErrKnown = unix.Errno(ev.Fflags), ev.Fflags != 0
		}
		return s
	}
	return nil
}

func (x *queueContext) scrub(s *Source) {
	for i := x.q.current + 1; i < x.q.nevents; i++ {
		if x.sourceOf(&x.events[i]) == s {
			x.dead[i] = true
		}
	}
}

func (x *queueContext) attach(s *Source) (bool, error) {
	switch s.kind {
	case KindROFD, KindOSFD:
		fd := s.FD()
		if _, ok := x.byFD[fd]; ok {
			return false, ErrFDInUse
		}
		x.byFD[fd] = s
		if s.kind == KindOSFD {
			return osFDInterest(s) != 0, nil
		}
	}
	return true, nil
}

func (x *queueContext) change(ident, filter, flags int, data int64) {
	x.changes = append(x.changes, unix.Kevent_t{})
	ev := &x.changes[len(x.changes)-1]
	unix.SetKevent(ev, ident, filter, flags)
	ev.Data = data
}

func timerMillis(s *Source) int64 {
	switch c := s.cfg.(type) {
	case *itimerConfig:
		return c.period.Milliseconds()
	case *absTimerConfig:
		d := time.Until(c.next(time.Now())).Milliseconds()
		if d < 1 {
			d = 1
		}
		return d
	}
	return 0
}

func (x *queueContext) flush(s *Source) error {
	c := &s.ctx
	switch s.kind {
	case KindITimerSec, KindITimerMsec:
		if !c.registered {
			x.change(int(s.tok.slot), unix.EVFILT_TIMER, unix.EV_ADD, timerMillis(s))
			c.registered = true
		}
	case KindAbsTimer:
		if !c.readArmed {
			x.change(int(s.tok.slot), unix.EVFILT_TIMER, unix.EV_ADD|unix.EV_ONESHOT, timerMillis(s))
			c.readArmed = true
		}
	case KindROFD:
		if !c.registered {
			x.change(s.FD(), unix.EVFILT_READ, unix.EV_ADD, 0)
			c.registered = true
		}
	case KindOSFD:
		i := osFDInterest(s)
		if i&interestRead != 0 && !c.readArmed {
			x.change(s.FD(), unix.EVFILT_READ, unix.EV_ADD|unix.EV_ONESHOT, 0)
			c.readArmed = true
		}
		if i&interestWrite != 0 && !c.writeArmed {
			x.change(s.FD(), unix.EVFILT_WRITE, unix.EV_ADD|unix.EV_ONESHOT, 0)
			c.writeArmed = true
		}
	}
	return nil
}

// commit submits the batched changes. With no event list, the first failed
// change is reported as the call's error.
func (x *queueContext) commit() error {
	if len(x.changes) == 0 {
		return nil
	}
	x.q.stats.Registrations++
	_, err := unix.Kevent(x.kq, x.changes, nil, &unix.Timespec{})
	clear(x.changes)
	x.changes = x.changes[:0]
	return syscallError("kevent", err)
}

// remove deletes one filter immediately. A filter that has already gone
// (fired one-shot, or closed descriptor) is not an error.
func (x *queueContext) remove(ident, filter int) error {
	var ev [1]unix.Kevent_t
	unix.SetKevent(&ev[0], ident, filter, unix.EV_DELETE)
	x.q.stats.Registrations++
	_, err := unix.Kevent(x.kq, ev[:], nil, &unix.Timespec{})
	if err == unix.ENOENT {
		err = nil
	}
	return syscallError("kevent", err)
}

func (x *queueContext) detach(s *Source, willClose bool) error {
	c := &s.ctx
	var err error
	keep := func(e error) {
		if err == nil {
			err = e
		}
	}
	switch s.kind {
	case KindITimerSec, KindITimerMsec, KindAbsTimer:
		if c.registered || c.readArmed {
			keep(x.remove(int(s.tok.slot), unix.EVFILT_TIMER))
		}
	case KindROFD, KindOSFD:
		fd := s.FD()
		if x.byFD[fd] == s {
			delete(x.byFD, fd)
		}
		if !willClose {
			if c.registered || c.readArmed {
				keep(x.remove(fd, unix.EVFILT_READ))
			}
			if c.writeArmed {
				keep(x.remove(fd, unix.EVFILT_WRITE))
			}
		}
	}
	*c = sourceContext{}
	return err
}

func (x *queueContext) rearm(s *Source) error {
	switch s.kind {
	case KindAbsTimer:
		if !s.ctx.readArmed {
			x.q.movePending(s)
		}
	case KindOSFD:
		i := osFDInterest(s)
		if (i&interestRead != 0 && !s.ctx.readArmed) || (i&interestWrite != 0 && !s.ctx.writeArmed) {
			x.q.movePending(s)
		}
	}
	return nil
}

func (x *queueContext) enable(s *Source, bit interest) error {
	osFDSetInterest(s, osFDInterest(s)|bit)
	if !x.armed(s, bit) {
		x.q.movePending(s)
	}
	return nil
}

func (x *queueContext) disable(s *Source, bit interest) error {
	i := osFDInterest(s) &^ bit
	osFDSetInterest(s, i)
	var err error
	if x.armed(s, bit) {
		filter := unix.EVFILT_READ
		if bit == interestWrite {
			filter = unix.EVFILT_WRITE
			s.ctx.writeArmed = false
		} else {
			s.ctx.readArmed = false
		}
		err = x.remove(s.FD(), filter)
	}
	if i == 0 {
		x.q.moveRunning(s)
	}
	return err
}

func (x *queueContext) armed(s *Source, bit interest) bool {
	if bit == interestWrite {
		return s.ctx.writeArmed
	}
	return s.ctx.readArmed
}

// regulate re-adds an armed absolute timer on the next flush, which
// replaces its deadline.
func (x *queueContext) regulate(s *Source) error {
	if s.ctx.readArmed {
		s.ctx.readArmed = false
		x.q.movePending(s)
	}
	return nil
}

func (x *queueContext) wakeup() error { return syscallError("write", x.wake.signal()) }
