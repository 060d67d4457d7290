//go:build linux && (evdp_io_uring || evdp_aio_poll)

package evdp

import (
	"time"

	"golang.org/x/sys/unix"
)

var _ driver = (*queueContext)(nil)
var _ sourceDriver = (*sourceContext)(nil)

// Reserved completion identifiers. Poll ids start at 1.
const (
	pollWake     uint64 = 0
	pollInternal uint64 = ^uint64(0)
)

// completion is one finished request, as harvested from the kernel.
type completion struct {
	id  uint64
	res int64
}

// queueContext drives a completion based multiplexer (pollBackend), where
// every readiness interest is a one-shot poll request. Each request gets a
// fresh id, so completions of cancelled or superseded requests resolve to
// nothing.
type queueContext struct {
	q      *Queue
	polls  map[uint64]*Source
	done   []completion
	ring   pollBackend
	wake   wakeFDs
	nextID uint64
	// wakeArmed is true while the wakeup poll is outstanding
	wakeArmed bool
}

// sourceContext is the per-source poll state.
type sourceContext struct {
	timer timerFD
	id    uint64
	mask  uint32
	armed bool
}

func (c *sourceContext) init(s *Source) error {
	c.timer.fd = -1
	if s.kind.isTimer() {
		return c.timer.open(s.kind)
	}
	return nil
}

func (c *sourceContext) release() error { return c.timer.close() }

func (c *sourceContext) resetFD() { c.id, c.mask, c.armed = 0, 0, false }

func (x *queueContext) init(q *Queue, batchSize int) error {
	x.q = q
	x.polls = make(map[uint64]*Source)
	x.nextID = 1
	var err error
	if x.wake, err = createWakeFDs(); err != nil {
		return err
	}
	if err := x.ring.open(batchSize); err != nil {
		_ = x.wake.close()
		return err
	}
	x.done = make([]completion, batchSize)
	return nil
}

func (x *queueContext) close() error {
	err := x.ring.close()
	if e := x.wake.close(); err == nil {
		err = syscallError("close", e)
	}
	x.wake = wakeFDs{-1, -1}
	clear(x.polls)
	return err
}

func (x *queueContext) wait(timeout time.Duration) (int, error) {
	if !x.wakeArmed {
		if err := x.ring.pollAdd(x.wake.r, unix.POLLIN, pollWake); err != nil {
			return 0, err
		}
		x.wakeArmed = true
	}
	return x.ring.wait(timeout, x.done)
}

func (x *queueContext) decode(i int) *Source {
	c := x.done[i]
	switch c.id {
	case pollWake:
		x.wakeArmed = false
		x.q.wakeReceived(x.wake)
		return nil
	case pollInternal:
		return nil
	}
	s, ok := x.polls[c.id]
	if !ok {
		return nil
	}
	delete(x.polls, c.id)
	s.ctx.armed = false
	s.ctx.id = 0

	var mask uint32
	switch {
	case c.res >= 0:
		mask = uint32(c.res)
	case unix.Errno(-c.res) == unix.ECANCELED:
		x.repoll(s)
		return nil
	default:
		x.q.log.syscall("poll", s, syscallError("poll", unix.Errno(-c.res)))
		mask = unix.POLLERR
	}

	switch s.kind {
	case KindITimerSec, KindITimerMsec, KindAbsTimer:
		n, err := s.ctx.timer.overrun()
		if err != nil {
			x.q.log.syscall("read", s, err)
		}
		if n == 0 {
			x.repoll(s)
			return nil
		}
		x.q.overrun = n
	case KindROFD, KindOSFD:
		e := &x.q.fdEvent
		e.reset(s.FD())
		e.readable = mask&unix.POLLIN != 0
		e.writable = mask&unix.POLLOUT != 0
		e.hup = mask&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0
	default:
		return nil
	}
	return s
}

// repoll re-pends a source whose poll completed without an event to
// dispatch.
func (x *queueContext) repoll(s *Source) {
	if s.kind != KindOSFD || osFDInterest(s) != 0 {
		x.q.movePending(s)
	}
}

func (x *queueContext) scrub(s *Source) {
	for i := x.q.current + 1; i < x.q.nevents; i++ {
		if id := x.done[i].id; id == s.ctx.id && x.polls[id] == s {
			x.done[i].id = pollInternal
		}
	}
}

func (x *queueContext) attach(s *Source) (bool, error) {
	if s.kind == KindOSFD {
		return osFDInterest(s) != 0, nil
	}
	return true, nil
}

func pollMask(i interest) uint32 {
	var mask uint32
	if i&interestRead != 0 {
		mask |= unix.POLLIN
	}
	if i&interestWrite != 0 {
		mask |= unix.POLLOUT
	}
	return mask
}

// cancel withdraws the outstanding poll of s, if any.
func (x *queueContext) cancel(s *Source) error {
	c := &s.ctx
	if !c.armed {
		return nil
	}
	delete(x.polls, c.id)
	id := c.id
	c.id, c.mask, c.armed = 0, 0, false
	x.q.stats.Registrations++
	return x.ring.pollCancel(id)
}

func (x *queueContext) flush(s *Source) error {
	c := &s.ctx
	fd, mask := s.FD(), uint32(unix.POLLIN)
	switch s.kind {
	case KindITimerSec, KindITimerMsec, KindAbsTimer:
		if !c.timer.armed {
			if err := c.timer.arm(s); err != nil {
				return err
			}
		}
		fd = c.timer.fd
	case KindOSFD:
		mask = pollMask(osFDInterest(s))
	}
	if c.armed && c.mask == mask {
		return nil
	}
	if err := x.cancel(s); err != nil {
		return err
	}
	if mask == 0 {
		return nil
	}
	id := x.nextID
	x.nextID++
	x.q.stats.Registrations++
	if err := x.ring.pollAdd(fd, mask, id); err != nil {
		return err
	}
	x.polls[id] = s
	c.id, c.mask, c.armed = id, mask, true
	return nil
}

func (x *queueContext) commit() error { return x.ring.submit() }

// detach cancels the poll whether or not the descriptor is about to be
// closed, since an in-flight request holds its own reference to the file.
func (x *queueContext) detach(s *Source, _ bool) error {
	var err error
	if s.kind.isTimer() {
		err = s.ctx.timer.disarm()
	}
	if e := x.cancel(s); err == nil {
		err = e
	}
	if e := x.ring.submit(); err == nil {
		err = e
	}
	return err
}

func (x *queueContext) rearm(s *Source) error {
	if s.kind == KindAbsTimer && s.ctx.timer.armed {
		if err := s.ctx.timer.arm(s); err != nil {
			return err
		}
	}
	if !s.ctx.armed {
		x.repoll(s)
	}
	return nil
}

func (x *queueContext) enable(s *Source, bit interest) error {
	i := osFDInterest(s) | bit
	osFDSetInterest(s, i)
	if !s.ctx.armed || s.ctx.mask != pollMask(i) {
		x.q.movePending(s)
	}
	return nil
}

func (x *queueContext) disable(s *Source, bit interest) error {
	i := osFDInterest(s) &^ bit
	osFDSetInterest(s, i)
	if i == 0 {
		x.q.moveRunning(s)
		return x.cancel(s)
	}
	if s.ctx.armed && s.ctx.mask != pollMask(i) {
		x.q.movePending(s)
	}
	return nil
}

func (x *queueContext) regulate(s *Source) error {
	if s.ctx.timer.armed {
		return s.ctx.timer.arm(s)
	}
	return nil
}

func (x *queueContext) wakeup() error { return syscallError("write", x.wake.signal()) }
