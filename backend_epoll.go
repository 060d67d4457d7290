//go:build linux && !evdp_io_uring && !evdp_aio_poll

package evdp

import (
	"time"

	"golang.org/x/sys/unix"
)

// Backend names the kernel multiplexer compiled into this build.
const Backend = "epoll"

var _ driver = (*queueContext)(nil)
var _ sourceDriver = (*sourceContext)(nil)

// queueContext drives an epoll instance. Event data carries the source
// token: Fd holds the slot, Pad the generation. The zero token is the
// queue's eventfd.
type queueContext struct {
	q      *Queue
	events []unix.EpollEvent
	wake   wakeFDs
	epfd   int
}

// sourceContext is the per-source epoll state.
type sourceContext struct {
	timer timerFD
	// registered is true while the descriptor is in the epoll set
	registered bool
	// armed is true while an os_fd one-shot registration has not fired
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

func (c *sourceContext) resetFD() { c.registered, c.armed = false, false }

func (x *queueContext) init(q *Queue, batchSize int) error {
	x.q = q
	x.epfd = -1
	x.wake = wakeFDs{-1, -1}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return syscallError("epoll_create1", err)
	}
	x.epfd = epfd

	if x.wake, err = createWakeFDs(); err != nil {
		_ = x.close()
		return err
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN}
	if err := unix.EpollCtl(x.epfd, unix.EPOLL_CTL_ADD, x.wake.r, &ev); err != nil {
		_ = x.close()
		return syscallError("epoll_ctl", err)
	}

	x.events = make([]unix.EpollEvent, batchSize)
	return nil
}

func (x *queueContext) close() error {
	err := x.wake.close()
	if e := closeFD(x.epfd); err == nil {
		err = e
	}
	x.epfd = -1
	x.wake = wakeFDs{-1, -1}
	return syscallError("close", err)
}

func (x *queueContext) wait(timeout time.Duration) (int, error) {
	n, err := unix.EpollWait(x.epfd, x.events, waitMillis(timeout))
	if err != nil {
		return 0, syscallError("epoll_wait", err)
	}
	return n, nil
}

func epollToken(ev *unix.EpollEvent) token {
	return token{slot: uint32(ev.Fd), gen: uint32(ev.Pad)}
}

func (x *queueContext) decode(i int) *Source {
	ev := &x.events[i]
	tok := epollToken(ev)
	if !tok.valid() {
		if ev.Events != 0 {
			x.q.wakeReceived(x.wake)
		}
		return nil
	}
	s := x.q.reg.lookup(tok)
	if s == nil {
		return nil
	}

	hup := ev.Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0
	switch s.kind {
	case KindITimerSec, KindITimerMsec, KindAbsTimer:
		n, err := s.ctx.timer.overrun()
		if err != nil {
			x.q.log.syscall("read", s, err)
		}
		if n == 0 {
			return nil
		}
		x.q.overrun = n
	case KindROFD:
		x.q.fdEvent.reset(s.FD())
		x.q.fdEvent.readable = ev.Events&unix.EPOLLIN != 0
		x.q.fdEvent.hup = hup
	case KindOSFD:
		s.ctx.armed = false
		x.q.fdEvent.reset(s.FD())
		x.q.fdEvent.readable = ev.Events&unix.EPOLLIN != 0
		x.q.fdEvent.writable = ev.Events&unix.EPOLLOUT != 0
		x.q.fdEvent.hup = hup
	default:
		return nil
	}
	return s
}

func (x *queueContext) scrub(s *Source) {
	for i := x.q.current + 1; i < x.q.nevents; i++ {
		if epollToken(&x.events[i]) == s.tok {
			x.events[i] = unix.EpollEvent{}
		}
	}
}

func (x *queueContext) attach(s *Source) (bool, error) {
	if s.kind == KindOSFD {
		return osFDInterest(s) != 0, nil
	}
	return true, nil
}

func (x *queueContext) ctl(op int, fd int, events uint32, s *Source) error {
	ev := unix.EpollEvent{Events: events}
	if s != nil {
		ev.Fd = int32(s.tok.slot)
		ev.Pad = int32(s.tok.gen)
	}
	x.q.stats.Registrations++
	return syscallError("epoll_ctl", unix.EpollCtl(x.epfd, op, fd, &ev))
}

func epollInterest(i interest) uint32 {
	var events uint32
	if i&interestRead != 0 {
		events |= unix.EPOLLIN
	}
	if i&interestWrite != 0 {
		events |= unix.EPOLLOUT
	}
	return events | unix.EPOLLONESHOT
}

func (x *queueContext) flush(s *Source) error {
	c := &s.ctx
	switch s.kind {
	case KindITimerSec, KindITimerMsec, KindAbsTimer:
		if !c.timer.armed {
			if err := c.timer.arm(s); err != nil {
				return err
			}
		}
		if !c.registered {
			if err := x.ctl(unix.EPOLL_CTL_ADD, c.timer.fd, unix.EPOLLIN, s); err != nil {
				return err
			}
			c.registered = true
		}
	case KindROFD:
		if !c.registered {
			if err := x.ctl(unix.EPOLL_CTL_ADD, s.FD(), unix.EPOLLIN, s); err != nil {
				return err
			}
			c.registered = true
		}
	case KindOSFD:
		i := osFDInterest(s)
		if i == 0 || c.armed {
			return nil
		}
		op := unix.EPOLL_CTL_ADD
		if c.registered {
			op = unix.EPOLL_CTL_MOD
		}
		if err := x.ctl(op, s.FD(), epollInterest(i), s); err != nil {
			return err
		}
		c.registered, c.armed = true, true
	}
	return nil
}

func (x *queueContext) commit() error { return nil }

func (x *queueContext) detach(s *Source, willClose bool) error {
	c := &s.ctx
	var err error
	switch s.kind {
	case KindITimerSec, KindITimerMsec, KindAbsTimer:
		err = c.timer.disarm()
		if c.registered {
			if e := x.ctl(unix.EPOLL_CTL_DEL, c.timer.fd, 0, nil); err == nil {
				err = e
			}
		}
	default:
		if c.registered && !willClose {
			err = x.ctl(unix.EPOLL_CTL_DEL, s.FD(), 0, nil)
		}
	}
	c.registered, c.armed = false, false
	return err
}

func (x *queueContext) rearm(s *Source) error {
	switch s.kind {
	case KindAbsTimer:
		if s.ctx.timer.armed {
			return s.ctx.timer.arm(s)
		}
	case KindOSFD:
		if !s.ctx.armed && osFDInterest(s) != 0 {
			x.q.movePending(s)
		}
	}
	return nil
}

func (x *queueContext) enable(s *Source, bit interest) error {
	c := &s.ctx
	i := osFDInterest(s)
	if c.armed {
		if i&bit != 0 {
			return nil
		}
		i |= bit
		osFDSetInterest(s, i)
		return x.ctl(unix.EPOLL_CTL_MOD, s.FD(), epollInterest(i), s)
	}
	osFDSetInterest(s, i|bit)
	x.q.movePending(s)
	return nil
}

func (x *queueContext) disable(s *Source, bit interest) error {
	c := &s.ctx
	i := osFDInterest(s) &^ bit
	osFDSetInterest(s, i)
	if c.armed {
		if i != 0 {
			return x.ctl(unix.EPOLL_CTL_MOD, s.FD(), epollInterest(i), s)
		}
		c.registered, c.armed = false, false
		return x.ctl(unix.EPOLL_CTL_DEL, s.FD(), 0, nil)
	}
	if i == 0 {
		x.q.moveRunning(s)
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
