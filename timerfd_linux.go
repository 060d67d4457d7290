//go:build linux

package evdp

import (
	"encoding/binary"
	"time"

	"golang.org/x/sys/unix"
)

// timerFD is the kernel timer backing a timer source on the Linux backends.
type timerFD struct {
	fd    int
	armed bool
}

func (t *timerFD) open(kind Kind) error {
	clock := unix.CLOCK_BOOTTIME
	if kind == KindAbsTimer {
		clock = unix.CLOCK_REALTIME
	}
	fd, err := unix.TimerfdCreate(clock, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		t.fd = -1
		return syscallError("timerfd_create", err)
	}
	t.fd = fd
	return nil
}

func (t *timerFD) close() error {
	fd := t.fd
	t.fd, t.armed = -1, false
	return syscallError("close", closeFD(fd))
}

// arm programs the timer from the configuration of s. Absolute timers are
// re-computed from the current wall clock.
func (t *timerFD) arm(s *Source) error {
	var (
		spec  unix.ItimerSpec
		flags int
	)
	switch c := s.cfg.(type) {
	case *itimerConfig:
		spec.Interval = unix.NsecToTimespec(int64(c.period))
		spec.Value = spec.Interval
	case *absTimerConfig:
		spec.Interval = unix.NsecToTimespec(int64(c.interval))
		spec.Value = unix.NsecToTimespec(c.next(time.Now()).UnixNano())
		flags = unix.TFD_TIMER_ABSTIME
	default:
		return ErrInvalidKind
	}
	if err := unix.TimerfdSettime(t.fd, flags, &spec, nil); err != nil {
		return syscallError("timerfd_settime", err)
	}
	t.armed = true
	return nil
}

func (t *timerFD) disarm() error {
	if !t.armed {
		return nil
	}
	t.armed = false
	var spec unix.ItimerSpec
	return syscallError("timerfd_settime", unix.TimerfdSettime(t.fd, 0, &spec, nil))
}

// overrun consumes the expiration count. Zero means the timer has not
// expired, which happens when it was re-programmed after the event was
// reported.
func (t *timerFD) overrun() (int64, error) {
	var buf [8]byte
	n, err := readFD(t.fd, buf[:])
	switch {
	case err != nil && isWouldBlock(err):
		return 0, nil
	case err != nil:
		return 0, syscallError("read", err)
	case n != len(buf):
		return 0, nil
	}
	return int64(binary.NativeEndian.Uint64(buf[:])), nil
}
