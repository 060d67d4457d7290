//go:build unix

package evdp

import (
	"golang.org/x/sys/unix"
)

// FDEvent describes the readiness reported for a descriptor. It is only
// valid for the duration of the handler call it is passed to.
type FDEvent struct {
	fd           int
	nread        int
	sockErr      unix.Errno
	readable     bool
	writable     bool
	hup          bool
	nreadKnown   bool
	sockErrKnown bool
}

func (e *FDEvent) reset(fd int) { *e = FDEvent{fd: fd} }

// FD returns the descriptor the event is for.
func (e *FDEvent) FD() int { return e.fd }

// Readable reports whether the descriptor is readable.
func (e *FDEvent) Readable() bool { return e.readable }

// Writable reports whether the descriptor is writable.
func (e *FDEvent) Writable() bool { return e.writable }

// Hup reports whether the peer hung up, or the descriptor is in error.
func (e *FDEvent) Hup() bool { return e.hup }

// ReadableBytes returns the number of bytes that can be read without
// blocking. Backends that report the count with the event avoid a syscall.
func (e *FDEvent) ReadableBytes() (int, error) {
	if e.nreadKnown {
		return e.nread, nil
	}
	n, err := ioctlNRead(e.fd)
	if err != nil {
		return 0, syscallError("ioctl", err)
	}
	return n, nil
}

// SockError returns the pending socket error (SO_ERROR), zero if there is
// none.
func (e *FDEvent) SockError() (unix.Errno, error) {
	if e.sockErrKnown {
		return e.sockErr, nil
	}
	v, err := unix.GetsockoptInt(e.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return 0, syscallError("getsockopt", err)
	}
	return unix.Errno(v), nil
}

// SockLogOnHup is a hang-up handler that logs the socket error, if any, and
// returns Close.
func SockLogOnHup(s *Source, fd int, ev *FDEvent) Verdict {
	q := s.Queue()
	if q == nil {
		return Close
	}
	errno, err := ev.SockError()
	switch {
	case err != nil:
		q.log.syscall("getsockopt", s, err)
	case errno != 0:
		withSource(q.log.logger.Warning(), s).
			Err(errno).
			Log("evdp: socket hung up with error")
	default:
		withSource(q.log.logger.Debug(), s).
			Log("evdp: socket hung up")
	}
	return Close
}
