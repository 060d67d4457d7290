//go:build unix

package evdp

import (
	"errors"

	"golang.org/x/sys/unix"
)

// closeFD closes a file descriptor, ignoring negative values.
func closeFD(fd int) error {
	if fd < 0 {
		return nil
	}
	return unix.Close(fd)
}

// readFD reads from a file descriptor, retrying on EINTR.
func readFD(fd int, buf []byte) (int, error) {
	for {
		n, err := unix.Read(fd, buf)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

// writeFD writes to a file descriptor, retrying on EINTR.
func writeFD(fd int, buf []byte) (int, error) {
	for {
		n, err := unix.Write(fd, buf)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

func isInterrupted(err error) bool { return errors.Is(err, unix.EINTR) }

func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

// wakeFDs is the queue's cross-goroutine wakeup channel. On Linux both ends
// are the same eventfd.
type wakeFDs struct {
	r int
	w int
}

// signal makes r readable. It may be called from any goroutine.
func (x wakeFDs) signal() error {
	buf := [8]byte{1}
	if _, err := writeFD(x.w, buf[:]); err != nil && !isWouldBlock(err) {
		return err
	}
	return nil
}

// drain consumes every pending wakeup.
func (x wakeFDs) drain() {
	var buf [64]byte
	for {
		if _, err := readFD(x.r, buf[:]); err != nil {
			return
		}
	}
}

func (x wakeFDs) close() error {
	err := closeFD(x.r)
	if x.w != x.r {
		if e := closeFD(x.w); err == nil {
			err = e
		}
	}
	return err
}
