//go:build unix && !linux

package evdp

import (
	"golang.org/x/sys/unix"
)

// createWakeFDs creates a non-blocking, close-on-exec self-pipe for wake-up
// notifications.
func createWakeFDs() (wakeFDs, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return wakeFDs{-1, -1}, syscallError("pipe", err)
	}
	x := wakeFDs{r: fds[0], w: fds[1]}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = x.close()
			return wakeFDs{-1, -1}, syscallError("fcntl", err)
		}
	}
	return x, nil
}
