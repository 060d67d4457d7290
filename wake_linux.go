//go:build linux

package evdp

import (
	"golang.org/x/sys/unix"
)

// createWakeFDs creates an eventfd for wake-up notifications.
func createWakeFDs() (wakeFDs, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return wakeFDs{-1, -1}, syscallError("eventfd", err)
	}
	return wakeFDs{r: fd, w: fd}, nil
}
