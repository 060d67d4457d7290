//go:build linux

package evdp

import (
	"golang.org/x/sys/unix"
)

func ioctlNRead(fd int) (int, error) { return unix.IoctlGetInt(fd, unix.TIOCINQ) }
