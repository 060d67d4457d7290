//go:build solaris || illumos

package evdp

import (
	"golang.org/x/sys/unix"
)

// fionread is _IOR('f', 127, int).
const fionread = 0x4004667f

func ioctlNRead(fd int) (int, error) { return unix.IoctlGetInt(fd, fionread) }
