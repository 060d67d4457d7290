//go:build linux && evdp_aio_poll && !evdp_io_uring

package evdp

import (
	"slices"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Backend names the kernel multiplexer compiled into this build.
const Backend = "aio_poll"

type pollBackend = aioRing

const iocbCmdPoll = 5

// iocb is struct iocb, in little endian field order.
type iocb struct {
	data      uint64
	key       uint32
	rwFlags   int32
	opcode    uint16
	reqprio   int16
	fildes    uint32
	buf       uint64
	nbytes    uint64
	offset    int64
	reserved2 uint64
	flags     uint32
	resfd     uint32
}

type ioEvent struct {
	data uint64
	obj  uint64
	res  int64
	res2 int64
}

// aioRing is a Linux AIO context, used for IOCB_CMD_POLL requests. The
// kernel identifies a request by the address of its iocb, so every
// in-flight iocb is kept reachable until it completes or is cancelled.
type aioRing struct {
	live   map[uint64]*iocb
	queued []*iocb
	events []ioEvent
	ctx    uintptr
}

func (r *aioRing) open(batchSize int) error {
	nr := max(batchSize<<3, 128)
	if _, _, errno := unix.Syscall(unix.SYS_IO_SETUP, uintptr(nr), uintptr(unsafe.Pointer(&r.ctx)), 0); errno != 0 {
		return syscallError("io_setup", errno)
	}
	r.live = make(map[uint64]*iocb)
	r.events = make([]ioEvent, batchSize)
	return nil
}

func (r *aioRing) close() error {
	if r.ctx == 0 {
		return nil
	}
	_, _, errno := unix.Syscall(unix.SYS_IO_DESTROY, r.ctx, 0, 0)
	*r = aioRing{}
	if errno != 0 {
		return syscallError("io_destroy", errno)
	}
	return nil
}

func (r *aioRing) pollAdd(fd int, mask uint32, id uint64) error {
	cb := &iocb{data: id, opcode: iocbCmdPoll, fildes: uint32(fd), buf: uint64(mask)}
	r.live[id] = cb
	r.queued = append(r.queued, cb)
	return nil
}

// pollCancel withdraws a request. A request that is already complete, or
// whose cancellation completes later, is not an error.
func (r *aioRing) pollCancel(id uint64) error {
	cb, ok := r.live[id]
	if !ok {
		return nil
	}
	delete(r.live, id)
	if i := slices.Index(r.queued, cb); i >= 0 {
		r.queued = slices.Delete(r.queued, i, i+1)
		return nil
	}
	var res ioEvent
	_, _, errno := unix.Syscall(unix.SYS_IO_CANCEL, r.ctx, uintptr(unsafe.Pointer(cb)), uintptr(unsafe.Pointer(&res)))
	switch errno {
	case 0, unix.EINPROGRESS, unix.EINVAL, unix.EAGAIN:
		return nil
	}
	return syscallError("io_cancel", errno)
}

func (r *aioRing) submit() error {
	q := r.queued
	for len(q) != 0 {
		n, _, errno := unix.Syscall(unix.SYS_IO_SUBMIT, r.ctx, uintptr(len(q)), uintptr(unsafe.Pointer(&q[0])))
		if errno != 0 {
			r.queued = append(r.queued[:0], q...)
			return syscallError("io_submit", errno)
		}
		q = q[n:]
	}
	clear(r.queued)
	r.queued = r.queued[:0]
	return nil
}

func (r *aioRing) wait(timeout time.Duration, out []completion) (int, error) {
	if err := r.submit(); err != nil {
		return 0, err
	}
	var ts *unix.Timespec
	if timeout >= 0 {
		v := unix.NsecToTimespec(int64(timeout))
		ts = &v
	}
	events := r.events[:min(len(r.events), len(out))]
	n, _, errno := unix.Syscall6(unix.SYS_IO_GETEVENTS, r.ctx, 1, uintptr(len(events)), uintptr(unsafe.Pointer(&events[0])), uintptr(unsafe.Pointer(ts)), 0)
	if errno != 0 {
		return 0, syscallError("io_getevents", errno)
	}
	for i := range int(n) {
		ev := &events[i]
		if cb, ok := r.live[ev.data]; ok && uint64(uintptr(unsafe.Pointer(cb))) == ev.obj {
			delete(r.live, ev.data)
		}
		out[i] = completion{id: ev.data, res: ev.res}
	}
	return int(n), nil
}
