//go:build linux && evdp_io_uring

package evdp

import (
	"errors"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Backend names the kernel multiplexer compiled into this build.
const Backend = "io_uring"

type pollBackend = ioURing

const (
	ioringOffSQRing       = 0
	ioringOffCQRing       = 0x8000000
	ioringOffSQEs         = 0x10000000
	ioringFeatSingleMmap  = 1 << 0
	ioringEnterGetEvents  = 1 << 0
	ioringOpPollAdd       = 6
	ioringOpPollRemove    = 7
	ioringOpTimeout       = 11
	ioringOpTimeoutRemove = 12
)

// ioURingTimeout identifies wait timeout requests. At most one is left
// armed: each new one is preceded by the removal of the last.
const ioURingTimeout = pollInternal - 1

type ioSQRingOffsets struct {
	head, tail, ringMask, ringEntries, flags, dropped, array, resv1 uint32
	userAddr                                                       uint64
}

type ioCQRingOffsets struct {
	head, tail, ringMask, ringEntries, overflow, cqes, flags, resv1 uint32
	userAddr                                                        uint64
}

type ioURingParams struct {
	sqEntries, cqEntries, flags, sqThreadCPU, sqThreadIdle, features, wqFD uint32
	resv                                                                   [3]uint32
	sqOff                                                                  ioSQRingOffsets
	cqOff                                                                  ioCQRingOffsets
}

type ioURingSQE struct {
	opcode      uint8
	flags       uint8
	ioprio      uint16
	fd          int32
	off         uint64
	addr        uint64
	len         uint32
	opFlags     uint32
	userData    uint64
	bufIndex    uint16
	personality uint16
	spliceFDIn  int32
	pad         [2]uint64
}

type ioURingCQE struct {
	userData uint64
	res      int32
	flags    uint32
}

type kernelTimespec struct {
	sec  int64
	nsec int64
}

// ioURing is a minimal io_uring instance, used only for poll requests and
// the wait timeout. It is not safe for concurrent use.
type ioURing struct {
	sqRing  []byte
	cqRing  []byte
	sqeMem  []byte
	sqHead  *uint32
	sqTail  *uint32
	sqArray []uint32
	sqes    []ioURingSQE
	cqHead  *uint32
	cqTail  *uint32
	cqes    []ioURingCQE
	// ts is read by the kernel when a timeout request is submitted
	ts kernelTimespec
	// timeouts counts timeout requests whose completion is not yet reaped
	timeouts int
	fd       int
	tail     uint32
	sqMask   uint32
	cqMask   uint32
	entries  uint32
}

func ringU32(b []byte, off uint32) *uint32 { return (*uint32)(unsafe.Pointer(&b[off])) }

func (r *ioURing) open(batchSize int) error {
	r.fd = -1
	var p ioURingParams
	entries := uint32(max(batchSize*2, 32))
	fd, _, errno := unix.Syscall(unix.SYS_IO_URING_SETUP, uintptr(entries), uintptr(unsafe.Pointer(&p)), 0)
	if errno != 0 {
		return syscallError("io_uring_setup", errno)
	}
	r.fd = int(fd)

	sqSize := int(p.sqOff.array + p.sqEntries*4)
	cqSize := int(p.cqOff.cqes + p.cqEntries*uint32(unsafe.Sizeof(ioURingCQE{})))
	single := p.features&ioringFeatSingleMmap != 0
	if single {
		sqSize = max(sqSize, cqSize)
	}
	var err error
	const prot, flags = unix.PROT_READ | unix.PROT_WRITE, unix.MAP_SHARED | unix.MAP_POPULATE
	if r.sqRing, err = unix.Mmap(r.fd, ioringOffSQRing, sqSize, prot, flags); err != nil {
		_ = r.close()
		return syscallError("mmap", err)
	}
	if single {
		r.cqRing = r.sqRing
	} else if r.cqRing, err = unix.Mmap(r.fd, ioringOffCQRing, cqSize, prot, flags); err != nil {
		_ = r.close()
		return syscallError("mmap", err)
	}
	sqeSize := int(p.sqEntries) * int(unsafe.Sizeof(ioURingSQE{}))
	if r.sqeMem, err = unix.Mmap(r.fd, ioringOffSQEs, sqeSize, prot, flags); err != nil {
		_ = r.close()
		return syscallError("mmap", err)
	}

	r.sqHead = ringU32(r.sqRing, p.sqOff.head)
	r.sqTail = ringU32(r.sqRing, p.sqOff.tail)
	r.sqMask = *ringU32(r.sqRing, p.sqOff.ringMask)
	r.sqArray = unsafe.Slice(ringU32(r.sqRing, p.sqOff.array), p.sqEntries)
	r.sqes = unsafe.Slice((*ioURingSQE)(unsafe.Pointer(&r.sqeMem[0])), p.sqEntries)
	r.cqHead = ringU32(r.cqRing, p.cqOff.head)
	r.cqTail = ringU32(r.cqRing, p.cqOff.tail)
	r.cqMask = *ringU32(r.cqRing, p.cqOff.ringMask)
	r.cqes = unsafe.Slice((*ioURingCQE)(unsafe.Pointer(&r.cqRing[p.cqOff.cqes])), p.cqEntries)
	r.entries = p.sqEntries
	r.tail = atomic.LoadUint32(r.sqTail)
	return nil
}

func (r *ioURing) close() error {
	var err error
	keep := func(e error) {
		if err == nil && e != nil {
			err = e
		}
	}
	if r.sqeMem != nil {
		keep(syscallError("munmap", unix.Munmap(r.sqeMem)))
	}
	if r.cqRing != nil && len(r.sqRing) != 0 && &r.cqRing[0] != &r.sqRing[0] {
		keep(syscallError("munmap", unix.Munmap(r.cqRing)))
	}
	if r.sqRing != nil {
		keep(syscallError("munmap", unix.Munmap(r.sqRing)))
	}
	keep(syscallError("close", closeFD(r.fd)))
	*r = ioURing{fd: -1}
	return err
}

// queued returns the number of written but unsubmitted entries.
func (r *ioURing) queued() uint32 { return r.tail - atomic.LoadUint32(r.sqHead) }

func (r *ioURing) enter(toSubmit, minComplete uint32, flags uintptr) error {
	_, _, errno := unix.Syscall6(unix.SYS_IO_URING_ENTER, uintptr(r.fd), uintptr(toSubmit), uintptr(minComplete), flags, 0, 0)
	if errno != 0 {
		return syscallError("io_uring_enter", errno)
	}
	return nil
}

// sqe returns a zeroed submission entry, submitting queued entries first if
// the ring is full.
func (r *ioURing) sqe() (*ioURingSQE, error) {
	if r.queued() == r.entries {
		if err := r.submit(); err != nil {
			return nil, err
		}
	}
	i := r.tail & r.sqMask
	e := &r.sqes[i]
	*e = ioURingSQE{}
	r.sqArray[i] = i
	r.tail++
	atomic.StoreUint32(r.sqTail, r.tail)
	return e, nil
}

func (r *ioURing) submit() error {
	if n := r.queued(); n != 0 {
		return r.enter(n, 0, 0)
	}
	return nil
}

func (r *ioURing) pollAdd(fd int, mask uint32, id uint64) error {
	e, err := r.sqe()
	if err != nil {
		return err
	}
	e.opcode = ioringOpPollAdd
	e.fd = int32(fd)
	e.opFlags = mask
	e.userData = id
	return nil
}

func (r *ioURing) pollCancel(id uint64) error {
	e, err := r.sqe()
	if err != nil {
		return err
	}
	e.opcode = ioringOpPollRemove
	e.fd = -1
	e.addr = id
	e.userData = pollInternal
	return nil
}

// prepTimeout queues a timeout request, first removing any earlier one
// that is still armed, as left behind by an interrupted wait.
func (r *ioURing) prepTimeout(timeout time.Duration) error {
	if r.timeouts != 0 {
		e, err := r.sqe()
		if err != nil {
			return err
		}
		e.opcode = ioringOpTimeoutRemove
		e.fd = -1
		e.addr = ioURingTimeout
		e.userData = pollInternal
	}
	e, err := r.sqe()
	if err != nil {
		return err
	}
	r.ts = kernelTimespec{sec: int64(timeout / time.Second), nsec: int64(timeout % time.Second)}
	e.opcode = ioringOpTimeout
	e.fd = -1
	e.addr = uint64(uintptr(unsafe.Pointer(&r.ts)))
	e.len = 1
	e.off = 1
	e.userData = ioURingTimeout
	r.timeouts++
	return nil
}

// wait submits queued entries, and waits for at least one completion. A
// timeout request completes after one other completion, or when it
// expires.
func (r *ioURing) wait(timeout time.Duration, out []completion) (int, error) {
	var (
		minComplete uint32
		flags       uintptr
	)
	if atomic.LoadUint32(r.cqTail) == *r.cqHead {
		minComplete, flags = 1, ioringEnterGetEvents
		if timeout >= 0 {
			if err := r.prepTimeout(timeout); err != nil {
				return 0, err
			}
		}
	}
	if err := r.enter(r.queued(), minComplete, flags); err != nil && !errors.Is(err, unix.EBUSY) {
		return 0, err
	}

	head, tail := *r.cqHead, atomic.LoadUint32(r.cqTail)
	var n int
	for ; head != tail && n < len(out); head, n = head+1, n+1 {
		c := &r.cqes[head&r.cqMask]
		id := c.userData
		if id == ioURingTimeout {
			r.timeouts--
			id = pollInternal
		}
		out[n] = completion{id: id, res: int64(c.res)}
	}
	atomic.StoreUint32(r.cqHead, head)
	return n, nil
}
