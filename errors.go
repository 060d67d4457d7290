package evdp

import (
	"errors"
	"fmt"
	"os"
)

// Standard errors.
var (
	ErrAlreadyAttached = errors.New("evdp: source already attached")
	ErrQueueDestroying = errors.New("evdp: queue is being destroyed")
	ErrQueueDestroyed  = errors.New("evdp: queue destroyed")
	ErrQueueRunning    = errors.New("evdp: queue already running")
	ErrEmptySource     = errors.New("evdp: empty source")
	ErrNotOwner        = errors.New("evdp: source not attached to this queue")
	ErrDetachInHandler = errors.New("evdp: detach from within the source's own handler")
	ErrSourceAttached  = errors.New("evdp: source is attached")
	ErrSourceDeleted   = errors.New("evdp: source deleted")
	ErrInvalidKind     = errors.New("evdp: operation not supported for source kind")
	ErrInvalidSecOfDay = errors.New("evdp: seconds of day out of range [0, 86400)")
	ErrInvalidInterval = errors.New("evdp: timer interval must be positive")
	ErrInvalidFD       = errors.New("evdp: invalid file descriptor")
	ErrFDInUse         = errors.New("evdp: descriptor already attached to this queue")
	ErrNilHandler      = errors.New("evdp: nil handler")
	ErrForeachActive   = errors.New("evdp: foreach already in progress")
	ErrForeachInactive = errors.New("evdp: no foreach in progress")

	// ErrBreakError is returned by Queue.Run when a handler stops the loop
	// with BreakError.
	ErrBreakError = errors.New("evdp: run stopped by handler")
)

// syscallError wraps err as an *os.SyscallError, preserving nil.
func syscallError(name string, err error) error {
	if err == nil {
		return nil
	}
	return os.NewSyscallError(name, err)
}

// backendError annotates err, as returned by the backend while performing
// op on behalf of a source of the given kind.
func backendError(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("evdp: %s %s: %w", op, kind, err)
}
