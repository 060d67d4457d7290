package evdp

import (
	"time"
)

// driver is the contract between the queue core and the kernel multiplexer
// selected at build time. Each backend file defines queueContext, which must
// implement it.
//
// Sources move between two lists. Pending sources have a registration
// change the kernel has not yet seen; flush applies it, and the core then
// moves the source to the running list. A backend requests a move by
// calling Queue.movePending or Queue.moveRunning.
type driver interface {
	init(q *Queue, batchSize int) error
	close() error

	// wait blocks for up to timeout (forever if negative), returning the
	// number of events that decode may be called with.
	wait(timeout time.Duration) (int, error)

	// decode resolves event i of the last wait to its source, filling
	// Queue.fdEvent or Queue.overrun. It returns nil for the wakeup, for
	// scrubbed events, and for events of sources that have since detached.
	decode(i int) *Source

	// scrub invalidates any undecoded event of s in the current batch.
	scrub(s *Source)

	// attach prepares s, returning true if it must be flushed.
	attach(s *Source) (pending bool, err error)
	flush(s *Source) error
	// commit submits any registrations batched by flush.
	commit() error
	// detach de-registers s. If willClose, de-registration implied by
	// closing the descriptor may be skipped.
	detach(s *Source, willClose bool) error

	// rearm is called after s has handled an event and stays attached.
	rearm(s *Source) error

	enable(s *Source, bit interest) error
	disable(s *Source, bit interest) error
	regulate(s *Source) error

	// wakeup interrupts wait. It is the only method safe to call from other
	// goroutines.
	wakeup() error
}

// sourceDriver is the per-source half of a backend, implemented by
// sourceContext.
type sourceDriver interface {
	init(s *Source) error
	release() error
	resetFD()
}

// waitMillis converts a wait timeout to whole milliseconds, rounding up so
// that a wait never returns before a timer is due.
func waitMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	ms := (timeout + time.Millisecond - 1) / time.Millisecond
	if ms > 1<<31-1 {
		ms = 1<<31 - 1
	}
	return int(ms)
}
