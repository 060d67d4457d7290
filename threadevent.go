package evdp

import (
	"os"
	"os/signal"
	"strings"
	"sync"
)

// ThreadEvent is a set of urgent events raised from outside the run loop,
// typically from a signal handler goroutine.
type ThreadEvent uint32

const (
	// ThreadEventQuit asks the run loop to stop.
	ThreadEventQuit ThreadEvent = 1 << iota
	// ThreadEventChild reports a child process state change.
	ThreadEventChild
	// ThreadEventUser1 is reserved for application use.
	ThreadEventUser1
	// ThreadEventUser2 is reserved for application use.
	ThreadEventUser2
)

// String implements fmt.Stringer.
func (e ThreadEvent) String() string {
	if e == 0 {
		return "none"
	}
	var parts []string
	for _, v := range [...]struct {
		bit  ThreadEvent
		name string
	}{
		{ThreadEventQuit, "quit"},
		{ThreadEventChild, "child"},
		{ThreadEventUser1, "user1"},
		{ThreadEventUser2, "user2"},
	} {
		if e&v.bit != 0 {
			parts = append(parts, v.name)
			e &^= v.bit
		}
	}
	if e != 0 {
		parts = append(parts, "other")
	}
	return strings.Join(parts, "|")
}

// RaiseThreadEvents adds events to the set handled at the start of the next
// run loop iteration, waking the queue if it is waiting. It is safe to call
// from any goroutine, but not concurrently with Destroy.
func (q *Queue) RaiseThreadEvents(events ThreadEvent) {
	if events == 0 {
		return
	}
	for {
		old := q.threadEvents.Load()
		if q.threadEvents.CompareAndSwap(old, old|uint32(events)) {
			break
		}
	}
	if q.wakePending.CompareAndSwap(false, true) {
		if err := q.ctx.wakeup(); err != nil {
			q.wakePending.Store(false)
			q.log.syscall("wake", nil, err)
		}
	}
}

// ThreadEvents returns the raised events not yet handled by Run.
func (q *Queue) ThreadEvents() ThreadEvent { return ThreadEvent(q.threadEvents.Load()) }

// wakeReceived is called by the backend when the wakeup channel fires. The
// flag is cleared only after draining, so a raise that lands in between
// still signals; its events are picked up before the next wait.
func (q *Queue) wakeReceived(w wakeFDs) {
	w.drain()
	q.wakePending.Store(false)
}

// NotifySignals raises the mapped thread events on q whenever one of the
// given signals is received. The returned function stops the notification,
// and waits for the relay goroutine to exit.
func NotifySignals(q *Queue, events map[os.Signal]ThreadEvent) (stop func()) {
	if len(events) == 0 {
		return func() {}
	}
	ch := make(chan os.Signal, len(events))
	sigs := make([]os.Signal, 0, len(events))
	for sig := range events {
		sigs = append(sigs, sig)
	}
	signal.Notify(ch, sigs...)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			case sig := <-ch:
				q.RaiseThreadEvents(events[sig])
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(done)
			wg.Wait()
		})
	}
}
