// Package evdp is a single-goroutine event reactor. A [Queue] owns one
// kernel multiplexer, and dispatches readiness and timer expirations to the
// [Source] values attached to it, each of which carries its own handler.
//
// # Sources
//
// Five kinds of source are supported:
//   - [KindITimerSec] and [KindITimerMsec]: interval timers, created with
//     [NewITimerSec] and [NewITimerMsec], reporting the number of elapsed
//     periods (the overrun) with each wakeup
//   - [KindAbsTimer]: a wall-clock timer, created with [NewAbsTimer], that
//     fires at a time of day and then every N hours
//   - [KindROFD]: persistent read interest on a descriptor, created with
//     [NewROFD]
//   - [KindOSFD]: one-shot read and write interest on a descriptor, created
//     with [NewOSFD], and armed with [Source.NextRead] and [Source.NextWrite]
//
// Handlers return a [Verdict], which may keep the source, detach it, or stop
// [Queue.Run]. Registration with the kernel is deferred until the next wait,
// so interest changes made while handling a batch cost at most one call per
// source.
//
// # Backends
//
// The multiplexer is selected at build time, and named by [Backend]:
//   - Linux: epoll (the default), io_uring (tag evdp_io_uring), or Linux AIO
//     polling (tag evdp_aio_poll)
//   - macOS and the BSDs: kqueue
//   - illumos and Solaris: event ports
//
// # Thread Safety
//
// A queue and its sources are owned by the goroutine that runs it. The only
// exception is [Queue.RaiseThreadEvents], which may be called from any
// goroutine to wake the queue and deliver [ThreadEvent] flags, for instance
// by [NotifySignals].
//
// # Usage
//
//	q, err := evdp.NewQueue(0)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer q.Destroy()
//
//	tick, _ := evdp.NewITimerSec(0, 1, func(s *evdp.Source, ident uint, overrun int64) evdp.Verdict {
//	    fmt.Println("tick", overrun)
//	    return evdp.Continue
//	})
//	if err := q.Attach(tick); err != nil {
//	    log.Fatal(err)
//	}
//	if err := q.Run(); err != nil {
//	    log.Fatal(err)
//	}
package evdp
