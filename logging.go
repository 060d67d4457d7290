package evdp

import (
	"os"
	"time"

	"github.com/bassosimone/errclass"
	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// defaultErrorLogRates bounds how often the same backend failure is logged,
// per queue.
var defaultErrorLogRates = map[time.Duration]int{
	time.Second: 5,
	time.Minute: 60,
}

// defaultLogger writes JSON lines at warning level and above to stderr.
func defaultLogger() *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(os.Stderr)),
		stumpy.L.WithLevel(stumpy.L.LevelWarning()),
	).Logger()
}

// queueLog is the per-queue logging facade. Every entry carries the queue
// id.
type queueLog struct {
	logger  *logiface.Logger[logiface.Event]
	limiter *catrate.Limiter
}

func newQueueLog(logger *logiface.Logger[logiface.Event], id string, rates map[time.Duration]int) queueLog {
	l := queueLog{logger: logger.Clone().Str("queue", id).Logger()}
	if len(rates) != 0 {
		l.limiter = catrate.NewLimiter(rates)
	}
	return l
}

func withSource(b *logiface.Builder[logiface.Event], s *Source) *logiface.Builder[logiface.Event] {
	if s == nil {
		return b
	}
	b = b.Stringer("kind", s.kind)
	if fd := s.FD(); fd >= 0 {
		b = b.Int("fd", fd)
	}
	return b
}

// syscall logs a failed kernel call. Repeats of the same op are throttled.
func (l *queueLog) syscall(op string, s *Source, err error) {
	if l.limiter != nil {
		if _, ok := l.limiter.Allow(op); !ok {
			return
		}
	}
	withSource(l.logger.Err(), s).
		Str("op", op).
		Str("errclass", errclass.New(err)).
		Err(err).
		Log("evdp: backend call failed")
}

// misuse logs a rejected call.
func (l *queueLog) misuse(op string, s *Source, err error) {
	withSource(l.logger.Err(), s).
		Str("op", op).
		Err(err).
		Log("evdp: call rejected")
}

// teardown logs an error that is ignored to let destruction complete.
func (l *queueLog) teardown(op string, s *Source, err error) {
	withSource(l.logger.Warning(), s).
		Str("op", op).
		Str("errclass", errclass.New(err)).
		Err(err).
		Log("evdp: ignored error during teardown")
}

func (l *queueLog) onRemoveFailed(s *Source, err error) {
	withSource(l.logger.Err(), s).
		Err(err).
		Log("evdp: on-remove callback failed")
}

func (l *queueLog) invalidVerdict(where string, v Verdict) {
	l.logger.Warning().
		Str("handler", where).
		Stringer("verdict", v).
		Log("evdp: unexpected verdict")
}
