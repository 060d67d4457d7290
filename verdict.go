package evdp

import (
	"strconv"
)

// Verdict is returned by handlers to tell the queue what to do next.
type Verdict int

const (
	// Continue leaves the source as it is.
	Continue Verdict = iota
	// Remove detaches the source from its queue.
	Remove
	// Close detaches the source, skipping any de-registration that closing
	// the descriptor makes redundant. The caller closes the descriptor.
	Close
	// BreakExpected stops Queue.Run cleanly. The source is not removed.
	BreakExpected
	// BreakError stops Queue.Run with ErrBreakError. The source is not
	// removed.
	BreakError
	// EndForeach ends a foreach pass. Only valid from a ForeachHandler.
	EndForeach
)

// String implements fmt.Stringer.
func (v Verdict) String() string {
	switch v {
	case Continue:
		return "continue"
	case Remove:
		return "remove"
	case Close:
		return "close"
	case BreakExpected:
		return "break_expected"
	case BreakError:
		return "break_error"
	case EndForeach:
		return "end_foreach"
	default:
		return "verdict(" + strconv.Itoa(int(v)) + ")"
	}
}

func (v Verdict) removes() bool { return v == Remove || v == Close }

func (v Verdict) breaks() bool { return v == BreakExpected || v == BreakError }
