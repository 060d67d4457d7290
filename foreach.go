package evdp

// ForeachHandler is called for each visited source during a foreach pass.
// It may return Continue, Remove, Close, or EndForeach.
type ForeachHandler func(s *Source, utype int) Verdict

// ForeachStart begins a resumable pass over the running sources, returning
// their count. Sources attached after the pass starts are not visited.
// ForeachSetEnd must be called to release the pass.
func (q *Queue) ForeachStart(h ForeachHandler) (int, error) {
	var err error
	switch {
	case h == nil:
		err = ErrNilHandler
	case q.foreachActive:
		err = ErrForeachActive
	case q.destroyed || q.destroying:
		err = ErrQueueDestroyed
	}
	if err != nil {
		q.log.misuse("foreach_start", nil, err)
		return 0, err
	}
	q.foreachGen++
	q.foreachHandler = h
	q.foreachActive = true
	q.foreachEnded = false
	q.running.pushFront(&q.cursor)
	return q.stats.Running, nil
}

// ForeachNext visits up to batch sources (all remaining if batch <= 0),
// skipping sources with a zero utype, and returns the number of handler
// calls made.
func (q *Queue) ForeachNext(batch int) (int, error) {
	if !q.foreachActive {
		return 0, ErrForeachInactive
	}
	var handled int
	for !q.foreachEnded && (batch <= 0 || handled < batch) {
		s := q.cursor.next
		if q.running.isHead(s) {
			q.foreachEnded = true
			break
		}
		// step the cursor over s before the handler can remove it
		unlink(&q.cursor)
		insertAfter(s, &q.cursor)

		if s.sentinel || s.foreachGen == q.foreachGen {
			continue
		}
		s.foreachGen = q.foreachGen
		if s.utype == 0 {
			continue
		}

		handled++
		switch v := q.foreachHandler(s, s.utype); v {
		case Continue:
		case Remove, Close:
			if s.q == q {
				if err := q.detach(s, v == Close); err != nil {
					return handled, err
				}
			}
		case EndForeach, BreakExpected:
			q.foreachEnded = true
		case BreakError:
			q.foreachEnded = true
			return handled, ErrBreakError
		default:
			q.log.invalidVerdict("foreach", v)
		}
	}
	return handled, nil
}

// ForeachHasEnded reports whether the current pass has visited every
// source, or was ended by its handler. It is true if no pass is active.
func (q *Queue) ForeachHasEnded() bool { return !q.foreachActive || q.foreachEnded }

// ForeachSetEnd releases the current pass.
func (q *Queue) ForeachSetEnd() {
	if !q.foreachActive {
		return
	}
	unlink(&q.cursor)
	q.foreachActive = false
	q.foreachEnded = false
	q.foreachHandler = nil
}
