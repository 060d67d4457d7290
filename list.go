package evdp

// sourceList is a circular intrusive list of sources, headed by a sentinel.
type sourceList struct {
	head Source
}

func (l *sourceList) init() {
	l.head.sentinel = true
	l.head.prev = &l.head
	l.head.next = &l.head
}

func (l *sourceList) empty() bool { return l.head.next == &l.head }

// first returns the first non-sentinel source, or nil.
func (l *sourceList) first() *Source {
	for s := l.head.next; s != &l.head; s = s.next {
		if !s.sentinel {
			return s
		}
	}
	return nil
}

func (l *sourceList) isHead(s *Source) bool { return s == &l.head }

func (l *sourceList) pushBack(s *Source) { insertAfter(l.head.prev, s) }

func (l *sourceList) pushFront(s *Source) { insertAfter(&l.head, s) }

func insertAfter(at, s *Source) {
	s.prev = at
	s.next = at.next
	at.next.prev = s
	at.next = s
}

func unlink(s *Source) {
	if s.prev == nil {
		return
	}
	s.prev.next = s.next
	s.next.prev = s.prev
	s.prev, s.next = nil, nil
}

// token identifies an attached source in backend event data. The zero token
// is reserved for the queue's own wakeup.
type token struct {
	slot uint32 // index+1 into registry.slots
	gen  uint32
}

func (t token) valid() bool { return t.slot != 0 }

func (t token) uint64() uint64 { return uint64(t.gen)<<32 | uint64(t.slot) }

func tokenFromUint64(v uint64) token { return token{slot: uint32(v), gen: uint32(v >> 32)} }

// registry maps tokens to attached sources. Freed slots bump their
// generation, so stale events never resolve to a newer source.
type registry struct {
	slots []*Source
	gens  []uint32
	free  []uint32
}

func (r *registry) add(s *Source) token {
	var i uint32
	if n := len(r.free); n != 0 {
		i = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		i = uint32(len(r.slots))
		r.slots = append(r.slots, nil)
		r.gens = append(r.gens, 1)
	}
	r.slots[i] = s
	return token{slot: i + 1, gen: r.gens[i]}
}

func (r *registry) lookup(t token) *Source {
	if !t.valid() || int(t.slot) > len(r.slots) {
		return nil
	}
	i := t.slot - 1
	if r.gens[i] != t.gen {
		return nil
	}
	return r.slots[i]
}

func (r *registry) remove(t token) {
	if r.lookup(t) == nil {
		return
	}
	i := t.slot - 1
	r.slots[i] = nil
	r.gens[i]++
	if r.gens[i] == 0 {
		r.gens[i] = 1
	}
	r.free = append(r.free, i)
}

// bySlot returns the source attached under slot, whatever its generation.
// It serves backends whose event data can only carry the slot.
func (r *registry) bySlot(slot uint32) *Source {
	if slot == 0 || int(slot) > len(r.slots) {
		return nil
	}
	return r.slots[slot-1]
}
