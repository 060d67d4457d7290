package evdp

// interest is the set of readiness conditions an os_fd source waits for.
type interest uint8

const (
	interestRead interest = 1 << iota
	interestWrite
)

func (i interest) String() string {
	switch i {
	case 0:
		return "none"
	case interestRead:
		return "read"
	case interestWrite:
		return "write"
	default:
		return "read|write"
	}
}

type osFDConfig struct {
	read     FDHandler
	write    FDHandler
	hup      FDHandler
	fd       int
	interest interest
}

func (c *osFDConfig) sourceKind() Kind { return KindOSFD }

// NewOSFD returns a source over fd with no read or write interest. Interest
// is enabled with NextRead and NextWrite, and is consumed by each delivery:
// a handler that wants another callback must enable it again.
func NewOSFD(fd int, hup FDHandler) (*Source, error) {
	if fd < 0 {
		return nil, ErrInvalidFD
	}
	if hup == nil {
		return nil, ErrNilHandler
	}
	return newSource(KindOSFD, &osFDConfig{hup: hup, fd: fd})
}

// NextRead enables read interest, calling h once fd is readable. A nil h
// disables read interest. Safe to call while attached, including from the
// source's own handlers.
func (s *Source) NextRead(h FDHandler) error { return s.setInterest(interestRead, h) }

// NextWrite enables write interest, calling h once fd is writable. A nil h
// disables write interest.
func (s *Source) NextWrite(h FDHandler) error { return s.setInterest(interestWrite, h) }

func (s *Source) setInterest(bit interest, h FDHandler) error {
	if err := s.checkUsable(); err != nil {
		return err
	}
	c, ok := s.cfg.(*osFDConfig)
	if !ok {
		return ErrInvalidKind
	}
	if bit == interestRead {
		c.read = h
	} else {
		c.write = h
	}
	q := s.q
	if q == nil {
		if h != nil {
			c.interest |= bit
		} else {
			c.interest &^= bit
		}
		return nil
	}
	var err error
	if h != nil {
		err = q.ctx.enable(s, bit)
	} else {
		err = q.ctx.disable(s, bit)
	}
	if err != nil {
		q.log.syscall("interest", s, err)
		return backendError("update "+bit.String()+" interest", s.kind, err)
	}
	return nil
}

// ResetFD points a detached os_fd source at a new descriptor, clearing its
// read and write interest.
func (s *Source) ResetFD(fd int) error {
	if err := s.checkUsable(); err != nil {
		return err
	}
	c, ok := s.cfg.(*osFDConfig)
	if !ok {
		return ErrInvalidKind
	}
	if s.q != nil {
		return ErrSourceAttached
	}
	if fd < 0 {
		return ErrInvalidFD
	}
	c.fd = fd
	c.read, c.write = nil, nil
	c.interest = 0
	s.ctx.resetFD()
	return nil
}

// dispatchOSFD delivers ev in read, hup, write order. Interest is consumed
// before each handler runs.
func (q *Queue) dispatchOSFD(s *Source, ev *FDEvent) Verdict {
	c := s.cfg.(*osFDConfig)
	if ev.readable && c.interest&interestRead != 0 {
		c.interest &^= interestRead
		if v := c.read(s, c.fd, ev); v != Continue {
			return v
		}
	}
	if ev.hup {
		return normalizeHup(c.hup(s, c.fd, ev))
	}
	if ev.writable && c.interest&interestWrite != 0 {
		c.interest &^= interestWrite
		if v := c.write(s, c.fd, ev); v != Continue {
			return v
		}
	}
	return Continue
}

// osFDInterest returns the current interest of an os_fd source.
func osFDInterest(s *Source) interest { return s.cfg.(*osFDConfig).interest }

func osFDSetInterest(s *Source, i interest) { s.cfg.(*osFDConfig).interest = i }
