// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package evdp

import (
	"errors"
	"time"

	"github.com/joeycumines/go-evdp/timer"
	"github.com/joeycumines/logiface"
)

// DefaultBatchSize is the number of events fetched per wait, used when
// NewQueue is given a batch size of zero or less.
const DefaultBatchSize = 10

// queueOptions holds configuration options for Queue creation.
type queueOptions struct {
	logger        *logiface.Logger[logiface.Event]
	clock         func() time.Time
	eventHandler  EventHandler
	batchHandler  BatchHandler
	userData      any
	timer         *timer.Timer
	errorLogRates map[time.Duration]int
}

// --- Queue Options ---

// QueueOption configures a Queue instance.
type QueueOption interface {
	applyQueue(*queueOptions) error
}

// queueOptionImpl implements QueueOption.
type queueOptionImpl struct {
	applyQueueFunc func(*queueOptions) error
}

func (q *queueOptionImpl) applyQueue(opts *queueOptions) error {
	return q.applyQueueFunc(opts)
}

// WithLogger sets the logger used for internal errors. A nil logger selects
// the default, which writes warnings and above to stderr.
func WithLogger(logger *logiface.Logger[logiface.Event]) QueueOption {
	return &queueOptionImpl{func(opts *queueOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithClock overrides the wall clock, which is used for absolute deadlines
// (Queue.AbsTimeout) and the attached timer.
func WithClock(clock func() time.Time) QueueOption {
	return &queueOptionImpl{func(opts *queueOptions) error {
		if clock == nil {
			return errors.New("evdp: nil clock")
		}
		opts.clock = clock
		return nil
	}}
}

// WithEventHandler sets the handler invoked when thread events are raised.
// See Queue.SetEventHandler.
func WithEventHandler(h EventHandler) QueueOption {
	return &queueOptionImpl{func(opts *queueOptions) error {
		opts.eventHandler = h
		return nil
	}}
}

// WithBatchHandler sets the handler invoked after each round that
// dispatched at least one event. See Queue.SetBatchHandler.
func WithBatchHandler(h BatchHandler) QueueOption {
	return &queueOptionImpl{func(opts *queueOptions) error {
		opts.batchHandler = h
		return nil
	}}
}

// WithUserData sets the queue's user data.
func WithUserData(v any) QueueOption {
	return &queueOptionImpl{func(opts *queueOptions) error {
		opts.userData = v
		return nil
	}}
}

// WithTimer attaches a timer, see Queue.SetTimer.
func WithTimer(t *timer.Timer) QueueOption {
	return &queueOptionImpl{func(opts *queueOptions) error {
		opts.timer = t
		return nil
	}}
}

// WithErrorLogRates configures how often repeated backend errors of the same
// category may be logged, as a map of window to maximum count. A nil or
// empty map disables throttling.
func WithErrorLogRates(rates map[time.Duration]int) QueueOption {
	return &queueOptionImpl{func(opts *queueOptions) error {
		for window, count := range rates {
			if window <= 0 || count <= 0 {
				return errors.New("evdp: invalid error log rate")
			}
		}
		opts.errorLogRates = rates
		return nil
	}}
}

// resolveQueueOptions applies QueueOption instances to queueOptions.
func resolveQueueOptions(opts []QueueOption) (*queueOptions, error) {
	cfg := &queueOptions{
		clock:         time.Now,
		errorLogRates: defaultErrorLogRates,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyQueue(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.logger == nil {
		cfg.logger = defaultLogger()
	}
	return cfg, nil
}
