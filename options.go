package ffibridge

import (
	"time"

	"github.com/joeycumines/logiface"
)

const (
	// DefaultRoundTripTimeout bounds every blocking round trip unless
	// overridden with [WithRoundTripTimeout].
	DefaultRoundTripTimeout = time.Minute

	// DefaultMaxReentrancy is the default inline nesting limit of
	// [Scheduler.Invoke].
	DefaultMaxReentrancy = 8
)

// bridgeOptions holds configuration for a [Bridge] instance.
type bridgeOptions struct {
	logger           *logiface.Logger[logiface.Event]
	onFinalize       func(contextID uint64)
	dropRates        map[time.Duration]int
	roundTripTimeout time.Duration
}

// Option configures a [Bridge]. Options are applied by [New].
type Option interface {
	applyOption(*bridgeOptions) error
}

// bridgeOptionImpl implements [Option] via a closure.
type bridgeOptionImpl struct {
	fn func(*bridgeOptions) error
}

func (o *bridgeOptionImpl) applyOption(opts *bridgeOptions) error {
	return o.fn(opts)
}

// WithLogger configures diagnostic logging. A nil logger disables it.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &bridgeOptionImpl{fn: func(opts *bridgeOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithRoundTripTimeout sets the default bound on blocking round trips.
// A negative value disables the bound, leaving only context cancellation.
// Zero is rejected.
func WithRoundTripTimeout(d time.Duration) Option {
	return &bridgeOptionImpl{fn: func(opts *bridgeOptions) error {
		if d == 0 {
			return ErrZeroRoundTripTimeout
		}
		opts.roundTripTimeout = d
		return nil
	}}
}

// WithDropWarningRate limits how often a dropped notification is logged, per
// scheduler, using the same category rate format as go-catrate.
func WithDropWarningRate(rates map[time.Duration]int) Option {
	return &bridgeOptionImpl{fn: func(opts *bridgeOptions) error {
		for window, n := range rates {
			if window <= 0 || n <= 0 {
				return ErrDropWarningRate
			}
		}
		opts.dropRates = rates
		return nil
	}}
}

// WithOnFinalize registers a hook run on the consumer context after a freed
// scheduler has drained, receiving its context id.
func WithOnFinalize(fn func(contextID uint64)) Option {
	return &bridgeOptionImpl{fn: func(opts *bridgeOptions) error {
		opts.onFinalize = fn
		return nil
	}}
}

// resolveOptions applies the given options to a default [bridgeOptions].
func resolveOptions(opts []Option) (*bridgeOptions, error) {
	cfg := &bridgeOptions{
		roundTripTimeout: DefaultRoundTripTimeout,
		dropRates:        map[time.Duration]int{time.Second: 1, time.Minute: 10},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyOption(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Affinity describes how a consumer context maps onto goroutines.
type Affinity int

const (
	// AffinityRotating is a context drained by whichever goroutine happens to
	// run it, such as a pooled worker. [Scheduler.IsOnThread] always reports
	// true, and inline execution is governed by the dispatch state instead.
	AffinityRotating Affinity = iota

	// AffinityPinned is a context owned by one goroutine for its lifetime.
	AffinityPinned
)

// schedulerOptions holds configuration for a [Scheduler].
type schedulerOptions struct {
	affinity      Affinity
	maxReentrancy int
}

// SchedulerOption configures a [Scheduler]. Options are applied by
// [Bridge.NewScheduler].
type SchedulerOption interface {
	applySchedulerOption(*schedulerOptions) error
}

type schedulerOptionImpl struct {
	fn func(*schedulerOptions) error
}

func (o *schedulerOptionImpl) applySchedulerOption(opts *schedulerOptions) error {
	return o.fn(opts)
}

// WithAffinity configures the thread affinity model of the scheduler.
func WithAffinity(a Affinity) SchedulerOption {
	return &schedulerOptionImpl{fn: func(opts *schedulerOptions) error {
		if a != AffinityRotating && a != AffinityPinned {
			return ErrUnknownAffinity
		}
		opts.affinity = a
		return nil
	}}
}

// WithMaxReentrancy bounds how deeply [Scheduler.Invoke] may nest inline.
// Zero disables inline execution entirely.
func WithMaxReentrancy(n int) SchedulerOption {
	return &schedulerOptionImpl{fn: func(opts *schedulerOptions) error {
		if n < 0 {
			return ErrNegativeReentrancy
		}
		opts.maxReentrancy = n
		return nil
	}}
}

func resolveSchedulerOptions(opts []SchedulerOption) (*schedulerOptions, error) {
	cfg := &schedulerOptions{
		affinity:      AffinityRotating,
		maxReentrancy: DefaultMaxReentrancy,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applySchedulerOption(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
