package ffibridge

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

var errPortNil = errors.New("ffibridge: port must not be nil")

// Bridge owns the process-wide state shared by every scheduler: the
// scheduler table, the [Handles] registry and the [LogRegistry].
type Bridge struct {
	engine      Engine
	logger      *logiface.Logger[logiface.Event]
	onFinalize  func(contextID uint64)
	dropLimiter *catrate.Limiter
	handles     *Handles
	loggers     *LogRegistry

	schedulers arena[*Scheduler]
	stats      stats

	roundTripTimeout time.Duration

	mu     sync.RWMutex
	closed atomic.Bool
}

// New returns a bridge driving engine. A nil engine is replaced by one that
// ignores every call, which is enough for schedulers and handles.
func New(engine Engine, opts ...Option) (*Bridge, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	if engine == nil {
		engine = nopEngine{}
	}
	b := &Bridge{
		engine:           engine,
		logger:           cfg.logger,
		onFinalize:       cfg.onFinalize,
		dropLimiter:      catrate.NewLimiter(cfg.dropRates),
		roundTripTimeout: cfg.roundTripTimeout,
	}
	b.handles = newHandles(b)
	b.loggers = newLogRegistry(b)
	return b, nil
}

// Handles returns the handle registry.
func (b *Bridge) Handles() *Handles { return b.handles }

// Loggers returns the log fan-out registry.
func (b *Bridge) Loggers() *LogRegistry { return b.loggers }

// Engine returns the engine the bridge drives.
func (b *Bridge) Engine() Engine { return b.engine }

// Dispatch is run on a consumer context for every token its port receives.
// A token for a scheduler that no longer exists returns [ErrSchedulerGone];
// this is an expected teardown race, not a failure of the context.
func (b *Bridge) Dispatch(token uint64) error {
	final := IsFinalizeToken(token)
	key := token &^ finalizeBit

	b.mu.RLock()
	s, ok := b.schedulers.get(key)
	b.mu.RUnlock()
	if !ok {
		b.stats.staleTokens.Add(1)
		b.logger.Debug().
			Uint64("token", token).
			Log("dropping token for unknown scheduler")
		return ErrSchedulerGone
	}

	if !final {
		s.dispatchOne()
		return nil
	}

	n := s.drain()
	b.removeScheduler(s)
	b.logger.Debug().
		Uint64("context_id", s.contextID).
		Int("drained", n).
		Log("scheduler finalized")
	if b.onFinalize != nil {
		b.onFinalize(s.contextID)
	}
	return nil
}

// Schedulers returns the number of schedulers not yet finalized.
func (b *Bridge) Schedulers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.schedulers.len()
}

// Close frees every scheduler, silences the engine logger and releases every
// handle. Work still queued runs if the owning context drains it.
func (b *Bridge) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	b.mu.RLock()
	live := make([]*Scheduler, 0, b.schedulers.len())
	b.schedulers.each(func(_ uint64, s *Scheduler) bool {
		live = append(live, s)
		return true
	})
	b.mu.RUnlock()
	for _, s := range live {
		s.Free()
	}
	b.loggers.reset()
	n := b.handles.releaseAll()
	b.logger.Debug().
		Int("schedulers", len(live)).
		Int("handles", n).
		Log("bridge closed")
	return nil
}

func (b *Bridge) removeScheduler(s *Scheduler) {
	b.mu.Lock()
	_, ok := b.schedulers.remove(s.token)
	b.mu.Unlock()
	if !ok {
		return
	}
	b.stats.schedulersFinalized.Add(1)
	if n := b.loggers.releaseScheduler(s); n != 0 {
		b.logger.Debug().
			Uint64("context_id", s.contextID).
			Int("subscribers", n).
			Log("log subscribers released with their scheduler")
	}
}

// onContext reports whether the calling goroutine is running work for any
// scheduler of contextID.
func (b *Bridge) onContext(contextID uint64) bool {
	id := goroutineID()
	b.mu.RLock()
	defer b.mu.RUnlock()
	var found bool
	b.schedulers.each(func(_ uint64, s *Scheduler) bool {
		if s.contextID == contextID && s.dispatching.Load() == id {
			found = true
		}
		return !found
	})
	return found
}

// safeExecute runs fn with panic recovery, so consumer code can never take
// down the context that dispatches it.
func (b *Bridge) safeExecute(s *Scheduler, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.stats.panics.Add(1)
			b.logger.Err().
				Uint64("context_id", s.contextID).
				Str("panic", fmt.Sprint(r)).
				Log("scheduled work panicked")
		}
	}()
	fn()
}
