package ffibridge

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// ErrWouldBlock is returned by a round trip started on the very context it
// targets, whose handler did not complete inline. Waiting would stall the
// context that has to produce the result.
var ErrWouldBlock = errors.New("ffibridge: round trip would block its own context")

// Unlock is the one-shot continuation of a blocking round trip. The handler
// that receives it completes it exactly once, from any goroutine.
type Unlock struct {
	bridge *Bridge
	err    error
	done   chan struct{}
	state  atomic.Bool
}

func newUnlock(b *Bridge) *Unlock {
	return &Unlock{bridge: b, done: make(chan struct{})}
}

// Complete delivers the result, nil meaning success, and wakes the waiting
// goroutine. Only the first call has any effect; it reports whether this call
// was that one. A call that loses to a timeout or cancellation is ignored.
func (u *Unlock) Complete(err error) bool {
	if u.complete(err) {
		return true
	}
	u.bridge.stats.lateUnlocks.Add(1)
	u.bridge.logger.Debug().
		Err(err).
		Log("ignoring completion of finished round trip")
	return false
}

func (u *Unlock) complete(err error) bool {
	if !u.state.CompareAndSwap(false, true) {
		return false
	}
	u.err = err
	close(u.done)
	return true
}

// Done is closed once the round trip has a result.
func (u *Unlock) Done() <-chan struct{} { return u.done }

// Completed reports whether Complete has taken effect.
func (u *Unlock) Completed() bool { return u.state.Load() }

// AwaitResult runs handler on the scheduler's context and blocks the calling
// goroutine until the handler completes its [Unlock], ctx is done, or the
// bridge's round trip timeout expires. The result is the error passed to
// [Unlock.Complete], or the reason the wait ended early.
//
// A handler that panics or calls runtime.Goexit completes the round trip
// with a [PanicError] or [ErrGoexit].
func (s *Scheduler) AwaitResult(ctx context.Context, handler func(u *Unlock)) error {
	return s.AwaitResultTimeout(ctx, s.bridge.roundTripTimeout, handler)
}

// AwaitResultTimeout is [Scheduler.AwaitResult] with an explicit timeout. A
// negative timeout waits on ctx alone.
func (s *Scheduler) AwaitResultTimeout(ctx context.Context, timeout time.Duration, handler func(u *Unlock)) error {
	b := s.bridge
	b.stats.roundTrips.Add(1)
	u := newUnlock(b)

	if !s.Invoke(func() { runGuarded(u, handler) }) {
		b.stats.roundTripFailures.Add(1)
		return ErrNotDelivered
	}
	if !u.Completed() && (s.runningHere() || b.onContext(s.contextID)) {
		// the caller is the context, directly or through a scheduler sharing
		// its id, so the handler can only run once the caller returns
		u.complete(ErrWouldBlock)
	}

	var expired <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-u.done:
	case <-ctx.Done():
		u.complete(ctx.Err())
	case <-expired:
		if u.complete(&TimeoutError{
			Cause:   ErrRoundTripTimeout,
			Message: fmt.Sprintf("ffibridge: round trip on context %d timed out after %s", s.contextID, timeout),
		}) {
			b.stats.roundTripTimeouts.Add(1)
			b.logger.Warning().
				Uint64("context_id", s.contextID).
				Dur("timeout", timeout).
				Log("round trip handler did not complete in time")
		}
	}
	<-u.done

	if u.err != nil {
		b.stats.roundTripFailures.Add(1)
	}
	return u.err
}

// InvokeAndWait runs fn on the scheduler's context and returns its result.
func (s *Scheduler) InvokeAndWait(ctx context.Context, fn func() error) error {
	return s.AwaitResult(ctx, func(u *Unlock) {
		u.Complete(fn())
	})
}

// runGuarded calls handler, completing u if handler panics or exits the
// goroutine. A handler returning normally may still complete u later.
func runGuarded(u *Unlock, handler func(*Unlock)) {
	var returned bool
	defer func() {
		if returned {
			return
		}
		if r := recover(); r != nil {
			u.Complete(PanicError{Value: r})
			return
		}
		u.Complete(ErrGoexit)
	}()
	handler(u)
	returned = true
}
