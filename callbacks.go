package ffibridge

import (
	"context"
	"errors"
	"sync/atomic"
)

var errCallbackFn = errors.New("ffibridge: callback function must not be nil")

// Callback is the userdata the engine holds for an asynchronous operation:
// a consumer function kept alive by a persistent handle, plus the scheduler
// it must run on. Engine code completes it through the On* entry points and
// releases it with [Callback.Free].
type Callback[F any] struct {
	scheduler *Scheduler
	fn        Handle
	freed     atomic.Bool
}

// NewCallback wraps fn for delivery on s.
func NewCallback[F any](s *Scheduler, fn F) (*Callback[F], error) {
	if !s.CanDeliverNotifications() {
		return nil, ErrSchedulerFreed
	}
	return &Callback[F]{
		scheduler: s,
		fn:        s.bridge.handles.NewPersistent(fn),
	}, nil
}

// Scheduler returns the scheduler the callback is delivered on.
func (c *Callback[F]) Scheduler() *Scheduler { return c.scheduler }

// Free releases the callback on its own context, after anything already
// delivered to it. If the context is gone it is released immediately.
func (c *Callback[F]) Free() {
	if !c.freed.CompareAndSwap(false, true) {
		return
	}
	handles := c.scheduler.bridge.handles
	if !c.scheduler.Invoke(func() { handles.Release(c.fn) }) {
		handles.Release(c.fn)
	}
}

// deliver runs call with the consumer function on the scheduler's context.
// orphan runs instead, on the context, if the function is gone by then, and
// also runs on the calling goroutine if the work could not be scheduled.
func (c *Callback[F]) deliver(call func(fn F), orphan func()) bool {
	b := c.scheduler.bridge
	ok := c.scheduler.Invoke(func() {
		fn, err := DerefAs[F](b.handles, c.fn)
		if err != nil {
			b.stats.staleCallbacks.Add(1)
			b.logger.Debug().
				Err(err).
				Log("skipping callback whose function was released")
			if orphan != nil {
				orphan()
			}
			return
		}
		call(fn)
	})
	if !ok && orphan != nil {
		orphan()
	}
	return ok
}

// WeakCallback is the userdata of a notification subscription: a receiver
// held weakly, so a subscription never keeps its receiver alive. Deliveries
// after the receiver has been collected are skipped.
type WeakCallback[T, A any] struct {
	scheduler *Scheduler
	fn        func(receiver *T, arg A)
	target    Handle
	freed     atomic.Bool
}

// NewWeakCallback subscribes fn, bound to receiver, for delivery on s.
func NewWeakCallback[T, A any](s *Scheduler, receiver *T, fn func(receiver *T, arg A)) (*WeakCallback[T, A], error) {
	if fn == nil {
		return nil, errCallbackFn
	}
	if !s.CanDeliverNotifications() {
		return nil, ErrSchedulerFreed
	}
	return &WeakCallback[T, A]{
		scheduler: s,
		fn:        fn,
		target:    NewWeak(s.bridge.handles, receiver),
	}, nil
}

// Free releases the weak handle to the receiver.
func (c *WeakCallback[T, A]) Free() {
	if c.freed.CompareAndSwap(false, true) {
		c.scheduler.bridge.handles.Release(c.target)
	}
}

// deliver hands arg, which must already be owned, to the receiver.
func (c *WeakCallback[T, A]) deliver(arg A) bool {
	b := c.scheduler.bridge
	return c.scheduler.Invoke(func() {
		receiver, err := DerefAs[*T](b.handles, c.target)
		if err != nil {
			b.stats.staleCallbacks.Add(1)
			return
		}
		c.fn(receiver, arg)
	})
}

// Consumer function types for each engine callback.
type (
	SyncErrorFunc         func(err SyncError)
	WaitForCompletionFunc func(err *Status)
	ProgressFunc          func(p Progress)
	ConnectionStateFunc   func(old, current ConnectionState)
	SubscriptionStateFunc func(state SubscriptionState)
	AsyncOpenFunc         func(result any, err *Status)
	UserCompletionFunc    func(user Retainer, err *AppError)
	VoidCompletionFunc    func(err *AppError)
	APIKeyFunc            func(key *APIKey, err *AppError)
	APIKeyListFunc        func(keys []APIKey, err *AppError)
	StringResultFunc      func(result string, err *AppError)
	BeforeClientResetFunc func(local any, unlock *Unlock)
	AfterClientResetFunc  func(before, after any, didRecover bool, unlock *Unlock)
)

// HTTPRequestEvent is an owned copy of an engine HTTP request, with the
// context the response must be delivered to.
type HTTPRequestEvent struct {
	Context RequestContext
	Request HTTPRequest
}

// OnHTTPRequest forwards an engine HTTP request to the transport receiver.
func OnHTTPRequest[T any](cb *WeakCallback[T, HTTPRequestEvent], req HTTPRequest, reqCtx RequestContext) bool {
	cb.scheduler.bridge.countPayload(req.size())
	return cb.deliver(HTTPRequestEvent{Request: req.Clone(), Context: reqCtx})
}

// OnCollectionChange forwards a change notification to its receiver.
func OnCollectionChange[T any](cb *WeakCallback[T, CollectionChanges], changes CollectionChanges) bool {
	cb.scheduler.bridge.countPayload(changes.size())
	return cb.deliver(changes.Clone())
}

// OnSyncError forwards a sync session error.
func OnSyncError(cb *Callback[SyncErrorFunc], err SyncError) bool {
	cb.scheduler.bridge.countPayload(err.size())
	owned := err.Clone()
	return cb.deliver(func(fn SyncErrorFunc) { fn(owned) }, nil)
}

// OnWaitForCompletion completes a wait for upload or download. A nil status
// is success.
func OnWaitForCompletion(cb *Callback[WaitForCompletionFunc], status *Status) bool {
	var owned *Status
	if status != nil {
		cb.scheduler.bridge.countPayload(status.size())
		v := status.Clone()
		owned = &v
	}
	return cb.deliver(func(fn WaitForCompletionFunc) { fn(owned) }, nil)
}

// OnProgress forwards a progress notification.
func OnProgress(cb *Callback[ProgressFunc], p Progress) bool {
	return cb.deliver(func(fn ProgressFunc) { fn(p) }, nil)
}

// OnConnectionStateChange forwards a connection state transition.
func OnConnectionStateChange(cb *Callback[ConnectionStateFunc], old, current ConnectionState) bool {
	return cb.deliver(func(fn ConnectionStateFunc) { fn(old, current) }, nil)
}

// OnSubscriptionStateChange forwards a subscription set state change.
func OnSubscriptionStateChange(cb *Callback[SubscriptionStateFunc], state SubscriptionState) bool {
	return cb.deliver(func(fn SubscriptionStateFunc) { fn(state) }, nil)
}

// OnAsyncOpen completes an asynchronous open. result is an engine object
// that is safe to move across threads, and is passed through unchanged.
func OnAsyncOpen(cb *Callback[AsyncOpenFunc], result any, status *Status) bool {
	var owned *Status
	if status != nil {
		cb.scheduler.bridge.countPayload(status.size())
		v := status.Clone()
		owned = &v
	}
	return cb.deliver(func(fn AsyncOpenFunc) { fn(result, owned) }, nil)
}

// OnUserCompletion completes an operation producing a user. The user is
// retained for the hop; the consumer function takes over that reference,
// and it is released again if the function can't be reached.
func OnUserCompletion(cb *Callback[UserCompletionFunc], user Retainer, appErr *AppError) bool {
	cb.scheduler.bridge.countPayload(appErr.size())
	owned := appErr.Clone()
	if user != nil {
		user.Retain()
	}
	release := func() {
		if user != nil {
			user.Release()
		}
	}
	return cb.deliver(func(fn UserCompletionFunc) { fn(user, owned) }, release)
}

// OnVoidCompletion completes an operation with no result.
func OnVoidCompletion(cb *Callback[VoidCompletionFunc], appErr *AppError) bool {
	cb.scheduler.bridge.countPayload(appErr.size())
	owned := appErr.Clone()
	return cb.deliver(func(fn VoidCompletionFunc) { fn(owned) }, nil)
}

// OnAPIKey completes an operation producing one API key.
func OnAPIKey(cb *Callback[APIKeyFunc], key *APIKey, appErr *AppError) bool {
	var owned *APIKey
	if key != nil {
		cb.scheduler.bridge.countPayload(key.size())
		v := key.Clone()
		owned = &v
	}
	cb.scheduler.bridge.countPayload(appErr.size())
	ownedErr := appErr.Clone()
	return cb.deliver(func(fn APIKeyFunc) { fn(owned, ownedErr) }, nil)
}

// OnAPIKeyList completes an operation producing a list of API keys.
func OnAPIKeyList(cb *Callback[APIKeyListFunc], keys []APIKey, appErr *AppError) bool {
	cb.scheduler.bridge.countPayload(apiKeysSize(keys) + appErr.size())
	owned := CloneAPIKeys(keys)
	ownedErr := appErr.Clone()
	return cb.deliver(func(fn APIKeyListFunc) { fn(owned, ownedErr) }, nil)
}

// OnStringResult completes an operation producing a serialized result.
func OnStringResult(cb *Callback[StringResultFunc], result []byte, appErr *AppError) bool {
	cb.scheduler.bridge.countPayload(len(result) + appErr.size())
	owned := string(result)
	ownedErr := appErr.Clone()
	return cb.deliver(func(fn StringResultFunc) { fn(owned, ownedErr) }, nil)
}

// OnBeforeClientReset runs the consumer's before-reset handler and blocks
// until it completes its [Unlock]. A failure is handed to the engine as a
// user code error and reported as false.
func OnBeforeClientReset(ctx context.Context, cb *Callback[BeforeClientResetFunc], local any) bool {
	return cb.roundTrip(ctx, func(fn BeforeClientResetFunc, u *Unlock) { fn(local, u) })
}

// OnAfterClientReset runs the consumer's after-reset handler, as for
// [OnBeforeClientReset].
func OnAfterClientReset(ctx context.Context, cb *Callback[AfterClientResetFunc], before, after any, didRecover bool) bool {
	return cb.roundTrip(ctx, func(fn AfterClientResetFunc, u *Unlock) { fn(before, after, didRecover, u) })
}

func (c *Callback[F]) roundTrip(ctx context.Context, call func(fn F, u *Unlock)) bool {
	b := c.scheduler.bridge
	err := c.scheduler.AwaitResult(ctx, func(u *Unlock) {
		fn, err := DerefAs[F](b.handles, c.fn)
		if err != nil {
			b.stats.staleCallbacks.Add(1)
			u.Complete(err)
			return
		}
		call(fn, u)
	})
	if err != nil {
		b.logger.Info().
			Uint64("context_id", c.scheduler.contextID).
			Err(err).
			Log("client reset handler failed")
		b.engine.RegisterUserCodeError(err)
		return false
	}
	return true
}
