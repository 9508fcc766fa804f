package ffibridge

import (
	"sync"
	"sync/atomic"
)

// NotifyFunc is the engine's wake-up callback, run on the scheduler's context.
type NotifyFunc func(userdata any)

// FreeFunc releases engine userdata. It is called exactly once per userdata.
type FreeFunc func(userdata any)

// Scheduler is the bridge-side representation of one consumer execution
// context. Work handed to it runs on that context, in the order it was handed
// over.
//
// Every method is safe to call from any goroutine.
type Scheduler struct {
	bridge *Bridge
	port   Port

	notifyCb     NotifyFunc
	userdata     any
	freeUserdata FreeFunc
	runNotify    func()

	queue workQueue
	mu    sync.Mutex

	// dispatchMu serializes execution of queued work, so the context stays
	// single threaded even if the port delivers tokens to a worker pool.
	dispatchMu sync.Mutex

	contextID uint64
	token     uint64

	// owner is the goroutine the context last ran on (pinned affinity only).
	owner atomic.Uint64
	// dispatching is the goroutine currently running work for this scheduler.
	dispatching atomic.Uint64
	// depth counts inline nesting; only touched by the dispatching goroutine.
	depth int

	maxReentrancy int
	affinity      Affinity
	freed         bool
}

var _ SchedulerOps = (*Scheduler)(nil)

// NewScheduler registers a consumer execution context reachable through port.
// Schedulers sharing a contextID are the same context as far as
// [Scheduler.IsSameAs] is concerned.
func (b *Bridge) NewScheduler(contextID uint64, port Port, opts ...SchedulerOption) (*Scheduler, error) {
	if port == nil {
		return nil, errPortNil
	}
	cfg, err := resolveSchedulerOptions(opts)
	if err != nil {
		return nil, err
	}
	s := &Scheduler{
		bridge:        b,
		port:          port,
		contextID:     contextID,
		maxReentrancy: cfg.maxReentrancy,
		affinity:      cfg.affinity,
	}
	s.runNotify = s.notifyNow
	s.owner.Store(goroutineID())

	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	s.token = b.schedulers.insert(s)
	b.mu.Unlock()

	b.logger.Debug().
		Uint64("context_id", contextID).
		Uint64("token", s.token).
		Log("scheduler created")
	return s, nil
}

// ContextID returns the id of the execution context.
func (s *Scheduler) ContextID() uint64 { return s.contextID }

// Token returns the token this scheduler posts to its port.
func (s *Scheduler) Token() uint64 { return s.token }

// Notify wakes the context, which then runs the registered notify callback.
// It never blocks on the context and never runs consumer code itself.
// It returns false if the scheduler was freed or the context is gone.
func (s *Scheduler) Notify() bool {
	s.mu.Lock()
	if s.freed {
		s.mu.Unlock()
		return false
	}
	s.queue.push(s.runNotify)
	s.mu.Unlock()
	return s.post(s.token)
}

// Invoke runs work on the context. When called by the context itself, while
// it is running work for this scheduler, with nothing queued ahead, and under
// the reentrancy limit, work runs inline before Invoke returns. Otherwise it
// is queued behind everything posted before it.
//
// It returns false if work will never run, because the scheduler was freed
// or the context is gone.
func (s *Scheduler) Invoke(work func()) bool {
	if work == nil {
		return false
	}
	if s.runningHere() {
		s.mu.Lock()
		inline := !s.freed && s.queue.len() == 0 && s.depth < s.maxReentrancy
		s.mu.Unlock()
		if inline {
			s.depth++
			s.bridge.stats.inlineRuns.Add(1)
			s.bridge.safeExecute(s, work)
			s.depth--
			return true
		}
	}
	s.mu.Lock()
	if s.freed {
		s.mu.Unlock()
		return false
	}
	s.queue.push(work)
	s.mu.Unlock()
	return s.post(s.token)
}

// SetNotifyCallback registers what a [Scheduler.Notify] does on the context.
// A previous registration is replaced and its userdata freed.
func (s *Scheduler) SetNotifyCallback(cb NotifyFunc, userdata any, free FreeFunc) {
	s.mu.Lock()
	if s.freed {
		s.mu.Unlock()
		if free != nil {
			free(userdata)
		}
		return
	}
	prevData, prevFree := s.userdata, s.freeUserdata
	s.notifyCb, s.userdata, s.freeUserdata = cb, userdata, free
	s.mu.Unlock()
	if prevFree != nil {
		prevFree(prevData)
	}
}

// IsSameAs reports whether other drives the same execution context.
func (s *Scheduler) IsSameAs(other SchedulerOps) bool {
	o, ok := other.(interface{ ContextID() uint64 })
	return ok && o.ContextID() == s.contextID
}

// IsOnThread reports whether the caller may treat itself as the context.
//
// With [AffinityRotating] the context has no fixed goroutine, so this always
// reports true; inline execution is instead decided by [Scheduler.Invoke]
// from the dispatch state. With [AffinityPinned] it reports whether the
// caller is the goroutine the context runs on.
func (s *Scheduler) IsOnThread() bool {
	if s.affinity == AffinityRotating {
		return true
	}
	id := goroutineID()
	return id == s.owner.Load() || id == s.dispatching.Load()
}

// CanDeliverNotifications reports whether the scheduler accepts work.
func (s *Scheduler) CanDeliverNotifications() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.freed
}

// Pending returns the number of queued, not yet executed, items.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.len()
}

// Free retires the scheduler. The terminal token is posted before anything
// is released, and the context runs every item still queued when it
// receives it. Free is idempotent.
func (s *Scheduler) Free() {
	s.mu.Lock()
	if s.freed {
		s.mu.Unlock()
		return
	}
	s.freed = true
	data, free := s.userdata, s.freeUserdata
	s.notifyCb, s.userdata, s.freeUserdata = nil, nil, nil
	s.mu.Unlock()

	if !s.post(FinalizeToken(s.token)) {
		// the context is gone, so nothing will ever drain the queue
		s.mu.Lock()
		dropped := s.queue.reset()
		s.mu.Unlock()
		s.bridge.logger.Warning().
			Uint64("context_id", s.contextID).
			Int("dropped", dropped).
			Log("scheduler freed after its context was torn down")
		s.bridge.removeScheduler(s)
	}
	if free != nil {
		free(data)
	}
}

func (s *Scheduler) post(token uint64) bool {
	s.bridge.stats.posts.Add(1)
	if s.port.Post(token) {
		return true
	}
	s.bridge.stats.postFailures.Add(1)
	if _, ok := s.bridge.dropLimiter.Allow(s.token); ok {
		s.bridge.logger.Warning().
			Uint64("context_id", s.contextID).
			Bool("finalize", IsFinalizeToken(token)).
			Log("post to consumer context failed")
	}
	return false
}

func (s *Scheduler) runningHere() bool {
	id := s.dispatching.Load()
	return id != 0 && id == goroutineID()
}

func (s *Scheduler) notifyNow() {
	s.mu.Lock()
	cb, data := s.notifyCb, s.userdata
	s.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

// dispatchOne runs the oldest queued item. Tokens are interchangeable: each
// post is matched by exactly one push, so popping one item per token keeps
// the queue and the port in step.
func (s *Scheduler) dispatchOne() {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	s.mu.Lock()
	fn, ok := s.queue.pop()
	s.mu.Unlock()
	if ok {
		s.execute(fn)
	}
}

// drain runs everything left in the queue, for the terminal token.
func (s *Scheduler) drain() int {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	var n int
	for {
		s.mu.Lock()
		fn, ok := s.queue.pop()
		s.mu.Unlock()
		if !ok {
			return n
		}
		s.execute(fn)
		n++
	}
}

// execute must be called with dispatchMu held.
func (s *Scheduler) execute(fn func()) {
	id := goroutineID()
	if s.affinity == AffinityPinned {
		s.owner.Store(id)
	}
	s.dispatching.Store(id)
	defer s.dispatching.Store(0)
	s.depth = 0
	s.bridge.stats.dispatched.Add(1)
	s.bridge.safeExecute(s, fn)
}
