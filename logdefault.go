package ffibridge

// The default subscriber is a process-wide sink that is not tied to a
// session. It takes part in the minimum level like any session subscriber,
// and is removed when its scheduler is finalized.

// InitDefault installs the default subscriber. It reports false, changing
// nothing, if a default was installed before, even one since removed;
// [LogRegistry.ReplaceDefault] swaps the sink from then on.
func (r *LogRegistry) InitDefault(level LogLevel, scheduler *Scheduler, sink LogSink) (bool, error) {
	if !level.Valid() {
		return false, ErrInvalidLogLevel
	}
	if scheduler == nil || sink == nil {
		return false, ErrInvalidSubscription
	}
	if r.bridge.closed.Load() {
		return false, ErrClosed
	}
	h := r.bridge.handles.NewPersistent(sink)

	r.mu.Lock()
	if r.defInit {
		r.mu.Unlock()
		r.bridge.handles.Release(h)
		return false, nil
	}
	if !scheduler.CanDeliverNotifications() {
		r.mu.Unlock()
		r.bridge.handles.Release(h)
		return false, ErrSchedulerFreed
	}
	r.defInit = true
	r.defLevel = level
	r.def = &logSubscriber{scheduler: scheduler, sink: h, level: level}
	r.pushLevelLocked()
	r.mu.Unlock()
	return true, nil
}

// ReplaceDefault points the default subscriber at a new sink and scheduler,
// keeping the default level.
func (r *LogRegistry) ReplaceDefault(scheduler *Scheduler, sink LogSink) error {
	if scheduler == nil || sink == nil {
		return ErrInvalidSubscription
	}
	if r.bridge.closed.Load() {
		return ErrClosed
	}
	handles := r.bridge.handles
	h := handles.NewPersistent(sink)

	r.mu.Lock()
	var err error
	switch {
	case !r.defInit:
		err = ErrNoDefaultLogger
	case !scheduler.CanDeliverNotifications():
		err = ErrSchedulerFreed
	}
	if err != nil {
		r.mu.Unlock()
		handles.Release(h)
		return err
	}
	prev := r.def
	r.def = &logSubscriber{scheduler: scheduler, sink: h, level: r.defLevel}
	r.pushLevelLocked()
	r.mu.Unlock()

	if prev != nil {
		handles.Release(prev.sink)
	}
	return nil
}

// DefaultLevel returns the level of the default subscriber, or the level
// last pushed to the engine if there is none.
func (r *LogRegistry) DefaultLevel() LogLevel {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.def != nil {
		return r.def.level
	}
	return r.level
}

// SetDefaultLevel changes the level of the default subscriber.
func (r *LogRegistry) SetDefaultLevel(level LogLevel) error {
	if !level.Valid() {
		return ErrInvalidLogLevel
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.def == nil {
		return ErrNoDefaultLogger
	}
	r.def.level = level
	r.defLevel = level
	r.pushLevelLocked()
	return nil
}

// ReleaseDefault removes the default subscriber, if any.
func (r *LogRegistry) ReleaseDefault() bool {
	r.mu.Lock()
	def := r.def
	r.def = nil
	if def != nil {
		r.pushLevelLocked()
	}
	r.mu.Unlock()
	if def == nil {
		return false
	}
	r.bridge.handles.Release(def.sink)
	return true
}
