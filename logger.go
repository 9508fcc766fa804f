package ffibridge

import (
	"errors"
	"sync"
)

// ErrNotSubscribed is returned for a session with no log subscription.
var ErrNotSubscribed = errors.New("ffibridge: session has no log subscription")

// LogRegistry fans engine log lines out to per-session subscribers, and keeps
// the engine's single log level at the minimum any subscriber wants.
//
// Registry changes and the resulting engine level update happen under one
// mutex, so concurrent changes can never leave the engine at a stale level.
// The mutex is never held while work is handed to a scheduler.
type LogRegistry struct {
	bridge *Bridge
	subs   map[uint64]*logSubscriber
	mu     sync.Mutex
	seq    uint64
	level  LogLevel
	// def is the default subscriber, outside the per-session map.
	def      *logSubscriber
	defLevel LogLevel
	// defInit is set by the first InitDefault and never cleared.
	defInit bool
	// installed is set once the engine log callback points at this registry.
	installed bool
}

type logSubscriber struct {
	scheduler *Scheduler
	sink      Handle
	seq       uint64
	level     LogLevel
}

// LogSubscription is a live registration, removed by Close.
type LogSubscription struct {
	registry  *LogRegistry
	sessionID uint64
	seq       uint64
}

func newLogRegistry(b *Bridge) *LogRegistry {
	return &LogRegistry{
		bridge: b,
		subs:     make(map[uint64]*logSubscriber),
		level:    LogLevelOff,
		defLevel: LogLevelInfo,
	}
}

// Register subscribes sessionID to engine log lines at level and above,
// delivered to sink on scheduler. Registering a session again replaces its
// previous subscription. The subscription ends with the session: once its
// scheduler is finalized it is removed as if closed.
func (r *LogRegistry) Register(sessionID uint64, level LogLevel, scheduler *Scheduler, sink LogSink) (*LogSubscription, error) {
	if !level.Valid() {
		return nil, ErrInvalidLogLevel
	}
	if scheduler == nil || sink == nil {
		return nil, ErrInvalidSubscription
	}
	if r.bridge.closed.Load() {
		return nil, ErrClosed
	}
	handles := r.bridge.handles
	sub := &logSubscriber{
		scheduler: scheduler,
		sink:      handles.NewPersistent(sink),
		level:     level,
	}

	r.mu.Lock()
	// checked under mu, so a concurrent finalize either sees this
	// subscriber or this check sees the scheduler freed
	if !scheduler.CanDeliverNotifications() {
		r.mu.Unlock()
		handles.Release(sub.sink)
		return nil, ErrSchedulerFreed
	}
	r.seq++
	sub.seq = r.seq
	prev := r.subs[sessionID]
	r.subs[sessionID] = sub
	r.pushLevelLocked()
	r.mu.Unlock()

	if prev != nil {
		handles.Release(prev.sink)
	}
	r.bridge.logger.Debug().
		Uint64("session_id", sessionID).
		Str("level", level.String()).
		Log("log subscriber registered")
	return &LogSubscription{registry: r, sessionID: sessionID, seq: sub.seq}, nil
}

// Unregister removes the subscription of sessionID, if any.
func (r *LogRegistry) Unregister(sessionID uint64) bool {
	return r.unregister(sessionID, 0)
}

func (r *LogRegistry) unregister(sessionID, seq uint64) bool {
	r.mu.Lock()
	sub, ok := r.subs[sessionID]
	if !ok || (seq != 0 && sub.seq != seq) {
		r.mu.Unlock()
		return false
	}
	delete(r.subs, sessionID)
	r.pushLevelLocked()
	r.mu.Unlock()

	r.bridge.handles.Release(sub.sink)
	return true
}

// SetLevel changes the level of an existing subscription.
func (r *LogRegistry) SetLevel(sessionID uint64, level LogLevel) error {
	return r.setLevel(sessionID, 0, level)
}

func (r *LogRegistry) setLevel(sessionID, seq uint64, level LogLevel) error {
	if !level.Valid() {
		return ErrInvalidLogLevel
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[sessionID]
	if !ok || (seq != 0 && sub.seq != seq) {
		return ErrNotSubscribed
	}
	sub.level = level
	r.pushLevelLocked()
	return nil
}

// EffectiveLevel returns the level last pushed to the engine.
func (r *LogRegistry) EffectiveLevel() LogLevel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.level
}

// Len returns the number of session subscribers, not counting the default.
func (r *LogRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// pushLevelLocked recomputes the minimum level and pushes it to the engine.
// The first push also installs the engine log callback.
func (r *LogRegistry) pushLevelLocked() {
	level := LogLevelOff
	if r.def != nil {
		level = r.def.level
	}
	for _, sub := range r.subs {
		level = min(level, sub.level)
	}
	r.level = level
	if !r.installed {
		r.installed = true
		r.bridge.engine.SetLogCallback(r.OnLog, level)
		return
	}
	r.bridge.engine.SetLogLevel(level)
}

// OnLog is the engine log callback. It may be called from any goroutine.
// category and message are copied for every subscriber that wants the line.
func (r *LogRegistry) OnLog(level LogLevel, category, message []byte) {
	type target struct {
		scheduler *Scheduler
		sink      Handle
	}
	var buf [8]target
	targets := buf[:0]
	r.mu.Lock()
	if r.def != nil && r.def.level.Enabled(level) {
		targets = append(targets, target{scheduler: r.def.scheduler, sink: r.def.sink})
	}
	for _, sub := range r.subs {
		if sub.level.Enabled(level) {
			targets = append(targets, target{scheduler: sub.scheduler, sink: sub.sink})
		}
	}
	r.mu.Unlock()

	b := r.bridge
	for _, t := range targets {
		cat, msg := string(category), string(message)
		b.countPayload(len(cat) + len(msg))
		sink := t.sink
		if t.scheduler.Invoke(func() {
			s, err := DerefAs[LogSink](b.handles, sink)
			if err != nil {
				b.stats.staleCallbacks.Add(1)
				return
			}
			s.Log(level, cat, msg)
		}) {
			b.stats.logDispatches.Add(1)
		}
	}
}

// Log sends a consumer originated line to the engine's logger, if the engine
// accepts one. It reports whether the line was handed over.
func (r *LogRegistry) Log(level LogLevel, category, message string) bool {
	l, ok := r.bridge.engine.(EngineLogger)
	if !ok {
		return false
	}
	l.Log(level, category, message)
	return true
}

// reset drops every subscriber and silences the engine.
func (r *LogRegistry) reset() {
	r.mu.Lock()
	subs := r.subs
	r.subs = make(map[uint64]*logSubscriber)
	def := r.def
	r.def = nil
	if r.installed {
		r.pushLevelLocked()
	}
	r.mu.Unlock()
	for _, sub := range subs {
		r.bridge.handles.Release(sub.sink)
	}
	if def != nil {
		r.bridge.handles.Release(def.sink)
	}
}

// releaseScheduler removes every subscriber delivering to s, including the
// default, and returns how many were removed. Run once s is finalized.
func (r *LogRegistry) releaseScheduler(s *Scheduler) int {
	var sinks []Handle
	r.mu.Lock()
	for id, sub := range r.subs {
		if sub.scheduler == s {
			delete(r.subs, id)
			sinks = append(sinks, sub.sink)
		}
	}
	if r.def != nil && r.def.scheduler == s {
		sinks = append(sinks, r.def.sink)
		r.def = nil
	}
	if len(sinks) != 0 {
		r.pushLevelLocked()
	}
	r.mu.Unlock()
	for _, h := range sinks {
		r.bridge.handles.Release(h)
	}
	return len(sinks)
}

// SessionID returns the session the subscription belongs to.
func (s *LogSubscription) SessionID() uint64 { return s.sessionID }

// SetLevel changes the level of the subscription.
func (s *LogSubscription) SetLevel(level LogLevel) error {
	return s.registry.setLevel(s.sessionID, s.seq, level)
}

// Close removes the subscription, unless it has since been replaced by a
// newer registration for the same session. It is safe to call more than once.
func (s *LogSubscription) Close() error {
	s.registry.unregister(s.sessionID, s.seq)
	return nil
}
