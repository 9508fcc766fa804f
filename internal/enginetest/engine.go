// Package enginetest provides an in-memory engine and consumer context for
// exercising the bridge without a native engine.
package enginetest

import (
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-ffibridge"
)

// Sentinel is written over every buffer the engine lends out, once the
// callback it was lent to has returned.
const Sentinel = 0xA5

// Line is a log line received through [Engine.Log].
type Line struct {
	Category string
	Message  string
	Level    ffibridge.LogLevel
}

// Engine records everything the bridge asks of it.
type Engine struct {
	cb         ffibridge.LogCallback
	levels     []ffibridge.LogLevel
	userErrors []error
	lines      []Line
	mu         sync.Mutex
	level      ffibridge.LogLevel
}

var (
	_ ffibridge.Engine       = (*Engine)(nil)
	_ ffibridge.EngineLogger = (*Engine)(nil)
)

// New returns an engine with logging off and no callback installed.
func New() *Engine {
	return &Engine{level: ffibridge.LogLevelOff}
}

func (e *Engine) SetLogCallback(cb ffibridge.LogCallback, level ffibridge.LogLevel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cb = cb
	e.level = level
	e.levels = append(e.levels, level)
}

func (e *Engine) SetLogLevel(level ffibridge.LogLevel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.level = level
	e.levels = append(e.levels, level)
}

func (e *Engine) RegisterUserCodeError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.userErrors = append(e.userErrors, err)
}

func (e *Engine) Log(level ffibridge.LogLevel, category, message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lines = append(e.lines, Line{Level: level, Category: category, Message: message})
}

// Level returns the level last set by the bridge.
func (e *Engine) Level() ffibridge.LogLevel {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.level
}

// Levels returns every level the bridge has set, oldest first.
func (e *Engine) Levels() []ffibridge.LogLevel {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ffibridge.LogLevel(nil), e.levels...)
}

// UserErrors returns the errors registered by the bridge.
func (e *Engine) UserErrors() []error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]error(nil), e.userErrors...)
}

// Lines returns the consumer originated lines received.
func (e *Engine) Lines() []Line {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Line(nil), e.lines...)
}

// Emit logs a line the way the engine would: if the current level lets it
// through, the callback gets borrowed buffers, which are overwritten with
// [Sentinel] as soon as it returns. It reports whether the line was emitted.
func (e *Engine) Emit(level ffibridge.LogLevel, category, message string) bool {
	e.mu.Lock()
	cb, current := e.cb, e.level
	e.mu.Unlock()
	if cb == nil || !current.Enabled(level) {
		return false
	}
	cat, msg := []byte(category), []byte(message)
	cb(level, cat, msg)
	Scribble(cat)
	Scribble(msg)
	return true
}

// Scribble overwrites b with [Sentinel].
func Scribble(b []byte) {
	for i := range b {
		b[i] = Sentinel
	}
}

// User is a reference counted engine object.
type User struct {
	refs atomic.Int64
}

var _ ffibridge.Retainer = (*User)(nil)

func (u *User) Retain()  { u.refs.Add(1) }
func (u *User) Release() { u.refs.Add(-1) }

// Refs returns the number of outstanding references.
func (u *User) Refs() int64 { return u.refs.Load() }

// Request is a pending HTTP request, completed by the consumer.
type Request struct {
	done chan ffibridge.HTTPResponse
	once sync.Once
}

var _ ffibridge.RequestContext = (*Request)(nil)

// NewRequest returns a pending request.
func NewRequest() *Request {
	return &Request{done: make(chan ffibridge.HTTPResponse, 1)}
}

// Complete implements [ffibridge.RequestContext]. Only the first call counts.
func (r *Request) Complete(resp ffibridge.HTTPResponse) {
	r.once.Do(func() { r.done <- resp })
}

// Response is delivered the response once the request completes.
func (r *Request) Response() <-chan ffibridge.HTTPResponse { return r.done }
