package ffibridge

// LogCallback is the engine's single log callback slot. Category and message
// are borrowed: they are only valid until the call returns.
type LogCallback func(level LogLevel, category, message []byte)

// Engine is the part of the native engine the bridge drives.
type Engine interface {
	// SetLogCallback installs the engine's log callback along with the
	// minimum level the engine should emit at. It must not call cb before
	// returning.
	SetLogCallback(cb LogCallback, level LogLevel)

	// SetLogLevel changes the minimum level the engine emits at.
	SetLogLevel(level LogLevel)

	// RegisterUserCodeError hands an error produced by consumer code to the
	// engine, which reports it as the cause of the failed operation.
	RegisterUserCodeError(err error)
}

// EngineLogger is implemented by engines that accept log lines originating
// on the consumer side.
type EngineLogger interface {
	Log(level LogLevel, category, message string)
}

// SchedulerOps is the scheduler capability table the engine calls through.
type SchedulerOps interface {
	Notify() bool
	IsOnThread() bool
	IsSameAs(other SchedulerOps) bool
	CanDeliverNotifications() bool
	SetNotifyCallback(cb NotifyFunc, userdata any, free FreeFunc)
}

// LogSink is a consumer side log subscriber. It is only ever called on the
// subscriber's own context.
type LogSink interface {
	Log(level LogLevel, category, message string)
}

// LogSinkFunc adapts a function to [LogSink].
type LogSinkFunc func(level LogLevel, category, message string)

// Log calls f.
func (f LogSinkFunc) Log(level LogLevel, category, message string) { f(level, category, message) }

// HandleOwner is the handle capability table: anything that can resolve and
// release the opaque references held by engine code.
type HandleOwner interface {
	Deref(h Handle) (any, error)
	Release(h Handle) bool
}

// Retainer is an engine object with a manual reference count, such as a user.
type Retainer interface {
	Retain()
	Release()
}

type nopEngine struct{}

func (nopEngine) SetLogCallback(LogCallback, LogLevel) {}
func (nopEngine) SetLogLevel(LogLevel)                 {}
func (nopEngine) RegisterUserCodeError(error)          {}
