// Package gojabridge hosts a goja JavaScript runtime as a bridge consumer
// context: the runtime lives on a go-eventloop loop, and engine notifications,
// log lines and client reset round trips reach JavaScript through a
// scheduler that posts to that loop.
package gojabridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/dop251/goja"
	"github.com/joeycumines/go-eventloop"
	"github.com/joeycumines/logiface"

	"github.com/joeycumines/go-ffibridge"
)

// Config configures a [Runtime].
type Config struct {
	// Logger receives JavaScript exceptions thrown by log subscribers.
	Logger *logiface.Logger[logiface.Event]
	// ContextID identifies the runtime to the bridge.
	ContextID uint64
}

// Runtime is a goja runtime driven by an event loop. The goja runtime is only
// ever touched on the loop.
type Runtime struct {
	bridge    *ffibridge.Bridge
	loop      *eventloop.Loop
	vm        *goja.Runtime
	port      *ffibridge.LoopPort
	scheduler *ffibridge.Scheduler
	logger    *logiface.Logger[logiface.Event]
}

// New creates a runtime on loop, which the caller runs.
func New(bridge *ffibridge.Bridge, loop *eventloop.Loop, cfg Config) (*Runtime, error) {
	if bridge == nil {
		return nil, errors.New("gojabridge: bridge cannot be nil")
	}
	if loop == nil {
		return nil, errors.New("gojabridge: loop cannot be nil")
	}
	port := ffibridge.NewLoopPort(loop, bridge)
	scheduler, err := bridge.NewScheduler(cfg.ContextID, port, ffibridge.WithAffinity(ffibridge.AffinityPinned))
	if err != nil {
		return nil, fmt.Errorf("gojabridge: failed to create scheduler: %w", err)
	}
	r := &Runtime{
		bridge:    bridge,
		loop:      loop,
		vm:        goja.New(),
		port:      port,
		scheduler: scheduler,
		logger:    cfg.Logger,
	}
	// nothing can reach the vm before New returns, so binding here is safe
	if err := r.bind(); err != nil {
		scheduler.Free()
		return nil, err
	}
	return r, nil
}

// Scheduler returns the scheduler of the runtime's context.
func (r *Runtime) Scheduler() *ffibridge.Scheduler { return r.scheduler }

// Close frees the scheduler. Work already queued still runs on the loop,
// after which every log subscription made by the script is removed.
func (r *Runtime) Close() {
	r.scheduler.Free()
}

// Eval runs src on the loop and returns the exported completion value.
func (r *Runtime) Eval(ctx context.Context, src string) (any, error) {
	var result any
	err := r.scheduler.InvokeAndWait(ctx, func() error {
		v, err := r.vm.RunString(src)
		if err != nil {
			return err
		}
		result = v.Export()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// global resolves a global JavaScript function on the loop.
func (r *Runtime) global(ctx context.Context, name string) (goja.Callable, error) {
	var fn goja.Callable
	err := r.scheduler.InvokeAndWait(ctx, func() error {
		var ok bool
		fn, ok = goja.AssertFunction(r.vm.Get(name))
		if !ok {
			return fmt.Errorf("gojabridge: %s is not a function", name)
		}
		return nil
	})
	return fn, err
}

func (r *Runtime) bind() error {
	if err := r.vm.Set("subscribeLogs", r.subscribeLogs); err != nil {
		return err
	}
	return r.vm.Set("engineLog", r.engineLog)
}

func (r *Runtime) parseLevel(v goja.Value) ffibridge.LogLevel {
	level, ok := ffibridge.ParseLogLevel(v.String())
	if !ok {
		panic(r.vm.NewTypeError("unknown log level: %s", v.String()))
	}
	return level
}

// subscribeLogs(sessionId, level, fn) registers fn(level, category, message)
// for engine log lines, returning an object with close() and setLevel(level).
func (r *Runtime) subscribeLogs(call goja.FunctionCall) goja.Value {
	session := uint64(call.Argument(0).ToInteger())
	level := r.parseLevel(call.Argument(1))
	fn, ok := goja.AssertFunction(call.Argument(2))
	if !ok {
		panic(r.vm.NewTypeError("subscribeLogs requires a function as third argument"))
	}

	sink := ffibridge.LogSinkFunc(func(level ffibridge.LogLevel, category, message string) {
		if _, err := fn(goja.Undefined(), r.vm.ToValue(level.String()), r.vm.ToValue(category), r.vm.ToValue(message)); err != nil {
			r.logger.Warning().
				Uint64("session_id", session).
				Err(err).
				Log("log subscriber threw")
		}
	})
	sub, err := r.bridge.Loggers().Register(session, level, r.scheduler, sink)
	if err != nil {
		panic(r.vm.NewGoError(err))
	}

	obj := r.vm.NewObject()
	_ = obj.Set("close", func(goja.FunctionCall) goja.Value {
		_ = sub.Close()
		return goja.Undefined()
	})
	_ = obj.Set("setLevel", func(call goja.FunctionCall) goja.Value {
		if err := sub.SetLevel(r.parseLevel(call.Argument(0))); err != nil {
			panic(r.vm.NewGoError(err))
		}
		return goja.Undefined()
	})
	return obj
}

// engineLog(level, category, message) hands a line to the engine logger.
func (r *Runtime) engineLog(call goja.FunctionCall) goja.Value {
	level := r.parseLevel(call.Argument(0))
	return r.vm.ToValue(r.bridge.Loggers().Log(level, call.Argument(1).String(), call.Argument(2).String()))
}

// unlockFunc exposes u to JavaScript as unlock(err?). Any argument other
// than undefined or null fails the round trip with its string form.
func (r *Runtime) unlockFunc(u *ffibridge.Unlock) goja.Value {
	return r.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		arg := call.Argument(0)
		if goja.IsUndefined(arg) || goja.IsNull(arg) {
			u.Complete(nil)
		} else {
			u.Complete(errors.New(arg.String()))
		}
		return goja.Undefined()
	})
}

// BeforeClientReset wraps the global function name as a before-reset
// handler, called as name(local, unlock).
func (r *Runtime) BeforeClientReset(ctx context.Context, name string) (*ffibridge.Callback[ffibridge.BeforeClientResetFunc], error) {
	fn, err := r.global(ctx, name)
	if err != nil {
		return nil, err
	}
	return ffibridge.NewCallback(r.scheduler, ffibridge.BeforeClientResetFunc(func(local any, u *ffibridge.Unlock) {
		if _, err := fn(goja.Undefined(), r.vm.ToValue(local), r.unlockFunc(u)); err != nil {
			u.Complete(err)
		}
	}))
}

// AfterClientReset wraps the global function name as an after-reset
// handler, called as name(before, after, didRecover, unlock).
func (r *Runtime) AfterClientReset(ctx context.Context, name string) (*ffibridge.Callback[ffibridge.AfterClientResetFunc], error) {
	fn, err := r.global(ctx, name)
	if err != nil {
		return nil, err
	}
	return ffibridge.NewCallback(r.scheduler, ffibridge.AfterClientResetFunc(func(before, after any, didRecover bool, u *ffibridge.Unlock) {
		if _, err := fn(goja.Undefined(), r.vm.ToValue(before), r.vm.ToValue(after), r.vm.ToValue(didRecover), r.unlockFunc(u)); err != nil {
			u.Complete(err)
		}
	}))
}
