package ffibridge_test

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/joeycumines/go-eventloop"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"

	"github.com/joeycumines/go-ffibridge"
	"github.com/joeycumines/go-ffibridge/internal/enginetest"
)

// newTestLoop creates a running event loop, stopped on test cleanup.
func newTestLoop(t testing.TB) *eventloop.Loop {
	t.Helper()
	loop, err := eventloop.New()
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return loop
}

// newTestBridge creates a bridge over a fake engine, closed on test cleanup.
func newTestBridge(t testing.TB, opts ...ffibridge.Option) (*ffibridge.Bridge, *enginetest.Engine) {
	t.Helper()
	engine := enginetest.New()
	b, err := ffibridge.New(engine, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b, engine
}

// newManualScheduler returns a scheduler whose context is pumped by hand.
func newManualScheduler(t testing.TB, b *ffibridge.Bridge, contextID uint64, opts ...ffibridge.SchedulerOption) (*ffibridge.Scheduler, *enginetest.Context) {
	t.Helper()
	ctx := new(enginetest.Context)
	s, err := b.NewScheduler(contextID, ctx, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return s, ctx
}

// newLoopScheduler returns a scheduler whose context is a running event loop.
func newLoopScheduler(t testing.TB, b *ffibridge.Bridge, contextID uint64, opts ...ffibridge.SchedulerOption) *ffibridge.Scheduler {
	t.Helper()
	loop := newTestLoop(t)
	s, err := b.NewScheduler(contextID, ffibridge.NewLoopPort(loop, b), opts...)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// syncBuffer is a bytes.Buffer safe for concurrent writers.
type syncBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

func (x *syncBuffer) Write(p []byte) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.b.Write(p)
}

func (x *syncBuffer) String() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.b.String()
}

// newTestLogger returns a JSON logger writing every level to w.
func newTestLogger(w *syncBuffer) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w), stumpy.WithTimeField(``)),
		stumpy.L.WithLevel(logiface.LevelTrace),
	).Logger()
}
