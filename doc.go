// Package ffibridge carries notifications and callbacks between a
// multi-threaded native engine and a single-threaded cooperative consumer
// runtime.
//
// # Architecture
//
// Engine goroutines never run consumer code. They hand work to a [Scheduler],
// which queues it and posts an opaque token through the consumer context's
// [Port]. The context answers every token with [Bridge.Dispatch], which runs
// queued work one item per token, in the order it was queued.
//
// Engine payloads are only valid for the duration of the engine's call. The
// On* entry points ([OnSyncError], [OnHTTPRequest], and so on) deep copy them
// into owned storage before anything crosses to the context.
//
// When the engine needs an answer that only consumer code can produce, it
// starts a round trip ([Scheduler.AwaitResult]): the handler receives an
// [Unlock] which it completes exactly once, and the engine goroutine blocks
// until it does, its context is done, or the round trip times out.
//
// Consumer objects referenced by engine code are held through [Handles], in
// persistent, weak or finalizable mode. [LogRegistry] fans engine log lines
// out to per-session subscribers and keeps the engine at the lowest level any
// of them wants.
//
// # Thread Safety
//
// Every exported method is safe for concurrent use, with one exception:
// code run by a scheduler runs on its context, one item at a time.
// [Scheduler.Invoke] called from such code may run the new work inline,
// bounded by [WithMaxReentrancy].
//
// # Usage
//
//	bridge, err := ffibridge.New(engine, ffibridge.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer bridge.Close()
//
//	loop, err := eventloop.New()
//	if err != nil {
//	    return err
//	}
//	go loop.Run(ctx)
//
//	scheduler, err := bridge.NewScheduler(1, ffibridge.NewLoopPort(loop, bridge))
//	if err != nil {
//	    return err
//	}
//	defer scheduler.Free()
package ffibridge
