package ffibridge

import (
	"sync/atomic"
)

// stats are the bridge counters. All fields are monotonic.
type stats struct {
	posts               atomic.Uint64
	postFailures        atomic.Uint64
	dispatched          atomic.Uint64
	inlineRuns          atomic.Uint64
	staleTokens         atomic.Uint64
	panics              atomic.Uint64
	schedulersFinalized atomic.Uint64
	roundTrips          atomic.Uint64
	roundTripTimeouts   atomic.Uint64
	roundTripFailures   atomic.Uint64
	lateUnlocks         atomic.Uint64
	staleCallbacks      atomic.Uint64
	payloadsCopied      atomic.Uint64
	payloadBytes        atomic.Uint64
	logDispatches       atomic.Uint64
	finalizersRun       atomic.Uint64
	handlesScavenged    atomic.Uint64
}

// Stats is a point in time copy of the bridge counters and gauges.
type Stats struct {
	// Posts counts tokens handed to ports, and PostFailures those rejected.
	Posts        uint64
	PostFailures uint64
	// Dispatched counts items run from a queue; InlineRuns those run inline.
	Dispatched uint64
	InlineRuns uint64
	// StaleTokens counts tokens that arrived after their scheduler was gone.
	StaleTokens         uint64
	Panics              uint64
	SchedulersFinalized uint64
	RoundTrips          uint64
	RoundTripTimeouts   uint64
	RoundTripFailures   uint64
	LateUnlocks         uint64
	// StaleCallbacks counts deliveries skipped because the receiver was gone.
	StaleCallbacks   uint64
	PayloadsCopied   uint64
	PayloadBytes     uint64
	LogDispatches    uint64
	FinalizersRun    uint64
	HandlesScavenged uint64

	Schedulers     int
	Handles        int
	LogSubscribers int
	// EngineLogLevel is the level last pushed to the engine.
	EngineLogLevel LogLevel
}

// Stats returns a snapshot of the bridge metrics.
func (b *Bridge) Stats() Stats {
	return Stats{
		Posts:               b.stats.posts.Load(),
		PostFailures:        b.stats.postFailures.Load(),
		Dispatched:          b.stats.dispatched.Load(),
		InlineRuns:          b.stats.inlineRuns.Load(),
		StaleTokens:         b.stats.staleTokens.Load(),
		Panics:              b.stats.panics.Load(),
		SchedulersFinalized: b.stats.schedulersFinalized.Load(),
		RoundTrips:          b.stats.roundTrips.Load(),
		RoundTripTimeouts:   b.stats.roundTripTimeouts.Load(),
		RoundTripFailures:   b.stats.roundTripFailures.Load(),
		LateUnlocks:         b.stats.lateUnlocks.Load(),
		StaleCallbacks:      b.stats.staleCallbacks.Load(),
		PayloadsCopied:      b.stats.payloadsCopied.Load(),
		PayloadBytes:        b.stats.payloadBytes.Load(),
		LogDispatches:       b.stats.logDispatches.Load(),
		FinalizersRun:       b.stats.finalizersRun.Load(),
		HandlesScavenged:    b.stats.handlesScavenged.Load(),
		Schedulers:          b.Schedulers(),
		Handles:             b.handles.Len(),
		LogSubscribers:      b.loggers.Len(),
		EngineLogLevel:      b.loggers.EffectiveLevel(),
	}
}

func (b *Bridge) countPayload(n int) {
	b.stats.payloadsCopied.Add(1)
	b.stats.payloadBytes.Add(uint64(n))
}
