package ffibridge

import (
	"sync/atomic"
)

// finalizeBit marks a token as the terminal message of a freed scheduler.
const finalizeBit = uint64(1) << 63

// Port posts an opaque token to one consumer execution context.
//
// Post must be safe to call from any goroutine and must not block. It returns
// false if the context has been torn down and will never see the token.
type Port interface {
	Post(token uint64) bool
}

// PortFunc adapts a function to [Port].
type PortFunc func(token uint64) bool

// Post calls f(token).
func (f PortFunc) Post(token uint64) bool { return f(token) }

// Dispatcher receives tokens on the consumer context. [Bridge] implements it.
type Dispatcher interface {
	Dispatch(token uint64) error
}

// Submitter is any execution context that accepts work from any goroutine,
// such as a go-eventloop Loop.
type Submitter interface {
	// Submit queues fn to run on the context, failing once it is shut down.
	Submit(fn func()) error
}

// LoopPort delivers tokens by submitting a dispatch to a [Submitter].
type LoopPort struct {
	loop       Submitter
	dispatcher Dispatcher
	closed     atomic.Bool
}

var _ Port = (*LoopPort)(nil)

// NewLoopPort returns a port that runs dispatcher.Dispatch(token) on loop.
func NewLoopPort(loop Submitter, dispatcher Dispatcher) *LoopPort {
	return &LoopPort{loop: loop, dispatcher: dispatcher}
}

// Post implements [Port].
func (p *LoopPort) Post(token uint64) bool {
	if p.closed.Load() {
		return false
	}
	return p.loop.Submit(func() {
		// stale tokens are accounted for by the dispatcher
		_ = p.dispatcher.Dispatch(token)
	}) == nil
}

// Close makes every later Post fail, modelling a torn down context.
func (p *LoopPort) Close() {
	p.closed.Store(true)
}

// FinalizeToken returns the terminal token posted when the scheduler
// identified by token is freed.
func FinalizeToken(token uint64) uint64 {
	return token | finalizeBit
}

// IsFinalizeToken reports whether token was produced by [FinalizeToken].
func IsFinalizeToken(token uint64) bool {
	return token&finalizeBit != 0
}
