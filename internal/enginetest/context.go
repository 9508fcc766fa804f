package enginetest

import (
	"sync"

	"github.com/joeycumines/go-ffibridge"
)

// Context is a consumer context driven by hand: posted tokens accumulate
// until the test pumps them, which makes delivery order deterministic.
type Context struct {
	tokens []uint64
	mu     sync.Mutex
	closed bool
}

var _ ffibridge.Port = (*Context)(nil)

// Post implements [ffibridge.Port].
func (c *Context) Post(token uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.tokens = append(c.tokens, token)
	return true
}

// Close makes every later Post fail.
func (c *Context) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// Len returns the number of tokens waiting to be pumped.
func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tokens)
}

// Pump dispatches waiting tokens, including any posted while pumping, until
// none remain. It returns the number of tokens dispatched.
func (c *Context) Pump(d ffibridge.Dispatcher) int {
	var n int
	for {
		c.mu.Lock()
		if len(c.tokens) == 0 {
			c.mu.Unlock()
			return n
		}
		token := c.tokens[0]
		c.tokens = c.tokens[1:]
		c.mu.Unlock()
		_ = d.Dispatch(token)
		n++
	}
}
