package ffibridge

import (
	"sync"
)

// workChunkSize is the number of continuations per node in a workQueue.
// Most schedulers carry a handful of pending items, so the node is kept small.
const workChunkSize = 32

// workQueue is the pending work of one scheduler: a linked list of fixed
// size chunks, consumed from the head and filled at the tail.
//
// Not safe for concurrent use; the owning Scheduler's mutex guards it.
type workQueue struct { // betteralign:ignore
	head   *workChunk
	tail   *workChunk
	length int
}

var workChunkPool = sync.Pool{
	New: func() any {
		return new(workChunk)
	},
}

type workChunk struct {
	items [workChunkSize]func()
	next  *workChunk
	// items[read:write] are pending
	read, write int
}

func getWorkChunk() *workChunk {
	c := workChunkPool.Get().(*workChunk)
	c.read, c.write, c.next = 0, 0, nil
	return c
}

// putWorkChunk clears pending closures so pooled chunks retain nothing, and
// returns how many were cleared.
func putWorkChunk(c *workChunk) int {
	n := c.write - c.read
	clear(c.items[c.read:c.write])
	c.next = nil
	workChunkPool.Put(c)
	return n
}

func (q *workQueue) push(fn func()) {
	switch {
	case q.tail == nil:
		q.head = getWorkChunk()
		q.tail = q.head
	case q.tail.write == workChunkSize:
		q.tail.next = getWorkChunk()
		q.tail = q.tail.next
	}
	q.tail.items[q.tail.write] = fn
	q.tail.write++
	q.length++
}

func (q *workQueue) pop() (func(), bool) {
	if q.length == 0 {
		return nil, false
	}
	c := q.head
	fn := c.items[c.read]
	c.items[c.read] = nil
	c.read++
	q.length--
	if c.read == c.write {
		q.retireHead()
	}
	return fn, true
}

// retireHead drops an exhausted head chunk. The last chunk is kept and
// rewound, so a queue that empties and refills does not touch the pool.
func (q *workQueue) retireHead() {
	c := q.head
	if c == q.tail {
		c.read, c.write = 0, 0
		return
	}
	q.head = c.next
	putWorkChunk(c)
}

func (q *workQueue) len() int {
	return q.length
}

// reset drops every pending item, returning the number dropped.
func (q *workQueue) reset() int {
	var n int
	for c := q.head; c != nil; {
		next := c.next
		n += putWorkChunk(c)
		c = next
	}
	*q = workQueue{}
	return n
}
