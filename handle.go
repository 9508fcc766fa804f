package ffibridge

import (
	"runtime"
	"sync"
	"sync/atomic"
	"weak"
)

// Handle is an opaque, generation checked reference to a consumer object,
// safe to hand to engine code. The zero Handle is never valid.
type Handle uint64

// HandleMode is the ownership mode of a live handle.
type HandleMode uint8

const (
	// HandleReleased is reported for handles that no longer resolve.
	HandleReleased HandleMode = iota
	// HandlePersistent keeps its target alive until released.
	HandlePersistent
	// HandleWeak does not keep its target alive.
	HandleWeak
	// HandleFinalizable does not keep its target alive, and runs a cleanup
	// once the target is collected.
	HandleFinalizable
)

func (m HandleMode) String() string {
	switch m {
	case HandlePersistent:
		return "persistent"
	case HandleWeak:
		return "weak"
	case HandleFinalizable:
		return "finalizable"
	default:
		return "released"
	}
}

type handleEntry struct {
	strong any
	// target returns the referent of a weak or finalizable handle, or nil
	// once it has been collected.
	target  func() any
	final   *finalizerState
	cleanup runtime.Cleanup
	mode    HandleMode
}

// finalizerState is shared between a finalizable handle and its registered
// cleanup. Whichever of release, eager finalization or collection gets to
// done first wins; the others become no-ops.
type finalizerState struct {
	fn   func()
	done atomic.Bool
}

// Handles owns every consumer object reference held by engine code.
//
// Weak and finalizable handles are tracked in a ring so [Handles.Scavenge]
// can retire collected entries incrementally.
type Handles struct {
	bridge *Bridge

	slots arena[handleEntry]
	mu    sync.RWMutex

	// ring holds the keys of weak handles for scavenging; 0 marks a hole.
	ring []Handle
	head int

	// scavengeMu serializes scavenge passes so compaction never overlaps one.
	scavengeMu sync.Mutex
}

var _ HandleOwner = (*Handles)(nil)

func newHandles(b *Bridge) *Handles {
	return &Handles{
		bridge: b,
		ring:   make([]Handle, 0, 64),
	}
}

// NewPersistent returns a handle keeping v alive until [Handles.Release].
func (h *Handles) NewPersistent(v any) Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Handle(h.slots.insert(handleEntry{strong: v, mode: HandlePersistent}))
}

// NewWeak returns a handle to v that does not keep it alive.
func NewWeak[T any](h *Handles, v *T) Handle {
	wp := weak.Make(v)
	entry := handleEntry{
		target: func() any {
			if p := wp.Value(); p != nil {
				return p
			}
			return nil
		},
		mode: HandleWeak,
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	key := Handle(h.slots.insert(entry))
	h.ring = append(h.ring, key)
	return key
}

// NewFinalizable returns a handle to v that does not keep it alive, and
// arranges for cleanup to run once v is collected, on an unspecified
// goroutine. cleanup runs at most once, and never after [Handles.Release].
// cleanup must not reference v, or v will never be collected.
func NewFinalizable[T any](h *Handles, v *T, cleanup func()) Handle {
	wp := weak.Make(v)
	state := &finalizerState{fn: cleanup}
	entry := handleEntry{
		target: func() any {
			if p := wp.Value(); p != nil {
				return p
			}
			return nil
		},
		final: state,
		mode:  HandleFinalizable,
	}
	h.mu.Lock()
	key := Handle(h.slots.insert(entry))
	h.mu.Unlock()

	c := runtime.AddCleanup(v, h.collected, finalizerArg{key: key, state: state})

	h.mu.Lock()
	if slot := h.slots.slot(uint64(key)); slot != nil {
		slot.value.cleanup = c
	}
	h.mu.Unlock()
	return key
}

type finalizerArg struct {
	state *finalizerState
	key   Handle
}

// collected runs on the runtime's cleanup goroutine.
func (h *Handles) collected(arg finalizerArg) {
	if !arg.state.done.CompareAndSwap(false, true) {
		return
	}
	h.mu.Lock()
	h.slots.remove(uint64(arg.key))
	h.mu.Unlock()
	h.runFinalizer(arg.key, arg.state.fn)
}

func (h *Handles) runFinalizer(key Handle, fn func()) {
	h.bridge.stats.finalizersRun.Add(1)
	defer func() {
		if r := recover(); r != nil {
			h.bridge.stats.panics.Add(1)
			h.bridge.logger.Err().
				Uint64("handle", uint64(key)).
				Any("panic", r).
				Log("handle finalizer panicked")
		}
	}()
	if fn != nil {
		fn()
	}
}

// Deref resolves a handle. It fails with [ErrHandleGone] once the handle has
// been released, and with [ErrHandleUnavailable] if a weak target has been
// collected.
func (h *Handles) Deref(key Handle) (any, error) {
	h.mu.RLock()
	entry, ok := h.slots.get(uint64(key))
	h.mu.RUnlock()
	if !ok {
		return nil, ErrHandleGone
	}
	if entry.mode == HandlePersistent {
		return entry.strong, nil
	}
	if v := entry.target(); v != nil {
		return v, nil
	}
	return nil, ErrHandleUnavailable
}

// DerefAs resolves a handle and asserts its target type.
func DerefAs[T any](h HandleOwner, key Handle) (T, error) {
	var zero T
	v, err := h.Deref(key)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, ErrHandleType
	}
	return t, nil
}

// Mode returns the current mode of a handle.
func (h *Handles) Mode(key Handle) HandleMode {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if entry, ok := h.slots.get(uint64(key)); ok {
		return entry.mode
	}
	return HandleReleased
}

// Release retires a handle. For a finalizable handle the cleanup is
// detached, the caller having taken over responsibility for the native side.
// It returns false if the handle was already released.
func (h *Handles) Release(key Handle) bool {
	h.mu.Lock()
	entry, ok := h.slots.remove(uint64(key))
	h.mu.Unlock()
	if !ok {
		return false
	}
	if entry.final != nil {
		entry.final.done.Store(true)
		entry.cleanup.Stop()
	}
	return true
}

// Finalize releases a finalizable handle and runs its cleanup now, unless
// the collector or an earlier call beat it to it.
func (h *Handles) Finalize(key Handle) bool {
	h.mu.Lock()
	entry, ok := h.slots.get(uint64(key))
	if !ok || entry.final == nil || !entry.final.done.CompareAndSwap(false, true) {
		h.mu.Unlock()
		return false
	}
	h.slots.remove(uint64(key))
	h.mu.Unlock()
	entry.cleanup.Stop()
	h.runFinalizer(key, entry.final.fn)
	return true
}

// Len returns the number of live handles.
func (h *Handles) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.slots.len()
}

// Scavenge checks up to batchSize weak handles, releasing those whose target
// has been collected. Successive calls walk the whole set.
func (h *Handles) Scavenge(batchSize int) int {
	h.scavengeMu.Lock()
	defer h.scavengeMu.Unlock()

	if batchSize <= 0 {
		return 0
	}

	type item struct {
		target func() any
		key    Handle
		idx    int
	}

	h.mu.RLock()
	ringLen := len(h.ring)
	if ringLen == 0 {
		h.mu.RUnlock()
		return 0
	}
	start := h.head
	end := min(start+batchSize, ringLen)
	items := make([]item, 0, end-start)
	for i := start; i < end; i++ {
		key := h.ring[i]
		if key == 0 {
			continue
		}
		if entry, ok := h.slots.get(uint64(key)); ok {
			items = append(items, item{target: entry.target, key: key, idx: i})
		} else {
			items = append(items, item{key: key, idx: i})
		}
	}
	nextHead := end
	if nextHead >= ringLen {
		nextHead = 0
	}
	h.mu.RUnlock()

	// target checks happen outside the lock
	var remove []item
	for _, it := range items {
		if it.target == nil || it.target() == nil {
			remove = append(remove, it)
		}
	}

	var released int
	h.mu.Lock()
	for _, it := range remove {
		// a released handle was already removed from the arena
		if it.target != nil {
			if _, ok := h.slots.remove(uint64(it.key)); ok {
				released++
			}
		}
		if it.idx < len(h.ring) && h.ring[it.idx] == it.key {
			h.ring[it.idx] = 0
		}
	}
	h.head = nextHead
	if nextHead == 0 {
		h.compactLocked()
	}
	h.mu.Unlock()

	if released != 0 {
		h.bridge.stats.handlesScavenged.Add(uint64(released))
	}
	return released
}

// compactLocked drops holes from the ring once it is mostly empty.
func (h *Handles) compactLocked() {
	active := 0
	for _, key := range h.ring {
		if key != 0 {
			active++
		}
	}
	if len(h.ring) <= 256 || active*4 >= len(h.ring) {
		return
	}
	ring := make([]Handle, 0, active)
	for _, key := range h.ring {
		if key != 0 {
			ring = append(ring, key)
		}
	}
	h.ring = ring
	h.head = 0
}

// releaseAll releases every handle, returning how many there were.
func (h *Handles) releaseAll() int {
	h.mu.Lock()
	var keys []Handle
	h.slots.each(func(key uint64, _ handleEntry) bool {
		keys = append(keys, Handle(key))
		return true
	})
	h.mu.Unlock()
	for _, key := range keys {
		h.Release(key)
	}
	h.mu.Lock()
	h.ring = h.ring[:0]
	h.head = 0
	h.mu.Unlock()
	return len(keys)
}

// AttachFinalizer ties the lifetime of a native resource to v: release runs
// once v is collected unless [DetachFinalizer] is called first.
func AttachFinalizer[T any](h *Handles, v *T, release func()) Handle {
	return NewFinalizable(h, v, release)
}

// DetachFinalizer cancels a finalizer attached with [AttachFinalizer],
// without running it.
func DetachFinalizer(h *Handles, key Handle) bool {
	if h.Mode(key) != HandleFinalizable {
		return false
	}
	return h.Release(key)
}
