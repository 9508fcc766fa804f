package ffibridge

// arenaGenBits is the width of the generation counter in a key. The top bit
// of the 64 bit key is kept clear for token flags (see [FinalizeToken]).
const (
	arenaGenBits = 31
	arenaGenMask = 1<<arenaGenBits - 1
)

// arena is a generational index: slots are reused, and every reuse bumps the
// slot generation so keys issued for an earlier occupant stop resolving.
//
// Keys are gen<<32 | index. Generations start at 1, so 0 is never a valid key.
//
// Not safe for concurrent use.
type arena[T any] struct {
	slots []arenaSlot[T]
	free  []uint32
	live  int
}

type arenaSlot[T any] struct {
	value T
	gen   uint32
	used  bool
}

func arenaKey(index, gen uint32) uint64 {
	return uint64(gen)<<32 | uint64(index)
}

func splitArenaKey(key uint64) (index, gen uint32) {
	return uint32(key), uint32(key>>32) & arenaGenMask
}

func (a *arena[T]) insert(v T) uint64 {
	var index uint32
	if n := len(a.free); n != 0 {
		index = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		index = uint32(len(a.slots))
		a.slots = append(a.slots, arenaSlot[T]{gen: 1})
	}
	slot := &a.slots[index]
	slot.value = v
	slot.used = true
	a.live++
	return arenaKey(index, slot.gen)
}

func (a *arena[T]) slot(key uint64) *arenaSlot[T] {
	index, gen := splitArenaKey(key)
	if gen == 0 || int(index) >= len(a.slots) {
		return nil
	}
	slot := &a.slots[index]
	if !slot.used || slot.gen != gen {
		return nil
	}
	return slot
}

func (a *arena[T]) get(key uint64) (v T, ok bool) {
	if slot := a.slot(key); slot != nil {
		return slot.value, true
	}
	return v, false
}

func (a *arena[T]) remove(key uint64) (v T, ok bool) {
	slot := a.slot(key)
	if slot == nil {
		return v, false
	}
	v = slot.value
	var zero T
	slot.value = zero
	slot.used = false
	slot.gen++
	if slot.gen > arenaGenMask {
		slot.gen = 1
	}
	index, _ := splitArenaKey(key)
	a.free = append(a.free, index)
	a.live--
	return v, true
}

func (a *arena[T]) len() int {
	return a.live
}

// each calls fn for every live slot, stopping early if fn returns false.
func (a *arena[T]) each(fn func(key uint64, v T) bool) {
	for i := range a.slots {
		slot := &a.slots[i]
		if slot.used && !fn(arenaKey(uint32(i), slot.gen), slot.value) {
			return
		}
	}
}
