// cache.go — the per-context lookup cache.
//
// A small fixed-size table that remembers the result of recent Get calls so
// that repeated reads of a bound key cost O(1) instead of a chain walk. Each
// key has exactly two candidate slots, derived from disjoint bit fields of
// its hash (the key generator guarantees the two indexes differ). An entry is
// either exactly correct for the context's current environment or has been
// invalidated to empty; scope entry and exit clear precisely the slots named
// by the activated set's bitmasks, so a stale hit is impossible.
//
// The table is owned by one ExecContext and is never shared.
package loom

import "math/bits"

const (
	cacheIndexBits = 4
	cacheTableSize = 1 << cacheIndexBits
	cacheTableMask = cacheTableSize - 1
)

type cacheSlot struct {
	key   *Key
	value any
}

type cache struct {
	slots [cacheTableSize]cacheSlot
}

func primaryIndex(k *Key) int {
	return int(k.hash) & cacheTableMask
}

func secondaryIndex(k *Key) int {
	return int(k.hash>>cacheIndexBits) & cacheTableMask
}

// invalidate clears the slot for each set bit of mask. Cost is
// O(popcount(mask)); this runs on every scope entry and exit, so it must not
// touch the rest of the table. Clearing the key reference alone is enough to
// make a slot unmatchable; the value is left behind.
func (c *cache) invalidate(mask uint16) {
	for mask != 0 {
		c.slots[bits.TrailingZeros16(mask)].key = nil
		mask &= mask - 1
	}
}

// invalidateAll empties the whole table. Only snapshot swaps use this: when
// an arbitrary environment is installed wholesale there is no cheap way to
// name the slots that differ, so correctness demands the conservative clear.
func (c *cache) invalidateAll() {
	for i := range c.slots {
		c.slots[i].key = nil
	}
}

// cachePut records a slow-path lookup result. The victim is picked from the
// key's two candidate slots by the low bit of the context's rotation
// register; if the other slot holds an entry for the same key it is cleared,
// so a key never occupies both slots at once.
func (ec *ExecContext) cachePut(k *Key, v any) {
	victim, other := primaryIndex(k), secondaryIndex(k)
	if ec.chooseVictim() != 0 {
		victim, other = other, victim
	}
	ec.cache.slots[victim] = cacheSlot{key: k, value: v}
	if ec.cache.slots[other].key == k {
		ec.cache.slots[other].key = nil
	}
}

// chooseVictim returns 0 or 1 pseudo-randomly by rotating the context's
// victim register one bit to the right.
func (ec *ExecContext) chooseVictim() uint32 {
	t := ec.victims
	ec.victims = (t << 31) | (t >> 1)
	return t & 1
}
