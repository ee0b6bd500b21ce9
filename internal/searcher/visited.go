package searcher

import "github.com/bits-and-blooms/bitset"

// VisitedSet tracks visited nodes with a bitset and a dirty list so Reset
// costs O(visited) instead of O(capacity).
type VisitedSet struct {
	bits  *bitset.BitSet
	dirty []uint32
}

// NewVisitedSet creates a visited set sized for capacity nodes. It grows on
// demand.
func NewVisitedSet(capacity int) *VisitedSet {
	return &VisitedSet{
		bits:  bitset.New(uint(capacity)),
		dirty: make([]uint32, 0, 128),
	}
}

// Visit marks id as visited.
func (v *VisitedSet) Visit(id uint32) {
	if !v.bits.Test(uint(id)) {
		v.bits.Set(uint(id))
		v.dirty = append(v.dirty, id)
	}
}

// Visited reports whether id was visited since the last Reset.
func (v *VisitedSet) Visited(id uint32) bool {
	return v.bits.Test(uint(id))
}

// Count returns the number of visited nodes.
func (v *VisitedSet) Count() int {
	return len(v.dirty)
}

// Reset clears all visits.
func (v *VisitedSet) Reset() {
	for _, id := range v.dirty {
		v.bits.Clear(uint(id))
	}
	v.dirty = v.dirty[:0]
}
