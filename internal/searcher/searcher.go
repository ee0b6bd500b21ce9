package searcher

import "sync"

// Searcher owns the scratch memory of one search. It is not safe for
// concurrent use; take one per goroutine from the pool.
type Searcher struct {
	// Visited tracks visited nodes during graph traversal.
	Visited *VisitedSet

	// Candidates is a max heap holding the best results found so far.
	Candidates *PriorityQueue

	// ScratchCandidates is a min heap of nodes left to explore.
	ScratchCandidates *PriorityQueue

	// ScratchVec is a reusable decode buffer.
	ScratchVec []float32

	// Results receives drained candidates in ascending order.
	Results []PriorityQueueItem
}

var searcherPool = sync.Pool{
	New: func() any {
		return NewSearcher(1024, 128)
	},
}

// NewSearcher creates a searcher with the given initial capacities.
func NewSearcher(visitedCap, queueCap int) *Searcher {
	return &Searcher{
		Visited:           NewVisitedSet(visitedCap),
		Candidates:        NewPriorityQueue(true),
		ScratchCandidates: NewPriorityQueue(false),
		Results:           make([]PriorityQueueItem, 0, queueCap),
	}
}

// Get returns a reset Searcher from the pool.
func Get() *Searcher {
	s := searcherPool.Get().(*Searcher)
	s.Reset()
	return s
}

// Put returns a Searcher to the pool.
func Put(s *Searcher) {
	searcherPool.Put(s)
}

// Reset clears the searcher state for reuse.
func (s *Searcher) Reset() {
	s.Visited.Reset()
	s.Candidates.Reset()
	s.ScratchCandidates.Reset()
	s.Results = s.Results[:0]
}

// Vec returns ScratchVec resized to n components.
func (s *Searcher) Vec(n int) []float32 {
	if cap(s.ScratchVec) < n {
		s.ScratchVec = make([]float32, n)
	}
	s.ScratchVec = s.ScratchVec[:n]
	return s.ScratchVec
}
