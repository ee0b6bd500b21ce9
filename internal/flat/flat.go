// Package flat implements exhaustive nearest-neighbor scans.
package flat

import (
	"github.com/hupe1980/hnswbridge/internal/searcher"
	"github.com/hupe1980/hnswbridge/metric"
)

// Vectors gives the scan read access to stored vectors.
type Vectors interface {
	Vector(id uint32, dst []float32) []float32
}

// Scan compares q against every id in [0, n) and returns up to k nearest
// ids ascending by distance. Ids for which skip returns true are left out;
// skip may be nil.
//
// The returned slice aliases s.Results.
func Scan(s *searcher.Searcher, vectors Vectors, n int, dist metric.Func, q []float32, k int, skip func(id uint32) bool) []searcher.PriorityQueueItem {
	s.Candidates.Reset()
	s.Results = s.Results[:0]
	if k <= 0 || n <= 0 {
		return s.Results
	}

	vec := s.Vec(len(q))
	for id := uint32(0); int(id) < n; id++ {
		if skip != nil && skip(id) {
			continue
		}
		d := dist(q, vectors.Vector(id, vec))
		if s.Candidates.Len() >= k {
			if worst, _ := s.Candidates.TopItem(); d >= worst.Distance {
				continue
			}
		}
		s.Candidates.PushItemBounded(searcher.PriorityQueueItem{Node: id, Distance: d}, k)
	}

	s.Results = s.Candidates.DrainAscending(s.Results)
	return s.Results
}
