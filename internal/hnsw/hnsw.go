package hnsw

import (
	"errors"
	"fmt"
	"math"

	"github.com/hupe1980/hnswbridge/internal/searcher"
	"github.com/hupe1980/hnswbridge/metric"
)

const (
	// layerNormalizationBase is the base constant for exponential layer probability distribution.
	layerNormalizationBase = 1.0

	// mmax0Multiplier is the multiplier for calculating maximum connections at layer 0.
	mmax0Multiplier = 2

	// minimumM is the minimum valid value for M.
	minimumM = 2

	// DefaultM is the default number of bidirectional links.
	DefaultM = 16

	// DefaultEFConstruction is the default size of the dynamic candidate list during insertion.
	DefaultEFConstruction = 200

	// DefaultEF is the default size of the dynamic candidate list during search.
	DefaultEF = 10
)

var (
	// ErrCapacityExceeded is returned when inserting beyond MaxElements.
	ErrCapacityExceeded = errors.New("hnsw: capacity exceeded")
	// ErrNonSequentialID is returned when ids are not inserted densely from 0.
	ErrNonSequentialID = errors.New("hnsw: node ids must be inserted sequentially")
)

// Vectors gives the graph read access to node vectors.
type Vectors interface {
	// Vector writes node id's float32 vector into dst and returns it.
	Vector(id uint32, dst []float32) []float32
}

// Options configures an HNSW graph.
type Options struct {
	Dimension      int
	M              int
	EFConstruction int
	EF             int
	MaxElements    int
	Heuristic      bool
	RandomSeed     int64
	Metric         metric.Metric
}

// DefaultOptions contains the default options for HNSW.
var DefaultOptions = Options{
	M:              DefaultM,
	EFConstruction: DefaultEFConstruction,
	EF:             DefaultEF,
	Heuristic:      true,
	RandomSeed:     100,
	Metric:         metric.Euclidean,
}

type node struct {
	level int
	links [][]uint32
}

// HNSW is a navigable small world graph.
type HNSW struct {
	opts         Options
	vectors      Vectors
	distanceFunc metric.Func

	maxConnectionsPerLayer int
	maxConnectionsLayer0   int
	layerMultiplier        float64
	rngSeed                uint64

	nodes      []node
	entryPoint uint32
	maxLevel   int

	// insertion scratch, guarded by the caller's write serialization
	scratchA []float32
	scratchB []float32
}

// New creates an empty graph.
func New(vectors Vectors, optFns ...func(o *Options)) (*HNSW, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("hnsw: invalid dimension %d", opts.Dimension)
	}
	if opts.M < minimumM {
		opts.M = minimumM
	}
	if opts.EFConstruction < opts.M {
		opts.EFConstruction = opts.M
	}
	if opts.EF <= 0 {
		opts.EF = DefaultEF
	}

	distFunc, err := metric.Provider(opts.Metric)
	if err != nil {
		return nil, err
	}

	return &HNSW{
		opts:                   opts,
		vectors:                vectors,
		distanceFunc:           distFunc,
		maxConnectionsPerLayer: opts.M,
		maxConnectionsLayer0:   mmax0Multiplier * opts.M,
		layerMultiplier:        layerNormalizationBase / math.Log(float64(opts.M)),
		rngSeed:                uint64(opts.RandomSeed),
		scratchA:               make([]float32, opts.Dimension),
		scratchB:               make([]float32, opts.Dimension),
	}, nil
}

// Len returns the number of nodes.
func (h *HNSW) Len() int { return len(h.nodes) }

// MaxElements returns the configured capacity; 0 means unbounded.
func (h *HNSW) MaxElements() int { return h.opts.MaxElements }

// Options returns the effective options.
func (h *HNSW) Options() Options { return h.opts }

// SetEF sets the search candidate list size.
func (h *HNSW) SetEF(ef int) {
	if ef > 0 {
		h.opts.EF = ef
	}
}

// EF returns the search candidate list size.
func (h *HNSW) EF() int { return h.opts.EF }

// determineLayer draws a level from the exponential distribution using
// xorshift64*.
func (h *HNSW) determineLayer() int {
	h.rngSeed += 0x9E3779B97F4A7C15
	seed := h.rngSeed
	seed ^= seed >> 12
	seed ^= seed << 25
	seed ^= seed >> 27
	r := float64(seed*0x2545F4914F6CDD1D>>11) / float64(1<<53)
	if r == 0 {
		r = math.SmallestNonzeroFloat64
	}
	return int(math.Floor(-math.Log(r) * h.layerMultiplier))
}

func (h *HNSW) dist(s *searcher.Searcher, q []float32, id uint32) float32 {
	return h.distanceFunc(q, h.vectors.Vector(id, s.Vec(h.opts.Dimension)))
}

func (h *HNSW) nodeDistance(a, b uint32) float32 {
	return h.distanceFunc(h.vectors.Vector(a, h.scratchA), h.vectors.Vector(b, h.scratchB))
}

// Insert links node id, whose vector is vec, into the graph. Ids must be
// inserted as 0, 1, 2, ...
func (h *HNSW) Insert(id uint32, vec []float32) error {
	if int(id) != len(h.nodes) {
		return ErrNonSequentialID
	}
	if h.opts.MaxElements > 0 && len(h.nodes) >= h.opts.MaxElements {
		return ErrCapacityExceeded
	}

	layer := h.determineLayer()
	h.nodes = append(h.nodes, node{level: layer, links: make([][]uint32, layer+1)})

	if id == 0 {
		h.entryPoint = id
		h.maxLevel = layer
		return nil
	}

	h.insertNode(id, vec, layer)

	if layer > h.maxLevel {
		h.maxLevel = layer
		h.entryPoint = id
	}
	return nil
}

// insertNode performs the graph traversal and linking.
func (h *HNSW) insertNode(id uint32, vec []float32, layer int) {
	s := searcher.Get()
	defer searcher.Put(s)

	currID := h.entryPoint
	currDist := h.dist(s, vec, currID)

	// 1. Greedy search from the top down to layer+1
	for level := h.maxLevel; level > layer; level-- {
		currID, currDist = h.greedyStep(s, vec, currID, currDist, level)
	}

	// 2. Search and link from min(layer, maxLevel) down to 0
	for level := min(layer, h.maxLevel); level >= 0; level-- {
		h.searchLayer(s, vec, currID, currDist, level, h.opts.EFConstruction)
		candidates := s.Candidates.DrainAscending(s.Results[:0])
		s.Results = candidates

		if len(candidates) > 0 {
			currID = candidates[0].Node
			currDist = candidates[0].Distance
		}

		maxConns := h.maxConnectionsPerLayer
		if level == 0 {
			maxConns = h.maxConnectionsLayer0
		}

		neighbors := h.selectNeighbors(candidates, maxConns)

		links := make([]uint32, len(neighbors), maxConns)
		for i, n := range neighbors {
			links[i] = n.Node
		}
		h.nodes[id].links[level] = links

		for _, n := range neighbors {
			h.addConnection(n.Node, id, level, n.Distance, maxConns)
		}
	}
}

func (h *HNSW) greedyStep(s *searcher.Searcher, q []float32, currID uint32, currDist float32, level int) (uint32, float32) {
	changed := true
	for changed {
		changed = false
		for _, next := range h.nodes[currID].links[level] {
			if d := h.dist(s, q, next); d < currDist {
				currID, currDist = next, d
				changed = true
			}
		}
	}
	return currID, currDist
}

// addConnection links source -> target, pruning source's list with the
// neighbor heuristic when it overflows.
func (h *HNSW) addConnection(source, target uint32, level int, dist float32, maxConns int) {
	links := h.nodes[source].links[level]
	if len(links) < maxConns {
		h.nodes[source].links[level] = append(links, target)
		return
	}

	candidates := make([]searcher.PriorityQueueItem, 0, len(links)+1)
	candidates = append(candidates, searcher.PriorityQueueItem{Node: target, Distance: dist})
	for _, l := range links {
		candidates = append(candidates, searcher.PriorityQueueItem{Node: l, Distance: h.nodeDistance(source, l)})
	}
	sortAscending(candidates)

	selected := h.selectNeighbors(candidates, maxConns)
	pruned := links[:0]
	for _, n := range selected {
		pruned = append(pruned, n.Node)
	}
	h.nodes[source].links[level] = pruned
}

// selectNeighbors picks at most m neighbors from candidates sorted by
// ascending distance.
func (h *HNSW) selectNeighbors(candidates []searcher.PriorityQueueItem, m int) []searcher.PriorityQueueItem {
	if !h.opts.Heuristic || len(candidates) <= m {
		n := min(m, len(candidates))
		return append([]searcher.PriorityQueueItem(nil), candidates[:n]...)
	}
	return h.selectNeighborsHeuristic(candidates, m)
}

// selectNeighborsHeuristic keeps a candidate only if it is closer to the
// base node than to every neighbor already selected, then fills up with the
// nearest rejected ones.
func (h *HNSW) selectNeighborsHeuristic(candidates []searcher.PriorityQueueItem, m int) []searcher.PriorityQueueItem {
	result := make([]searcher.PriorityQueueItem, 0, m)
	taken := make([]bool, len(candidates))

	for i, cand := range candidates {
		if len(result) >= m {
			break
		}
		good := true
		for _, r := range result {
			if h.nodeDistance(cand.Node, r.Node) < cand.Distance {
				good = false
				break
			}
		}
		if good {
			result = append(result, cand)
			taken[i] = true
		}
	}

	for i, cand := range candidates {
		if len(result) >= m {
			break
		}
		if !taken[i] {
			result = append(result, cand)
		}
	}
	return result
}

// searchLayer runs the ef-bounded best-first search on one layer. Results
// are left in s.Candidates (max heap).
func (h *HNSW) searchLayer(s *searcher.Searcher, query []float32, epID uint32, epDist float32, level int, ef int) {
	s.Visited.Reset()
	s.ScratchCandidates.Reset()
	s.Candidates.Reset()

	s.Visited.Visit(epID)
	s.ScratchCandidates.PushItem(searcher.PriorityQueueItem{Node: epID, Distance: epDist})
	s.Candidates.PushItem(searcher.PriorityQueueItem{Node: epID, Distance: epDist})

	candidates := s.ScratchCandidates
	results := s.Candidates

	for candidates.Len() > 0 {
		curr, _ := candidates.PopItem()

		if worst, _ := results.TopItem(); curr.Distance > worst.Distance && results.Len() >= ef {
			break
		}

		if level > h.nodes[curr.Node].level {
			continue
		}
		for _, next := range h.nodes[curr.Node].links[level] {
			if s.Visited.Visited(next) {
				continue
			}
			s.Visited.Visit(next)

			nextDist := h.dist(s, query, next)
			if results.Len() >= ef {
				if worst, _ := results.TopItem(); nextDist > worst.Distance {
					continue
				}
			}
			candidates.PushItem(searcher.PriorityQueueItem{Node: next, Distance: nextDist})
			results.PushItemBounded(searcher.PriorityQueueItem{Node: next, Distance: nextDist}, ef)
		}
	}
}

// Search returns up to k nearest nodes to q in ascending distance order.
// The returned slice aliases s and is valid until s is reused.
func (h *HNSW) Search(s *searcher.Searcher, q []float32, k int) []searcher.PriorityQueueItem {
	if len(h.nodes) == 0 || k <= 0 {
		return nil
	}

	currID := h.entryPoint
	currDist := h.dist(s, q, currID)
	for level := h.maxLevel; level > 0; level-- {
		currID, currDist = h.greedyStep(s, q, currID, currDist, level)
	}

	h.searchLayer(s, q, currID, currDist, 0, max(h.opts.EF, k))
	for s.Candidates.Len() > k {
		_, _ = s.Candidates.PopItem()
	}
	s.Results = s.Candidates.DrainAscending(s.Results[:0])
	return s.Results
}

func sortAscending(items []searcher.PriorityQueueItem) {
	// insertion sort; lists are at most 2*M+1 long
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].Distance < items[j-1].Distance; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}
