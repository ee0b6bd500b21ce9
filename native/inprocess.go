package native

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/hupe1980/hnswbridge/buffer"
	"github.com/hupe1980/hnswbridge/codec"
	"github.com/hupe1980/hnswbridge/internal/arena"
	"github.com/hupe1980/hnswbridge/internal/flat"
	"github.com/hupe1980/hnswbridge/internal/hnsw"
	"github.com/hupe1980/hnswbridge/internal/searcher"
	"github.com/hupe1980/hnswbridge/metric"
	"github.com/hupe1980/hnswbridge/persistence"
	"github.com/hupe1980/hnswbridge/precision"
)

// MemoryAcquirer accounts for vector storage memory. Reservations never
// block; an exhausted budget fails the insert.
type MemoryAcquirer interface {
	TryAcquireMemory(amount int64) error
	ReleaseMemory(amount int64)
}

// Config configures an in-process engine.
type Config struct {
	Metric    metric.Metric
	Dimension int
	Precision precision.Precision

	// Logger receives engine warnings; nil discards them.
	Logger *slog.Logger
	// Memory is charged for vector storage; nil means untracked.
	Memory MemoryAcquirer
	// Allocator backs codec buffers; nil means buffer.DefaultAllocator.
	Allocator *buffer.Allocator
	// Parallelism bounds snapshot transcoding; 0 means GOMAXPROCS.
	Parallelism int
	// ChunkSize is the vector storage chunk size in bytes.
	ChunkSize int
}

// InProcess is an Engine backed by an HNSW graph or an exhaustive scan over
// off-heap vector storage. It is safe for concurrent use: mutations are
// serialized, reads run in parallel.
type InProcess struct {
	cfg       Config
	logger    *slog.Logger
	codec     *codec.Codec
	dist      metric.Func
	normalize bool

	mu          sync.RWMutex
	destroyed   bool
	algorithm   Algorithm
	maxElements int
	exhaustive  bool
	ef          int
	store       *arena.Arena
	graph       *hnsw.HNSW
	labels      []uint64
	lookup      map[uint64]uint32
	present     *roaring64.Bitmap
}

var _ Engine = (*InProcess)(nil)

// New creates an engine with no algorithm installed.
func New(cfg Config) (*InProcess, error) {
	if !cfg.Metric.Valid() {
		return nil, opError("create", fmt.Errorf("%w: %v", metric.ErrUnknownMetric, cfg.Metric))
	}
	if cfg.Metric == metric.Kendall && cfg.Precision != precision.Float32 {
		return nil, opError("create", fmt.Errorf("%w: %s with %s", ErrUnsupportedPrecision, cfg.Metric, cfg.Precision))
	}

	c, err := codec.New(cfg.Dimension, cfg.Precision, codec.WithAllocator(cfg.Allocator))
	if err != nil {
		return nil, opError("create", err)
	}
	dist, err := metric.Provider(cfg.Metric)
	if err != nil {
		return nil, opError("create", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &InProcess{
		cfg:       cfg,
		logger:    logger.With("component", "engine"),
		codec:     c,
		dist:      dist,
		normalize: cfg.Metric.Normalizes(),
		ef:        hnsw.DefaultEF,
		lookup:    make(map[uint64]uint32),
		present:   roaring64.New(),
	}, nil
}

func (e *InProcess) Dimension() int                 { return e.cfg.Dimension }
func (e *InProcess) Metric() metric.Metric          { return e.cfg.Metric }
func (e *InProcess) Precision() precision.Precision { return e.cfg.Precision }
func (e *InProcess) Codec() *codec.Codec            { return e.codec }

// Algorithm returns the installed algorithm.
func (e *InProcess) Algorithm() Algorithm {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.algorithm
}

// storedVectors decodes vectors out of the engine's storage.
type storedVectors struct {
	e *InProcess
}

func (v storedVectors) Vector(id uint32, dst []float32) []float32 {
	dst = dst[:v.e.cfg.Dimension]
	// stored codes always decode: they were produced by this codec
	_ = v.e.codec.DecodeSlice(dst, v.e.store.Slot(int(id)))
	return dst
}

func (e *InProcess) newArena() (*arena.Arena, error) {
	opts := []arena.Option{arena.WithChunkSize(e.cfg.ChunkSize)}
	if e.cfg.Memory != nil {
		opts = append(opts, arena.WithMemoryAcquirer(e.cfg.Memory))
	}
	return arena.New(e.codec.EncodedSize(), opts...)
}

func (e *InProcess) checkLive() error {
	if e.destroyed {
		return ErrDestroyed
	}
	return nil
}

// install replaces the algorithm and storage. Callers hold e.mu.
func (e *InProcess) install(a Algorithm, store *arena.Arena, graph *hnsw.HNSW, maxElements int) {
	if e.algorithm != AlgorithmNone {
		e.logger.Warn("replacing initialized algorithm; previous items are dropped",
			"old", e.algorithm.String(), "new", a.String(), "items", len(e.labels))
	}
	if e.store != nil {
		_ = e.store.Close()
	}
	e.algorithm = a
	e.store = store
	e.graph = graph
	e.maxElements = maxElements
	e.labels = nil
	e.lookup = make(map[uint64]uint32)
	e.present = roaring64.New()
}

// InitGraph installs an empty HNSW graph.
func (e *InProcess) InitGraph(p GraphParams) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkLive(); err != nil {
		return opError("init_graph", err)
	}
	if p.MaxElements < 0 || p.M < 0 || p.EFConstruction < 0 {
		return opError("init_graph", fmt.Errorf("invalid graph parameters %+v", p))
	}

	store, err := e.newArena()
	if err != nil {
		return opError("init_graph", err)
	}
	graph, err := hnsw.New(storedVectors{e}, func(o *hnsw.Options) {
		o.Dimension = e.cfg.Dimension
		o.Metric = e.cfg.Metric
		o.MaxElements = p.MaxElements
		o.RandomSeed = p.RandomSeed
		o.EF = e.ef
		if p.M > 0 {
			o.M = p.M
		}
		if p.EFConstruction > 0 {
			o.EFConstruction = p.EFConstruction
		}
	})
	if err != nil {
		_ = store.Close()
		return opError("init_graph", err)
	}

	e.install(AlgorithmGraph, store, graph, p.MaxElements)
	return nil
}

// InitBruteforce installs an empty exhaustive index. maxElements 0 means
// unbounded.
func (e *InProcess) InitBruteforce(maxElements int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkLive(); err != nil {
		return opError("init_bruteforce", err)
	}
	if maxElements < 0 {
		return opError("init_bruteforce", fmt.Errorf("invalid capacity %d", maxElements))
	}

	store, err := e.newArena()
	if err != nil {
		return opError("init_bruteforce", err)
	}
	e.install(AlgorithmBruteforce, store, nil, maxElements)
	return nil
}

// EnableBruteforceSearch allows Search with bruteforce=true on a graph.
func (e *InProcess) EnableBruteforceSearch() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkLive(); err != nil {
		return opError("enable_bruteforce", err)
	}
	e.exhaustive = true
	return nil
}

// SetEF sets the graph search breadth. It is recorded but has no effect on
// exhaustive indexes.
func (e *InProcess) SetEF(ef int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkLive(); err != nil {
		return opError("set_ef", err)
	}
	if ef <= 0 {
		return opError("set_ef", fmt.Errorf("invalid ef %d", ef))
	}
	e.ef = ef
	if e.graph != nil {
		e.graph.SetEF(ef)
	}
	return nil
}

// prepare validates v and returns the vector the engine stores or queries
// with: a normalized copy for cosine, v itself otherwise.
func (e *InProcess) prepare(v []float32) ([]float32, error) {
	if len(v) != e.cfg.Dimension {
		return nil, &codec.ErrDimensionMismatch{Expected: e.cfg.Dimension, Actual: len(v)}
	}
	if !e.normalize {
		return v, nil
	}
	out := make([]float32, len(v))
	metric.NormalizeL2(out, v)
	return out, nil
}

// AddItem stores vector under label.
func (e *InProcess) AddItem(vector []float32, label uint64) error {
	v, err := e.prepare(vector)
	if err != nil {
		return opError("add_item", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkLive(); err != nil {
		return opError("add_item", err)
	}
	switch {
	case e.algorithm == AlgorithmNone:
		return opError("add_item", ErrNotInitialized)
	case e.present.Contains(label):
		return opError("add_item", fmt.Errorf("%w: %d", ErrDuplicateLabel, label))
	case e.maxElements > 0 && len(e.labels) >= e.maxElements:
		return opError("add_item", fmt.Errorf("%w: %d items", ErrCapacityExceeded, e.maxElements))
	case e.codec.NeedsTraining():
		return opError("add_item", precision.ErrNotTrained)
	}

	code := make([]byte, e.codec.EncodedSize())
	if err := e.codec.EncodeSlice(code, v); err != nil {
		return opError("add_item", err)
	}
	idx, slot, err := e.store.Alloc(context.Background())
	if err != nil {
		return opError("add_item", err)
	}
	copy(slot, code)

	id := uint32(idx)
	if e.graph != nil {
		if err := e.graph.Insert(id, v); err != nil {
			return opError("add_item", err)
		}
	}

	e.labels = append(e.labels, label)
	e.lookup[label] = id
	e.present.Add(label)
	return nil
}

// Count returns the number of stored items.
func (e *InProcess) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.labels)
}

// Labels returns all labels in ascending order.
func (e *InProcess) Labels() []uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.present.ToArray()
}

// Contains reports whether label is stored.
func (e *InProcess) Contains(label uint64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.present.Contains(label)
}

// wrapSlot pins storage and hands slot idx out as a wrapped buffer.
// Callers hold e.mu.
func (e *InProcess) wrapSlot(idx uint32) (*buffer.Buffer[byte], error) {
	store := e.store
	if err := store.Pin(); err != nil {
		return nil, err
	}
	return buffer.Wrap[byte](store.Slot(int(idx)), store.Unpin), nil
}

// Item returns the stored encoded vector of label.
func (e *InProcess) Item(label uint64) (*buffer.Buffer[byte], bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkLive(); err != nil {
		return nil, false, opError("get_item", err)
	}
	idx, ok := e.lookup[label]
	if !ok {
		return nil, false, nil
	}
	b, err := e.wrapSlot(idx)
	if err != nil {
		return nil, false, opError("get_item", err)
	}
	return b, true, nil
}

// Search runs a k-NN query where k is len(labels).
func (e *InProcess) Search(query []float32, labels []uint64, distances []float32, items []*buffer.Buffer[byte], bruteforce bool) (int, error) {
	if len(distances) != len(labels) || len(items) != len(labels) {
		return 0, opError("search", fmt.Errorf("result slices differ in length: %d/%d/%d", len(labels), len(distances), len(items)))
	}
	q, err := e.prepare(query)
	if err != nil {
		return 0, opError("search", err)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkLive(); err != nil {
		return 0, opError("search", err)
	}
	if e.algorithm == AlgorithmNone {
		return 0, opError("search", ErrNotInitialized)
	}
	if bruteforce && e.algorithm == AlgorithmGraph && !e.exhaustive {
		return 0, opError("search", ErrBruteforceDisabled)
	}

	s := searcher.Get()
	defer searcher.Put(s)

	k := len(labels)
	var res []searcher.PriorityQueueItem
	if e.algorithm == AlgorithmBruteforce || bruteforce {
		res = flat.Scan(s, storedVectors{e}, len(e.labels), e.dist, q, k, nil)
	} else {
		res = e.graph.Search(s, q, k)
	}

	for i, r := range res {
		b, err := e.wrapSlot(r.Node)
		if err != nil {
			for _, prev := range items[:i] {
				_ = prev.Release()
			}
			clear(items[:i])
			return 0, opError("search", err)
		}
		labels[i] = e.labels[r.Node]
		distances[i] = r.Distance
		items[i] = b
	}
	return len(res), nil
}

// DistanceBetweenLabels evaluates the metric on two stored items.
func (e *InProcess) DistanceBetweenLabels(a, b uint64) (float32, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkLive(); err != nil {
		return 0, opError("distance_labels", err)
	}
	ia, okA := e.lookup[a]
	ib, okB := e.lookup[b]
	if !okA || !okB {
		missing := a
		if okA {
			missing = b
		}
		return 0, opError("distance_labels", fmt.Errorf("%w: %d", ErrUnknownLabel, missing))
	}

	dim := e.cfg.Dimension
	scratch := make([]float32, 2*dim)
	va := storedVectors{e}.Vector(ia, scratch[:dim])
	vb := storedVectors{e}.Vector(ib, scratch[dim:])
	return e.dist(va, vb), nil
}

// DistanceBetweenVectors evaluates the metric on two canonical vectors,
// normalizing them first for cosine.
func (e *InProcess) DistanceBetweenVectors(a, b []float32) (float32, error) {
	va, err := e.prepare(a)
	if err != nil {
		return 0, opError("distance_vectors", err)
	}
	vb, err := e.prepare(b)
	if err != nil {
		return 0, opError("distance_vectors", err)
	}
	return e.dist(va, vb), nil
}

// Encode encodes a canonical vector into the storage precision.
func (e *InProcess) Encode(dst []byte, src []float32) error {
	return opError("encode", e.codec.EncodeSlice(dst, src))
}

// Decode decodes a stored vector into canonical float32.
func (e *InProcess) Decode(dst []float32, src []byte) error {
	return opError("decode", e.codec.DecodeSlice(dst, src))
}

// NeedsTraining reports whether Float8 parameters are still missing.
func (e *InProcess) NeedsTraining() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.destroyed && e.codec.NeedsTraining()
}

// Train derives Float8 parameters from vectors. It must run before the
// first item is added.
func (e *InProcess) Train(vectors [][]float32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkLive(); err != nil {
		return opError("train", err)
	}
	if len(e.labels) > 0 {
		return opError("train", ErrPopulated)
	}

	if e.normalize {
		normalized := make([][]float32, len(vectors))
		for i, v := range vectors {
			nv, err := e.prepare(v)
			if err != nil {
				return opError("train", err)
			}
			normalized[i] = nv
		}
		vectors = normalized
	}
	return opError("train", e.codec.Train(vectors))
}

// Save writes a snapshot of the engine to w.
func (e *InProcess) Save(w io.Writer, compression persistence.Compression) (int64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkLive(); err != nil {
		return 0, opError("save", err)
	}
	if e.algorithm == AlgorithmNone {
		return 0, opError("save", ErrNotInitialized)
	}

	size := e.codec.EncodedSize()
	vectors := make([]byte, len(e.labels)*size)
	for i := range e.labels {
		copy(vectors[i*size:], e.store.Slot(i))
	}

	snap := &persistence.Snapshot{
		Header: persistence.Header{
			Algorithm:        e.algorithm.snapshot(),
			Compression:      compression,
			Metric:           e.cfg.Metric,
			Precision:        e.cfg.Precision,
			Dimension:        e.cfg.Dimension,
			Count:            len(e.labels),
			MaxElements:      e.maxElements,
			SearchBreadth:    e.ef,
			BruteforceSearch: e.exhaustive,
		},
		Params:  e.codec.Params(),
		Labels:  e.labels,
		Vectors: vectors,
	}
	if e.graph != nil {
		var topo bytes.Buffer
		if _, err := e.graph.WriteTo(&topo); err != nil {
			return 0, opError("save", err)
		}
		snap.Graph = topo.Bytes()
	}

	n, err := persistence.Write(w, snap)
	return n, opError("save", err)
}

// Load replaces the engine's content with the snapshot read from r.
// Vectors stored at another precision are decoded and re-encoded; a Float8
// engine without parameters is trained on the loaded vectors.
func (e *InProcess) Load(ctx context.Context, r io.Reader, want Algorithm) error {
	snap, err := persistence.Read(r)
	if err != nil {
		return opError("load", err)
	}

	switch {
	case snap.Dimension != e.cfg.Dimension:
		return opError("load", fmt.Errorf("%w: dimension %d, engine has %d", ErrIncompatible, snap.Dimension, e.cfg.Dimension))
	case snap.Metric != e.cfg.Metric:
		return opError("load", fmt.Errorf("%w: metric %s, engine has %s", ErrIncompatible, snap.Metric, e.cfg.Metric))
	case want != AlgorithmNone && algorithmOf(snap.Algorithm) != want:
		return opError("load", fmt.Errorf("%w: snapshot holds %s, want %s", ErrAlgorithmMismatch, snap.Algorithm, want))
	}

	data, params, err := e.reencode(ctx, snap)
	if err != nil {
		return opError("load", err)
	}
	if params != nil && params.Dimension() != e.cfg.Dimension {
		return opError("load", fmt.Errorf("%w: parameters for dimension %d, engine has %d", ErrIncompatible, params.Dimension(), e.cfg.Dimension))
	}

	store, err := e.newArena()
	if err != nil {
		return opError("load", err)
	}
	size := e.codec.EncodedSize()
	for i := 0; i < snap.Count; i++ {
		_, slot, err := store.Alloc(ctx)
		if err != nil {
			_ = store.Close()
			return opError("load", err)
		}
		copy(slot, data[i*size:(i+1)*size])
	}

	lookup := make(map[uint64]uint32, snap.Count)
	present := roaring64.New()
	for i, l := range snap.Labels {
		if _, dup := lookup[l]; dup {
			_ = store.Close()
			return opError("load", fmt.Errorf("%w: duplicate label %d", persistence.ErrCorrupt, l))
		}
		lookup[l] = uint32(i)
		present.Add(l)
	}

	var graph *hnsw.HNSW
	if snap.Algorithm == persistence.AlgorithmGraph {
		graph, err = hnsw.New(storedVectors{e}, func(o *hnsw.Options) {
			o.Dimension = e.cfg.Dimension
			o.Metric = e.cfg.Metric
		})
		if err == nil {
			_, err = graph.ReadFrom(bytes.NewReader(snap.Graph))
		}
		if err == nil && graph.Len() != snap.Count {
			err = fmt.Errorf("%w: graph has %d nodes for %d items", persistence.ErrCorrupt, graph.Len(), snap.Count)
		}
		if err != nil {
			_ = store.Close()
			return opError("load", err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkLive(); err != nil {
		_ = store.Close()
		return opError("load", err)
	}

	e.install(algorithmOf(snap.Algorithm), store, graph, snap.MaxElements)
	e.labels = snap.Labels
	e.lookup = lookup
	e.present = present
	e.exhaustive = snap.BruteforceSearch
	if snap.SearchBreadth > 0 {
		e.ef = snap.SearchBreadth
	}
	if graph != nil {
		graph.SetEF(e.ef)
	}
	if params != nil {
		// dimension checked above
		_ = e.codec.SetParams(params)
	}

	attrs := []any{
		"items", snap.Count, "algorithm", snap.Algorithm.String(),
		"stored_precision", snap.Precision.String(), "precision", e.cfg.Precision.String(),
	}
	if graph != nil {
		st := graph.Stats()
		attrs = append(attrs, "max_level", st.MaxLevel, "edges", st.Edges)
	}
	e.logger.Debug("snapshot loaded", attrs...)
	return nil
}

// reencode returns the snapshot's vectors in the engine's precision and
// the Float8 parameters to install, if any.
func (e *InProcess) reencode(ctx context.Context, snap *persistence.Snapshot) ([]byte, *precision.Params, error) {
	if snap.Precision == e.cfg.Precision {
		if e.cfg.Precision.NeedsTraining() {
			return snap.Vectors, snap.Params, nil
		}
		return snap.Vectors, nil, nil
	}

	src, err := codec.New(e.cfg.Dimension, snap.Precision, codec.WithParams(snap.Params))
	if err != nil {
		return nil, nil, err
	}
	dst, err := codec.New(e.cfg.Dimension, e.cfg.Precision, codec.WithParams(e.codec.Params()))
	if err != nil {
		return nil, nil, err
	}

	data, err := persistence.Transcode(ctx, src, dst, snap.Vectors, snap.Count, e.cfg.Parallelism)
	if err != nil {
		return nil, nil, err
	}
	return data, dst.Params(), nil
}

// Destroy frees storage. Buffers still held by callers stay valid until
// released.
func (e *InProcess) Destroy() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkLive(); err != nil {
		return opError("destroy", err)
	}
	e.destroyed = true

	var err error
	if e.store != nil {
		err = e.store.Close()
	}
	e.store = nil
	e.graph = nil
	e.labels = nil
	e.lookup = nil
	e.present = roaring64.New()
	return opError("destroy", err)
}
