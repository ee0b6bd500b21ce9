package hnswbridge

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/hnswbridge/blobstore"
	"github.com/hupe1980/hnswbridge/buffer"
	"github.com/hupe1980/hnswbridge/codec"
	"github.com/hupe1980/hnswbridge/metric"
	"github.com/hupe1980/hnswbridge/native"
	"github.com/hupe1980/hnswbridge/persistence"
	"github.com/hupe1980/hnswbridge/precision"
	"github.com/hupe1980/hnswbridge/resource"
)

// Mode selects the search structure an index is built with.
type Mode uint8

const (
	// ModeGraph builds an HNSW graph.
	ModeGraph Mode = iota
	// ModeBruteforce scans every item on each query.
	ModeBruteforce
)

func (m Mode) String() string {
	switch m {
	case ModeGraph:
		return "graph"
	case ModeBruteforce:
		return "bruteforce"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

func (m Mode) algorithm() native.Algorithm {
	if m == ModeBruteforce {
		return native.AlgorithmBruteforce
	}
	return native.AlgorithmGraph
}

// GraphParams are the HNSW construction parameters. Zero values select
// the engine defaults; MaxElements 0 means unbounded.
type GraphParams = native.GraphParams

type lifecycle uint8

const (
	stateCreated lifecycle = iota
	stateInitialized
	stateDestroyed
)

func (s lifecycle) String() string {
	switch s {
	case stateCreated:
		return "created"
	case stateInitialized:
		return "initialized"
	default:
		return "destroyed"
	}
}

// Index is a vector index in front of an ANN engine.
//
// Read operations (GetItem, Distance, Search) may run concurrently with each
// other. Mutations (init, AddItem, Train, Load, SetSearchBreadth, Unload)
// are serialized against everything else.
type Index struct {
	metric    metric.Metric
	dimension int
	precision precision.Precision
	mode      Mode

	engine  native.Engine
	opts    options
	logger  *Logger
	metrics MetricsCollector

	mu    sync.RWMutex
	state lifecycle
}

// New creates an index. It must be initialized with InitGraph or
// InitBruteforce (matching mode) or filled with Load before it accepts items.
func New(m metric.Metric, dimension int, p precision.Precision, mode Mode, optFns ...Option) (*Index, error) {
	opts := applyOptions(optFns)
	return newIndex(m, dimension, p, mode, opts)
}

func newIndex(m metric.Metric, dimension int, p precision.Precision, mode Mode, opts options) (*Index, error) {
	switch {
	case !m.Valid():
		return nil, &ErrUnsupportedConfiguration{Field: "metric", Value: m, cause: metric.ErrUnknownMetric}
	case !p.Valid():
		return nil, &ErrUnsupportedConfiguration{Field: "precision", Value: p, cause: precision.ErrUnknownPrecision}
	case mode != ModeGraph && mode != ModeBruteforce:
		return nil, &ErrUnsupportedConfiguration{Field: "mode", Value: mode}
	case dimension <= 0:
		return nil, &ErrUnsupportedConfiguration{Field: "dimension", Value: dimension, cause: codec.ErrInvalidDimension}
	}

	cfg := native.Config{
		Metric:    m,
		Dimension: dimension,
		Precision: p,
		Logger:    opts.logger.Logger,
		Allocator: opts.allocator,
		ChunkSize: opts.chunkSize,
	}
	if opts.rc != nil {
		cfg.Memory = opts.rc
		cfg.Parallelism = opts.rc.Parallelism()
	}

	eng, err := native.New(cfg)
	if err != nil {
		return nil, translateError(err)
	}
	if opts.ef > 0 {
		if err := eng.SetEF(opts.ef); err != nil {
			_ = eng.Destroy()
			return nil, translateError(err)
		}
	}

	return &Index{
		metric:    m,
		dimension: dimension,
		precision: p,
		mode:      mode,
		engine:    eng,
		opts:      opts,
		logger:    opts.logger.WithDimension(dimension),
		metrics:   opts.metricsCollector,
	}, nil
}

// Metric returns the configured metric.
func (idx *Index) Metric() metric.Metric { return idx.metric }

// Dimension returns the vector dimension.
func (idx *Index) Dimension() int { return idx.dimension }

// Precision returns the storage precision.
func (idx *Index) Precision() precision.Precision { return idx.precision }

// Mode returns the index mode.
func (idx *Index) Mode() Mode { return idx.mode }

// Codec returns the codec items are stored with. Use it with a
// codec.DecodeContext to decode GetItem and Search results without
// allocating.
func (idx *Index) Codec() *codec.Codec { return idx.engine.Codec() }

// checkReady reports whether items may be added or queried. Callers hold mu.
func (idx *Index) checkReady(op string) error {
	switch idx.state {
	case stateInitialized:
		return nil
	case stateDestroyed:
		return invalidState("%s: index unloaded", op)
	default:
		return invalidState("%s: index not initialized", op)
	}
}

// checkInit reports whether the index may be initialized. Callers hold mu.
func (idx *Index) checkInit(op string, want Mode) error {
	switch {
	case idx.state == stateDestroyed:
		return invalidState("%s: index unloaded", op)
	case idx.state == stateInitialized:
		return invalidState("%s: index already initialized", op)
	case idx.mode != want:
		return &ErrUnsupportedConfiguration{Field: "mode", Value: idx.mode}
	}
	return nil
}

// InitGraph initializes an empty HNSW graph. The index must have been
// created with ModeGraph and not yet initialized.
func (idx *Index) InitGraph(p GraphParams) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if err := idx.checkInit("init graph", ModeGraph); err != nil {
		return err
	}
	if err := idx.engine.InitGraph(p); err != nil {
		return translateError(err)
	}
	idx.state = stateInitialized
	idx.logger.Debug("graph initialized",
		"max_elements", p.MaxElements,
		"m", p.M,
		"ef_construction", p.EFConstruction,
	)
	return nil
}

// InitBruteforce initializes an empty exhaustive index. maxElements 0 means
// unbounded.
func (idx *Index) InitBruteforce(maxElements int) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if err := idx.checkInit("init bruteforce", ModeBruteforce); err != nil {
		return err
	}
	if err := idx.engine.InitBruteforce(maxElements); err != nil {
		return translateError(err)
	}
	idx.state = stateInitialized
	idx.logger.Debug("bruteforce initialized", "max_elements", maxElements)
	return nil
}

// EnableBruteforceSearch allows WithBruteforce searches on a graph index.
// Bruteforce indexes always scan exhaustively.
func (idx *Index) EnableBruteforceSearch() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.state == stateDestroyed {
		return invalidState("enable bruteforce search: index unloaded")
	}
	return translateError(idx.engine.EnableBruteforceSearch())
}

// SetSearchBreadth sets the graph search candidate list size (ef). It is
// ignored for bruteforce indexes.
func (idx *Index) SetSearchBreadth(ef int) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.state == stateDestroyed {
		return invalidState("set search breadth: index unloaded")
	}
	if idx.mode == ModeBruteforce {
		idx.logger.Debug("search breadth ignored for bruteforce index", "ef", ef)
		return nil
	}
	return translateError(idx.engine.SetEF(ef))
}

// floats returns the valid elements of b, without copying when the buffer
// memory allows a typed view.
func floats(b *buffer.Buffer[float32]) ([]float32, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: nil buffer", ErrOutOfBounds)
	}
	elems, err := b.Elems()
	switch {
	case err == nil:
		return elems[:b.Len()], nil
	case errors.Is(err, buffer.ErrMisaligned):
		return b.ToSlice()
	default:
		return nil, err
	}
}

// AddItem stores vector under the caller-assigned id. Adding an id that is
// already present fails.
func (idx *Index) AddItem(vector *buffer.Buffer[float32], id uint64) error {
	start := time.Now()
	err := idx.addItem(vector, id)
	idx.metrics.RecordInsert(time.Since(start), err)
	idx.logger.LogInsert(context.Background(), id, err)
	return err
}

func (idx *Index) addItem(vector *buffer.Buffer[float32], id uint64) error {
	vals, err := floats(vector)
	if err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if err := idx.checkReady("add item"); err != nil {
		return err
	}
	return translateError(idx.engine.AddItem(vals, id))
}

// AddItems stores vectors[i] under ids[i] in order. Inputs are validated
// up front, in parallel; a failing insert stops the batch and the number
// of items stored before it is returned.
func (idx *Index) AddItems(ctx context.Context, vectors []*buffer.Buffer[float32], ids []uint64) (int, error) {
	start := time.Now()
	inserted, err := idx.addItems(ctx, vectors, ids)
	idx.metrics.RecordBatchInsert(len(vectors), len(vectors)-inserted, time.Since(start))
	idx.logger.LogBatchInsert(ctx, len(vectors), inserted, err)
	return inserted, err
}

func (idx *Index) addItems(ctx context.Context, vectors []*buffer.Buffer[float32], ids []uint64) (int, error) {
	if len(vectors) != len(ids) {
		return 0, fmt.Errorf("%w: %d vectors, %d ids", ErrOutOfBounds, len(vectors), len(ids))
	}

	vals := make([][]float32, len(vectors))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.opts.rc.Parallelism())
	for i, v := range vectors {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			f, err := floats(v)
			if err != nil {
				return fmt.Errorf("item %d: %w", ids[i], err)
			}
			if len(f) != idx.dimension {
				return &ErrDimensionMismatch{Expected: idx.dimension, Actual: len(f)}
			}
			vals[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if err := idx.checkReady("add items"); err != nil {
		return 0, err
	}
	for i, v := range vals {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := idx.engine.AddItem(v, ids[i]); err != nil {
			return i, translateError(err)
		}
	}
	return len(vals), nil
}

// Count returns the number of stored items.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.state == stateDestroyed {
		return 0
	}
	return idx.engine.Count()
}

// Labels returns the ids of all stored items in ascending order.
func (idx *Index) Labels() ([]uint64, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if err := idx.checkReady("labels"); err != nil {
		return nil, err
	}
	return idx.engine.Labels(), nil
}

// GetItem returns the stored, encoded vector of id without copying. ok is
// false if id is not present. The buffer must be released and stays valid
// after Unload until then.
func (idx *Index) GetItem(id uint64) (*buffer.Buffer[byte], bool, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if err := idx.checkReady("get item"); err != nil {
		return nil, false, err
	}
	b, ok, err := idx.engine.Item(id)
	if err != nil {
		return nil, false, translateError(err)
	}
	return b, ok, nil
}

// GetItemDecoded returns an owned float32 copy of id's stored vector.
func (idx *Index) GetItemDecoded(id uint64) (*buffer.Buffer[float32], bool, error) {
	raw, ok, err := idx.GetItem(id)
	if err != nil || !ok {
		return nil, ok, err
	}
	defer func() { _ = raw.Release() }()

	out, err := idx.engine.Codec().DecodeOwned(raw)
	if err != nil {
		return nil, false, translateError(err)
	}
	return out, true, nil
}

// SearchOption configures a single search.
type SearchOption func(*searchOptions)

type searchOptions struct {
	bruteforce bool
}

// WithBruteforce forces an exhaustive scan. On a graph index this requires
// EnableBruteforceSearch.
func WithBruteforce() SearchOption {
	return func(o *searchOptions) {
		o.bruteforce = true
	}
}

// Search returns up to k nearest items to query in ascending distance
// order. If the index holds fewer than k items, all of them are returned.
// The result owns its vector buffers and must be released.
func (idx *Index) Search(query *buffer.Buffer[float32], k int, optFns ...SearchOption) (*Result[byte], error) {
	var so searchOptions
	for _, fn := range optFns {
		fn(&so)
	}

	start := time.Now()
	res, err := idx.search(query, k, so)
	n := 0
	if res != nil {
		n = res.Len()
	}
	idx.metrics.RecordSearch(k, time.Since(start), err)
	idx.logger.LogSearch(context.Background(), k, n, so.bruteforce, err)
	return res, err
}

func (idx *Index) search(query *buffer.Buffer[float32], k int, so searchOptions) (*Result[byte], error) {
	if k <= 0 {
		return nil, ErrInvalidK
	}
	q, err := floats(query)
	if err != nil {
		return nil, err
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if err := idx.checkReady("search"); err != nil {
		return nil, err
	}

	k = min(k, idx.engine.Count())
	labels := make([]uint64, k)
	distances := make([]float32, k)
	items := make([]*buffer.Buffer[byte], k)

	n, err := idx.engine.Search(q, labels, distances, items, so.bruteforce)
	if err != nil {
		return nil, translateError(err)
	}
	return newResult(labels[:n], distances[:n], items[:n]), nil
}

// SearchDecoded is Search with every result vector decoded into an owned
// float32 buffer.
func (idx *Index) SearchDecoded(query *buffer.Buffer[float32], k int, optFns ...SearchOption) (*Result[float32], error) {
	raw, err := idx.Search(query, k, optFns...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = raw.Release() }()

	c := idx.engine.Codec()
	decoded := make([]*buffer.Buffer[float32], raw.Len())
	for i, item := range raw.vectors {
		v, err := c.DecodeOwned(item)
		if err != nil {
			for _, prev := range decoded[:i] {
				_ = prev.Release()
			}
			return nil, translateError(err)
		}
		decoded[i] = v
	}
	return newResult(raw.labels, raw.distances, decoded), nil
}

// Distance evaluates the index metric on two vectors. Cosine normalizes
// both first, so the value agrees with Search and DistanceBetween rather
// than with the cosine space function applied to the raw inputs. Pass
// unit-length vectors to get the same number either way.
func (idx *Index) Distance(a, b *buffer.Buffer[float32]) (float32, error) {
	va, err := floats(a)
	if err != nil {
		return 0, err
	}
	vb, err := floats(b)
	if err != nil {
		return 0, err
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.state == stateDestroyed {
		return 0, invalidState("distance: index unloaded")
	}
	d, err := idx.engine.DistanceBetweenVectors(va, vb)
	return d, translateError(err)
}

// DistanceBetween evaluates the index metric on two stored items.
func (idx *Index) DistanceBetween(id1, id2 uint64) (float32, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if err := idx.checkReady("distance between"); err != nil {
		return 0, err
	}
	d, err := idx.engine.DistanceBetweenLabels(id1, id2)
	return d, translateError(err)
}

// NeedsTraining reports whether Train must run before items can be added.
// An unloaded index reports false: it can no longer be trained.
func (idx *Index) NeedsTraining() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.state == stateDestroyed {
		return false
	}
	return idx.engine.NeedsTraining()
}

// Train fits the Float8 quantization range to vectors. It must run before
// the first item is added; other precisions ignore it.
func (idx *Index) Train(vectors [][]float32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.state == stateDestroyed {
		return invalidState("train: index unloaded")
	}
	if err := idx.engine.Train(vectors); err != nil {
		return translateError(err)
	}
	idx.logger.WithCount(len(vectors)).Debug("codec trained", "precision", idx.precision.String())
	return nil
}

// Save writes a snapshot of the index to store under name. The blob only
// becomes visible once the snapshot is complete.
func (idx *Index) Save(ctx context.Context, store blobstore.BlobStore, name string) error {
	start := time.Now()
	n, err := idx.save(ctx, store, name)
	idx.metrics.RecordSave(n, time.Since(start), err)
	idx.logger.LogSave(ctx, name, n, err)
	return err
}

func (idx *Index) save(ctx context.Context, store blobstore.BlobStore, name string) (int64, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if err := idx.checkReady("save"); err != nil {
		return 0, err
	}

	w, err := store.Create(ctx, name)
	if err != nil {
		return 0, err
	}
	n, err := idx.engine.Save(resource.NewRateLimitedWriter(ctx, w, idx.opts.rc), idx.opts.compression)
	if err != nil {
		abort(w)
		return 0, translateError(err)
	}
	if err := w.Sync(); err != nil {
		abort(w)
		return 0, err
	}
	if err := w.Close(); err != nil {
		return 0, err
	}
	return n, nil
}

func abort(w blobstore.WritableBlob) {
	if a, ok := w.(blobstore.Aborter); ok {
		_ = a.Abort()
	}
}

// Load replaces the index content with the snapshot name from store. The
// snapshot must match the index metric, dimension and mode; vectors saved
// at another precision are re-encoded.
func (idx *Index) Load(ctx context.Context, store blobstore.BlobStore, name string) error {
	start := time.Now()
	n, err := idx.load(ctx, store, name)
	idx.metrics.RecordLoad(n, time.Since(start), err)
	idx.logger.LogLoad(ctx, name, n, err)
	return err
}

func (idx *Index) load(ctx context.Context, store blobstore.BlobStore, name string) (int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.state == stateDestroyed {
		return 0, invalidState("load: index unloaded")
	}

	b, err := store.Open(ctx, name)
	if err != nil {
		return 0, err
	}
	defer func() { _ = b.Close() }()

	r := resource.NewRateLimitedReader(ctx, blobstore.NewReader(ctx, b), idx.opts.rc)
	if err := idx.engine.Load(ctx, r, idx.mode.algorithm()); err != nil {
		return 0, translateError(err)
	}
	idx.state = stateInitialized
	return idx.engine.Count(), nil
}

// Open creates an index configured from the snapshot name in store and
// loads it. Metric, dimension and mode come from the snapshot; p may differ
// from the saved precision.
func Open(ctx context.Context, store blobstore.BlobStore, name string, p precision.Precision, optFns ...Option) (*Index, error) {
	h, err := readHeader(ctx, store, name)
	if err != nil {
		return nil, err
	}

	mode := ModeGraph
	if h.Algorithm == persistence.AlgorithmBruteforce {
		mode = ModeBruteforce
	}

	idx, err := New(h.Metric, h.Dimension, p, mode, optFns...)
	if err != nil {
		return nil, err
	}
	if err := idx.Load(ctx, store, name); err != nil {
		_ = idx.engine.Destroy()
		return nil, err
	}
	return idx, nil
}

func readHeader(ctx context.Context, store blobstore.BlobStore, name string) (persistence.Header, error) {
	b, err := store.Open(ctx, name)
	if err != nil {
		return persistence.Header{}, err
	}
	defer func() { _ = b.Close() }()

	rc, err := b.ReadRange(ctx, 0, persistence.HeaderSize)
	if err != nil {
		return persistence.Header{}, err
	}
	defer func() { _ = rc.Close() }()

	return persistence.ReadHeader(rc)
}

// SaveFile writes a snapshot to path on the local filesystem.
func (idx *Index) SaveFile(ctx context.Context, path string) error {
	return idx.Save(ctx, blobstore.NewLocalStore(filepath.Dir(path)), filepath.Base(path))
}

// LoadFile loads a snapshot from path on the local filesystem.
func (idx *Index) LoadFile(ctx context.Context, path string) error {
	return idx.Load(ctx, blobstore.NewLocalStore(filepath.Dir(path)), filepath.Base(path))
}

// Unload destroys the index. Buffers obtained from it stay valid until
// released. Calling Unload twice fails with ErrInvalidState.
func (idx *Index) Unload() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.state == stateDestroyed {
		return invalidState("unload: index already unloaded")
	}
	items := idx.engine.Count()
	err := translateError(idx.engine.Destroy())
	idx.state = stateDestroyed
	idx.logger.LogUnload(context.Background(), items, err)
	return err
}
