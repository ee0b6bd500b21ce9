package hnswbridge

import (
	"log/slog"

	"github.com/hupe1980/hnswbridge/buffer"
	"github.com/hupe1980/hnswbridge/persistence"
	"github.com/hupe1980/hnswbridge/resource"
)

type options struct {
	metricsCollector MetricsCollector
	logger           *Logger
	allocator        *buffer.Allocator
	compression      persistence.Compression
	rc               *resource.Controller
	ef               int
	chunkSize        int
}

// Option configures index construction and loading.
//
// Breaking changes are expected while hnswbridge is pre-release.
type Option func(*options)

// WithMetricsCollector sets a custom metrics collector for monitoring operations.
// If not set, a NoopMetricsCollector is used (zero overhead).
//
// Example:
//
//	metrics := &hnswbridge.BasicMetricsCollector{}
//	idx, err := hnswbridge.New(metric.Euclidean, 128, precision.Float32, hnswbridge.ModeGraph,
//	    hnswbridge.WithMetricsCollector(metrics))
//	// ... use index ...
//	stats := metrics.GetStats()
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger sets a structured logger for operational visibility.
// If not set, logging is disabled (zero overhead).
//
// Example:
//
//	logger := hnswbridge.NewJSONLogger(slog.LevelInfo)
//	idx, err := hnswbridge.New(metric.Cosine, 128, precision.Float16, hnswbridge.ModeGraph,
//	    hnswbridge.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel is a convenience option to create a text logger at the specified level.
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithAllocator sets the allocator result and decode buffers come from.
// Defaults to buffer.DefaultAllocator.
func WithAllocator(a *buffer.Allocator) Option {
	return func(o *options) {
		if a == nil {
			a = buffer.DefaultAllocator()
		}
		o.allocator = a
	}
}

// WithCompression sets the block compression Save uses.
// Defaults to persistence.CompressionLZ4.
func WithCompression(c persistence.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithResourceController bounds vector storage memory, snapshot I/O
// throughput and batch insert parallelism.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.rc = rc
	}
}

// WithSearchBreadth sets the initial graph search candidate list size (ef).
func WithSearchBreadth(ef int) Option {
	return func(o *options) {
		o.ef = ef
	}
}

// WithChunkSize sets the vector storage chunk size in bytes.
func WithChunkSize(n int) Option {
	return func(o *options) {
		o.chunkSize = n
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		allocator:        buffer.DefaultAllocator(),
		compression:      persistence.CompressionLZ4,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
