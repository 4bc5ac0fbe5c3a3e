// Package statestore is the public face of a history tree: it creates or
// opens a tree file, owns its node cache and tree manager, and adds
// checkpointing, metrics and tracing around the tree operations.
//
// A Store is created in the building state, accepts inserts in
// non-decreasing start order, and is closed once. Stores opened from disk
// answer queries only. Dispose releases the file on every path.
package statestore

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/Sumatoshi-tech/histree/pkg/filestore"
	"github.com/Sumatoshi-tech/histree/pkg/htnode"
	"github.com/Sumatoshi-tech/histree/pkg/htree"
	"github.com/Sumatoshi-tech/histree/pkg/nodecache"
	"github.com/Sumatoshi-tech/histree/pkg/observability"
)

// AnyAttribute matches every attribute in QueryRange.
const AnyAttribute = htree.AnyAttribute

// Error taxonomy of the store.
var (
	// ErrFormat marks a file of another kind or version. Discard and rebuild it.
	ErrFormat = filestore.ErrFormat

	// ErrCorruption marks a header or block violating its own bounds. Handle as ErrFormat.
	ErrCorruption = filestore.ErrCorrupt

	// ErrOrdering is returned when an insert starts before the tree end.
	ErrOrdering = htree.ErrOrdering

	// ErrOverflow is returned when one interval cannot fit in a node block.
	ErrOverflow = htree.ErrOverflow

	// ErrClosed is returned when a closed or opened store is asked to change.
	ErrClosed = htree.ErrClosed

	// ErrInvalidBranchStart is returned when the branch policy picks a start
	// outside [tree end, interval start].
	ErrInvalidBranchStart = htree.ErrInvalidBranchStart

	// ErrBroken is returned by mutations after a write to the file failed.
	ErrBroken = htree.ErrBroken

	// ErrCheckpoint is returned by Insert when the interval was stored but
	// the automatic checkpoint after it failed. Do not retry the insert.
	ErrCheckpoint = errors.New("interval stored, checkpoint failed")

	// ErrDisposed is returned by every operation after Dispose.
	ErrDisposed = errors.New("store is disposed")

	// ErrInvalidConfig is returned by Create for an unusable geometry.
	ErrInvalidConfig = errors.New("invalid store configuration")
)

// Params are the construction-time parameters of a new store.
type Params struct {
	TreeStart       int64
	BlockSize       int
	MaxChildren     int
	ProviderVersion uint32
}

// NodeConfig returns the node geometry described by p.
func (p Params) NodeConfig() htnode.Config {
	return htnode.Config{BlockSize: p.BlockSize, MaxChildren: p.MaxChildren}
}

// Option configures a Store.
type Option func(*options)

type options struct {
	logger          *slog.Logger
	meter           metric.Meter
	tracer          trace.Tracer
	policy          htree.BranchPolicy
	cache           nodecache.Options
	checkpointEvery int
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMeter records store and cache metrics on meter.
func WithMeter(meter metric.Meter) Option {
	return func(o *options) {
		if meter != nil {
			o.meter = meter
		}
	}
}

// WithTracer traces QueryRange and Close on tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithBranchPolicy sets where new branches start. Only building stores split.
func WithBranchPolicy(policy htree.BranchPolicy) Option {
	return func(o *options) {
		o.policy = policy
	}
}

// WithCacheNodes bounds the sealed node cache by node count.
func WithCacheNodes(n int) Option {
	return func(o *options) {
		o.cache.MaxNodes = n
	}
}

// WithCacheBytes bounds the sealed node cache by block bytes.
func WithCacheBytes(n int64) Option {
	return func(o *options) {
		o.cache.MaxBytes = n
	}
}

// WithCheckpointInterval checkpoints the open spine every n inserts. Zero disables it.
func WithCheckpointInterval(n int) Option {
	return func(o *options) {
		o.checkpointEvery = max(n, 0)
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger: slog.Default(),
		meter:  metricnoop.NewMeterProvider().Meter(observability.InstrumentationName),
		tracer: tracenoop.NewTracerProvider().Tracer(observability.InstrumentationName),
	}

	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// Store is an open history tree file.
type Store struct {
	file     *filestore.File
	cache    *nodecache.Cache
	tree     *htree.Tree
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *observability.StoreMetrics
	cacheReg metric.Registration

	checkpointEvery int
	sinceCheckpoint int

	disposed atomic.Bool
}

// Create creates (or truncates) the tree file at path and returns a store
// in the building state whose tree starts at params.TreeStart.
func Create(path string, params Params, opts ...Option) (*Store, error) {
	err := params.NodeConfig().Validate()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	o := buildOptions(opts)

	header := filestore.Header{
		StoreID:         uuid.New(),
		FormatVersion:   filestore.FormatVersion,
		ProviderVersion: params.ProviderVersion,
		BlockSize:       params.BlockSize,
		MaxChildren:     params.MaxChildren,
		NodeCount:       1,
		TreeStart:       params.TreeStart,
		TreeEnd:         params.TreeStart,
	}

	file, err := filestore.Create(path, header)
	if err != nil {
		return nil, err
	}

	s, err := newStore(file, o)
	if err != nil {
		return nil, errors.Join(err, file.Close())
	}

	treeOpts := []htree.Option{
		htree.WithLogger(o.logger),
		htree.WithBranchPolicy(o.policy),
		htree.WithOnSplit(s.recordSplit),
	}

	s.tree, err = htree.Create(s.cache, file, header, treeOpts...)
	if err != nil {
		return nil, errors.Join(err, s.release())
	}

	o.logger.Info("history store created",
		"path", path, "store_id", header.StoreID,
		"block_size", params.BlockSize, "max_children", params.MaxChildren)

	return s, nil
}

// OpenExisting opens a tree file for queries. The file must carry the
// expected provider version; any identification mismatch is ErrFormat.
// A file that was never closed opens with its last checkpointed state.
func OpenExisting(path string, providerVersion uint32, opts ...Option) (*Store, error) {
	o := buildOptions(opts)

	file, err := filestore.Open(path)
	if err != nil {
		return nil, err
	}

	header := file.Header()

	if header.ProviderVersion != providerVersion {
		return nil, errors.Join(
			fmt.Errorf("%w: provider version %d, want %d", ErrFormat, header.ProviderVersion, providerVersion),
			file.Close(),
		)
	}

	s, err := newStore(file, o)
	if err != nil {
		return nil, errors.Join(err, file.Close())
	}

	s.tree = htree.Open(s.cache, header, htree.WithLogger(o.logger))

	if !header.Closed {
		o.logger.Warn("history store was not closed, serving last checkpoint",
			"path", path, "tree_end", header.TreeEnd, "nodes", header.NodeCount)
	}

	o.logger.Info("history store opened",
		"path", path, "store_id", header.StoreID, "nodes", header.NodeCount)

	return s, nil
}

func newStore(file *filestore.File, o options) (*Store, error) {
	metrics, err := observability.NewStoreMetrics(o.meter)
	if err != nil {
		return nil, err
	}

	cache := nodecache.New(file, file.Header().NodeConfig(), o.cache)

	reg, err := observability.RegisterCacheMetrics(o.meter, file.Path(), cache)
	if err != nil {
		return nil, err
	}

	return &Store{
		file:            file,
		cache:           cache,
		logger:          o.logger,
		tracer:          o.tracer,
		metrics:         metrics,
		cacheReg:        reg,
		checkpointEvery: o.checkpointEvery,
	}, nil
}

// Dispose releases the cache and the file handle. It is idempotent. A
// building store disposed without Close keeps its last checkpoint on disk.
func (s *Store) Dispose() error {
	if s.disposed.Swap(true) {
		return nil
	}

	if s.tree != nil && s.tree.Building() {
		s.logger.Warn("history store disposed while building", "path", s.file.Path())
	}

	return s.release()
}

func (s *Store) release() error {
	var errs []error

	if s.cacheReg != nil {
		errs = append(errs, s.cacheReg.Unregister())
	}

	s.cache.Clear()
	errs = append(errs, s.file.Close())

	return errors.Join(errs...)
}

// Path returns the tree file path.
func (s *Store) Path() string { return s.file.Path() }

// Building reports whether the store still accepts inserts.
func (s *Store) Building() bool {
	return !s.disposed.Load() && s.tree.Building()
}

// TreeEnd returns the current logical end time.
func (s *Store) TreeEnd() int64 { return s.tree.TreeEnd() }

func (s *Store) checkLive() error {
	if s.disposed.Load() {
		return ErrDisposed
	}

	return nil
}

// noteError logs corruption found while reading.
func (s *Store) noteError(err error) {
	if errors.Is(err, ErrCorruption) {
		s.logger.Error("history store corruption detected", "path", s.file.Path(), "error", err)
	}
}
