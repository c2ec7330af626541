// Package layer is the consumer surface of a streamed dataset: set it up once, start
// the background reader, then take and release batches.
package layer

import (
	"context"
	"math/rand"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"k8s.io/klog/v2"

	"github.com/Noofbiz/bigdata/datasets"
	"github.com/Noofbiz/bigdata/prefetch"
)

// Outputs selects the optional per-row outputs the consumer wants next to the
// features.
type Outputs struct {
	Labels bool
	IDs    bool
}

// Option configures Setup.
type Option func(*settings)

type settings struct {
	cursor []datasets.Option
	depth  int
}

// WithFs reads and writes the dataset and its cache through fs.
func WithFs(fs afero.Fs) Option {
	return func(s *settings) { s.cursor = append(s.cursor, datasets.WithFs(fs)) }
}

// WithMmap toggles memory mapping of the finished cache.
func WithMmap(enabled bool) Option {
	return func(s *settings) { s.cursor = append(s.cursor, datasets.WithMmap(enabled)) }
}

// WithRand sets the random source of the skip after each wrap.
func WithRand(rng *rand.Rand) Option {
	return func(s *settings) { s.cursor = append(s.cursor, datasets.WithRand(rng)) }
}

// WithPrefetchDepth sets how many batches are allocated and kept in flight.
func WithPrefetchDepth(n int) Option {
	return func(s *settings) { s.depth = n }
}

// Layer streams batches of one dataset.
type Layer struct {
	cfg    datasets.Config
	shape  datasets.Shape
	cursor *datasets.Cursor
	asm    *datasets.Assembler
	pipe   *prefetch.Pipeline[*datasets.Batch]

	mu   sync.Mutex
	done bool
}

// Setup opens the dataset described by cfg and allocates the batch buffers. Every
// configuration and source problem is reported here.
func Setup(cfg datasets.Config, out Outputs, opts ...Option) (*Layer, error) {
	s := settings{depth: prefetch.DefaultDepth}
	for _, opt := range opts {
		opt(&s)
	}
	if s.depth < 1 {
		return nil, errors.Wrapf(datasets.ErrInvalidConfig, "prefetch depth %d", s.depth)
	}
	if out.Labels && !cfg.HasLabel() {
		return nil, errors.Wrap(datasets.ErrInvalidConfig, "labels requested but no label column is configured")
	}

	cursor, err := datasets.NewCursor(cfg, s.cursor...)
	if err != nil {
		return nil, errors.WithMessagef(err, "setup %s", cfg.Source)
	}
	shape := cfg.Shape(out.Labels, out.IDs)
	asm := datasets.NewAssembler(cursor, shape)

	buffers := make([]*datasets.Batch, s.depth)
	for i := range buffers {
		buffers[i] = datasets.NewBatch(shape)
	}
	pipe, err := prefetch.New[*datasets.Batch](asm, buffers)
	if err != nil {
		_ = cursor.Close()
		return nil, err
	}

	klog.Infof("bigdata: %s: batches %s, %s mode, prefetch depth %d",
		cfg.Source, shape, cursor.Mode(), s.depth)
	return &Layer{cfg: cfg, shape: shape, cursor: cursor, asm: asm, pipe: pipe}, nil
}

// StartPrefetch starts filling batches in the background.
func (l *Layer) StartPrefetch() error {
	return l.pipe.Start()
}

// NextBatch blocks until a batch is ready. The caller owns it until Release and must
// not keep references to its buffers afterwards.
func (l *Layer) NextBatch(ctx context.Context) (*datasets.Batch, error) {
	return l.pipe.Next(ctx)
}

// Release hands a batch back for refilling.
func (l *Layer) Release(b *datasets.Batch) {
	l.pipe.Release(b)
}

// Shutdown stops the background reader and closes the dataset files. It is safe to
// call more than once.
func (l *Layer) Shutdown() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done {
		return nil
	}
	l.done = true
	l.pipe.Stop()
	return l.cursor.Close()
}

// Shape is the geometry of every batch.
func (l *Layer) Shape() datasets.Shape { return l.shape }

// Config is the configuration the layer was set up with.
func (l *Layer) Config() datasets.Config { return l.cfg }

// Mode is the state the dataset cursor is in.
func (l *Layer) Mode() datasets.Mode { return l.cursor.Mode() }

// Stats groups the reader and pipeline counters.
type Stats struct {
	Mode     datasets.Mode
	Reader   datasets.Stats
	Prefetch prefetch.Stats
}

// Stats returns a snapshot of the counters.
func (l *Layer) Stats() Stats {
	return Stats{
		Mode:     l.cursor.Mode(),
		Reader:   l.cursor.Stats(),
		Prefetch: l.pipe.Stats(),
	}
}
