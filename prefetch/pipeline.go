// Package prefetch runs a producer on its own goroutine over a fixed set of
// recycled buffers.
//
// Every buffer is, at any time, in exactly one place: the free queue, the producer,
// the ready queue or the consumer. The consumer takes buffers with Next and hands them
// back with Release; the producer only ever writes to buffers it took from the free
// queue.
package prefetch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DefaultDepth is the number of buffers used when a caller has no preference.
const DefaultDepth = 3

var (
	// ErrStopped is returned by Next once Stop has been called.
	ErrStopped = errors.New("prefetch: pipeline stopped")
	// ErrNotStarted is returned by Next before Start.
	ErrNotStarted = errors.New("prefetch: pipeline not started")
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("prefetch: pipeline already started")
)

// Filler writes the next item into a recycled buffer. Fill runs on the pipeline's
// goroutine and must return promptly once ctx is done.
type Filler[T any] interface {
	Fill(ctx context.Context, item T) error
}

// FillFunc adapts a function to Filler.
type FillFunc[T any] func(ctx context.Context, item T) error

// Fill implements Filler.
func (f FillFunc[T]) Fill(ctx context.Context, item T) error { return f(ctx, item) }

// Pipeline keeps up to len(buffers) filled items ahead of the consumer.
type Pipeline[T comparable] struct {
	filler Filler[T]
	depth  int
	free   chan T
	ready  chan T

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	failed chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool
	err     error
	out     map[T]struct{}

	produced atomic.Uint64
	consumed atomic.Uint64
	fillTime atomic.Int64
}

// New creates a stopped pipeline owning buffers. The buffers must be distinct.
func New[T comparable](filler Filler[T], buffers []T) (*Pipeline[T], error) {
	if filler == nil {
		return nil, errors.New("prefetch: nil filler")
	}
	if len(buffers) == 0 {
		return nil, errors.New("prefetch: at least one buffer is required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline[T]{
		filler: filler,
		depth:  len(buffers),
		free:   make(chan T, len(buffers)),
		ready:  make(chan T, len(buffers)),
		ctx:    ctx,
		cancel: cancel,
		failed: make(chan struct{}),
		out:    make(map[T]struct{}, len(buffers)),
	}
	seen := make(map[T]struct{}, len(buffers))
	for _, b := range buffers {
		if _, dup := seen[b]; dup {
			cancel()
			return nil, errors.New("prefetch: the same buffer was passed twice")
		}
		seen[b] = struct{}{}
		p.free <- b
	}
	return p, nil
}

// Start launches the producer goroutine.
func (p *Pipeline[T]) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.stopped:
		return ErrStopped
	case p.started:
		return ErrAlreadyStarted
	}
	p.started = true
	p.wg.Add(1)
	go p.run()
	return nil
}

func (p *Pipeline[T]) run() {
	defer p.wg.Done()
	for {
		var item T
		select {
		case <-p.ctx.Done():
			return
		case item = <-p.free:
		}

		start := time.Now()
		err := p.filler.Fill(p.ctx, item)
		p.fillTime.Add(int64(time.Since(start)))
		if err != nil {
			// The buffer came from free, so there is room to put it back.
			p.free <- item
			if p.ctx.Err() != nil {
				return
			}
			p.fail(err)
			return
		}

		p.produced.Add(1)
		select {
		case p.ready <- item:
		case <-p.ctx.Done():
			p.free <- item
			return
		}
	}
}

func (p *Pipeline[T]) fail(err error) {
	klog.Errorf("prefetch: producer stopped: %v", err)
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
	close(p.failed)
}

// Next blocks until a filled buffer is ready and hands it to the caller, who owns it
// until Release. Buffers that were filled before a producer failure are still
// delivered; after that the failure is returned.
func (p *Pipeline[T]) Next(ctx context.Context) (T, error) {
	var zero T
	p.mu.Lock()
	started, stopped := p.started, p.stopped
	p.mu.Unlock()
	switch {
	case stopped:
		return zero, ErrStopped
	case !started:
		return zero, ErrNotStarted
	}

	select {
	case item := <-p.ready:
		return p.checkout(item), nil
	default:
	}
	select {
	case item := <-p.ready:
		return p.checkout(item), nil
	case <-p.failed:
		select {
		case item := <-p.ready:
			return p.checkout(item), nil
		default:
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		return zero, p.err
	case <-p.ctx.Done():
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// TryNext is Next without blocking. ok is false when nothing is ready.
func (p *Pipeline[T]) TryNext() (item T, ok bool) {
	select {
	case item = <-p.ready:
		return p.checkout(item), true
	default:
		return item, false
	}
}

func (p *Pipeline[T]) checkout(item T) T {
	p.mu.Lock()
	p.out[item] = struct{}{}
	p.mu.Unlock()
	p.consumed.Add(1)
	return item
}

// Release gives a buffer obtained from Next back to the producer. Releasing a buffer
// the caller does not hold panics.
func (p *Pipeline[T]) Release(item T) {
	p.mu.Lock()
	if _, ok := p.out[item]; !ok {
		p.mu.Unlock()
		panic("prefetch: release of a buffer that is not checked out")
	}
	delete(p.out, item)
	p.mu.Unlock()
	p.free <- item
}

// Stop cancels the producer, waiting for the fill in progress to return. A cancelled
// fill is never made ready. Stop is idempotent and safe to call before Start.
func (p *Pipeline[T]) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	klog.V(1).Infof("prefetch: stopped after %d batches", p.produced.Load())
}

// Err returns the error that stopped the producer, if any.
func (p *Pipeline[T]) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stats describes the pipeline at one instant.
type Stats struct {
	Depth       int
	Produced    uint64
	Consumed    uint64
	Ready       int
	Free        int
	CheckedOut  int
	FillTime    time.Duration
	Running     bool
	ProducerErr error
}

// Stats returns a snapshot of the counters and queue lengths.
func (p *Pipeline[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Depth:       p.depth,
		Produced:    p.produced.Load(),
		Consumed:    p.consumed.Load(),
		Ready:       len(p.ready),
		Free:        len(p.free),
		CheckedOut:  len(p.out),
		FillTime:    time.Duration(p.fillTime.Load()),
		Running:     p.started && !p.stopped && p.err == nil,
		ProducerErr: p.err,
	}
}
