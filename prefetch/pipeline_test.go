package prefetch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type slot struct {
	seq int
}

// counter fills slots with increasing sequence numbers.
type counter struct {
	mu   sync.Mutex
	next int
}

func (c *counter) Fill(ctx context.Context, s *slot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	s.seq = c.next
	return nil
}

func newSlots(n int) []*slot {
	out := make([]*slot, n)
	for i := range out {
		out[i] = &slot{}
	}
	return out
}

func TestPipelineDeliversInOrder(t *testing.T) {
	p, err := New[*slot](&counter{}, newSlots(3))
	require.NoError(t, err)
	require.NoError(t, p.Start())
	defer p.Stop()

	for want := 1; want <= 20; want++ {
		s, err := p.Next(context.Background())
		require.NoError(t, err)
		require.Equal(t, want, s.seq)
		p.Release(s)
	}
	assert.Equal(t, uint64(20), p.Stats().Consumed)
}

func TestPipelineOwnership(t *testing.T) {
	slots := newSlots(3)
	p, err := New[*slot](&counter{}, slots)
	require.NoError(t, err)
	require.NoError(t, p.Start())
	defer p.Stop()

	held := map[*slot]bool{}
	for i := 0; i < 3; i++ {
		s, err := p.Next(context.Background())
		require.NoError(t, err)
		require.False(t, held[s], "buffer handed out twice")
		held[s] = true
	}
	assert.Equal(t, 3, p.Stats().CheckedOut)

	// Every buffer is with the consumer, so nothing more can be produced.
	_, ok := p.TryNext()
	assert.False(t, ok)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Next(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	p.Release(slots[0])
	assert.Panics(t, func() { p.Release(slots[0]) }, "double release")
	assert.Panics(t, func() { p.Release(&slot{}) }, "foreign buffer")

	s, err := p.Next(context.Background())
	require.NoError(t, err)
	assert.Same(t, slots[0], s)
}

func TestPipelineStopDuringFill(t *testing.T) {
	entered := make(chan struct{})
	var once sync.Once
	blocking := FillFunc[*slot](func(ctx context.Context, s *slot) error {
		once.Do(func() { close(entered) })
		<-ctx.Done()
		return ctx.Err()
	})

	p, err := New[*slot](blocking, newSlots(2))
	require.NoError(t, err)
	require.NoError(t, p.Start())
	<-entered

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}

	st := p.Stats()
	assert.Zero(t, st.Ready, "a cancelled fill must not be published")
	assert.Equal(t, 2, st.Free)
	assert.NoError(t, st.ProducerErr)

	_, err = p.Next(context.Background())
	assert.Equal(t, ErrStopped, err)
	p.Stop()
}

func TestPipelineProducerFailure(t *testing.T) {
	boom := errors.New("disk on fire")
	n := 0
	filler := FillFunc[*slot](func(ctx context.Context, s *slot) error {
		n++
		if n == 3 {
			return boom
		}
		s.seq = n
		return nil
	})
	p, err := New[*slot](filler, newSlots(4))
	require.NoError(t, err)
	require.NoError(t, p.Start())
	defer p.Stop()

	for want := 1; want <= 2; want++ {
		s, err := p.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want, s.seq)
		p.Release(s)
	}
	_, err = p.Next(context.Background())
	assert.Equal(t, boom, err)
	assert.Equal(t, boom, p.Err())
	assert.False(t, p.Stats().Running)
}

func TestPipelineLifecycleErrors(t *testing.T) {
	_, err := New[*slot](&counter{}, nil)
	assert.Error(t, err)
	s := &slot{}
	_, err = New[*slot](&counter{}, []*slot{s, s})
	assert.Error(t, err)

	p, err := New[*slot](&counter{}, newSlots(1))
	require.NoError(t, err)
	_, err = p.Next(context.Background())
	assert.Equal(t, ErrNotStarted, err)

	require.NoError(t, p.Start())
	assert.Equal(t, ErrAlreadyStarted, p.Start())
	p.Stop()
	assert.Equal(t, ErrStopped, p.Start())
}
