package layer

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Noofbiz/bigdata/datasets"
	"github.com/Noofbiz/bigdata/prefetch"
)

const sampleCSV = "h1,h2,h3,h4,h5,h6,h7\n" +
	"s,-1,-2,1,2,0,1\n" +
	"s,1.5,2.5,-1.5,-2.5,1212.125,2\n"

func sampleConfig(fs afero.Fs, t *testing.T, mode datasets.CacheMode) datasets.Config {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, "/bigdata.csv", []byte(sampleCSV), 0o644))
	cfg := datasets.DefaultConfig()
	cfg.Source = "/bigdata.csv"
	cfg.HeaderLines = 1
	cfg.DataStart, cfg.DataEnd = 1, 5
	cfg.LabelColumn = 6
	cfg.ChunkBytes = 100
	cfg.Cache = mode
	return cfg
}

func TestLayerSampleScenario(t *testing.T) {
	for _, mode := range []datasets.CacheMode{datasets.CacheDisabled, datasets.CacheEnabled, datasets.CacheRenew} {
		t.Run(mode.String(), func(t *testing.T) {
			fs := afero.NewMemMapFs()
			cfg := sampleConfig(fs, t, mode)

			l, err := Setup(cfg, Outputs{Labels: true, IDs: true}, WithFs(fs))
			require.NoError(t, err)
			defer l.Shutdown()
			require.Equal(t, 2, l.Shape().BatchSize)
			require.NoError(t, l.StartPrefetch())

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			for i := 0; i < 4; i++ {
				b, err := l.NextBatch(ctx)
				require.NoError(t, err)
				assert.Equal(t, []float64{-1, -2, 1, 2, 0, 1.5, 2.5, -1.5, -2.5, 1212.125}, b.Data, "batch %d", i)
				assert.Equal(t, []float64{1, 2}, b.Labels, "batch %d", i)
				assert.Equal(t, []int64{0, 1}, b.IDs, "batch %d", i)
				l.Release(b)
			}
			require.NoError(t, l.Shutdown())

			cached, err := afero.Exists(fs, cfg.CachePath())
			require.NoError(t, err)
			partial, err := afero.Exists(fs, cfg.PartialCachePath())
			require.NoError(t, err)
			assert.Equal(t, mode == datasets.CacheEnabled, cached)
			assert.False(t, partial)
		})
	}
}

func TestLayerOutputsSelection(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := sampleConfig(fs, t, datasets.CacheDisabled)

	l, err := Setup(cfg, Outputs{}, WithFs(fs), WithPrefetchDepth(1))
	require.NoError(t, err)
	defer l.Shutdown()
	require.NoError(t, l.StartPrefetch())

	b, err := l.NextBatch(context.Background())
	require.NoError(t, err)
	assert.Nil(t, b.Labels)
	assert.Nil(t, b.IDs)
	assert.Len(t, b.Data, 10)
	l.Release(b)
	assert.Equal(t, 1, l.Stats().Prefetch.Depth)
}

func TestLayerSetupErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := sampleConfig(fs, t, datasets.CacheDisabled)

	noLabel := cfg
	noLabel.LabelColumn = datasets.NoLabel
	_, err := Setup(noLabel, Outputs{Labels: true}, WithFs(fs))
	assert.True(t, errors.Is(err, datasets.ErrInvalidConfig), "got %v", err)

	_, err = Setup(cfg, Outputs{}, WithFs(fs), WithPrefetchDepth(0))
	assert.True(t, errors.Is(err, datasets.ErrInvalidConfig), "got %v", err)

	missing := cfg
	missing.Source = "/nope.csv"
	_, err = Setup(missing, Outputs{}, WithFs(fs))
	assert.True(t, errors.Is(err, datasets.ErrSourceUnavailable), "got %v", err)

	wide := cfg
	wide.DataEnd = 9
	_, err = Setup(wide, Outputs{}, WithFs(fs))
	assert.True(t, errors.Is(err, datasets.ErrSchemaMismatch), "got %v", err)
}

func TestLayerShutdownUnblocksConsumer(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := sampleConfig(fs, t, datasets.CacheDisabled)
	l, err := Setup(cfg, Outputs{Labels: true}, WithFs(fs), WithPrefetchDepth(2))
	require.NoError(t, err)
	require.NoError(t, l.StartPrefetch())

	// Hold every buffer so the producer has nothing to fill.
	for i := 0; i < 2; i++ {
		_, err := l.NextBatch(context.Background())
		require.NoError(t, err)
	}
	errc := make(chan error, 1)
	go func() {
		_, err := l.NextBatch(context.Background())
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, l.Shutdown())
	require.NoError(t, l.Shutdown())

	select {
	case err := <-errc:
		assert.Equal(t, prefetch.ErrStopped, err)
	case <-time.After(5 * time.Second):
		t.Fatal("NextBatch still blocked after Shutdown")
	}
}

func TestStreamDataset(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := sampleConfig(fs, t, datasets.CacheEnabled)
	l, err := Setup(cfg, Outputs{Labels: true, IDs: true}, WithFs(fs))
	require.NoError(t, err)
	defer l.Shutdown()
	require.NoError(t, l.StartPrefetch())

	ds := NewStreamDataset(context.Background(), "sample", l)
	ds.EpochBatches = 2
	assert.Equal(t, "sample", ds.Name())

	for i := 0; i < 2; i++ {
		spec, inputs, labels, err := ds.Yield()
		require.NoError(t, err)
		assert.Equal(t, "sample", spec)
		require.Len(t, inputs, 1)
		assert.Equal(t, []int{2, 5}, inputs[0].Shape().Dimensions)
		require.Len(t, labels, 2)
		assert.Equal(t, []int{2, 1}, labels[0].Shape().Dimensions)
		assert.Equal(t, []int{2}, labels[1].Shape().Dimensions)
	}
	_, _, _, err = ds.Yield()
	assert.Equal(t, io.EOF, err)

	ds.Reset()
	_, _, _, err = ds.Yield()
	assert.NoError(t, err)
	assert.Zero(t, l.Stats().Prefetch.CheckedOut, "Yield gives every batch back")
}
