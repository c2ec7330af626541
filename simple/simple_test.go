package simple

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/Noofbiz/bigdata/datasets"
	"github.com/Noofbiz/bigdata/layer"
	"github.com/Noofbiz/bigdata/prefetch"
)

// linearCSV returns 64 rows on an 8x8 grid with y = 2*x0 - 3*x1 + 1.
func linearCSV() string {
	var sb strings.Builder
	sb.WriteString("x0,x1,y\n")
	for i := 0; i < 64; i++ {
		x0 := float64(i%8)/4 - 1
		x1 := float64(i/8)/4 - 1
		fmt.Fprintf(&sb, "%g,%g,%g\n", x0, x1, 2*x0-3*x1+1)
	}
	return sb.String()
}

func linearLayer(t *testing.T, out layer.Outputs) *layer.Layer {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/linear.csv", []byte(linearCSV()), 0o644))

	cfg := datasets.DefaultConfig()
	cfg.Source = "/linear.csv"
	cfg.HeaderLines = 1
	cfg.DataStart, cfg.DataEnd = 0, 1
	cfg.LabelColumn = 2
	cfg.ChunkBytes = 16 * 2 * datasets.ValueWidth
	cfg.Cache = datasets.CacheEnabled

	l, err := layer.Setup(cfg, out, layer.WithFs(fs))
	require.NoError(t, err)
	require.NoError(t, l.StartPrefetch())
	t.Cleanup(func() { _ = l.Shutdown() })
	return l
}

func TestModelFitsLinearStream(t *testing.T) {
	l := linearLayer(t, layer.Outputs{Labels: true})
	m, err := NewModel(2, Config{LearningRate: 0.05, Steps: 300, Seed: 7})
	require.NoError(t, err)

	losses, err := m.Fit(context.Background(), l)
	require.NoError(t, err)
	require.Len(t, losses, 300)

	tail := floats.Sum(losses[290:]) / 10
	assert.Less(t, tail, losses[0]*0.01, "loss went from %g to %g", losses[0], tail)
	assert.InDelta(t, 3.5, m.Predict([]float64{0.5, -0.5}), 0.1)
	assert.Equal(t, datasets.ReadingCacheOnly, l.Mode())
	assert.Zero(t, l.Stats().Prefetch.CheckedOut)
}

func TestModelLossMatchesPredictions(t *testing.T) {
	l := linearLayer(t, layer.Outputs{Labels: true})
	m, err := NewModel(2, Config{Steps: 1, Seed: 3})
	require.NoError(t, err)

	b, err := l.NextBatch(context.Background())
	require.NoError(t, err)
	defer l.Release(b)

	pred := m.PredictBatch(b)
	require.Len(t, pred, b.Len())
	floats.Sub(pred, b.Labels)
	assert.InDelta(t, floats.Dot(pred, pred)/float64(len(pred)), m.Loss(b), 1e-9)
}

func TestModelFitErrors(t *testing.T) {
	_, err := NewModel(0, Config{})
	assert.Error(t, err)

	unlabelled := linearLayer(t, layer.Outputs{})
	m, err := NewModel(2, Config{Steps: 5, Seed: 1})
	require.NoError(t, err)
	_, err = m.Fit(context.Background(), unlabelled)
	assert.Error(t, err)
	assert.Zero(t, unlabelled.Stats().Prefetch.CheckedOut)

	labelled := linearLayer(t, layer.Outputs{Labels: true})
	wide, err := NewModel(3, Config{Steps: 5, Seed: 1})
	require.NoError(t, err)
	_, err = wide.Fit(context.Background(), labelled)
	assert.Error(t, err)

	stopped := linearLayer(t, layer.Outputs{Labels: true})
	require.NoError(t, stopped.Shutdown())
	m, err = NewModel(2, Config{Steps: 5, Seed: 1})
	require.NoError(t, err)
	losses, err := m.Fit(context.Background(), stopped)
	assert.Empty(t, losses)
	assert.True(t, errors.Is(err, prefetch.ErrStopped), "got %v", err)
}
