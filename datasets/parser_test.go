package datasets

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSampleRows(t *testing.T) {
	p := NewParser(sampleConfig("x.csv", 2))
	require.Equal(t, 5, p.Features())

	features := make([]float64, p.Features())
	label, err := p.Parse([]byte("s,1.5,2.5,-1.5,-2.5,1212.125,2"), features)
	require.NoError(t, err)
	assert.Equal(t, sampleRows[1], features)
	assert.Equal(t, 2.0, label)
	assert.Zero(t, p.LenientTokens())
}

func TestParseLenientTokens(t *testing.T) {
	p := NewParser(sampleConfig("x.csv", 2))
	features := make([]float64, p.Features())

	label, err := p.Parse([]byte("s,abc,2, ,4,5,lbl"), features)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 2, 0, 4, 5}, features)
	assert.Equal(t, 0.0, label)
	assert.Equal(t, uint64(3), p.LenientTokens())
}

func TestParseOutOfRangeKeepsInfinity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataStart, cfg.DataEnd = 0, 0
	p := NewParser(cfg)
	features := make([]float64, 1)

	_, err := p.Parse([]byte("1e999"), features)
	require.NoError(t, err)
	assert.True(t, math.IsInf(features[0], 1))
	assert.Zero(t, p.LenientTokens())
}

func TestParseCarriageReturnAndSpaces(t *testing.T) {
	p := NewParser(sampleConfig("x.csv", 2))
	features := make([]float64, p.Features())

	label, err := p.Parse([]byte("s, -1 ,-2,1,2,0,1\r"), features)
	require.NoError(t, err)
	assert.Equal(t, sampleRows[0], features)
	assert.Equal(t, 1.0, label)
}

func TestParseLabelBeforeFeatures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Separator = '\t'
	cfg.DataStart, cfg.DataEnd = 2, 3
	cfg.LabelColumn = 0
	p := NewParser(cfg)
	features := make([]float64, p.Features())

	label, err := p.Parse([]byte("7\tskip\t3\t4\tignored\tcolumns"), features)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 4}, features)
	assert.Equal(t, 7.0, label)
}

func TestParseMalformed(t *testing.T) {
	p := NewParser(sampleConfig("x.csv", 2))
	features := make([]float64, p.Features())

	tests := []struct {
		name string
		line string
	}{
		{"blank", ""},
		{"carriage return only", "\r"},
		{"truncated features", "s,1,2"},
		{"missing label", "s,1,2,3,4,5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Parse([]byte(tt.line), features)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedRow), "got %v", err)
		})
	}
}

func TestCountColumns(t *testing.T) {
	assert.Equal(t, 1, countColumns([]byte(""), ','))
	assert.Equal(t, 7, countColumns([]byte("s,-1,-2,1,2,0,1"), ','))
	assert.Equal(t, 3, countColumns([]byte("a;b;c"), ';'))
}
