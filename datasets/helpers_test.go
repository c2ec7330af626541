package datasets

import (
	"fmt"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const sampleCSV = "h1,h2,h3,h4,h5,h6,h7\n" +
	"s,-1,-2,1,2,0,1\n" +
	"s,1.5,2.5,-1.5,-2.5,1212.125,2\n"

var sampleRows = [][]float64{
	{-1, -2, 1, 2, 0},
	{1.5, 2.5, -1.5, -2.5, 1212.125},
}

var sampleLabels = []float64{1, 2}

func writeFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
}

// sampleConfig describes sampleCSV with a batch size of batch rows.
func sampleConfig(path string, batch int) Config {
	cfg := DefaultConfig()
	cfg.Source = path
	cfg.HeaderLines = 1
	cfg.DataStart, cfg.DataEnd = 1, 5
	cfg.LabelColumn = 6
	cfg.ChunkBytes = batch * 5 * ValueWidth
	return cfg
}

// indexedCSV returns a header and rows rows of the form "r<i>,<i*10>,<i*10+1>,<i*10+2>,<i>",
// so a row's features and label can be checked against its id.
func indexedCSV(rows int) string {
	var sb strings.Builder
	sb.WriteString("name,a,b,c,label\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&sb, "r%d,%d,%d,%d,%d\n", i, i*10, i*10+1, i*10+2, i)
	}
	return sb.String()
}

func indexedConfig(path string, batch int) Config {
	cfg := DefaultConfig()
	cfg.Source = path
	cfg.HeaderLines = 1
	cfg.DataStart, cfg.DataEnd = 1, 3
	cfg.LabelColumn = 4
	cfg.ChunkBytes = batch * 3 * ValueWidth
	return cfg
}

// requireIndexedRow checks that features and label belong to row id.
func requireIndexedRow(t *testing.T, id int64, features []float64, label float64) {
	t.Helper()
	want := []float64{float64(id * 10), float64(id*10 + 1), float64(id*10 + 2)}
	require.Equal(t, want, features, "features of row %d", id)
	require.Equal(t, float64(id), label, "label of row %d", id)
}

func newTestCursor(t *testing.T, fs afero.Fs, cfg Config, opts ...Option) *Cursor {
	t.Helper()
	c, err := NewCursor(cfg, append([]Option{WithFs(fs)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func exists(t *testing.T, fs afero.Fs, path string) bool {
	t.Helper()
	ok, err := afero.Exists(fs, path)
	require.NoError(t, err)
	return ok
}
