package datasets

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineReader(t *testing.T) {
	long := strings.Repeat("x", readBufferSize*2+17)
	lr := newLineReader(strings.NewReader("a;"+long+";;tail"), ';')

	var got []string
	for {
		line, err := lr.next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, string(line))
	}
	require.Len(t, got, 4)
	assert.Equal(t, "a", got[0])
	assert.Equal(t, long, got[1])
	assert.Equal(t, "", got[2])
	assert.Equal(t, "tail", got[3], "unterminated last line")
}

func TestLineReaderSkip(t *testing.T) {
	lr := newLineReader(strings.NewReader("h1\nh2\nrow\n"), '\n')
	n, err := lr.skip(2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	line, err := lr.next()
	require.NoError(t, err)
	assert.Equal(t, "row", string(line))

	n, err = lr.skip(5)
	assert.Equal(t, io.EOF, err)
	assert.Zero(t, n)
}
