package datasets

import (
	"bufio"
	"io"
)

const readBufferSize = 64 * 1024

// lineReader splits a stream on a single newline byte.
type lineReader struct {
	r   *bufio.Reader
	nl  byte
	buf []byte
}

func newLineReader(r io.Reader, nl byte) *lineReader {
	return &lineReader{r: bufio.NewReaderSize(r, readBufferSize), nl: nl}
}

// next returns the next line without its terminator. The slice is only valid until
// the following call. io.EOF is returned once no bytes remain; an unterminated last
// line is returned normally.
func (lr *lineReader) next() ([]byte, error) {
	chunk, err := lr.r.ReadSlice(lr.nl)
	if err == nil {
		return chunk[:len(chunk)-1], nil
	}
	lr.buf = append(lr.buf[:0], chunk...)
	for err == bufio.ErrBufferFull {
		chunk, err = lr.r.ReadSlice(lr.nl)
		lr.buf = append(lr.buf, chunk...)
	}
	switch err {
	case nil:
		return lr.buf[:len(lr.buf)-1], nil
	case io.EOF:
		if len(lr.buf) == 0 {
			return nil, io.EOF
		}
		return lr.buf, nil
	default:
		return nil, err
	}
}

// skip discards n lines and reports how many were actually skipped.
func (lr *lineReader) skip(n int) (int, error) {
	for i := 0; i < n; i++ {
		if _, err := lr.next(); err != nil {
			return i, err
		}
	}
	return n, nil
}
