package datasets

import "github.com/pkg/errors"

// Setup-time errors are returned to the caller. Row and cache errors raised while
// streaming are absorbed by the cursor and only show up in Stats and the logs.
var (
	// ErrSourceUnavailable is returned when the text source cannot be opened.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrSchemaMismatch is returned when the first data line has fewer columns than
	// the configured feature range and label need.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrInvalidConfig is returned for configurations that cannot describe a dataset.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrMalformedRow marks a line that yields fewer feature tokens than required.
	ErrMalformedRow = errors.New("malformed row")

	// ErrCacheWrite wraps I/O failures while appending to the partial cache.
	ErrCacheWrite = errors.New("cache write failure")

	// ErrCacheRead wraps I/O failures while reading the finished cache.
	ErrCacheRead = errors.New("cache read failure")

	// ErrCacheLayout marks a finished cache whose size does not fit the record width.
	ErrCacheLayout = errors.New("cache layout mismatch")

	// ErrEmptySource is returned when consecutive passes produce no valid rows.
	ErrEmptySource = errors.New("source has no valid rows")

	// ErrClosed is returned by a Cursor after Close.
	ErrClosed = errors.New("cursor closed")

	// ErrConcurrentAccess is the panic value raised when two goroutines enter
	// the cursor at the same time.
	ErrConcurrentAccess = errors.New("concurrent cursor access")
)
