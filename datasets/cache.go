package datasets

import (
	"bufio"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"k8s.io/klog/v2"
)

const cacheBufferSize = 256 * 1024

// cacheWriter appends encoded rows to the partial cache. The finished cache only
// appears through promote, so a reader never sees a half-written file under the
// final name.
type cacheWriter struct {
	fs    afero.Fs
	part  string
	final string
	codec Codec

	file afero.File
	w    *bufio.Writer
	rec  []byte
	rows int64
	err  error
}

// createCacheWriter truncates the partial cache and opens it for appending.
func createCacheWriter(fs afero.Fs, cfg Config, codec Codec) (*cacheWriter, error) {
	f, err := fs.OpenFile(cfg.PartialCachePath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(ErrCacheWrite, "create %s: %v", cfg.PartialCachePath(), err)
	}
	return &cacheWriter{
		fs:    fs,
		part:  cfg.PartialCachePath(),
		final: cfg.CachePath(),
		codec: codec,
		file:  f,
		w:     bufio.NewWriterSize(f, cacheBufferSize),
		rec:   make([]byte, codec.RecordSize()),
	}, nil
}

// append encodes one row. After the first failure the writer is closed and every
// later call returns the same error.
func (cw *cacheWriter) append(label float64, features []float64) error {
	if cw.err != nil {
		return cw.err
	}
	cw.codec.Encode(cw.rec, label, features)
	if _, err := cw.w.Write(cw.rec); err != nil {
		cw.fail(errors.Wrapf(ErrCacheWrite, "append to %s: %v", cw.part, err))
		return cw.err
	}
	cw.rows++
	return nil
}

func (cw *cacheWriter) fail(err error) {
	cw.err = err
	if cw.file != nil {
		_ = cw.file.Close()
		cw.file = nil
	}
}

// promote flushes and closes the partial cache and renames it into place.
func (cw *cacheWriter) promote() error {
	if cw.err != nil {
		return cw.err
	}
	if cw.rows == 0 {
		cw.fail(errors.Wrap(ErrCacheWrite, "no rows were written"))
		return cw.err
	}
	if err := cw.w.Flush(); err != nil {
		cw.fail(errors.Wrapf(ErrCacheWrite, "flush %s: %v", cw.part, err))
		return cw.err
	}
	if err := cw.file.Sync(); err != nil {
		klog.V(1).Infof("bigdata: sync %s: %v", cw.part, err)
	}
	if err := cw.file.Close(); err != nil {
		cw.file = nil
		cw.err = errors.Wrapf(ErrCacheWrite, "close %s: %v", cw.part, err)
		return cw.err
	}
	cw.file = nil
	if err := cw.fs.Rename(cw.part, cw.final); err != nil {
		cw.err = errors.Wrapf(ErrCacheWrite, "rename %s: %v", cw.part, err)
		return cw.err
	}
	return nil
}

// discard closes the partial cache and leaves it on disk; the next build truncates it.
func (cw *cacheWriter) discard() {
	if cw.file != nil {
		_ = cw.file.Close()
		cw.file = nil
	}
}

// removeCacheFiles deletes the finished and partial cache, ignoring missing files.
func removeCacheFiles(fs afero.Fs, cfg Config) error {
	for _, path := range []string{cfg.CachePath(), cfg.PartialCachePath()} {
		if err := fs.Remove(path); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "remove %s", path)
		}
	}
	return nil
}
