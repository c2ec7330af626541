package datasets

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"k8s.io/klog/v2"
)

// Mode is the state of a Cursor.
type Mode int32

const (
	// ReadingTextNoCache parses the text source on every pass.
	ReadingTextNoCache Mode = iota
	// ReadingTextBuildingCache parses the text source and stages a binary copy.
	ReadingTextBuildingCache
	// ReadingCacheOnly decodes the finished binary cache.
	ReadingCacheOnly
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case ReadingTextNoCache:
		return "text"
	case ReadingTextBuildingCache:
		return "text+build"
	case ReadingCacheOnly:
		return "cache"
	}
	return fmt.Sprintf("Mode(%d)", int32(m))
}

// Row is one record. ID is the row's position in the current pass.
type Row struct {
	Features []float64
	Label    float64
	ID       int64
}

// NewRow allocates a row able to hold the features of cfg.
func NewRow(cfg Config) Row {
	return Row{Features: make([]float64, cfg.FeatureCount())}
}

// Option configures a Cursor.
type Option func(*options)

type options struct {
	fs   afero.Fs
	mmap bool
	rng  *rand.Rand
}

// WithFs reads and writes through fs instead of the operating system.
func WithFs(fs afero.Fs) Option {
	return func(o *options) { o.fs = fs }
}

// WithMmap toggles memory mapping of the finished cache. It is on by default and
// silently ignored for filesystems that are not backed by real files.
func WithMmap(enabled bool) Option {
	return func(o *options) { o.mmap = enabled }
}

// WithRand sets the source used for the skip after each wrap.
func WithRand(rng *rand.Rand) Option {
	return func(o *options) { o.rng = rng }
}

// source is one open pass over the data. read returns io.EOF at the end of the pass,
// ErrMalformedRow for a line that ends the pass early, and any other error for I/O
// failures.
type source interface {
	mode() Mode
	read(row *Row) error
	close() error
}

type textSource struct {
	file   afero.File
	lines  *lineReader
	parser *Parser
	stats  *cursorStats
}

func (s *textSource) mode() Mode { return ReadingTextNoCache }

func (s *textSource) read(row *Row) error {
	line, err := s.lines.next()
	if err != nil {
		return err
	}
	label, err := s.parser.Parse(line, row.Features)
	if err != nil {
		return err
	}
	row.Label = label
	s.stats.textRows.Add(1)
	return nil
}

func (s *textSource) close() error { return s.file.Close() }

// buildSource is a text pass that copies every row into the partial cache.
type buildSource struct {
	*textSource
	cache *cacheWriter // nil when the partial cache could not be created
}

func (s *buildSource) mode() Mode { return ReadingTextBuildingCache }

func (s *buildSource) read(row *Row) error {
	if err := s.textSource.read(row); err != nil {
		return err
	}
	if s.cache != nil && s.cache.err == nil {
		if err := s.cache.append(row.Label, row.Features); err != nil {
			s.stats.writeFailures.Add(1)
			klog.Warningf("bigdata: %v, cache abandoned for this pass", err)
		}
	}
	return nil
}

// finish ends the pass. The partial cache is promoted only when the pass reached the
// end of the source and every row made it into the file.
func (s *buildSource) finish(complete bool) error {
	_ = s.textSource.close()
	switch {
	case s.cache == nil:
		return errors.Wrap(ErrCacheWrite, "partial cache was never created")
	case !complete:
		s.cache.discard()
		return errors.New("pass ended before the end of the source")
	}
	return s.cache.promote()
}

func (s *buildSource) close() error {
	if s.cache != nil {
		s.cache.discard()
	}
	return s.textSource.close()
}

type cacheSource struct {
	file  afero.File
	r     io.Reader
	unmap func() error
	codec Codec
	rec   []byte
	stats *cursorStats
}

func (s *cacheSource) mode() Mode { return ReadingCacheOnly }

func (s *cacheSource) read(row *Row) error {
	if _, err := io.ReadFull(s.r, s.rec); err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return errors.Wrapf(ErrCacheRead, "%s: %v", s.file.Name(), err)
	}
	row.Label = s.codec.Decode(s.rec, row.Features)
	s.stats.cacheRows.Add(1)
	return nil
}

func (s *cacheSource) close() error {
	if s.unmap != nil {
		if err := s.unmap(); err != nil {
			klog.Warningf("bigdata: munmap %s: %v", s.file.Name(), err)
		}
		s.unmap = nil
	}
	return s.file.Close()
}

// Cursor walks a dataset row by row forever, reopening it at the end of every pass.
// It owns every file handle of the dataset.
//
// A Cursor must only be used by one goroutine at a time; overlapping calls panic with
// ErrConcurrentAccess. Mode and Stats are the exception and may be called from
// anywhere.
type Cursor struct {
	cfg    Config
	opts   options
	parser *Parser
	codec  Codec

	src         source
	mode        atomic.Int32
	rowIndex    int64
	passRows    int64
	passStart   bool
	passFromTop bool // no rows were skipped at the start of this pass
	emptyPasses int
	scratch     Row

	// passes counts completed passes; cleanPasses those that ran from the first row
	// to end-of-file, the last of which had lastCleanRows rows.
	passes        uint64
	cleanPasses   uint64
	lastCleanRows int64

	// first is the first data row of the text source, used to recognise a cache
	// written with another column layout.
	first    Row
	hasFirst bool

	busy  atomic.Bool
	stats cursorStats
}

// NewCursor validates cfg, probes the text source and opens the dataset in the mode
// the cache setting and the files on disk call for.
//
// ErrSourceUnavailable, ErrSchemaMismatch and ErrInvalidConfig are returned here and
// never later.
func NewCursor(cfg Config, opts ...Option) (*Cursor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{fs: afero.NewOsFs(), mmap: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	c := &Cursor{
		cfg:         cfg,
		opts:        o,
		parser:      NewParser(cfg),
		codec:       NewCodec(cfg),
		passStart:   true,
		passFromTop: true,
		scratch:     NewRow(cfg),
	}
	if err := c.probe(); err != nil {
		return nil, err
	}
	src, err := c.openInitial()
	if err != nil {
		return nil, err
	}
	c.setSource(src)
	klog.V(1).Infof("bigdata: %s opened in %s mode, %d features, label=%t",
		cfg.Source, src.mode(), cfg.FeatureCount(), cfg.HasLabel())
	return c, nil
}

// probe reads the first data line and checks it has enough columns.
func (c *Cursor) probe() error {
	f, err := c.opts.fs.Open(c.cfg.Source)
	if err != nil {
		return errors.Wrapf(ErrSourceUnavailable, "%s: %v", c.cfg.Source, err)
	}
	defer f.Close()

	lines := newLineReader(f, byte(c.cfg.Newline))
	if _, err := lines.skip(c.cfg.HeaderLines); err != nil && err != io.EOF {
		return errors.Wrapf(ErrSourceUnavailable, "%s: %v", c.cfg.Source, err)
	}
	line, err := lines.next()
	switch {
	case err == io.EOF:
		return errors.Wrapf(ErrSchemaMismatch, "%s has no data after %d header lines", c.cfg.Source, c.cfg.HeaderLines)
	case err != nil:
		return errors.Wrapf(ErrSourceUnavailable, "%s: %v", c.cfg.Source, err)
	}
	if n, want := countColumns(line, byte(c.cfg.Separator)), c.cfg.minColumns(); n < want {
		return errors.Wrapf(ErrSchemaMismatch, "%s: first data line has %d columns, need %d", c.cfg.Source, n, want)
	}
	first := NewRow(c.cfg)
	if label, err := NewParser(c.cfg).Parse(line, first.Features); err == nil {
		first.Label = label
		c.first, c.hasFirst = first, true
	}
	return nil
}

func (c *Cursor) openInitial() (source, error) {
	switch c.cfg.Cache {
	case CacheDisabled:
		return c.openText()
	case CacheRenew:
		if err := removeCacheFiles(c.opts.fs, c.cfg); err != nil {
			klog.Warningf("bigdata: renew: %v", err)
		}
		return c.openText()
	}

	cache, err := c.openCache()
	if err == nil {
		return cache, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		klog.V(1).Infof("bigdata: no cache for %s yet, building it", c.cfg.Source)
	} else {
		klog.Warningf("bigdata: rejecting cache: %v", err)
		if err := c.opts.fs.Remove(c.cfg.CachePath()); err != nil && !os.IsNotExist(err) {
			klog.Warningf("bigdata: remove %s: %v", c.cfg.CachePath(), err)
		}
	}
	return c.openBuild()
}

func (c *Cursor) openText() (*textSource, error) {
	f, err := c.opts.fs.Open(c.cfg.Source)
	if err != nil {
		return nil, errors.Wrapf(ErrSourceUnavailable, "%s: %v", c.cfg.Source, err)
	}
	lines := newLineReader(f, byte(c.cfg.Newline))
	if _, err := lines.skip(c.cfg.HeaderLines); err != nil && err != io.EOF {
		_ = f.Close()
		return nil, errors.Wrapf(ErrSourceUnavailable, "%s: %v", c.cfg.Source, err)
	}
	return &textSource{file: f, lines: lines, parser: c.parser, stats: &c.stats}, nil
}

func (c *Cursor) openBuild() (*buildSource, error) {
	text, err := c.openText()
	if err != nil {
		return nil, err
	}
	w, err := createCacheWriter(c.opts.fs, c.cfg, c.codec)
	if err != nil {
		c.stats.writeFailures.Add(1)
		klog.Warningf("bigdata: %v, reading %s uncached this pass", err, c.cfg.Source)
	}
	return &buildSource{textSource: text, cache: w}, nil
}

func (c *Cursor) openCache() (*cacheSource, error) {
	path := c.cfg.CachePath()
	f, err := c.opts.fs.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(ErrCacheRead, "stat %s: %v", path, err)
	}
	if err := c.codec.Validate(info.Size()); err != nil {
		_ = f.Close()
		return nil, errors.WithMessage(err, path)
	}
	if err := c.matchFirstRecord(f); err != nil {
		_ = f.Close()
		return nil, err
	}
	s := &cacheSource{file: f, codec: c.codec, rec: make([]byte, c.codec.RecordSize()), stats: &c.stats}
	if c.opts.mmap {
		if data, unmap, ok := mmapFile(f, info.Size()); ok {
			s.r, s.unmap = bytes.NewReader(data), unmap
			return s, nil
		}
	}
	s.r = bufio.NewReaderSize(f, readBufferSize)
	return s, nil
}

// matchFirstRecord compares the first cache record with the first text row. Layouts
// with the same record width pass Validate but decode different values.
func (c *Cursor) matchFirstRecord(f afero.File) error {
	if !c.hasFirst {
		return nil
	}
	rec := make([]byte, c.codec.RecordSize())
	if _, err := f.ReadAt(rec, 0); err != nil {
		return errors.Wrapf(ErrCacheRead, "%s: %v", f.Name(), err)
	}
	features := make([]float64, c.codec.Features)
	label := c.codec.Decode(rec, features)
	same := !c.codec.HasLabel || math.Float64bits(label) == math.Float64bits(c.first.Label)
	for i, v := range features {
		same = same && math.Float64bits(v) == math.Float64bits(c.first.Features[i])
	}
	if !same {
		return errors.Wrapf(ErrCacheLayout, "%s: first record does not match the first row of %s", f.Name(), c.cfg.Source)
	}
	return nil
}

func (c *Cursor) setSource(s source) {
	c.src = s
	c.mode.Store(int32(s.mode()))
}

func (c *Cursor) enter() {
	if !c.busy.CompareAndSwap(false, true) {
		panic(ErrConcurrentAccess)
	}
}

func (c *Cursor) leave() { c.busy.Store(false) }

// Next reads the next valid row into row, whose Features must hold FeatureCount
// values. The end of the data, malformed rows and cache I/O failures are handled by
// reopening the dataset; only failures that leave nothing to read are returned.
func (c *Cursor) Next(row *Row) error {
	c.enter()
	defer c.leave()
	if c.src == nil {
		return ErrClosed
	}
	for {
		err := c.src.read(row)
		if err == nil {
			row.ID = c.rowIndex
			c.rowIndex++
			c.passRows++
			c.passStart = false
			return nil
		}
		if err := c.wrap(err); err != nil {
			return err
		}
	}
}

// wrap ends the current pass because of cause and starts the next one.
func (c *Cursor) wrap(cause error) error {
	switch {
	case cause == io.EOF:
	case errors.Is(cause, ErrMalformedRow):
		c.stats.malformed.Add(1)
		klog.V(1).Infof("bigdata: %s: %v after row %d, wrapping", c.cfg.Source, cause, c.rowIndex)
	case errors.Is(cause, ErrCacheRead):
		c.stats.readFailures.Add(1)
		klog.Warningf("bigdata: %v, reopening", cause)
	default:
		klog.Warningf("bigdata: reading %s: %v, reopening", c.cfg.Source, cause)
	}
	c.stats.wraps.Add(1)

	if c.passRows == 0 {
		c.emptyPasses++
		if c.emptyPasses >= 2 {
			return errors.Wrapf(ErrEmptySource, "%s: %v", c.cfg.Source, cause)
		}
	} else {
		c.emptyPasses = 0
	}
	c.passes++
	if cause == io.EOF && c.passFromTop && c.passRows > 0 {
		c.cleanPasses++
		c.lastCleanRows = c.passRows
	}
	c.passRows, c.rowIndex, c.passStart, c.passFromTop = 0, 0, true, true

	next, err := c.reopen(cause)
	if err != nil {
		return err
	}
	c.setSource(next)
	if next.mode() == ReadingTextBuildingCache {
		return nil
	}
	return c.skip()
}

// reopen closes the current source and opens the one the next pass reads from.
func (c *Cursor) reopen(cause error) (source, error) {
	old := c.src
	c.src = nil

	switch s := old.(type) {
	case *buildSource:
		var rows int64
		tainted := true
		if s.cache != nil {
			rows, tainted = s.cache.rows, s.cache.err != nil
		}
		if err := s.finish(cause == io.EOF); err != nil {
			if !tainted && errors.Is(err, ErrCacheWrite) {
				c.stats.writeFailures.Add(1)
			}
			c.stats.discards.Add(1)
			klog.Warningf("bigdata: discarding %s: %v", c.cfg.PartialCachePath(), err)
			return c.openBuild()
		}
		cache, err := c.openCache()
		if err != nil {
			klog.Warningf("bigdata: cannot read back new cache: %v, rebuilding", err)
			return c.openBuild()
		}
		c.stats.promotions.Add(1)
		klog.Infof("bigdata: cached %d rows of %s in %s", rows, c.cfg.Source, c.cfg.CachePath())
		return cache, nil

	case *cacheSource:
		_ = s.close()
		cache, err := c.openCache()
		if err == nil {
			return cache, nil
		}
		klog.Warningf("bigdata: reopen cache: %v, rebuilding from %s", err, c.cfg.Source)
		if err := c.opts.fs.Remove(c.cfg.CachePath()); err != nil && !os.IsNotExist(err) {
			klog.Warningf("bigdata: remove %s: %v", c.cfg.CachePath(), err)
		}
		return c.openBuild()
	}

	_ = old.close()
	return c.openText()
}

// skip discards a uniform number of rows in [0, RandSkip). A skip that runs into the
// end of the pass is abandoned and the pass starts over from the first row.
func (c *Cursor) skip() error {
	if c.cfg.RandSkip <= 0 {
		return nil
	}
	n := c.opts.rng.Intn(c.cfg.RandSkip)
	for i := 0; i < n; i++ {
		if err := c.src.read(&c.scratch); err != nil {
			klog.V(1).Infof("bigdata: skip of %d rows stopped after %d: %v", n, i, err)
			if errors.Is(err, ErrMalformedRow) {
				c.stats.malformed.Add(1)
			}
			c.stats.wraps.Add(1)
			next, err := c.reopen(err)
			if err != nil {
				return err
			}
			c.setSource(next)
			c.rowIndex, c.passStart, c.passFromTop = 0, true, true
			return nil
		}
		c.rowIndex++
		c.stats.skippedRows.Add(1)
	}
	if n > 0 {
		c.passStart, c.passFromTop = false, false
	}
	return nil
}

// LastPassRows returns the row count of the most recent pass that read the source
// from its first row to end-of-file. ok is false until such a pass has completed.
// Passes cut short by a malformed row or an I/O error, or started after a rand skip,
// are not counted. Like Next, it belongs to the goroutine using the cursor.
func (c *Cursor) LastPassRows() (rows int64, ok bool) {
	return c.lastCleanRows, c.cleanPasses > 0
}

// Mode returns the state the cursor is in.
func (c *Cursor) Mode() Mode { return Mode(c.mode.Load()) }

// Stats returns a snapshot of the counters.
func (c *Cursor) Stats() Stats {
	return c.stats.snapshot(c.parser.LenientTokens())
}

// Config returns the configuration the cursor was opened with.
func (c *Cursor) Config() Config { return c.cfg }

// Close releases the open files. A partial cache is left on disk to be truncated by
// the next build.
func (c *Cursor) Close() error {
	c.enter()
	defer c.leave()
	if c.src == nil {
		return nil
	}
	err := c.src.close()
	c.src = nil
	return err
}
