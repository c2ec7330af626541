package datasets

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// Codec encodes one row as a fixed-width record:
//
//	[label float64 LE, only if HasLabel][features: Features x float64 LE]
//
// Records carry no header or delimiter; their width follows from the layout, so a
// cache file is only readable with the layout it was written with.
type Codec struct {
	Features int
	HasLabel bool
}

// NewCodec returns the codec matching the column layout of cfg.
func NewCodec(cfg Config) Codec {
	return Codec{Features: cfg.FeatureCount(), HasLabel: cfg.HasLabel()}
}

// RecordSize is the width in bytes of one encoded row.
func (c Codec) RecordSize() int {
	n := c.Features
	if c.HasLabel {
		n++
	}
	return n * ValueWidth
}

// Encode writes the record for (label, features) into dst, which must hold
// RecordSize() bytes. label is ignored when the codec has no label.
func (c Codec) Encode(dst []byte, label float64, features []float64) {
	off := 0
	if c.HasLabel {
		binary.LittleEndian.PutUint64(dst[off:], math.Float64bits(label))
		off += ValueWidth
	}
	for _, v := range features[:c.Features] {
		binary.LittleEndian.PutUint64(dst[off:], math.Float64bits(v))
		off += ValueWidth
	}
}

// Decode reads one record from src into features and returns the label, which is 0
// when the codec has no label.
func (c Codec) Decode(src []byte, features []float64) (label float64) {
	off := 0
	if c.HasLabel {
		label = math.Float64frombits(binary.LittleEndian.Uint64(src[off:]))
		off += ValueWidth
	}
	for i := range features[:c.Features] {
		features[i] = math.Float64frombits(binary.LittleEndian.Uint64(src[off:]))
		off += ValueWidth
	}
	return label
}

// Validate checks that a cache file of size bytes can hold whole records of this
// layout. Two layouts with the same record width both pass; the cursor tells them
// apart by decoding the first record.
func (c Codec) Validate(size int64) error {
	rec := int64(c.RecordSize())
	if size <= 0 {
		return errors.Wrap(ErrCacheLayout, "cache is empty")
	}
	if size%rec != 0 {
		return errors.Wrapf(ErrCacheLayout, "cache size %d is not a multiple of record size %d", size, rec)
	}
	return nil
}
