package datasets

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
	"gonum.org/v1/gonum/mat"
)

// Batch holds up to Shape.BatchSize rows in flat, pre-allocated buffers. Row i owns
// Data[i*Features:(i+1)*Features], Labels[i] and IDs[i]; the three always describe
// the same source row.
type Batch struct {
	shape Shape
	n     int

	// Data is the row-major feature matrix.
	Data []float64
	// Labels is nil unless the shape has labels.
	Labels []float64
	// IDs is nil unless the shape has ids.
	IDs []int64
}

// NewBatch allocates the buffers for one batch of the given shape.
func NewBatch(shape Shape) *Batch {
	b := &Batch{
		shape: shape,
		Data:  make([]float64, shape.BatchSize*shape.Features),
	}
	if shape.HasLabel {
		b.Labels = make([]float64, shape.BatchSize)
	}
	if shape.HasID {
		b.IDs = make([]int64, shape.BatchSize)
	}
	return b
}

// Shape returns the geometry the batch was allocated with.
func (b *Batch) Shape() Shape { return b.shape }

// Len is the number of valid rows.
func (b *Batch) Len() int { return b.n }

// Full reports whether every row of the batch is valid.
func (b *Batch) Full() bool { return b.n == b.shape.BatchSize }

// Features returns the feature vector of row i, sharing the batch buffer.
func (b *Batch) Features(i int) []float64 {
	f := b.shape.Features
	return b.Data[i*f : (i+1)*f : (i+1)*f]
}

// Label returns the label of row i, or 0 if the batch has no labels.
func (b *Batch) Label(i int) float64 {
	if b.Labels == nil {
		return 0
	}
	return b.Labels[i]
}

// ID returns the id of row i, or -1 if the batch has no ids.
func (b *Batch) ID(i int) int64 {
	if b.IDs == nil {
		return -1
	}
	return b.IDs[i]
}

// Matrix returns the valid rows as a gonum matrix that shares Data. It returns nil
// for an empty batch, which gonum cannot represent.
func (b *Batch) Matrix() *mat.Dense {
	if b.n == 0 {
		return nil
	}
	return mat.NewDense(b.n, b.shape.Features, b.Data[:b.n*b.shape.Features])
}

// Checksum is an xxhash64 digest of the valid rows, labels and ids.
func (b *Batch) Checksum() uint64 {
	d := xxhash.New()
	var buf [8]byte
	put := func(u uint64) {
		binary.LittleEndian.PutUint64(buf[:], u)
		_, _ = d.Write(buf[:])
	}
	for _, v := range b.Data[:b.n*b.shape.Features] {
		put(math.Float64bits(v))
	}
	if b.Labels != nil {
		for _, v := range b.Labels[:b.n] {
			put(math.Float64bits(v))
		}
	}
	if b.IDs != nil {
		for _, v := range b.IDs[:b.n] {
			put(uint64(v))
		}
	}
	return d.Sum64()
}

// CopyFrom replaces the contents of b with those of src. Both must share a shape.
func (b *Batch) CopyFrom(src *Batch) {
	if b.shape != src.shape {
		panic("datasets: CopyFrom between batches of different shapes")
	}
	copy(b.Data, src.Data)
	copy(b.Labels, src.Labels)
	copy(b.IDs, src.IDs)
	b.n = src.n
}

// reset marks every row invalid without touching the buffers.
func (b *Batch) reset() { b.n = 0 }

// slot returns the feature buffer of the next free row. Writing to it has no effect
// on Len until commit is called.
func (b *Batch) slot() []float64 {
	return b.Features(b.n)
}

// commit marks the next free row valid, stamping its label and id.
func (b *Batch) commit(label float64, id int64) {
	if b.Labels != nil {
		b.Labels[b.n] = label
	}
	if b.IDs != nil {
		b.IDs[b.n] = id
	}
	b.n++
}
