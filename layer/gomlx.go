package layer

import (
	"context"
	"io"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// StreamDataset presents a Layer as a gomlx training dataset. Each Yield takes one
// batch, copies it into tensors and releases it straight away.
//
// Inputs are a single [BatchSize, Features] float64 tensor. Labels are a [BatchSize, 1]
// float64 tensor when the layer produces labels, and the row ids are appended as a
// [BatchSize] int64 tensor when it produces ids.
type StreamDataset struct {
	layer *Layer
	name  string
	ctx   context.Context

	// EpochBatches makes Yield return io.EOF after that many batches, until Reset.
	// Zero streams forever.
	EpochBatches int
	yielded      int
}

// NewStreamDataset wraps l. ctx bounds every wait for a batch.
func NewStreamDataset(ctx context.Context, name string, l *Layer) *StreamDataset {
	return &StreamDataset{layer: l, name: name, ctx: ctx}
}

// Name implements train.Dataset.
func (d *StreamDataset) Name() string { return d.name }

// Reset implements train.Dataset. The stream itself never rewinds; only the epoch
// counter does.
func (d *StreamDataset) Reset() { d.yielded = 0 }

// Yield implements train.Dataset.
func (d *StreamDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	if d.EpochBatches > 0 && d.yielded >= d.EpochBatches {
		return nil, nil, nil, io.EOF
	}
	b, err := d.layer.NextBatch(d.ctx)
	if err != nil {
		return nil, nil, nil, errors.WithMessage(err, d.name)
	}
	defer d.layer.Release(b)

	shape := b.Shape()
	n := b.Len()
	inputs = []*tensors.Tensor{
		tensors.FromFlatDataAndDimensions(append([]float64(nil), b.Data[:n*shape.Features]...), n, shape.Features),
	}
	if b.Labels != nil {
		labels = append(labels, tensors.FromFlatDataAndDimensions(append([]float64(nil), b.Labels[:n]...), n, 1))
	}
	if b.IDs != nil {
		labels = append(labels, tensors.FromFlatDataAndDimensions(append([]int64(nil), b.IDs[:n]...), n))
	}
	d.yielded++
	return d.name, inputs, labels, nil
}
