package datasets

import (
	"context"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// cancelCheckRows is how often Fill looks at its context.
const cancelCheckRows = 256

// Assembler fills batches with consecutive rows of a Cursor.
//
// Batches are always filled to BatchSize. When the dataset has fewer rows than a
// batch, the rows repeat in order, and because the result is then the same for every
// later call it is kept and copied instead of being read again.
type Assembler struct {
	cursor *Cursor
	shape  Shape
	row    Row

	single *Batch
}

// NewAssembler returns an assembler producing batches of shape from c.
func NewAssembler(c *Cursor, shape Shape) *Assembler {
	return &Assembler{cursor: c, shape: shape}
}

// Shape is the shape of the batches Fill accepts.
func (a *Assembler) Shape() Shape { return a.shape }

// SingleChunk reports whether the whole dataset was found to fit in one batch.
func (a *Assembler) SingleChunk() bool { return a.single != nil }

// Fill overwrites b with the next BatchSize rows. The context is checked between
// rows; when it is done Fill returns its error and b must be considered garbage.
func (a *Assembler) Fill(ctx context.Context, b *Batch) error {
	if b.Shape() != a.shape {
		return errors.Wrapf(ErrInvalidConfig, "batch shape %s, assembler shape %s", b.Shape(), a.shape)
	}
	if a.single != nil {
		b.CopyFrom(a.single)
		return nil
	}

	b.reset()
	fresh := a.cursor.passStart && a.cursor.passFromTop
	passes, clean := a.cursor.passes, a.cursor.cleanPasses
	for i := 0; !b.Full(); i++ {
		if i%cancelCheckRows == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		a.row.Features = b.slot()
		if err := a.cursor.Next(&a.row); err != nil {
			return err
		}
		b.commit(a.row.Label, a.row.ID)
	}

	if fresh && a.smallerThanBatch(passes, clean) {
		a.single = NewBatch(a.shape)
		a.single.CopyFrom(b)
		klog.Infof("bigdata: %s is smaller than one batch of %d rows, reusing it",
			a.cursor.cfg.Source, a.shape.BatchSize)
	}
	return nil
}

// smallerThanBatch reports whether every pass that ended since the counters were
// taken read the whole source, and the source had fewer rows than a batch.
func (a *Assembler) smallerThanBatch(passes, clean uint64) bool {
	ended := a.cursor.passes - passes
	if ended == 0 || a.cursor.cleanPasses-clean != ended {
		return false
	}
	rows, ok := a.cursor.LastPassRows()
	return ok && rows < int64(a.shape.BatchSize)
}
