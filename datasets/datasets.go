// Package datasets streams a delimited text file that is too large for memory into
// fixed-size numeric batches, cycling over it forever.
//
// The pieces, from the bottom up:
//
//   - Parser turns one line into a feature vector and an optional label. Tokens that
//     are not numbers read as 0.
//   - Codec encodes a parsed row as a fixed-width little-endian record.
//   - Cursor owns the open files and walks the rows, reopening the dataset at the end
//     of each pass. With CacheEnabled the first complete pass also writes every row to
//     Source+"bin.part", which is renamed to Source+"bin" once the pass ends cleanly;
//     later passes decode the binary file instead of parsing text.
//   - Assembler fills a Batch with consecutive rows, stamping labels and row ids.
//
// A Cursor and its Assembler belong to one goroutine. See package prefetch for
// running them in the background and package layer for the consumer-facing surface.
//
// Typical use:
//
//	cfg := datasets.DefaultConfig()
//	cfg.Source, cfg.DataStart, cfg.DataEnd = "train.csv", 1, 5
//	cur, err := datasets.NewCursor(cfg)
//	...
//	asm := datasets.NewAssembler(cur, cfg.Shape(true, true))
//	b := datasets.NewBatch(asm.Shape())
//	err = asm.Fill(ctx, b)
package datasets
