package main

// Example command that streams the bundled sample file through a cursor and an
// assembler on the calling goroutine, without the background pipeline. It prints
// a few batches and shows the cache being built and then used.
//
// Usage:
//   go run ./datasets/example -source testdata/bigdata.csv

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/Noofbiz/bigdata/datasets"
)

func main() {
	klog.InitFlags(nil)
	source := flag.String("source", "testdata/bigdata.csv", "sample dataset: a header, then rows of 7 columns")
	batches := flag.Int("batches", 3, "batches to print")
	flag.Parse()

	if err := run(*source, *batches); err != nil {
		klog.Errorf("%v", err)
		klog.Flush()
		os.Exit(1)
	}
	klog.Flush()
}

func run(source string, batches int) error {
	// Work on a copy so the cache files land in a scratch directory.
	tmp, err := os.MkdirTemp("", "bigdata-example")
	if err != nil {
		return errors.Wrap(err, "temp dir")
	}
	defer os.RemoveAll(tmp)
	data, err := os.ReadFile(source)
	if err != nil {
		return errors.Wrap(err, "read sample")
	}
	path := filepath.Join(tmp, filepath.Base(source))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "copy sample")
	}

	cfg := datasets.DefaultConfig()
	cfg.Source = path
	cfg.HeaderLines = 1
	cfg.DataStart, cfg.DataEnd = 1, 5
	cfg.LabelColumn = 6
	cfg.Cache = datasets.CacheEnabled
	cfg.ChunkBytes = 2 * cfg.FeatureCount() * datasets.ValueWidth

	cur, err := datasets.NewCursor(cfg)
	if err != nil {
		return errors.WithMessage(err, "open")
	}
	defer cur.Close()

	asm := datasets.NewAssembler(cur, cfg.Shape(true, true))
	b := datasets.NewBatch(asm.Shape())
	fmt.Printf("batch shape %s, starting in %s mode\n", asm.Shape(), cur.Mode())

	for i := 0; i < batches; i++ {
		if err := asm.Fill(context.Background(), b); err != nil {
			return errors.WithMessage(err, "fill")
		}
		fmt.Printf("batch %d (%s):\n", i, cur.Mode())
		for r := 0; r < b.Len(); r++ {
			fmt.Printf("  id=%d label=%g features=%v\n", b.ID(r), b.Label(r), b.Features(r))
		}
	}

	if _, err := os.Stat(cfg.CachePath()); err == nil {
		fmt.Printf("cache written to %s\n", cfg.CachePath())
	}
	st := cur.Stats()
	fmt.Printf("text rows %d, cache rows %d, wraps %d\n", st.TextRows, st.CacheRows, st.Wraps)
	return nil
}
