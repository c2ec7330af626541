// Command bigdata streams a delimited text dataset through the batch pipeline,
// reporting what it reads and optionally fitting a linear regressor on it.
//
// Usage:
//
//	bigdata -source train.csv -header 1 -data-start 1 -data-end 5 -label 6 -cache enabled -train
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/davecgh/go-spew/spew"
	"k8s.io/klog/v2"

	"github.com/Noofbiz/bigdata/datasets"
	"github.com/Noofbiz/bigdata/layer"
	"github.com/Noofbiz/bigdata/simple"
)

func main() {
	klog.InitFlags(nil)
	fv := registerFlags(flag.CommandLine)
	flag.Parse()
	defer klog.Flush()

	cfg, err := fv.resolve(flag.CommandLine)
	if *fv.printConfig {
		spew.Config.Indent = "  "
		spew.Config.DisablePointerAddresses = true
		spew.Fdump(os.Stdout, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "configuration is not usable: %v\n", err)
			os.Exit(2)
		}
		return
	}
	if err != nil {
		klog.Exitf("configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		klog.Exitf("%+v", err)
	}
}

func run(ctx context.Context, cfg runConfig) error {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	src, err := datasets.ResolveSource(nil, cfg.Dataset.Source)
	if err != nil {
		return err
	}
	if src != cfg.Dataset.Source {
		klog.Infof("using %s for %s", src, cfg.Dataset.Source)
		cfg.Dataset.Source = src
	}

	out := layer.Outputs{Labels: cfg.Dataset.HasLabel(), IDs: true}
	l, err := layer.Setup(cfg.Dataset, out,
		layer.WithPrefetchDepth(cfg.PrefetchDepth),
		layer.WithMmap(cfg.Mmap),
		layer.WithRand(rand.New(rand.NewSource(seed))),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := l.Shutdown(); err != nil {
			klog.Warningf("shutdown: %v", err)
		}
	}()
	if err := l.StartPrefetch(); err != nil {
		return err
	}

	start := time.Now()
	var summary streamSummary
	if cfg.Train {
		err = train(ctx, l, cfg, &summary)
	} else {
		err = scan(ctx, l, cfg.Batches, &summary)
	}
	if err != nil {
		return err
	}

	st := l.Stats()
	klog.Infof("read %d batches in %v: mode=%s text_rows=%d cache_rows=%d wraps=%d malformed=%d lenient=%d promotions=%d",
		st.Prefetch.Consumed, time.Since(start).Round(time.Millisecond), st.Mode,
		st.Reader.TextRows, st.Reader.CacheRows, st.Reader.Wraps, st.Reader.Malformed,
		st.Reader.Lenient, st.Reader.CachePromotions)
	klog.V(1).Infof("producer spent %v filling batches", st.Prefetch.FillTime)

	if cfg.PlotDir == "" {
		return nil
	}
	return summary.plot(cfg.PlotDir)
}

// scan reads n batches and records their labels and checksums.
func scan(ctx context.Context, l *layer.Layer, n int, summary *streamSummary) error {
	for i := 0; i < n; i++ {
		b, err := l.NextBatch(ctx)
		if err != nil {
			return err
		}
		summary.observe(b)
		klog.V(1).Infof("batch %d: %d rows, ids %d..%d, checksum %016x",
			i, b.Len(), b.ID(0), b.ID(b.Len()-1), b.Checksum())
		l.Release(b)
	}
	return nil
}

func train(ctx context.Context, l *layer.Layer, cfg runConfig, summary *streamSummary) error {
	model, err := simple.NewModel(l.Shape().Features, cfg.Training)
	if err != nil {
		return err
	}
	src := &observingSource{Layer: l, summary: summary}
	losses, err := model.Fit(ctx, src)
	summary.losses = losses
	if err != nil {
		return err
	}
	if n := len(losses); n > 0 {
		klog.Infof("trained %d steps, loss %.6g -> %.6g", n, losses[0], losses[n-1])
	}
	return nil
}

// observingSource records every batch on its way to the model.
type observingSource struct {
	*layer.Layer
	summary *streamSummary
}

func (s *observingSource) NextBatch(ctx context.Context) (*datasets.Batch, error) {
	b, err := s.Layer.NextBatch(ctx)
	if err == nil {
		s.summary.observe(b)
	}
	return b, err
}
