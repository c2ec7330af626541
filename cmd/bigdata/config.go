package main

import (
	"encoding/json"
	"flag"
	"os"

	"github.com/pkg/errors"

	"github.com/Noofbiz/bigdata/datasets"
	"github.com/Noofbiz/bigdata/prefetch"
	"github.com/Noofbiz/bigdata/simple"
)

// runConfig is the JSON document accepted by -config. Command line flags that were
// set explicitly win over it.
type runConfig struct {
	Dataset       datasets.Config `json:"dataset"`
	Training      simple.Config   `json:"training"`
	PrefetchDepth int             `json:"prefetch_depth"`
	Batches       int             `json:"batches"`
	Train         bool            `json:"train"`
	Mmap          bool            `json:"mmap"`
	Seed          int64           `json:"seed"`
	PlotDir       string          `json:"plot_dir"`
}

func defaultRunConfig() runConfig {
	return runConfig{
		Dataset:       datasets.DefaultConfig(),
		PrefetchDepth: prefetch.DefaultDepth,
		Batches:       10,
		Mmap:          true,
		PlotDir:       "plots",
	}
}

func loadRunConfig(path string) (runConfig, error) {
	cfg := defaultRunConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read %s", path)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "decode %s", path)
	}
	return cfg, nil
}

// flagValues mirrors runConfig for the command line.
type flagValues struct {
	config      *string
	printConfig *bool

	source     *string
	separator  *string
	newline    *string
	header     *int
	dataStart  *int
	dataEnd    *int
	label      *int
	chunkBytes *int
	cache      *string
	randSkip   *int
	depth      *int
	batches    *int
	train      *bool
	steps      *int
	lr         *float64
	seed       *int64
	mmap       *bool
	plotDir    *string
}

func registerFlags(fs *flag.FlagSet) *flagValues {
	d := defaultRunConfig()
	return &flagValues{
		config:      fs.String("config", "", "path to a JSON run configuration"),
		printConfig: fs.Bool("print-effective-config", false, "print the merged configuration and exit"),

		source:     fs.String("source", "", "delimited text dataset"),
		separator:  fs.String("separator", ",", `column separator, one byte or \t`),
		newline:    fs.String("newline", `\n`, `row terminator, one byte or \n, \r`),
		header:     fs.Int("header", 0, "header lines to skip"),
		dataStart:  fs.Int("data-start", 0, "first feature column"),
		dataEnd:    fs.Int("data-end", 0, "last feature column (inclusive)"),
		label:      fs.Int("label", datasets.NoLabel, "label column, -1 for none"),
		chunkBytes: fs.Int("chunk-bytes", d.Dataset.ChunkBytes, "byte budget of one batch"),
		cache:      fs.String("cache", d.Dataset.Cache.String(), "binary cache mode: disabled, enabled or renew"),
		randSkip:   fs.Int("rand-skip", 0, "upper bound on rows skipped after each wrap"),
		depth:      fs.Int("depth", d.PrefetchDepth, "batches kept in flight"),
		batches:    fs.Int("batches", d.Batches, "batches to read when not training"),
		train:      fs.Bool("train", false, "fit a linear regressor on the stream"),
		steps:      fs.Int("steps", 100, "training steps"),
		lr:         fs.Float64("learning-rate", 0.05, "training learning rate"),
		seed:       fs.Int64("seed", 0, "seed for the row skip and weight init, 0 for time based"),
		mmap:       fs.Bool("mmap", d.Mmap, "memory map the finished cache"),
		plotDir:    fs.String("plots", d.PlotDir, "directory for the generated plots, empty to skip"),
	}
}

// resolve loads the JSON configuration, if any, and applies the flags the user set.
func (fv *flagValues) resolve(fs *flag.FlagSet) (runConfig, error) {
	cfg := defaultRunConfig()
	if *fv.config != "" {
		var err error
		if cfg, err = loadRunConfig(*fv.config); err != nil {
			return cfg, err
		}
	}

	var err error
	fs.Visit(func(f *flag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "source":
			cfg.Dataset.Source = *fv.source
		case "separator":
			err = cfg.Dataset.Separator.UnmarshalText([]byte(*fv.separator))
		case "newline":
			err = cfg.Dataset.Newline.UnmarshalText([]byte(*fv.newline))
		case "header":
			cfg.Dataset.HeaderLines = *fv.header
		case "data-start":
			cfg.Dataset.DataStart = *fv.dataStart
		case "data-end":
			cfg.Dataset.DataEnd = *fv.dataEnd
		case "label":
			cfg.Dataset.LabelColumn = *fv.label
		case "chunk-bytes":
			cfg.Dataset.ChunkBytes = *fv.chunkBytes
		case "cache":
			cfg.Dataset.Cache, err = datasets.ParseCacheMode(*fv.cache)
		case "rand-skip":
			cfg.Dataset.RandSkip = *fv.randSkip
		case "depth":
			cfg.PrefetchDepth = *fv.depth
		case "batches":
			cfg.Batches = *fv.batches
		case "train":
			cfg.Train = *fv.train
		case "steps":
			cfg.Training.Steps = *fv.steps
		case "learning-rate":
			cfg.Training.LearningRate = *fv.lr
		case "seed":
			cfg.Seed = *fv.seed
		case "mmap":
			cfg.Mmap = *fv.mmap
		case "plots":
			cfg.PlotDir = *fv.plotDir
		}
		if err != nil {
			err = errors.WithMessagef(err, "flag -%s", f.Name)
		}
	})
	if err != nil {
		return cfg, err
	}
	if cfg.Training.Seed == 0 {
		cfg.Training.Seed = cfg.Seed
	}
	return cfg, cfg.Dataset.Validate()
}
