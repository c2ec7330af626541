package datasets

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// ValueWidth is the size in bytes of every value kept in a batch or in the binary cache.
const ValueWidth = 8

// NoLabel is the LabelColumn sentinel that disables labels.
const NoLabel = -1

// CacheMode selects how the binary cache is used.
type CacheMode int

const (
	// CacheDisabled always reads the text source.
	CacheDisabled CacheMode = iota
	// CacheEnabled builds the cache on the first full pass and reads it afterwards.
	CacheEnabled
	// CacheRenew deletes any existing cache files and reads the text source.
	CacheRenew
)

var cacheModeNames = map[CacheMode]string{
	CacheDisabled: "disabled",
	CacheEnabled:  "enabled",
	CacheRenew:    "renew",
}

// String implements fmt.Stringer.
func (m CacheMode) String() string {
	if s, ok := cacheModeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("CacheMode(%d)", int(m))
}

// MarshalText implements encoding.TextMarshaler.
func (m CacheMode) MarshalText() ([]byte, error) {
	s, ok := cacheModeNames[m]
	if !ok {
		return nil, errors.Errorf("unknown cache mode %d", int(m))
	}
	return []byte(s), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *CacheMode) UnmarshalText(text []byte) error {
	mode, err := ParseCacheMode(string(text))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// ParseCacheMode converts "disabled", "enabled" or "renew" (any case) into a CacheMode.
func ParseCacheMode(s string) (CacheMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for mode, name := range cacheModeNames {
		if name == s {
			return mode, nil
		}
	}
	return CacheDisabled, errors.Wrapf(ErrInvalidConfig, "unknown cache mode %q", s)
}

// Delim is a single-byte delimiter. In JSON it is a one character string; the escapes
// "\\t", "\\n" and "\\r" are accepted as well.
type Delim byte

// MarshalText implements encoding.TextMarshaler.
func (d Delim) MarshalText() ([]byte, error) {
	switch d {
	case '\t':
		return []byte(`\t`), nil
	case '\n':
		return []byte(`\n`), nil
	case '\r':
		return []byte(`\r`), nil
	}
	return []byte{byte(d)}, nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Delim) UnmarshalText(text []byte) error {
	switch string(text) {
	case `\t`:
		*d = '\t'
	case `\n`:
		*d = '\n'
	case `\r`:
		*d = '\r'
	default:
		if len(text) != 1 {
			return errors.Wrapf(ErrInvalidConfig, "delimiter %q is not a single byte", text)
		}
		*d = Delim(text[0])
	}
	return nil
}

// Config describes a delimited text source and how it is cut into batches.
type Config struct {
	// Source is the path of the text dataset. Cache files live next to it as
	// Source+"bin" and Source+"bin.part".
	Source string `json:"source"`

	// Separator and Newline are single-byte delimiters.
	Separator Delim `json:"separator"`
	Newline   Delim `json:"newline"`

	// HeaderLines leading lines are skipped every time the text source is opened.
	HeaderLines int `json:"header_lines"`

	// RandSkip bounds the number of rows discarded after each wrap.
	RandSkip int `json:"rand_skip"`

	Cache CacheMode `json:"cache"`

	// DataStart and DataEnd are the inclusive column range copied into the features.
	DataStart int `json:"data_start"`
	DataEnd   int `json:"data_end"`

	// LabelColumn is copied into the label, NoLabel disables it.
	LabelColumn int `json:"label_column"`

	// ChunkBytes is the byte budget of one batch's feature matrix.
	ChunkBytes int `json:"chunk_bytes"`
}

// DefaultConfig returns a comma separated, newline terminated configuration with no
// label, no cache and a 1 MB chunk. Source and the column range must still be set.
func DefaultConfig() Config {
	return Config{
		Separator:   ',',
		Newline:     '\n',
		Cache:       CacheDisabled,
		LabelColumn: NoLabel,
		ChunkBytes:  1_000_000,
	}
}

// LoadConfig reads a JSON configuration file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "decode config %s", path)
	}
	return cfg, nil
}

// HasLabel reports whether a label column is configured.
func (c Config) HasLabel() bool {
	return c.LabelColumn != NoLabel
}

// FeatureCount is the width of the feature vector.
func (c Config) FeatureCount() int {
	return c.DataEnd - c.DataStart + 1
}

// CachePath is where the finished binary cache lives.
func (c Config) CachePath() string {
	return c.Source + "bin"
}

// PartialCachePath is where an in-progress cache is staged.
func (c Config) PartialCachePath() string {
	return c.Source + "bin.part"
}

// minColumns is the number of columns a row needs to satisfy the configuration.
func (c Config) minColumns() int {
	n := c.DataEnd + 1
	if c.HasLabel() && c.LabelColumn+1 > n {
		n = c.LabelColumn + 1
	}
	return n
}

// Validate checks the configuration without touching the filesystem.
func (c Config) Validate() error {
	switch {
	case c.Source == "":
		return errors.Wrap(ErrInvalidConfig, "empty source path")
	case c.DataStart < 0:
		return errors.Wrapf(ErrInvalidConfig, "data_start %d is negative", c.DataStart)
	case c.DataEnd < c.DataStart:
		return errors.Wrapf(ErrInvalidConfig, "data_end %d is before data_start %d", c.DataEnd, c.DataStart)
	case c.LabelColumn < NoLabel:
		return errors.Wrapf(ErrInvalidConfig, "label_column %d is invalid", c.LabelColumn)
	case c.Separator == c.Newline:
		return errors.Wrapf(ErrInvalidConfig, "separator and newline are both %q", c.Separator)
	case c.HeaderLines < 0:
		return errors.Wrapf(ErrInvalidConfig, "header_lines %d is negative", c.HeaderLines)
	case c.RandSkip < 0:
		return errors.Wrapf(ErrInvalidConfig, "rand_skip %d is negative", c.RandSkip)
	case c.Cache < CacheDisabled || c.Cache > CacheRenew:
		return errors.Wrapf(ErrInvalidConfig, "cache mode %d", int(c.Cache))
	}
	if c.ChunkBytes/(c.FeatureCount()*ValueWidth) < 1 {
		return errors.Wrapf(ErrInvalidConfig, "chunk of %d bytes cannot hold one row of %d features",
			c.ChunkBytes, c.FeatureCount())
	}
	return nil
}

// Shape derives the batch geometry. withLabels and withIDs record which optional
// outputs the consumer asked for; labels are only produced when a column is configured.
func (c Config) Shape(withLabels, withIDs bool) Shape {
	f := c.FeatureCount()
	return Shape{
		Features:  f,
		BatchSize: c.ChunkBytes / (f * ValueWidth),
		HasLabel:  withLabels && c.HasLabel(),
		HasID:     withIDs,
	}
}

// Shape is the geometry shared by every batch of a dataset.
type Shape struct {
	Features  int
	BatchSize int
	HasLabel  bool
	HasID     bool
}

// String implements fmt.Stringer.
func (s Shape) String() string {
	return fmt.Sprintf("[%d x %d] label=%t id=%t", s.BatchSize, s.Features, s.HasLabel, s.HasID)
}
