package datasets

import (
	"bytes"
	"strconv"
	"sync/atomic"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Parser turns one delimited line into a feature vector and an optional label.
// It holds no state between lines beyond a counter of lenient conversions, which is
// safe to read from any goroutine.
type Parser struct {
	sep         byte
	dataStart   int
	dataEnd     int
	labelColumn int

	// lenient counts tokens that were not valid numbers and were read as 0.
	lenient atomic.Uint64
}

// NewParser creates a parser for the column layout of cfg.
func NewParser(cfg Config) *Parser {
	return &Parser{
		sep:         byte(cfg.Separator),
		dataStart:   cfg.DataStart,
		dataEnd:     cfg.DataEnd,
		labelColumn: cfg.LabelColumn,
	}
}

// Features returns the width of the feature vector produced by Parse.
func (p *Parser) Features() int {
	return p.dataEnd - p.dataStart + 1
}

// Parse splits line on the separator and writes the configured column range into
// features, which must hold at least Features() values. The label is only
// meaningful when a label column is configured.
//
// Columns past the feature range and the label are never looked at. A line with too
// few feature columns, or without its label column, returns ErrMalformedRow and leaves
// features partially written.
func (p *Parser) Parse(line []byte, features []float64) (label float64, err error) {
	if len(bytes.TrimRight(line, "\r")) == 0 {
		return 0, errors.Wrap(ErrMalformedRow, "blank line")
	}
	want := p.Features()
	gotFeatures := 0
	gotLabel := p.labelColumn == NoLabel
	col := 0
	for rest := line; ; col++ {
		if gotFeatures == want && gotLabel {
			break
		}
		var token []byte
		i := bytes.IndexByte(rest, p.sep)
		if i < 0 {
			token = rest
		} else {
			token = rest[:i]
		}

		if col >= p.dataStart && col <= p.dataEnd {
			features[gotFeatures] = p.parseValue(token)
			gotFeatures++
		}
		if col == p.labelColumn {
			label = p.parseValue(token)
			gotLabel = true
		}

		if i < 0 {
			break
		}
		rest = rest[i+1:]
	}

	if gotFeatures < want {
		return 0, errors.Wrapf(ErrMalformedRow, "got %d of %d features in %d columns", gotFeatures, want, col+1)
	}
	if !gotLabel {
		return 0, errors.Wrapf(ErrMalformedRow, "label column %d missing in %d columns", p.labelColumn, col+1)
	}
	return label, nil
}

// parseValue converts a token leniently: anything that is not a number reads as 0.
func (p *Parser) parseValue(token []byte) float64 {
	token = bytes.TrimSpace(token)
	v, err := strconv.ParseFloat(string(token), 64)
	if err != nil {
		if numErr, ok := err.(*strconv.NumError); ok && numErr.Err == strconv.ErrRange {
			// ParseFloat already returned ±Inf or 0, which is the closest value.
			return v
		}
		p.lenient.Add(1)
		if klog.V(2).Enabled() {
			klog.Infof("bigdata: non-numeric token %q read as 0", token)
		}
		return 0
	}
	return v
}

// LenientTokens returns how many tokens were read as 0 because they were not numbers.
func (p *Parser) LenientTokens() uint64 {
	return p.lenient.Load()
}

// countColumns returns the number of separator-delimited columns in line.
func countColumns(line []byte, sep byte) int {
	return bytes.Count(line, []byte{sep}) + 1
}
