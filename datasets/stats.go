package datasets

import "sync/atomic"

// Stats is a snapshot of what a Cursor has done since it was created.
type Stats struct {
	TextRows    uint64 // valid rows parsed from the text source
	CacheRows   uint64 // rows decoded from the binary cache
	SkippedRows uint64 // valid rows dropped by the rand skip after a wrap
	Malformed   uint64 // lines with too few columns, each of which ended a pass
	Lenient     uint64 // tokens that were not numbers and were read as 0
	Wraps       uint64

	CachePromotions    uint64
	CacheDiscards      uint64
	CacheWriteFailures uint64
	CacheReadFailures  uint64
}

// DiskRows is the number of rows read from disk in either representation.
func (s Stats) DiskRows() uint64 {
	return s.TextRows + s.CacheRows
}

// cursorStats holds the live counters. Only the producer goroutine writes them, but
// Stats may be called from anywhere.
type cursorStats struct {
	textRows    atomic.Uint64
	cacheRows   atomic.Uint64
	skippedRows atomic.Uint64
	malformed   atomic.Uint64
	wraps       atomic.Uint64

	promotions    atomic.Uint64
	discards      atomic.Uint64
	writeFailures atomic.Uint64
	readFailures  atomic.Uint64
}

func (s *cursorStats) snapshot(lenient uint64) Stats {
	return Stats{
		TextRows:           s.textRows.Load(),
		CacheRows:          s.cacheRows.Load(),
		SkippedRows:        s.skippedRows.Load(),
		Malformed:          s.malformed.Load(),
		Lenient:            lenient,
		Wraps:              s.wraps.Load(),
		CachePromotions:    s.promotions.Load(),
		CacheDiscards:      s.discards.Load(),
		CacheWriteFailures: s.writeFailures.Load(),
		CacheReadFailures:  s.readFailures.Load(),
	}
}
