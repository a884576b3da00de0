package bdastate

import (
	"fmt"
	"strconv"
	"time"
)

// Stats is the runtime-statistics block surfaced by a running driver,
// grounded in original_source/bda/src/state.rs's get_bda_status: thread
// count, elapsed time, paths interpreted, average sample/interpret
// time, max path length, and the countdown to the next iCFG fold.
type Stats struct {
	NumThreads int
	StartedAt  time.Time

	PathsInterpreted    uint64
	TotalSampleTime     time.Duration
	TotalInterpretTime  time.Duration
	MaxPathLen          int
	ICFGUpdateCountdown int
}

// Elapsed returns the time since the run started.
func (s Stats) Elapsed() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	return time.Since(s.StartedAt)
}

// AvgSampleTime returns the mean per-path sampling time, or zero if no
// path has been interpreted yet.
func (s Stats) AvgSampleTime() time.Duration {
	if s.PathsInterpreted == 0 {
		return 0
	}
	return s.TotalSampleTime / time.Duration(s.PathsInterpreted)
}

// AvgInterpretTime returns the mean per-path interpretation time, or
// zero if no path has been interpreted yet.
func (s Stats) AvgInterpretTime() time.Duration {
	if s.PathsInterpreted == 0 {
		return 0
	}
	return s.TotalInterpretTime / time.Duration(s.PathsInterpreted)
}

// StatusLine renders the one-line human-readable status the original
// refreshes via a spinner, e.g.:
//
//	threads=4 elapsed=1m32s paths=128,417 avg_sample=12µs avg_interpret=340µs max_path=96 icfg_update_in=3
func (s Stats) StatusLine() string {
	return fmt.Sprintf(
		"threads=%d elapsed=%s paths=%s avg_sample=%s avg_interpret=%s max_path=%d icfg_update_in=%d",
		s.NumThreads,
		s.Elapsed().Round(time.Millisecond),
		groupThousands(s.PathsInterpreted),
		s.AvgSampleTime(),
		s.AvgInterpretTime(),
		s.MaxPathLen,
		s.ICFGUpdateCountdown,
	)
}

// groupThousands inserts comma separators every three digits, matching
// the original's comma-grouped path count. No example repo carries a
// number-formatting library (golang.org/x/text/message is not part of
// the pack's dependency surface), so this is a small hand-rolled
// stdlib helper rather than a pulled-in dependency.
func groupThousands(n uint64) string {
	s := strconv.FormatUint(n, 10)
	if len(s) <= 3 {
		return s
	}
	var out []byte
	lead := len(s) % 3
	if lead == 0 {
		lead = 3
	}
	out = append(out, s[:lead]...)
	for i := lead; i < len(s); i += 3 {
		out = append(out, ',')
		out = append(out, s[i:i+3]...)
	}
	return string(out)
}
