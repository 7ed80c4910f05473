package gsm

import "math"

// Outcome is the terminal result of one search attempt.
type Outcome int

const (
	// NotFound means the scanned samples held no burst; Consumed covers them.
	NotFound Outcome = iota
	// Found means a burst was located and the receiver state was updated.
	Found
	// NeedMore means the burst region has not been reached or does not fit
	// the supplied buffer yet.
	NeedMore
)

func (o Outcome) String() string {
	switch o {
	case NotFound:
		return "not_found"
	case Found:
		return "found"
	case NeedMore:
		return "need_more"
	default:
		return "unknown"
	}
}

// SearchResult reports how many input samples a search consumed and how it ended.
type SearchResult struct {
	Consumed int
	Outcome  Outcome
}

// OffsetStats accumulates every FCCH frequency estimate for diagnostics.
type OffsetStats struct {
	Count int
	Sum   float64
	SumSq float64
}

func (s *OffsetStats) add(v float64) {
	s.Count++
	s.Sum += v
	s.SumSq += v * v
}

// Mean returns the average estimate, or 0 before the first detection.
func (s OffsetStats) Mean() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / float64(s.Count)
}

// StdDev returns the population standard deviation of the estimates.
func (s OffsetStats) StdDev() float64 {
	if s.Count == 0 {
		return 0
	}
	mean := s.Mean()
	v := s.SumSq/float64(s.Count) - mean*mean
	if v < 0 {
		return 0
	}
	return math.Sqrt(v)
}
