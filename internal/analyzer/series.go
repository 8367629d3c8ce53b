package analyzer

import (
	"slices"
	"time"
)

// Series is the per-second amplitude history. All three slices have equal
// length and Timestamps is strictly increasing.
type Series struct {
	Timestamps []time.Time `json:"timestamps"`
	Max        []float64   `json:"max"`
	Mean       []float64   `json:"mean"`
}

// Len returns the number of per-second entries.
func (s *Series) Len() int {
	return len(s.Timestamps)
}

func (s *Series) clone() Series {
	return Series{
		Timestamps: slices.Clone(s.Timestamps),
		Max:        slices.Clone(s.Max),
		Mean:       slices.Clone(s.Mean),
	}
}

func (s *Series) reset() {
	s.Timestamps = nil
	s.Max = nil
	s.Mean = nil
}

// dropOldest removes the first n entries in place.
func (s *Series) dropOldest(n int) {
	if n <= 0 {
		return
	}
	n = min(n, s.Len())
	s.Timestamps = s.Timestamps[:copy(s.Timestamps, s.Timestamps[n:])]
	s.Max = s.Max[:copy(s.Max, s.Max[n:])]
	s.Mean = s.Mean[:copy(s.Mean, s.Mean[n:])]
}
