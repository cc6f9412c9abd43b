package misc

import (
	"fmt"
	"sync"
)

/*
Stats aggregates a stream of positive samples, such as conversation durations, into a running
count, sum, and bounds. Only the raw aggregates are maintained under the lock; the average is
derived on demand by the readers.
*/
type Stats struct {
	mutex sync.RWMutex
	count uint64
	sum   float64
	min   float64
	max   float64
}

// NewStats returns an initialised stats structure.
func NewStats() *Stats {
	return &Stats{}
}

// Trigger records one sample. Zero and negative samples are discarded.
func (s *Stats) Trigger(sample float64) {
	if sample <= 0 {
		// Other than discarding the value, there's not much to do.
		return
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.count == 0 || sample < s.min {
		s.min = sample
	}
	if sample > s.max {
		s.max = sample
	}
	s.sum += sample
	s.count++
}

// GetStats returns the lowest, highest and average sample seen so far, along with the running
// total and the sample count.
func (s *Stats) GetStats() (lowest, highest, average, total float64, count uint64) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.count > 0 {
		average = s.sum / float64(s.count)
	}
	return s.min, s.max, average, s.sum, s.count
}

// Format renders the stats as "lowest/average/highest/total(count)" after dividing the numbers
// (excluding the counter) by the factor.
func (s *Stats) Format(divisionFactor float64, numDecimals int) string {
	lowest, highest, average, total, count := s.GetStats()
	return fmt.Sprintf("%.*f/%.*f/%.*f/%.*f(%d)",
		numDecimals, lowest/divisionFactor,
		numDecimals, average/divisionFactor,
		numDecimals, highest/divisionFactor,
		numDecimals, total/divisionFactor,
		count)
}
