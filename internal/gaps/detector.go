// Package gaps inspects the spacing of a time index: whether it is regular,
// where samples are missing, and what the ideal evenly spaced index would be.
package gaps

import (
	"fmt"
	"time"
)

// Gap is a run of missing samples. Start is the first missing timestamp and
// End the next timestamp actually present.
type Gap struct {
	Start   time.Time
	End     time.Time
	Missing int
}

func (g Gap) String() string {
	return fmt.Sprintf("%s..%s (%d missing)", g.Start.Format(time.RFC3339), g.End.Format(time.RFC3339), g.Missing)
}

// IsRegular reports whether all consecutive deltas are equal. Indexes with
// fewer than two entries are regular.
func IsRegular(index []time.Time) bool {
	if len(index) < 3 {
		return true
	}
	step := index[1].Sub(index[0])
	for i := 2; i < len(index); i++ {
		if index[i].Sub(index[i-1]) != step {
			return false
		}
	}
	return true
}

// Detect analyzes a sorted index and returns every place where the next
// timestamp is later than one step after the current one.
func Detect(index []time.Time, step time.Duration) []Gap {
	if step <= 0 || len(index) < 2 {
		return nil
	}

	var gaps []Gap
	for i := 0; i < len(index)-1; i++ {
		expectedNext := index[i].Add(step)
		if index[i+1].After(expectedNext) {
			missing := int(index[i+1].Sub(index[i])/step) - 1
			if index[i+1].Sub(index[i])%step != 0 {
				missing++
			}
			gaps = append(gaps, Gap{Start: expectedNext, End: index[i+1], Missing: missing})
		}
	}
	return gaps
}

// IdealIndex returns first, first+step, ... up to and including last when it
// falls on the grid.
func IdealIndex(first, last time.Time, step time.Duration) []time.Time {
	if step <= 0 || last.Before(first) {
		return nil
	}
	n := int(last.Sub(first)/step) + 1
	index := make([]time.Time, 0, n)
	for t := first; !t.After(last); t = t.Add(step) {
		index = append(index, t)
	}
	return index
}

// Missing counts the grid points between first and last absent from index.
func Missing(index []time.Time, step time.Duration) int {
	if len(index) == 0 {
		return 0
	}
	present := make(map[int64]bool, len(index))
	for _, t := range index {
		present[t.UnixNano()] = true
	}
	count := 0
	for _, t := range IdealIndex(index[0], index[len(index)-1], step) {
		if !present[t.UnixNano()] {
			count++
		}
	}
	return count
}
