package clock

import (
	"errors"
	"sort"
)

// ErrNoTimestamps is returned when a consensus timestamp is requested for
// an empty set of reports.
var ErrNoTimestamps = errors.New("clock: no timestamps provided")

// ConsensusTimestamp returns the median of the reported times. The median
// (rather than the mean) is used so a minority of faulty reporters cannot
// drag the agreed time arbitrarily far. Even-length inputs average the two
// middle values.
func ConsensusTimestamp(timestamps []float64) (float64, error) {
	if len(timestamps) == 0 {
		return 0, ErrNoTimestamps
	}

	sorted := make([]float64, len(timestamps))
	copy(sorted, timestamps)
	sort.Float64s(sorted)

	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2, nil
	}
	return sorted[n/2], nil
}
