// Package byzantine implements the quorum math and robust aggregation the
// swarm uses to agree despite up to a third of its members misbehaving.
// The pure functions here are consumed by the voting round manager and by
// the gossip layer's fault checks.
package byzantine

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrInvalidThreshold is returned when a ratio falls outside (0, 1].
	ErrInvalidThreshold = errors.New("byzantine: threshold must be in (0, 1]")

	// ErrNoValues is returned when an aggregation gets an empty input.
	ErrNoValues = errors.New("byzantine: no values")
)

// DefaultSupermajority is the classic Byzantine agreement bound.
const DefaultSupermajority = 2.0 / 3.0

// HasSupermajority reports whether count out of total meets the threshold
// ratio. The comparison is inclusive: exactly threshold·total passes.
func HasSupermajority(count, total int, threshold float64) (bool, error) {
	if threshold <= 0 || threshold > 1 {
		return false, fmt.Errorf("%w: %v", ErrInvalidThreshold, threshold)
	}
	if total <= 0 || count < 0 {
		return false, nil
	}
	return float64(count) >= float64(total)*threshold, nil
}

// CountVotes tallies boolean votes against the threshold ratio.
func CountVotes(votes []bool, threshold float64) (bool, error) {
	yes := 0
	for _, v := range votes {
		if v {
			yes++
		}
	}
	return HasSupermajority(yes, len(votes), threshold)
}

// Threshold returns f, the maximum number of Byzantine nodes an n-node
// system can tolerate: floor((n-1)/3).
func Threshold(n int) int {
	if n <= 0 {
		return 0
	}
	return (n - 1) / 3
}

// SufficientVotes reports whether k votes out of n nodes are enough to
// outvote every possible Byzantine coalition: k >= 2f+1.
func SufficientVotes(k, n int) bool {
	return k >= 2*Threshold(n)+1
}

// RequiredVotes returns the vote count a value must reach for agreement:
// ceil(2n/3) over the total node count, not over votes cast.
func RequiredVotes(totalNodes int) int {
	return (2*totalNodes + 2) / 3
}

// Agreement tallies votes by value and returns the value that reached
// RequiredVotes(totalNodes), or nil when no value did. Using the node
// count as the denominator means a fast quorum of responders cannot force
// agreement on its own.
func Agreement(votes []Vote, totalNodes int) json.RawMessage {
	if totalNodes <= 0 {
		return nil
	}
	required := RequiredVotes(totalNodes)
	counts := make(map[string]int)
	for _, v := range votes {
		key := string(v.Value)
		counts[key]++
		if counts[key] >= required {
			return json.RawMessage(key)
		}
	}
	return nil
}

// Median returns the middle value; even-length inputs average the two
// middle values.
func Median(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, ErrNoValues
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2, nil
	}
	return sorted[n/2], nil
}

// TrimmedMean strips trimPercent of the values from each tail before
// averaging, so extreme reports from faulty nodes cannot move the result.
// When the trim would remove everything it falls back to the median.
func TrimmedMean(values []float64, trimPercent float64) (float64, error) {
	if len(values) == 0 {
		return 0, ErrNoValues
	}
	if trimPercent < 0 || trimPercent >= 0.5 {
		return 0, fmt.Errorf("%w: trim fraction %v", ErrInvalidThreshold, trimPercent)
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	trim := int(float64(n) * trimPercent)
	if trim*2 >= n {
		return Median(values)
	}
	trimmed := sorted[trim : n-trim]
	var sum float64
	for _, v := range trimmed {
		sum += v
	}
	return sum / float64(len(trimmed)), nil
}

// Event is a hashed record of something a node claimed during a round,
// used for equivocation detection.
type Event struct {
	SenderID string `json:"senderId"`
	Round    uint64 `json:"round"`
	Hash     string `json:"hash"`
}

// DetectEquivocation returns the senders that produced two differently
// hashed events for the same round, sorted. That is the canonical
// Byzantine fault: claiming two things at once.
func DetectEquivocation(events []Event) []string {
	type key struct {
		sender string
		round  uint64
	}
	first := make(map[key]string)
	flagged := make(map[string]struct{})
	for _, e := range events {
		k := key{e.SenderID, e.Round}
		if h, ok := first[k]; ok {
			if h != e.Hash {
				flagged[e.SenderID] = struct{}{}
			}
			continue
		}
		first[k] = e.Hash
	}
	out := make([]string, 0, len(flagged))
	for s := range flagged {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// ConfidenceVote is a numeric confidence report attributed to a node.
type ConfidenceVote struct {
	NodeID     string  `json:"nodeId"`
	Confidence float64 `json:"confidence"`
}

// DetectByzantineNodes flags nodes whose reported confidence falls outside
// [min, max]. It is a cheap pre-filter before aggregation, not proof of
// fault.
func DetectByzantineNodes(votes []ConfidenceVote, min, max float64) []string {
	flagged := make(map[string]struct{})
	for _, v := range votes {
		if v.Confidence < min || v.Confidence > max {
			flagged[v.NodeID] = struct{}{}
		}
	}
	out := make([]string, 0, len(flagged))
	for s := range flagged {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// WeightedConfidence averages confidence reports with per-node trust
// weights; nodes without a weight count as 1. Skewed weights centralize
// trust, so callers should keep them close to uniform.
func WeightedConfidence(votes []ConfidenceVote, weights map[string]float64) float64 {
	var sum, total float64
	for _, v := range votes {
		w, ok := weights[v.NodeID]
		if !ok {
			w = 1.0
		}
		sum += v.Confidence * w
		total += w
	}
	if total == 0 {
		return 0
	}
	return sum / total
}
