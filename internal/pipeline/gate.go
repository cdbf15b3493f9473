package pipeline

import "fmt"

// Decision is the outcome of the auto-merge gate.
type Decision struct {
	Merge  bool   `json:"merge"`
	Reason string `json:"reason"`
}

// Decide applies the quality gate: the pull request merges automatically
// only when the overall review score meets the threshold. The decision is
// a pure function of its inputs so both execution strategies share it.
func Decide(review ReviewResult, threshold float64) Decision {
	if review.OverallScore >= threshold {
		return Decision{
			Merge:  true,
			Reason: fmt.Sprintf("review score %.1f meets threshold %.1f", review.OverallScore, threshold),
		}
	}
	return Decision{
		Merge:  false,
		Reason: fmt.Sprintf("review score %.1f below threshold %.1f", review.OverallScore, threshold),
	}
}
