// Package scoring turns qualitative dimension ratings into the 0-100
// sustainability score shown to users.
package scoring

import (
	"strings"

	"github.com/ckwflash/LiveHack2025/domain"
)

// NeutralScore is returned for an empty breakdown.
const NeutralScore = 50

var ratingScores = map[domain.Rating]int{
	domain.RatingExcellent: 10,
	domain.RatingGood:      8,
	domain.RatingNeutral:   5,
	domain.RatingPoor:      0,
	// Unknown is penalised, but less than a confirmed Poor.
	domain.RatingUnknown: 3,
}

// RatingToScore maps a rating onto the 0-10 scale.
func RatingToScore(r domain.Rating) int {
	if score, ok := ratingScores[r]; ok {
		return score
	}
	return ratingScores[domain.RatingUnknown]
}

// BuildBreakdown extracts the known dimensions from an analysis. Dimensions the
// engine did not return are left out rather than defaulted.
func BuildBreakdown(analysis *domain.ProductAnalysis) domain.Breakdown {
	breakdown := domain.Breakdown{}
	if analysis == nil {
		return breakdown
	}

	for _, dim := range domain.Dimensions {
		details, ok := analysis.SustainabilityAnalysis[dim]
		if !ok {
			continue
		}
		rating := domain.ParseRating(details.Rating)
		text := strings.TrimSpace(details.Analysis)
		if text == "" {
			text = domain.NoAnalysisPlaceholder
		}
		breakdown[dim] = domain.BreakdownEntry{
			Rating:       rating,
			NumericScore: RatingToScore(rating),
			Analysis:     text,
		}
	}
	return breakdown
}

// WeightedScore averages the normalised dimension scores and maps the result
// onto 0-100. Each score s is normalised as (s-5)/5 so Neutral sits at 0.
//
// The mean is computed exactly as (50n + 10*sum(s-5)) / n and rounded half
// away from zero, so a x.5 result always rounds up in magnitude.
//
// weights is accepted for personalization but currently ignored: every
// dimension counts equally.
func WeightedScore(breakdown domain.Breakdown, weights domain.Weights) int {
	_ = weights

	n := len(breakdown)
	if n == 0 {
		return NeutralScore
	}

	deviation := 0
	for _, entry := range breakdown {
		deviation += entry.NumericScore - 5
	}

	score := roundHalfAwayFromZero(50*n+10*deviation, n)
	return clamp(score, 0, 100)
}

func roundHalfAwayFromZero(num, den int) int {
	if num < 0 {
		return -((-2*num + den) / (2 * den))
	}
	return (2*num + den) / (2 * den)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
