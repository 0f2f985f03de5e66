// Package reputation derives user trust scores from activity counters.
package reputation

import (
	"math"

	"github.com/okian/mindshare/internal/domain/model"
)

// NeutralSignal stands in for a missing verification signal.
const NeutralSignal = 50.0

const (
	predictabilityWeight = 0.4
	qualityWeight        = 0.3
	consistencyWeight    = 0.2
	volatilityWeight     = 0.1

	signalToPredictability = 0.7
	signalToQuality        = 0.9
	commentBonusPer        = 2
	commentBonusCap        = 30
	volumeThreshold        = 10
	volumeBonus            = 5

	predictabilityFloor = 20
	qualityFloor        = 30
	thinHistoryComments = 3
	thinHistoryScore    = 20
	noVotesVolatility   = 50
)

// Breakdown holds the four sub-metrics, each in [0,100].
type Breakdown struct {
	Predictability float64 `json:"predictability"`
	Quality        float64 `json:"quality"`
	Consistency    float64 `json:"consistency"`
	Volatility     float64 `json:"volatility"`
}

// Score computes the sub-metrics for a user's activity. It never fails:
// absent inputs fall back to their floors.
func Score(a model.Activity) Breakdown {
	signal := NeutralSignal
	if a.VerificationSignal != nil && !math.IsNaN(*a.VerificationSignal) {
		signal = clamp(*a.VerificationSignal)
	}
	comments := max(a.CommentCount, 0)

	predictability := math.Min(signalToPredictability*signal+math.Min(float64(comments*commentBonusPer), commentBonusCap), 100)
	quality := signalToQuality * signal
	if comments > volumeThreshold {
		quality += volumeBonus
	}
	quality = math.Min(quality, 100)
	if comments == 0 {
		predictability = math.Max(predictability, predictabilityFloor)
		quality = math.Max(quality, qualityFloor)
	}

	var consistency float64
	switch {
	case comments == 0:
		consistency = 0
	case comments < thinHistoryComments:
		consistency = thinHistoryScore
	default:
		consistency = ratio(a.RecentComments, comments)
	}

	volatility := float64(noVotesVolatility)
	if a.VoteCount > 0 {
		volatility = ratio(a.RecentVotes, a.VoteCount)
	}

	return Breakdown{
		Predictability: clamp(predictability),
		Quality:        clamp(quality),
		Consistency:    clamp(consistency),
		Volatility:     clamp(volatility),
	}
}

// TrustScore combines a breakdown into the 0..100 composite.
func TrustScore(b Breakdown) int {
	v := predictabilityWeight*b.Predictability +
		qualityWeight*b.Quality +
		consistencyWeight*b.Consistency +
		volatilityWeight*b.Volatility
	return int(clamp(math.Round(v)))
}

func ratio(part, whole int) float64 {
	if whole <= 0 || part <= 0 {
		return 0
	}
	return math.Min(float64(part)/float64(whole)*100, 100)
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}
