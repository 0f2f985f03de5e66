// Package tier maps trust scores to fee tiers.
package tier

import (
	"github.com/shopspring/decimal"
)

// Tier is a discrete trust bucket, 1 (lowest) to 6 (highest).
type Tier int

// Bounds of the tier range.
const (
	Min Tier = 1
	Max Tier = 6
)

type threshold struct {
	minScore int
	tier     Tier
	fee      decimal.Decimal
}

// table is ordered by descending minScore; the first row whose minScore is
// reached wins. Fees are fractions of the traded amount.
var table = []threshold{ //nolint:gochecknoglobals // fixed lookup table
	{minScore: 90, tier: 6, fee: decimal.RequireFromString("0.0015")},
	{minScore: 75, tier: 5, fee: decimal.RequireFromString("0.0022")},
	{minScore: 60, tier: 4, fee: decimal.RequireFromString("0.0030")},
	{minScore: 45, tier: 3, fee: decimal.RequireFromString("0.0045")},
	{minScore: 30, tier: 2, fee: decimal.RequireFromString("0.0060")},
	{minScore: 0, tier: 1, fee: decimal.RequireFromString("0.0080")},
}

// Classify returns the tier for a trust score. Scores below zero fall into
// tier 1 and scores above 100 into tier 6.
func Classify(trustScore int) Tier {
	for _, row := range table {
		if trustScore >= row.minScore {
			return row.tier
		}
	}
	return Min
}

// FeeMultiplier returns the fee fraction charged at tier t. Unknown tiers are
// charged the tier 1 rate.
func FeeMultiplier(t Tier) decimal.Decimal {
	for _, row := range table {
		if row.tier == t {
			return row.fee
		}
	}
	return table[len(table)-1].fee
}

// Fee is a quoted fee for a single amount.
type Fee struct {
	Tier       Tier            `json:"tier"`
	Multiplier decimal.Decimal `json:"fee_multiplier"`
	Amount     int64           `json:"amount"`
	Fee        int64           `json:"fee"`
}

// Quote computes the fee for amount at tier t, rounded up to the next base
// unit so a non-zero trade never pays zero.
func Quote(amount int64, t Tier) Fee {
	m := FeeMultiplier(t)
	fee := decimal.NewFromInt(amount).Mul(m).Ceil()
	if amount <= 0 {
		fee = decimal.Zero
	}
	return Fee{Tier: t, Multiplier: m, Amount: amount, Fee: fee.IntPart()}
}

// Percent renders a multiplier as a percentage string, e.g. "0.30%".
func Percent(m decimal.Decimal) string {
	return m.Mul(decimal.NewFromInt(100)).StringFixed(2) + "%"
}
