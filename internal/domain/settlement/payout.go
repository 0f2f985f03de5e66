package settlement

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/okian/mindshare/internal/domain/model"
)

// Judge decides whether a predicted rank is correct given the final rank.
type Judge func(predicted, final int) bool

// ExactRank accepts only an exact match.
func ExactRank() Judge {
	return func(predicted, final int) bool { return predicted == final }
}

// TopN accepts any prediction inside the top n when the project also
// finished inside the top n.
func TopN(n int) Judge {
	return func(predicted, final int) bool {
		return predicted >= 1 && predicted <= n && final >= 1 && final <= n
	}
}

// Policy holds the economic parameters of a settlement.
type Policy struct {
	Judge          Judge
	EarlyBirdShare decimal.Decimal
	PlatformFee    decimal.Decimal
}

// DefaultPolicy is exact-rank judging, a 10% early-bird bonus and no fee.
func DefaultPolicy() Policy {
	return Policy{
		Judge:          ExactRank(),
		EarlyBirdShare: decimal.RequireFromString("0.10"),
		PlatformFee:    decimal.Zero,
	}
}

// Plan is the computed outcome of a round before any ledger mutation.
type Plan struct {
	Payouts        []model.Payout
	TotalStaked    int64
	RewardPool     int64
	EarlyBirdBonus int64
	PlatformFee    int64
	TotalPaid      int64
	TotalForfeited int64
	Refund         bool
}

// Compute judges preds against finalRanks and splits the reward pool.
// Projects missing from finalRanks count as incorrect. With no winners every
// stake is refunded. The returned plan is checked for conservation.
func Compute(preds []model.Prediction, finalRanks map[string]int, policy Policy) (Plan, error) {
	if policy.Judge == nil {
		policy.Judge = ExactRank()
	}
	ordered := append([]model.Prediction(nil), preds...)
	sort.SliceStable(ordered, func(i, j int) bool { return earlier(ordered[i], ordered[j]) })

	var plan Plan
	var winners, early []int
	won := make([]bool, len(ordered))
	for i, p := range ordered {
		plan.TotalStaked += p.StakeAmount
		final, ok := finalRanks[p.ProjectID]
		if ok && policy.Judge(p.PredictedRank, final) {
			won[i] = true
			winners = append(winners, i)
			if p.IsEarlyBird {
				early = append(early, i)
			}
			continue
		}
		plan.RewardPool += p.StakeAmount
	}

	plan.Payouts = make([]model.Payout, len(ordered))
	for i, p := range ordered {
		plan.Payouts[i] = model.Payout{
			PredictionID:  p.ID,
			StakeRecordID: p.StakeRecordID,
			User:          p.User,
			Stake:         p.StakeAmount,
			Outcome:       model.OutcomeLost,
		}
		if won[i] {
			plan.Payouts[i].Outcome = model.OutcomeWon
			plan.Payouts[i].Total = p.StakeAmount
		}
	}

	if len(winners) == 0 {
		plan.Refund = true
		plan.RewardPool = 0
		for i := range plan.Payouts {
			plan.Payouts[i].Total = plan.Payouts[i].Stake
		}
		plan.TotalPaid = plan.TotalStaked
		return plan, plan.check()
	}

	pool := plan.RewardPool
	plan.PlatformFee = decimal.NewFromInt(pool).Mul(policy.PlatformFee).Floor().IntPart()
	pool -= plan.PlatformFee

	if len(early) > 0 {
		plan.EarlyBirdBonus = decimal.NewFromInt(pool).Mul(policy.EarlyBirdShare).Floor().IntPart()
		for j, amt := range split(plan.EarlyBirdBonus, ordered, early) {
			plan.Payouts[early[j]].EarlyBird = amt
		}
		pool -= plan.EarlyBirdBonus
	}
	for j, amt := range split(pool, ordered, winners) {
		plan.Payouts[winners[j]].Share = amt
	}

	for i := range plan.Payouts {
		po := &plan.Payouts[i]
		if po.Outcome == model.OutcomeWon {
			po.Total = po.Stake + po.EarlyBird + po.Share
			plan.TotalPaid += po.Total
		}
	}
	plan.TotalForfeited = plan.RewardPool
	return plan, plan.check()
}

// check asserts that every staked unit is either paid out or retained as fee.
func (p Plan) check() error {
	if p.TotalPaid+p.PlatformFee != p.TotalStaked {
		return ErrConservation
	}
	var sum int64
	for _, po := range p.Payouts {
		if po.Total < 0 || po.EarlyBird < 0 || po.Share < 0 {
			return ErrConservation
		}
		sum += po.Total
	}
	if sum != p.TotalPaid {
		return ErrConservation
	}
	return nil
}

// split divides amount among members in proportion to their stake. Units
// left over after flooring go one at a time to the largest fractional
// remainders; ties favour the earlier submission, then the lower id.
func split(amount int64, preds []model.Prediction, members []int) []int64 {
	out := make([]int64, len(members))
	if amount <= 0 || len(members) == 0 {
		return out
	}
	var total int64
	for _, m := range members {
		total += preds[m].StakeAmount
	}
	if total <= 0 {
		return out
	}

	whole := decimal.NewFromInt(amount)
	denom := decimal.NewFromInt(total)
	rems := make([]decimal.Decimal, len(members))
	var given int64
	for j, m := range members {
		q, r := whole.Mul(decimal.NewFromInt(preds[m].StakeAmount)).QuoRem(denom, 0)
		out[j] = q.IntPart()
		rems[j] = r
		given += out[j]
	}

	order := make([]int, len(members))
	for j := range order {
		order[j] = j
	}
	sort.SliceStable(order, func(a, b int) bool {
		ra, rb := rems[order[a]], rems[order[b]]
		if c := ra.Cmp(rb); c != 0 {
			return c > 0
		}
		return earlier(preds[members[order[a]]], preds[members[order[b]]])
	})
	for k := 0; given < amount; k++ {
		out[order[k%len(order)]]++
		given++
	}
	return out
}

func earlier(a, b model.Prediction) bool {
	if !a.SubmittedAt.Equal(b.SubmittedAt) {
		return a.SubmittedAt.Before(b.SubmittedAt)
	}
	return a.ID < b.ID
}
