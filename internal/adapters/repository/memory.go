package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/okian/mindshare/internal/domain/ledger"
	"github.com/okian/mindshare/internal/domain/market"
	"github.com/okian/mindshare/internal/domain/model"
)

// MemoryStore keeps every port's state in process memory.
type MemoryStore struct {
	mu sync.RWMutex

	accounts map[model.Address]model.Account
	records  map[string]model.StakeRecord
	history  []model.HistoryEntry
	byRef    map[string][]int // record id or credit ref -> history indexes
	seq      int64

	rounds      map[string]model.Round
	predictions map[string]model.Prediction
	byRound     map[string][]string
	byStake     map[string]string
	results     map[string]model.SettlementResult
	plans       map[string]model.SettlementResult

	activity map[model.Address][]model.ActivityEvent

	projects map[string]model.Project
	reviews  []model.Review
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:    make(map[model.Address]model.Account),
		records:     make(map[string]model.StakeRecord),
		byRef:       make(map[string][]int),
		rounds:      make(map[string]model.Round),
		predictions: make(map[string]model.Prediction),
		byRound:     make(map[string][]string),
		byStake:     make(map[string]string),
		results:     make(map[string]model.SettlementResult),
		plans:       make(map[string]model.SettlementResult),
		activity:    make(map[model.Address][]model.ActivityEvent),
		projects:    make(map[string]model.Project),
	}
}

// Account implements ledger.Store.
func (s *MemoryStore) Account(_ context.Context, owner model.Address) (model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[owner]
	if !ok {
		return model.Account{Owner: owner}, nil
	}
	return a, nil
}

// Record implements ledger.Store.
func (s *MemoryStore) Record(_ context.Context, id string) (model.StakeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return model.StakeRecord{}, ledger.ErrRecordNotFound
	}
	return r, nil
}

// RecordsByOwner implements ledger.Store.
func (s *MemoryStore) RecordsByOwner(_ context.Context, owner model.Address) ([]model.StakeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.StakeRecord
	for _, r := range s.records {
		if r.Owner == owner {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// History implements ledger.Store.
func (s *MemoryStore) History(_ context.Context, recordID string) ([]model.HistoryEntry, error) {
	if recordID == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.byRef[recordID]
	out := make([]model.HistoryEntry, len(idx))
	for i, n := range idx {
		out[i] = s.history[n]
	}
	return out, nil
}

// Commit implements ledger.Store.
func (s *MemoryStore) Commit(_ context.Context, c ledger.Change) ([]model.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Account != nil {
		s.accounts[c.Account.Owner] = *c.Account
	}
	for _, r := range c.Put {
		s.records[r.ID] = r
	}
	for _, id := range c.Delete {
		delete(s.records, id)
	}
	out := make([]model.HistoryEntry, len(c.Entries))
	for i, e := range c.Entries {
		s.seq++
		e.Seq = s.seq
		s.history = append(s.history, e)
		if e.RecordID != "" {
			s.byRef[e.RecordID] = append(s.byRef[e.RecordID], len(s.history)-1)
		}
		out[i] = e
	}
	return out, nil
}

// SaveRound implements market.Store.
func (s *MemoryStore) SaveRound(_ context.Context, r model.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rounds[r.ID] = r
	return nil
}

// Round implements market.Store.
func (s *MemoryStore) Round(_ context.Context, id string) (model.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rounds[id]
	if !ok {
		return model.Round{}, market.ErrRoundNotFound
	}
	return r, nil
}

// LatestRound implements market.Store.
func (s *MemoryStore) LatestRound(_ context.Context) (model.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest model.Round
	found := false
	for _, r := range s.rounds {
		if !found || r.StartTime.After(latest.StartTime) {
			latest, found = r, true
		}
	}
	if !found {
		return model.Round{}, market.ErrRoundNotFound
	}
	return latest, nil
}

// SavePrediction implements market.Store.
func (s *MemoryStore) SavePrediction(_ context.Context, p model.Prediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putPrediction(p)
	return nil
}

func (s *MemoryStore) putPrediction(p model.Prediction) {
	if _, ok := s.predictions[p.ID]; !ok {
		s.byRound[p.RoundID] = append(s.byRound[p.RoundID], p.ID)
	}
	s.predictions[p.ID] = p
	if p.StakeRecordID != "" {
		s.byStake[p.StakeRecordID] = p.ID
	}
}

// Predictions implements market.Store.
func (s *MemoryStore) Predictions(_ context.Context, roundID string) ([]model.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byRound[roundID]
	out := make([]model.Prediction, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.predictions[id])
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// PredictionByStake implements market.Store.
func (s *MemoryStore) PredictionByStake(_ context.Context, recordID string) (model.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byStake[recordID]
	if !ok {
		return model.Prediction{}, market.ErrPredictionNotFound
	}
	return s.predictions[id], nil
}

// CompleteSettlement implements market.Store.
func (s *MemoryStore) CompleteSettlement(_ context.Context, r model.Round, preds []model.Prediction, res model.SettlementResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rounds[r.ID]; !ok {
		return ErrRoundMissing
	}
	for _, p := range preds {
		s.putPrediction(p)
	}
	s.results[r.ID] = res
	s.rounds[r.ID] = r
	delete(s.plans, r.ID)
	return nil
}

// SaveSettlementPlan implements market.Store.
func (s *MemoryStore) SaveSettlementPlan(_ context.Context, res model.SettlementResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rounds[res.RoundID]; !ok {
		return ErrRoundMissing
	}
	s.plans[res.RoundID] = res
	return nil
}

// SettlementPlan implements market.Store.
func (s *MemoryStore) SettlementPlan(_ context.Context, roundID string) (model.SettlementResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.plans[roundID]
	if !ok {
		return model.SettlementResult{}, market.ErrPlanNotFound
	}
	return res, nil
}

// Result implements market.Store.
func (s *MemoryStore) Result(_ context.Context, roundID string) (model.SettlementResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.results[roundID]
	if !ok {
		return model.SettlementResult{}, market.ErrResultNotFound
	}
	return res, nil
}

// RecordActivity implements reputation.ActivityStore.
func (s *MemoryStore) RecordActivity(_ context.Context, ev model.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity[ev.User] = append(s.activity[ev.User], ev)
	return nil
}

// Activity implements reputation.ActivityStore.
func (s *MemoryStore) Activity(_ context.Context, user model.Address, now time.Time) (model.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return aggregate(s.activity[user], now), nil
}

// aggregate folds events into counters. The latest verification event wins.
func aggregate(events []model.ActivityEvent, now time.Time) model.Activity {
	var a model.Activity
	var signalAt time.Time
	commentsSince := now.Add(-model.RecentCommentWindow)
	votesSince := now.Add(-model.RecentVoteWindow)
	for _, ev := range events {
		switch ev.Kind {
		case model.ActivityPrediction:
			a.PredictionCount++
		case model.ActivityComment:
			a.CommentCount++
			if !ev.At.Before(commentsSince) {
				a.RecentComments++
			}
		case model.ActivityVote:
			a.VoteCount++
			if !ev.At.Before(votesSince) {
				a.RecentVotes++
			}
		case model.ActivityVerification:
			if ev.Signal != nil && (a.VerificationSignal == nil || !ev.At.Before(signalAt)) {
				v := *ev.Signal
				a.VerificationSignal = &v
				signalAt = ev.At
			}
		}
	}
	return a
}

// SaveProject implements leaderboard.Store.
func (s *MemoryStore) SaveProject(_ context.Context, p model.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.CurrentRank = nil
	s.projects[p.ID] = p
	return nil
}

// SaveReview implements leaderboard.Store.
func (s *MemoryStore) SaveReview(_ context.Context, r model.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reviews = append(s.reviews, r)
	return nil
}

// Projects implements leaderboard.Store.
func (s *MemoryStore) Projects(_ context.Context) ([]model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Reviews implements leaderboard.Store.
func (s *MemoryStore) Reviews(_ context.Context) ([]model.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Review(nil), s.reviews...), nil
}

// Counts reports table sizes.
func (s *MemoryStore) Counts(_ context.Context) (Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var act int
	for _, evs := range s.activity {
		act += len(evs)
	}
	return Counts{
		Accounts:    len(s.accounts),
		Records:     len(s.records),
		History:     len(s.history),
		Rounds:      len(s.rounds),
		Predictions: len(s.predictions),
		Projects:    len(s.projects),
		Reviews:     len(s.reviews),
		Activity:    act,
	}, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
