package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/okian/mindshare/internal/domain/ledger"
	"github.com/okian/mindshare/internal/domain/market"
	"github.com/okian/mindshare/internal/domain/model"
)

// SQLStore persists every port through gorm.
type SQLStore struct {
	db *gorm.DB
}

var _ Store = (*SQLStore)(nil)

// OpenSQL connects to sqlite or postgres and migrates the schema.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	var dial gorm.Dialector
	switch driver {
	case "sqlite":
		dial = sqlite.Open(dsn)
	case "postgres":
		dial = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("repository.open_sql %q: %w", driver, ErrUnknownDriver)
	}

	db, err := gorm.Open(dial, &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		return nil, fmt.Errorf("repository.open_sql: %w", err)
	}
	if driver == "sqlite" {
		// sqlite allows a single writer.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("repository.open_sql: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := migrate(db.WithContext(ctx)); err != nil {
		return nil, fmt.Errorf("repository.migrate: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func upsert(tx *gorm.DB, v any) error {
	return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(v).Error
}

// Account implements ledger.Store.
func (s *SQLStore) Account(ctx context.Context, owner model.Address) (model.Account, error) {
	var row accountRow
	err := s.db.WithContext(ctx).First(&row, "owner = ?", string(owner)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Account{Owner: owner}, nil
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("repository.account: %w", err)
	}
	return model.Account{Owner: owner, Available: row.Available}, nil
}

// Record implements ledger.Store.
func (s *SQLStore) Record(ctx context.Context, id string) (model.StakeRecord, error) {
	var row stakeRecordRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.StakeRecord{}, ledger.ErrRecordNotFound
	}
	if err != nil {
		return model.StakeRecord{}, fmt.Errorf("repository.record: %w", err)
	}
	return row.model(), nil
}

// RecordsByOwner implements ledger.Store.
func (s *SQLStore) RecordsByOwner(ctx context.Context, owner model.Address) ([]model.StakeRecord, error) {
	var rows []stakeRecordRow
	if err := s.db.WithContext(ctx).Where("owner = ?", string(owner)).
		Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("repository.records_by_owner: %w", err)
	}
	out := make([]model.StakeRecord, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

// History implements ledger.Store.
func (s *SQLStore) History(ctx context.Context, recordID string) ([]model.HistoryEntry, error) {
	if recordID == "" {
		return nil, nil
	}
	var rows []historyRow
	if err := s.db.WithContext(ctx).Where("record_id = ?", recordID).
		Order("seq").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("repository.history: %w", err)
	}
	out := make([]model.HistoryEntry, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

// Commit implements ledger.Store in a single transaction.
func (s *SQLStore) Commit(ctx context.Context, c ledger.Change) ([]model.HistoryEntry, error) {
	rows := make([]historyRow, len(c.Entries))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if c.Account != nil {
			acct := accountRow{Owner: string(c.Account.Owner), Available: c.Account.Available}
			if err := upsert(tx, &acct); err != nil {
				return err
			}
		}
		for _, r := range c.Put {
			row := toRecordRow(r)
			if err := upsert(tx, &row); err != nil {
				return err
			}
		}
		if len(c.Delete) > 0 {
			if err := tx.Where("id IN ?", c.Delete).Delete(&stakeRecordRow{}).Error; err != nil {
				return err
			}
		}
		for i, e := range c.Entries {
			rows[i] = toHistoryRow(e)
			if err := tx.Create(&rows[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("repository.commit: %w", err)
	}
	out := make([]model.HistoryEntry, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

// SaveRound implements market.Store.
func (s *SQLStore) SaveRound(ctx context.Context, r model.Round) error {
	row := toRoundRow(r)
	if err := upsert(s.db.WithContext(ctx), &row); err != nil {
		return fmt.Errorf("repository.save_round: %w", err)
	}
	return nil
}

// Round implements market.Store.
func (s *SQLStore) Round(ctx context.Context, id string) (model.Round, error) {
	var row roundRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Round{}, market.ErrRoundNotFound
	}
	if err != nil {
		return model.Round{}, fmt.Errorf("repository.round: %w", err)
	}
	return row.model(), nil
}

// LatestRound implements market.Store.
func (s *SQLStore) LatestRound(ctx context.Context) (model.Round, error) {
	var row roundRow
	err := s.db.WithContext(ctx).Order("start_time DESC").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Round{}, market.ErrRoundNotFound
	}
	if err != nil {
		return model.Round{}, fmt.Errorf("repository.latest_round: %w", err)
	}
	return row.model(), nil
}

// SavePrediction implements market.Store.
func (s *SQLStore) SavePrediction(ctx context.Context, p model.Prediction) error {
	row := toPredictionRow(p)
	if err := upsert(s.db.WithContext(ctx), &row); err != nil {
		return fmt.Errorf("repository.save_prediction: %w", err)
	}
	return nil
}

// Predictions implements market.Store.
func (s *SQLStore) Predictions(ctx context.Context, roundID string) ([]model.Prediction, error) {
	var rows []predictionRow
	if err := s.db.WithContext(ctx).Where("round_id = ?", roundID).
		Order("submitted_at, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("repository.predictions: %w", err)
	}
	out := make([]model.Prediction, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

// PredictionByStake implements market.Store.
func (s *SQLStore) PredictionByStake(ctx context.Context, recordID string) (model.Prediction, error) {
	var row predictionRow
	err := s.db.WithContext(ctx).First(&row, "stake_record_id = ?", recordID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Prediction{}, market.ErrPredictionNotFound
	}
	if err != nil {
		return model.Prediction{}, fmt.Errorf("repository.prediction_by_stake: %w", err)
	}
	return row.model(), nil
}

// CompleteSettlement implements market.Store in a single transaction.
func (s *SQLStore) CompleteSettlement(ctx context.Context, r model.Round, preds []model.Prediction, res model.SettlementResult) error {
	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("repository.complete_settlement: %w", err)
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing roundRow
		if err := tx.First(&existing, "id = ?", r.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRoundMissing
			}
			return err
		}
		for _, p := range preds {
			row := toPredictionRow(p)
			if err := upsert(tx, &row); err != nil {
				return err
			}
		}
		result := resultRow{RoundID: r.ID, Body: body, SettledAt: res.SettledAt.UTC()}
		if err := upsert(tx, &result); err != nil {
			return err
		}
		if err := tx.Delete(&planRow{}, "round_id = ?", r.ID).Error; err != nil {
			return err
		}
		round := toRoundRow(r)
		return upsert(tx, &round)
	})
	if err != nil {
		return fmt.Errorf("repository.complete_settlement: %w", err)
	}
	return nil
}

// SaveSettlementPlan implements market.Store.
func (s *SQLStore) SaveSettlementPlan(ctx context.Context, res model.SettlementResult) error {
	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("repository.save_settlement_plan: %w", err)
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing roundRow
		if err := tx.First(&existing, "id = ?", res.RoundID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRoundMissing
			}
			return err
		}
		row := planRow{RoundID: res.RoundID, Body: body}
		return upsert(tx, &row)
	})
	if err != nil {
		return fmt.Errorf("repository.save_settlement_plan: %w", err)
	}
	return nil
}

// SettlementPlan implements market.Store.
func (s *SQLStore) SettlementPlan(ctx context.Context, roundID string) (model.SettlementResult, error) {
	var row planRow
	err := s.db.WithContext(ctx).First(&row, "round_id = ?", roundID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.SettlementResult{}, market.ErrPlanNotFound
	}
	if err != nil {
		return model.SettlementResult{}, fmt.Errorf("repository.settlement_plan: %w", err)
	}
	var res model.SettlementResult
	if err := json.Unmarshal(row.Body, &res); err != nil {
		return model.SettlementResult{}, fmt.Errorf("repository.settlement_plan: %w", err)
	}
	return res, nil
}

// Result implements market.Store.
func (s *SQLStore) Result(ctx context.Context, roundID string) (model.SettlementResult, error) {
	var row resultRow
	err := s.db.WithContext(ctx).First(&row, "round_id = ?", roundID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.SettlementResult{}, market.ErrResultNotFound
	}
	if err != nil {
		return model.SettlementResult{}, fmt.Errorf("repository.result: %w", err)
	}
	var res model.SettlementResult
	if err := json.Unmarshal(row.Body, &res); err != nil {
		return model.SettlementResult{}, fmt.Errorf("repository.result: %w", err)
	}
	return res, nil
}

// RecordActivity implements reputation.ActivityStore.
func (s *SQLStore) RecordActivity(ctx context.Context, ev model.ActivityEvent) error {
	row := activityRow{User: string(ev.User), Kind: string(ev.Kind), Signal: ev.Signal, At: ev.At.UTC()}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("repository.record_activity: %w", err)
	}
	return nil
}

// Activity implements reputation.ActivityStore.
func (s *SQLStore) Activity(ctx context.Context, user model.Address, now time.Time) (model.Activity, error) {
	var rows []activityRow
	if err := s.db.WithContext(ctx).Where("user_address = ?", string(user)).
		Order("id").Find(&rows).Error; err != nil {
		return model.Activity{}, fmt.Errorf("repository.activity: %w", err)
	}
	events := make([]model.ActivityEvent, len(rows))
	for i, r := range rows {
		events[i] = model.ActivityEvent{User: user, Kind: model.ActivityKind(r.Kind), Signal: r.Signal, At: r.At}
	}
	return aggregate(events, now), nil
}

// SaveProject implements leaderboard.Store.
func (s *SQLStore) SaveProject(ctx context.Context, p model.Project) error {
	row := toProjectRow(p)
	if err := upsert(s.db.WithContext(ctx), &row); err != nil {
		return fmt.Errorf("repository.save_project: %w", err)
	}
	return nil
}

// SaveReview implements leaderboard.Store.
func (s *SQLStore) SaveReview(ctx context.Context, r model.Review) error {
	row := reviewRow{ProjectID: r.ProjectID, Reviewer: string(r.Reviewer), Rating: r.Rating, Stake: r.Stake, At: r.At.UTC()}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("repository.save_review: %w", err)
	}
	return nil
}

// Projects implements leaderboard.Store.
func (s *SQLStore) Projects(ctx context.Context) ([]model.Project, error) {
	var rows []projectRow
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("repository.projects: %w", err)
	}
	out := make([]model.Project, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

// Reviews implements leaderboard.Store.
func (s *SQLStore) Reviews(ctx context.Context) ([]model.Review, error) {
	var rows []reviewRow
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("repository.reviews: %w", err)
	}
	out := make([]model.Review, len(rows))
	for i, r := range rows {
		out[i] = model.Review{
			ProjectID: r.ProjectID,
			Reviewer:  model.Address(r.Reviewer),
			Rating:    r.Rating,
			Stake:     r.Stake,
			At:        r.At.UTC(),
		}
	}
	return out, nil
}

// Counts reports table sizes.
func (s *SQLStore) Counts(ctx context.Context) (Counts, error) {
	db := s.db.WithContext(ctx)
	var c Counts
	for _, t := range []struct {
		model any
		dst   *int
	}{
		{&accountRow{}, &c.Accounts},
		{&stakeRecordRow{}, &c.Records},
		{&historyRow{}, &c.History},
		{&roundRow{}, &c.Rounds},
		{&predictionRow{}, &c.Predictions},
		{&projectRow{}, &c.Projects},
		{&reviewRow{}, &c.Reviews},
		{&activityRow{}, &c.Activity},
	} {
		var n int64
		if err := db.Model(t.model).Count(&n).Error; err != nil {
			return Counts{}, fmt.Errorf("repository.counts: %w", err)
		}
		*t.dst = int(n)
	}
	return c, nil
}

// Close releases the connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
