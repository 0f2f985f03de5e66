package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/okian/mindshare/internal/domain/model"
)

type accountRow struct {
	Owner     string `gorm:"primaryKey;size:42"`
	Available int64  `gorm:"not null"`
	UpdatedAt time.Time
}

func (accountRow) TableName() string { return "accounts" }

type stakeRecordRow struct {
	ID          string `gorm:"primaryKey;size:64"`
	Owner       string `gorm:"index;size:42"`
	PurposeKind string `gorm:"size:16"`
	RefID       string `gorm:"size:64"`
	ProjectID   string `gorm:"index;size:128"`
	RoundID     string `gorm:"size:32"`
	Amount      int64  `gorm:"not null"`
	Bonus       int64
	Status      string    `gorm:"index;size:16"`
	CreatedAt   time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime:false"`
}

func (stakeRecordRow) TableName() string { return "stake_records" }

type historyRow struct {
	Seq        int64  `gorm:"primaryKey;autoIncrement"`
	RecordID   string `gorm:"index;size:128"`
	Owner      string `gorm:"index;size:42"`
	ProjectID  string `gorm:"size:128"`
	Op         string `gorm:"size:16"`
	FromStatus string `gorm:"size:16"`
	ToStatus   string `gorm:"size:16"`
	Amount     int64
	Bonus      int64
	At         time.Time
}

func (historyRow) TableName() string { return "history_entries" }

type roundRow struct {
	ID        string    `gorm:"primaryKey;size:32"`
	StartTime time.Time `gorm:"index"`
	EndTime   time.Time
	Status    string `gorm:"size:16"`
}

func (roundRow) TableName() string { return "rounds" }

type predictionRow struct {
	ID            string `gorm:"primaryKey;size:64"`
	RoundID       string `gorm:"index;size:32"`
	User          string `gorm:"column:user_address;size:42"`
	ProjectID     string `gorm:"size:128"`
	PredictedRank int
	StakeAmount   int64
	StakeRecordID string    `gorm:"index;size:64"`
	SubmittedAt   time.Time `gorm:"index"`
	IsEarlyBird   bool
	Outcome       string `gorm:"size:8"`
}

func (predictionRow) TableName() string { return "predictions" }

type resultRow struct {
	RoundID   string `gorm:"primaryKey;size:32"`
	Body      []byte
	SettledAt time.Time
}

func (resultRow) TableName() string { return "settlement_results" }

type planRow struct {
	RoundID string `gorm:"primaryKey;size:32"`
	Body    []byte
}

func (planRow) TableName() string { return "settlement_plans" }

type activityRow struct {
	ID     uint   `gorm:"primaryKey"`
	User   string `gorm:"column:user_address;index;size:42"`
	Kind   string `gorm:"size:16"`
	Signal *float64
	At     time.Time
}

func (activityRow) TableName() string { return "activity_events" }

type projectRow struct {
	ID           string    `gorm:"primaryKey;size:128"`
	Category     string    `gorm:"index;size:64"`
	CreatedAt    time.Time `gorm:"autoCreateTime:false"`
	PreviousRank *int
	TotalStaked  int64
	ReviewCount  int
}

func (projectRow) TableName() string { return "projects" }

type reviewRow struct {
	ID        uint   `gorm:"primaryKey"`
	ProjectID string `gorm:"index;size:128"`
	Reviewer  string `gorm:"size:42"`
	Rating    int
	Stake     int64
	At        time.Time
}

func (reviewRow) TableName() string { return "reviews" }

// migrate creates or updates every table.
func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&accountRow{},
		&stakeRecordRow{},
		&historyRow{},
		&roundRow{},
		&predictionRow{},
		&resultRow{},
		&planRow{},
		&activityRow{},
		&projectRow{},
		&reviewRow{},
	)
}

func toRecordRow(r model.StakeRecord) stakeRecordRow {
	return stakeRecordRow{
		ID:          r.ID,
		Owner:       string(r.Owner),
		PurposeKind: string(r.Purpose.Kind),
		RefID:       r.Purpose.RefID,
		ProjectID:   r.Purpose.ProjectID,
		RoundID:     r.Purpose.RoundID,
		Amount:      r.Amount,
		Bonus:       r.Bonus,
		Status:      string(r.Status),
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

func (r stakeRecordRow) model() model.StakeRecord {
	return model.StakeRecord{
		ID:    r.ID,
		Owner: model.Address(r.Owner),
		Purpose: model.Purpose{
			Kind:      model.PurposeKind(r.PurposeKind),
			RefID:     r.RefID,
			ProjectID: r.ProjectID,
			RoundID:   r.RoundID,
		},
		Amount:    r.Amount,
		Bonus:     r.Bonus,
		Status:    model.StakeStatus(r.Status),
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

func toHistoryRow(e model.HistoryEntry) historyRow {
	return historyRow{
		RecordID:   e.RecordID,
		Owner:      string(e.Owner),
		ProjectID:  e.ProjectID,
		Op:         string(e.Op),
		FromStatus: string(e.From),
		ToStatus:   string(e.To),
		Amount:     e.Amount,
		Bonus:      e.Bonus,
		At:         e.At.UTC(),
	}
}

func (h historyRow) model() model.HistoryEntry {
	return model.HistoryEntry{
		Seq:       h.Seq,
		RecordID:  h.RecordID,
		Owner:     model.Address(h.Owner),
		ProjectID: h.ProjectID,
		Op:        model.LedgerOp(h.Op),
		From:      model.StakeStatus(h.FromStatus),
		To:        model.StakeStatus(h.ToStatus),
		Amount:    h.Amount,
		Bonus:     h.Bonus,
		At:        h.At.UTC(),
	}
}

func toRoundRow(r model.Round) roundRow {
	return roundRow{ID: r.ID, StartTime: r.StartTime.UTC(), EndTime: r.EndTime.UTC(), Status: string(r.Status)}
}

func (r roundRow) model() model.Round {
	return model.Round{ID: r.ID, StartTime: r.StartTime.UTC(), EndTime: r.EndTime.UTC(), Status: model.RoundStatus(r.Status)}
}

func toPredictionRow(p model.Prediction) predictionRow {
	return predictionRow{
		ID:            p.ID,
		RoundID:       p.RoundID,
		User:          string(p.User),
		ProjectID:     p.ProjectID,
		PredictedRank: p.PredictedRank,
		StakeAmount:   p.StakeAmount,
		StakeRecordID: p.StakeRecordID,
		SubmittedAt:   p.SubmittedAt.UTC(),
		IsEarlyBird:   p.IsEarlyBird,
		Outcome:       string(p.Outcome),
	}
}

func (p predictionRow) model() model.Prediction {
	return model.Prediction{
		ID:            p.ID,
		RoundID:       p.RoundID,
		User:          model.Address(p.User),
		ProjectID:     p.ProjectID,
		PredictedRank: p.PredictedRank,
		StakeAmount:   p.StakeAmount,
		StakeRecordID: p.StakeRecordID,
		SubmittedAt:   p.SubmittedAt.UTC(),
		IsEarlyBird:   p.IsEarlyBird,
		Outcome:       model.Outcome(p.Outcome),
	}
}

func toProjectRow(p model.Project) projectRow {
	return projectRow{
		ID:           p.ID,
		Category:     p.Category,
		CreatedAt:    p.CreatedAt.UTC(),
		PreviousRank: p.PreviousRank,
		TotalStaked:  p.TotalStaked,
		ReviewCount:  p.ReviewCount,
	}
}

func (p projectRow) model() model.Project {
	return model.Project{
		ID:           p.ID,
		Category:     p.Category,
		CreatedAt:    p.CreatedAt.UTC(),
		PreviousRank: p.PreviousRank,
		TotalStaked:  p.TotalStaked,
		ReviewCount:  p.ReviewCount,
	}
}
