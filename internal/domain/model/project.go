package model

import "time"

// Project is a ranked subject of reviews and predictions.
// CurrentRank is nil until the first leaderboard computation.
type Project struct {
	ID           string    `json:"id"`
	Category     string    `json:"category"`
	CreatedAt    time.Time `json:"created_at"`
	CurrentRank  *int      `json:"current_rank,omitempty"`
	PreviousRank *int      `json:"previous_rank,omitempty"`
	TotalStaked  int64     `json:"total_staked"`
	ReviewCount  int       `json:"review_count"`
}

// Review is the minimal review fact the leaderboard needs.
type Review struct {
	ProjectID string    `json:"project_id"`
	Reviewer  Address   `json:"reviewer"`
	Rating    int       `json:"rating"`
	Stake     int64     `json:"stake"`
	At        time.Time `json:"at"`
}

// ActivityKind names a counter-changing user event.
type ActivityKind string

// Activity kinds.
const (
	ActivityPrediction   ActivityKind = "prediction"
	ActivityComment      ActivityKind = "comment"
	ActivityVote         ActivityKind = "vote"
	ActivityVerification ActivityKind = "verification"
)

// Activity holds the raw counters a trust score is derived from.
// VerificationSignal is nil when no signal is known.
type Activity struct {
	PredictionCount    int      `json:"prediction_count"`
	CommentCount       int      `json:"comment_count"`
	RecentComments     int      `json:"recent_comments"`
	VoteCount          int      `json:"vote_count"`
	RecentVotes        int      `json:"recent_votes"`
	VerificationSignal *float64 `json:"verification_signal,omitempty"`
}

// ActivityEvent is one counter-changing fact about a user. Signal is only
// set for ActivityVerification.
type ActivityEvent struct {
	User   Address      `json:"user"`
	Kind   ActivityKind `json:"kind"`
	Signal *float64     `json:"signal,omitempty"`
	At     time.Time    `json:"at"`
}

// Valid reports whether k is a known activity kind.
func (k ActivityKind) Valid() bool {
	switch k {
	case ActivityPrediction, ActivityComment, ActivityVote, ActivityVerification:
		return true
	}
	return false
}

// Windows for the "recent" activity counters.
const (
	RecentCommentWindow = 30 * 24 * time.Hour
	RecentVoteWindow    = 7 * 24 * time.Hour
)
