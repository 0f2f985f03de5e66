package leaderboard

import "errors"

// Sentinel kinds for leaderboard errors.
var (
	ErrProjectNotFound = errors.New("project not found")
	ErrInvalidProject  = errors.New("invalid project")
	ErrCategoryClash   = errors.New("project already registered under another category")
	ErrInvalidRating   = errors.New("rating must be between 1 and 5")
	ErrInvalidLimit    = errors.New("invalid leaderboard limit")
)
