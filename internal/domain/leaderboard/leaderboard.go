// Package leaderboard ranks projects per category by stake-weighted review
// score and tracks week-over-week rank changes.
//
// Writers mutate a per-category order-statistics treap under a mutex.
// Display reads go through an immutable View published atomically, so they
// never block writers. Snapshot is the authoritative source of final ranks
// for settlement.
package leaderboard

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/mindshare/internal/domain/model"
	"github.com/okian/mindshare/pkg/logger"
	"github.com/okian/mindshare/pkg/metrics"
)

const (
	ratingToScore = 20 // 1..5 stars to a 0..100 mindshare score
	minRating     = 1
	maxRating     = 5
)

// Store persists projects and reviews so the board can be rebuilt.
type Store interface {
	SaveProject(ctx context.Context, p model.Project) error
	SaveReview(ctx context.Context, r model.Review) error
	Projects(ctx context.Context) ([]model.Project, error)
	Reviews(ctx context.Context) ([]model.Review, error)
}

// Entry is one leaderboard row.
type Entry struct {
	Rank         int     `json:"rank"`
	ProjectID    string  `json:"project_id"`
	Category     string  `json:"category"`
	Score        float64 `json:"score"`
	WeeklyChange *int    `json:"weekly_change"`
	TotalStaked  int64   `json:"total_staked"`
	ReviewCount  int     `json:"review_count"`
}

// View is an immutable, published copy of every category's ranking.
type View struct {
	Categories  map[string][]Entry
	PublishedAt time.Time
}

// Snapshot holds authoritative ranks at one instant.
type Snapshot struct {
	Ranks      map[string]int      `json:"ranks"`
	Categories map[string][]string `json:"categories"`
	TakenAt    time.Time           `json:"taken_at"`
}

type projectState struct {
	p           model.Project
	weightedSum float64 // Σ rating·stake
	weight      int64   // Σ stake
	ratingSum   int
}

// score is the stake-weighted mean rating scaled to 0..100, falling back to
// the plain mean when no review carries stake.
func (s *projectState) score() float64 {
	switch {
	case s.weight > 0:
		return s.weightedSum / float64(s.weight) * ratingToScore
	case s.p.ReviewCount > 0:
		return float64(s.ratingSum) / float64(s.p.ReviewCount) * ratingToScore
	}
	return 0
}

func (s *projectState) key() key {
	return keyOf(s.p.ID, s.score(), s.p.TotalStaked, s.p.CreatedAt)
}

// Leaderboard is the canonical ranked view of projects.
type Leaderboard struct {
	mu       sync.RWMutex
	boards   map[string]*node
	projects map[string]*projectState

	view  atomic.Pointer[View]
	dirty atomic.Bool

	store           Store
	publishInterval time.Duration
	now             func() time.Time
	logger          logger.Logger

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// New constructs an empty leaderboard and publishes an empty view.
func New(opts ...Option) *Leaderboard {
	lb := &Leaderboard{
		boards:          make(map[string]*node),
		projects:        make(map[string]*projectState),
		publishInterval: time.Second,
		now:             time.Now,
		logger:          logger.OrDiscard("leaderboard"),
		stopChan:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(lb)
	}
	lb.Publish()
	return lb
}

// Load rebuilds the board from the store.
func (lb *Leaderboard) Load(ctx context.Context) error {
	if lb.store == nil {
		return nil
	}
	projects, err := lb.store.Projects(ctx)
	if err != nil {
		return fmt.Errorf("leaderboard.load: %w", err)
	}
	reviews, err := lb.store.Reviews(ctx)
	if err != nil {
		return fmt.Errorf("leaderboard.load: %w", err)
	}

	lb.mu.Lock()
	lb.boards = make(map[string]*node)
	lb.projects = make(map[string]*projectState, len(projects))
	for _, p := range projects {
		p.ReviewCount = 0
		lb.projects[p.ID] = &projectState{p: p}
	}
	for _, r := range reviews {
		if st, ok := lb.projects[r.ProjectID]; ok {
			st.addReview(r)
		}
	}
	for _, st := range lb.projects {
		lb.boards[st.p.Category] = insert(lb.boards[st.p.Category], st.key())
	}
	count := len(lb.projects)
	lb.mu.Unlock()

	metrics.UpdateTotalProjects(count)
	lb.Publish()
	lb.logger.Info(ctx, "leaderboard loaded", logger.Int("projects", count), logger.Int("reviews", len(reviews)))
	return nil
}

// Start launches the periodic view publisher.
func (lb *Leaderboard) Start(ctx context.Context) {
	lb.wg.Add(1)
	go func() {
		defer lb.wg.Done()
		ticker := time.NewTicker(lb.publishInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-lb.stopChan:
				return
			case <-ticker.C:
				if lb.dirty.Load() {
					lb.Publish()
				}
			}
		}
	}()
}

// Close stops the publisher.
func (lb *Leaderboard) Close() error {
	lb.stopOnce.Do(func() { close(lb.stopChan) })
	lb.wg.Wait()
	return nil
}

// AddProject registers a project. Registering a known project again returns
// it with created=false.
func (lb *Leaderboard) AddProject(ctx context.Context, p model.Project) (model.Project, bool, error) {
	if p.ID == "" || p.Category == "" {
		return model.Project{}, false, ErrInvalidProject
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = lb.now()
	}
	p.CurrentRank, p.PreviousRank = nil, nil
	p.TotalStaked, p.ReviewCount = 0, 0

	lb.mu.Lock()
	defer lb.mu.Unlock()
	if st, ok := lb.projects[p.ID]; ok {
		if st.p.Category != p.Category {
			return model.Project{}, false, ErrCategoryClash
		}
		return lb.projectLocked(st), false, nil
	}
	if lb.store != nil {
		if err := lb.store.SaveProject(ctx, p); err != nil {
			return model.Project{}, false, fmt.Errorf("leaderboard.add_project: %w", err)
		}
	}
	st := &projectState{p: p}
	lb.projects[p.ID] = st
	lb.boards[p.Category] = insert(lb.boards[p.Category], st.key())
	lb.touch()
	metrics.UpdateTotalProjects(len(lb.projects))
	return lb.projectLocked(st), true, nil
}

func (s *projectState) addReview(r model.Review) {
	s.p.ReviewCount++
	s.ratingSum += r.Rating
	if r.Stake > 0 {
		s.weightedSum += float64(r.Rating) * float64(r.Stake)
		s.weight += r.Stake
	}
}

// AddReview folds a review into its project's score.
func (lb *Leaderboard) AddReview(ctx context.Context, r model.Review) (model.Project, error) {
	if r.Rating < minRating || r.Rating > maxRating || r.Stake < 0 {
		return model.Project{}, ErrInvalidRating
	}
	if r.At.IsZero() {
		r.At = lb.now()
	}

	lb.mu.Lock()
	defer lb.mu.Unlock()
	st, ok := lb.projects[r.ProjectID]
	if !ok {
		return model.Project{}, ErrProjectNotFound
	}
	if lb.store != nil {
		if err := lb.store.SaveReview(ctx, r); err != nil {
			return model.Project{}, fmt.Errorf("leaderboard.add_review: %w", err)
		}
	}
	lb.reorder(st, func() { st.addReview(r) })
	return lb.projectLocked(st), nil
}

// ApplyStake adjusts a project's locked stake total. Unknown projects are
// ignored.
func (lb *Leaderboard) ApplyStake(projectID string, delta int64) {
	if delta == 0 {
		return
	}
	lb.mu.Lock()
	st, ok := lb.projects[projectID]
	if !ok {
		lb.mu.Unlock()
		return
	}
	lb.reorder(st, func() {
		st.p.TotalStaked += delta
		if st.p.TotalStaked < 0 {
			st.p.TotalStaked = 0
		}
	})
	p := st.p
	lb.mu.Unlock()

	lb.persist(p)
}

// reorder reinserts st after mutate changes its ordering key. Caller holds mu.
func (lb *Leaderboard) reorder(st *projectState, mutate func()) {
	cat := st.p.Category
	lb.boards[cat] = remove(lb.boards[cat], st.key())
	mutate()
	lb.boards[cat] = insert(lb.boards[cat], st.key())
	lb.touch()
}

func (lb *Leaderboard) touch() {
	lb.dirty.Store(true)
	metrics.RecordLeaderboardUpdate()
}

func (lb *Leaderboard) persist(p model.Project) {
	if lb.store == nil {
		return
	}
	if err := lb.store.SaveProject(context.Background(), p); err != nil {
		lb.logger.Error(context.Background(), "failed to persist project", logger.String("project_id", p.ID), logger.Error(err))
		metrics.RecordErrorByComponent("leaderboard", "persist")
	}
}

// Category returns the category a project belongs to.
func (lb *Leaderboard) Category(projectID string) (string, bool) {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	st, ok := lb.projects[projectID]
	if !ok {
		return "", false
	}
	return st.p.Category, true
}

// CategorySize returns how many projects are ranked in category.
func (lb *Leaderboard) CategorySize(category string) int {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	return nsize(lb.boards[category])
}

// Project returns a project with its live rank.
func (lb *Leaderboard) Project(projectID string) (model.Project, bool) {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	st, ok := lb.projects[projectID]
	if !ok {
		return model.Project{}, false
	}
	return lb.projectLocked(st), true
}

func (lb *Leaderboard) projectLocked(st *projectState) model.Project {
	p := st.p
	if r := rankOf(lb.boards[p.Category], st.key()); r > 0 {
		p.CurrentRank = &r
	}
	return p
}

// Count returns the number of projects.
func (lb *Leaderboard) Count() int {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	return len(lb.projects)
}

// Snapshot returns every project's current rank within its category.
func (lb *Leaderboard) Snapshot(_ context.Context) Snapshot {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	snap := Snapshot{
		Ranks:      make(map[string]int, len(lb.projects)),
		Categories: make(map[string][]string, len(lb.boards)),
		TakenAt:    lb.now(),
	}
	for cat, root := range lb.boards {
		ids := make([]string, 0, nsize(root))
		walk(root, func(k key) bool {
			ids = append(ids, k.id)
			snap.Ranks[k.id] = len(ids)
			return true
		})
		snap.Categories[cat] = ids
	}
	return snap
}

// Rollover makes snap the previous week's ranking for weeklyChange.
func (lb *Leaderboard) Rollover(snap Snapshot) {
	lb.mu.Lock()
	changed := make([]model.Project, 0, len(snap.Ranks))
	for id, rank := range snap.Ranks {
		st, ok := lb.projects[id]
		if !ok {
			continue
		}
		r := rank
		st.p.PreviousRank = &r
		changed = append(changed, st.p)
	}
	lb.mu.Unlock()

	for _, p := range changed {
		lb.persist(p)
	}
	lb.Publish()
}

// Publish rebuilds and atomically swaps the display view.
func (lb *Leaderboard) Publish() {
	start := time.Now()
	lb.dirty.Store(false)

	lb.mu.RLock()
	v := &View{
		Categories:  make(map[string][]Entry, len(lb.boards)),
		PublishedAt: lb.now(),
	}
	for cat, root := range lb.boards {
		entries := make([]Entry, 0, nsize(root))
		walk(root, func(k key) bool {
			st := lb.projects[k.id]
			e := Entry{
				Rank:        len(entries) + 1,
				ProjectID:   k.id,
				Category:    cat,
				Score:       toFloat(k.score),
				TotalStaked: st.p.TotalStaked,
				ReviewCount: st.p.ReviewCount,
			}
			if st.p.PreviousRank != nil {
				change := *st.p.PreviousRank - e.Rank
				e.WeeklyChange = &change
			}
			entries = append(entries, e)
			return true
		})
		v.Categories[cat] = entries
	}
	lb.mu.RUnlock()

	lb.view.Store(v)
	metrics.RecordLeaderboardPublish(float64(time.Since(start).Microseconds()) / 1000)
}

// Top returns up to limit entries of a category from the published view.
// An empty category lists every category, ordered by name then rank.
func (lb *Leaderboard) Top(category string, limit int) ([]Entry, error) {
	if limit < 1 {
		return nil, ErrInvalidLimit
	}
	v := lb.view.Load()
	if category != "" {
		entries := v.Categories[category]
		if len(entries) > limit {
			entries = entries[:limit]
		}
		return append([]Entry(nil), entries...), nil
	}

	cats := make([]string, 0, len(v.Categories))
	for c := range v.Categories {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	out := make([]Entry, 0, limit)
	for _, c := range cats {
		for _, e := range v.Categories[c] {
			if len(out) == limit {
				return out, nil
			}
			out = append(out, e)
		}
	}
	return out, nil
}

// Categories lists the categories in the published view.
func (lb *Leaderboard) Categories() []string {
	v := lb.view.Load()
	cats := make([]string, 0, len(v.Categories))
	for c := range v.Categories {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	return cats
}

// PublishedAt reports when the current view was built.
func (lb *Leaderboard) PublishedAt() time.Time {
	return lb.view.Load().PublishedAt
}
