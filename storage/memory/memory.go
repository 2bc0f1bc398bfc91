// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jmcleod/goaltracker/internal/uuid"
	"github.com/jmcleod/goaltracker/storage"
)

type sessionEntry struct {
	envelope  *storage.Envelope
	expiresAt time.Time
}

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing, demos, and single-process use cases.
type Repository struct {
	mu         sync.RWMutex
	users      map[string]storage.User
	emails     map[string]string
	goals      map[string]storage.Goal
	milestones map[string]storage.Milestone
	logs       map[string]storage.Log
	sessions   map[string]sessionEntry
	now        func() time.Time
}

var _ storage.Repository = (*Repository)(nil)

// Option configures a Repository.
type Option func(*Repository)

// WithClock overrides the clock used for record timestamps and expiry.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// NewRepository creates a new empty in-memory Repository.
func NewRepository(opts ...Option) *Repository {
	r := &Repository{
		users:      make(map[string]storage.User),
		emails:     make(map[string]string),
		goals:      make(map[string]storage.Goal),
		milestones: make(map[string]storage.Milestone),
		logs:       make(map[string]storage.Log),
		sessions:   make(map[string]sessionEntry),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Repository) Users() storage.UserStore           { return userStore{r} }
func (r *Repository) Goals() storage.GoalStore           { return goalStore{r} }
func (r *Repository) Milestones() storage.MilestoneStore { return milestoneStore{r} }
func (r *Repository) Logs() storage.LogStore             { return logStore{r} }
func (r *Repository) Sessions() storage.SessionRecords   { return sessionStore{r} }

// Close is a no-op.
func (r *Repository) Close() error { return nil }

func (r *Repository) Stats(_ context.Context, owner storage.OwnerID, since time.Time) (storage.Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var s storage.Stats
	for _, g := range r.goals {
		if g.OwnerUserID == owner {
			s.TotalGoals++
		}
	}
	for _, m := range r.milestones {
		if m.OwnerUserID == owner && !m.Complete {
			s.ActiveMilestones++
		}
	}
	for _, l := range r.logs {
		if l.OwnerUserID == owner && !l.CreatedAt.Before(since) {
			s.LogsSince++
		}
	}
	return s, nil
}

type userStore struct{ r *Repository }

func (s userStore) Create(_ context.Context, user storage.User) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if _, ok := s.r.users[user.ID]; ok {
		return storage.ErrConflict
	}
	if _, ok := s.r.emails[user.Email]; ok {
		return storage.ErrConflict
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.r.now()
	}
	s.r.users[user.ID] = user
	s.r.emails[user.Email] = user.ID
	return nil
}

func (s userStore) Get(_ context.Context, id string) (*storage.User, error) {
	s.r.mu.RLock()
	defer s.r.mu.RUnlock()
	u, ok := s.r.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &u, nil
}

func (s userStore) GetByEmail(_ context.Context, email string) (*storage.User, error) {
	s.r.mu.RLock()
	defer s.r.mu.RUnlock()
	id, ok := s.r.emails[email]
	if !ok {
		return nil, storage.ErrNotFound
	}
	u := s.r.users[id]
	return &u, nil
}

type goalStore struct{ r *Repository }

func (s goalStore) ListForOwner(_ context.Context, owner storage.OwnerID) ([]storage.Goal, error) {
	s.r.mu.RLock()
	defer s.r.mu.RUnlock()
	out := []storage.Goal{}
	for _, g := range s.r.goals {
		if g.OwnerUserID == owner {
			out = append(out, g)
		}
	}
	storage.SortGoals(out)
	return out, nil
}

func (s goalStore) Get(_ context.Context, id string, owner storage.OwnerID) (*storage.Goal, error) {
	s.r.mu.RLock()
	defer s.r.mu.RUnlock()
	g, ok := s.r.goals[id]
	if !ok || g.OwnerUserID != owner {
		return nil, storage.ErrNotFound
	}
	return &g, nil
}

func (s goalStore) Create(_ context.Context, owner storage.OwnerID, f storage.GoalFields) (string, error) {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	now := s.r.now()
	g := storage.Goal{ID: uuid.New(), OwnerUserID: owner, CreatedAt: now, UpdatedAt: now}
	applyGoal(&g, f)
	s.r.goals[g.ID] = g
	return g.ID, nil
}

func (s goalStore) Update(_ context.Context, id string, owner storage.OwnerID, f storage.GoalFields) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	g, ok := s.r.goals[id]
	if !ok || g.OwnerUserID != owner {
		return storage.ErrNotFound
	}
	applyGoal(&g, f)
	g.UpdatedAt = s.r.now()
	s.r.goals[id] = g
	return nil
}

func (s goalStore) Delete(_ context.Context, id string, owner storage.OwnerID) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	g, ok := s.r.goals[id]
	if !ok || g.OwnerUserID != owner {
		return storage.ErrNotFound
	}
	delete(s.r.goals, id)
	for mid, m := range s.r.milestones {
		if m.GoalID == id {
			delete(s.r.milestones, mid)
		}
	}
	for lid, l := range s.r.logs {
		if l.GoalID == id {
			delete(s.r.logs, lid)
		}
	}
	return nil
}

func applyGoal(g *storage.Goal, f storage.GoalFields) {
	g.Title = f.Title
	g.Description = f.Description
	g.TargetDate = f.TargetDate
	g.Progress = f.Progress
	g.Archived = f.Archived
}

// ownsGoalLocked reports whether goalID exists and belongs to owner.
func (r *Repository) ownsGoalLocked(goalID string, owner storage.OwnerID) bool {
	g, ok := r.goals[goalID]
	return ok && g.OwnerUserID == owner
}

type milestoneStore struct{ r *Repository }

func (s milestoneStore) ListForOwner(_ context.Context, owner storage.OwnerID) ([]storage.Milestone, error) {
	return s.list(func(m storage.Milestone) bool { return m.OwnerUserID == owner }), nil
}

func (s milestoneStore) ListForGoal(_ context.Context, goalID string, owner storage.OwnerID) ([]storage.Milestone, error) {
	return s.list(func(m storage.Milestone) bool { return m.GoalID == goalID && m.OwnerUserID == owner }), nil
}

func (s milestoneStore) list(keep func(storage.Milestone) bool) []storage.Milestone {
	s.r.mu.RLock()
	defer s.r.mu.RUnlock()
	out := []storage.Milestone{}
	for _, m := range s.r.milestones {
		if keep(m) {
			out = append(out, m)
		}
	}
	storage.SortMilestones(out)
	return out
}

func (s milestoneStore) Get(_ context.Context, id string, owner storage.OwnerID) (*storage.Milestone, error) {
	s.r.mu.RLock()
	defer s.r.mu.RUnlock()
	m, ok := s.r.milestones[id]
	if !ok || m.OwnerUserID != owner {
		return nil, storage.ErrNotFound
	}
	return &m, nil
}

func (s milestoneStore) Create(_ context.Context, owner storage.OwnerID, goalID string, f storage.MilestoneFields) (string, error) {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if !s.r.ownsGoalLocked(goalID, owner) {
		return "", storage.ErrNotFound
	}
	m := storage.Milestone{
		ID:          uuid.New(),
		GoalID:      goalID,
		OwnerUserID: owner,
		Title:       f.Title,
		Due:         f.Due,
		CreatedAt:   s.r.now(),
	}
	s.r.milestones[m.ID] = m
	return m.ID, nil
}

func (s milestoneStore) Update(_ context.Context, id string, owner storage.OwnerID, f storage.MilestoneFields) error {
	return s.mutate(id, owner, func(m *storage.Milestone) {
		m.Title = f.Title
		m.Due = f.Due
	})
}

func (s milestoneStore) SetComplete(_ context.Context, id string, owner storage.OwnerID, complete bool) error {
	return s.mutate(id, owner, func(m *storage.Milestone) { m.Complete = complete })
}

func (s milestoneStore) mutate(id string, owner storage.OwnerID, fn func(*storage.Milestone)) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	m, ok := s.r.milestones[id]
	if !ok || m.OwnerUserID != owner {
		return storage.ErrNotFound
	}
	fn(&m)
	s.r.milestones[id] = m
	return nil
}

func (s milestoneStore) Delete(_ context.Context, id string, owner storage.OwnerID) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	m, ok := s.r.milestones[id]
	if !ok || m.OwnerUserID != owner {
		return storage.ErrNotFound
	}
	delete(s.r.milestones, id)
	return nil
}

type logStore struct{ r *Repository }

func (s logStore) ListForOwner(_ context.Context, owner storage.OwnerID) ([]storage.Log, error) {
	return s.list(func(l storage.Log) bool { return l.OwnerUserID == owner }), nil
}

func (s logStore) ListForGoal(_ context.Context, goalID string, owner storage.OwnerID) ([]storage.Log, error) {
	return s.list(func(l storage.Log) bool { return l.GoalID == goalID && l.OwnerUserID == owner }), nil
}

func (s logStore) list(keep func(storage.Log) bool) []storage.Log {
	s.r.mu.RLock()
	defer s.r.mu.RUnlock()
	out := []storage.Log{}
	for _, l := range s.r.logs {
		if keep(l) {
			out = append(out, l)
		}
	}
	storage.SortLogs(out)
	return out
}

func (s logStore) Get(_ context.Context, id string, owner storage.OwnerID) (*storage.Log, error) {
	s.r.mu.RLock()
	defer s.r.mu.RUnlock()
	l, ok := s.r.logs[id]
	if !ok || l.OwnerUserID != owner {
		return nil, storage.ErrNotFound
	}
	return &l, nil
}

func (s logStore) Create(_ context.Context, owner storage.OwnerID, goalID string, f storage.LogFields) (string, error) {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if !s.r.ownsGoalLocked(goalID, owner) {
		return "", storage.ErrNotFound
	}
	l := storage.Log{
		ID:          uuid.New(),
		GoalID:      goalID,
		OwnerUserID: owner,
		Note:        f.Note,
		MetricName:  f.MetricName,
		MetricValue: f.MetricValue,
		CreatedAt:   s.r.now(),
	}
	s.r.logs[l.ID] = l
	return l.ID, nil
}

func (s logStore) Update(_ context.Context, id string, owner storage.OwnerID, f storage.LogFields) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	l, ok := s.r.logs[id]
	if !ok || l.OwnerUserID != owner {
		return storage.ErrNotFound
	}
	l.Note = f.Note
	l.MetricName = f.MetricName
	l.MetricValue = f.MetricValue
	s.r.logs[id] = l
	return nil
}

func (s logStore) Delete(_ context.Context, id string, owner storage.OwnerID) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	l, ok := s.r.logs[id]
	if !ok || l.OwnerUserID != owner {
		return storage.ErrNotFound
	}
	delete(s.r.logs, id)
	return nil
}

type sessionStore struct{ r *Repository }

func (s sessionStore) Put(_ context.Context, id string, env *storage.Envelope, expiresAt time.Time) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	s.r.sessions[id] = sessionEntry{envelope: env.Clone(), expiresAt: expiresAt}
	return nil
}

func (s sessionStore) Replace(_ context.Context, id string, env *storage.Envelope, expiresAt time.Time) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	e, ok := s.r.sessions[id]
	if !ok || (!e.expiresAt.IsZero() && !s.r.now().Before(e.expiresAt)) {
		return storage.ErrNotFound
	}
	s.r.sessions[id] = sessionEntry{envelope: env.Clone(), expiresAt: expiresAt}
	return nil
}

func (s sessionStore) Get(_ context.Context, id string) (*storage.Envelope, error) {
	s.r.mu.RLock()
	defer s.r.mu.RUnlock()
	e, ok := s.r.sessions[id]
	if !ok || (!e.expiresAt.IsZero() && !s.r.now().Before(e.expiresAt)) {
		return nil, storage.ErrNotFound
	}
	return e.envelope.Clone(), nil
}

func (s sessionStore) Delete(_ context.Context, id string) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if _, ok := s.r.sessions[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.r.sessions, id)
	return nil
}

func (s sessionStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	n := 0
	for id, e := range s.r.sessions {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(s.r.sessions, id)
			n++
		}
	}
	return n, nil
}
