// Package tracker is the ownership-scoped gateway between HTTP handlers and
// storage. Every method takes the caller's storage.OwnerID, validates input
// before the store is reached, and detaches store calls from request
// cancellation so a started write runs to completion. Store calls are bounded
// by the backend's own timeout instead.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmcleod/goaltracker/storage"
)

// Gateway wraps a storage.Repository with owner scoping and validation.
type Gateway struct {
	repo storage.Repository
	now  func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithClock overrides the clock used for dashboard windows.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// NewGateway returns a Gateway over repo.
func NewGateway(repo storage.Repository, opts ...Option) *Gateway {
	g := &Gateway{repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// wrap annotates upstream failures while keeping storage sentinels matchable.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

// GoalDetail is a goal with its children.
type GoalDetail struct {
	Goal       storage.Goal
	Milestones []storage.Milestone
	Logs       []storage.Log
	Completed  int
}

// ListGoals returns owner's goals by target date, undated last.
func (g *Gateway) ListGoals(ctx context.Context, owner storage.OwnerID) ([]storage.Goal, error) {
	goals, err := g.repo.Goals().ListForOwner(detach(ctx), owner)
	return goals, wrap("listing goals", err)
}

// Goal returns a single owned goal or storage.ErrNotFound.
func (g *Gateway) Goal(ctx context.Context, owner storage.OwnerID, id string) (*storage.Goal, error) {
	goal, err := g.repo.Goals().Get(detach(ctx), id, owner)
	return goal, wrap("loading goal", err)
}

// CreateGoal validates form and stores a new goal.
func (g *Gateway) CreateGoal(ctx context.Context, owner storage.OwnerID, form GoalForm) (string, error) {
	if err := Validate(form); err != nil {
		return "", err
	}
	id, err := g.repo.Goals().Create(detach(ctx), owner, form.fields())
	return id, wrap("creating goal", err)
}

// UpdateGoal validates form and overwrites an owned goal.
func (g *Gateway) UpdateGoal(ctx context.Context, owner storage.OwnerID, id string, form GoalForm) error {
	if err := Validate(form); err != nil {
		return err
	}
	return wrap("updating goal", g.repo.Goals().Update(detach(ctx), id, owner, form.fields()))
}

// DeleteGoal removes an owned goal together with its milestones and logs.
func (g *Gateway) DeleteGoal(ctx context.Context, owner storage.OwnerID, id string) error {
	return wrap("deleting goal", g.repo.Goals().Delete(detach(ctx), id, owner))
}

// GoalDetail loads a goal with its milestones and logs.
func (g *Gateway) GoalDetail(ctx context.Context, owner storage.OwnerID, id string) (*GoalDetail, error) {
	ctx = detach(ctx)
	goal, err := g.repo.Goals().Get(ctx, id, owner)
	if err != nil {
		return nil, wrap("loading goal", err)
	}
	ms, err := g.repo.Milestones().ListForGoal(ctx, id, owner)
	if err != nil {
		return nil, wrap("listing milestones", err)
	}
	logs, err := g.repo.Logs().ListForGoal(ctx, id, owner)
	if err != nil {
		return nil, wrap("listing logs", err)
	}
	d := &GoalDetail{Goal: *goal, Milestones: ms, Logs: logs}
	for _, m := range ms {
		if m.Complete {
			d.Completed++
		}
	}
	return d, nil
}

// AddMilestone validates form and attaches a milestone to an owned goal.
func (g *Gateway) AddMilestone(ctx context.Context, owner storage.OwnerID, goalID string, form MilestoneForm) (string, error) {
	if err := Validate(form); err != nil {
		return "", err
	}
	id, err := g.repo.Milestones().Create(detach(ctx), owner, goalID, form.fields())
	return id, wrap("creating milestone", err)
}

// milestone loads an owned milestone and checks that it hangs off goalID.
func (g *Gateway) milestone(ctx context.Context, owner storage.OwnerID, goalID, id string) (*storage.Milestone, error) {
	m, err := g.repo.Milestones().Get(ctx, id, owner)
	if err != nil {
		return nil, wrap("loading milestone", err)
	}
	if m.GoalID != goalID {
		return nil, storage.ErrNotFound
	}
	return m, nil
}

// ToggleMilestone flips the completion flag and returns the new state.
// It reads then writes; two concurrent toggles on the same milestone may
// both observe the same state, and the last write wins.
func (g *Gateway) ToggleMilestone(ctx context.Context, owner storage.OwnerID, goalID, id string) (bool, error) {
	ctx = detach(ctx)
	m, err := g.milestone(ctx, owner, goalID, id)
	if err != nil {
		return false, err
	}
	next := !m.Complete
	if err := g.repo.Milestones().SetComplete(ctx, id, owner, next); err != nil {
		return false, wrap("toggling milestone", err)
	}
	return next, nil
}

// DeleteMilestone removes an owned milestone under goalID.
func (g *Gateway) DeleteMilestone(ctx context.Context, owner storage.OwnerID, goalID, id string) error {
	ctx = detach(ctx)
	if _, err := g.milestone(ctx, owner, goalID, id); err != nil {
		return err
	}
	return wrap("deleting milestone", g.repo.Milestones().Delete(ctx, id, owner))
}

// AddLog validates form and attaches a progress log to an owned goal.
func (g *Gateway) AddLog(ctx context.Context, owner storage.OwnerID, goalID string, form LogForm) (string, error) {
	if err := Validate(form); err != nil {
		return "", err
	}
	id, err := g.repo.Logs().Create(detach(ctx), owner, goalID, form.fields())
	return id, wrap("creating log", err)
}

// DeleteLog removes an owned log under goalID.
func (g *Gateway) DeleteLog(ctx context.Context, owner storage.OwnerID, goalID, id string) error {
	ctx = detach(ctx)
	l, err := g.repo.Logs().Get(ctx, id, owner)
	if err != nil {
		return wrap("loading log", err)
	}
	if l.GoalID != goalID {
		return storage.ErrNotFound
	}
	return wrap("deleting log", g.repo.Logs().Delete(ctx, id, owner))
}

// Profile loads the owner's user record.
func (g *Gateway) Profile(ctx context.Context, owner storage.OwnerID) (*storage.User, error) {
	u, err := g.repo.Users().Get(detach(ctx), string(owner))
	return u, wrap("loading profile", err)
}
