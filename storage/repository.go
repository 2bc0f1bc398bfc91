// Package storage defines the owner-scoped persistence contract for goals,
// milestones, logs, user profiles and sealed session records.
//
// Every entity method takes the owning user's ID alongside the entity ID and
// must match on both. A row owned by someone else is reported as ErrNotFound,
// and Update/Delete that affect no row report ErrNotFound as well.
package storage

import (
	"context"
	"time"
)

// UserStore persists user profiles.
type UserStore interface {
	Create(ctx context.Context, user User) error
	Get(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
}

// GoalStore persists goals. Deleting a goal removes its milestones and logs.
type GoalStore interface {
	ListForOwner(ctx context.Context, owner OwnerID) ([]Goal, error)
	Get(ctx context.Context, id string, owner OwnerID) (*Goal, error)
	Create(ctx context.Context, owner OwnerID, fields GoalFields) (string, error)
	Update(ctx context.Context, id string, owner OwnerID, fields GoalFields) error
	Delete(ctx context.Context, id string, owner OwnerID) error
}

// MilestoneStore persists milestones. Create fails with ErrNotFound unless
// the goal exists and belongs to owner.
type MilestoneStore interface {
	ListForOwner(ctx context.Context, owner OwnerID) ([]Milestone, error)
	ListForGoal(ctx context.Context, goalID string, owner OwnerID) ([]Milestone, error)
	Get(ctx context.Context, id string, owner OwnerID) (*Milestone, error)
	Create(ctx context.Context, owner OwnerID, goalID string, fields MilestoneFields) (string, error)
	Update(ctx context.Context, id string, owner OwnerID, fields MilestoneFields) error
	SetComplete(ctx context.Context, id string, owner OwnerID, complete bool) error
	Delete(ctx context.Context, id string, owner OwnerID) error
}

// LogStore persists progress logs. Create fails with ErrNotFound unless the
// goal exists and belongs to owner.
type LogStore interface {
	ListForOwner(ctx context.Context, owner OwnerID) ([]Log, error)
	ListForGoal(ctx context.Context, goalID string, owner OwnerID) ([]Log, error)
	Get(ctx context.Context, id string, owner OwnerID) (*Log, error)
	Create(ctx context.Context, owner OwnerID, goalID string, fields LogFields) (string, error)
	Update(ctx context.Context, id string, owner OwnerID, fields LogFields) error
	Delete(ctx context.Context, id string, owner OwnerID) error
}

// SessionRecords stores sealed session blobs keyed by session token.
// A zero expiresAt never expires.
type SessionRecords interface {
	Put(ctx context.Context, id string, envelope *Envelope, expiresAt time.Time) error
	// Replace overwrites a live record and fails with ErrNotFound when the
	// record is missing or expired. It never creates one.
	Replace(ctx context.Context, id string, envelope *Envelope, expiresAt time.Time) error
	Get(ctx context.Context, id string) (*Envelope, error)
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// Repository bundles the stores of one backend.
type Repository interface {
	Users() UserStore
	Goals() GoalStore
	Milestones() MilestoneStore
	Logs() LogStore
	Sessions() SessionRecords
	// Stats counts owner's goals, incomplete milestones and logs created at
	// or after since.
	Stats(ctx context.Context, owner OwnerID, since time.Time) (Stats, error)
	Close() error
}
