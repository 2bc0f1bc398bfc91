// Package bbolt provides a BBolt-backed storage repository.
//
// Records live in a bucket per owner, so a lookup for one owner can never
// reach another owner's rows:
//
//	users/<id>               user JSON
//	emails/<email>           user ID
//	owners/<owner>/goals/<id>
//	owners/<owner>/milestones/<id>
//	owners/<owner>/logs/<id>
//	sessions/<token>         sealed session JSON
package bbolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/goaltracker/internal/uuid"
	"github.com/jmcleod/goaltracker/storage"
)

var (
	bucketUsers      = []byte("users")
	bucketEmails     = []byte("emails")
	bucketOwners     = []byte("owners")
	bucketSessions   = []byte("sessions")
	bucketGoals      = []byte("goals")
	bucketMilestones = []byte("milestones")
	bucketLogs       = []byte("logs")
)

// Store implements storage.Repository backed by a BBolt database.
type Store struct {
	db  *bbolt.DB
	now func() time.Time
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given BBolt database.
func NewRepository(db *bbolt.DB) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketUsers, bucketEmails, bucketOwners, bucketSessions} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("initialising buckets: %w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// NewRepositoryFromFile opens a BBolt database at the given path and returns a new Repository.
// timeout bounds how long Open waits for the file lock.
func NewRepositoryFromFile(path string, timeout time.Duration) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	s, err := NewRepository(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Users() storage.UserStore           { return userStore{s} }
func (s *Store) Goals() storage.GoalStore           { return goalStore{s} }
func (s *Store) Milestones() storage.MilestoneStore { return milestoneStore{s} }
func (s *Store) Logs() storage.LogStore             { return logStore{s} }
func (s *Store) Sessions() storage.SessionRecords   { return sessionStore{s} }

// view and update refuse to start once ctx is done. BBolt transactions
// themselves are not cancellable.
func (s *Store) view(ctx context.Context, fn func(*bbolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(fn)
}

func (s *Store) update(ctx context.Context, fn func(*bbolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(fn)
}

// ownerBucket returns the named child bucket for owner, or nil when the
// owner has never written anything.
func ownerBucket(tx *bbolt.Tx, owner storage.OwnerID, name []byte) *bbolt.Bucket {
	ob := tx.Bucket(bucketOwners).Bucket([]byte(owner))
	if ob == nil {
		return nil
	}
	return ob.Bucket(name)
}

func createOwnerBucket(tx *bbolt.Tx, owner storage.OwnerID, name []byte) (*bbolt.Bucket, error) {
	ob, err := tx.Bucket(bucketOwners).CreateBucketIfNotExists([]byte(owner))
	if err != nil {
		return nil, err
	}
	return ob.CreateBucketIfNotExists(name)
}

func getJSON[T any](b *bbolt.Bucket, id string) (*T, error) {
	if b == nil {
		return nil, storage.ErrNotFound
	}
	data := b.Get([]byte(id))
	if data == nil {
		return nil, storage.ErrNotFound
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func putJSON(b *bbolt.Bucket, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(id), data)
}

func listJSON[T any](b *bbolt.Bucket, keep func(T) bool) ([]T, error) {
	out := []T{}
	if b == nil {
		return out, nil
	}
	err := b.ForEach(func(_, data []byte) error {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		if keep == nil || keep(v) {
			out = append(out, v)
		}
		return nil
	})
	return out, err
}

func (s *Store) Stats(ctx context.Context, owner storage.OwnerID, since time.Time) (storage.Stats, error) {
	var st storage.Stats
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		if b := ownerBucket(tx, owner, bucketGoals); b != nil {
			st.TotalGoals = b.Stats().KeyN
		}
		ms, err := listJSON(ownerBucket(tx, owner, bucketMilestones), func(m storage.Milestone) bool { return !m.Complete })
		if err != nil {
			return err
		}
		st.ActiveMilestones = len(ms)
		logs, err := listJSON(ownerBucket(tx, owner, bucketLogs), func(l storage.Log) bool { return !l.CreatedAt.Before(since) })
		if err != nil {
			return err
		}
		st.LogsSince = len(logs)
		return nil
	})
	return st, err
}

type userStore struct{ s *Store }

func (u userStore) Create(ctx context.Context, user storage.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = u.s.now()
	}
	return u.s.update(ctx, func(tx *bbolt.Tx) error {
		users, emails := tx.Bucket(bucketUsers), tx.Bucket(bucketEmails)
		if users.Get([]byte(user.ID)) != nil || emails.Get([]byte(user.Email)) != nil {
			return storage.ErrConflict
		}
		if err := putJSON(users, user.ID, user); err != nil {
			return err
		}
		return emails.Put([]byte(user.Email), []byte(user.ID))
	})
}

func (u userStore) Get(ctx context.Context, id string) (*storage.User, error) {
	var user *storage.User
	err := u.s.view(ctx, func(tx *bbolt.Tx) error {
		var err error
		user, err = getJSON[storage.User](tx.Bucket(bucketUsers), id)
		return err
	})
	return user, err
}

func (u userStore) GetByEmail(ctx context.Context, email string) (*storage.User, error) {
	var user *storage.User
	err := u.s.view(ctx, func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketEmails).Get([]byte(email))
		if id == nil {
			return storage.ErrNotFound
		}
		var err error
		user, err = getJSON[storage.User](tx.Bucket(bucketUsers), string(id))
		return err
	})
	return user, err
}

type goalStore struct{ s *Store }

func (g goalStore) ListForOwner(ctx context.Context, owner storage.OwnerID) ([]storage.Goal, error) {
	var out []storage.Goal
	err := g.s.view(ctx, func(tx *bbolt.Tx) error {
		var err error
		out, err = listJSON[storage.Goal](ownerBucket(tx, owner, bucketGoals), nil)
		return err
	})
	storage.SortGoals(out)
	return out, err
}

func (g goalStore) Get(ctx context.Context, id string, owner storage.OwnerID) (*storage.Goal, error) {
	var goal *storage.Goal
	err := g.s.view(ctx, func(tx *bbolt.Tx) error {
		var err error
		goal, err = getJSON[storage.Goal](ownerBucket(tx, owner, bucketGoals), id)
		return err
	})
	return goal, err
}

func (g goalStore) Create(ctx context.Context, owner storage.OwnerID, f storage.GoalFields) (string, error) {
	now := g.s.now()
	goal := storage.Goal{ID: uuid.New(), OwnerUserID: owner, CreatedAt: now, UpdatedAt: now}
	applyGoal(&goal, f)
	err := g.s.update(ctx, func(tx *bbolt.Tx) error {
		b, err := createOwnerBucket(tx, owner, bucketGoals)
		if err != nil {
			return err
		}
		return putJSON(b, goal.ID, goal)
	})
	if err != nil {
		return "", err
	}
	return goal.ID, nil
}

func (g goalStore) Update(ctx context.Context, id string, owner storage.OwnerID, f storage.GoalFields) error {
	return g.s.update(ctx, func(tx *bbolt.Tx) error {
		b := ownerBucket(tx, owner, bucketGoals)
		goal, err := getJSON[storage.Goal](b, id)
		if err != nil {
			return err
		}
		applyGoal(goal, f)
		goal.UpdatedAt = g.s.now()
		return putJSON(b, id, goal)
	})
}

func (g goalStore) Delete(ctx context.Context, id string, owner storage.OwnerID) error {
	return g.s.update(ctx, func(tx *bbolt.Tx) error {
		b := ownerBucket(tx, owner, bucketGoals)
		if b == nil || b.Get([]byte(id)) == nil {
			return storage.ErrNotFound
		}
		if err := b.Delete([]byte(id)); err != nil {
			return err
		}
		if err := deleteChildren[storage.Milestone](ownerBucket(tx, owner, bucketMilestones), func(m storage.Milestone) bool { return m.GoalID == id }); err != nil {
			return err
		}
		return deleteChildren[storage.Log](ownerBucket(tx, owner, bucketLogs), func(l storage.Log) bool { return l.GoalID == id })
	})
}

// deleteChildren removes every record in b matching. Keys are collected
// first since a bucket must not be modified during ForEach.
func deleteChildren[T any](b *bbolt.Bucket, match func(T) bool) error {
	if b == nil {
		return nil
	}
	var doomed [][]byte
	err := b.ForEach(func(k, data []byte) error {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		if match(v) {
			doomed = append(doomed, append([]byte(nil), k...))
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range doomed {
		if err := b.Delete(k); err != nil {
			return err
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

func ownsGoal(tx *bbolt.Tx, owner storage.OwnerID, goalID string) bool {
	b := ownerBucket(tx, owner, bucketGoals)
	return b != nil && b.Get([]byte(goalID)) != nil
}

type milestoneStore struct{ s *Store }

func (m milestoneStore) ListForOwner(ctx context.Context, owner storage.OwnerID) ([]storage.Milestone, error) {
	return m.list(ctx, owner, nil)
}

func (m milestoneStore) ListForGoal(ctx context.Context, goalID string, owner storage.OwnerID) ([]storage.Milestone, error) {
	return m.list(ctx, owner, func(ms storage.Milestone) bool { return ms.GoalID == goalID })
}

func (m milestoneStore) list(ctx context.Context, owner storage.OwnerID, keep func(storage.Milestone) bool) ([]storage.Milestone, error) {
	var out []storage.Milestone
	err := m.s.view(ctx, func(tx *bbolt.Tx) error {
		var err error
		out, err = listJSON(ownerBucket(tx, owner, bucketMilestones), keep)
		return err
	})
	storage.SortMilestones(out)
	return out, err
}

func (m milestoneStore) Get(ctx context.Context, id string, owner storage.OwnerID) (*storage.Milestone, error) {
	var ms *storage.Milestone
	err := m.s.view(ctx, func(tx *bbolt.Tx) error {
		var err error
		ms, err = getJSON[storage.Milestone](ownerBucket(tx, owner, bucketMilestones), id)
		return err
	})
	return ms, err
}

func (m milestoneStore) Create(ctx context.Context, owner storage.OwnerID, goalID string, f storage.MilestoneFields) (string, error) {
	ms := storage.Milestone{
		ID:          uuid.New(),
		GoalID:      goalID,
		OwnerUserID: owner,
		Title:       f.Title,
		Due:         f.Due,
		CreatedAt:   m.s.now(),
	}
	err := m.s.update(ctx, func(tx *bbolt.Tx) error {
		if !ownsGoal(tx, owner, goalID) {
			return storage.ErrNotFound
		}
		b, err := createOwnerBucket(tx, owner, bucketMilestones)
		if err != nil {
			return err
		}
		return putJSON(b, ms.ID, ms)
	})
	if err != nil {
		return "", err
	}
	return ms.ID, nil
}

func (m milestoneStore) Update(ctx context.Context, id string, owner storage.OwnerID, f storage.MilestoneFields) error {
	return m.mutate(ctx, id, owner, func(ms *storage.Milestone) {
		ms.Title = f.Title
		ms.Due = f.Due
	})
}

func (m milestoneStore) SetComplete(ctx context.Context, id string, owner storage.OwnerID, complete bool) error {
	return m.mutate(ctx, id, owner, func(ms *storage.Milestone) { ms.Complete = complete })
}

func (m milestoneStore) mutate(ctx context.Context, id string, owner storage.OwnerID, fn func(*storage.Milestone)) error {
	return m.s.update(ctx, func(tx *bbolt.Tx) error {
		b := ownerBucket(tx, owner, bucketMilestones)
		ms, err := getJSON[storage.Milestone](b, id)
		if err != nil {
			return err
		}
		fn(ms)
		return putJSON(b, id, ms)
	})
}

func (m milestoneStore) Delete(ctx context.Context, id string, owner storage.OwnerID) error {
	return m.s.update(ctx, func(tx *bbolt.Tx) error {
		return deleteKey(ownerBucket(tx, owner, bucketMilestones), id)
	})
}

func deleteKey(b *bbolt.Bucket, id string) error {
	if b == nil || b.Get([]byte(id)) == nil {
		return storage.ErrNotFound
	}
	return b.Delete([]byte(id))
}

type logStore struct{ s *Store }

func (l logStore) ListForOwner(ctx context.Context, owner storage.OwnerID) ([]storage.Log, error) {
	return l.list(ctx, owner, nil)
}

func (l logStore) ListForGoal(ctx context.Context, goalID string, owner storage.OwnerID) ([]storage.Log, error) {
	return l.list(ctx, owner, func(lg storage.Log) bool { return lg.GoalID == goalID })
}

func (l logStore) list(ctx context.Context, owner storage.OwnerID, keep func(storage.Log) bool) ([]storage.Log, error) {
	var out []storage.Log
	err := l.s.view(ctx, func(tx *bbolt.Tx) error {
		var err error
		out, err = listJSON(ownerBucket(tx, owner, bucketLogs), keep)
		return err
	})
	storage.SortLogs(out)
	return out, err
}

func (l logStore) Get(ctx context.Context, id string, owner storage.OwnerID) (*storage.Log, error) {
	var lg *storage.Log
	err := l.s.view(ctx, func(tx *bbolt.Tx) error {
		var err error
		lg, err = getJSON[storage.Log](ownerBucket(tx, owner, bucketLogs), id)
		return err
	})
	return lg, err
}

func (l logStore) Create(ctx context.Context, owner storage.OwnerID, goalID string, f storage.LogFields) (string, error) {
	lg := storage.Log{
		ID:          uuid.New(),
		GoalID:      goalID,
		OwnerUserID: owner,
		Note:        f.Note,
		MetricName:  f.MetricName,
		MetricValue: f.MetricValue,
		CreatedAt:   l.s.now(),
	}
	err := l.s.update(ctx, func(tx *bbolt.Tx) error {
		if !ownsGoal(tx, owner, goalID) {
			return storage.ErrNotFound
		}
		b, err := createOwnerBucket(tx, owner, bucketLogs)
		if err != nil {
			return err
		}
		return putJSON(b, lg.ID, lg)
	})
	if err != nil {
		return "", err
	}
	return lg.ID, nil
}

func (l logStore) Update(ctx context.Context, id string, owner storage.OwnerID, f storage.LogFields) error {
	return l.s.update(ctx, func(tx *bbolt.Tx) error {
		b := ownerBucket(tx, owner, bucketLogs)
		lg, err := getJSON[storage.Log](b, id)
		if err != nil {
			return err
		}
		lg.Note = f.Note
		lg.MetricName = f.MetricName
		lg.MetricValue = f.MetricValue
		return putJSON(b, id, lg)
	})
}

func (l logStore) Delete(ctx context.Context, id string, owner storage.OwnerID) error {
	return l.s.update(ctx, func(tx *bbolt.Tx) error {
		return deleteKey(ownerBucket(tx, owner, bucketLogs), id)
	})
}

type sessionRecord struct {
	Envelope  *storage.Envelope `json:"envelope"`
	ExpiresAt time.Time         `json:"expires_at"`
}

func (r sessionRecord) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

type sessionStore struct{ s *Store }

func (ss sessionStore) Put(ctx context.Context, id string, env *storage.Envelope, expiresAt time.Time) error {
	return ss.s.update(ctx, func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket(bucketSessions), id, sessionRecord{Envelope: env, ExpiresAt: expiresAt})
	})
}

func (ss sessionStore) Replace(ctx context.Context, id string, env *storage.Envelope, expiresAt time.Time) error {
	return ss.s.update(ctx, func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		rec, err := getJSON[sessionRecord](b, id)
		if err != nil {
			return err
		}
		if rec.expired(ss.s.now()) {
			return storage.ErrNotFound
		}
		return putJSON(b, id, sessionRecord{Envelope: env, ExpiresAt: expiresAt})
	})
}

func (ss sessionStore) Get(ctx context.Context, id string) (*storage.Envelope, error) {
	var rec *sessionRecord
	err := ss.s.view(ctx, func(tx *bbolt.Tx) error {
		var err error
		rec, err = getJSON[sessionRecord](tx.Bucket(bucketSessions), id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if rec.expired(ss.s.now()) || rec.Envelope == nil {
		return nil, storage.ErrNotFound
	}
	return rec.Envelope, nil
}

func (ss sessionStore) Delete(ctx context.Context, id string) error {
	return ss.s.update(ctx, func(tx *bbolt.Tx) error {
		return deleteKey(tx.Bucket(bucketSessions), id)
	})
}

func (ss sessionStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	n := 0
	err := ss.s.update(ctx, func(tx *bbolt.Tx) error {
		err := deleteChildren(tx.Bucket(bucketSessions), func(r sessionRecord) bool {
			if r.expired(now) {
				n++
				return true
			}
			return false
		})
		if err != nil {
			n = 0
		}
		return err
	})
	return n, err
}

// IsTimeout reports whether err came from waiting on the database file lock.
func IsTimeout(err error) bool {
	return errors.Is(err, bbolt.ErrTimeout)
}
