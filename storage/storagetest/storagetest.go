// Package storagetest holds the conformance suite every storage.Repository
// backend must pass.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/goaltracker/internal/uuid"
	"github.com/jmcleod/goaltracker/storage"
)

// Run exercises repo against the owner-scoping, cascade and session
// contracts. newRepo must return an empty repository for each call.
func Run(t *testing.T, newRepo func(t *testing.T) storage.Repository) {
	t.Helper()
	tests := []struct {
		name string
		fn   func(t *testing.T, repo storage.Repository)
	}{
		{"Users", testUsers},
		{"GoalCRUD", testGoalCRUD},
		{"GoalOwnerScoping", testGoalOwnerScoping},
		{"GoalOrdering", testGoalOrdering},
		{"MilestoneLifecycle", testMilestoneLifecycle},
		{"ChildCreateRequiresOwnedGoal", testChildCreateRequiresOwnedGoal},
		{"LogLifecycle", testLogLifecycle},
		{"DeleteGoalCascades", testDeleteGoalCascades},
		{"Stats", testStats},
		{"Sessions", testSessions},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newRepo(t)
			t.Cleanup(func() { _ = repo.Close() })
			tt.fn(t, repo)
		})
	}
}

func newOwner() storage.OwnerID { return storage.OwnerID(uuid.New()) }

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func testUsers(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	u := storage.User{ID: uuid.New(), Email: "ada@example.com", DisplayName: "Ada", PasswordHash: "$argon2id$x"}
	require.NoError(t, repo.Users().Create(ctx, u))

	got, err := repo.Users().Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.DisplayName)
	assert.False(t, got.CreatedAt.IsZero())

	got, err = repo.Users().GetByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, u.PasswordHash, got.PasswordHash)

	dup := storage.User{ID: uuid.New(), Email: "ada@example.com"}
	assert.ErrorIs(t, repo.Users().Create(ctx, dup), storage.ErrConflict)

	_, err = repo.Users().Get(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = repo.Users().GetByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testGoalCRUD(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	owner := newOwner()

	id, err := repo.Goals().Create(ctx, owner, storage.GoalFields{
		Title: "Run a marathon", Description: "42km", TargetDate: date(2026, 5, 1), Progress: 10,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	g, err := repo.Goals().Get(ctx, id, owner)
	require.NoError(t, err)
	assert.Equal(t, "Run a marathon", g.Title)
	assert.Equal(t, owner, g.OwnerUserID)
	assert.Equal(t, 10, g.Progress)
	require.NotNil(t, g.TargetDate)
	assert.True(t, g.TargetDate.Equal(*date(2026, 5, 1)))

	require.NoError(t, repo.Goals().Update(ctx, id, owner, storage.GoalFields{Title: "Run two", Progress: 55, Archived: true}))
	g, err = repo.Goals().Get(ctx, id, owner)
	require.NoError(t, err)
	assert.Equal(t, "Run two", g.Title)
	assert.Equal(t, 55, g.Progress)
	assert.True(t, g.Archived)
	assert.Nil(t, g.TargetDate)

	require.NoError(t, repo.Goals().Delete(ctx, id, owner))
	_, err = repo.Goals().Get(ctx, id, owner)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, repo.Goals().Delete(ctx, id, owner), storage.ErrNotFound)
	assert.ErrorIs(t, repo.Goals().Update(ctx, id, owner, storage.GoalFields{Title: "x"}), storage.ErrNotFound)
}

func testGoalOwnerScoping(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	alice, bob := newOwner(), newOwner()

	id, err := repo.Goals().Create(ctx, alice, storage.GoalFields{Title: "private"})
	require.NoError(t, err)

	_, err = repo.Goals().Get(ctx, id, bob)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, repo.Goals().Update(ctx, id, bob, storage.GoalFields{Title: "hijack"}), storage.ErrNotFound)
	assert.ErrorIs(t, repo.Goals().Delete(ctx, id, bob), storage.ErrNotFound)

	list, err := repo.Goals().ListForOwner(ctx, bob)
	require.NoError(t, err)
	assert.Empty(t, list)

	g, err := repo.Goals().Get(ctx, id, alice)
	require.NoError(t, err)
	assert.Equal(t, "private", g.Title)
}

func testGoalOrdering(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	owner := newOwner()
	_, err := repo.Goals().Create(ctx, owner, storage.GoalFields{Title: "undated"})
	require.NoError(t, err)
	_, err = repo.Goals().Create(ctx, owner, storage.GoalFields{Title: "late", TargetDate: date(2027, 1, 1)})
	require.NoError(t, err)
	_, err = repo.Goals().Create(ctx, owner, storage.GoalFields{Title: "early", TargetDate: date(2026, 1, 1)})
	require.NoError(t, err)

	list, err := repo.Goals().ListForOwner(ctx, owner)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"early", "late", "undated"}, []string{list[0].Title, list[1].Title, list[2].Title})
}

func testMilestoneLifecycle(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	owner, other := newOwner(), newOwner()
	goalID, err := repo.Goals().Create(ctx, owner, storage.GoalFields{Title: "g"})
	require.NoError(t, err)

	later, err := repo.Milestones().Create(ctx, owner, goalID, storage.MilestoneFields{Title: "second", Due: date(2026, 3, 1)})
	require.NoError(t, err)
	sooner, err := repo.Milestones().Create(ctx, owner, goalID, storage.MilestoneFields{Title: "first", Due: date(2026, 2, 1)})
	require.NoError(t, err)

	list, err := repo.Milestones().ListForGoal(ctx, goalID, owner)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, sooner, list[0].ID)
	assert.Equal(t, later, list[1].ID)
	assert.False(t, list[0].Complete)

	require.NoError(t, repo.Milestones().SetComplete(ctx, sooner, owner, true))
	m, err := repo.Milestones().Get(ctx, sooner, owner)
	require.NoError(t, err)
	assert.True(t, m.Complete)
	assert.Equal(t, goalID, m.GoalID)

	require.NoError(t, repo.Milestones().Update(ctx, later, owner, storage.MilestoneFields{Title: "renamed"}))
	m, err = repo.Milestones().Get(ctx, later, owner)
	require.NoError(t, err)
	assert.Equal(t, "renamed", m.Title)
	assert.Nil(t, m.Due)

	assert.ErrorIs(t, repo.Milestones().SetComplete(ctx, later, other, true), storage.ErrNotFound)
	assert.ErrorIs(t, repo.Milestones().Delete(ctx, later, other), storage.ErrNotFound)
	_, err = repo.Milestones().Get(ctx, later, other)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	otherList, err := repo.Milestones().ListForOwner(ctx, other)
	require.NoError(t, err)
	assert.Empty(t, otherList)

	require.NoError(t, repo.Milestones().Delete(ctx, later, owner))
	assert.ErrorIs(t, repo.Milestones().Delete(ctx, later, owner), storage.ErrNotFound)
	all, err := repo.Milestones().ListForOwner(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testChildCreateRequiresOwnedGoal(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	owner, other := newOwner(), newOwner()
	goalID, err := repo.Goals().Create(ctx, owner, storage.GoalFields{Title: "g"})
	require.NoError(t, err)

	_, err = repo.Milestones().Create(ctx, other, goalID, storage.MilestoneFields{Title: "sneaky"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = repo.Logs().Create(ctx, other, goalID, storage.LogFields{Note: "sneaky"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = repo.Milestones().Create(ctx, owner, uuid.New(), storage.MilestoneFields{Title: "orphan"})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	ms, err := repo.Milestones().ListForGoal(ctx, goalID, owner)
	require.NoError(t, err)
	assert.Empty(t, ms)
}

func testLogLifecycle(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	owner, other := newOwner(), newOwner()
	goalID, err := repo.Goals().Create(ctx, owner, storage.GoalFields{Title: "g"})
	require.NoError(t, err)

	v := 5.5
	first, err := repo.Logs().Create(ctx, owner, goalID, storage.LogFields{Note: "ran", MetricName: "km", MetricValue: &v})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	second, err := repo.Logs().Create(ctx, owner, goalID, storage.LogFields{Note: "rested"})
	require.NoError(t, err)

	logs, err := repo.Logs().ListForGoal(ctx, goalID, owner)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, second, logs[0].ID, "newest first")
	assert.Equal(t, first, logs[1].ID)
	require.NotNil(t, logs[1].MetricValue)
	assert.InDelta(t, 5.5, *logs[1].MetricValue, 0.0001)
	assert.Nil(t, logs[0].MetricValue)

	require.NoError(t, repo.Logs().Update(ctx, first, owner, storage.LogFields{Note: "ran far"}))
	l, err := repo.Logs().Get(ctx, first, owner)
	require.NoError(t, err)
	assert.Equal(t, "ran far", l.Note)
	assert.Nil(t, l.MetricValue)

	assert.ErrorIs(t, repo.Logs().Delete(ctx, first, other), storage.ErrNotFound)
	assert.ErrorIs(t, repo.Logs().Update(ctx, first, other, storage.LogFields{Note: "x"}), storage.ErrNotFound)
	require.NoError(t, repo.Logs().Delete(ctx, first, owner))
	_, err = repo.Logs().Get(ctx, first, owner)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testDeleteGoalCascades(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	owner := newOwner()
	goalID, err := repo.Goals().Create(ctx, owner, storage.GoalFields{Title: "doomed"})
	require.NoError(t, err)
	keepID, err := repo.Goals().Create(ctx, owner, storage.GoalFields{Title: "kept"})
	require.NoError(t, err)

	mid, err := repo.Milestones().Create(ctx, owner, goalID, storage.MilestoneFields{Title: "m"})
	require.NoError(t, err)
	lid, err := repo.Logs().Create(ctx, owner, goalID, storage.LogFields{Note: "l"})
	require.NoError(t, err)
	_, err = repo.Milestones().Create(ctx, owner, keepID, storage.MilestoneFields{Title: "survivor"})
	require.NoError(t, err)

	require.NoError(t, repo.Goals().Delete(ctx, goalID, owner))

	_, err = repo.Milestones().Get(ctx, mid, owner)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = repo.Logs().Get(ctx, lid, owner)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	ms, err := repo.Milestones().ListForOwner(ctx, owner)
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, "survivor", ms[0].Title)
}

func testStats(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	owner, other := newOwner(), newOwner()
	goalID, err := repo.Goals().Create(ctx, owner, storage.GoalFields{Title: "a"})
	require.NoError(t, err)
	_, err = repo.Goals().Create(ctx, owner, storage.GoalFields{Title: "b"})
	require.NoError(t, err)
	_, err = repo.Goals().Create(ctx, other, storage.GoalFields{Title: "c"})
	require.NoError(t, err)

	done, err := repo.Milestones().Create(ctx, owner, goalID, storage.MilestoneFields{Title: "done"})
	require.NoError(t, err)
	require.NoError(t, repo.Milestones().SetComplete(ctx, done, owner, true))
	_, err = repo.Milestones().Create(ctx, owner, goalID, storage.MilestoneFields{Title: "open"})
	require.NoError(t, err)
	_, err = repo.Logs().Create(ctx, owner, goalID, storage.LogFields{Note: "today"})
	require.NoError(t, err)

	s, err := repo.Stats(ctx, owner, time.Now().Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, storage.Stats{TotalGoals: 2, ActiveMilestones: 1, LogsSince: 1}, s)

	s, err = repo.Stats(ctx, owner, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, s.LogsSince)

	s, err = repo.Stats(ctx, newOwner(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, storage.Stats{}, s)
}

func testSessions(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	sessions := repo.Sessions()
	env := &storage.Envelope{Ver: 1, Scheme: "aes256gcm", Nonce: make([]byte, 12), Ciphertext: []byte("cipher")}

	require.NoError(t, sessions.Put(ctx, "live", env, time.Now().Add(time.Hour)))
	require.NoError(t, sessions.Put(ctx, "stale", env, time.Now().Add(-time.Minute)))

	got, err := sessions.Get(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, env.Ciphertext, got.Ciphertext)
	assert.Equal(t, env.Nonce, got.Nonce)

	_, err = sessions.Get(ctx, "stale")
	assert.ErrorIs(t, err, storage.ErrNotFound, "expired records are not returned")

	n, err := sessions.DeleteExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	replaced := &storage.Envelope{Ver: 1, Scheme: "aes256gcm", Nonce: make([]byte, 12), Ciphertext: []byte("cipher-2")}
	require.NoError(t, sessions.Replace(ctx, "live", replaced, time.Now().Add(2*time.Hour)))
	got, err = sessions.Get(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, replaced.Ciphertext, got.Ciphertext)

	require.NoError(t, sessions.Delete(ctx, "live"))
	_, err = sessions.Get(ctx, "live")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	err = sessions.Delete(ctx, "live")
	assert.True(t, err == nil || errors.Is(err, storage.ErrNotFound))

	// Replace must not bring a deleted or expired record back.
	err = sessions.Replace(ctx, "live", env, time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = sessions.Get(ctx, "live")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, sessions.Put(ctx, "lapsed", env, time.Now().Add(-time.Minute)))
	err = sessions.Replace(ctx, "lapsed", env, time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
