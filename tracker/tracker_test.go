package tracker

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/goaltracker/storage"
	"github.com/jmcleod/goaltracker/storage/memory"
)

// countingRepo records how many store calls were made.
type countingRepo struct {
	storage.Repository
	calls atomic.Int32
}

func (c *countingRepo) Goals() storage.GoalStore {
	c.calls.Add(1)
	return c.Repository.Goals()
}

func (c *countingRepo) Milestones() storage.MilestoneStore {
	c.calls.Add(1)
	return c.Repository.Milestones()
}

func (c *countingRepo) Logs() storage.LogStore {
	c.calls.Add(1)
	return c.Repository.Logs()
}

const (
	alice storage.OwnerID = "alice"
	bob   storage.OwnerID = "bob"
)

func newGateway(t *testing.T) (*Gateway, *countingRepo) {
	t.Helper()
	repo := &countingRepo{Repository: memory.NewRepository()}
	return NewGateway(repo), repo
}

func TestCreateGoalRoundTrip(t *testing.T) {
	gw, _ := newGateway(t)
	ctx := context.Background()

	id, err := gw.CreateGoal(ctx, alice, GoalForm{Title: "Run 5k", TargetDate: "2025-01-01"})
	require.NoError(t, err)

	g, err := gw.Goal(ctx, alice, id)
	require.NoError(t, err)
	assert.Equal(t, "Run 5k", g.Title)
	assert.Equal(t, "2025-01-01", FormatDate(g.TargetDate))
	assert.Equal(t, alice, g.OwnerUserID)
}

func TestCreateGoalValidationNeverReachesStore(t *testing.T) {
	gw, repo := newGateway(t)

	_, err := gw.CreateGoal(context.Background(), alice, GoalForm{Title: ""})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "Title required", verr.Messages()["title"])
	assert.Equal(t, int32(0), repo.calls.Load())
}

func TestGoalValidationMessages(t *testing.T) {
	gw, _ := newGateway(t)
	_, err := gw.CreateGoal(context.Background(), alice, GoalForm{Title: "ok", TargetDate: "01/02/2025", Progress: "150"})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	msgs := verr.Messages()
	assert.Equal(t, "Target date must be a date (YYYY-MM-DD)", msgs["targetDate"])
	assert.Equal(t, "Progress must be a whole number between 0 and 100", msgs["progress"])
	assert.False(t, verr.Has("title"))
}

func TestCrossOwnerAccessIsNotFound(t *testing.T) {
	gw, _ := newGateway(t)
	ctx := context.Background()
	id, err := gw.CreateGoal(ctx, alice, GoalForm{Title: "mine"})
	require.NoError(t, err)
	mid, err := gw.AddMilestone(ctx, alice, id, MilestoneForm{Title: "step"})
	require.NoError(t, err)

	_, err = gw.Goal(ctx, bob, id)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = gw.GoalDetail(ctx, bob, id)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, gw.UpdateGoal(ctx, bob, id, GoalForm{Title: "stolen"}), storage.ErrNotFound)
	assert.ErrorIs(t, gw.DeleteGoal(ctx, bob, id), storage.ErrNotFound)
	_, err = gw.ToggleMilestone(ctx, bob, id, mid)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = gw.AddLog(ctx, bob, id, LogForm{Note: "sneaky"})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	g, err := gw.Goal(ctx, alice, id)
	require.NoError(t, err)
	assert.Equal(t, "mine", g.Title)
}

func TestToggleTwiceRestoresState(t *testing.T) {
	gw, _ := newGateway(t)
	ctx := context.Background()
	id, err := gw.CreateGoal(ctx, alice, GoalForm{Title: "g"})
	require.NoError(t, err)
	mid, err := gw.AddMilestone(ctx, alice, id, MilestoneForm{Title: "m", Due: "2025-01-01"})
	require.NoError(t, err)

	state, err := gw.ToggleMilestone(ctx, alice, id, mid)
	require.NoError(t, err)
	assert.True(t, state)
	state, err = gw.ToggleMilestone(ctx, alice, id, mid)
	require.NoError(t, err)
	assert.False(t, state)

	d, err := gw.GoalDetail(ctx, alice, id)
	require.NoError(t, err)
	require.Len(t, d.Milestones, 1)
	assert.False(t, d.Milestones[0].Complete)
}

func TestMilestoneUnderOtherGoalIsNotFound(t *testing.T) {
	gw, _ := newGateway(t)
	ctx := context.Background()
	g1, err := gw.CreateGoal(ctx, alice, GoalForm{Title: "one"})
	require.NoError(t, err)
	g2, err := gw.CreateGoal(ctx, alice, GoalForm{Title: "two"})
	require.NoError(t, err)
	mid, err := gw.AddMilestone(ctx, alice, g1, MilestoneForm{Title: "m"})
	require.NoError(t, err)

	_, err = gw.ToggleMilestone(ctx, alice, g2, mid)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, gw.DeleteMilestone(ctx, alice, g2, mid), storage.ErrNotFound)
	require.NoError(t, gw.DeleteMilestone(ctx, alice, g1, mid))
}

// gatedMilestones holds every Get until release is closed so that
// concurrent toggles all read the same state before any of them writes.
type gatedMilestones struct {
	storage.MilestoneStore
	reads   sync.WaitGroup
	release chan struct{}
}

func (g *gatedMilestones) Get(ctx context.Context, id string, owner storage.OwnerID) (*storage.Milestone, error) {
	m, err := g.MilestoneStore.Get(ctx, id, owner)
	g.reads.Done()
	<-g.release
	return m, err
}

type gatedRepo struct {
	storage.Repository
	ms *gatedMilestones
}

func (r *gatedRepo) Milestones() storage.MilestoneStore { return r.ms }

func TestConcurrentTogglesAreLastWriterWins(t *testing.T) {
	base := memory.NewRepository()
	ctx := context.Background()
	goalID, err := base.Goals().Create(ctx, alice, storage.GoalFields{Title: "g"})
	require.NoError(t, err)
	mid, err := base.Milestones().Create(ctx, alice, goalID, storage.MilestoneFields{Title: "m"})
	require.NoError(t, err)

	gated := &gatedMilestones{MilestoneStore: base.Milestones(), release: make(chan struct{})}
	gated.reads.Add(2)
	gw := NewGateway(&gatedRepo{Repository: base, ms: gated})

	var wg sync.WaitGroup
	results := make([]bool, 2)
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = gw.ToggleMilestone(ctx, alice, goalID, mid)
		}()
	}
	gated.reads.Wait()
	close(gated.release)
	wg.Wait()

	// Both toggles read "incomplete" and both wrote "complete". Sequential
	// toggles would have returned to incomplete; the race loses one flip.
	assert.Equal(t, []bool{true, true}, results)
	m, err := base.Milestones().Get(ctx, mid, alice)
	require.NoError(t, err)
	assert.True(t, m.Complete)
}

func TestLogFormParsing(t *testing.T) {
	gw, _ := newGateway(t)
	ctx := context.Background()
	id, err := gw.CreateGoal(ctx, alice, GoalForm{Title: "g"})
	require.NoError(t, err)

	form := LogFormFromValues(url.Values{"note": {"  ran  "}, "metricName": {"km"}, "metricValue": {"5.25"}})
	_, err = gw.AddLog(ctx, alice, id, form)
	require.NoError(t, err)

	_, err = gw.AddLog(ctx, alice, id, LogForm{Note: "x", MetricValue: "lots"})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "Metric value must be a number", verr.Messages()["metricValue"])

	d, err := gw.GoalDetail(ctx, alice, id)
	require.NoError(t, err)
	require.Len(t, d.Logs, 1)
	assert.Equal(t, "ran", d.Logs[0].Note)
	require.NotNil(t, d.Logs[0].MetricValue)
	assert.InDelta(t, 5.25, *d.Logs[0].MetricValue, 1e-9)

	lid := d.Logs[0].ID
	other, err := gw.CreateGoal(ctx, alice, GoalForm{Title: "other"})
	require.NoError(t, err)
	assert.ErrorIs(t, gw.DeleteLog(ctx, alice, other, lid), storage.ErrNotFound)
	require.NoError(t, gw.DeleteLog(ctx, alice, id, lid))
}

func TestGoalFormFromValues(t *testing.T) {
	f := GoalFormFromValues(url.Values{"title": {" Save $500 "}, "progress": {"40"}, "archived": {"on"}})
	assert.Equal(t, "Save $500", f.Title)
	assert.True(t, f.Archived)
	assert.Equal(t, 40, f.fields().Progress)

	f = GoalFormFromValues(url.Values{"title": {"t"}})
	assert.False(t, f.Archived)
	assert.Equal(t, 0, f.fields().Progress)
	assert.Nil(t, f.fields().TargetDate)
}

func TestGatewayIgnoresRequestCancellation(t *testing.T) {
	gw, _ := newGateway(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	id, err := gw.CreateGoal(ctx, alice, GoalForm{Title: "started"})
	require.NoError(t, err)
	_, err = gw.Goal(context.Background(), alice, id)
	assert.NoError(t, err)
}

func TestDashboard(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := memory.NewRepository()
	gw := NewGateway(repo, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	id, err := gw.CreateGoal(ctx, alice, GoalForm{Title: "Run"})
	require.NoError(t, err)
	_, err = gw.CreateGoal(ctx, alice, GoalForm{Title: "Read"})
	require.NoError(t, err)
	_, err = gw.AddMilestone(ctx, alice, id, MilestoneForm{Title: "later", Due: "2026-04-01"})
	require.NoError(t, err)
	soon, err := gw.AddMilestone(ctx, alice, id, MilestoneForm{Title: "soon", Due: "2026-03-12"})
	require.NoError(t, err)
	done, err := gw.AddMilestone(ctx, alice, id, MilestoneForm{Title: "done"})
	require.NoError(t, err)
	_, err = gw.ToggleMilestone(ctx, alice, id, done)
	require.NoError(t, err)

	d, err := gw.Dashboard(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 2, d.TotalGoals)
	assert.Equal(t, 2, d.ActiveMilestones)
	require.Len(t, d.Upcoming, 2)
	assert.Equal(t, soon, d.Upcoming[0].ID)
	assert.Equal(t, "Run", d.Upcoming[0].GoalTitle)
	assert.Len(t, d.Chart, 7)

	empty, err := gw.Dashboard(ctx, bob)
	require.NoError(t, err)
	assert.Zero(t, empty.TotalGoals)
	assert.Empty(t, empty.Upcoming)
}

func TestDashboardWeeklyCountMatchesChart(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	clock := now
	repo := memory.NewRepository(memory.WithClock(func() time.Time { return clock }))
	gw := NewGateway(repo, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	id, err := gw.CreateGoal(ctx, alice, GoalForm{Title: "Run"})
	require.NoError(t, err)
	for _, at := range []time.Time{
		time.Date(2026, 3, 3, 18, 0, 0, 0, time.UTC), // within seven rolling days, before the chart's first day
		time.Date(2026, 3, 4, 0, 30, 0, 0, time.UTC),
		time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC),
	} {
		clock = at
		_, err := gw.AddLog(ctx, alice, id, LogForm{Note: "ran"})
		require.NoError(t, err)
	}

	d, err := gw.Dashboard(ctx, alice)
	require.NoError(t, err)
	total := 0
	for _, day := range d.Chart {
		total += day.Count
	}
	assert.Equal(t, 2, d.LogsThisWeek)
	assert.Equal(t, d.LogsThisWeek, total)
	assert.Equal(t, 1, d.Chart[0].Count)
	assert.Equal(t, "Wed 4", d.Chart[0].Label)
}

func TestChartBuckets(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	logs := []storage.Log{
		{CreatedAt: now},
		{CreatedAt: now.Add(-time.Hour)},
		{CreatedAt: now.AddDate(0, 0, -6)},
		{CreatedAt: now.AddDate(0, 0, -7)},
	}
	days := chart(logs, now)
	require.Len(t, days, 7)
	assert.Equal(t, 1, days[0].Count)
	assert.Equal(t, 50, days[0].Percent)
	assert.Equal(t, 2, days[6].Count)
	assert.Equal(t, 100, days[6].Percent)
	assert.Equal(t, "Tue 10", days[6].Label)
}

func TestProfile(t *testing.T) {
	gw, repo := newGateway(t)
	ctx := context.Background()
	require.NoError(t, repo.Users().Create(ctx, storage.User{ID: string(alice), Email: "alice@example.com", DisplayName: "Alice"}))

	u, err := gw.Profile(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "Alice", u.DisplayName)

	_, err = gw.Profile(ctx, bob)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
