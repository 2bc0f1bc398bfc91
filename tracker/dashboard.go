package tracker

import (
	"context"
	"time"

	"github.com/jmcleod/goaltracker/storage"
)

const (
	dashboardWindow = 7
	upcomingLimit   = 5
)

// UpcomingMilestone is an incomplete milestone with its goal's title.
type UpcomingMilestone struct {
	storage.Milestone
	GoalTitle string
}

// ChartDay is one bar of the per-day log chart.
type ChartDay struct {
	Label string
	Count int
	// Percent is Count relative to the busiest day, for bar heights.
	Percent int
}

// Dashboard holds the aggregates shown on the landing page.
type Dashboard struct {
	TotalGoals       int
	ActiveMilestones int
	LogsThisWeek     int
	Upcoming         []UpcomingMilestone
	Chart            []ChartDay
}

// Dashboard aggregates owner's goals, milestones and the logs of the last
// seven calendar days, today included.
func (g *Gateway) Dashboard(ctx context.Context, owner storage.OwnerID) (*Dashboard, error) {
	ctx = detach(ctx)
	now := g.now().UTC()
	// The weekly count and the chart share one window.
	since := windowStart(now)

	stats, err := g.repo.Stats(ctx, owner, since)
	if err != nil {
		return nil, wrap("loading stats", err)
	}
	d := &Dashboard{
		TotalGoals:       stats.TotalGoals,
		ActiveMilestones: stats.ActiveMilestones,
		LogsThisWeek:     stats.LogsSince,
	}

	goals, err := g.repo.Goals().ListForOwner(ctx, owner)
	if err != nil {
		return nil, wrap("listing goals", err)
	}
	titles := make(map[string]string, len(goals))
	for _, goal := range goals {
		titles[goal.ID] = goal.Title
	}

	ms, err := g.repo.Milestones().ListForOwner(ctx, owner)
	if err != nil {
		return nil, wrap("listing milestones", err)
	}
	for _, m := range ms {
		if m.Complete {
			continue
		}
		d.Upcoming = append(d.Upcoming, UpcomingMilestone{Milestone: m, GoalTitle: titles[m.GoalID]})
		if len(d.Upcoming) == upcomingLimit {
			break
		}
	}

	logs, err := g.repo.Logs().ListForOwner(ctx, owner)
	if err != nil {
		return nil, wrap("listing logs", err)
	}
	d.Chart = chart(logs, now)
	return d, nil
}

// windowStart is midnight UTC of the oldest day in the dashboard window.
func windowStart(now time.Time) time.Time {
	return storage.DateOnly(now).AddDate(0, 0, -(dashboardWindow - 1))
}

// chart buckets logs into the last seven calendar days ending today, oldest first.
func chart(logs []storage.Log, now time.Time) []ChartDay {
	today := storage.DateOnly(now)
	first := windowStart(now)
	days := make([]ChartDay, dashboardWindow)
	for i := range days {
		days[i].Label = first.AddDate(0, 0, i).Format("Mon 2")
	}
	for _, l := range logs {
		day := storage.DateOnly(l.CreatedAt.UTC())
		if day.Before(first) || day.After(today) {
			continue
		}
		idx := int(day.Sub(first).Hours() / 24)
		days[idx].Count++
	}
	peak := 0
	for _, d := range days {
		peak = max(peak, d.Count)
	}
	if peak > 0 {
		for i := range days {
			days[i].Percent = days[i].Count * 100 / peak
		}
	}
	return days
}
