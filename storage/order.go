package storage

import (
	"sort"
	"time"
)

// SortGoals orders goals by target date ascending with undated goals last,
// then by creation time.
func SortGoals(goals []Goal) {
	sort.SliceStable(goals, func(i, j int) bool {
		return dateBefore(goals[i].TargetDate, goals[j].TargetDate, goals[i].CreatedAt, goals[j].CreatedAt)
	})
}

// SortMilestones orders milestones by due date ascending with undated
// milestones last, then by creation time.
func SortMilestones(ms []Milestone) {
	sort.SliceStable(ms, func(i, j int) bool {
		return dateBefore(ms[i].Due, ms[j].Due, ms[i].CreatedAt, ms[j].CreatedAt)
	})
}

// SortLogs orders logs newest first.
func SortLogs(logs []Log) {
	sort.SliceStable(logs, func(i, j int) bool {
		return logs[i].CreatedAt.After(logs[j].CreatedAt)
	})
}

func dateBefore(a, b *time.Time, createdA, createdB time.Time) bool {
	switch {
	case a != nil && b != nil && !a.Equal(*b):
		return a.Before(*b)
	case a != nil && b == nil:
		return true
	case a == nil && b != nil:
		return false
	}
	return createdA.Before(createdB)
}

// DateOnly truncates t to midnight UTC, the precision stored for due and
// target dates.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
