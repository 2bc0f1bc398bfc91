package storage

import "time"

// OwnerID identifies the user that owns a record. It is a distinct type so
// that owner-scoped calls cannot silently receive an entity ID instead.
type OwnerID string

// User is a profile row. PasswordHash is empty for users managed by a
// hosted identity service.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"password_hash,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Goal is the top-level tracked item.
type Goal struct {
	ID          string     `json:"id"`
	OwnerUserID OwnerID    `json:"owner_user_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	TargetDate  *time.Time `json:"target_date,omitempty"`
	Progress    int        `json:"progress"`
	Archived    bool       `json:"archived"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// GoalFields is the mutable part of a Goal.
type GoalFields struct {
	Title       string
	Description string
	TargetDate  *time.Time
	Progress    int
	Archived    bool
}

// Milestone is a step towards a goal. OwnerUserID duplicates the goal's
// owner so a single predicate authorises every access.
type Milestone struct {
	ID          string     `json:"id"`
	GoalID      string     `json:"goal_id"`
	OwnerUserID OwnerID    `json:"owner_user_id"`
	Title       string     `json:"title"`
	Due         *time.Time `json:"due,omitempty"`
	Complete    bool       `json:"is_complete"`
	CreatedAt   time.Time  `json:"created_at"`
}

// MilestoneFields is the mutable part of a Milestone other than Complete.
type MilestoneFields struct {
	Title string
	Due   *time.Time
}

// Log is a dated progress note with an optional numeric metric.
type Log struct {
	ID          string    `json:"id"`
	GoalID      string    `json:"goal_id"`
	OwnerUserID OwnerID   `json:"owner_user_id"`
	Note        string    `json:"note"`
	MetricName  string    `json:"metric_name,omitempty"`
	MetricValue *float64  `json:"metric_value,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// LogFields is the mutable part of a Log.
type LogFields struct {
	Note        string
	MetricName  string
	MetricValue *float64
}

// Stats are the dashboard aggregates for one owner.
type Stats struct {
	TotalGoals       int
	ActiveMilestones int
	LogsSince        int
}
