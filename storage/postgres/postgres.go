// Package postgres implements storage.Repository backed by PostgreSQL.
//
// Every statement that touches goals, milestones or progress_logs carries an
// owner_user_id predicate, so a row belonging to another user behaves
// exactly like a missing row. Child inserts are guarded by an EXISTS check on
// the parent goal under the same owner.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/goaltracker/internal/uuid"
	"github.com/jmcleod/goaltracker/storage"
)

const uniqueViolation = "23505"

// Store implements storage.Repository backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given pgx connection pool.
func NewRepository(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewPool parses dsn and opens a pool whose connections carry
// statement_timeout, so a query abandoned by its caller is still bounded.
func NewPool(ctx context.Context, dsn string, statementTimeout time.Duration) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	if statementTimeout > 0 {
		cfg.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(statementTimeout.Milliseconds(), 10)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return pool, nil
}

// NewRepositoryFromDSN creates a connection pool from a DSN string, applies
// pending migrations, and returns a new Repository.
func NewRepositoryFromDSN(ctx context.Context, dsn string, statementTimeout time.Duration) (*Store, error) {
	pool, err := NewPool(ctx, dsn, statementTimeout)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return NewRepository(pool), nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Users() storage.UserStore           { return userStore{s.pool} }
func (s *Store) Goals() storage.GoalStore           { return goalStore{s.pool} }
func (s *Store) Milestones() storage.MilestoneStore { return milestoneStore{s.pool} }
func (s *Store) Logs() storage.LogStore             { return logStore{s.pool} }
func (s *Store) Sessions() storage.SessionRecords   { return sessionStore{s.pool} }

func (s *Store) Stats(ctx context.Context, owner storage.OwnerID, since time.Time) (storage.Stats, error) {
	var st storage.Stats
	err := s.pool.QueryRow(ctx,
		`SELECT
		   (SELECT count(*) FROM goals WHERE owner_user_id = $1),
		   (SELECT count(*) FROM milestones WHERE owner_user_id = $1 AND NOT is_complete),
		   (SELECT count(*) FROM progress_logs WHERE owner_user_id = $1 AND created_at >= $2)`,
		string(owner), since).Scan(&st.TotalGoals, &st.ActiveMilestones, &st.LogsSince)
	return st, err
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

func expectOne(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// dateArg converts an optional date to a DATE parameter.
func dateArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return storage.DateOnly(*t)
}

func dateOut(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := storage.DateOnly(*t)
	return &d
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

type userStore struct{ pool *pgxpool.Pool }

func (u userStore) Create(ctx context.Context, user storage.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := u.pool.Exec(ctx,
		`INSERT INTO profiles (id, email, display_name, password_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		user.ID, user.Email, user.DisplayName, user.PasswordHash, user.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return storage.ErrConflict
	}
	return err
}

const userColumns = `id, email, display_name, password_hash, created_at`

func scanUser(row pgx.Row) (*storage.User, error) {
	var u storage.User
	if err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (u userStore) Get(ctx context.Context, id string) (*storage.User, error) {
	return scanUser(u.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM profiles WHERE id = $1`, id))
}

func (u userStore) GetByEmail(ctx context.Context, email string) (*storage.User, error) {
	return scanUser(u.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM profiles WHERE email = $1`, email))
}

// ---------------------------------------------------------------------------
// Goals
// ---------------------------------------------------------------------------

type goalStore struct{ pool *pgxpool.Pool }

const goalColumns = `id, owner_user_id, title, description, target_date, progress, is_archived, created_at, updated_at`

func scanGoal(row pgx.Row) (storage.Goal, error) {
	var (
		g     storage.Goal
		owner string
	)
	err := row.Scan(&g.ID, &owner, &g.Title, &g.Description, &g.TargetDate, &g.Progress, &g.Archived, &g.CreatedAt, &g.UpdatedAt)
	g.OwnerUserID = storage.OwnerID(owner)
	g.TargetDate = dateOut(g.TargetDate)
	return g, err
}

func (g goalStore) ListForOwner(ctx context.Context, owner storage.OwnerID) ([]storage.Goal, error) {
	rows, err := g.pool.Query(ctx,
		`SELECT `+goalColumns+` FROM goals WHERE owner_user_id = $1
		 ORDER BY target_date ASC NULLS LAST, created_at ASC`, string(owner))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []storage.Goal{}
	for rows.Next() {
		goal, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, goal)
	}
	return out, rows.Err()
}

func (g goalStore) Get(ctx context.Context, id string, owner storage.OwnerID) (*storage.Goal, error) {
	if !uuid.Valid(id) {
		return nil, storage.ErrNotFound
	}
	goal, err := scanGoal(g.pool.QueryRow(ctx,
		`SELECT `+goalColumns+` FROM goals WHERE id = $1 AND owner_user_id = $2`, id, string(owner)))
	if err != nil {
		return nil, notFound(err)
	}
	return &goal, nil
}

func (g goalStore) Create(ctx context.Context, owner storage.OwnerID, f storage.GoalFields) (string, error) {
	id := uuid.New()
	_, err := g.pool.Exec(ctx,
		`INSERT INTO goals (id, owner_user_id, title, description, target_date, progress, is_archived)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, string(owner), f.Title, f.Description, dateArg(f.TargetDate), f.Progress, f.Archived)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (g goalStore) Update(ctx context.Context, id string, owner storage.OwnerID, f storage.GoalFields) error {
	if !uuid.Valid(id) {
		return storage.ErrNotFound
	}
	return expectOne(g.pool.Exec(ctx,
		`UPDATE goals SET title = $3, description = $4, target_date = $5, progress = $6,
		        is_archived = $7, updated_at = now()
		 WHERE id = $1 AND owner_user_id = $2`,
		id, string(owner), f.Title, f.Description, dateArg(f.TargetDate), f.Progress, f.Archived))
}

// Delete relies on ON DELETE CASCADE for milestones and logs.
func (g goalStore) Delete(ctx context.Context, id string, owner storage.OwnerID) error {
	if !uuid.Valid(id) {
		return storage.ErrNotFound
	}
	return expectOne(g.pool.Exec(ctx,
		`DELETE FROM goals WHERE id = $1 AND owner_user_id = $2`, id, string(owner)))
}

// ---------------------------------------------------------------------------
// Milestones
// ---------------------------------------------------------------------------

type milestoneStore struct{ pool *pgxpool.Pool }

const milestoneColumns = `id, goal_id, owner_user_id, title, due_date, is_complete, created_at`

func scanMilestone(row pgx.Row) (storage.Milestone, error) {
	var (
		m     storage.Milestone
		owner string
	)
	err := row.Scan(&m.ID, &m.GoalID, &owner, &m.Title, &m.Due, &m.Complete, &m.CreatedAt)
	m.OwnerUserID = storage.OwnerID(owner)
	m.Due = dateOut(m.Due)
	return m, err
}

func (m milestoneStore) query(ctx context.Context, sql string, args ...any) ([]storage.Milestone, error) {
	rows, err := m.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []storage.Milestone{}
	for rows.Next() {
		ms, err := scanMilestone(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ms)
	}
	return out, rows.Err()
}

func (m milestoneStore) ListForOwner(ctx context.Context, owner storage.OwnerID) ([]storage.Milestone, error) {
	return m.query(ctx,
		`SELECT `+milestoneColumns+` FROM milestones WHERE owner_user_id = $1
		 ORDER BY due_date ASC NULLS LAST, created_at ASC`, string(owner))
}

func (m milestoneStore) ListForGoal(ctx context.Context, goalID string, owner storage.OwnerID) ([]storage.Milestone, error) {
	if !uuid.Valid(goalID) {
		return []storage.Milestone{}, nil
	}
	return m.query(ctx,
		`SELECT `+milestoneColumns+` FROM milestones WHERE goal_id = $1 AND owner_user_id = $2
		 ORDER BY due_date ASC NULLS LAST, created_at ASC`, goalID, string(owner))
}

func (m milestoneStore) Get(ctx context.Context, id string, owner storage.OwnerID) (*storage.Milestone, error) {
	if !uuid.Valid(id) {
		return nil, storage.ErrNotFound
	}
	ms, err := scanMilestone(m.pool.QueryRow(ctx,
		`SELECT `+milestoneColumns+` FROM milestones WHERE id = $1 AND owner_user_id = $2`, id, string(owner)))
	if err != nil {
		return nil, notFound(err)
	}
	return &ms, nil
}

func (m milestoneStore) Create(ctx context.Context, owner storage.OwnerID, goalID string, f storage.MilestoneFields) (string, error) {
	if !uuid.Valid(goalID) {
		return "", storage.ErrNotFound
	}
	id := uuid.New()
	err := expectOne(m.pool.Exec(ctx,
		`INSERT INTO milestones (id, goal_id, owner_user_id, title, due_date)
		 SELECT $1, $2, $3, $4, $5
		 WHERE EXISTS (SELECT 1 FROM goals WHERE id = $2 AND owner_user_id = $3)`,
		id, goalID, string(owner), f.Title, dateArg(f.Due)))
	if err != nil {
		return "", err
	}
	return id, nil
}

func (m milestoneStore) Update(ctx context.Context, id string, owner storage.OwnerID, f storage.MilestoneFields) error {
	if !uuid.Valid(id) {
		return storage.ErrNotFound
	}
	return expectOne(m.pool.Exec(ctx,
		`UPDATE milestones SET title = $3, due_date = $4 WHERE id = $1 AND owner_user_id = $2`,
		id, string(owner), f.Title, dateArg(f.Due)))
}

func (m milestoneStore) SetComplete(ctx context.Context, id string, owner storage.OwnerID, complete bool) error {
	if !uuid.Valid(id) {
		return storage.ErrNotFound
	}
	return expectOne(m.pool.Exec(ctx,
		`UPDATE milestones SET is_complete = $3 WHERE id = $1 AND owner_user_id = $2`,
		id, string(owner), complete))
}

func (m milestoneStore) Delete(ctx context.Context, id string, owner storage.OwnerID) error {
	if !uuid.Valid(id) {
		return storage.ErrNotFound
	}
	return expectOne(m.pool.Exec(ctx,
		`DELETE FROM milestones WHERE id = $1 AND owner_user_id = $2`, id, string(owner)))
}

// ---------------------------------------------------------------------------
// Progress logs
// ---------------------------------------------------------------------------

type logStore struct{ pool *pgxpool.Pool }

const logColumns = `id, goal_id, owner_user_id, note, metric_name, metric_value, created_at`

func scanLog(row pgx.Row) (storage.Log, error) {
	var (
		l     storage.Log
		owner string
	)
	err := row.Scan(&l.ID, &l.GoalID, &owner, &l.Note, &l.MetricName, &l.MetricValue, &l.CreatedAt)
	l.OwnerUserID = storage.OwnerID(owner)
	return l, err
}

func (l logStore) query(ctx context.Context, sql string, args ...any) ([]storage.Log, error) {
	rows, err := l.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []storage.Log{}
	for rows.Next() {
		lg, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, lg)
	}
	return out, rows.Err()
}

func (l logStore) ListForOwner(ctx context.Context, owner storage.OwnerID) ([]storage.Log, error) {
	return l.query(ctx,
		`SELECT `+logColumns+` FROM progress_logs WHERE owner_user_id = $1 ORDER BY created_at DESC`,
		string(owner))
}

func (l logStore) ListForGoal(ctx context.Context, goalID string, owner storage.OwnerID) ([]storage.Log, error) {
	if !uuid.Valid(goalID) {
		return []storage.Log{}, nil
	}
	return l.query(ctx,
		`SELECT `+logColumns+` FROM progress_logs WHERE goal_id = $1 AND owner_user_id = $2
		 ORDER BY created_at DESC`, goalID, string(owner))
}

func (l logStore) Get(ctx context.Context, id string, owner storage.OwnerID) (*storage.Log, error) {
	if !uuid.Valid(id) {
		return nil, storage.ErrNotFound
	}
	lg, err := scanLog(l.pool.QueryRow(ctx,
		`SELECT `+logColumns+` FROM progress_logs WHERE id = $1 AND owner_user_id = $2`, id, string(owner)))
	if err != nil {
		return nil, notFound(err)
	}
	return &lg, nil
}

func (l logStore) Create(ctx context.Context, owner storage.OwnerID, goalID string, f storage.LogFields) (string, error) {
	if !uuid.Valid(goalID) {
		return "", storage.ErrNotFound
	}
	id := uuid.New()
	err := expectOne(l.pool.Exec(ctx,
		`INSERT INTO progress_logs (id, goal_id, owner_user_id, note, metric_name, metric_value)
		 SELECT $1, $2, $3, $4, $5, $6
		 WHERE EXISTS (SELECT 1 FROM goals WHERE id = $2 AND owner_user_id = $3)`,
		id, goalID, string(owner), f.Note, f.MetricName, f.MetricValue))
	if err != nil {
		return "", err
	}
	return id, nil
}

func (l logStore) Update(ctx context.Context, id string, owner storage.OwnerID, f storage.LogFields) error {
	if !uuid.Valid(id) {
		return storage.ErrNotFound
	}
	return expectOne(l.pool.Exec(ctx,
		`UPDATE progress_logs SET note = $3, metric_name = $4, metric_value = $5
		 WHERE id = $1 AND owner_user_id = $2`,
		id, string(owner), f.Note, f.MetricName, f.MetricValue))
}

func (l logStore) Delete(ctx context.Context, id string, owner storage.OwnerID) error {
	if !uuid.Valid(id) {
		return storage.ErrNotFound
	}
	return expectOne(l.pool.Exec(ctx,
		`DELETE FROM progress_logs WHERE id = $1 AND owner_user_id = $2`, id, string(owner)))
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

type sessionStore struct{ pool *pgxpool.Pool }

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (s sessionStore) Put(ctx context.Context, id string, env *storage.Envelope, expiresAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, ver, scheme, nonce, ciphertext, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id)
		 DO UPDATE SET ver = $2, scheme = $3, nonce = $4, ciphertext = $5, expires_at = $6`,
		id, env.Ver, env.Scheme, env.Nonce, env.Ciphertext, nullableTime(expiresAt))
	return err
}

func (s sessionStore) Replace(ctx context.Context, id string, env *storage.Envelope, expiresAt time.Time) error {
	return expectOne(s.pool.Exec(ctx,
		`UPDATE sessions SET ver = $2, scheme = $3, nonce = $4, ciphertext = $5, expires_at = $6
		 WHERE id = $1 AND (expires_at IS NULL OR expires_at > now())`,
		id, env.Ver, env.Scheme, env.Nonce, env.Ciphertext, nullableTime(expiresAt)))
}

func (s sessionStore) Get(ctx context.Context, id string) (*storage.Envelope, error) {
	var env storage.Envelope
	err := s.pool.QueryRow(ctx,
		`SELECT ver, scheme, nonce, ciphertext FROM sessions
		 WHERE id = $1 AND (expires_at IS NULL OR expires_at > now())`, id).
		Scan(&env.Ver, &env.Scheme, &env.Nonce, &env.Ciphertext)
	if err != nil {
		return nil, notFound(err)
	}
	return &env, nil
}

func (s sessionStore) Delete(ctx context.Context, id string) error {
	return expectOne(s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id))
}

func (s sessionStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM sessions WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
