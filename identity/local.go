package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmcleod/goaltracker/internal/util"
	"github.com/jmcleod/goaltracker/internal/uuid"
	"github.com/jmcleod/goaltracker/storage"
)

// Local authenticates against Argon2id hashes kept in the users store.
type Local struct {
	users     storage.UserStore
	params    util.Argon2idParams
	dummyHash string
	logger    *slog.Logger
}

var _ Provider = (*Local)(nil)

// LocalOption configures a Local provider.
type LocalOption func(*Local)

// WithKDFParams overrides the Argon2id cost parameters.
func WithKDFParams(p util.Argon2idParams) LocalOption {
	return func(l *Local) { l.params = p }
}

// WithLogger sets the logger used for lookup failures.
func WithLogger(logger *slog.Logger) LocalOption {
	return func(l *Local) { l.logger = logger }
}

// NewLocal returns a Local provider over users.
func NewLocal(users storage.UserStore, opts ...LocalOption) (*Local, error) {
	l := &Local{users: users, params: util.DefaultArgon2idParams(), logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	// Unknown emails are verified against this hash so a miss costs the
	// same as a wrong password.
	dummy, err := util.HashPassword("goaltracker-dummy-password", l.params)
	if err != nil {
		return nil, fmt.Errorf("preparing dummy hash: %w", err)
	}
	l.dummyHash = dummy
	return l, nil
}

func (l *Local) SignUp(ctx context.Context, req SignUpRequest) (*Principal, error) {
	email := util.NormalizeEmail(req.Email)
	hash, err := util.HashPassword(util.Normalize(req.Password), l.params)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	user := storage.User{
		ID:           uuid.New(),
		Email:        email,
		DisplayName:  util.Normalize(req.DisplayName),
		PasswordHash: hash,
	}
	if err := l.users.Create(ctx, user); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return &Principal{ID: user.ID, Email: user.Email, DisplayName: user.DisplayName}, nil
}

func (l *Local) SignIn(ctx context.Context, email, password string) (*Principal, error) {
	password = util.Normalize(password)
	user, err := l.users.GetByEmail(ctx, util.NormalizeEmail(email))
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("loading user: %w", err)
		}
		_, _ = util.VerifyPassword(password, l.dummyHash)
		return nil, ErrInvalidCredentials
	}
	if user.PasswordHash == "" {
		_, _ = util.VerifyPassword(password, l.dummyHash)
		return nil, ErrInvalidCredentials
	}
	ok, err := util.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		l.logger.Error("stored password hash unreadable", "user_id", user.ID, "error", err)
		return nil, ErrInvalidCredentials
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	return &Principal{ID: user.ID, Email: user.Email, DisplayName: user.DisplayName}, nil
}
