package api

import (
	"context"
	"time"

	"github.com/jmcleod/goaltracker/identity"
)

// SessionStore abstracts session CRUD so that sessions can be stored
// in-memory (default) or in persistent backing storage.
type SessionStore interface {
	// Get retrieves a session by token. Returns false if the session
	// does not exist, has expired, or has exceeded the idle timeout.
	Get(ctx context.Context, token string) (Session, bool)
	// Put creates or updates a session for the given token.
	Put(ctx context.Context, token string, session Session) error
	// Touch overwrites an existing live session. It reports false, and
	// writes nothing, once the token has been deleted or has expired.
	Touch(ctx context.Context, token string, session Session) (bool, error)
	// Delete removes a session by token.
	Delete(ctx context.Context, token string) error
}

// Session holds the server-side state behind a session cookie.
type Session struct {
	// User is nil for anonymous visitors. It is never partially populated.
	User *identity.Principal `json:"user,omitempty"`
	// ReturnTo is the GET request URI a guest was bounced from.
	ReturnTo       string    `json:"return_to,omitempty"`
	CSRFSecret     []byte    `json:"csrf_secret"`
	ExpiresAt      time.Time `json:"expires_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// expired reports whether the session is past its TTL or idle limit.
func (s Session) expired(now time.Time, idleTimeout time.Duration) bool {
	if now.After(s.ExpiresAt) {
		return true
	}
	return idleTimeout > 0 && now.Sub(s.LastAccessedAt) > idleTimeout
}

func (s Session) clone() Session {
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	s.CSRFSecret = append([]byte(nil), s.CSRFSecret...)
	return s
}
