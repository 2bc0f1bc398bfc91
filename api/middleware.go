package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jmcleod/goaltracker/identity"
	"github.com/jmcleod/goaltracker/internal/util"
)

type contextKey int

const sessionKey contextKey = iota

const (
	sessionCookieName = "goaltracker_session"
	sessionTokenBytes = 32
	csrfSecretBytes   = 32
)

// sessionState is the request-scoped view of a session. A zero token means
// the record does not exist yet and a fresh token is minted on commit.
type sessionState struct {
	token     string
	session   Session
	destroyed bool
}

func newSession() (Session, error) {
	secret, err := util.RandomBytes(csrfSecretBytes)
	if err != nil {
		return Session{}, err
	}
	return Session{CSRFSecret: secret}, nil
}

// SessionMiddleware resolves the session cookie, exposes the session on the
// request context and writes it back, with a refreshed TTL, just before the
// response headers are sent. Unknown, expired and tampered cookies all yield
// a fresh anonymous session.
func (a *API) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st, err := a.resolveSession(r)
		if err != nil {
			a.renderError(w, r, err)
			return
		}
		r = r.WithContext(context.WithValue(r.Context(), sessionKey, st))
		sw := &sessionWriter{ResponseWriter: w}
		sw.commit = func() { a.commitSession(w, r, st) }
		next.ServeHTTP(sw, r)
		sw.once.Do(sw.commit)
	})
}

func (a *API) resolveSession(r *http.Request) (*sessionState, error) {
	if c, err := r.Cookie(sessionCookieName); err == nil && c.Value != "" {
		if s, ok := a.sessions.Get(r.Context(), c.Value); ok && len(s.CSRFSecret) > 0 {
			if !s.User.Valid() {
				s.User = nil
			}
			return &sessionState{token: c.Value, session: s}, nil
		}
	}
	s, err := newSession()
	if err != nil {
		return nil, err
	}
	return &sessionState{session: s}, nil
}

func (a *API) commitSession(w http.ResponseWriter, r *http.Request, st *sessionState) {
	if st.destroyed {
		a.clearSessionCookie(w, r)
		return
	}
	ctx := context.WithoutCancel(r.Context())
	now := time.Now()
	st.session.LastAccessedAt = now
	st.session.ExpiresAt = now.Add(a.sessionTTL)

	if st.token != "" {
		// The record may have been destroyed by a concurrent logout or
		// login since it was resolved; never write it back.
		ok, err := a.sessions.Touch(ctx, st.token, st.session)
		if err != nil {
			a.logger.Error("saving session", "error", err)
			return
		}
		if !ok {
			a.clearSessionCookie(w, r)
			return
		}
		a.writeSessionCookie(w, r, st.token)
		return
	}

	token, err := util.RandomToken(sessionTokenBytes)
	if err != nil {
		a.logger.Error("minting session token", "error", err)
		return
	}
	st.token = token
	if err := a.sessions.Put(ctx, st.token, st.session); err != nil {
		a.logger.Error("saving session", "error", err)
		return
	}
	a.writeSessionCookie(w, r, st.token)
}

// regenerateSession drops the current record and starts over with a new
// token and CSRF secret. Used on login so a pre-auth token never carries a
// user.
func (a *API) regenerateSession(ctx context.Context, st *sessionState) error {
	if st.token != "" {
		if err := a.sessions.Delete(ctx, st.token); err != nil {
			return err
		}
	}
	s, err := newSession()
	if err != nil {
		return err
	}
	*st = sessionState{session: s}
	return nil
}

// destroySession deletes the record; the cookie is cleared on commit.
func (a *API) destroySession(ctx context.Context, st *sessionState) error {
	if st.token != "" {
		if err := a.sessions.Delete(ctx, st.token); err != nil {
			return err
		}
	}
	*st = sessionState{destroyed: true}
	return nil
}

// sessionWriter commits the session on the first header or body write.
type sessionWriter struct {
	http.ResponseWriter
	commit func()
	once   sync.Once
}

func (w *sessionWriter) WriteHeader(code int) {
	w.once.Do(w.commit)
	w.ResponseWriter.WriteHeader(code)
}

func (w *sessionWriter) Write(b []byte) (int, error) {
	w.once.Do(w.commit)
	return w.ResponseWriter.Write(b)
}

func (w *sessionWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (a *API) writeSessionCookie(w http.ResponseWriter, r *http.Request, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   a.cookieSecure || a.requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(a.sessionTTL / time.Second),
		Expires:  time.Now().Add(a.sessionTTL),
	})
}

func (a *API) clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   a.cookieSecure || a.requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

// requestIsSecure reports TLS, or an https forwarding header when the
// server sits behind a trusted proxy.
func (a *API) requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if !a.trustProxy {
		return false
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}

func sessionFromContext(ctx context.Context) *sessionState {
	st, _ := ctx.Value(sessionKey).(*sessionState)
	return st
}

// currentUser returns the signed-in principal, or nil.
func currentUser(r *http.Request) *identity.Principal {
	if st := sessionFromContext(r.Context()); st != nil {
		return st.session.User
	}
	return nil
}
