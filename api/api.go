// Package api is the HTTP surface of goaltracker: session resolution, CSRF
// verification, auth guards and the page handlers that sit in front of the
// ownership-scoped tracker gateway.
package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/goaltracker/identity"
	"github.com/jmcleod/goaltracker/tracker"
	"github.com/jmcleod/goaltracker/web"
)

const (
	defaultSessionTTL = 24 * time.Hour
	janitorInterval   = 5 * time.Minute
)

// API holds the dependencies needed by the HTTP handlers.
type API struct {
	gateway  *tracker.Gateway
	auth     identity.Provider
	sessions SessionStore
	pages    *web.Renderer
	static   http.Handler
	logger   *slog.Logger
	audit    *auditLogger
	alertFn  AlertFunc

	login    *loginThrottle
	register *registerThrottle

	trustedProxies []netip.Prefix
	trustProxy     bool
	cookieSecure   bool
	devMode        bool
	sessionTTL     time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for request errors and audit
// events. If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) { a.logger = logger }
}

// WithSessionStore replaces the default in-memory session store.
func WithSessionStore(store SessionStore) Option {
	return func(a *API) { a.sessions = store }
}

// WithSessionTTL sets the rolling session lifetime.
func WithSessionTTL(ttl time.Duration) Option {
	return func(a *API) {
		if ttl > 0 {
			a.sessionTTL = ttl
		}
	}
}

// WithCookieSecure forces the Secure attribute on the session cookie.
func WithCookieSecure(secure bool) Option {
	return func(a *API) { a.cookieSecure = secure }
}

// WithTrustProxy honours X-Forwarded-Proto and Forwarded when deciding
// whether a request arrived over TLS.
func WithTrustProxy(trust bool) Option {
	return func(a *API) { a.trustProxy = trust }
}

// WithTrustedProxies sets the CIDR ranges whose client-IP headers are
// believed by the login throttle. Empty means RemoteAddr is always used.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(a *API) { a.trustedProxies = prefixes }
}

// WithDevMode shows error details on 500 pages and disables caching.
func WithDevMode(dev bool) Option {
	return func(a *API) { a.devMode = dev }
}

// WithAlertFunc receives login-failure and CSRF-rejection spike alerts.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) { a.alertFn = fn }
}

// New creates a new API instance. Call Close to stop its background sweeper.
func New(gateway *tracker.Gateway, auth identity.Provider, opts ...Option) (*API, error) {
	a := &API{
		gateway:    gateway,
		auth:       auth,
		login:      newLoginThrottle(),
		register:   newRegisterThrottle(),
		sessionTTL: defaultSessionTTL,
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	if a.sessions == nil {
		a.sessions = NewMemorySessionStore(0)
	}
	a.audit = newAuditLogger(a.logger, newMetricsCollector(a.alertFn))

	pages, err := web.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}
	a.pages = pages
	if a.static, err = web.Static(); err != nil {
		return nil, err
	}

	go a.janitor()
	return a, nil
}

// Close stops the background sweeper. It does not close the session store.
func (a *API) Close() {
	a.stopOnce.Do(func() {
		close(a.stopCh)
		<-a.done
	})
}

// janitor forgets stale throttle records and, for the in-memory store,
// expired sessions.
func (a *API) janitor() {
	defer close(a.done)
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.login.sweep()
			a.register.ips.sweep()
			if s, ok := a.sessions.(interface{ Sweep() int }); ok {
				s.Sweep()
			}
		}
	}
}

// Router returns a chi.Router with every route mounted. Requests pass
// through security headers, session resolution, CSRF verification and the
// auth guard, in that order, before reaching a handler.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(a.SecurityHeaders)

	r.Handle("/static/*", http.StripPrefix("/static/", a.static))
	r.Get("/healthz", a.Healthz)

	r.Group(func(r chi.Router) {
		r.Use(a.SessionMiddleware, a.CSRFMiddleware)
		r.NotFound(a.NotFound)

		r.Get("/", a.Home)
		r.Get("/about", a.About)
		r.With(a.RequireAuth).Get("/dashboard", a.Dashboard)

		r.Route("/users", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(a.RequireGuest)
				r.Get("/register", a.RegisterForm)
				r.Post("/register", a.Register)
				r.Get("/login", a.LoginForm)
				r.Post("/login", a.Login)
			})
			r.Post("/logout", a.Logout)
			r.With(a.RequireAuth).Get("/profile", a.Profile)
		})

		r.Route("/goals", func(r chi.Router) {
			r.Use(a.RequireAuth)
			r.Get("/", a.ListGoals)
			r.Post("/", a.CreateGoal)
			r.Get("/new", a.NewGoal)
			r.Route("/{goalID}", func(r chi.Router) {
				r.Get("/", a.ShowGoal)
				r.Post("/", a.UpdateGoal)
				r.Get("/edit", a.EditGoal)
				r.Post("/edit", a.UpdateGoal)
				r.Post("/delete", a.DeleteGoal)
				r.Get("/milestones", a.ListMilestones)
				r.Post("/milestones", a.CreateMilestone)
				r.Post("/milestones/{milestoneID}/toggle", a.ToggleMilestone)
				r.Post("/milestones/{milestoneID}/delete", a.DeleteMilestone)
				r.Get("/logs", a.ListLogs)
				r.Post("/logs", a.CreateLog)
				r.Post("/logs/{logID}/delete", a.DeleteLog)
			})
		})
	})

	return r
}
