package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/goaltracker/identity"
	"github.com/jmcleod/goaltracker/internal/util"
	"github.com/jmcleod/goaltracker/storage"
	"github.com/jmcleod/goaltracker/storage/memory"
	"github.com/jmcleod/goaltracker/tracker"
)

const testPassword = "correct horse battery"

var (
	csrfFieldRE = regexp.MustCompile(`name="_csrf" value="([^"]+)"`)
	toggleRE    = regexp.MustCompile(`/milestones/([^/"]+)/toggle`)
	logDeleteRE = regexp.MustCompile(`/logs/([^/"]+)/delete`)
)

// spyRepo counts every goal store access so tests can prove a request never
// reached the gateway.
type spyRepo struct {
	*memory.Repository
	goalCalls atomic.Int32
	failing   atomic.Bool
}

var errDiskOnFire = errors.New("disk on fire")

func (s *spyRepo) Goals() storage.GoalStore {
	s.goalCalls.Add(1)
	if s.failing.Load() {
		return failingGoals{GoalStore: s.Repository.Goals(), err: errDiskOnFire}
	}
	return s.Repository.Goals()
}

type failingGoals struct {
	storage.GoalStore
	err error
}

func (f failingGoals) ListForOwner(context.Context, storage.OwnerID) ([]storage.Goal, error) {
	return nil, f.err
}

type testServer struct {
	srv  *httptest.Server
	repo *spyRepo
	api  *API
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()
	repo := &spyRepo{Repository: memory.NewRepository()}
	auth, err := identity.NewLocal(repo.Users(), identity.WithKDFParams(util.Argon2idParams{
		Time: 1, MemoryKiB: 64, Parallelism: 1, KeyLen: 32,
	}))
	require.NoError(t, err)

	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	a, err := New(tracker.NewGateway(repo), auth, opts...)
	require.NoError(t, err)

	srv := httptest.NewServer(a.Router())
	t.Cleanup(func() {
		srv.Close()
		a.Close()
	})
	return &testServer{srv: srv, repo: repo, api: a}
}

// client is a browser stand-in: it keeps cookies and never follows redirects.
type client struct {
	t    *testing.T
	base string
	jar  http.CookieJar
	http *http.Client
}

func (ts *testServer) client(t *testing.T) *client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &client{
		t:    t,
		base: ts.srv.URL,
		jar:  jar,
		http: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (c *client) do(req *http.Request) (*http.Response, string) {
	c.t.Helper()
	resp, err := c.http.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	return resp, string(body)
}

func (c *client) get(path string) (*http.Response, string) {
	c.t.Helper()
	req, err := http.NewRequest(http.MethodGet, c.base+path, nil)
	require.NoError(c.t, err)
	return c.do(req)
}

// postRaw submits form exactly as given, with extra headers.
func (c *client) postRaw(path string, form url.Values, headers map[string]string) (*http.Response, string) {
	c.t.Helper()
	req, err := http.NewRequest(http.MethodPost, c.base+path, strings.NewReader(form.Encode()))
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.do(req)
}

// post submits form with a token minted for the current session.
func (c *client) post(path string, form url.Values) (*http.Response, string) {
	c.t.Helper()
	if form == nil {
		form = url.Values{}
	}
	form.Set("_csrf", c.token())
	return c.postRaw(path, form, nil)
}

// token loads a page and scrapes a CSRF token from it.
func (c *client) token() string {
	c.t.Helper()
	_, body := c.get("/about")
	m := csrfFieldRE.FindStringSubmatch(body)
	require.NotNil(c.t, m, "page carries no csrf token")
	return m[1]
}

func (c *client) sessionCookie() string {
	c.t.Helper()
	u, err := url.Parse(c.base)
	require.NoError(c.t, err)
	for _, ck := range c.jar.Cookies(u) {
		if ck.Name == sessionCookieName {
			return ck.Value
		}
	}
	return ""
}

func (c *client) setSessionCookie(value string) {
	c.t.Helper()
	u, err := url.Parse(c.base)
	require.NoError(c.t, err)
	c.jar.SetCookies(u, []*http.Cookie{{Name: sessionCookieName, Value: value, Path: "/"}})
}

func (c *client) register(email, name string) {
	c.t.Helper()
	resp, _ := c.post("/users/register", url.Values{
		"email":        {email},
		"display_name": {name},
		"password":     {testPassword},
		"confirm":      {testPassword},
	})
	require.Equal(c.t, http.StatusFound, resp.StatusCode)
	require.Equal(c.t, landingPath, resp.Header.Get("Location"))
}

func (c *client) login(email, password string) *http.Response {
	c.t.Helper()
	resp, _ := c.post("/users/login", url.Values{"email": {email}, "password": {password}})
	return resp
}

func (c *client) logout() {
	c.t.Helper()
	resp, _ := c.post("/users/logout", nil)
	require.Equal(c.t, http.StatusFound, resp.StatusCode)
}

func (c *client) createGoal(title string) string {
	c.t.Helper()
	resp, _ := c.post("/goals", url.Values{"title": {title}, "progress": {"10"}})
	require.Equal(c.t, http.StatusFound, resp.StatusCode)
	loc := resp.Header.Get("Location")
	require.True(c.t, strings.HasPrefix(loc, "/goals/"), loc)
	return strings.TrimPrefix(loc, "/goals/")
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	c := ts.client(t)

	resp, body := c.get("/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, body)
	assert.Empty(t, c.sessionCookie(), "health checks do not open sessions")
}

func TestSecurityHeaders(t *testing.T) {
	ts := newTestServer(t, WithDevMode(true))
	resp, _ := ts.client(t).get("/")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Security-Policy"), "default-src 'self'")
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "SAMEORIGIN", resp.Header.Get("X-Frame-Options"))
	assert.Equal(t, "no-referrer", resp.Header.Get("Referrer-Policy"))
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	assert.Empty(t, resp.Header.Get("Strict-Transport-Security"), "plain http gets no HSTS")
}

func TestSessionCookieAttributes(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := ts.client(t).get("/")

	var session *http.Cookie
	for _, ck := range resp.Cookies() {
		if ck.Name == sessionCookieName {
			session = ck
		}
	}
	require.NotNil(t, session)
	assert.True(t, session.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, session.SameSite)
	assert.Equal(t, "/", session.Path)
	assert.Equal(t, int(defaultSessionTTL.Seconds()), session.MaxAge)
	assert.False(t, session.Secure)

	secure := newTestServer(t, WithCookieSecure(true))
	resp, _ = secure.client(t).get("/")
	for _, ck := range resp.Cookies() {
		if ck.Name == sessionCookieName {
			assert.True(t, ck.Secure)
		}
	}
}

func TestRequireAuthRemembersReturnTo(t *testing.T) {
	ts := newTestServer(t)
	c := ts.client(t)
	c.register("ann@example.com", "Ann")
	c.logout()

	resp, _ := c.get("/goals/42?tab=logs")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, loginPath, resp.Header.Get("Location"))

	resp = c.login("ann@example.com", testPassword)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/goals/42?tab=logs", resp.Header.Get("Location"))

	// The saved target is consumed by the first login.
	c.logout()
	resp = c.login("ann@example.com", testPassword)
	assert.Equal(t, landingPath, resp.Header.Get("Location"))
}

func TestRequireAuthIgnoresReturnToForPost(t *testing.T) {
	ts := newTestServer(t)
	c := ts.client(t)
	c.register("ann@example.com", "Ann")
	c.logout()

	resp, _ := c.post("/goals", url.Values{"title": {"Sneaky"}})
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, loginPath, resp.Header.Get("Location"))

	resp = c.login("ann@example.com", testPassword)
	assert.Equal(t, landingPath, resp.Header.Get("Location"))
}

func TestRequireGuestRedirectsSignedInUsers(t *testing.T) {
	ts := newTestServer(t)
	c := ts.client(t)
	c.register("ann@example.com", "Ann")

	for _, path := range []string{"/users/login", "/users/register"} {
		resp, _ := c.get(path)
		assert.Equal(t, http.StatusFound, resp.StatusCode, path)
		assert.Equal(t, landingPath, resp.Header.Get("Location"), path)
	}

	resp, body := c.get("/dashboard")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Ann")
}

func TestCSRFMissingTokenRejected(t *testing.T) {
	ts := newTestServer(t)
	c := ts.client(t)
	c.register("ann@example.com", "Ann")
	before := ts.repo.goalCalls.Load()

	resp, body := c.postRaw("/goals", url.Values{"title": {"Run a marathon"}}, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, body, "Invalid CSRF token")
	assert.Contains(t, body, "Your form session has expired")
	assert.Equal(t, before, ts.repo.goalCalls.Load(), "request must not reach the gateway")
}

func TestCSRFRejectedBeforeAuthGuard(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := ts.client(t).postRaw("/goals", url.Values{"title": {"x"}}, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestCSRFTokenBoundToSession(t *testing.T) {
	ts := newTestServer(t)
	ann := ts.client(t)
	ann.register("ann@example.com", "Ann")
	bob := ts.client(t)
	bob.register("bob@example.com", "Bob")

	resp, _ := ann.postRaw("/goals", url.Values{"title": {"x"}, "_csrf": {bob.token()}}, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestCSRFTokenReusableAndAcceptedFromHeaders(t *testing.T) {
	ts := newTestServer(t)
	c := ts.client(t)
	c.register("ann@example.com", "Ann")
	token := c.token()

	for _, h := range csrfHeaders {
		resp, _ := c.postRaw("/goals", url.Values{"title": {"Via " + h}}, map[string]string{h: token})
		assert.Equal(t, http.StatusFound, resp.StatusCode, h)
	}
	goals, err := ts.api.gateway.ListGoals(context.Background(), storage.OwnerID(currentOwner(t, ts, "ann@example.com")))
	require.NoError(t, err)
	assert.Len(t, goals, len(csrfHeaders))
}

func currentOwner(t *testing.T, ts *testServer, email string) string {
	t.Helper()
	u, err := ts.repo.Users().GetByEmail(context.Background(), email)
	require.NoError(t, err)
	return u.ID
}

func TestLoginRotatesSessionToken(t *testing.T) {
	ts := newTestServer(t)
	c := ts.client(t)
	c.register("ann@example.com", "Ann")
	c.logout()

	c.get("/users/login")
	before := c.sessionCookie()
	require.NotEmpty(t, before)

	resp := c.login("ann@example.com", testPassword)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.NotEqual(t, before, c.sessionCookie())

	// A fixated pre-login token must not be signed in.
	other := ts.client(t)
	other.setSessionCookie(before)
	resp, _ = other.get("/dashboard")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
}

func TestLogoutInvalidatesSession(t *testing.T) {
	ts := newTestServer(t)
	c := ts.client(t)
	c.register("ann@example.com", "Ann")
	old := c.sessionCookie()
	oldToken := c.token()

	c.logout()

	replay := ts.client(t)
	replay.setSessionCookie(old)
	resp, _ := replay.get("/dashboard")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, loginPath, resp.Header.Get("Location"))

	resp, _ = c.postRaw("/goals", url.Values{"title": {"x"}, "_csrf": {oldToken}}, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestTamperedCookieStartsAnonymousSession(t *testing.T) {
	ts := newTestServer(t)
	c := ts.client(t)
	c.setSessionCookie("not-a-real-session")

	resp, _ := c.get("/dashboard")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.NotEqual(t, "not-a-real-session", c.sessionCookie())
}

func TestCommitAfterLogoutDoesNotRestoreSession(t *testing.T) {
	ts := newTestServer(t)
	c := ts.client(t)
	c.register("ann@example.com", "Ann")
	token := c.sessionCookie()

	// A slow request resolves the signed-in session before logout lands.
	r := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	r.AddCookie(&http.Cookie{Name: sessionCookieName, Value: token})
	st, err := ts.api.resolveSession(r)
	require.NoError(t, err)
	require.NotNil(t, st.session.User)

	c.logout()

	w := httptest.NewRecorder()
	ts.api.commitSession(w, r, st)

	_, ok := ts.api.sessions.Get(context.Background(), token)
	assert.False(t, ok, "logged-out session was written back")
	var cleared bool
	for _, ck := range w.Result().Cookies() {
		if ck.Name == sessionCookieName {
			cleared = ck.MaxAge < 0
		}
	}
	assert.True(t, cleared, "stale commit should clear the cookie")

	replay := ts.client(t)
	replay.setSessionCookie(token)
	resp, _ := replay.get("/dashboard")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, loginPath, resp.Header.Get("Location"))
}

func TestCommitAfterLoginDoesNotRestorePreLoginToken(t *testing.T) {
	ts := newTestServer(t)
	c := ts.client(t)
	c.register("ann@example.com", "Ann")
	c.logout()
	c.get("/users/login")
	before := c.sessionCookie()
	require.NotEmpty(t, before)

	r := httptest.NewRequest(http.MethodGet, "/about", nil)
	r.AddCookie(&http.Cookie{Name: sessionCookieName, Value: before})
	st, err := ts.api.resolveSession(r)
	require.NoError(t, err)
	require.Equal(t, before, st.token)

	require.Equal(t, http.StatusFound, c.login("ann@example.com", testPassword).StatusCode)

	ts.api.commitSession(httptest.NewRecorder(), r, st)
	_, ok := ts.api.sessions.Get(context.Background(), before)
	assert.False(t, ok, "rotated pre-login token was written back")
}

func TestIncompletePrincipalIsAnonymous(t *testing.T) {
	ts := newTestServer(t)
	c := ts.client(t)
	c.register("ann@example.com", "Ann")
	owner := currentOwner(t, ts, "ann@example.com")

	for name, user := range map[string]*identity.Principal{
		"no email":        {ID: owner, DisplayName: "Ann"},
		"no display name": {ID: owner, Email: "ann@example.com"},
	} {
		t.Run(name, func(t *testing.T) {
			token := "forged-" + strings.ReplaceAll(name, " ", "-")
			require.NoError(t, ts.api.sessions.Put(context.Background(), token, liveSession(user)))

			other := ts.client(t)
			other.setSessionCookie(token)
			resp, _ := other.get("/dashboard")
			assert.Equal(t, http.StatusFound, resp.StatusCode)
			assert.Equal(t, loginPath, resp.Header.Get("Location"))
		})
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	ts := newTestServer(t)
	c := ts.client(t)
	c.register("ann@example.com", "Ann")
	c.logout()

	resp, _ := c.post("/users/login", url.Values{"email": {"ann@example.com"}, "password": {"wrong password"}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := c.post("/users/login", url.Values{"email": {"nobody@example.com"}, "password": {"wrong password"}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, body, msgInvalidLogin)
	assert.Contains(t, body, `value="nobody@example.com"`)
}

func TestLoginValidation(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.client(t).post("/users/login", url.Values{"email": {"not-an-email"}})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body, "Enter a valid email address")
	assert.Contains(t, body, "Password required")
}

func TestLoginThrottled(t *testing.T) {
	ts := newTestServer(t)
	c := ts.client(t)
	c.register("ann@example.com", "Ann")
	c.logout()

	for i := 0; i < accountPolicy.threshold; i++ {
		resp := c.login("ann@example.com", "wrong password")
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	resp, body := c.post("/users/login", url.Values{"email": {"ann@example.com"}, "password": {testPassword}})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Contains(t, body, "Too many")
}

func TestRegisterValidationEchoesValues(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.client(t).post("/users/register", url.Values{
		"email":        {"ann@example.com"},
		"display_name": {"Ann Example"},
		"password":     {testPassword},
		"confirm":      {"something else"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body, "Passwords do not match")
	assert.Contains(t, body, `value="Ann Example"`)
	assert.NotContains(t, body, testPassword)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	ts := newTestServer(t)
	ts.client(t).register("ann@example.com", "Ann")

	resp, body := ts.client(t).post("/users/register", url.Values{
		"email":        {"ANN@example.com"},
		"display_name": {"Other Ann"},
		"password":     {testPassword},
		"confirm":      {testPassword},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body, msgEmailTaken)
}

func TestGoalLifecycle(t *testing.T) {
	ts := newTestServer(t)
	c := ts.client(t)
	c.register("ann@example.com", "Ann")

	id := c.createGoal("Run a marathon")

	resp, body := c.get("/goals/" + id)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Run a marathon")

	resp, _ = c.post("/goals/"+id+"/edit", url.Values{"title": {"Run two marathons"}, "progress": {"40"}})
	require.Equal(t, http.StatusFound, resp.StatusCode)
	_, body = c.get("/goals/" + id)
	assert.Contains(t, body, "Run two marathons")

	resp, _ = c.post("/goals/"+id+"/milestones", url.Values{"title": {"First 10k"}})
	require.Equal(t, http.StatusFound, resp.StatusCode)
	_, body = c.get("/goals/" + id)
	m := toggleRE.FindStringSubmatch(body)
	require.NotNil(t, m)
	milestoneID := m[1]

	resp, _ = c.post("/goals/"+id+"/milestones/"+milestoneID+"/toggle", nil)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	_, body = c.get("/goals/" + id)
	assert.Contains(t, body, "1/1 done")

	resp, _ = c.post("/goals/"+id+"/logs", url.Values{"note": {"Ran 5k"}, "metricName": {"km"}, "metricValue": {"5"}})
	require.Equal(t, http.StatusFound, resp.StatusCode)
	_, body = c.get("/goals/" + id + "/logs")
	assert.Contains(t, body, "Ran 5k")
	m = logDeleteRE.FindStringSubmatch(body)
	require.NotNil(t, m)

	resp, _ = c.post("/goals/"+id+"/logs/"+m[1]+"/delete", nil)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	_, body = c.get("/goals/" + id)
	assert.NotContains(t, body, "Ran 5k")

	resp, _ = c.post("/goals/"+id+"/delete", nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/goals", resp.Header.Get("Location"))

	resp, _ = c.get("/goals/" + id)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestToggleMilestoneJSON(t *testing.T) {
	ts := newTestServer(t)
	c := ts.client(t)
	c.register("ann@example.com", "Ann")
	id := c.createGoal("Learn Go")
	c.post("/goals/"+id+"/milestones", url.Values{"title": {"Tour"}})
	_, body := c.get("/goals/" + id)
	milestoneID := toggleRE.FindStringSubmatch(body)[1]

	token := c.token()
	for _, want := range []bool{true, false} {
		resp, body := c.postRaw("/goals/"+id+"/milestones/"+milestoneID+"/toggle", nil, map[string]string{
			"X-CSRF-Token": token,
			"Accept":       "application/json",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var got struct {
			ID       string `json:"id"`
			Complete bool   `json:"complete"`
		}
		require.NoError(t, json.Unmarshal([]byte(body), &got))
		assert.Equal(t, milestoneID, got.ID)
		assert.Equal(t, want, got.Complete)
	}
}

func TestGoalValidationEchoesValues(t *testing.T) {
	ts := newTestServer(t)
	c := ts.client(t)
	c.register("ann@example.com", "Ann")

	resp, body := c.post("/goals", url.Values{"title": {""}, "description": {"keep me"}, "progress": {"150"}})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body, "Title required")
	assert.Contains(t, body, "Progress must be a whole number between 0 and 100")
	assert.Contains(t, body, "keep me")

	id := c.createGoal("Read more")
	resp, body = c.post("/goals/"+id+"/milestones", url.Values{"title": {""}, "due": {"tomorrow"}})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body, "Due date must be a date (YYYY-MM-DD)")
	assert.Contains(t, body, `value="tomorrow"`)
}

func TestCrossOwnerAccessIsNotFound(t *testing.T) {
	ts := newTestServer(t)
	ann := ts.client(t)
	ann.register("ann@example.com", "Ann")
	id := ann.createGoal("Private goal")
	ann.post("/goals/"+id+"/milestones", url.Values{"title": {"Private step"}})
	_, body := ann.get("/goals/" + id)
	milestoneID := toggleRE.FindStringSubmatch(body)[1]

	bob := ts.client(t)
	bob.register("bob@example.com", "Bob")

	for _, path := range []string{"/goals/" + id, "/goals/" + id + "/edit", "/goals/" + id + "/milestones", "/goals/" + id + "/logs"} {
		resp, body := bob.get(path)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		assert.NotContains(t, body, "Private goal", path)
	}
	for _, path := range []string{
		"/goals/" + id + "/edit",
		"/goals/" + id + "/delete",
		"/goals/" + id + "/milestones/" + milestoneID + "/toggle",
		"/goals/" + id + "/milestones/" + milestoneID + "/delete",
	} {
		resp, _ := bob.post(path, url.Values{"title": {"Hijacked"}})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}

	// A failed edit must not leak the goal either.
	resp, body := bob.post("/goals/"+id+"/edit", url.Values{"title": {""}})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotContains(t, body, "Private goal")

	resp, body = ann.get("/goals/" + id)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Private goal")
	assert.Contains(t, body, "0/1 done")
	assert.NotContains(t, body, "Hijacked")
}

func TestMilestoneUnderWrongGoalIsNotFound(t *testing.T) {
	ts := newTestServer(t)
	c := ts.client(t)
	c.register("ann@example.com", "Ann")
	first := c.createGoal("First")
	second := c.createGoal("Second")
	c.post("/goals/"+first+"/milestones", url.Values{"title": {"Step"}})
	_, body := c.get("/goals/" + first)
	milestoneID := toggleRE.FindStringSubmatch(body)[1]

	resp, _ := c.post("/goals/"+second+"/milestones/"+milestoneID+"/toggle", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGoalsPagination(t *testing.T) {
	ts := newTestServer(t)
	c := ts.client(t)
	c.register("ann@example.com", "Ann")
	for _, title := range []string{"One", "Two", "Three"} {
		c.createGoal(title)
	}

	resp, body := c.get("/goals?limit=2")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "offset=2")

	_, body = c.get("/goals?limit=2&offset=2")
	assert.NotContains(t, body, "offset=4")
}

func TestUnknownRouteRendersNotFound(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.client(t).get("/no/such/page")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body, "Page Not Found")
	assert.Contains(t, body, notFoundMessage)
}

func TestInternalErrorDetailOnlyInDevMode(t *testing.T) {
	for _, dev := range []bool{false, true} {
		ts := newTestServer(t, WithDevMode(dev))
		c := ts.client(t)
		c.register("ann@example.com", "Ann")
		ts.repo.failing.Store(true)

		resp, body := c.get("/goals")
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Contains(t, body, internalMessage)
		if dev {
			assert.Contains(t, body, "disk on fire")
		} else {
			assert.NotContains(t, body, "disk on fire")
		}
	}
}

func TestProfilePage(t *testing.T) {
	ts := newTestServer(t)
	c := ts.client(t)
	c.register("ann@example.com", "Ann")

	resp, body := c.get("/users/profile")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "ann@example.com")
}
