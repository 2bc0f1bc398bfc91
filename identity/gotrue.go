package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/jmcleod/goaltracker/internal/util"
	"github.com/jmcleod/goaltracker/storage"
)

// GoTrue authenticates against a hosted GoTrue (Supabase Auth) instance and
// keeps a matching profile row in the users store.
type GoTrue struct {
	baseURL string
	anonKey string
	client  *http.Client
	users   storage.UserStore
}

var _ Provider = (*GoTrue)(nil)

// NewGoTrue returns a provider for the project at baseURL. A nil client
// uses one with a 10 second timeout.
func NewGoTrue(baseURL, anonKey string, users storage.UserStore, client *http.Client) *GoTrue {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &GoTrue{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		client:  client,
		users:   users,
	}
}

type gotrueUser struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

type gotrueSession struct {
	AccessToken string      `json:"access_token"`
	User        *gotrueUser `json:"user"`
}

type gotrueError struct {
	Code             int    `json:"code"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (e gotrueError) text() string {
	for _, s := range []string{e.Msg, e.Message, e.ErrorDescription, e.Error} {
		if s != "" {
			return s
		}
	}
	return "unknown error"
}

var confirmPattern = regexp.MustCompile(`(?i)confirm|verified`)

func (g *GoTrue) post(ctx context.Context, path string, body any) (int, []byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", g.anonKey)
	req.Header.Set("Authorization", "Bearer "+g.anonKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("auth service: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("reading auth response: %w", err)
	}
	return resp.StatusCode, data, nil
}

func decodeError(status int, data []byte) gotrueError {
	var e gotrueError
	_ = json.Unmarshal(data, &e)
	if e.Code == 0 {
		e.Code = status
	}
	return e
}

func (g *GoTrue) SignUp(ctx context.Context, req SignUpRequest) (*Principal, error) {
	email := util.NormalizeEmail(req.Email)
	status, data, err := g.post(ctx, "/auth/v1/signup", map[string]any{
		"email":    email,
		"password": req.Password,
		"data":     map[string]string{"username": req.DisplayName},
	})
	if err != nil {
		return nil, err
	}
	if status >= 500 {
		return nil, fmt.Errorf("auth service returned %d", status)
	}
	if status >= 400 {
		e := decodeError(status, data)
		if e.ErrorCode == "user_already_exists" || strings.Contains(strings.ToLower(e.text()), "already registered") {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("sign up rejected: %s", e.text())
	}

	var sess gotrueSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decoding sign up response: %w", err)
	}
	// Without a session token the project requires email confirmation.
	if sess.AccessToken == "" || sess.User == nil {
		return nil, ErrConfirmationPending
	}
	p := &Principal{ID: sess.User.ID, Email: email, DisplayName: req.DisplayName}
	if err := g.ensureProfile(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (g *GoTrue) SignIn(ctx context.Context, email, password string) (*Principal, error) {
	status, data, err := g.post(ctx, "/auth/v1/token?grant_type=password", map[string]string{
		"email":    util.NormalizeEmail(email),
		"password": password,
	})
	if err != nil {
		return nil, err
	}
	if status >= 500 {
		return nil, fmt.Errorf("auth service returned %d", status)
	}
	if status >= 400 {
		e := decodeError(status, data)
		if e.ErrorCode == "email_not_confirmed" || confirmPattern.MatchString(e.text()) {
			return nil, ErrEmailNotConfirmed
		}
		return nil, ErrInvalidCredentials
	}

	var sess gotrueSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decoding token response: %w", err)
	}
	if sess.User == nil {
		return nil, errors.New("token response carried no user")
	}

	p := &Principal{ID: sess.User.ID, Email: sess.User.Email}
	profile, err := g.users.Get(ctx, p.ID)
	switch {
	case err == nil:
		p.DisplayName = profile.DisplayName
	case errors.Is(err, storage.ErrNotFound):
		if name, ok := sess.User.UserMetadata["username"].(string); ok {
			p.DisplayName = name
		}
		p.defaultDisplayName()
		if err := g.ensureProfile(ctx, p); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("loading profile: %w", err)
	}
	p.defaultDisplayName()
	return p, nil
}

// ensureProfile creates the local profile row for p unless it exists.
func (g *GoTrue) ensureProfile(ctx context.Context, p *Principal) error {
	_, err := g.users.Get(ctx, p.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("loading profile: %w", err)
	}
	err = g.users.Create(ctx, storage.User{ID: p.ID, Email: p.Email, DisplayName: p.DisplayName})
	if err != nil && !errors.Is(err, storage.ErrConflict) {
		return fmt.Errorf("creating profile: %w", err)
	}
	return nil
}
