package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jmcleod/goaltracker/identity"
	"github.com/jmcleod/goaltracker/tracker"
)

const (
	msgInvalidLogin     = "Invalid email or password"
	msgEmailUnconfirmed = "Email not confirmed. Please check your inbox."
	msgLoginThrottled   = "Too many failed login attempts. Please try again later."
	msgSignUpThrottled  = "Too many sign-up attempts. Please try again later."
	msgEmailTaken       = "An account with this email already exists"
)

type loginForm struct {
	Email    string `form:"email" label:"Email" validate:"required,email,max=254"`
	Password string `form:"password" label:"Password" validate:"required,max=512"`
}

type registerForm struct {
	Email       string `form:"email" label:"Email" validate:"required,email,max=254"`
	DisplayName string `form:"display_name" label:"Display name" validate:"required,max=100"`
	Password    string `form:"password" label:"Password" validate:"required,min=8,max=512"`
	Confirm     string `form:"confirm" label:"Confirm password" validate:"eqfield=Password"`
}

// userPage carries what the login and register templates echo back.
// Passwords are never echoed.
type userPage struct {
	values map[string]string
	errors map[string]string
	flash  string
}

func (a *API) renderUserPage(w http.ResponseWriter, r *http.Request, status int, name, title string, up userPage) {
	p := a.page(r, title)
	p.Values = up.values
	p.Errors = up.errors
	p.Flash = up.flash
	a.render(w, r, status, name, p)
}

func (a *API) LoginForm(w http.ResponseWriter, r *http.Request) {
	a.renderUserPage(w, r, http.StatusOK, "users/login", "Log in", userPage{})
}

func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	form := loginForm{
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Password: r.PostFormValue("password"),
	}
	up := userPage{values: map[string]string{"email": form.Email}}
	if err := tracker.Validate(form); err != nil {
		up.errors = validationErrors(err)
		a.renderUserPage(w, r, http.StatusUnprocessableEntity, "users/login", "Log in", up)
		return
	}

	ip := a.extractClientIP(r)
	key := accountKey(form.Email)
	if blocked, retryAfter := a.login.check(key, ip); blocked {
		a.audit.logFailure(AuditLoginRateLimited, r, "throttled", slog.String("client_ip", ip))
		w.Header().Set("Retry-After", retryAfterString(retryAfter))
		up.flash = msgLoginThrottled
		a.renderUserPage(w, r, http.StatusTooManyRequests, "users/login", "Log in", up)
		return
	}

	user, err := a.auth.SignIn(r.Context(), form.Email, form.Password)
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		a.login.failure(key, ip)
		a.audit.logFailure(AuditLoginFailure, r, "invalid credentials", slog.String("client_ip", ip))
		up.flash = msgInvalidLogin
		a.renderUserPage(w, r, http.StatusUnauthorized, "users/login", "Log in", up)
		return
	case errors.Is(err, identity.ErrEmailNotConfirmed):
		a.audit.logFailure(AuditLoginFailure, r, "email not confirmed", slog.String("client_ip", ip))
		up.flash = msgEmailUnconfirmed
		a.renderUserPage(w, r, http.StatusUnauthorized, "users/login", "Log in", up)
		return
	case err != nil:
		a.renderError(w, r, err)
		return
	}

	a.login.success(key, ip)
	a.audit.logEvent(AuditLoginSuccess, r, user.ID)
	a.signIn(w, r, user)
}

func (a *API) RegisterForm(w http.ResponseWriter, r *http.Request) {
	a.renderUserPage(w, r, http.StatusOK, "users/register", "Register", userPage{})
}

func (a *API) Register(w http.ResponseWriter, r *http.Request) {
	form := registerForm{
		Email:       strings.TrimSpace(r.PostFormValue("email")),
		DisplayName: strings.TrimSpace(r.PostFormValue("display_name")),
		Password:    r.PostFormValue("password"),
		Confirm:     r.PostFormValue("confirm"),
	}
	up := userPage{values: map[string]string{"email": form.Email, "display_name": form.DisplayName}}

	ip := a.extractClientIP(r)
	if blocked, retryAfter := a.register.check(ip); blocked {
		a.audit.logFailure(AuditRegisterRateLimited, r, "throttled", slog.String("client_ip", ip))
		w.Header().Set("Retry-After", retryAfterString(retryAfter))
		up.flash = msgSignUpThrottled
		a.renderUserPage(w, r, http.StatusTooManyRequests, "users/register", "Register", up)
		return
	}
	if err := tracker.Validate(form); err != nil {
		up.errors = validationErrors(err)
		a.renderUserPage(w, r, http.StatusUnprocessableEntity, "users/register", "Register", up)
		return
	}

	a.register.record(ip)
	user, err := a.auth.SignUp(r.Context(), identity.SignUpRequest{
		Email:       form.Email,
		Password:    form.Password,
		DisplayName: form.DisplayName,
	})
	switch {
	case errors.Is(err, identity.ErrEmailTaken):
		up.errors = map[string]string{"email": msgEmailTaken}
		a.renderUserPage(w, r, http.StatusUnprocessableEntity, "users/register", "Register", up)
		return
	case errors.Is(err, identity.ErrConfirmationPending):
		a.audit.logFailure(AuditRegister, r, "confirmation pending")
		http.Redirect(w, r, loginPath, http.StatusFound)
		return
	case err != nil:
		a.renderError(w, r, err)
		return
	}

	a.audit.logEvent(AuditRegister, r, user.ID)
	a.signIn(w, r, user)
}

// signIn rotates the session, attaches user and sends the browser to the
// remembered GET destination or the landing page.
func (a *API) signIn(w http.ResponseWriter, r *http.Request, user *identity.Principal) {
	st := sessionFromContext(r.Context())
	target := takeReturnTo(st)
	if err := a.regenerateSession(context.WithoutCancel(r.Context()), st); err != nil {
		a.renderError(w, r, err)
		return
	}
	st.session.User = user
	http.Redirect(w, r, target, http.StatusFound)
}

func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	st := sessionFromContext(r.Context())
	if u := st.session.User; u != nil {
		a.audit.logEvent(AuditLogout, r, u.ID)
	}
	if err := a.destroySession(context.WithoutCancel(r.Context()), st); err != nil {
		a.renderError(w, r, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}
