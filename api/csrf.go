package api

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jmcleod/goaltracker/internal/util"
)

const (
	csrfFormField = "_csrf"
	csrfSaltBytes = 16
	csrfInfo      = "goaltracker csrf v1"
	maxFormBytes  = 1 << 20
)

// ErrCSRF marks a state-changing request without a token derived from the
// current session's secret.
var ErrCSRF = errors.New("invalid csrf token")

var csrfHeaders = []string{"X-CSRF-Token", "CSRF-Token", "X-XSRF-Token", "XSRF-Token"}

// mintCSRFToken derives a token from secret under a fresh random salt. Every
// token minted from the same secret stays valid until the secret changes.
func mintCSRFToken(secret []byte) (string, error) {
	salt, err := util.RandomBytes(csrfSaltBytes)
	if err != nil {
		return "", err
	}
	mac, err := util.DeriveKey(secret, salt, csrfInfo)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(append(salt, mac...)), nil
}

func verifyCSRFToken(secret []byte, token string) bool {
	if len(secret) == 0 || token == "" {
		return false
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != csrfSaltBytes+util.DerivedKeyLength {
		return false
	}
	want, err := util.DeriveKey(secret, raw[:csrfSaltBytes], csrfInfo)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(want, raw[csrfSaltBytes:]) == 1
}

// csrfTokenFromRequest reads the token from the form body or one of the
// accepted headers.
func csrfTokenFromRequest(r *http.Request) string {
	if v := r.PostFormValue(csrfFormField); v != "" {
		return v
	}
	for _, h := range csrfHeaders {
		if v := r.Header.Get(h); v != "" {
			return v
		}
	}
	return ""
}

func isStateChanging(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// CSRFMiddleware rejects state-changing requests whose token does not verify
// against the session's CSRF secret. The wrapped handler is not invoked on
// failure. It must run after SessionMiddleware.
func (a *API) CSRFMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isStateChanging(r.Method) {
			next.ServeHTTP(w, r)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)

		st := sessionFromContext(r.Context())
		if st == nil || !verifyCSRFToken(st.session.CSRFSecret, csrfTokenFromRequest(r)) {
			a.audit.logFailure(AuditCSRFRejected, r, "csrf token missing or invalid",
				slog.String("method", r.Method), slog.String("path", r.URL.Path))
			a.renderError(w, r, ErrCSRF)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// csrfToken mints a token for the page being rendered.
func (a *API) csrfToken(r *http.Request) string {
	st := sessionFromContext(r.Context())
	if st == nil || st.destroyed {
		return ""
	}
	token, err := mintCSRFToken(st.session.CSRFSecret)
	if err != nil {
		a.logger.Error("minting csrf token", "error", err)
		return ""
	}
	return token
}
