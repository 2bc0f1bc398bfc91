package api

import (
	"net/http"
	"strings"
)

const (
	loginPath   = "/users/login"
	landingPath = "/dashboard"
)

// RequireAuth redirects guests to the login page. Only GET requests are
// remembered as the post-login destination, so a form submission is never
// replayed.
func (a *API) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := sessionFromContext(r.Context())
		if st != nil && st.session.User != nil {
			next.ServeHTTP(w, r)
			return
		}
		if st != nil && r.Method == http.MethodGet {
			st.session.ReturnTo = r.URL.RequestURI()
		}
		http.Redirect(w, r, loginPath, http.StatusFound)
	})
}

// RequireGuest sends signed-in users to the landing page.
func (a *API) RequireGuest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if currentUser(r) != nil {
			http.Redirect(w, r, landingPath, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// safeReturnTo accepts only local absolute paths.
func safeReturnTo(target string) string {
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return ""
	}
	return target
}

// takeReturnTo returns the remembered destination, or the landing page,
// and clears it.
func takeReturnTo(st *sessionState) string {
	target := safeReturnTo(st.session.ReturnTo)
	st.session.ReturnTo = ""
	if target == "" {
		return landingPath
	}
	return target
}
