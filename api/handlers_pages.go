package api

import (
	"errors"
	"net/http"

	"github.com/jmcleod/goaltracker/storage"
)

type feature struct {
	Icon  string
	Title string
	Copy  string
}

var features = []feature{
	{Icon: "👤", Title: "Accounts & Profiles", Copy: "Sign up, log in, manage your profile."},
	{Icon: "🎯", Title: "Goals", Copy: "Create, update and archive goals like “Run 5k” or “Save $500”."},
	{Icon: "🚩", Title: "Milestones", Copy: "Break big goals into steps with due dates and completion toggles."},
	{Icon: "📒", Title: "Progress Logs", Copy: "Add dated notes and optional numeric values."},
	{Icon: "📈", Title: "Visualizations", Copy: "See your logging activity over the last week."},
}

func (a *API) Home(w http.ResponseWriter, r *http.Request) {
	p := a.page(r, "Home")
	p.Data = features
	a.render(w, r, http.StatusOK, "home", p)
}

func (a *API) About(w http.ResponseWriter, r *http.Request) {
	a.render(w, r, http.StatusOK, "about", a.page(r, "About"))
}

func (a *API) Dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := a.gateway.Dashboard(r.Context(), ownerOf(r))
	if err != nil {
		a.renderError(w, r, err)
		return
	}
	p := a.page(r, "Dashboard")
	p.Data = d
	a.render(w, r, http.StatusOK, "dashboard", p)
}

// Profile shows the signed-in user. A missing profile row is not an error:
// hosted identities may not have one yet.
func (a *API) Profile(w http.ResponseWriter, r *http.Request) {
	p := a.page(r, "Profile")
	u, err := a.gateway.Profile(r.Context(), ownerOf(r))
	switch {
	case err == nil:
		p.Data = u
	case !errors.Is(err, storage.ErrNotFound):
		a.renderError(w, r, err)
		return
	}
	a.render(w, r, http.StatusOK, "profile", p)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *API) NotFound(w http.ResponseWriter, r *http.Request) {
	a.renderError(w, r, storage.ErrNotFound)
}

// ownerOf returns the signed-in user's ID as an owner. Only valid behind
// RequireAuth.
func ownerOf(r *http.Request) storage.OwnerID {
	return storage.OwnerID(currentUser(r).ID)
}
