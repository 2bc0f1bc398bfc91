package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jmcleod/goaltracker/storage"
	"github.com/jmcleod/goaltracker/tracker"
	"github.com/jmcleod/goaltracker/web"
)

const (
	csrfMessage     = "Your form session has expired or the CSRF token was invalid. Please try again."
	notFoundMessage = "The page you are looking for does not exist."
	internalMessage = "Something went wrong on our side. Please try again later."
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// page returns the template data shared by every page.
func (a *API) page(r *http.Request, title string) web.Page {
	return web.Page{
		Title:     title,
		User:      currentUser(r),
		CSRFToken: a.csrfToken(r),
		DevMode:   a.devMode,
	}
}

// render executes a page and only then commits status, so a template
// failure still produces a clean 500.
func (a *API) render(w http.ResponseWriter, r *http.Request, status int, name string, p web.Page) {
	var buf bytes.Buffer
	if err := a.pages.Render(&buf, name, p); err != nil {
		a.logger.ErrorContext(r.Context(), "rendering page", "page", name, "error", err)
		http.Error(w, internalMessage, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// renderError translates err into the error page. Only development mode
// shows the underlying error text for unexpected failures.
func (a *API) renderError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		status int
		title  string
		msg    string
	)
	switch {
	case errors.Is(err, ErrCSRF):
		status, title, msg = http.StatusForbidden, "Invalid CSRF token", csrfMessage
	case errors.Is(err, storage.ErrNotFound):
		status, title, msg = http.StatusNotFound, "Page Not Found", notFoundMessage
	case errors.Is(err, tracker.ErrValidation):
		status, title, msg = http.StatusUnprocessableEntity, "Invalid input", err.Error()
	default:
		status, title, msg = http.StatusInternalServerError, "Error", internalMessage
		a.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
	}
	p := a.page(r, title)
	p.Data = msg
	if status == http.StatusInternalServerError && a.devMode {
		p.Detail = err.Error()
	}
	a.render(w, r, status, "error", p)
}

// validationErrors extracts field messages, or nil when err is not a
// validation failure.
func validationErrors(err error) map[string]string {
	var verr *tracker.ValidationError
	if errors.As(err, &verr) {
		return verr.Messages()
	}
	return nil
}
