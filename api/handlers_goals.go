package api

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/goaltracker/storage"
	"github.com/jmcleod/goaltracker/tracker"
)

type goalList struct {
	Goals      []storage.Goal
	HasMore    bool
	NextOffset int
	Limit      int
}

// goalShow is the detail page with the two inline forms.
type goalShow struct {
	Detail    *tracker.GoalDetail
	Milestone tracker.MilestoneForm
	Log       tracker.LogForm
}

func goalPath(id string) string { return "/goals/" + id }

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func (a *API) ListGoals(w http.ResponseWriter, r *http.Request) {
	goals, err := a.gateway.ListGoals(r.Context(), ownerOf(r))
	if err != nil {
		a.renderError(w, r, err)
		return
	}
	limit, offset := parsePagination(r)
	start, end, info := paginateSlice(len(goals), limit, offset)

	p := a.page(r, "Goals")
	p.Data = goalList{
		Goals:      goals[start:end],
		HasMore:    info.HasMore,
		NextOffset: info.NextOffset,
		Limit:      info.Limit,
	}
	a.render(w, r, http.StatusOK, "goals/index", p)
}

func (a *API) NewGoal(w http.ResponseWriter, r *http.Request) {
	p := a.page(r, "New Goal")
	p.Values = tracker.GoalForm{}
	a.render(w, r, http.StatusOK, "goals/new", p)
}

func (a *API) CreateGoal(w http.ResponseWriter, r *http.Request) {
	form := tracker.GoalFormFromValues(postForm(r))
	id, err := a.gateway.CreateGoal(r.Context(), ownerOf(r), form)
	if errs := validationErrors(err); errs != nil {
		p := a.page(r, "New Goal")
		p.Values = form
		p.Errors = errs
		a.render(w, r, http.StatusUnprocessableEntity, "goals/new", p)
		return
	}
	if err != nil {
		a.renderError(w, r, err)
		return
	}
	a.audit.logEvent(AuditGoalCreated, r, currentUser(r).ID, slog.String("goal_id", id))
	http.Redirect(w, r, goalPath(id), http.StatusFound)
}

func (a *API) ShowGoal(w http.ResponseWriter, r *http.Request) {
	a.renderGoal(w, r, http.StatusOK, goalShow{}, nil)
}

// renderGoal reloads the goal and renders the detail page, echoing forms and
// errors from a failed inline submission.
func (a *API) renderGoal(w http.ResponseWriter, r *http.Request, status int, show goalShow, errs map[string]string) {
	detail, err := a.gateway.GoalDetail(r.Context(), ownerOf(r), chi.URLParam(r, "goalID"))
	if err != nil {
		a.renderError(w, r, err)
		return
	}
	show.Detail = detail
	p := a.page(r, detail.Goal.Title)
	p.Data = show
	p.Errors = errs
	a.render(w, r, status, "goals/show", p)
}

func (a *API) EditGoal(w http.ResponseWriter, r *http.Request) {
	g, err := a.gateway.Goal(r.Context(), ownerOf(r), chi.URLParam(r, "goalID"))
	if err != nil {
		a.renderError(w, r, err)
		return
	}
	p := a.page(r, "Edit: "+g.Title)
	p.Values = tracker.GoalFormFromGoal(*g)
	p.Data = g.ID
	a.render(w, r, http.StatusOK, "goals/edit", p)
}

func (a *API) UpdateGoal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "goalID")
	form := tracker.GoalFormFromValues(postForm(r))
	err := a.gateway.UpdateGoal(r.Context(), ownerOf(r), id, form)
	if errs := validationErrors(err); errs != nil {
		// Confirm ownership before echoing anything back.
		if _, err := a.gateway.Goal(r.Context(), ownerOf(r), id); err != nil {
			a.renderError(w, r, err)
			return
		}
		p := a.page(r, "Edit Goal")
		p.Values = form
		p.Errors = errs
		p.Data = id
		a.render(w, r, http.StatusUnprocessableEntity, "goals/edit", p)
		return
	}
	if err != nil {
		a.renderError(w, r, err)
		return
	}
	a.audit.logEvent(AuditGoalUpdated, r, currentUser(r).ID, slog.String("goal_id", id))
	http.Redirect(w, r, goalPath(id), http.StatusFound)
}

func (a *API) DeleteGoal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "goalID")
	if err := a.gateway.DeleteGoal(r.Context(), ownerOf(r), id); err != nil {
		a.renderError(w, r, err)
		return
	}
	a.audit.logEvent(AuditGoalDeleted, r, currentUser(r).ID, slog.String("goal_id", id))
	http.Redirect(w, r, "/goals", http.StatusFound)
}

func (a *API) ListMilestones(w http.ResponseWriter, r *http.Request) {
	a.renderGoalChildren(w, r, "goals/milestones", "Milestones")
}

func (a *API) ListLogs(w http.ResponseWriter, r *http.Request) {
	a.renderGoalChildren(w, r, "goals/logs", "Progress log")
}

func (a *API) renderGoalChildren(w http.ResponseWriter, r *http.Request, name, title string) {
	detail, err := a.gateway.GoalDetail(r.Context(), ownerOf(r), chi.URLParam(r, "goalID"))
	if err != nil {
		a.renderError(w, r, err)
		return
	}
	p := a.page(r, title+": "+detail.Goal.Title)
	p.Data = detail
	a.render(w, r, http.StatusOK, name, p)
}

func (a *API) CreateMilestone(w http.ResponseWriter, r *http.Request) {
	goalID := chi.URLParam(r, "goalID")
	form := tracker.MilestoneFormFromValues(postForm(r))
	id, err := a.gateway.AddMilestone(r.Context(), ownerOf(r), goalID, form)
	if errs := validationErrors(err); errs != nil {
		a.renderGoal(w, r, http.StatusUnprocessableEntity, goalShow{Milestone: form}, errs)
		return
	}
	if err != nil {
		a.renderError(w, r, err)
		return
	}
	a.audit.logEvent(AuditMilestoneCreated, r, currentUser(r).ID,
		slog.String("goal_id", goalID), slog.String("milestone_id", id))
	http.Redirect(w, r, goalPath(goalID), http.StatusFound)
}

// ToggleMilestone flips completion. Clients asking for JSON get the new
// state instead of a redirect.
func (a *API) ToggleMilestone(w http.ResponseWriter, r *http.Request) {
	goalID := chi.URLParam(r, "goalID")
	id := chi.URLParam(r, "milestoneID")
	complete, err := a.gateway.ToggleMilestone(r.Context(), ownerOf(r), goalID, id)
	if err != nil {
		a.renderError(w, r, err)
		return
	}
	a.audit.logEvent(AuditMilestoneToggled, r, currentUser(r).ID,
		slog.String("milestone_id", id), slog.Bool("complete", complete))
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "complete": complete})
		return
	}
	http.Redirect(w, r, goalPath(goalID), http.StatusFound)
}

func (a *API) DeleteMilestone(w http.ResponseWriter, r *http.Request) {
	goalID := chi.URLParam(r, "goalID")
	id := chi.URLParam(r, "milestoneID")
	if err := a.gateway.DeleteMilestone(r.Context(), ownerOf(r), goalID, id); err != nil {
		a.renderError(w, r, err)
		return
	}
	a.audit.logEvent(AuditMilestoneDeleted, r, currentUser(r).ID, slog.String("milestone_id", id))
	http.Redirect(w, r, goalPath(goalID), http.StatusFound)
}

func (a *API) CreateLog(w http.ResponseWriter, r *http.Request) {
	goalID := chi.URLParam(r, "goalID")
	form := tracker.LogFormFromValues(postForm(r))
	id, err := a.gateway.AddLog(r.Context(), ownerOf(r), goalID, form)
	if errs := validationErrors(err); errs != nil {
		a.renderGoal(w, r, http.StatusUnprocessableEntity, goalShow{Log: form}, errs)
		return
	}
	if err != nil {
		a.renderError(w, r, err)
		return
	}
	a.audit.logEvent(AuditLogCreated, r, currentUser(r).ID,
		slog.String("goal_id", goalID), slog.String("log_id", id))
	http.Redirect(w, r, goalPath(goalID), http.StatusFound)
}

func (a *API) DeleteLog(w http.ResponseWriter, r *http.Request) {
	goalID := chi.URLParam(r, "goalID")
	id := chi.URLParam(r, "logID")
	if err := a.gateway.DeleteLog(r.Context(), ownerOf(r), goalID, id); err != nil {
		a.renderError(w, r, err)
		return
	}
	a.audit.logEvent(AuditLogDeleted, r, currentUser(r).ID, slog.String("log_id", id))
	http.Redirect(w, r, goalPath(goalID), http.StatusFound)
}

// postForm returns the parsed body. CSRFMiddleware has usually parsed it
// already.
func postForm(r *http.Request) url.Values {
	_ = r.ParseForm()
	return r.PostForm
}
