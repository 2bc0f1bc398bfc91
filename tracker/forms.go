package tracker

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/jmcleod/goaltracker/storage"
)

// GoalForm is the submitted goal form, kept as raw strings so invalid input
// can be echoed back unchanged.
type GoalForm struct {
	Title       string `form:"title" label:"Title" validate:"required,max=200"`
	Description string `form:"description" label:"Description" validate:"max=5000"`
	TargetDate  string `form:"targetDate" label:"Target date" validate:"omitempty,isodate"`
	Progress    string `form:"progress" label:"Progress" validate:"omitempty,percent"`
	Archived    bool   `form:"archived"`
}

// GoalFormFromValues reads a GoalForm from posted values, trimming text.
func GoalFormFromValues(v url.Values) GoalForm {
	archived := v.Get("archived")
	return GoalForm{
		Title:       strings.TrimSpace(v.Get("title")),
		Description: strings.TrimSpace(v.Get("description")),
		TargetDate:  strings.TrimSpace(v.Get("targetDate")),
		Progress:    strings.TrimSpace(v.Get("progress")),
		Archived:    archived != "" && archived != "false" && archived != "0",
	}
}

// GoalFormFromGoal prefills an edit form.
func GoalFormFromGoal(g storage.Goal) GoalForm {
	return GoalForm{
		Title:       g.Title,
		Description: g.Description,
		TargetDate:  FormatDate(g.TargetDate),
		Progress:    strconv.Itoa(g.Progress),
		Archived:    g.Archived,
	}
}

func (f GoalForm) fields() storage.GoalFields {
	progress, _ := strconv.Atoi(f.Progress)
	return storage.GoalFields{
		Title:       f.Title,
		Description: f.Description,
		TargetDate:  parseDate(f.TargetDate),
		Progress:    progress,
		Archived:    f.Archived,
	}
}

// MilestoneForm is the submitted milestone form.
type MilestoneForm struct {
	Title string `form:"title" label:"Title" validate:"required,max=200"`
	Due   string `form:"due" label:"Due date" validate:"omitempty,isodate"`
}

// MilestoneFormFromValues reads a MilestoneForm from posted values.
func MilestoneFormFromValues(v url.Values) MilestoneForm {
	return MilestoneForm{
		Title: strings.TrimSpace(v.Get("title")),
		Due:   strings.TrimSpace(v.Get("due")),
	}
}

func (f MilestoneForm) fields() storage.MilestoneFields {
	return storage.MilestoneFields{Title: f.Title, Due: parseDate(f.Due)}
}

// LogForm is the submitted progress log form.
type LogForm struct {
	Note        string `form:"note" label:"Note" validate:"required,max=2000"`
	MetricName  string `form:"metricName" label:"Metric name" validate:"max=100"`
	MetricValue string `form:"metricValue" label:"Metric value" validate:"omitempty,numeric"`
}

// LogFormFromValues reads a LogForm from posted values.
func LogFormFromValues(v url.Values) LogForm {
	return LogForm{
		Note:        strings.TrimSpace(v.Get("note")),
		MetricName:  strings.TrimSpace(v.Get("metricName")),
		MetricValue: strings.TrimSpace(v.Get("metricValue")),
	}
}

func (f LogForm) fields() storage.LogFields {
	out := storage.LogFields{Note: f.Note, MetricName: f.MetricName}
	if f.MetricValue != "" {
		if v, err := strconv.ParseFloat(f.MetricValue, 64); err == nil {
			out.MetricValue = &v
		}
	}
	return out
}
