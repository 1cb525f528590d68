package httpapi

import (
	"net/url"
	"strings"

	"github.com/agentworkforce/liftrelay/internal/capability"
	"github.com/agentworkforce/liftrelay/internal/workout"
)

const (
	RecordPath   = "/record"
	DeletePath   = "/delete"
	PlanPath     = "/plan"
	ActivityPath = "/activity"
)

type Link struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Links mints the signed action URLs served by this package.
type Links struct {
	Base   string
	Minter capability.Minter
}

func (l Links) endpoint(p string) string {
	return strings.TrimRight(l.Base, "/") + p
}

func (l Links) Record(subject, date, item string) (string, error) {
	return l.Minter.Link(l.endpoint(RecordPath), capability.Params{
		capability.ParamSubject: subject,
		"d":                     date,
		"ex":                    item,
	})
}

func (l Links) Delete(req workout.DeleteRequest) (string, error) {
	return l.Minter.Link(l.endpoint(DeletePath), req.Params())
}

func (l Links) Plan(subject string) (string, error) {
	return l.Minter.Link(l.endpoint(PlanPath), capability.Params{capability.ParamSubject: subject})
}

// Activity is unsigned; the report is read-only.
func (l Links) Activity(subject string) string {
	return l.endpoint(ActivityPath) + "?" + capability.ParamSubject + "=" + url.QueryEscape(subject)
}

// Daily returns the links a daily reminder carries for one plan day: one
// per exercise, then all, skip, plan editing, activity and the three
// deletion scopes.
func (l Links) Daily(subject, date string, day workout.PlanDay) ([]Link, error) {
	var out []Link
	add := func(label string, build func() (string, error)) error {
		u, err := build()
		if err != nil {
			return err
		}
		out = append(out, Link{Label: label, URL: u})
		return nil
	}
	for _, ex := range day.Exercises {
		ex := ex
		if err := add("Done: "+ex.Name, func() (string, error) { return l.Record(subject, date, ex.ID) }); err != nil {
			return nil, err
		}
	}
	steps := []struct {
		label string
		build func() (string, error)
	}{
		{"Completed all", func() (string, error) { return l.Record(subject, date, workout.ItemAll) }},
		{"Skip today", func() (string, error) { return l.Record(subject, date, workout.ItemSkip) }},
		{"Customize plan", func() (string, error) { return l.Plan(subject) }},
		{"My activity", func() (string, error) { return l.Activity(subject), nil }},
		{"Delete this day", func() (string, error) {
			return l.Delete(workout.DeleteRequest{Subject: subject, Scope: workout.ScopeDay, Date: date})
		}},
		{"Delete this month", func() (string, error) {
			return l.Delete(workout.DeleteRequest{Subject: subject, Scope: workout.ScopeMonth, Year: date[:4], Month: date[5:7]})
		}},
		{"Delete all history", func() (string, error) {
			return l.Delete(workout.DeleteRequest{Subject: subject, Scope: workout.ScopeAll})
		}},
	}
	for _, step := range steps {
		if err := add(step.label, step.build); err != nil {
			return nil, err
		}
	}
	return out, nil
}
