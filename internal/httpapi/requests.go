package httpapi

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/agentworkforce/liftrelay/internal/capability"
	"github.com/agentworkforce/liftrelay/internal/workout"
)

const (
	maxPlanDays      = 14
	maxPlanExercises = 40
)

// field describes one query or form field an endpoint reads.
type field struct {
	name     string
	required bool
}

type signedRequest struct {
	params capability.Params
	token  string
}

// readSigned collects the named fields into the parameter set the token is
// checked against. Required fields must be present and non-empty, and the
// issuance time must be numeric.
func readSigned(values url.Values, fields ...field) (signedRequest, error) {
	names := make([]string, 0, len(fields)+1)
	for _, f := range fields {
		if f.required && strings.TrimSpace(values.Get(f.name)) == "" {
			return signedRequest{}, fmt.Errorf("%w: %s", capability.ErrMissingParameter, f.name)
		}
		names = append(names, f.name)
	}
	names = append(names, capability.ParamIssuedAt)
	params := capability.FromValues(values, names...)
	if _, ok := params[capability.ParamIssuedAt]; !ok {
		return signedRequest{}, fmt.Errorf("%w: %s", capability.ErrMissingParameter, capability.ParamIssuedAt)
	}
	if _, err := capability.ParseIssuedAt(params[capability.ParamIssuedAt]); err != nil {
		return signedRequest{}, err
	}
	token := strings.TrimSpace(values.Get(capability.ParamToken))
	if token == "" {
		return signedRequest{}, fmt.Errorf("%w: %s", capability.ErrMissingParameter, capability.ParamToken)
	}
	return signedRequest{params: params, token: token}, nil
}

func parseRecord(values url.Values) (workout.RecordRequest, signedRequest, error) {
	signed, err := readSigned(values,
		field{name: capability.ParamSubject, required: true},
		field{name: "d", required: true},
		field{name: "ex", required: true},
	)
	if err != nil {
		return workout.RecordRequest{}, signed, err
	}
	req := workout.RecordRequest{
		Subject: signed.params[capability.ParamSubject],
		Date:    signed.params["d"],
		Item:    signed.params["ex"],
	}
	return req, signed, nil
}

func parseDelete(values url.Values) (workout.DeleteRequest, signedRequest, error) {
	if strings.TrimSpace(values.Get(capability.ParamSubject)) == "" {
		return workout.DeleteRequest{}, signedRequest{}, fmt.Errorf("%w: %s", capability.ErrMissingParameter, capability.ParamSubject)
	}
	scope, err := workout.ParseScope(values.Get("scope"))
	if err != nil {
		return workout.DeleteRequest{}, signedRequest{}, err
	}
	fields := []field{{name: capability.ParamSubject, required: true}, {name: "scope", required: true}}
	switch scope {
	case workout.ScopeDay:
		fields = append(fields, field{name: "d", required: true})
	case workout.ScopeMonth:
		fields = append(fields, field{name: "y", required: true}, field{name: "m", required: true})
	}
	signed, err := readSigned(values, fields...)
	if err != nil {
		return workout.DeleteRequest{}, signed, err
	}
	// The scope is signed in its canonical lower-case form.
	signed.params["scope"] = string(scope)
	req := workout.DeleteRequest{
		Subject: signed.params[capability.ParamSubject],
		Scope:   scope,
		Date:    signed.params["d"],
		Year:    signed.params["y"],
		Month:   signed.params["m"],
	}
	if err := req.Validate(); err != nil {
		return req, signed, err
	}
	return req, signed, nil
}

func parsePlanAccess(values url.Values) (string, signedRequest, error) {
	signed, err := readSigned(values, field{name: capability.ParamSubject, required: true})
	if err != nil {
		return "", signed, err
	}
	return signed.params[capability.ParamSubject], signed, nil
}

var (
	dayFieldPattern      = regexp.MustCompile(`^days\[(\d+)\]\[(title|target_muscles)\](\[\])?$`)
	exerciseFieldPattern = regexp.MustCompile(`^days\[(\d+)\]\[exercises\]\[(\d+)\]\[(id|name|sets|reps)\]$`)
)

// parsePlanForm groups bracketed form fields into plan days ordered by
// their day and exercise indexes:
//
//	days[0][title]=Push Day
//	days[0][target_muscles]=chest, triceps
//	days[0][exercises][0][name]=Bench Press
func parsePlanForm(form url.Values) ([]workout.PlanInput, error) {
	type dayDraft struct {
		input     workout.PlanInput
		exercises map[int]*workout.ExerciseInput
	}
	days := map[int]*dayDraft{}
	draft := func(raw string) (*dayDraft, error) {
		idx, err := strconv.Atoi(raw)
		if err != nil || idx >= maxPlanDays {
			return nil, fmt.Errorf("%w: day index %s out of range", workout.ErrInvalidArgument, raw)
		}
		d := days[idx]
		if d == nil {
			d = &dayDraft{exercises: map[int]*workout.ExerciseInput{}}
			days[idx] = d
		}
		return d, nil
	}

	for key, values := range form {
		if m := dayFieldPattern.FindStringSubmatch(key); m != nil {
			d, err := draft(m[1])
			if err != nil {
				return nil, err
			}
			switch m[2] {
			case "title":
				d.input.Title = values[0]
			case "target_muscles":
				d.input.TargetMuscles = append(d.input.TargetMuscles, values...)
			}
			continue
		}
		m := exerciseFieldPattern.FindStringSubmatch(key)
		if m == nil {
			continue
		}
		d, err := draft(m[1])
		if err != nil {
			return nil, err
		}
		exIdx, err := strconv.Atoi(m[2])
		if err != nil || exIdx >= maxPlanExercises {
			return nil, fmt.Errorf("%w: exercise index %s out of range", workout.ErrInvalidArgument, m[2])
		}
		ex := d.exercises[exIdx]
		if ex == nil {
			ex = &workout.ExerciseInput{}
			d.exercises[exIdx] = ex
		}
		switch m[3] {
		case "id":
			ex.ID = values[0]
		case "name":
			ex.Name = values[0]
		case "sets":
			ex.Sets = values[0]
		case "reps":
			ex.Reps = values[0]
		}
	}

	out := make([]workout.PlanInput, 0, len(days))
	for _, dayIdx := range sortedKeys(days) {
		d := days[dayIdx]
		for _, exIdx := range sortedKeys(d.exercises) {
			d.input.Exercises = append(d.input.Exercises, *d.exercises[exIdx])
		}
		out = append(out, d.input)
	}
	return out, nil
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
