package workout

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/agentworkforce/liftrelay/internal/docstore"
	"github.com/agentworkforce/liftrelay/internal/schema"
)

type PlanInput struct {
	Title         string
	TargetMuscles []string
	Exercises     []ExerciseInput
}

type ExerciseInput struct {
	ID   string
	Name string
	Sets string
	Reps string
}

type SavePlanResult struct {
	Written int
	Skipped int
	Paths   []string
}

// NormalizePlan turns raw day inputs into plan documents. Exercises without
// a name or id are dropped, then days without a title or without exercises.
// A missing exercise id becomes the slug of "<name>-<position>".
func NormalizePlan(days []PlanInput) []PlanDay {
	out := make([]PlanDay, 0, len(days))
	for _, day := range days {
		title := strings.TrimSpace(day.Title)
		if title == "" {
			continue
		}
		plan := PlanDay{Title: title, TargetMuscles: []string{}, Exercises: []Exercise{}}
		for _, muscle := range day.TargetMuscles {
			for _, part := range strings.Split(muscle, ",") {
				if part = strings.TrimSpace(part); part != "" {
					plan.TargetMuscles = append(plan.TargetMuscles, part)
				}
			}
		}
		for _, ex := range day.Exercises {
			name := strings.TrimSpace(ex.Name)
			id := strings.TrimSpace(ex.ID)
			if name == "" && id == "" {
				continue
			}
			position := len(plan.Exercises) + 1
			if name == "" {
				name = "Exercise " + strconv.Itoa(position)
			}
			if id == "" {
				id = Slug(name + "-" + strconv.Itoa(position))
			}
			plan.Exercises = append(plan.Exercises, Exercise{
				ID:   id,
				Name: name,
				Sets: Amount(strings.TrimSpace(ex.Sets)),
				Reps: Amount(strings.TrimSpace(ex.Reps)),
			})
		}
		if len(plan.Exercises) == 0 {
			continue
		}
		out = append(out, plan)
	}
	return out
}

// SavePlan writes one document per surviving day under the subject's plan
// directory. Documents whose stored bytes already match are left alone.
func (s *Service) SavePlan(ctx context.Context, subject string, days []PlanInput) (SavePlanResult, error) {
	subject = strings.TrimSpace(subject)
	if err := ValidateSubject(subject); err != nil {
		return SavePlanResult{}, err
	}
	plans := NormalizePlan(days)
	if len(plans) == 0 {
		return SavePlanResult{}, ErrNoValidDays
	}
	var result SavePlanResult
	for _, plan := range plans {
		if err := s.validate(schema.PlanDay, plan); err != nil {
			return result, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		content, err := docstore.MarshalDocument(plan)
		if err != nil {
			return result, err
		}
		p := s.layout.PlanPath(subject, plan.Title)
		written, err := docstore.PutIfChanged(ctx, s.store, p, content)
		if err != nil {
			return result, fmt.Errorf("save plan day %s: %w", p, err)
		}
		if written {
			result.Written++
			result.Paths = append(result.Paths, p)
		} else {
			result.Skipped++
		}
	}
	s.logf("plan for %s: %d written, %d unchanged", subject, result.Written, result.Skipped)
	return result, nil
}

// LoadPlan returns the subject's plan days ordered by document name. A
// subject with no plan directory has no days.
func (s *Service) LoadPlan(ctx context.Context, subject string) ([]PlanDay, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}
	entries, err := s.store.List(ctx, s.layout.PlanDir(subject))
	if docstore.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	var days []PlanDay
	for _, entry := range entries {
		if entry.Type != docstore.EntryFile || path.Ext(entry.Name) != ".json" {
			continue
		}
		var day PlanDay
		if _, err := docstore.GetJSON(ctx, s.store, entry.Path, &day); err != nil {
			if docstore.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		days = append(days, day)
	}
	return days, nil
}
