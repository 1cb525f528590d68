package workout

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/agentworkforce/liftrelay/internal/docstore"
)

type DayPlan struct {
	Index int
	Total int
	Day   PlanDay
	// Custom is set when the day comes from the subject's own plan.
	Custom bool
}

// TodayPlan advances the subject's rotation and returns the day to offer.
// The subject's own plan days are used when present, otherwise the shared
// default days named by defaults.
func (s *Service) TodayPlan(ctx context.Context, subject, today string, defaults []string) (DayPlan, error) {
	days, err := s.LoadPlan(ctx, subject)
	if err != nil {
		return DayPlan{}, err
	}
	if len(days) > 0 {
		idx, err := s.PickDay(ctx, subject, today, len(days))
		if err != nil {
			return DayPlan{}, err
		}
		return DayPlan{Index: idx, Total: len(days), Day: withExerciseIDs(days[idx]), Custom: true}, nil
	}
	if len(defaults) == 0 {
		return DayPlan{}, fmt.Errorf("%w: no plan days and no default rotation", ErrInvalidArgument)
	}
	idx, err := s.PickDay(ctx, subject, today, len(defaults))
	if err != nil {
		return DayPlan{}, err
	}
	title := defaults[idx]
	day := PlanDay{Title: title, TargetMuscles: []string{}, Exercises: []Exercise{}}
	if _, err := docstore.GetJSON(ctx, s.store, s.layout.DefaultSplitPath(title), &day); err != nil && !docstore.IsNotFound(err) {
		return DayPlan{}, err
	}
	if strings.TrimSpace(day.Title) == "" {
		day.Title = title
	}
	return DayPlan{Index: idx, Total: len(defaults), Day: withExerciseIDs(day)}, nil
}

func withExerciseIDs(day PlanDay) PlanDay {
	out := day
	out.Exercises = make([]Exercise, len(day.Exercises))
	for i, ex := range day.Exercises {
		if strings.TrimSpace(ex.Name) == "" {
			ex.Name = "Exercise " + strconv.Itoa(i+1)
		}
		if strings.TrimSpace(ex.ID) == "" {
			ex.ID = Slug(ex.Name + "-" + strconv.Itoa(i+1))
		}
		out.Exercises[i] = ex
	}
	return out
}
