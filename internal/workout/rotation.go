package workout

import (
	"context"
	"fmt"
	"time"

	"github.com/agentworkforce/liftrelay/internal/docstore"
	"github.com/agentworkforce/liftrelay/internal/schema"
)

// AdvanceSchedule moves the rotation for a new calendar day. The index
// advances once per day, except that a day skipped yesterday is offered
// again. A new day starts from a NONE action; the same day keeps its action.
func AdvanceSchedule(state ScheduleState, today string, total int) ScheduleState {
	if total < 1 {
		total = 1
	}
	next := state
	next.CurrentIndex = ((state.CurrentIndex % total) + total) % total
	if next.LastAction == "" {
		next.LastAction = ActionNone
	}
	lastDate := ""
	if state.LastActionDate != nil {
		lastDate = *state.LastActionDate
	}
	if lastDate != today {
		frozen := false
		if day, err := time.Parse(DateLayout, today); err == nil {
			yesterday := day.AddDate(0, 0, -1).Format(DateLayout)
			frozen = state.LastAction == ActionSkipped && lastDate == yesterday
		}
		if !frozen {
			next.CurrentIndex = (next.CurrentIndex + 1) % total
		}
		next.LastAction = ActionNone
	}
	todayCopy := today
	next.LastActionDate = &todayCopy
	return next
}

// PickDay returns the index of today's plan day out of total and persists
// the advanced schedule.
func (s *Service) PickDay(ctx context.Context, subject, today string, total int) (int, error) {
	if err := ValidateSubject(subject); err != nil {
		return 0, err
	}
	if _, err := ParseDate(today); err != nil {
		return 0, err
	}
	var index int
	_, err := docstore.UpdateJSON(ctx, s.store, s.layout.SchedulePath(subject), emptySchedule, func(doc *ScheduleState) (bool, error) {
		next := AdvanceSchedule(*doc, today, total)
		index = next.CurrentIndex
		if sameSchedule(*doc, next) {
			return false, nil
		}
		*doc = next
		return true, s.validate(schema.Schedule, doc)
	})
	if err != nil {
		return 0, fmt.Errorf("pick day for %s: %w", subject, err)
	}
	return index, nil
}

// MarkRotation records the outcome of date for the subject's rotation.
func (s *Service) MarkRotation(ctx context.Context, subject, date string, action Action) error {
	_, err := docstore.UpdateJSON(ctx, s.store, s.layout.SchedulePath(subject), emptySchedule, func(doc *ScheduleState) (bool, error) {
		next := *doc
		next.LastAction = action
		dateCopy := date
		next.LastActionDate = &dateCopy
		if sameSchedule(*doc, next) {
			return false, nil
		}
		*doc = next
		return true, s.validate(schema.Schedule, doc)
	})
	return err
}

// Schedule reads the subject's rotation state.
func (s *Service) Schedule(ctx context.Context, subject string) (ScheduleState, error) {
	state, _, err := docstore.GetOrDefault(ctx, s.store, s.layout.SchedulePath(subject), emptySchedule)
	return state, err
}

func sameSchedule(a, b ScheduleState) bool {
	if a.CurrentIndex != b.CurrentIndex || a.LastAction != b.LastAction {
		return false
	}
	if (a.LastActionDate == nil) != (b.LastActionDate == nil) {
		return false
	}
	return a.LastActionDate == nil || *a.LastActionDate == *b.LastActionDate
}
