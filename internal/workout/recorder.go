package workout

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentworkforce/liftrelay/internal/docstore"
	"github.com/agentworkforce/liftrelay/internal/schema"
)

type RecordRequest struct {
	Subject string
	Date    string
	Item    string
}

type RecordResult struct {
	Subject         string
	Date            string
	Item            string
	DailyAlreadySet bool
	UserAlreadySet  bool
}

// AlreadyRecorded is true only when neither document needed a change.
func (r RecordResult) AlreadyRecorded() bool {
	return r.DailyAlreadySet && r.UserAlreadySet
}

func (r RecordRequest) Validate() error {
	if err := ValidateSubject(r.Subject); err != nil {
		return err
	}
	if _, err := ParseDate(r.Date); err != nil {
		return err
	}
	return validateItem(r.Item)
}

// Record marks item as done for subject on date in the daily aggregate and
// in the subject's own day document. Each write is independent and keeps the
// first timestamp it ever stored. The rotation schedule is then updated; a
// failure there is logged and does not fail the call.
func (s *Service) Record(ctx context.Context, req RecordRequest) (RecordResult, error) {
	req.Subject = strings.TrimSpace(req.Subject)
	req.Date = strings.TrimSpace(req.Date)
	req.Item = strings.TrimSpace(req.Item)
	if err := req.Validate(); err != nil {
		return RecordResult{}, err
	}
	result := RecordResult{Subject: req.Subject, Date: req.Date, Item: req.Item}
	stamp := s.timestamp()

	dailyPath := s.layout.DailyPath(req.Date)
	_, err := docstore.UpdateJSON(ctx, s.store, dailyPath, emptyDailyAggregate(req.Date), func(doc *DailyAggregate) (bool, error) {
		doc.ensure(req.Date)
		items := doc.Completions[req.Subject]
		if items == nil {
			items = map[string]bool{}
			doc.Completions[req.Subject] = items
		}
		stamps := doc.Timestamps[req.Subject]
		if stamps == nil {
			stamps = map[string]string{}
			doc.Timestamps[req.Subject] = stamps
		}
		result.DailyAlreadySet = items[req.Item]
		if result.DailyAlreadySet {
			return false, nil
		}
		items[req.Item] = true
		if _, ok := stamps[req.Item]; !ok {
			stamps[req.Item] = stamp
		}
		return true, s.validate(schema.DailyAggregate, doc)
	})
	if err != nil {
		return result, fmt.Errorf("record daily aggregate %s: %w", dailyPath, err)
	}

	// A day stored at the legacy location is folded into the canonical
	// document and then removed, so the two never coexist.
	legacyPath := s.layout.LegacyUserDayPath(req.Subject, req.Date)
	legacy, legacyVersion, err := docstore.GetOrDefault(ctx, s.store, legacyPath, emptyUserDay(req.Subject, req.Date))
	if err != nil {
		return result, fmt.Errorf("read legacy user day: %w", err)
	}
	userPath := s.layout.UserDayPath(req.Subject, req.Date)
	_, err = docstore.UpdateJSON(ctx, s.store, userPath, emptyUserDay(req.Subject, req.Date), func(doc *UserDay) (bool, error) {
		doc.ensure(req.Subject, req.Date)
		changed := legacyVersion != "" && doc.absorb(legacy)
		result.UserAlreadySet = doc.Has(req.Item)
		if !result.UserAlreadySet {
			doc.Completed = append(doc.Completed, req.Item)
			if _, ok := doc.Timestamps[req.Item]; !ok {
				doc.Timestamps[req.Item] = stamp
			}
			changed = true
		}
		if !changed {
			return false, nil
		}
		return true, s.validate(schema.UserDay, doc)
	})
	if err != nil {
		return result, fmt.Errorf("record user day %s: %w", userPath, err)
	}
	if legacyVersion != "" {
		if _, err := docstore.DeletePath(ctx, s.store, legacyPath); err != nil {
			s.logf("removing legacy day %s failed: %v", legacyPath, err)
		}
	}

	action := ActionCompleted
	if req.Item == ItemSkip {
		action = ActionSkipped
	}
	if err := s.MarkRotation(ctx, req.Subject, req.Date, action); err != nil {
		s.logf("rotation update for %s on %s failed: %v", req.Subject, req.Date, err)
	}
	return result, nil
}
