package workout

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	ItemAll  = "ALL"
	ItemSkip = "SKIP"
)

// DailyAggregate is the per-date document shared by every subject.
type DailyAggregate struct {
	Date        string                       `json:"date"`
	Completions map[string]map[string]bool   `json:"completions"`
	Timestamps  map[string]map[string]string `json:"timestamps"`
}

func emptyDailyAggregate(date string) func() DailyAggregate {
	return func() DailyAggregate {
		return DailyAggregate{
			Date:        date,
			Completions: map[string]map[string]bool{},
			Timestamps:  map[string]map[string]string{},
		}
	}
}

func (d *DailyAggregate) ensure(date string) {
	if d.Date == "" {
		d.Date = date
	}
	if d.Completions == nil {
		d.Completions = map[string]map[string]bool{}
	}
	if d.Timestamps == nil {
		d.Timestamps = map[string]map[string]string{}
	}
}

// UserDay is one subject's record for one date.
type UserDay struct {
	Date       string            `json:"date"`
	User       string            `json:"user"`
	Completed  []string          `json:"completed"`
	Timestamps map[string]string `json:"timestamps"`
}

func emptyUserDay(subject, date string) func() UserDay {
	return func() UserDay {
		return UserDay{Date: date, User: subject, Completed: []string{}, Timestamps: map[string]string{}}
	}
}

func (u *UserDay) ensure(subject, date string) {
	if u.Date == "" {
		u.Date = date
	}
	if u.User == "" {
		u.User = subject
	}
	if u.Completed == nil {
		u.Completed = []string{}
	}
	if u.Timestamps == nil {
		u.Timestamps = map[string]string{}
	}
}

// absorb adds the items of other that u lacks, keeping u's timestamps. It
// reports whether u changed.
func (u *UserDay) absorb(other UserDay) bool {
	changed := false
	for _, item := range other.Completed {
		if u.Has(item) {
			continue
		}
		u.Completed = append(u.Completed, item)
		if stamp, ok := other.Timestamps[item]; ok {
			if _, exists := u.Timestamps[item]; !exists {
				u.Timestamps[item] = stamp
			}
		}
		changed = true
	}
	return changed
}

func (u UserDay) Has(item string) bool {
	for _, existing := range u.Completed {
		if existing == item {
			return true
		}
	}
	return false
}

// Worked reports whether the day holds anything other than a skip.
func (u UserDay) Worked() bool {
	for _, item := range u.Completed {
		if item != ItemSkip {
			return true
		}
	}
	return false
}

type PlanDay struct {
	Title         string     `json:"title"`
	TargetMuscles []string   `json:"target_muscles"`
	Exercises     []Exercise `json:"exercises"`
}

type Exercise struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Sets Amount `json:"sets,omitempty"`
	Reps Amount `json:"reps,omitempty"`
}

// Amount holds a set or rep prescription. Whole numbers are stored as JSON
// numbers and anything else ("8-10", "AMRAP") as strings.
type Amount string

func (a Amount) MarshalJSON() ([]byte, error) {
	s := strings.TrimSpace(string(a))
	if n, err := strconv.Atoi(s); err == nil {
		return []byte(strconv.Itoa(n)), nil
	}
	return json.Marshal(s)
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*a = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Amount(strings.TrimSpace(s))
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("amount must be a number or string: %w", err)
		}
		*a = Amount(n.String())
	}
	return nil
}

type Action string

const (
	ActionNone      Action = "NONE"
	ActionCompleted Action = "COMPLETED"
	ActionSkipped   Action = "SKIPPED"
)

// ScheduleState is a subject's position in their rotation of plan days.
type ScheduleState struct {
	CurrentIndex   int     `json:"current_index"`
	LastAction     Action  `json:"last_action"`
	LastActionDate *string `json:"last_action_date"`
}

func emptySchedule() ScheduleState {
	return ScheduleState{LastAction: ActionNone}
}
