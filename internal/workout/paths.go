package workout

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const DateLayout = "2006-01-02"

var (
	datePattern  = regexp.MustCompile(`^[0-9]{4}-[0-9]{2}-[0-9]{2}$`)
	yearPattern  = regexp.MustCompile(`^[0-9]{4}$`)
	monthPattern = regexp.MustCompile(`^[0-9]{2}$`)
	legacyMonth  = regexp.MustCompile(`^[0-9]{4}-[0-9]{2}$`)
)

// Layout names the roots of every document family in the store.
type Layout struct {
	HistoryRoot   string
	StateRoot     string
	PlansRoot     string
	SchedulesRoot string
	SplitsRoot    string
}

func DefaultLayout() Layout {
	return Layout{
		HistoryRoot:   "User History",
		StateRoot:     "state",
		PlansRoot:     "workout_splits",
		SchedulesRoot: "schedules",
		SplitsRoot:    "splits",
	}
}

func (l Layout) DailyPath(date string) string {
	return path.Join(l.StateRoot, date+".json")
}

func (l Layout) UserRoot(subject string) string {
	return path.Join(l.HistoryRoot, subject)
}

// UserDayPath is the canonical nested location:
// <history>/<subject>/<YYYY>/<MM>/<YYYY-MM-DD>.json.
func (l Layout) UserDayPath(subject, date string) string {
	return path.Join(l.MonthDir(subject, date[:4], date[5:7]), date+".json")
}

// LegacyUserDayPath is the older flat location:
// <history>/<subject>/<YYYY-MM>/<YYYY-MM-DD>.json.
func (l Layout) LegacyUserDayPath(subject, date string) string {
	return path.Join(l.LegacyMonthDir(subject, date[:4], date[5:7]), date+".json")
}

func (l Layout) MonthDir(subject, year, month string) string {
	return path.Join(l.HistoryRoot, subject, year, month)
}

func (l Layout) LegacyMonthDir(subject, year, month string) string {
	return path.Join(l.HistoryRoot, subject, year+"-"+month)
}

func (l Layout) PlanDir(subject string) string {
	return path.Join(l.PlansRoot, subject)
}

func (l Layout) PlanPath(subject, title string) string {
	return path.Join(l.PlanDir(subject), PlanFileName(title))
}

// DefaultSplitPath locates a shared default plan day by title.
func (l Layout) DefaultSplitPath(title string) string {
	return path.Join(l.SplitsRoot, PlanFileName(title))
}

func (l Layout) SchedulePath(subject string) string {
	return path.Join(l.SchedulesRoot, subject+".json")
}

// PlanFileName maps a day title to its document name: "+" becomes "plus"
// and spaces become underscores, so "Leg + Abs Day" is Leg_plus_Abs_Day.json.
func PlanFileName(title string) string {
	name := norm.NFC.String(strings.TrimSpace(title))
	name = strings.ReplaceAll(name, "+", "plus")
	name = strings.ReplaceAll(name, "/", "-")
	name = strings.Join(strings.Fields(name), " ")
	name = strings.ReplaceAll(name, " ", "_")
	return name + ".json"
}

// Slug lowercases letters and digits and collapses every other run into a
// single dash.
func Slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range norm.NFC.String(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		dash = true
	}
	return b.String()
}

// ParseDate accepts only YYYY-MM-DD calendar dates.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if !datePattern.MatchString(raw) {
		return time.Time{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidArgument, raw)
	}
	t, err := time.Parse(DateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q is not a calendar date", ErrInvalidArgument, raw)
	}
	return t, nil
}

func ValidateYearMonth(year, month string) error {
	if !yearPattern.MatchString(year) {
		return fmt.Errorf("%w: year %q must be 4 digits", ErrInvalidArgument, year)
	}
	if !monthPattern.MatchString(month) || month < "01" || month > "12" {
		return fmt.Errorf("%w: month %q must be 01-12", ErrInvalidArgument, month)
	}
	return nil
}

// ValidateSubject rejects identifiers that would escape their directory.
func ValidateSubject(subject string) error {
	if strings.TrimSpace(subject) == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidArgument)
	}
	if subject == "." || subject == ".." || strings.ContainsAny(subject, "/\\") {
		return fmt.Errorf("%w: subject %q is not a valid name", ErrInvalidArgument, subject)
	}
	for _, r := range subject {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: subject contains control characters", ErrInvalidArgument)
		}
	}
	return nil
}

func validateItem(item string) error {
	if strings.TrimSpace(item) == "" {
		return fmt.Errorf("%w: item is required", ErrInvalidArgument)
	}
	for _, r := range item {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: item contains control characters", ErrInvalidArgument)
		}
	}
	return nil
}
