package workout

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/agentworkforce/liftrelay/internal/docstore"
)

type ActivityDay struct {
	Date      string   `json:"date"`
	Completed []string `json:"completed"`
	Worked    bool     `json:"worked"`
	Legacy    bool     `json:"legacy,omitempty"`
}

type MonthActivity struct {
	Year          string `json:"year"`
	Month         string `json:"month"`
	Days          int    `json:"days"`
	CompletedDays int    `json:"completedDays"`
}

type ItemCount struct {
	Item  string `json:"item"`
	Count int    `json:"count"`
}

type Activity struct {
	Subject       string          `json:"subject"`
	Days          []ActivityDay   `json:"days"`
	TotalDays     int             `json:"totalDays"`
	CompletedDays int             `json:"completedDays"`
	AdherenceRate float64         `json:"adherenceRate"`
	PerItem       []ItemCount     `json:"perItem"`
	Months        []MonthActivity `json:"months"`
}

// Activity reads every day document the subject has under both the nested
// and the legacy flat layout. When both hold the same date the nested one
// wins. Days are returned newest first.
func (s *Service) Activity(ctx context.Context, subject string) (Activity, error) {
	subject = strings.TrimSpace(subject)
	if err := ValidateSubject(subject); err != nil {
		return Activity{}, err
	}
	report := Activity{Subject: subject, Days: []ActivityDay{}, PerItem: []ItemCount{}, Months: []MonthActivity{}}

	root := s.layout.UserRoot(subject)
	entries, err := s.store.List(ctx, root)
	if docstore.IsNotFound(err) {
		return report, nil
	}
	if err != nil {
		return report, fmt.Errorf("list %s: %w", root, err)
	}

	byDate := map[string]ActivityDay{}
	for _, entry := range entries {
		if entry.Type != docstore.EntryDir {
			continue
		}
		switch {
		case yearPattern.MatchString(entry.Name):
			months, err := s.store.List(ctx, entry.Path)
			if err != nil && !docstore.IsNotFound(err) {
				return report, fmt.Errorf("list %s: %w", entry.Path, err)
			}
			for _, month := range months {
				if month.Type != docstore.EntryDir || !monthPattern.MatchString(month.Name) {
					continue
				}
				if err := s.collectDays(ctx, month.Path, false, byDate); err != nil {
					return report, err
				}
			}
		case legacyMonth.MatchString(entry.Name):
			if err := s.collectDays(ctx, entry.Path, true, byDate); err != nil {
				return report, err
			}
		}
	}

	itemCounts := map[string]int{}
	monthly := map[string]*MonthActivity{}
	for _, day := range byDate {
		report.Days = append(report.Days, day)
		report.TotalDays++
		key := day.Date[:7]
		m := monthly[key]
		if m == nil {
			m = &MonthActivity{Year: day.Date[:4], Month: day.Date[5:7]}
			monthly[key] = m
		}
		m.Days++
		if day.Worked {
			report.CompletedDays++
			m.CompletedDays++
		}
		for _, item := range day.Completed {
			if item == ItemSkip {
				continue
			}
			itemCounts[item]++
		}
	}
	if report.TotalDays > 0 {
		report.AdherenceRate = float64(report.CompletedDays) / float64(report.TotalDays)
	}
	sort.Slice(report.Days, func(i, j int) bool { return report.Days[i].Date > report.Days[j].Date })
	report.PerItem = sortedCounts(itemCounts)
	for _, m := range monthly {
		report.Months = append(report.Months, *m)
	}
	sort.Slice(report.Months, func(i, j int) bool {
		return report.Months[i].Year+report.Months[i].Month > report.Months[j].Year+report.Months[j].Month
	})
	return report, nil
}

func (s *Service) collectDays(ctx context.Context, dir string, legacy bool, byDate map[string]ActivityDay) error {
	files, err := s.store.List(ctx, dir)
	if docstore.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("list %s: %w", dir, err)
	}
	for _, file := range files {
		if file.Type != docstore.EntryFile || path.Ext(file.Name) != ".json" {
			continue
		}
		date := strings.TrimSuffix(file.Name, ".json")
		if !datePattern.MatchString(date) {
			continue
		}
		if existing, ok := byDate[date]; ok && !existing.Legacy {
			continue
		}
		var doc UserDay
		if _, err := docstore.GetJSON(ctx, s.store, file.Path, &doc); err != nil {
			if docstore.IsNotFound(err) {
				continue
			}
			s.logf("skipping unreadable activity document %s: %v", file.Path, err)
			continue
		}
		if legacy {
			if _, ok := byDate[date]; ok {
				continue
			}
		}
		completed := append([]string{}, doc.Completed...)
		byDate[date] = ActivityDay{Date: date, Completed: completed, Worked: doc.Worked(), Legacy: legacy}
	}
	return nil
}

func sortedCounts(counts map[string]int) []ItemCount {
	out := make([]ItemCount, 0, len(counts))
	for item, count := range counts {
		out = append(out, ItemCount{Item: item, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Item < out[j].Item
	})
	return out
}
