package workout

import (
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"text/tabwriter"

	"github.com/agentworkforce/liftrelay/internal/docstore"
)

const DefaultSummaryDays = 7

type UserSummary struct {
	User string `json:"user"`
	// Sent counts days the subject appears in the daily aggregate.
	Sent int `json:"sent"`
	// Done counts those days with at least one completion that is not a skip.
	Done int `json:"done"`
}

// Rate is Done over Sent as a whole percentage.
func (u UserSummary) Rate() int {
	if u.Sent == 0 {
		return 0
	}
	return int(math.Round(float64(u.Done) / float64(u.Sent) * 100))
}

type Summary struct {
	Start string        `json:"start"`
	End   string        `json:"end"`
	Users []UserSummary `json:"users"`
	Items []ItemCount   `json:"items"`
}

// Summarize aggregates the daily documents for the days ending on end.
func (s *Service) Summarize(ctx context.Context, end string, days int) (Summary, error) {
	endDate, err := ParseDate(end)
	if err != nil {
		return Summary{}, err
	}
	if days <= 0 {
		days = DefaultSummaryDays
	}
	dates := make([]string, days)
	for i := 0; i < days; i++ {
		dates[days-1-i] = endDate.AddDate(0, 0, -i).Format(DateLayout)
	}
	summary := Summary{Start: dates[0], End: dates[len(dates)-1], Users: []UserSummary{}, Items: []ItemCount{}}

	perUser := map[string]*UserSummary{}
	perItem := map[string]int{}
	for _, date := range dates {
		var doc DailyAggregate
		if _, err := docstore.GetJSON(ctx, s.store, s.layout.DailyPath(date), &doc); err != nil {
			if docstore.IsNotFound(err) {
				continue
			}
			return summary, fmt.Errorf("summarize %s: %w", date, err)
		}
		for user, items := range doc.Completions {
			st := perUser[user]
			if st == nil {
				st = &UserSummary{User: user}
				perUser[user] = st
			}
			st.Sent++
			worked := false
			for item, done := range items {
				if !done || item == ItemSkip {
					continue
				}
				worked = true
				perItem[item]++
			}
			if worked {
				st.Done++
			}
		}
	}
	for _, st := range perUser {
		summary.Users = append(summary.Users, *st)
	}
	sort.Slice(summary.Users, func(i, j int) bool { return summary.Users[i].User < summary.Users[j].User })
	summary.Items = sortedCounts(perItem)
	return summary, nil
}

// WriteText renders the summary as aligned plain-text tables.
func (s Summary) WriteText(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "Weekly Summary (%s to %s)\n\nPer user\n", s.Start, s.End); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tDAYS SENT\tDAYS COMPLETED\tRATE")
	if len(s.Users) == 0 {
		fmt.Fprintln(tw, "no data\t\t\t")
	}
	for _, u := range s.Users {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d%%\n", u.User, u.Sent, u.Done, u.Rate())
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if _, err := fmt.Fprint(w, "\nPer item\n"); err != nil {
		return err
	}
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ITEM\tTIMES COMPLETED")
	if len(s.Items) == 0 {
		fmt.Fprintln(tw, "no data\t")
	}
	for _, item := range s.Items {
		fmt.Fprintf(tw, "%s\t%d\n", item.Item, item.Count)
	}
	return tw.Flush()
}
