package workout

import (
	"context"
	"testing"

	"github.com/agentworkforce/liftrelay/internal/docstore"
	"github.com/stretchr/testify/require"
)

func datePtr(s string) *string { return &s }

func TestAdvanceSchedule(t *testing.T) {
	cases := []struct {
		name      string
		state     ScheduleState
		today     string
		total     int
		wantIndex int
	}{
		{"fresh schedule advances", ScheduleState{LastAction: ActionNone}, "2025-03-02", 5, 1},
		{"same day stays", ScheduleState{CurrentIndex: 2, LastAction: ActionCompleted, LastActionDate: datePtr("2025-03-02")}, "2025-03-02", 5, 2},
		{"next day advances", ScheduleState{CurrentIndex: 2, LastAction: ActionCompleted, LastActionDate: datePtr("2025-03-01")}, "2025-03-02", 5, 3},
		{"wraps around", ScheduleState{CurrentIndex: 4, LastAction: ActionCompleted, LastActionDate: datePtr("2025-03-01")}, "2025-03-02", 5, 0},
		{"skipped yesterday repeats", ScheduleState{CurrentIndex: 2, LastAction: ActionSkipped, LastActionDate: datePtr("2025-03-01")}, "2025-03-02", 5, 2},
		{"skipped long ago advances", ScheduleState{CurrentIndex: 2, LastAction: ActionSkipped, LastActionDate: datePtr("2025-02-20")}, "2025-03-02", 5, 3},
		{"shrunk plan clamps", ScheduleState{CurrentIndex: 7, LastAction: ActionCompleted, LastActionDate: datePtr("2025-03-02")}, "2025-03-02", 3, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			next := AdvanceSchedule(tc.state, tc.today, tc.total)
			require.Equal(t, tc.wantIndex, next.CurrentIndex)
			require.NotNil(t, next.LastActionDate)
			require.Equal(t, tc.today, *next.LastActionDate)
			if tc.state.LastActionDate != nil && *tc.state.LastActionDate == tc.today {
				require.Equal(t, tc.state.LastAction, next.LastAction)
			} else {
				require.Equal(t, ActionNone, next.LastAction)
			}
		})
	}
}

func TestAdvanceScheduleRepeatsOnlyTheDayAfterASkip(t *testing.T) {
	state := ScheduleState{CurrentIndex: 2, LastAction: ActionSkipped, LastActionDate: datePtr("2025-03-01")}

	state = AdvanceSchedule(state, "2025-03-02", 5)
	require.Equal(t, 2, state.CurrentIndex)
	require.Equal(t, ActionNone, state.LastAction)

	state = AdvanceSchedule(state, "2025-03-03", 5)
	require.Equal(t, 3, state.CurrentIndex)

	state = AdvanceSchedule(state, "2025-03-04", 5)
	require.Equal(t, 4, state.CurrentIndex)
	require.Equal(t, "2025-03-04", *state.LastActionDate)
}

func TestTodayPlanUsesDefaultsThenCustomPlan(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	svc, _ := newTestService(t, store)
	defaults := []string{"Push Day", "Pull Day", "Leg + Abs Day"}

	_, err := docstore.PutJSON(ctx, store, "splits/Pull_Day.json", PlanDay{
		Title:     "Pull Day",
		Exercises: []Exercise{{Name: "Row", Sets: "3", Reps: "10"}},
	}, "")
	require.NoError(t, err)

	plan, err := svc.TodayPlan(ctx, "alice", "2025-03-01", defaults)
	require.NoError(t, err)
	require.False(t, plan.Custom)
	require.Equal(t, 1, plan.Index)
	require.Equal(t, "Pull Day", plan.Day.Title)
	require.Equal(t, "row-1", plan.Day.Exercises[0].ID)

	again, err := svc.TodayPlan(ctx, "alice", "2025-03-01", defaults)
	require.NoError(t, err)
	require.Equal(t, 1, again.Index)

	next, err := svc.TodayPlan(ctx, "alice", "2025-03-02", defaults)
	require.NoError(t, err)
	require.Equal(t, "Leg + Abs Day", next.Day.Title)
	require.Empty(t, next.Day.Exercises)

	_, err = svc.SavePlan(ctx, "alice", []PlanInput{
		{Title: "A Day", Exercises: []ExerciseInput{{Name: "Squat"}}},
		{Title: "B Day", Exercises: []ExerciseInput{{Name: "Press"}}},
	})
	require.NoError(t, err)
	custom, err := svc.TodayPlan(ctx, "alice", "2025-03-03", defaults)
	require.NoError(t, err)
	require.True(t, custom.Custom)
	require.Equal(t, 2, custom.Total)
	require.Equal(t, "B Day", custom.Day.Title)
}

func TestTodayPlanRepeatsSkippedDay(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, docstore.NewMemoryStore())
	defaults := []string{"Push Day", "Pull Day"}

	first, err := svc.TodayPlan(ctx, "alice", "2025-03-01", defaults)
	require.NoError(t, err)
	_, err = svc.Record(ctx, RecordRequest{Subject: "alice", Date: "2025-03-01", Item: ItemSkip})
	require.NoError(t, err)

	second, err := svc.TodayPlan(ctx, "alice", "2025-03-02", defaults)
	require.NoError(t, err)
	require.Equal(t, first.Index, second.Index)

	third, err := svc.TodayPlan(ctx, "alice", "2025-03-03", defaults)
	require.NoError(t, err)
	require.Equal(t, (second.Index+1)%len(defaults), third.Index)
}
