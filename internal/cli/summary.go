package cli

import (
	"github.com/agentworkforce/liftrelay/internal/workout"
	"github.com/spf13/cobra"
)

type summaryOptions struct {
	end  string
	days int
}

func NewSummaryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &summaryOptions{}
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Summarize completions over recent days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()
			end := opts.end
			if end == "" {
				end = rt.service.Today()
			}
			summary, err := rt.service.Summarize(cmd.Context(), end, opts.days)
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return writeJSONOut(cmd.OutOrStdout(), summary)
			}
			return summary.WriteText(cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.end, "end", "", "last day included (YYYY-MM-DD), defaults to today")
	cmd.Flags().IntVar(&opts.days, "days", workout.DefaultSummaryDays, "number of days to include")
	return cmd
}
