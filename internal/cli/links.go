package cli

import (
	"fmt"
	"strings"

	"github.com/agentworkforce/liftrelay/internal/capability"
	"github.com/agentworkforce/liftrelay/internal/httpapi"
	"github.com/agentworkforce/liftrelay/internal/workout"
	"github.com/spf13/cobra"
)

type linksOptions struct {
	user string
	date string
}

func NewLinksCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &linksOptions{}
	cmd := &cobra.Command{
		Use:   "links",
		Short: "Print today's signed links for a user",
		Long: `Print the signed links a daily reminder carries for one user: one per
exercise of today's plan day, all, skip, plan editing, activity and deletion.
Picking the day advances the user's rotation.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLinks(cmd, rootOpts, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.user, "user", "u", "", "user to mint links for")
	cmd.Flags().StringVarP(&opts.date, "date", "d", "", "date (YYYY-MM-DD), defaults to today in the configured timezone")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runLinks(cmd *cobra.Command, rootOpts *RootOptions, opts *linksOptions) error {
	rt, err := loadRuntime(rootOpts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.Close()
	if err := rt.settings.MissingError(); err != nil {
		return fmt.Errorf("%w: %v", capability.ErrServerMisconfigured, err)
	}
	if rt.settings.PublicBaseURL == "" {
		return fmt.Errorf("public base url is not set")
	}

	date := strings.TrimSpace(opts.date)
	if date == "" {
		date = rt.service.Today()
	}
	if _, err := workout.ParseDate(date); err != nil {
		return err
	}
	plan, err := rt.service.TodayPlan(cmd.Context(), opts.user, date, rt.settings.DefaultRotation)
	if err != nil {
		return err
	}
	links := httpapi.Links{
		Base:   rt.settings.PublicBaseURL,
		Minter: capability.Minter{Secret: rt.settings.SigningSecret},
	}
	out, err := links.Daily(opts.user, date, plan.Day)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if rootOpts.Format == "json" {
		return writeJSONOut(w, map[string]any{
			"user":  opts.user,
			"date":  date,
			"day":   plan.Day,
			"index": plan.Index,
			"total": plan.Total,
			"links": out,
		})
	}
	printf(w, "%s for %s on %s (day %d of %d)\n", label(plan.Day.Title), opts.user, date, plan.Index+1, plan.Total)
	for _, link := range out {
		printf(w, "  %-20s %s\n", link.Label, link.URL)
	}
	return nil
}
