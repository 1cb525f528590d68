package cli

import (
	"errors"
	"sort"
	"time"

	"github.com/agentworkforce/liftrelay/internal/capability"
	"github.com/agentworkforce/liftrelay/internal/config"
	"github.com/spf13/cobra"
)

// ErrLinkRejected is returned after the rejection has been reported.
var ErrLinkRejected = errors.New("link rejected")

func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <url>",
		Short: "Check the signature and freshness of a signed link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(rootOpts.ConfigPath)
			if err != nil {
				return err
			}
			return runVerify(cmd, rootOpts, capability.Verifier{Secret: settings.SigningSecret, MaxAge: settings.MaxAge}, args[0])
		},
	}
}

type verifyReport struct {
	Valid    bool              `json:"valid"`
	Reason   string            `json:"reason,omitempty"`
	Subject  string            `json:"subject,omitempty"`
	IssuedAt string            `json:"issuedAt,omitempty"`
	Params   map[string]string `json:"params"`
}

func runVerify(cmd *cobra.Command, rootOpts *RootOptions, verifier capability.Verifier, raw string) error {
	params, token, err := capability.ParseURL(raw)
	if err != nil {
		return err
	}
	report := verifyReport{Params: params}
	grant, err := verifier.Authorize(params, token)
	if err != nil {
		report.Reason = err.Error()
	} else {
		report.Valid = true
		report.Subject = grant.Subject
		report.IssuedAt = grant.IssuedAt.Format(time.RFC3339)
	}

	w := cmd.OutOrStdout()
	if rootOpts.Format == "json" {
		if err := writeJSONOut(w, report); err != nil {
			return err
		}
	} else {
		if report.Valid {
			printf(w, "%s valid link for %s issued %s\n", okMark, report.Subject, report.IssuedAt)
		} else {
			printf(w, "%s %s\n", failMark, report.Reason)
		}
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			printf(w, "  %s = %s\n", label(k), params[k])
		}
	}
	if !report.Valid {
		return ErrLinkRejected
	}
	return nil
}
