// Package cli implements hibahctl, the offline companion of the BFF for
// checking budget spreadsheets and templates before they are uploaded.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/pitabwire/hibah/internal/ingest"
)

type options struct {
	maxBytes int64
	json     bool
}

// NewRootCmd creates the top-level "hibahctl" command and registers all
// subcommands.
func NewRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "hibahctl",
		Short:         "Inspect grant proposal spreadsheets and templates",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().Int64Var(&opts.maxBytes, "max-bytes", ingest.DefaultMaxBytes, "largest spreadsheet accepted")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "print JSON instead of a table")

	root.AddCommand(
		newIngestCmd(opts),
		newSummaryCmd(opts),
		newTemplateCmd(),
		newStagesCmd(opts),
	)

	return root
}
