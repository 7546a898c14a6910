package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pitabwire/hibah/internal/stage"
)

func newStagesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stages",
		Short: "List the stage kinds and the fields each one collects",
		RunE: func(cmd *cobra.Command, args []string) error {
			specs := stage.Specs()
			out := cmd.OutOrStdout()
			if opts.json {
				return writeJSON(out, specs)
			}

			var rows [][]string
			for _, s := range specs {
				for _, f := range s.Fields {
					rows = append(rows, []string{
						string(s.Step), f.Name, string(f.Kind), string(f.Table), strconv.FormatBool(f.Required),
					})
				}
			}
			fmt.Fprint(out, renderTable([]string{"Stage", "Field", "Kind", "Table", "Required"}, rows))
			return nil
		},
	}
}
