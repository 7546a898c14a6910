package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pitabwire/hibah/internal/funding"
	"github.com/pitabwire/hibah/internal/ingest"
	"github.com/pitabwire/hibah/model"
)

func newSummaryCmd(opts *options) *cobra.Command {
	var toolsPath, incentivesPath string
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Compute the funding summary of tool and incentive spreadsheets",
		RunE: func(cmd *cobra.Command, args []string) error {
			if toolsPath == "" && incentivesPath == "" {
				return errors.New("at least one of --tools or --incentives is required")
			}

			var tools []model.ToolRow
			if toolsPath != "" {
				rows, _, err := readTable(toolsPath, model.TableTools, opts.maxBytes)
				if err != nil {
					return err
				}
				tools = ingest.DecodeTools(rows)
			}
			var incentives []model.IncentiveRow
			if incentivesPath != "" {
				rows, _, err := readTable(incentivesPath, model.TableIncentive, opts.maxBytes)
				if err != nil {
					return err
				}
				incentives = ingest.DecodeIncentives(rows)
			}

			s := funding.Summarize(tools, incentives)
			out := cmd.OutOrStdout()
			if opts.json {
				return writeJSON(out, s)
			}
			fmt.Fprint(out, renderTable(
				[]string{"Table", "Rows", "Accepted", "Proposed", "Accepted total", "Percent"},
				[][]string{
					summaryRow("tools", s.Tools),
					summaryRow("incentive", s.Incentives),
					summaryRow("combined", s.Combined),
				},
			))
			return nil
		},
	}
	cmd.Flags().StringVar(&toolsPath, "tools", "", "tools spreadsheet")
	cmd.Flags().StringVar(&incentivesPath, "incentives", "", "incentive spreadsheet")
	return cmd
}

func summaryRow(name string, t model.TableSummary) []string {
	return []string{
		name,
		strconv.Itoa(t.Total),
		strconv.Itoa(t.Accepted),
		t.ProposedTotal.StringFixed(2),
		t.AcceptedTotal.StringFixed(2),
		t.PercentText,
	}
}
