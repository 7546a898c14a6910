package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pitabwire/hibah/internal/ingest"
	"github.com/pitabwire/hibah/model"
)

type ingestOutput struct {
	Kind        model.TableKind `json:"kind"`
	File        string          `json:"file"`
	MarkerFound bool            `json:"marker_found"`
	Rows        [][]string      `json:"rows"`
}

func newIngestCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest KIND FILE",
		Short: "Extract the rows a spreadsheet upload would produce",
		Long: "Extract the rows a spreadsheet upload would produce for a table kind\n" +
			"(iku, tools, incentive, activity, funding). .csv files are read as\n" +
			"comma-separated text, anything else as an xlsx workbook.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, ok := model.ParseTableKind(args[0])
			if !ok {
				return fmt.Errorf("unknown table kind %q", args[0])
			}
			rows, marker, err := readTable(args[1], kind, opts.maxBytes)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.json {
				return writeJSON(out, ingestOutput{Kind: kind, File: filepath.Base(args[1]), MarkerFound: marker, Rows: rows})
			}
			if !marker {
				fmt.Fprintln(out, styleWarn.Render(fmt.Sprintf("no row starts with %q; the upload yields an empty table", ingest.StartMarker)))
				return nil
			}
			fmt.Fprint(out, renderTable(ingest.Headers(kind), rows))
			fmt.Fprintf(out, "%d rows\n", len(rows))
			return nil
		},
	}
}

// readTable ingests path as kind.
func readTable(path string, kind model.TableKind, maxBytes int64) ([][]string, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	table, err := ingest.Ingester{MaxBytes: maxBytes}.Open(f, filepath.Base(path), kind)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", path, err)
	}
	rows, err := table.Collect()
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", path, err)
	}
	return rows, table.MarkerFound(), nil
}
