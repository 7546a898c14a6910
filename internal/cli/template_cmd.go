package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pitabwire/hibah/internal/ingest"
	"github.com/pitabwire/hibah/model"
)

func newTemplateCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "template KIND",
		Short: "Write an empty upload template for a table kind",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, ok := model.ParseTableKind(args[0])
			if !ok {
				return fmt.Errorf("unknown table kind %q", args[0])
			}
			if output == "" {
				output = ingest.TemplateName(kind)
			}

			f, err := os.Create(output)
			if err != nil {
				return err
			}
			if err := ingest.WriteTemplate(f, kind); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default template-KIND.xlsx)")
	return cmd
}
