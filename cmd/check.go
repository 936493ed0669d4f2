package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/smazurov/camss/internal/vin"
	"github.com/spf13/cobra"
)

// CreateCheckPipelineCmd creates the check-pipeline command.
func CreateCheckPipelineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check-pipeline",
		Short: "Validate a pipeline file",
		Long:  `Parses the pipeline file, validates its topology and formats, and prints the buffer geometry of every line.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("file")
			p, builtin, err := loadPipeline(path, cmd.Flags().Changed("file"))
			if err != nil {
				return err
			}
			if builtin {
				fmt.Fprintf(cmd.OutOrStdout(), "%s not found, checking built-in pipeline\n", path)
			}
			if err := p.Validate(); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tENGINE\tCHANNEL\tLAYOUT\tFORMAT\tSTRIDE\tSIZE")
			for _, l := range p.Lines {
				f := vin.Format{Width: l.Width, Height: l.Height, Code: l.Code}
				layout, _ := vin.ParseLayout(l.Layout)
				g := layout.Geometry(f)
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%dx%d %s\t%d\t%d\n",
					l.ID, l.Name, l.Engine, l.Channel, l.Layout, l.Width, l.Height, l.Code, g.Stride, g.Size)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pipeline OK: %d engines, %d lines\n", len(p.Engines), len(p.Lines))
			return nil
		},
	}
	cmd.Flags().StringP("file", "f", "pipeline.toml", "Pipeline file to check")
	return cmd
}
