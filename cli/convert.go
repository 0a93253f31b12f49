package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/petal-labs/signalflow/loader"
)

// NewConvertCmd creates the "convert" subcommand, which re-encodes a graph
// file as JSON or YAML.
func NewConvertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <file>",
		Short: "Convert a graph file to JSON or YAML",
		Args:  cobra.ExactArgs(1),
		RunE:  runConvert,
	}
	cmd.Flags().String("to", "yaml", "Target format: json | yaml")
	cmd.Flags().StringP("output", "o", "", "Write to file (default: stdout)")
	return cmd
}

func runConvert(cmd *cobra.Command, args []string) error {
	to, _ := cmd.Flags().GetString("to")
	format, err := loader.ParseFormat(to)
	if err != nil || format == loader.FormatHCL {
		return exitError(exitInputParse, "unsupported target format %q (use json or yaml)", to)
	}

	g, err := loader.Load(args[0])
	if err != nil {
		return loadError(args[0], err)
	}
	data, err := loader.Encode(g, format)
	if err != nil {
		return exitError(exitRuntime, "encoding graph: %v", err)
	}

	if outputPath, _ := cmd.Flags().GetString("output"); outputPath != "" {
		if err := os.WriteFile(outputPath, data, 0o600); err != nil {
			return exitError(exitRuntime, "writing output file: %v", err)
		}
		return nil
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), string(data))
	return err
}
