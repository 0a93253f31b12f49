package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/petal-labs/signalflow/core"
	"github.com/petal-labs/signalflow/registry"
)

// NewNodesCmd creates the "nodes" subcommand listing the built-in catalog.
func NewNodesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nodes [type]",
		Short: "List built-in node types, or describe one",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runNodes,
	}
	cmd.Flags().Bool("json", false, "Print definitions as JSON")
	return cmd
}

func runNodes(cmd *cobra.Command, args []string) error {
	defs := registry.NewWithBuiltins().All()
	if len(args) == 1 {
		var found []core.Definition
		for _, d := range defs {
			if d.Type == args[0] {
				found = append(found, d)
			}
		}
		if len(found) == 0 {
			return exitError(exitValidation, "unknown node type %q", args[0])
		}
		defs = found
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		data, err := json.MarshalIndent(defs, "", "  ")
		if err != nil {
			return exitError(exitRuntime, "marshaling definitions: %v", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tARCHETYPE\tIN\tOUT\tDESCRIPTION")
	for _, d := range defs {
		in, out := portNames(d.Ports)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.Type, d.Archetype, in, out, d.Description)
	}
	return tw.Flush()
}

func portNames(ports []core.Port) (in, out string) {
	var ins, outs []string
	for _, p := range ports {
		name := p.Name
		if p.IsControl() {
			name = ">" + name
		}
		if p.Direction == core.DirectionIn {
			ins = append(ins, name)
		} else {
			outs = append(outs, name)
		}
	}
	return strings.Join(ins, ","), strings.Join(outs, ",")
}
