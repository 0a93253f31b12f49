package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/petal-labs/signalflow/bus"
	"github.com/petal-labs/signalflow/core"
	"github.com/petal-labs/signalflow/loader"
	"github.com/petal-labs/signalflow/otel"
)

// NewRunCmd creates the "run" subcommand.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Execute a workflow graph file (JSON, YAML or HCL)",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}

	cmd.Flags().StringP("input", "i", "", "Initial data for the start node as inline JSON")
	cmd.Flags().StringP("input-file", "f", "", "Initial data from a JSON or YAML file")
	cmd.Flags().String("start", "", "Start node id (default: first special/start node)")
	cmd.Flags().String("run-id", "", "Run id (default: generated)")
	cmd.Flags().StringP("output", "o", "", "Write results to file (default: stdout)")
	cmd.Flags().String("format", "json", "Output format: json | text")
	cmd.Flags().Duration("timeout", 5*time.Minute, "Execution timeout")
	cmd.Flags().Bool("stream", false, "Print every event as a JSON line while the run executes")
	cmd.Flags().Bool("metrics", false, "Print engine metrics after the run")

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	filePath := args[0]

	g, err := loader.Load(filePath)
	if err != nil {
		return loadError(filePath, err)
	}
	input, err := readInput(cmd)
	if err != nil {
		return err
	}
	format, _ := cmd.Flags().GetString("format")
	if format != "json" && format != "text" {
		return exitError(exitInputParse, "unknown format %q (use json or text)", format)
	}

	withMetrics, _ := cmd.Flags().GetBool("metrics")
	env, err := setupEnvironment(cmd, withMetrics)
	if err != nil {
		return err
	}
	defer func() {
		if err := env.Close(context.Background()); err != nil {
			env.logger.Warn("shutdown", "error", err)
		}
	}()

	eventBus := bus.NewMemBus(bus.MemBusConfig{SubscriberBufferSize: 4096})
	defer eventBus.Close()
	opts, err := env.runOptions(eventBus)
	if err != nil {
		return exitError(exitConfig, "instrumenting run: %v", err)
	}
	opts.RunID, _ = cmd.Flags().GetString("run-id")
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	opts.StartNodeID, _ = cmd.Flags().GetString("start")
	opts.InitialData = input
	opts.Metadata = map[string]any{"trigger": "cli"}

	streaming, _ := cmd.Flags().GetBool("stream")
	var printer sync.WaitGroup
	if streaming {
		sub := eventBus.Subscribe(opts.RunID)
		defer sub.Close()
		printer.Add(1)
		go func() {
			defer printer.Done()
			printEvents(cmd.OutOrStdout(), sub, env)
		}()
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	env.logger.Info("run started", "run_id", opts.RunID, "graph", g.ID)
	results, runErr := env.engine().Run(ctx, g, opts)
	if streaming {
		eventBus.Close()
		printer.Wait()
	}
	if runErr != nil {
		return runError(ctx, timeout, runErr)
	}
	env.logger.Info("run finished", "run_id", opts.RunID, "results", len(results))

	if err := writeResults(cmd, format, results); err != nil {
		return err
	}
	if withMetrics {
		return writeMetrics(cmd, env.telemetry)
	}
	return nil
}

// printEvents writes one JSON line per event until sub closes.
func printEvents(out io.Writer, sub bus.Subscription, env *environment) {
	for e := range sub.Events() {
		line, err := bus.MarshalEvent(e)
		if err != nil {
			env.logger.Warn("encode event", "kind", e.Kind, "error", err)
			continue
		}
		fmt.Fprintln(out, string(line))
	}
}

// readInput builds the start node's initial data from --input or
// --input-file. No input means the start node is fired without data.
func readInput(cmd *cobra.Command) (core.NodeOutput, error) {
	inputStr, _ := cmd.Flags().GetString("input")
	inputFile, _ := cmd.Flags().GetString("input-file")

	if inputStr != "" && inputFile != "" {
		return nil, exitError(exitInputParse, "cannot specify both --input and --input-file")
	}
	if inputStr == "" && inputFile == "" {
		return nil, nil
	}

	var vars map[string]any
	if inputStr != "" {
		if err := json.Unmarshal([]byte(inputStr), &vars); err != nil {
			return nil, exitError(exitInputParse, "parsing input JSON: %v", err)
		}
		return vars, nil
	}

	data, err := os.ReadFile(inputFile) // #nosec G304 -- path from user CLI flag
	if err != nil {
		return nil, exitError(exitFileNotFound, "reading input file: %v", err)
	}
	// YAML is a superset of JSON, so one decoder handles both.
	if err := yaml.Unmarshal(data, &vars); err != nil {
		return nil, exitError(exitInputParse, "parsing input file: %v", err)
	}
	return vars, nil
}

// writeResults formats the end-node results.
func writeResults(cmd *cobra.Command, format string, results core.NodeOutput) error {
	var output string
	switch format {
	case "text":
		keys := make([]string, 0, len(results))
		for k := range results {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var sb strings.Builder
		for _, k := range keys {
			fmt.Fprintf(&sb, "%s: %v\n", k, results[k])
		}
		output = strings.TrimSuffix(sb.String(), "\n")
	default:
		if results == nil {
			results = core.NodeOutput{}
		}
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return exitError(exitRuntime, "marshaling results: %v", err)
		}
		output = string(data)
	}

	if outputPath, _ := cmd.Flags().GetString("output"); outputPath != "" {
		if err := os.WriteFile(outputPath, []byte(output+"\n"), 0o600); err != nil {
			return exitError(exitRuntime, "writing output file: %v", err)
		}
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), output)
	return nil
}

var reportedCounters = []string{
	otel.MetricRuns,
	otel.MetricNodeExecutions,
	otel.MetricNodeFailures,
	otel.MetricStreamChunks,
}

func writeMetrics(cmd *cobra.Command, p *otel.Providers) error {
	rm, err := p.Collect(cmd.Context())
	if err != nil {
		return exitError(exitRuntime, "collecting metrics: %v", err)
	}
	out := cmd.ErrOrStderr()
	for _, name := range reportedCounters {
		v, _ := otel.Counter(rm, name)
		fmt.Fprintf(out, "%s %d\n", name, v)
	}
	return nil
}
