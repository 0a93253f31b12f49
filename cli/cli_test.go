package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

// newTestRoot creates a fresh command tree. Each test gets an isolated tree
// to avoid shared flag state.
func newTestRoot() *cobra.Command {
	return NewRootCmd("test")
}

// executeCommand runs a cobra command with the given args and captures stdout/stderr.
func executeCommand(root *cobra.Command, args ...string) (stdout, stderr string, err error) {
	var outBuf, errBuf bytes.Buffer
	root.SetOut(&outBuf)
	root.SetErr(&errBuf)
	root.SetArgs(args)
	err = root.Execute()
	return outBuf.String(), errBuf.String(), err
}

// writeTestFile creates a file with the given content in dir and returns its path.
func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// testConfig writes a quiet config so tests never pick up a user's
// ~/.signalflow/config.yaml.
func testConfig(t *testing.T, dir, extra string) string {
	t.Helper()
	return writeTestFile(t, dir, "signalflow.yaml", "log_level: error\n"+extra)
}

func wantExit(t *testing.T, err error, code int) {
	t.Helper()
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("error = %v (%T), want *ExitError", err, err)
	}
	if exitErr.Code != code {
		t.Fatalf("exit code = %d (%s), want %d", exitErr.Code, exitErr.Message, code)
	}
}

const sumGraphJSON = `{
  "id": "sum",
  "nodes": [
    {"id": "start", "type": "special/start"},
    {"id": "one", "type": "data/constant", "properties": {"value": 1}},
    {"id": "two", "type": "data/constant", "properties": {"value": 2}},
    {"id": "add", "type": "math/add"},
    {"id": "end", "type": "special/end", "label": "total"}
  ],
  "edges": [
    {"source": "start", "sourceHandle": "out", "target": "end", "targetHandle": "in"},
    {"source": "one", "sourceHandle": "value", "target": "add", "targetHandle": "a"},
    {"source": "two", "sourceHandle": "value", "target": "add", "targetHandle": "b"},
    {"source": "add", "sourceHandle": "result", "target": "end", "targetHandle": "result"}
  ]
}`

const echoGraphYAML = `
id: echo
nodes:
  - id: start
    type: special/start
  - id: end
    type: special/end
edges:
  - {source: start, sourceHandle: out, target: end, targetHandle: in}
  - {source: start, sourceHandle: amount, target: end, targetHandle: result}
`

const streamGraphHCL = `
id = "stream"

node "start" {
  type = "special/start"
}

node "counter" {
  type       = "stream/counter"
  properties = { chunks = 3 }
}

node "end" {
  type = "special/end"
}

edge {
  from = "start.out"
  to   = "counter.in"
}

edge {
  from = "counter.onStreamDone"
  to   = "end.in"
}

edge {
  from = "counter.fullStream"
  to   = "end.result"
}
`

// --- run ---

func TestRun_PrintsResults(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir, "")
	path := writeTestFile(t, dir, "sum.json", sumGraphJSON)

	stdout, _, err := executeCommand(newTestRoot(), "run", "--config", cfg, path)
	if err != nil {
		t.Fatalf("run error = %v", err)
	}
	if !strings.Contains(stdout, `"total": 3`) {
		t.Errorf("stdout = %q, want total 3", stdout)
	}
}

func TestRun_InputAndTextFormat(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir, "")
	path := writeTestFile(t, dir, "echo.yaml", echoGraphYAML)

	stdout, _, err := executeCommand(newTestRoot(), "run", "--config", cfg, "--format", "text", "--input", `{"amount": 500}`, path)
	if err != nil {
		t.Fatalf("run error = %v", err)
	}
	if strings.TrimSpace(stdout) != "end: 500" {
		t.Errorf("stdout = %q, want %q", stdout, "end: 500")
	}
}

func TestRun_InputFile(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir, "")
	path := writeTestFile(t, dir, "echo.yaml", echoGraphYAML)
	input := writeTestFile(t, dir, "input.yaml", "amount: 1500\n")
	out := filepath.Join(dir, "out.json")

	if _, _, err := executeCommand(newTestRoot(), "run", "--config", cfg, "-f", input, "-o", out, path); err != nil {
		t.Fatalf("run error = %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile(out) error = %v", err)
	}
	if !strings.Contains(string(data), `"end": 1500`) {
		t.Errorf("output = %q, want end 1500", data)
	}
}

func TestRun_StreamPrintsEvents(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir, "")
	path := writeTestFile(t, dir, "stream.hcl", streamGraphHCL)

	stdout, _, err := executeCommand(newTestRoot(), "run", "--config", cfg, "--stream", "--run-id", "run-s", path)
	if err != nil {
		t.Fatalf("run error = %v", err)
	}
	for _, want := range []string{
		`"kind":"run.started"`,
		`"kind":"node.output.delta"`,
		`"kind":"run.finished"`,
		`"run_id":"run-s"`,
	} {
		if !strings.Contains(stdout, want) {
			t.Errorf("stdout missing %s:\n%s", want, stdout)
		}
	}
	if got := strings.Count(stdout, `"kind":"node.output.delta"`); got != 3 {
		t.Errorf("delta lines = %d, want 3", got)
	}
}

func TestRun_ThrottledDeltas(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir, "events:\n  throttle_ms: 3600000\n")
	path := writeTestFile(t, dir, "stream.hcl", streamGraphHCL)

	stdout, _, err := executeCommand(newTestRoot(), "run", "--config", cfg, "--stream", path)
	if err != nil {
		t.Fatalf("run error = %v", err)
	}
	if got := strings.Count(stdout, `"kind":"node.output.delta"`); got != 1 {
		t.Errorf("delta lines = %d, want 1 after coalescing", got)
	}
}

func TestRun_Metrics(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir, "")
	path := writeTestFile(t, dir, "stream.hcl", streamGraphHCL)

	_, stderr, err := executeCommand(newTestRoot(), "run", "--config", cfg, "--metrics", path)
	if err != nil {
		t.Fatalf("run error = %v", err)
	}
	for _, want := range []string{"signalflow.runs 1", "signalflow.stream.chunks 3", "signalflow.node.failures 0"} {
		if !strings.Contains(stderr, want) {
			t.Errorf("stderr missing %q:\n%s", want, stderr)
		}
	}
}

func TestRun_Errors(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir, "")
	sum := writeTestFile(t, dir, "sum.json", sumGraphJSON)
	broken := writeTestFile(t, dir, "broken.json", `{"nodes": [`)
	unknown := writeTestFile(t, dir, "unknown.json", `{
  "id": "unknown",
  "nodes": [{"id": "start", "type": "special/start"}, {"id": "x", "type": "does/not-exist"}],
  "edges": [{"source": "start", "sourceHandle": "out", "target": "x", "targetHandle": "in"}]
}`)

	tests := []struct {
		name string
		args []string
		code int
	}{
		{"missing file", []string{"run", "--config", cfg, filepath.Join(dir, "nope.json")}, exitFileNotFound},
		{"malformed file", []string{"run", "--config", cfg, broken}, exitValidation},
		{"unknown node type", []string{"run", "--config", cfg, unknown}, exitStructural},
		{"bad input", []string{"run", "--config", cfg, "--input", "{", sum}, exitInputParse},
		{"both inputs", []string{"run", "--config", cfg, "--input", "{}", "--input-file", "x.json", sum}, exitInputParse},
		{"bad format", []string{"run", "--config", cfg, "--format", "xml", sum}, exitInputParse},
		{"missing config", []string{"run", "--config", filepath.Join(dir, "missing.yaml"), sum}, exitConfig},
		{"bad store flag", []string{"run", "--config", cfg, "--store", "mongo", sum}, exitConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := executeCommand(newTestRoot(), tt.args...)
			wantExit(t, err, tt.code)
		})
	}
}

// --- events ---

func TestEvents_SQLiteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir, "events:\n  store: sqlite\n  sqlite_dsn: "+filepath.Join(dir, "events.db")+"\n")
	path := writeTestFile(t, dir, "sum.json", sumGraphJSON)

	if _, _, err := executeCommand(newTestRoot(), "run", "--config", cfg, "--run-id", "run-1", path); err != nil {
		t.Fatalf("run error = %v", err)
	}

	stdout, _, err := executeCommand(newTestRoot(), "events", "runs", "--config", cfg)
	if err != nil {
		t.Fatalf("events runs error = %v", err)
	}
	if !strings.Contains(stdout, "run-1") {
		t.Errorf("events runs = %q, want run-1", stdout)
	}

	stdout, _, err = executeCommand(newTestRoot(), "events", "list", "--config", cfg, "run-1")
	if err != nil {
		t.Fatalf("events list error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) < 2 {
		t.Fatalf("events list printed %d lines, want at least 2:\n%s", len(lines), stdout)
	}
	if !strings.Contains(lines[0], `"kind":"run.started"`) || !strings.Contains(lines[0], `"trigger":"cli"`) {
		t.Errorf("first event = %s, want run.started with cli trigger", lines[0])
	}
	if !strings.Contains(lines[len(lines)-1], `"kind":"run.finished"`) {
		t.Errorf("last event = %s, want run.finished", lines[len(lines)-1])
	}

	stdout, _, err = executeCommand(newTestRoot(), "events", "list", "--config", cfg, "--kind", "run.finished", "run-1")
	if err != nil {
		t.Fatalf("events list --kind error = %v", err)
	}
	if n := strings.Count(strings.TrimSpace(stdout), "\n") + 1; n != 1 {
		t.Errorf("filtered list printed %d lines, want 1:\n%s", n, stdout)
	}

	if _, _, err := executeCommand(newTestRoot(), "events", "delete", "--config", cfg, "run-1"); err != nil {
		t.Fatalf("events delete error = %v", err)
	}
	_, _, err = executeCommand(newTestRoot(), "events", "delete", "--config", cfg, "run-1")
	wantExit(t, err, exitFileNotFound)
}

// --- nodes ---

func TestNodes_ListsCatalog(t *testing.T) {
	stdout, _, err := executeCommand(newTestRoot(), "nodes")
	if err != nil {
		t.Fatalf("nodes error = %v", err)
	}
	for _, want := range []string{"special/start", "flow/join", "loop/while", "stream/counter", "http/webhook"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("nodes output missing %s", want)
		}
	}
}

func TestNodes_DescribeJSON(t *testing.T) {
	stdout, _, err := executeCommand(newTestRoot(), "nodes", "--json", "math/add")
	if err != nil {
		t.Fatalf("nodes error = %v", err)
	}
	if !strings.Contains(stdout, `"type": "math/add"`) || !strings.Contains(stdout, `"archetype": "pure"`) {
		t.Errorf("nodes --json = %s", stdout)
	}

	_, _, err = executeCommand(newTestRoot(), "nodes", "nope/nope")
	wantExit(t, err, exitValidation)
}

// --- convert ---

func TestConvert_JSONToYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "sum.json", sumGraphJSON)

	stdout, _, err := executeCommand(newTestRoot(), "convert", "--to", "yaml", path)
	if err != nil {
		t.Fatalf("convert error = %v", err)
	}
	for _, want := range []string{"id: sum", "type: math/add", "sourceHandle: result"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("convert output missing %q:\n%s", want, stdout)
		}
	}

	// The converted file runs like the original.
	dir2 := t.TempDir()
	yamlPath := writeTestFile(t, dir2, "sum.yaml", stdout)
	out, _, err := executeCommand(newTestRoot(), "run", "--config", testConfig(t, dir2, ""), yamlPath)
	if err != nil {
		t.Fatalf("run converted error = %v", err)
	}
	if !strings.Contains(out, `"total": 3`) {
		t.Errorf("run converted = %q", out)
	}
}

func TestConvert_RejectsHCLTarget(t *testing.T) {
	path := writeTestFile(t, t.TempDir(), "sum.json", sumGraphJSON)
	_, _, err := executeCommand(newTestRoot(), "convert", "--to", "hcl", path)
	wantExit(t, err, exitInputParse)
}

// --- schedule ---

func TestSchedule_List(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "echo.yaml", echoGraphYAML)
	cfg := testConfig(t, dir, `schedules:
  - name: nightly
    cron: "0 2 * * *"
    graph: echo.yaml
    input:
      amount: 500
`)

	stdout, _, err := executeCommand(newTestRoot(), "schedule", "--config", cfg, "--list")
	if err != nil {
		t.Fatalf("schedule --list error = %v", err)
	}
	for _, want := range []string{"nightly", "0 2 * * *", "echo", "T02:00:00Z"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("schedule --list missing %q:\n%s", want, stdout)
		}
	}
}

func TestSchedule_Errors(t *testing.T) {
	dir := t.TempDir()
	_, _, err := executeCommand(newTestRoot(), "schedule", "--config", testConfig(t, dir, ""), "--list")
	wantExit(t, err, exitConfig)

	dir2 := t.TempDir()
	cfg := testConfig(t, dir2, "schedules:\n  - {name: a, cron: '@daily', graph: missing.yaml}\n")
	_, _, err = executeCommand(newTestRoot(), "schedule", "--config", cfg, "--list")
	wantExit(t, err, exitFileNotFound)
}

func TestServe_InvalidSettings(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir, "")
	_, _, err := executeCommand(newTestRoot(), "serve", "--config", cfg, "--store", "postgres")
	wantExit(t, err, exitConfig)
}

func TestServe_SchedulesWithMissingGraph(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir, "schedules:\n  - {name: a, cron: '@daily', graph: missing.yaml}\n")
	_, _, err := executeCommand(newTestRoot(), "serve", "--config", cfg, "--schedules", "--port", "0")
	wantExit(t, err, exitFileNotFound)
}
