package loader

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/petal-labs/signalflow/graph"
)

// ErrInvalidGraph is returned for files that decode but do not describe a
// usable graph (missing node ids or types, dangling edge endpoints).
var ErrInvalidGraph = errors.New("invalid graph")

// ParseError reports where a graph file failed to load.
type ParseError struct {
	Path   string
	Format Format
	Err    error
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("parsing %s graph: %v", e.Format, e.Err)
	}
	return fmt.Sprintf("parsing %s graph %s: %v", e.Format, e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Load reads and decodes the graph file at path.
func Load(path string) (*graph.Graph, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from caller
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", path, err)
	}
	g, err := Parse(data, DetectFormat(path, data), path)
	if err != nil {
		return nil, err
	}
	if g.ID == "" {
		g.ID = defaultID(path)
	}
	return g, nil
}

// Parse decodes data in the given format. filename is only used in error
// messages and HCL diagnostics.
func Parse(data []byte, format Format, filename string) (*graph.Graph, error) {
	var (
		g   *graph.Graph
		err error
	)
	switch format {
	case FormatJSON:
		g, err = parseJSON(data)
	case FormatYAML:
		g, err = parseYAML(data)
	case FormatHCL:
		g, err = parseHCL(data, filename)
	default:
		err = fmt.Errorf("unsupported format %q", format)
	}
	if err == nil {
		err = checkVersion(g.SchemaVersion)
	}
	if err == nil {
		err = checkShape(g, "")
	}
	if err != nil {
		return nil, &ParseError{Path: filename, Format: format, Err: err}
	}
	return g, nil
}

func defaultID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func parseJSON(data []byte) (*graph.Graph, error) {
	var g graph.Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// parseYAML goes YAML -> generic value -> JSON -> graph.Graph so YAML and JSON
// files decode through the same struct tags and number handling.
func parseYAML(data []byte) (*graph.Graph, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidGraph)
	}
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	return parseJSON(jsonData)
}

// checkShape rejects files whose nodes or edges are not addressable: every
// node needs an id and a type, ids are unique, and every edge names both
// endpoints. Wiring itself is checked lazily by the engine.
func checkShape(g *graph.Graph, path string) error {
	seen := make(map[string]bool, len(g.Nodes))
	for i, n := range g.Nodes {
		if n.ID == "" {
			return fmt.Errorf("%w: %snode %d has no id", ErrInvalidGraph, path, i)
		}
		if n.Type == "" {
			return fmt.Errorf("%w: %snode %s has no type", ErrInvalidGraph, path, n.ID)
		}
		if seen[n.ID] {
			return fmt.Errorf("%w: %sduplicate node id %s", ErrInvalidGraph, path, n.ID)
		}
		seen[n.ID] = true
		if n.Subgraph != nil {
			if err := checkShape(n.Subgraph, path+n.ID+"/"); err != nil {
				return err
			}
		}
	}
	for i, e := range g.Edges {
		if e.Source == "" || e.SourceHandle == "" || e.Target == "" || e.TargetHandle == "" {
			return fmt.Errorf("%w: %sedge %d (%s) is missing an endpoint", ErrInvalidGraph, path, i, e)
		}
	}
	return nil
}
