package loader

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/petal-labs/signalflow/graph"
)

// Encode renders g as JSON or YAML, stamping the current schema_version when
// g has none. HCL output is not supported.
func Encode(g *graph.Graph, format Format) ([]byte, error) {
	if g.SchemaVersion == "" {
		stamped := *g
		stamped.SchemaVersion = CurrentVersion.String()
		g = &stamped
	}
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(g, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case FormatYAML:
		return yaml.Marshal(g)
	default:
		return nil, fmt.Errorf("encoding %s graphs is not supported", format)
	}
}
