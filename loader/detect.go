// Package loader reads workflow graphs from JSON, YAML and HCL files.
package loader

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
)

// Format is a graph file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatHCL  Format = "hcl"
)

// ParseFormat maps a user-supplied name ("yml", "JSON") to a Format.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(name, ".")) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "hcl":
		return FormatHCL, nil
	default:
		return "", fmt.Errorf("unknown graph format %q", name)
	}
}

// DetectFormat picks the format from the file extension, falling back to
// sniffing the content: a leading '{' means JSON, `node "` blocks mean HCL,
// anything else is read as YAML.
func DetectFormat(path string, data []byte) Format {
	if f, err := ParseFormat(filepath.Ext(path)); err == nil {
		return f
	}
	trimmed := bytes.TrimSpace(data)
	switch {
	case bytes.HasPrefix(trimmed, []byte("{")):
		return FormatJSON
	case bytes.Contains(trimmed, []byte(`node "`)) || bytes.Contains(trimmed, []byte("edge {")):
		return FormatHCL
	default:
		return FormatYAML
	}
}
