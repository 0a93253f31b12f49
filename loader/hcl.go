package loader

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/petal-labs/signalflow/core"
	"github.com/petal-labs/signalflow/graph"
)

// HCL graph files look like:
//
//	id = "orders"
//
//	node "check" {
//	  type = "math/compare"
//	  properties = { operator = ">" }
//	}
//
//	node "loop" {
//	  type = "loop/for-each"
//	  subgraph {
//	    node "item" { ... }
//	  }
//	}
//
//	edge {
//	  from = "start.out"
//	  to   = "check.in"
//	}
type hclGraph struct {
	ID            string    `hcl:"id,optional"`
	Name          string    `hcl:"name,optional"`
	SchemaVersion string    `hcl:"schema_version,optional"`
	Nodes         []hclNode `hcl:"node,block"`
	Edges         []hclEdge `hcl:"edge,block"`
}

type hclNode struct {
	ID         string         `hcl:"id,label"`
	Type       string         `hcl:"type"`
	Version    string         `hcl:"version,optional"`
	Label      string         `hcl:"label,optional"`
	Properties hcl.Expression `hcl:"properties,optional"`
	Ports      []hclPort      `hcl:"port,block"`
	Subgraph   *hclGraph      `hcl:"subgraph,block"`
}

type hclPort struct {
	Name      string         `hcl:"name,label"`
	Type      string         `hcl:"type"`
	Direction string         `hcl:"direction"`
	Label     string         `hcl:"label,optional"`
	DataType  string         `hcl:"data_type,optional"`
	Default   hcl.Expression `hcl:"default,optional"`
}

type hclEdge struct {
	ID       string `hcl:"id,optional"`
	From     string `hcl:"from"`
	To       string `hcl:"to"`
	DataType string `hcl:"data_type,optional"`
}

func parseHCL(data []byte, filename string) (*graph.Graph, error) {
	if filename == "" {
		filename = "graph.hcl"
	}
	file, diags := hclparse.NewParser().ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, diags
	}
	var doc hclGraph
	if diags := gohcl.DecodeBody(file.Body, nil, &doc); diags.HasErrors() {
		return nil, diags
	}
	return doc.toGraph()
}

func (h *hclGraph) toGraph() (*graph.Graph, error) {
	g := &graph.Graph{ID: h.ID, Name: h.Name, SchemaVersion: h.SchemaVersion}
	for _, hn := range h.Nodes {
		n, err := hn.toNode()
		if err != nil {
			return nil, err
		}
		g.Nodes = append(g.Nodes, n)
	}
	for _, he := range h.Edges {
		before := len(g.Edges)
		g.Connect(he.From, he.To)
		e := &g.Edges[before]
		if he.ID != "" {
			e.ID = he.ID
		}
		e.DataType = he.DataType
	}
	return g, nil
}

func (hn hclNode) toNode() (graph.Node, error) {
	n := graph.Node{ID: hn.ID, Type: hn.Type, Version: hn.Version, Label: hn.Label}

	props, err := evalNative(hn.Properties)
	if err != nil {
		return n, fmt.Errorf("node %s properties: %w", hn.ID, err)
	}
	if props != nil {
		m, ok := props.(map[string]any)
		if !ok {
			return n, fmt.Errorf("node %s properties: want an object, got %T", hn.ID, props)
		}
		n.Properties = m
	}

	for _, hp := range hn.Ports {
		def, err := evalNative(hp.Default)
		if err != nil {
			return n, fmt.Errorf("node %s port %s default: %w", hn.ID, hp.Name, err)
		}
		n.Ports = append(n.Ports, core.Port{
			Name:      hp.Name,
			Label:     hp.Label,
			Type:      core.PortType(hp.Type),
			Direction: core.Direction(hp.Direction),
			DataType:  hp.DataType,
			Default:   def,
		})
	}

	if hn.Subgraph != nil {
		sub, err := hn.Subgraph.toGraph()
		if err != nil {
			return n, fmt.Errorf("node %s subgraph: %w", hn.ID, err)
		}
		if sub.ID == "" {
			sub.ID = hn.ID
		}
		n.Subgraph = sub
	}
	return n, nil
}

// evalNative evaluates a literal expression. Graph files have no variables,
// so any reference is an error.
func evalNative(expr hcl.Expression) (any, error) {
	if expr == nil {
		return nil, nil
	}
	v, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, diags
	}
	return ctyToNative(v)
}

// ctyToNative converts a cty value to the shapes encoding/json produces:
// float64 numbers, []any lists and map[string]any objects.
func ctyToNative(v cty.Value) (any, error) {
	if v.IsNull() || !v.IsKnown() {
		return nil, nil
	}
	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString(), nil
	case ty == cty.Number:
		f, _ := v.AsBigFloat().Float64()
		return f, nil
	case ty == cty.Bool:
		return v.True(), nil
	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		out := make([]any, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			nv, err := ctyToNative(ev)
			if err != nil {
				return nil, err
			}
			out = append(out, nv)
		}
		return out, nil
	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]any, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			k, ev := it.Element()
			nv, err := ctyToNative(ev)
			if err != nil {
				return nil, fmt.Errorf("in attribute %q: %w", k.AsString(), err)
			}
			out[k.AsString()] = nv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value type %s", ty.FriendlyName())
	}
}
