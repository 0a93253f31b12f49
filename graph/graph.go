// Package graph holds the workflow graph model and the structural queries the
// runtime performs over it.
package graph

import (
	"fmt"
	"strings"

	"github.com/petal-labs/signalflow/core"
)

// Graph is a set of node instances and the edges between them. It describes
// either a whole workflow or a single node's subgraph. The runtime never
// mutates a Graph.
type Graph struct {
	ID            string `json:"id,omitempty" yaml:"id,omitempty"`
	Name          string `json:"name,omitempty" yaml:"name,omitempty"`
	SchemaVersion string `json:"schema_version,omitempty" yaml:"schema_version,omitempty"`
	Nodes         []Node `json:"nodes" yaml:"nodes"`
	Edges         []Edge `json:"edges" yaml:"edges"`
}

// Node is one instance of a node type inside a graph.
type Node struct {
	ID         string         `json:"id" yaml:"id"`
	Type       string         `json:"type" yaml:"type"`
	Version    string         `json:"version,omitempty" yaml:"version,omitempty"`
	Label      string         `json:"label,omitempty" yaml:"label,omitempty"`
	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`

	// Ports overrides or extends the definition's ports for this instance.
	Ports []core.Port `json:"ports,omitempty" yaml:"ports,omitempty"`

	// Subgraph is only meaningful for loop and compound archetypes.
	Subgraph *Graph `json:"subgraph,omitempty" yaml:"subgraph,omitempty"`
}

// DisplayName returns the label, falling back to the id.
func (n *Node) DisplayName() string {
	if n.Label != "" {
		return n.Label
	}
	return n.ID
}

// Property returns a configured property value.
func (n *Node) Property(name string) (any, bool) {
	v, ok := n.Properties[name]
	return v, ok
}

// Edge wires an out-port of one node to an in-port of another.
type Edge struct {
	ID           string `json:"id,omitempty" yaml:"id,omitempty"`
	Source       string `json:"source" yaml:"source"`
	SourceHandle string `json:"sourceHandle" yaml:"sourceHandle"`
	Target       string `json:"target" yaml:"target"`
	TargetHandle string `json:"targetHandle" yaml:"targetHandle"`
	DataType     string `json:"dataType,omitempty" yaml:"dataType,omitempty"`
}

// String implements fmt.Stringer.
func (e Edge) String() string {
	return fmt.Sprintf("%s.%s -> %s.%s", e.Source, e.SourceHandle, e.Target, e.TargetHandle)
}

// New creates an empty graph.
func New(id string) *Graph {
	return &Graph{ID: id}
}

// AddNode appends a node and returns the graph for chaining.
func (g *Graph) AddNode(n Node) *Graph {
	g.Nodes = append(g.Nodes, n)
	return g
}

// Connect wires "node.port" to "node.port". The edge id is derived from the
// endpoints.
func (g *Graph) Connect(from, to string) *Graph {
	src, srcPort := splitEndpoint(from)
	dst, dstPort := splitEndpoint(to)
	g.Edges = append(g.Edges, Edge{
		ID:           fmt.Sprintf("e%d:%s->%s", len(g.Edges)+1, from, to),
		Source:       src,
		SourceHandle: srcPort,
		Target:       dst,
		TargetHandle: dstPort,
	})
	return g
}

// NodeByID returns the node with the given id.
func (g *Graph) NodeByID(id string) (*Node, bool) {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i], true
		}
	}
	return nil, false
}

// NodesOfType returns every node of the given type in declaration order.
func (g *Graph) NodesOfType(typeName string) []*Node {
	var out []*Node
	for i := range g.Nodes {
		if g.Nodes[i].Type == typeName {
			out = append(out, &g.Nodes[i])
		}
	}
	return out
}

func splitEndpoint(s string) (string, string) {
	i := strings.LastIndex(s, ".")
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i+1:]
}
