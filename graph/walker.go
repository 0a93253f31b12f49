package graph

import (
	"fmt"

	"github.com/petal-labs/signalflow/core"
)

type portKey struct {
	node string
	port string
}

// Walker answers structural queries over a fixed graph. Wiring invariants are
// checked lazily, when a lookup touches the offending port, never up front.
type Walker struct {
	g        *Graph
	defs     core.DefinitionSource
	nodes    map[string]*Node
	incoming map[portKey][]Edge
	outgoing map[portKey][]Edge
}

// NewWalker indexes g. defs resolves node types to definitions.
func NewWalker(g *Graph, defs core.DefinitionSource) *Walker {
	w := &Walker{
		g:        g,
		defs:     defs,
		nodes:    make(map[string]*Node, len(g.Nodes)),
		incoming: make(map[portKey][]Edge),
		outgoing: make(map[portKey][]Edge),
	}
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if _, dup := w.nodes[n.ID]; !dup {
			w.nodes[n.ID] = n
		}
	}
	for _, e := range g.Edges {
		in := portKey{e.Target, e.TargetHandle}
		out := portKey{e.Source, e.SourceHandle}
		w.incoming[in] = append(w.incoming[in], e)
		w.outgoing[out] = append(w.outgoing[out], e)
	}
	return w
}

// Graph returns the graph being walked.
func (w *Walker) Graph() *Graph {
	return w.g
}

// Node returns the node with the given id.
func (w *Walker) Node(id string) (*Node, error) {
	n, ok := w.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return n, nil
}

// Definition resolves the node's type to its definition.
func (w *Walker) Definition(n *Node) (*core.Definition, error) {
	def, ok := w.defs.Definition(n.Type, n.Version)
	if !ok {
		return nil, fmt.Errorf("%w: node %s has type %s@%s", ErrUnknownNodeType, n.ID, n.Type, n.Version)
	}
	return def, nil
}

// Ports returns the effective ports of n: the definition's ports with the
// instance's ports replacing same-named entries and appending new ones.
func (w *Walker) Ports(n *Node) ([]core.Port, error) {
	def, err := w.Definition(n)
	if err != nil {
		return nil, err
	}
	return mergePorts(def.Ports, n.Ports), nil
}

// Port returns the effective port named name on n.
func (w *Walker) Port(n *Node, name string) (core.Port, error) {
	ports, err := w.Ports(n)
	if err != nil {
		return core.Port{}, err
	}
	for _, p := range ports {
		if p.Name == name {
			return p, nil
		}
	}
	return core.Port{}, fmt.Errorf("%w: %s.%s", ErrPortNotFound, n.ID, name)
}

// PortsOf filters the effective ports of n by plane and direction.
func (w *Walker) PortsOf(n *Node, typ core.PortType, dir core.Direction) ([]core.Port, error) {
	ports, err := w.Ports(n)
	if err != nil {
		return nil, err
	}
	var out []core.Port
	for _, p := range ports {
		if p.Type == typ && p.Direction == dir {
			out = append(out, p)
		}
	}
	return out, nil
}

// UpstreamEdge returns the single edge feeding nodeID.port, or nil when the
// port is unwired.
//
// A data in-port with more than one source, or a control in-port with more
// than one source on anything but a join, is an ErrGraphIntegrity.
func (w *Walker) UpstreamEdge(nodeID, port string) (*Edge, error) {
	edges := w.incoming[portKey{nodeID, port}]
	if len(edges) == 0 {
		return nil, nil
	}

	n, err := w.Node(nodeID)
	if err != nil {
		return nil, err
	}
	p, err := w.Port(n, port)
	if err != nil {
		return nil, err
	}
	if p.Direction != core.DirectionIn {
		return nil, fmt.Errorf("%w: edge %s targets out-port %s.%s", ErrGraphIntegrity, edges[0].ID, nodeID, port)
	}

	if len(edges) > 1 {
		if p.IsData() {
			return nil, fmt.Errorf("%w: data port must have exactly one source: %s.%s has %d",
				ErrGraphIntegrity, nodeID, port, len(edges))
		}
		def, err := w.Definition(n)
		if err != nil {
			return nil, err
		}
		if def.Archetype != core.ArchetypeJoin {
			return nil, fmt.Errorf("%w: control port %s.%s has %d sources but %s is not a join",
				ErrGraphIntegrity, nodeID, port, len(edges), def.Archetype)
		}
	}

	e := edges[0]
	if err := w.checkSource(e); err != nil {
		return nil, err
	}
	return &e, nil
}

// DownstreamEdges returns every edge leaving nodeID.port in declaration order.
func (w *Walker) DownstreamEdges(nodeID, port string) []Edge {
	return w.outgoing[portKey{nodeID, port}]
}

// checkSource rejects edges whose source handle is a declared in-port.
// Undeclared source handles are allowed: nodes such as a triggered start
// expose whatever keys their output carries.
func (w *Walker) checkSource(e Edge) error {
	src, err := w.Node(e.Source)
	if err != nil {
		return err
	}
	ports, err := w.Ports(src)
	if err != nil {
		return err
	}
	for _, p := range ports {
		if p.Name == e.SourceHandle && p.Direction != core.DirectionOut {
			return fmt.Errorf("%w: edge %s leaves in-port %s.%s", ErrGraphIntegrity, e.ID, e.Source, e.SourceHandle)
		}
	}
	return nil
}

func mergePorts(declared, overrides []core.Port) []core.Port {
	if len(overrides) == 0 {
		return declared
	}
	out := make([]core.Port, 0, len(declared)+len(overrides))
	out = append(out, declared...)
	for _, o := range overrides {
		replaced := false
		for i := range out {
			if out[i].Name == o.Name {
				out[i] = o
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, o)
		}
	}
	return out
}
