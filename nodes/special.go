package nodes

import (
	"context"

	"github.com/petal-labs/signalflow/core"
)

func startDefinition() core.Definition {
	return core.Definition{
		Type:        TypeStart,
		Version:     Version,
		Archetype:   core.ArchetypeAction,
		Category:    "special",
		DisplayName: "Start",
		Description: "Entry point of a workflow. When triggered with data, the data becomes its output",
		Ports: []core.Port{
			core.ControlIn(core.PortIn),
			core.ControlOut(core.PortOut),
		},
		Triggerable: true,
		Run: func(_ context.Context, p core.RunParams) (core.NodeOutput, error) {
			return p.Input.Clone(), nil
		},
	}
}

func endDefinition() core.Definition {
	return core.Definition{
		Type:        TypeEnd,
		Version:     Version,
		Archetype:   core.ArchetypeAction,
		Category:    "special",
		DisplayName: "End",
		Description: "Marks a workflow result. The run returns its result input under the node's label",
		Ports: []core.Port{
			core.ControlIn(core.PortIn),
			core.DataIn(core.PortResult, "any", nil),
		},
		Run: func(_ context.Context, p core.RunParams) (core.NodeOutput, error) {
			return core.NodeOutput{core.PortResult: p.Input[core.PortResult]}, nil
		},
	}
}

// graph/input values are injected by the runtime from the enclosing loop or
// compound node; the definition only declares the port.
func graphInputDefinition() core.Definition {
	return core.Definition{
		Type:        TypeGraphInput,
		Version:     Version,
		Archetype:   core.ArchetypePure,
		Category:    "graph",
		DisplayName: "Graph Input",
		Description: "Exposes an input of the enclosing node inside its subgraph",
		Ports: []core.Port{
			core.DataOut(core.PortValue, "any"),
		},
		Properties: []core.Property{
			{Name: core.PropPortName, Label: "Port name"},
		},
	}
}

// graph/output is read by the runtime after the subgraph drains.
func graphOutputDefinition() core.Definition {
	return core.Definition{
		Type:        TypeGraphOutput,
		Version:     Version,
		Archetype:   core.ArchetypePure,
		Category:    "graph",
		DisplayName: "Graph Output",
		Description: "Publishes a subgraph value as an output of the enclosing node",
		Ports: []core.Port{
			core.DataIn(core.PortValue, "any", nil),
		},
		Properties: []core.Property{
			{Name: core.PropPortName, Label: "Port name"},
		},
	}
}

func constantDefinition() core.Definition {
	return core.Definition{
		Type:        TypeConstant,
		Version:     Version,
		Archetype:   core.ArchetypePure,
		Category:    "data",
		DisplayName: "Constant",
		Description: "Outputs its configured value",
		Ports: []core.Port{
			core.DataOut(core.PortValue, "any"),
		},
		Properties: []core.Property{
			{Name: core.PortValue, Label: "Value"},
		},
		Run: func(_ context.Context, p core.RunParams) (core.NodeOutput, error) {
			return core.NodeOutput{core.PortValue: p.Params[core.PortValue]}, nil
		},
	}
}
