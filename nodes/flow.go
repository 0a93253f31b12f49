package nodes

import "github.com/petal-labs/signalflow/core"

func mergeDefinition() core.Definition {
	return core.Definition{
		Type:        TypeMerge,
		Version:     Version,
		Archetype:   core.ArchetypeMerge,
		Category:    "flow",
		DisplayName: "Merge",
		Description: "Continues whenever any input fires",
		Ports: []core.Port{
			core.ControlIn("in1"),
			core.ControlIn("in2"),
			core.ControlOut(core.PortOut),
		},
	}
}

func forkDefinition() core.Definition {
	return core.Definition{
		Type:        TypeFork,
		Version:     Version,
		Archetype:   core.ArchetypeFork,
		Category:    "flow",
		DisplayName: "Fork",
		Description: "Continues on every output",
		Ports: []core.Port{
			core.ControlIn(core.PortIn),
			core.ControlOut("out1"),
			core.ControlOut("out2"),
		},
	}
}

func joinDefinition() core.Definition {
	return core.Definition{
		Type:        TypeJoin,
		Version:     Version,
		Archetype:   core.ArchetypeJoin,
		Category:    "flow",
		DisplayName: "Join",
		Description: "Continues once every input has fired",
		Ports: []core.Port{
			core.ControlIn("in1"),
			core.ControlIn("in2"),
			core.ControlOut(core.PortOut),
		},
	}
}

func forEachDefinition() core.Definition {
	return core.Definition{
		Type:        TypeForEach,
		Version:     Version,
		Archetype:   core.ArchetypeLoop,
		Loop:        core.LoopForEach,
		Category:    "flow",
		DisplayName: "For Each",
		Description: "Runs its subgraph once per array element with item and index bound",
		Ports: []core.Port{
			core.ControlIn(core.PortIn),
			core.DataIn(core.PortArray, "array", nil),
			core.ControlOut(core.PortLoopCompleted),
			core.DataOut("collected", "array"),
		},
	}
}

func whileDefinition() core.Definition {
	return core.Definition{
		Type:        TypeWhile,
		Version:     Version,
		Archetype:   core.ArchetypeLoop,
		Loop:        core.LoopWhile,
		Category:    "flow",
		DisplayName: "While",
		Description: "Runs its subgraph until the loopCondition output is false",
		Ports: []core.Port{
			core.ControlIn(core.PortIn),
			core.ControlOut(core.PortLoopCompleted),
			core.DataOut(core.PortIterations, "number"),
		},
	}
}

// graph/compound declares only control ports; instances add the data ports
// their subgraph exposes.
func compoundDefinition() core.Definition {
	return core.Definition{
		Type:        TypeCompound,
		Version:     Version,
		Archetype:   core.ArchetypeCompound,
		Category:    "graph",
		DisplayName: "Compound",
		Description: "Runs an embedded subgraph as a single node",
		Ports: []core.Port{
			core.ControlIn(core.PortIn),
			core.ControlOut(core.PortOut),
		},
	}
}
