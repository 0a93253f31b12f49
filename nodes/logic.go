package nodes

import (
	"context"
	"fmt"

	"github.com/petal-labs/signalflow/core"
)

// Comparison operators accepted by math/compare.
const (
	OpEqual        = "=="
	OpNotEqual     = "!="
	OpGreater      = ">"
	OpGreaterEqual = ">="
	OpLess         = "<"
	OpLessEqual    = "<="
)

func addDefinition() core.Definition {
	return core.Definition{
		Type:        TypeAdd,
		Version:     Version,
		Archetype:   core.ArchetypePure,
		Category:    "math",
		DisplayName: "Add",
		Description: "Adds two numbers",
		Ports: []core.Port{
			core.DataIn("a", "number", 0),
			core.DataIn("b", "number", 0),
			core.DataOut(core.PortResult, "number"),
		},
		Run: func(_ context.Context, p core.RunParams) (core.NodeOutput, error) {
			a, b := p.Input["a"], p.Input["b"]
			ai, aInt := a.(int)
			bi, bInt := b.(int)
			if aInt && bInt {
				return core.NodeOutput{core.PortResult: ai + bi}, nil
			}
			af, ok := toFloat64(a)
			if !ok {
				return nil, fmt.Errorf("a is %T, not a number", a)
			}
			bf, ok := toFloat64(b)
			if !ok {
				return nil, fmt.Errorf("b is %T, not a number", b)
			}
			return core.NodeOutput{core.PortResult: af + bf}, nil
		},
	}
}

func compareDefinition() core.Definition {
	return core.Definition{
		Type:        TypeCompare,
		Version:     Version,
		Archetype:   core.ArchetypePure,
		Category:    "math",
		DisplayName: "Compare",
		Description: "Compares a with b using the configured operator",
		Ports: []core.Port{
			core.DataIn("a", "any", nil),
			core.DataIn("b", "any", nil),
			core.DataOut(core.PortResult, "boolean"),
		},
		Properties: []core.Property{
			{Name: "operator", Label: "Operator", Default: OpEqual},
		},
		Run: func(_ context.Context, p core.RunParams) (core.NodeOutput, error) {
			c := compare(p.Input["a"], p.Input["b"])
			var r bool
			switch op := paramString(p.Params, "operator"); op {
			case OpEqual:
				r = c == 0
			case OpNotEqual:
				r = c != 0
			case OpGreater:
				r = c > 0
			case OpGreaterEqual:
				r = c >= 0
			case OpLess:
				r = c < 0
			case OpLessEqual:
				r = c <= 0
			default:
				return nil, fmt.Errorf("unknown operator %q", op)
			}
			return core.NodeOutput{core.PortResult: r}, nil
		},
	}
}

func andDefinition() core.Definition {
	return core.Definition{
		Type:        TypeAnd,
		Version:     Version,
		Archetype:   core.ArchetypePure,
		Category:    "logic",
		DisplayName: "And",
		Description: "True when both inputs are truthy",
		Ports: []core.Port{
			core.DataIn("a", "boolean", false),
			core.DataIn("b", "boolean", false),
			core.DataOut(core.PortResult, "boolean"),
		},
		Run: func(_ context.Context, p core.RunParams) (core.NodeOutput, error) {
			return core.NodeOutput{core.PortResult: isTruthy(p.Input["a"]) && isTruthy(p.Input["b"])}, nil
		},
	}
}

func notDefinition() core.Definition {
	return core.Definition{
		Type:        TypeNot,
		Version:     Version,
		Archetype:   core.ArchetypePure,
		Category:    "logic",
		DisplayName: "Not",
		Description: "Negates its input",
		Ports: []core.Port{
			core.DataIn(core.PortValue, "boolean", false),
			core.DataOut(core.PortResult, "boolean"),
		},
		Run: func(_ context.Context, p core.RunParams) (core.NodeOutput, error) {
			return core.NodeOutput{core.PortResult: !isTruthy(p.Input[core.PortValue])}, nil
		},
	}
}

// logic/branch has no behavior of its own: the runtime reads the condition
// input and fires true or false.
func branchDefinition() core.Definition {
	return core.Definition{
		Type:        TypeBranch,
		Version:     Version,
		Archetype:   core.ArchetypeBranch,
		Category:    "logic",
		DisplayName: "Branch",
		Description: "Continues on true or false depending on the condition",
		Ports: []core.Port{
			core.ControlIn(core.PortIn),
			core.DataIn(core.PortCondition, "boolean", false),
			core.ControlOut(core.PortTrue),
			core.ControlOut(core.PortFalse),
		},
	}
}
