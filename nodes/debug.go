package nodes

import (
	"context"

	"github.com/petal-labs/signalflow/core"
)

// LogEvent is the custom event name debug/log publishes.
const LogEvent = "log"

func logDefinition() core.Definition {
	return core.Definition{
		Type:        TypeLog,
		Version:     Version,
		Archetype:   core.ArchetypeAction,
		Category:    "debug",
		DisplayName: "Log",
		Description: "Logs its value and publishes it as a custom event",
		Ports: []core.Port{
			core.ControlIn(core.PortIn),
			core.DataIn(core.PortValue, "any", nil),
			core.ControlOut(core.PortOut),
			core.DataOut(core.PortResult, "any"),
		},
		Properties: []core.Property{
			{Name: "message", Label: "Message", Default: "value"},
		},
		Run: func(_ context.Context, p core.RunParams) (core.NodeOutput, error) {
			v := p.Input[core.PortValue]
			if p.Logger != nil {
				p.Logger.Info(paramString(p.Params, "message"), "value", v)
			}
			if p.Hooks != nil {
				p.Hooks.OnCustomEvent(LogEvent, v)
			}
			return core.NodeOutput{core.PortResult: v}, nil
		},
	}
}

func suffixDefinition() core.Definition {
	return core.Definition{
		Type:        TypeSuffix,
		Version:     Version,
		Archetype:   core.ArchetypeAction,
		Category:    "text",
		DisplayName: "Suffix",
		Description: "Appends a suffix to a value, or to every element of a list",
		Ports: []core.Port{
			core.ControlIn(core.PortIn),
			core.DataIn(core.PortValue, "any", nil),
			core.ControlOut(core.PortOut),
			core.DataOut(core.PortResult, "any"),
		},
		Properties: []core.Property{
			{Name: "suffix", Label: "Suffix", Default: ""},
		},
		Run: func(_ context.Context, p core.RunParams) (core.NodeOutput, error) {
			suffix := paramString(p.Params, "suffix")
			v := p.Input[core.PortValue]
			if items, ok := toList(v); ok {
				out := make([]any, len(items))
				for i, item := range items {
					out[i] = toString(item) + suffix
				}
				return core.NodeOutput{core.PortResult: out}, nil
			}
			return core.NodeOutput{core.PortResult: toString(v) + suffix}, nil
		},
	}
}
