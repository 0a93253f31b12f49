// Package nodes provides the built-in SignalFlow node catalog.
//
// Every node type is a core.Definition. Builtins returns the whole catalog;
// register it into a registry.Registry before running graphs that use it.
package nodes

import "github.com/petal-labs/signalflow/core"

// Built-in node type names.
const (
	TypeStart       = core.TypeStart
	TypeEnd         = core.TypeEnd
	TypeGraphInput  = core.TypeGraphInput
	TypeGraphOutput = core.TypeGraphOutput
	TypeConstant    = "data/constant"
	TypeAdd         = "math/add"
	TypeCompare     = "math/compare"
	TypeAnd         = "logic/and"
	TypeNot         = "logic/not"
	TypeBranch      = "logic/branch"
	TypeMerge       = "flow/merge"
	TypeFork        = "flow/fork"
	TypeJoin        = "flow/join"
	TypeForEach     = "loop/for-each"
	TypeWhile       = "loop/while"
	TypeCompound    = "graph/compound"
	TypeLog         = "debug/log"
	TypeSuffix      = "text/suffix"
	TypeWebhook     = "http/webhook"
	TypeCounter     = "stream/counter"
)

// Version is the version every built-in is registered under.
const Version = "1.0.0"

// Builtins returns the built-in catalog in a stable order.
func Builtins() []core.Definition {
	return []core.Definition{
		startDefinition(),
		endDefinition(),
		graphInputDefinition(),
		graphOutputDefinition(),
		constantDefinition(),
		addDefinition(),
		compareDefinition(),
		andDefinition(),
		notDefinition(),
		branchDefinition(),
		mergeDefinition(),
		forkDefinition(),
		joinDefinition(),
		forEachDefinition(),
		whileDefinition(),
		compoundDefinition(),
		logDefinition(),
		suffixDefinition(),
		webhookDefinition(),
		counterDefinition(),
	}
}
