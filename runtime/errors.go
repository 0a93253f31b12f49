package runtime

import (
	"errors"

	"github.com/petal-labs/signalflow/graph"
)

// Runtime errors
var (
	// ErrExecutionOrder means a non-pure node's output was needed before the
	// node ran.
	ErrExecutionOrder = errors.New("execution order violation")

	ErrRunCanceled      = errors.New("run was canceled")
	ErrNoStartNode      = errors.New("no start node")
	ErrUnknownArchetype = errors.New("unknown archetype")

	// ErrNodeExecution wraps failures of a node's own behavior. These stay
	// local to the failing branch.
	ErrNodeExecution = errors.New("node execution failed")
)

// isStructural reports whether err must abort the whole run.
func isStructural(err error) bool {
	return errors.Is(err, graph.ErrGraphIntegrity) ||
		errors.Is(err, graph.ErrNodeNotFound) ||
		errors.Is(err, graph.ErrPortNotFound) ||
		errors.Is(err, graph.ErrUnknownNodeType) ||
		errors.Is(err, ErrExecutionOrder) ||
		errors.Is(err, ErrUnknownArchetype) ||
		errors.Is(err, ErrRunCanceled)
}

// IsGraphError reports whether err means the graph itself cannot be
// interpreted, as opposed to a node failing or the run being canceled.
func IsGraphError(err error) bool {
	return errors.Is(err, ErrNoStartNode) ||
		(isStructural(err) && !errors.Is(err, ErrRunCanceled))
}
