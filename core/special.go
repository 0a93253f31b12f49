package core

// Node types the runtime treats specially.
const (
	TypeStart       = "special/start"
	TypeEnd         = "special/end"
	TypeGraphInput  = "graph/input"
	TypeGraphOutput = "graph/output"
)

// Well-known port names.
const (
	PortIn            = "in"
	PortOut           = "out"
	PortResult        = "result"
	PortValue         = "value"
	PortCondition     = "condition"
	PortTrue          = "true"
	PortFalse         = "false"
	PortArray         = "array"
	PortItem          = "item"
	PortIndex         = "index"
	PortLoopCompleted = "loopCompleted"
	PortLoopCondition = "loopCondition"
	PortIterations    = "iterations"
)

// PropPortName is the property graph/input and graph/output proxies use to
// name the enclosing node's port they stand for.
const PropPortName = "portName"

// ProxyPortName returns the enclosing port a graph/input or graph/output proxy
// is bound to: its portName property, else its label, else its id.
func ProxyPortName(id, label string, props map[string]any) string {
	if s, ok := props[PropPortName].(string); ok && s != "" {
		return s
	}
	if label != "" {
		return label
	}
	return id
}
