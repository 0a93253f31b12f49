package graph

import "errors"

// Structural errors. They abort a run because the graph cannot be interpreted.
var (
	ErrGraphIntegrity  = errors.New("graph integrity violation")
	ErrNodeNotFound    = errors.New("node not found")
	ErrPortNotFound    = errors.New("port not found")
	ErrUnknownNodeType = errors.New("unknown node type")
)
