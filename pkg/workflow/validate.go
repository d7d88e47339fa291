package workflow

import "fmt"

// Validate checks the structural shape of a workflow graph.
//
// Every node must be an object carrying "class_type" and "inputs"; the
// graph itself must be non-empty. This mirrors what the engine enforces
// before queueing a prompt, so failures surface locally instead of as
// opaque engine rejections.
func Validate(graph map[string]any) error {
	if len(graph) == 0 {
		return fmt.Errorf("%w: graph is empty", ErrInvalidGraph)
	}

	for nodeID, raw := range graph {
		node, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: node %s is not an object", ErrInvalidGraph, nodeID)
		}
		if _, ok := node["class_type"]; !ok {
			return fmt.Errorf("%w: node %s missing class_type", ErrInvalidGraph, nodeID)
		}
		if _, ok := node["inputs"]; !ok {
			return fmt.Errorf("%w: node %s missing inputs", ErrInvalidGraph, nodeID)
		}
	}
	return nil
}
