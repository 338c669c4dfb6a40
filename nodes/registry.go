package nodes

import (
	"slices"
	"strings"
	"sync"
)

// NodeDefinition describes a built-in node for discovery by tooling.
type NodeDefinition struct {
	ID          string
	Description string
	// DSL is the flow-script line that creates the node, empty when the
	// node is only available from Go.
	DSL     string
	Example string
}

var catalog = struct {
	sync.RWMutex
	defs map[string]NodeDefinition
}{defs: make(map[string]NodeDefinition)}

// RegisterNode adds def to the catalog, replacing any definition with the
// same ID. Definitions without an ID are ignored.
func RegisterNode(def NodeDefinition) {
	if def.ID == "" {
		return
	}
	catalog.Lock()
	defer catalog.Unlock()
	catalog.defs[def.ID] = def
}

// RegisteredNodes returns every definition ordered by ID.
func RegisteredNodes() []NodeDefinition {
	catalog.RLock()
	defer catalog.RUnlock()
	defs := make([]NodeDefinition, 0, len(catalog.defs))
	for _, def := range catalog.defs {
		defs = append(defs, def)
	}
	slices.SortFunc(defs, func(a, b NodeDefinition) int {
		return strings.Compare(a.ID, b.ID)
	})
	return defs
}

func NodeDefinitionFor(id string) (NodeDefinition, bool) {
	catalog.RLock()
	defer catalog.RUnlock()
	def, ok := catalog.defs[id]
	return def, ok
}
