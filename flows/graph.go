package flows

import (
	"fmt"
	"strings"

	"github.com/forechoandlook/goflow"
)

// GraphNode is a node in the serialisable view of a flow.
type GraphNode struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// GraphEdge is a transition. An empty Action is the default transition.
type GraphEdge struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Action string `json:"action,omitempty"`
}

type Graph struct {
	Start string      `json:"start"`
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// Graph walks every node reachable from the start node. Nodes are keyed by
// identity, so two distinct nodes sharing a name get distinct IDs.
func (f *Flow) Graph() Graph {
	g := Graph{Nodes: []GraphNode{}, Edges: []GraphEdge{}}
	if f.start == nil {
		return g
	}

	ids := make(map[Node]string)
	used := make(map[string]int)
	var queue []Node

	visit := func(n Node) string {
		if id, ok := ids[n]; ok {
			return id
		}
		id := n.Name()
		used[id]++
		if used[id] > 1 {
			id = fmt.Sprintf("%s#%d", id, used[id])
		}
		ids[n] = id
		g.Nodes = append(g.Nodes, GraphNode{ID: id, Name: n.Name(), Type: nodeType(n)})
		queue = append(queue, n)
		return id
	}

	g.Start = visit(f.start)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		from := ids[current]
		successors := current.Successors()
		if next := successors.Default(); next != nil {
			g.Edges = append(g.Edges, GraphEdge{From: from, To: visit(next)})
		}
		for _, action := range successors.Actions() {
			next, _ := successors.Lookup(action)
			g.Edges = append(g.Edges, GraphEdge{From: from, To: visit(next), Action: string(action)})
		}
	}
	return g
}

func nodeType(n goflow.Node) string {
	name := fmt.Sprintf("%T", n)
	name = strings.TrimPrefix(name, "*")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}
