package bpmn

import (
	"slices"
	"sync"
)

// Process is an immutable process graph. It is safe for concurrent use by
// any number of instances.
type Process struct {
	ID   string
	Name string

	nodes []*Node
	index map[string]*Node
	flows []*Flow

	reachMu sync.Mutex
	reach   map[reachKey]bool
}

type reachKey struct {
	from, to, avoid string
}

// Nodes returns the nodes in declaration order.
func (p *Process) Nodes() []*Node {
	return slices.Clone(p.nodes)
}

// Node returns the node with the given ID.
func (p *Process) Node(id string) (*Node, bool) {
	n, ok := p.index[NormalizeKey(id)]
	return n, ok
}

// Flows returns the flows in declaration order.
func (p *Process) Flows() []*Flow {
	return slices.Clone(p.flows)
}

// StartEvents returns the start events in declaration order.
func (p *Process) StartEvents() []*Node {
	var out []*Node
	for _, n := range p.nodes {
		if n.Kind == KindStartEvent {
			out = append(out, n)
		}
	}
	return out
}

// Reaches reports whether a token at from can reach to without passing
// through avoid. A node reaches itself. Results are memoized.
func (p *Process) Reaches(from, to, avoid string) bool {
	if from == to {
		return true
	}
	key := reachKey{from, to, avoid}

	p.reachMu.Lock()
	defer p.reachMu.Unlock()
	if r, ok := p.reach[key]; ok {
		return r
	}
	r := p.search(from, to, avoid)
	if p.reach == nil {
		p.reach = make(map[reachKey]bool)
	}
	p.reach[key] = r
	return r
}

// search is a breadth-first walk along outgoing flows.
func (p *Process) search(from, to, avoid string) bool {
	start, ok := p.index[from]
	if !ok {
		return false
	}
	seen := map[string]bool{from: true}
	queue := []*Node{start}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, f := range n.Outgoing {
			if f.Target == to {
				return true
			}
			if f.Target == avoid || seen[f.Target] {
				continue
			}
			seen[f.Target] = true
			if next, ok := p.index[f.Target]; ok {
				queue = append(queue, next)
			}
		}
	}
	return false
}

// Validate checks the structural rules of the graph and returns the first
// violation as a GraphInconsistency error.
func (p *Process) Validate() error {
	ids := make(map[string]bool, len(p.nodes))
	for _, n := range p.nodes {
		if n.ID == "" {
			return graphError(p.ID, "", "node with empty id")
		}
		if ids[n.ID] {
			return graphError(p.ID, n.ID, "duplicate node id %q", n.ID)
		}
		ids[n.ID] = true
		if !n.Kind.Valid() {
			return graphError(p.ID, n.ID, "unknown node kind %q", n.Kind)
		}
	}

	flowIDs := make(map[string]bool, len(p.flows))
	for _, f := range p.flows {
		if flowIDs[f.ID] || ids[f.ID] {
			return graphError(p.ID, f.Origin, "duplicate flow id %q", f.ID)
		}
		flowIDs[f.ID] = true
		if !ids[f.Origin] {
			return graphError(p.ID, f.Origin, "flow %q starts at unknown node %q", f.ID, f.Origin)
		}
		if !ids[f.Target] {
			return graphError(p.ID, f.Target, "flow %q ends at unknown node %q", f.ID, f.Target)
		}
	}

	for _, n := range p.nodes {
		defaults := 0
		for _, f := range n.Outgoing {
			if f.Default {
				defaults++
			}
		}
		switch {
		case defaults > 1:
			return graphError(p.ID, n.ID, "node %q has %d default flows", n.ID, defaults)
		case defaults > 0 && n.Kind == KindParallelGateway:
			return graphError(p.ID, n.ID, "parallel gateway %q cannot have a default flow", n.ID)
		case n.Kind == KindStartEvent && len(n.Incoming) > 0:
			return graphError(p.ID, n.ID, "start event %q has incoming flows", n.ID)
		case n.Kind == KindEndEvent && len(n.Outgoing) > 0:
			return graphError(p.ID, n.ID, "end event %q has outgoing flows", n.ID)
		case (n.Kind == KindCatchEvent || n.Kind == KindThrowEvent) && n.Message == nil:
			return graphError(p.ID, n.ID, "%s %q has no message definition", n.Kind, n.ID)
		}
	}
	return nil
}
