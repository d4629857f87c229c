// Package coordgraph implements the meta-graph of agents connected by
// "not yet CRI" reward functions. Its connected components drive the
// policy search's dynamic decoupling (§4.4.3).
package coordgraph

import (
	"github.com/AlgTUDelft/core-solver/domain"
	"github.com/AlgTUDelft/core-solver/reward"
)

// Edge connects two agents via a shared-scope reward function. It carries
// a CRI flag, initially false, flipped once the reward reports the two
// agents conditionally reward-independent from a given joint state onward.
type Edge struct {
	Reward reward.Reward
	A1, A2 domain.AgentID
	cri    bool
}

// IsCRI reports whether this edge is currently flagged independent.
func (e *Edge) IsCRI() bool { return e.cri }

func (e *Edge) other(a domain.AgentID) domain.AgentID {
	if a == e.A1 {
		return e.A2
	}
	return e.A1
}

func (e *Edge) inScope(agents map[domain.AgentID]struct{}) bool {
	_, ok1 := agents[e.A1]
	_, ok2 := agents[e.A2]
	return ok1 && ok2
}

// Graph is the coordination graph: agent nodes plus reward edges (one per
// ordered pair of scope agents, per reward of scope ≥ 2), and the current
// connected-components partition over not-yet-CRI edges.
type Graph struct {
	agents     []domain.AgentID
	edgesByAgt map[domain.AgentID][]*Edge
	edges      []*Edge
	components [][]domain.AgentID
}

// New builds a coordination graph from the instance's rewards. Single-
// agent-scope rewards contribute no edges.
func New(rewards []reward.Reward) *Graph {
	seen := make(map[domain.AgentID]struct{})
	for _, r := range rewards {
		for _, a := range r.Scope() {
			seen[a] = struct{}{}
		}
	}
	agents := make([]domain.AgentID, 0, len(seen))
	for a := range seen {
		agents = append(agents, a)
	}

	g := &Graph{agents: agents, edgesByAgt: make(map[domain.AgentID][]*Edge)}
	for _, r := range rewards {
		scope := r.Scope()
		if len(scope) < 2 {
			continue
		}
		for _, a1 := range scope {
			for _, a2 := range scope {
				if a1 == a2 {
					continue
				}
				e := &Edge{Reward: r, A1: a1, A2: a2}
				g.edges = append(g.edges, e)
				g.edgesByAgt[a1] = append(g.edgesByAgt[a1], e)
			}
		}
	}

	g.updateComponents()
	return g
}

// Update tests every not-yet-CRI edge whose endpoints are both in state's
// agent set against the reward's CRI predicate, flags those that pass, and
// — if any were flagged or forceUpdate is set — rebuilds the connected
// components. It returns the edges newly flagged, so the caller can
// restore them (stack discipline, §4.4.1 step 5).
func (g *Graph) Update(state *domain.JointState, forceUpdate bool) []*Edge {
	inState := make(map[domain.AgentID]struct{})
	for _, a := range state.Agents() {
		inState[a] = struct{}{}
	}

	var newCRI []*Edge
	for _, e := range g.edges {
		if e.cri || !e.inScope(inState) {
			continue
		}
		if e.Reward.CRI(e.A1, e.A2, state) {
			e.cri = true
			newCRI = append(newCRI, e)
		}
	}

	if forceUpdate || len(newCRI) > 0 {
		g.updateComponents()
	}
	return newCRI
}

// Restore unflags the given edges and rebuilds connected components,
// undoing an Update (the strict push/pop stack discipline of §4.4.1 step
// 5/§5).
func (g *Graph) Restore(edges []*Edge) {
	for _, e := range edges {
		e.cri = false
	}
	g.updateComponents()
}

// updateComponents walks only not-yet-CRI edges to partition the agent set
// into connected components.
func (g *Graph) updateComponents() {
	remaining := make(map[domain.AgentID]struct{}, len(g.agents))
	for _, a := range g.agents {
		remaining[a] = struct{}{}
	}

	var components [][]domain.AgentID
	for len(remaining) > 0 {
		var start domain.AgentID
		for a := range remaining {
			start = a
			break
		}

		var component []domain.AgentID
		stack := []domain.AgentID{start}
		for len(stack) > 0 {
			a := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if _, ok := remaining[a]; !ok {
				continue
			}
			delete(remaining, a)
			component = append(component, a)

			for _, e := range g.edgesByAgt[a] {
				if e.cri {
					continue
				}
				na := e.other(a)
				if _, ok := remaining[na]; ok {
					stack = append(stack, na)
				}
			}
		}
		components = append(components, component)
	}
	g.components = components
}

// ConnectedComponents returns, for every component fully contained within
// state's agent set, the sub-joint-state scoped to that component's
// agents.
func (g *Graph) ConnectedComponents(state *domain.JointState) []*domain.JointState {
	var out []*domain.JointState
	for _, c := range g.components {
		ok := true
		for _, a := range c {
			if !state.Has(a) {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		s := domain.NewJointState(state.Time)
		for _, a := range c {
			local, _ := state.State(a)
			s.Set(a, local)
		}
		out = append(out, s)
	}
	return out
}
