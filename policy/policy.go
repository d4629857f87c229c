// Package policy reconstructs the final queryable policy from a finished
// search map: decoupled states are recombined into a single optimal joint
// action and transition set over their full agent set.
package policy

import (
	"fmt"

	"github.com/AlgTUDelft/core-solver/domain"
	"github.com/AlgTUDelft/core-solver/search"
	"github.com/AlgTUDelft/core-solver/valuebound"
)

// Entry is the final, combined optimal-transition record for one reachable
// joint state.
type Entry struct {
	Action      *domain.JointAction
	Transitions []*search.JTransition
	Value       valuebound.StateValue
}

// Policy is the queryable result of a solve: a mapping from every
// reachable joint state to its combined optimal joint action.
type Policy struct {
	adapter domain.Adapter
	entries map[string]*Entry
	value   valuebound.StateValue
}

// Build walks the search map from the initial state downward, combining
// decoupled records into single entries over the full agent set (§4.4.4).
func Build(adapter domain.Adapter, cache map[string]*search.OptTransition, initial *domain.JointState) (*Policy, error) {
	p := &Policy{adapter: adapter, entries: make(map[string]*Entry)}
	v, err := p.combine(cache, initial)
	if err != nil {
		return nil, err
	}
	p.value = v
	return p, nil
}

// combine resolves state's entry, recursing through decoupled substates and
// merging their transitions via disjoint agent union, memoizing into
// p.entries keyed by the full joint state's cache key.
func (p *Policy) combine(cache map[string]*search.OptTransition, state *domain.JointState) (valuebound.StateValue, error) {
	key := state.CacheKey()
	if e, ok := p.entries[key]; ok {
		return e.Value, nil
	}

	opt, ok := cache[key]
	if !ok {
		return valuebound.StateValue{}, fmt.Errorf("policy: no search record for state %s", key)
	}

	if len(opt.Decoupled) == 0 {
		p.entries[key] = &Entry{Action: opt.Action, Transitions: opt.Transitions, Value: opt.Value}
		for _, t := range opt.Transitions {
			if _, err := p.combine(cache, t.Successor); err != nil {
				return valuebound.StateValue{}, err
			}
		}
		return opt.Value, nil
	}

	var combinedAction *domain.JointAction
	var combinedTrans []*search.JTransition
	first := true

	for _, comp := range opt.Decoupled {
		if _, err := p.combine(cache, comp); err != nil {
			return valuebound.StateValue{}, err
		}
		sub := p.entries[comp.CacheKey()]

		if first {
			combinedAction = sub.Action
			combinedTrans = sub.Transitions
			first = false
			continue
		}
		combinedAction = combineJointActions(combinedAction, sub.Action)
		combinedTrans = combineTransitionSets(combinedTrans, sub.Transitions)
	}

	p.entries[key] = &Entry{Action: combinedAction, Transitions: combinedTrans, Value: opt.Value}
	for _, t := range combinedTrans {
		if _, err := p.combine(cache, t.Successor); err != nil {
			return valuebound.StateValue{}, err
		}
	}
	return opt.Value, nil
}

// combineJointActions merges two joint actions over disjoint agent sets.
func combineJointActions(a, b *domain.JointAction) *domain.JointAction {
	out := domain.NewJointAction(a.Time)
	for _, ag := range a.Agents() {
		act, _ := a.Action(ag)
		out.AddAgent(ag, act)
	}
	for _, ag := range b.Agents() {
		act, _ := b.Action(ag)
		out.AddAgent(ag, act)
	}
	return out
}

// combineTransitionSets takes the Cartesian product of two components'
// transition sets, combining each pair via disjoint joint-state combine.
func combineTransitionSets(a, b []*search.JTransition) []*search.JTransition {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	out := make([]*search.JTransition, 0, len(a)*len(b))
	for _, ta := range a {
		for _, tb := range b {
			out = append(out, &search.JTransition{
				Action:      combineJointActions(ta.Action, tb.Action),
				Successor:   ta.Successor.Combine(tb.Successor),
				Probability: ta.Probability * tb.Probability,
				Value:       ta.Value.Add(tb.Value),
				Locals:      append(append([]*search.Transition(nil), ta.Locals...), tb.Locals...),
			})
		}
	}
	return out
}

// Query factors globalState through the adapter and returns the optimal
// joint action stored for it. Fails if the state lies outside the
// reachable set the policy was built over.
func (p *Policy) Query(globalState any) (*domain.JointAction, error) {
	js := p.adapter.FactorState(globalState)
	key := js.CacheKey()
	e, ok := p.entries[key]
	if !ok {
		return nil, fmt.Errorf("policy: no optimal action for state %s", key)
	}
	return e.Action, nil
}

// ExpectedValue returns the policy's expected value from the initial
// state.
func (p *Policy) ExpectedValue() valuebound.StateValue { return p.value }

// Entries exposes the full combined policy map, primarily for debug
// dumping.
func (p *Policy) Entries() map[string]*Entry { return p.entries }
