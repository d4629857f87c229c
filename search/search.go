// Package search implements the joint-policy branch-and-bound over per-
// agent CRGs, dynamically decoupled via the coordination graph.
package search

import (
	"context"
	"math"

	"github.com/AlgTUDelft/core-solver/coordgraph"
	"github.com/AlgTUDelft/core-solver/corerr"
	"github.com/AlgTUDelft/core-solver/crg"
	"github.com/AlgTUDelft/core-solver/domain"
	"github.com/AlgTUDelft/core-solver/valuebound"
)

// Settings toggles the search's optimizations.
type Settings struct {
	BBPruning    bool
	BBTightening bool
	LocalCRI     bool
	DecoupleCRI  bool
	// OnProgress, if set, is called with (done, total) joint actions
	// evaluated at every findOptimal call, the recursive calls for
	// successor states included, not only at the top-level state.
	OnProgress func(done, total int)
}

// Transition is one agent's realized local move within a joint transition.
type Transition struct {
	Agent  domain.AgentID
	From   domain.LocalState
	Action domain.Action
	To     domain.LocalState
}

// candidate is one joint action's built successor set together with the
// joint bound used for pruning decisions.
type candidate struct {
	ja    *domain.JointAction
	subs  []*JTransition
	bound valuebound.Bound
}

// JTransition is a fully realized joint transition: the joint action taken,
// the joint successor state reached, and every participating agent's local
// transition (used by policy reconstruction to rebuild per-agent moves).
type JTransition struct {
	Action      *domain.JointAction
	Successor   *domain.JointState
	Probability float64
	Value       valuebound.StateValue
	Locals      []*Transition
}

// OptTransition is the search map's cache entry: the optimal expected
// value from a joint state onward, the chosen joint action, and the set of
// joint transitions realizing it (one per possible successor).
type OptTransition struct {
	Value       valuebound.StateValue
	Action      *domain.JointAction
	Transitions []*JTransition
	Decoupled   []*domain.JointState // non-nil when this state was decoupled into components
}

// Stats accumulates the top-level counters exposed in the solver's
// statistics output.
type Stats struct {
	StatesEvaluated  int64
	StatesRevisited  int64
	StatesTerminal   int64
	JointActionsEval int64
	PruneAttempts    int64
	PrunedOuter      int64
	PrunedInner      int64
	StatesDecoupled  int64
	SplitSizeSum     int64
	SplitCount       int64
}

// Searcher owns the per-agent CRGs, the coordination graph, the search
// cache, and accumulated statistics for one solve.
type Searcher struct {
	CRGs     map[domain.AgentID]*crg.Graph
	CG       *coordgraph.Graph
	Settings Settings
	Stats    Stats

	cache map[string]*OptTransition
	null  map[string]struct{} // keys with a null placeholder (cycle detection)
}

// New creates a searcher over the given per-agent CRGs and coordination
// graph.
func New(crgs map[domain.AgentID]*crg.Graph, cg *coordgraph.Graph, settings Settings) *Searcher {
	return &Searcher{
		CRGs:     crgs,
		CG:       cg,
		Settings: settings,
		cache:    make(map[string]*OptTransition),
		null:     make(map[string]struct{}),
	}
}

// Solve runs decoupleCRI over the initial joint state and returns the
// expected value.
func (s *Searcher) Solve(ctx context.Context, initial *domain.JointState) (valuebound.StateValue, error) {
	return s.decoupleCRI(ctx, initial)
}

// Cache exposes the finished search map for policy reconstruction.
func (s *Searcher) Cache() map[string]*OptTransition { return s.cache }

// decoupleCRI tests the coordination graph against s, recurses over its
// connected components separately when decoupling is enabled, and restores
// the graph's CRI flags before returning (§4.4.1).
func (s *Searcher) decoupleCRI(ctx context.Context, state *domain.JointState) (valuebound.StateValue, error) {
	if !s.Settings.DecoupleCRI {
		return s.findOptimal(ctx, state)
	}

	newCRI := s.CG.Update(state, false)
	components := s.CG.ConnectedComponents(state)

	if len(components) <= 1 {
		s.CG.Restore(newCRI)
		return s.findOptimal(ctx, state)
	}

	s.Stats.StatesDecoupled++
	s.Stats.SplitSizeSum += int64(len(components))
	s.Stats.SplitCount++

	var total valuebound.StateValue
	for _, comp := range components {
		v, err := s.findOptimal(ctx, comp)
		if err != nil {
			s.CG.Restore(newCRI)
			return valuebound.StateValue{}, err
		}
		total = total.Add(v)
	}

	key := state.CacheKey()
	s.cache[key] = &OptTransition{Value: total, Decoupled: components}

	s.CG.Restore(newCRI)
	return total, nil
}

// findOptimal is the branch-and-bound core of the search (§4.4.2).
func (s *Searcher) findOptimal(ctx context.Context, state *domain.JointState) (valuebound.StateValue, error) {
	if err := ctx.Err(); err != nil {
		return valuebound.StateValue{}, corerr.Timeout("findOptimal for state " + state.CacheKey())
	}

	key := state.CacheKey()
	if opt, ok := s.cache[key]; ok {
		s.Stats.StatesRevisited++
		return opt.Value, nil
	}
	if _, ok := s.null[key]; ok {
		return valuebound.StateValue{}, corerr.New(corerr.KindCacheViolation,
			"illegal re-entry into joint state "+key)
	}

	s.Stats.StatesEvaluated++

	if s.allTerminal(state) {
		s.Stats.StatesTerminal++
		s.cache[key] = &OptTransition{Value: valuebound.StateValue{}}
		return valuebound.StateValue{}, nil
	}

	s.null[key] = struct{}{}
	defer delete(s.null, key)

	jointActions, err := s.enumerateJointActions(state)
	if err != nil {
		return valuebound.StateValue{}, err
	}

	candidates := make([]*candidate, 0, len(jointActions))
	for _, ja := range jointActions {
		s.Stats.JointActionsEval++
		subs, bound, err := s.buildJointTransitions(state, ja)
		if err != nil {
			return valuebound.StateValue{}, err
		}
		candidates = append(candidates, &candidate{ja: ja, subs: subs, bound: bound})
	}

	lMax := math.Inf(-1)
	for _, c := range candidates {
		if l := c.bound.L.Total(); l > lMax {
			lMax = l
		}
	}

	if s.Settings.BBPruning {
		candidates = s.pruneOuter(candidates, lMax)
	}

	var bestValue valuebound.StateValue
	var bestSet bool
	var bestJA *domain.JointAction
	var bestTrans []*JTransition

	for i := 0; i < len(candidates); i++ {
		c := candidates[i]
		if s.Settings.OnProgress != nil {
			s.Settings.OnProgress(i+1, len(candidates))
		}
		value, err := s.expectedValue(ctx, c.subs)
		if err != nil {
			return valuebound.StateValue{}, err
		}

		if !bestSet || value.Total()-bestValue.Total() > corerr.Epsilon {
			bestValue = value
			bestJA = c.ja
			bestTrans = c.subs
			bestSet = true

			if s.Settings.BBTightening && lMax-value.Total() < corerr.Epsilon {
				lMax = value.Total()
				// Reprune only the not-yet-evaluated tail: candidates up to
				// and including i have already been evaluated and must not
				// be revisited or discarded retroactively.
				candidates = append(candidates[:i+1], s.repruneRemaining(candidates[i+1:], c, lMax)...)
			}
		}
	}

	s.cache[key] = &OptTransition{Value: bestValue, Action: bestJA, Transitions: bestTrans}
	return bestValue, nil
}

func (s *Searcher) allTerminal(state *domain.JointState) bool {
	for _, a := range state.Agents() {
		local, _ := state.State(a)
		if !s.CRGs[a].StateInfo(local).Terminal {
			return false
		}
	}
	return true
}

// enumerateJointActions takes the Cartesian product of each agent's
// CRG-available actions.
func (s *Searcher) enumerateJointActions(state *domain.JointState) ([]*domain.JointAction, error) {
	agents := state.Agents()
	actionsByAgent := make(map[domain.AgentID][]domain.Action, len(agents))
	for _, a := range agents {
		local, _ := state.State(a)
		actionsByAgent[a] = s.CRGs[a].AvailableActions(local)
	}

	result := []*domain.JointAction{domain.NewJointAction(state.Time)}
	for _, a := range agents {
		var next []*domain.JointAction
		for _, partial := range result {
			for _, act := range actionsByAgent[a] {
				ja := cloneJointAction(partial)
				ja.AddAgent(a, act)
				next = append(next, ja)
			}
		}
		result = next
	}
	return result, nil
}

func cloneJointAction(ja *domain.JointAction) *domain.JointAction {
	cp := domain.NewJointAction(ja.Time)
	for _, a := range ja.Agents() {
		act, _ := ja.Action(a)
		cp.AddAgent(a, act)
	}
	return cp
}

// buildJointTransitions enumerates the Cartesian product of every agent's
// local successors under ja, matching each against its CRG to accumulate
// reward, probability, and future bound (§4.4.2 step 6).
func (s *Searcher) buildJointTransitions(state *domain.JointState, ja *domain.JointAction) ([]*JTransition, valuebound.Bound, error) {
	agents := state.Agents()

	type localOpt struct {
		agent domain.AgentID
		trans *crg.Transition
	}

	successorSets := make([][]localOpt, len(agents))
	for i, a := range agents {
		local, _ := state.State(a)
		act, _ := ja.Action(a)
		info := s.CRGs[a].StateInfo(local)
		var opts []localOpt
		seen := make(map[string]bool)
		for _, t := range info.Transitions {
			if t.Action.Equal(act) && !seen[t.To.Key()] {
				seen[t.To.Key()] = true
				opts = append(opts, localOpt{agent: a, trans: t})
			}
		}
		if len(opts) == 0 {
			return nil, valuebound.Bound{}, corerr.New(corerr.KindAdapterViolation,
				"no CRG transition found for chosen action on agent "+local.Key())
		}
		successorSets[i] = opts
	}

	combos := [][]localOpt{{}}
	for _, opts := range successorSets {
		var next [][]localOpt
		for _, combo := range combos {
			for _, o := range opts {
				next = append(next, append(append([]localOpt(nil), combo...), o))
			}
		}
		combos = next
	}

	var results []*JTransition
	var bound valuebound.Bound
	probSum := 0.0

	for _, combo := range combos {
		succ := domain.NewJointState(state.Time + 1)
		locals := make([]*Transition, 0, len(combo))
		var value valuebound.StateValue
		var futureSum valuebound.Bound
		prob := 1.0

		for _, o := range combo {
			succ.Set(o.agent, o.trans.To)
		}
		for _, o := range combo {
			if g := s.CRGs[o.agent]; !g.StateInfo(o.trans.From).Independent {
				m, err := g.MatchTransitionFull(o.trans.From, o.trans.To, o.trans.Action, ja, state, succ)
				if err != nil {
					return nil, valuebound.Bound{}, err
				}
				o.trans = m
			}
			locals = append(locals, &Transition{Agent: o.agent, From: o.trans.From, Action: o.trans.Action, To: o.trans.To})
			value = value.Add(o.trans.Value)
			prob *= o.trans.Probability
			futureSum = futureSum.Add(s.CRGs[o.agent].ReturnBound(o.trans.To))
		}
		succ.RecordExecuted(state.ExecutedActions(), ja)

		results = append(results, &JTransition{
			Action: ja, Successor: succ, Probability: prob, Value: value, Locals: locals,
		})
		probSum += prob
		bound = bound.Add(valuebound.FromValue(futureSum, value).Scale(prob))
	}

	if math.Abs(probSum-1.0) > corerr.Epsilon {
		return nil, valuebound.Bound{}, corerr.New(corerr.KindAdapterViolation,
			"joint successor probabilities do not sum to 1")
	}

	return results, bound, nil
}

// pruneOuter removes every joint action whose upper bound falls below
// L_max - ε, keeping at least one candidate.
func (s *Searcher) pruneOuter(candidates []*candidate, lMax float64) []*candidate {
	s.Stats.PruneAttempts++
	var kept []*candidate
	for _, c := range candidates {
		if c.bound.U.Total() < lMax-corerr.Epsilon {
			s.Stats.PrunedOuter++
			continue
		}
		kept = append(kept, c)
	}
	if len(kept) == 0 {
		kept = candidates
	}
	return kept
}

// repruneRemaining applies the inner-loop tightening re-prune (§4.4.2 step
// 8): remove surviving candidates below the tightened lMax, but always
// retain the just-adopted best candidate.
func (s *Searcher) repruneRemaining(candidates []*candidate, best *candidate, lMax float64) []*candidate {
	var kept []*candidate
	for _, c := range candidates {
		if c == best || c.bound.U.Total() >= lMax-corerr.Epsilon {
			kept = append(kept, c)
			continue
		}
		s.Stats.PrunedInner++
	}
	return kept
}

// expectedValue recurses into each successor via decoupleCRI, folding in
// the immediate reward and scaling by the successor's probability.
func (s *Searcher) expectedValue(ctx context.Context, subs []*JTransition) (valuebound.StateValue, error) {
	var total valuebound.StateValue
	for _, jt := range subs {
		future, err := s.decoupleCRI(ctx, jt.Successor)
		if err != nil {
			return valuebound.StateValue{}, err
		}
		step := jt.Value.Add(future).Scale(jt.Probability)
		total = total.Add(step)
	}
	return total, nil
}
