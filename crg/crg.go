// Package crg builds and holds a per-agent Conditional Return Graph: the
// compact directed graph of local states and annotated transitions that
// lets the policy search evaluate a local transition under any coherent
// joint-action context without ever materializing the full joint MDP.
package crg

import (
	"context"
	"sort"
	"strconv"

	"github.com/AlgTUDelft/core-solver/corerr"
	"github.com/AlgTUDelft/core-solver/domain"
	"github.com/AlgTUDelft/core-solver/factored"
	"github.com/AlgTUDelft/core-solver/reward"
	"github.com/AlgTUDelft/core-solver/valuebound"
)

// actionItem adapts domain.Action to factored.Item so it can live in a
// dependency Collection.
type actionItem struct{ domain.Action }

func (a actionItem) OwnerAgent() int           { return int(a.Agent) }
func (a actionItem) EqualItem(o actionItem) bool { return a.Action.Equal(o.Action) }

// influenceItem adapts domain.InfluenceToken to factored.Item so it can
// live in an influence Collection. The owning agent is the (shared) agent
// of the From/To local states, per the original's invariant that an
// influence token always relates one other agent's own before/after
// states.
type influenceItem struct{ domain.InfluenceToken }

func (i influenceItem) OwnerAgent() int { return int(i.From.Agent) }
func (i influenceItem) EqualItem(o influenceItem) bool {
	return i.InfluenceToken.Equal(o.InfluenceToken)
}

// Transition is a fully-annotated CRG edge: a local transition carrying the
// dependency and influence factored collections, plus its precomputed
// reward and probability.
type Transition struct {
	From   domain.LocalState
	Action domain.Action
	To     domain.LocalState

	Dep  *factored.Collection[actionItem]
	Infl *factored.Collection[influenceItem]

	Value       valuebound.StateValue
	Probability float64
}

func newTransition(from domain.LocalState, action domain.Action, to domain.LocalState) *Transition {
	return &Transition{
		From: from, Action: action, To: to,
		Dep:  factored.New[actionItem](),
		Infl: factored.New[influenceItem](),
	}
}

func (t *Transition) copy() *Transition {
	return &Transition{
		From: t.From, Action: t.Action, To: t.To,
		Dep: t.Dep.Copy(), Infl: t.Infl.Copy(),
	}
}

func (t *Transition) local() domain.Transition {
	return domain.Transition{From: t.From, Action: t.Action, To: t.To}
}

// StateInfo is the per-state cache entry: terminality, local independence,
// the return bound, and the outgoing annotated transitions.
type StateInfo struct {
	Terminal    bool
	Independent bool
	Bound       valuebound.Bound
	boundSet    bool
	Transitions []*Transition
}

// Stats accumulates the per-CRG counters exposed in the solver's
// Statistics output (§6).
type Stats struct {
	States      int64
	Transitions int64
	Terminal    int64
	Independent int64
	Duplicates  int64
	DepBranches int64
	InflBranches int64
}

// Graph is one agent's Conditional Return Graph: the agent's initial local
// state, the reward container it was built for, and the state → StateInfo
// map.
type Graph struct {
	Agent   domain.AgentID
	Rewards []reward.Reward // R(A): the rewards assigned to this agent
	All     []reward.Reward // every reward in whose scope A appears (local-CRI test)
	Scope   []domain.AgentID

	adapter     domain.Adapter
	useLocalCRI bool

	states   map[string]*StateInfo
	initKey  string
	Stats    Stats
}

// New creates an empty CRG for the agent, to be populated by Build.
func New(agent domain.AgentID, rewards, allRewards []reward.Reward, adapter domain.Adapter, useLocalCRI bool) *Graph {
	scope := scopeOf(rewards)
	var all []reward.Reward
	for _, r := range allRewards {
		if r.InScope(agent) {
			all = append(all, r)
		}
	}
	return &Graph{
		Agent:       agent,
		Rewards:     rewards,
		All:         all,
		Scope:       scope,
		adapter:     adapter,
		useLocalCRI: useLocalCRI,
		states:      make(map[string]*StateInfo),
	}
}

func scopeOf(rewards []reward.Reward) []domain.AgentID {
	seen := make(map[domain.AgentID]struct{})
	for _, r := range rewards {
		for _, a := range r.Scope() {
			seen[a] = struct{}{}
		}
	}
	ids := make([]domain.AgentID, 0, len(seen))
	for a := range seen {
		ids = append(ids, a)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Build recursively constructs the CRG from the initial state, returning
// the agent's initial return bound. The recursion visits each local state
// at most once, memoized in the state-info map.
func (g *Graph) Build(ctx context.Context, initstate domain.LocalState) (valuebound.Bound, error) {
	g.initKey = initstate.Key()
	return g.build(ctx, initstate)
}

func (g *Graph) build(ctx context.Context, state domain.LocalState) (valuebound.Bound, error) {
	if err := ctx.Err(); err != nil {
		return valuebound.Bound{}, corerr.Timeout("CRG build for agent " + agentString(g.Agent))
	}

	key := state.Key()
	if info, ok := g.states[key]; ok {
		g.Stats.Duplicates++
		return info.Bound, nil
	}

	g.Stats.States++

	if g.adapter.IsTerminal(state) {
		g.Stats.Terminal++
		info := &StateInfo{Terminal: true, Independent: true}
		g.setBound(info, valuebound.Empty())
		g.states[key] = info
		return info.Bound, nil
	}

	if g.useLocalCRI && g.isLocallyIndependent(state) {
		g.Stats.Independent++
		v, err := g.completeOptimally(ctx, state)
		if err != nil {
			return valuebound.Bound{}, err
		}
		return valuebound.From(v), nil
	}

	info := &StateInfo{Terminal: false, Independent: false}
	g.states[key] = info

	bound := valuebound.Empty()
	actions := g.adapter.AvailableActions(state)
	if len(actions) == 0 {
		return valuebound.Bound{}, corerr.New(corerr.KindAdapterViolation,
			"AvailableActions returned empty set for non-terminal state "+state.Key())
	}

	for _, action := range actions {
		newstates := g.adapter.NewStates(state, action)
		for _, newstate := range newstates {
			trans := newTransition(state, action, newstate)

			depact := make(map[domain.AgentID][]domain.Action)
			for _, agent := range g.Scope {
				if agent == g.Agent {
					continue
				}
				depact[agent] = g.adapter.DependentActions(rewardScope(g.Rewards), trans.local(), agent)
			}

			b, err := g.buildActionTree(ctx, trans, depact, orderedKeys(depact, g.Scope, g.Agent))
			if err != nil {
				return valuebound.Bound{}, err
			}
			bound = bound.Update(b)
		}
	}

	g.setBound(info, bound)
	return bound, nil
}

// orderedKeys returns the agents of scope (excluding self) in a fixed,
// stable order, matching the "arbitrary but stable" enumeration-order
// requirement of §5.
func orderedKeys(m map[domain.AgentID][]domain.Action, scope []domain.AgentID, self domain.AgentID) []domain.AgentID {
	out := make([]domain.AgentID, 0, len(m))
	for _, a := range scope {
		if a == self {
			continue
		}
		if _, ok := m[a]; ok {
			out = append(out, a)
		}
	}
	return out
}

// buildActionTree enumerates the action-dependency tree of §4.3.1: for
// each remaining agent in order, branch on every explicit dependent action
// plus one "other" branch, then recurse on the influence tree once every
// agent has been decided.
func (g *Graph) buildActionTree(ctx context.Context, trans *Transition, depact map[domain.AgentID][]domain.Action, order []domain.AgentID) (valuebound.Bound, error) {
	if len(order) == 0 {
		influence := make(map[domain.AgentID][]domain.InfluenceToken)
		var iorder []domain.AgentID
		for _, agent := range g.Scope {
			if agent == g.Agent {
				continue
			}
			influence[agent] = g.adapter.TransitionInfluence(rewardScope(g.Rewards), trans.local(), agent)
			iorder = append(iorder, agent)
		}
		return g.buildInfluenceTree(ctx, trans, influence, iorder)
	}

	agent := order[0]
	rest := order[1:]
	actions := depact[agent]

	bound := valuebound.Empty()
	for _, act := range actions {
		trans.Dep.Add(actionItem{act})
		g.Stats.DepBranches++
		b, err := g.buildActionTree(ctx, trans, depact, rest)
		if err != nil {
			return valuebound.Bound{}, err
		}
		bound = bound.Update(b)
		trans.Dep.Remove(int(agent))
	}

	items := make([]actionItem, len(actions))
	for i, a := range actions {
		items[i] = actionItem{a}
	}
	trans.Dep.SetOther(int(agent), items)
	b, err := g.buildActionTree(ctx, trans, depact, rest)
	if err != nil {
		return valuebound.Bound{}, err
	}
	bound = bound.Update(b)
	trans.Dep.ClearOther(int(agent))

	return bound, nil
}

// buildInfluenceTree enumerates the influence tree of §4.3.2, nested inside
// the dependency expansion, terminating in buildTransition once every
// agent's influence has been decided.
func (g *Graph) buildInfluenceTree(ctx context.Context, trans *Transition, influence map[domain.AgentID][]domain.InfluenceToken, order []domain.AgentID) (valuebound.Bound, error) {
	if len(order) == 0 {
		return g.buildTransition(ctx, trans)
	}

	agent := order[0]
	rest := order[1:]
	tokens := influence[agent]

	bound := valuebound.Empty()
	for _, tok := range tokens {
		trans.Infl.Add(influenceItem{tok})
		g.Stats.InflBranches++
		b, err := g.buildInfluenceTree(ctx, trans, influence, rest)
		if err != nil {
			return valuebound.Bound{}, err
		}
		bound = bound.Update(b)
		trans.Infl.Remove(int(agent))
	}

	items := make([]influenceItem, len(tokens))
	for i, tok := range tokens {
		items[i] = influenceItem{tok}
	}
	trans.Infl.SetOther(int(agent), items)
	b, err := g.buildInfluenceTree(ctx, trans, influence, rest)
	if err != nil {
		return valuebound.Bound{}, err
	}
	bound = bound.Update(b)
	trans.Infl.ClearOther(int(agent))

	return bound, nil
}

// buildTransition completes a fully-specified annotated transition: the
// domain supplies its probability, the assigned rewards compute its value,
// it is stored on the from-state, and the builder recurses into the
// successor state.
func (g *Graph) buildTransition(ctx context.Context, trans *Transition) (valuebound.Bound, error) {
	g.Stats.Transitions++

	prob := g.adapter.TransitionProbability(trans.local())
	tr := trans.copy()
	tr.Value = g.computeReward(tr)
	tr.Probability = prob

	info := g.states[trans.From.Key()]
	info.Transitions = append(info.Transitions, tr)

	successorBound, err := g.build(ctx, tr.To)
	if err != nil {
		return valuebound.Bound{}, err
	}
	return valuebound.FromValue(successorBound, tr.Value), nil
}

// computeReward sums every assigned reward's contribution to the
// transition, evaluated against this branch's own committed joint context:
// the agent's own action plus every other agent's explicitly decided
// dependent action, and the agent's own successor state plus every other
// agent's explicitly decided influence-token successor state. This mirrors
// the original's CRGRewardMPP.getReward, which unions trans.getAction()
// with trans.getDependencies().get() rather than evaluating against an
// empty context.
func (g *Graph) computeReward(tr *Transition) valuebound.StateValue {
	rctx := reward.Context{JointAction: jointActionOf(tr), NewState: jointStateOf(tr)}
	var value valuebound.StateValue
	for _, r := range g.Rewards {
		tv := r.Value(g.Agent, tr.local(), rctx)
		value = value.Add(tv)
	}
	return value
}

// jointActionOf builds the joint action this branch of the dependency tree
// committed to: the building agent's own action plus every other agent's
// explicitly decided dependent action. Agents left on the "other" branch
// contribute nothing — their exact action was never decided on this branch.
func jointActionOf(tr *Transition) *domain.JointAction {
	ja := domain.NewJointAction(tr.From.Time)
	ja.AddAgent(tr.From.Agent, tr.Action)
	for _, a := range tr.Dep.Agents() {
		if item, ok := tr.Dep.Get(a); ok {
			ja.AddAgent(domain.AgentID(a), item.Action)
		}
	}
	return ja
}

// jointStateOf builds the partial joint successor state this branch
// committed to: the building agent's own successor state plus every other
// agent's explicitly decided influence-token successor state.
func jointStateOf(tr *Transition) *domain.JointState {
	js := domain.NewJointState(tr.To.Time)
	js.Set(tr.To.Agent, tr.To)
	for _, a := range tr.Infl.Agents() {
		if item, ok := tr.Infl.Get(a); ok {
			js.Set(domain.AgentID(a), item.To)
		}
	}
	return js
}

func rewardScope(rewards []reward.Reward) []domain.AgentID {
	seen := make(map[domain.AgentID]struct{})
	for _, r := range rewards {
		for _, a := range r.Scope() {
			seen[a] = struct{}{}
		}
	}
	ids := make([]domain.AgentID, 0, len(seen))
	for a := range seen {
		ids = append(ids, a)
	}
	return ids
}

// completeOptimally completes the remainder of the CRG beneath a locally
// independent state by treating the agent as a single-agent MDP: evaluate
// every action, recurse on successors, and retain only the
// maximum-scalarized-value action's transition set (§4.3.3).
func (g *Graph) completeOptimally(ctx context.Context, state domain.LocalState) (valuebound.StateValue, error) {
	if err := ctx.Err(); err != nil {
		return valuebound.StateValue{}, corerr.Timeout("CRG independent-completion for agent " + agentString(g.Agent))
	}

	key := state.Key()
	if info, ok := g.states[key]; ok {
		g.Stats.Duplicates++
		return info.Bound.L, nil
	}

	g.Stats.States++

	if g.adapter.IsTerminal(state) {
		g.Stats.Terminal++
		info := &StateInfo{Terminal: true, Independent: true}
		g.setBound(info, valuebound.Empty())
		g.states[key] = info
		return info.Bound.L, nil
	}

	info := &StateInfo{Terminal: false, Independent: true}
	g.states[key] = info

	var bestValue valuebound.StateValue
	var bestSet bool
	var bestTrans []*Transition

	actions := g.adapter.AvailableActions(state)
	for _, action := range actions {
		newstates := g.adapter.NewStates(state, action)
		trans := make([]*Transition, 0, len(newstates))
		var expected valuebound.StateValue
		for _, newstate := range newstates {
			tr := newTransition(state, action, newstate)
			tr.Value = g.computeReward(tr)
			tr.Probability = g.adapter.TransitionProbability(tr.local())
			trans = append(trans, tr)

			futureL, err := g.completeOptimally(ctx, newstate)
			if err != nil {
				return valuebound.StateValue{}, err
			}
			sv := tr.Value.Add(futureL).Scale(tr.Probability)
			expected = expected.Add(sv)
		}

		if !bestSet || bestValue.Total()-expected.Total() < corerr.Epsilon {
			bestValue = expected
			bestTrans = trans
			bestSet = true
		}
	}

	info.Transitions = bestTrans
	g.setBound(info, valuebound.From(bestValue))
	return bestValue, nil
}

func (g *Graph) setBound(info *StateInfo, b valuebound.Bound) {
	if info.boundSet {
		panic("crg: return bound already set for state (cache discipline violation)")
	}
	info.Bound = b
	info.boundSet = true
}

// isLocallyIndependent reports whether every reward the agent participates
// in reports localCRI for this state.
func (g *Graph) isLocallyIndependent(state domain.LocalState) bool {
	for _, r := range g.All {
		if !r.LocalCRI(g.Agent, state) {
			return false
		}
	}
	return true
}

// StateInfo returns the cached info for state. Panics if unknown,
// mirroring the original's assertion (a genuine programming error if it
// fires: the caller asked about a state the builder never visited).
func (g *Graph) StateInfo(state domain.LocalState) *StateInfo {
	info, ok := g.states[state.Key()]
	if !ok {
		panic("crg: unknown state " + state.Key())
	}
	return info
}

// AvailableActions returns the set of actions still available from state
// according to the already-built CRG (distinct from domain.AvailableActions:
// this is the memoized post-build view used by search).
func (g *Graph) AvailableActions(state domain.LocalState) []domain.Action {
	info := g.StateInfo(state)
	if info.Terminal {
		return nil
	}
	seen := make(map[domain.Action]struct{})
	var out []domain.Action
	for _, t := range info.Transitions {
		if _, ok := seen[t.Action]; !ok {
			seen[t.Action] = struct{}{}
			out = append(out, t.Action)
		}
	}
	return out
}

// ReturnBound returns the stored return bound for state.
func (g *Graph) ReturnBound(state domain.LocalState) valuebound.Bound {
	return g.StateInfo(state).Bound
}

// MatchTransitionFull is the §4.3.4 matcher: local action/from/to equality,
// per-present-other-agent dependency and influence matches, and per-absent
// agent "no explicit dependency or influence" checks. fromStates/toStates
// give every other agent's local state before and after the joint
// transition.
func (g *Graph) MatchTransitionFull(from, to domain.LocalState, action domain.Action, ja *domain.JointAction, fromStates, toStates *domain.JointState) (*Transition, error) {
	info := g.StateInfo(from)
	var match *Transition
	for _, t := range info.Transitions {
		if !t.Action.Equal(action) || !t.From.Equal(from) || !t.To.Equal(to) {
			continue
		}

		ok := true
		for _, a := range g.Scope {
			if a == g.Agent {
				continue
			}
			if fromStates.Has(a) {
				act, _ := ja.Action(a)
				if !t.Dep.Matches(actionItem{act}) {
					ok = false
					break
				}
				sFrom, _ := fromStates.State(a)
				sTo, _ := toStates.State(a)
				if !t.Infl.Matches(influenceItem{domain.InfluenceToken{From: sFrom, To: sTo}}) {
					ok = false
					break
				}
			} else {
				if t.Dep.Has(int(a)) || t.Infl.Has(int(a)) {
					ok = false
					break
				}
			}
		}
		if !ok {
			continue
		}
		if match != nil {
			return nil, corerr.New(corerr.KindAdapterViolation, "duplicate CRG transition match for "+from.Key())
		}
		match = t
	}
	if match == nil {
		return nil, corerr.New(corerr.KindAdapterViolation, "no CRG transition matches for "+from.Key())
	}
	return match, nil
}

func agentString(a domain.AgentID) string {
	return "a" + strconv.Itoa(int(a))
}
