package search

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlgTUDelft/core-solver/coordgraph"
	"github.com/AlgTUDelft/core-solver/corerr"
	"github.com/AlgTUDelft/core-solver/crg"
	"github.com/AlgTUDelft/core-solver/domain"
	"github.com/AlgTUDelft/core-solver/reward"
	"github.com/AlgTUDelft/core-solver/valuebound"
)

// onePayload is a trivial single-step local state: not-done, then done.
type onePayload struct{ done bool }

func (p onePayload) Key() string { return fmt.Sprintf("%v", p.done) }
func (p onePayload) Equal(o domain.Payload) bool {
	op, ok := o.(onePayload)
	return ok && p == op
}

type oneStepAdapter struct {
	broken bool // if true, under-reports probability mass
}

func act(a domain.AgentID) domain.Action { return domain.Action{Agent: a, ID: 0, Name: "go"} }

func (a *oneStepAdapter) AvailableActions(s domain.LocalState) []domain.Action {
	if s.Payload.(onePayload).done {
		return nil
	}
	return []domain.Action{act(s.Agent)}
}

func (a *oneStepAdapter) NewStates(s domain.LocalState, action domain.Action) []domain.LocalState {
	return []domain.LocalState{{Agent: s.Agent, Time: s.Time + 1, Payload: onePayload{done: true}}}
}

func (a *oneStepAdapter) TransitionProbability(t domain.Transition) float64 {
	if a.broken {
		return 0.9
	}
	return 1.0
}

func (a *oneStepAdapter) DependentActions(scope []domain.AgentID, t domain.Transition, other domain.AgentID) []domain.Action {
	return nil
}
func (a *oneStepAdapter) TransitionInfluence(scope []domain.AgentID, t domain.Transition, other domain.AgentID) []domain.InfluenceToken {
	return nil
}
func (a *oneStepAdapter) IsTerminal(s domain.LocalState) bool { return s.Payload.(onePayload).done }
func (a *oneStepAdapter) FactorState(g any) *domain.JointState { return g.(*domain.JointState) }

type flatReward struct {
	agent domain.AgentID
	value float64
}

func (r *flatReward) Scope() []domain.AgentID       { return []domain.AgentID{r.agent} }
func (r *flatReward) InScope(a domain.AgentID) bool { return a == r.agent }
func (r *flatReward) Name() string                  { return "flat" }
func (r *flatReward) Value(owner domain.AgentID, trans domain.Transition, _ reward.Context) valuebound.StateValue {
	return valuebound.NewWith([]string{"v"}, []float64{r.value})
}
func (r *flatReward) LocalCRI(domain.AgentID, domain.LocalState) bool            { return true }
func (r *flatReward) CRI(domain.AgentID, domain.AgentID, *domain.JointState) bool { return true }

func buildAgentCRG(t *testing.T, agent domain.AgentID, value float64, adapter domain.Adapter) *crg.Graph {
	t.Helper()
	rewards := []reward.Reward{&flatReward{agent: agent, value: value}}
	g := crg.New(agent, rewards, rewards, adapter, false)
	_, err := g.Build(context.Background(), domain.LocalState{Agent: agent, Time: 0, Payload: onePayload{}})
	require.NoError(t, err)
	return g
}

func initialState(agents ...domain.AgentID) *domain.JointState {
	s := domain.NewJointState(0)
	for _, a := range agents {
		s.Set(a, domain.LocalState{Agent: a, Time: 0, Payload: onePayload{}})
	}
	return s
}

func TestSolveTwoIndependentAgentsSumsValues(t *testing.T) {
	adapter := &oneStepAdapter{}
	crgs := map[domain.AgentID]*crg.Graph{
		0: buildAgentCRG(t, 0, 3, adapter),
		1: buildAgentCRG(t, 1, 7, adapter),
	}
	cg := coordgraph.New([]reward.Reward{&flatReward{agent: 0, value: 3}, &flatReward{agent: 1, value: 7}})
	s := New(crgs, cg, Settings{BBPruning: true, BBTightening: true, DecoupleCRI: true})

	v, err := s.Solve(context.Background(), initialState(0, 1))
	require.NoError(t, err)
	assert.InDelta(t, 10.0, v.Total(), 1e-9)
	assert.EqualValues(t, 1, s.Stats.StatesDecoupled)
}

func TestSolveWithoutDecouplingMatchesDecoupled(t *testing.T) {
	adapter := &oneStepAdapter{}
	crgs := map[domain.AgentID]*crg.Graph{
		0: buildAgentCRG(t, 0, 3, adapter),
		1: buildAgentCRG(t, 1, 7, adapter),
	}
	cg := coordgraph.New([]reward.Reward{&flatReward{agent: 0, value: 3}, &flatReward{agent: 1, value: 7}})
	s := New(crgs, cg, Settings{DecoupleCRI: false})

	v, err := s.Solve(context.Background(), initialState(0, 1))
	require.NoError(t, err)
	assert.InDelta(t, 10.0, v.Total(), 1e-9)
}

func TestBrokenProbabilitiesSurfaceAsAdapterViolation(t *testing.T) {
	adapter := &oneStepAdapter{broken: true}
	crgs := map[domain.AgentID]*crg.Graph{0: buildAgentCRG(t, 0, 1, adapter)}
	cg := coordgraph.New(nil)
	s := New(crgs, cg, Settings{})

	_, err := s.Solve(context.Background(), initialState(0))
	require.Error(t, err)
	var se *corerr.SolverError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, corerr.KindAdapterViolation, se.Kind)
}

// depAdapter is a one-step adapter whose DependentActions always reports
// the other agent's only action explicitly, so the CRG builder commits a
// branch carrying that agent's action into Dep.
type depAdapter struct{}

func (depAdapter) AvailableActions(s domain.LocalState) []domain.Action {
	if s.Payload.(onePayload).done {
		return nil
	}
	return []domain.Action{act(s.Agent)}
}
func (depAdapter) NewStates(s domain.LocalState, action domain.Action) []domain.LocalState {
	return []domain.LocalState{{Agent: s.Agent, Time: s.Time + 1, Payload: onePayload{done: true}}}
}
func (depAdapter) TransitionProbability(domain.Transition) float64 { return 1.0 }
func (depAdapter) DependentActions(scope []domain.AgentID, t domain.Transition, other domain.AgentID) []domain.Action {
	return []domain.Action{act(other)}
}
func (depAdapter) TransitionInfluence(scope []domain.AgentID, t domain.Transition, other domain.AgentID) []domain.InfluenceToken {
	return nil
}
func (depAdapter) IsTerminal(s domain.LocalState) bool  { return s.Payload.(onePayload).done }
func (depAdapter) FactorState(g any) *domain.JointState { return g.(*domain.JointState) }

// jointPenaltyReward fires only against a joint action naming both agents'
// "go" action — a no-choice scenario, so it fires on the only reachable
// outcome unless its context is left empty.
type jointPenaltyReward struct{}

func (jointPenaltyReward) Scope() []domain.AgentID       { return []domain.AgentID{0, 1} }
func (jointPenaltyReward) InScope(a domain.AgentID) bool { return a == 0 || a == 1 }
func (jointPenaltyReward) Name() string                  { return "joint-penalty" }
func (jointPenaltyReward) Value(owner domain.AgentID, trans domain.Transition, ctx reward.Context) valuebound.StateValue {
	if ctx.JointAction == nil {
		return valuebound.New("v")
	}
	a0, ok0 := ctx.JointAction.Action(0)
	a1, ok1 := ctx.JointAction.Action(1)
	if ok0 && ok1 && a0.Equal(act(0)) && a1.Equal(act(1)) {
		return valuebound.NewWith([]string{"v"}, []float64{-8})
	}
	return valuebound.New("v")
}
func (jointPenaltyReward) LocalCRI(domain.AgentID, domain.LocalState) bool            { return false }
func (jointPenaltyReward) CRI(domain.AgentID, domain.AgentID, *domain.JointState) bool { return false }

// TestSolveSumsSharedRewardAcrossBothAgentsCRGs exercises the full
// coordinate-graph / search path with a reward whose scope spans both
// agents: the penalty is owned by agent 0's CRG alone, but must still see
// agent 1's committed action through the branch-specific joint context the
// builder threads into it, and search.Solve must carry that value through
// to the combined total untouched.
func TestSolveSumsSharedRewardAcrossBothAgentsCRGs(t *testing.T) {
	adapter := depAdapter{}

	sharedRewards := []reward.Reward{jointPenaltyReward{}}
	g0 := crg.New(0, sharedRewards, sharedRewards, adapter, false)
	_, err := g0.Build(context.Background(), domain.LocalState{Agent: 0, Time: 0, Payload: onePayload{}})
	require.NoError(t, err)

	g1 := buildAgentCRG(t, 1, 0, adapter)

	crgs := map[domain.AgentID]*crg.Graph{0: g0, 1: g1}
	cg := coordgraph.New([]reward.Reward{jointPenaltyReward{}})
	s := New(crgs, cg, Settings{DecoupleCRI: true})

	v, err := s.Solve(context.Background(), initialState(0, 1))
	require.NoError(t, err)
	assert.InDelta(t, -8.0, v.Total(), 1e-9)
}

// multiPayload identifies a node in the branching fixture below by name:
// "root" branches into "sA"/"sB"/"sC", each of which branches into a pair
// of terminal outcomes.
type multiPayload struct{ id string }

func (p multiPayload) Key() string { return p.id }
func (p multiPayload) Equal(o domain.Payload) bool {
	op, ok := o.(multiPayload)
	return ok && p == op
}

type multiAdapter struct{}

func (multiAdapter) AvailableActions(s domain.LocalState) []domain.Action {
	switch s.Payload.(multiPayload).id {
	case "root":
		return []domain.Action{{Agent: 0, ID: 0, Name: "A"}, {Agent: 0, ID: 1, Name: "B"}, {Agent: 0, ID: 2, Name: "C"}}
	case "sA":
		return []domain.Action{{Agent: 0, ID: 0, Name: "A1"}, {Agent: 0, ID: 1, Name: "A2"}}
	case "sB":
		return []domain.Action{{Agent: 0, ID: 0, Name: "B1"}, {Agent: 0, ID: 1, Name: "B2"}}
	case "sC":
		return []domain.Action{{Agent: 0, ID: 0, Name: "C1"}, {Agent: 0, ID: 1, Name: "C2"}}
	default:
		return nil
	}
}

func (multiAdapter) NewStates(s domain.LocalState, action domain.Action) []domain.LocalState {
	next := func(id string) []domain.LocalState {
		return []domain.LocalState{{Agent: s.Agent, Time: s.Time + 1, Payload: multiPayload{id: id}}}
	}
	switch action.Name {
	case "A":
		return next("sA")
	case "B":
		return next("sB")
	case "C":
		return next("sC")
	default:
		return next("term")
	}
}

func (multiAdapter) TransitionProbability(domain.Transition) float64 { return 1.0 }
func (multiAdapter) DependentActions(scope []domain.AgentID, t domain.Transition, other domain.AgentID) []domain.Action {
	return nil
}
func (multiAdapter) TransitionInfluence(scope []domain.AgentID, t domain.Transition, other domain.AgentID) []domain.InfluenceToken {
	return nil
}
func (multiAdapter) IsTerminal(s domain.LocalState) bool {
	return s.Payload.(multiPayload).id == "term"
}
func (multiAdapter) FactorState(g any) *domain.JointState { return g.(*domain.JointState) }

// edgeReward pays a fixed value keyed by the action name taken, so each
// branch's CRG-computed bound (and real recursive value) is fully
// controlled by this table.
type edgeReward struct{}

var edgeValues = map[string]float64{"A1": 15, "A2": -20, "B1": 12, "B2": -10, "C1": 9, "C2": -5}

func (edgeReward) Scope() []domain.AgentID       { return []domain.AgentID{0} }
func (edgeReward) InScope(a domain.AgentID) bool { return a == 0 }
func (edgeReward) Name() string                  { return "edge" }
func (edgeReward) Value(owner domain.AgentID, trans domain.Transition, _ reward.Context) valuebound.StateValue {
	if v, ok := edgeValues[trans.Action.Name]; ok {
		return valuebound.NewWith([]string{"v"}, []float64{v})
	}
	return valuebound.New("v")
}
func (edgeReward) LocalCRI(domain.AgentID, domain.LocalState) bool            { return true }
func (edgeReward) CRI(domain.AgentID, domain.AgentID, *domain.JointState) bool { return true }

// TestInnerTighteningSkipsUnevaluatedCandidates exercises the
// findOptimal branch-and-bound loop's inner re-prune: root offers three
// actions whose CRG bounds are all loose enough to survive outer pruning
// (L is low for all three), but the first one evaluated (A) turns out to
// realize its own upper bound (15) — above every other candidate's upper
// bound — so B and C must be dropped without ever being evaluated.
func TestInnerTighteningSkipsUnevaluatedCandidates(t *testing.T) {
	adapter := multiAdapter{}
	rewards := []reward.Reward{edgeReward{}}
	g := crg.New(0, rewards, rewards, adapter, false)
	root := domain.LocalState{Agent: 0, Time: 0, Payload: multiPayload{id: "root"}}
	_, err := g.Build(context.Background(), root)
	require.NoError(t, err)

	crgs := map[domain.AgentID]*crg.Graph{0: g}
	cg := coordgraph.New(rewards)

	evaluated := 0
	s := New(crgs, cg, Settings{
		BBPruning:    true,
		BBTightening: true,
		OnProgress:   func(done, total int) { evaluated++ },
	})

	state := domain.NewJointState(0)
	state.Set(0, root)

	v, err := s.Solve(context.Background(), state)
	require.NoError(t, err)
	assert.InDelta(t, 15.0, v.Total(), 1e-9)
	// One findOptimal call at root (only candidate A survives inner
	// tightening) plus one at S_A (only candidate A1 survives outer
	// pruning there) — B and C are never evaluated at all.
	assert.Equal(t, 2, evaluated)
}

func TestCacheRecordsMemoizedValue(t *testing.T) {
	adapter := &oneStepAdapter{}
	crgs := map[domain.AgentID]*crg.Graph{0: buildAgentCRG(t, 0, 5, adapter)}
	cg := coordgraph.New(nil)
	s := New(crgs, cg, Settings{})

	_, err := s.Solve(context.Background(), initialState(0))
	require.NoError(t, err)

	opt, ok := s.Cache()[initialState(0).CacheKey()]
	require.True(t, ok)
	assert.InDelta(t, 5.0, opt.Value.Total(), 1e-9)
}
