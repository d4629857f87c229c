package crg_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlgTUDelft/core-solver/crg"
	"github.com/AlgTUDelft/core-solver/domain"
	"github.com/AlgTUDelft/core-solver/reward"
	"github.com/AlgTUDelft/core-solver/valuebound"
)

// countdownPayload ticks from remaining to remaining-1, flipping a fair coin
// on the last tick between a +2 and a +0 outcome.
type countdownPayload struct{ remaining int }

func (p countdownPayload) Key() string { return fmt.Sprintf("%d", p.remaining) }
func (p countdownPayload) Equal(o domain.Payload) bool {
	op, ok := o.(countdownPayload)
	return ok && p == op
}

type countdownAdapter struct{}

var tick = domain.Action{Agent: 0, ID: 0, Name: "tick"}

func (countdownAdapter) AvailableActions(s domain.LocalState) []domain.Action {
	if s.Payload.(countdownPayload).remaining <= 0 {
		return nil
	}
	return []domain.Action{tick}
}

func (countdownAdapter) NewStates(s domain.LocalState, action domain.Action) []domain.LocalState {
	p := s.Payload.(countdownPayload)
	if p.remaining > 1 {
		return []domain.LocalState{{Agent: s.Agent, Time: s.Time + 1, Payload: countdownPayload{remaining: p.remaining - 1}}}
	}
	return []domain.LocalState{
		{Agent: s.Agent, Time: s.Time + 1, Payload: countdownPayload{remaining: -1}},
		{Agent: s.Agent, Time: s.Time + 1, Payload: countdownPayload{remaining: -2}},
	}
}

func (countdownAdapter) TransitionProbability(t domain.Transition) float64 {
	if t.From.Payload.(countdownPayload).remaining > 1 {
		return 1.0
	}
	return 0.5
}

func (countdownAdapter) DependentActions(scope []domain.AgentID, t domain.Transition, other domain.AgentID) []domain.Action {
	return nil
}
func (countdownAdapter) TransitionInfluence(scope []domain.AgentID, t domain.Transition, other domain.AgentID) []domain.InfluenceToken {
	return nil
}
func (countdownAdapter) IsTerminal(s domain.LocalState) bool {
	return s.Payload.(countdownPayload).remaining <= 0
}
func (countdownAdapter) FactorState(global any) *domain.JointState { return global.(*domain.JointState) }

type tickReward struct{}

func (tickReward) Scope() []domain.AgentID      { return []domain.AgentID{0} }
func (tickReward) InScope(a domain.AgentID) bool { return a == 0 }
func (tickReward) Name() string                  { return "tick" }
func (tickReward) Value(owner domain.AgentID, trans domain.Transition, _ reward.Context) valuebound.StateValue {
	if trans.To.Payload.(countdownPayload).remaining == -1 {
		return valuebound.NewWith([]string{"v"}, []float64{2})
	}
	return valuebound.New("v")
}
func (tickReward) LocalCRI(domain.AgentID, domain.LocalState) bool            { return true }
func (tickReward) CRI(domain.AgentID, domain.AgentID, *domain.JointState) bool { return true }

func buildGraph(t *testing.T) (*crg.Graph, domain.LocalState) {
	t.Helper()
	adapter := countdownAdapter{}
	rewards := []reward.Reward{tickReward{}}
	g := crg.New(0, rewards, rewards, adapter, false)
	initial := domain.LocalState{Agent: 0, Time: 0, Payload: countdownPayload{remaining: 3}}
	_, err := g.Build(context.Background(), initial)
	require.NoError(t, err)
	return g, initial
}

func TestProbabilityClosurePerState(t *testing.T) {
	g, initial := buildGraph(t)

	state := initial
	for {
		info := g.StateInfo(state)
		if info.Terminal {
			break
		}
		sum := 0.0
		for _, tr := range info.Transitions {
			sum += tr.Probability
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
		state = info.Transitions[0].To
	}
}

func TestBoundSoundness(t *testing.T) {
	g, initial := buildGraph(t)
	bound := g.ReturnBound(initial)
	// two deterministic ticks then a 0.5 chance of +2 (exact expected value
	// 1). The bound is the envelope over the last tick's two outcomes, +0
	// and +2, so L = 0 and U = 2, bracketing the expected value.
	assert.InDelta(t, 0.0, bound.L.Total(), 1e-9)
	assert.InDelta(t, 2.0, bound.U.Total(), 1e-9)
	assert.LessOrEqual(t, bound.L.Total(), bound.U.Total()+1e-9)
}

func TestMemoizationRecordsDuplicates(t *testing.T) {
	g, _ := buildGraph(t)
	assert.Zero(t, g.Stats.Duplicates)
}

func TestAvailableActionsEmptyOnTerminal(t *testing.T) {
	g, _ := buildGraph(t)
	terminal := domain.LocalState{Agent: 0, Time: 3, Payload: countdownPayload{remaining: -1}}
	assert.Empty(t, g.AvailableActions(terminal))
}

// sharedPayload is a one-step local state shared by the two-agent fixture
// below: not done, then done.
type sharedPayload struct{ done bool }

func (p sharedPayload) Key() string { return fmt.Sprintf("%v", p.done) }
func (p sharedPayload) Equal(o domain.Payload) bool {
	op, ok := o.(sharedPayload)
	return ok && p == op
}

var (
	goAction0 = domain.Action{Agent: 0, ID: 0, Name: "go"}
	goAction1 = domain.Action{Agent: 1, ID: 0, Name: "go"}
)

// sharedAdapter builds agent 0's CRG only, reporting agent 1's single
// action as a dependency whenever a reward's scope includes it.
type sharedAdapter struct{}

func (sharedAdapter) AvailableActions(s domain.LocalState) []domain.Action {
	if s.Payload.(sharedPayload).done {
		return nil
	}
	return []domain.Action{goAction0}
}
func (sharedAdapter) NewStates(s domain.LocalState, action domain.Action) []domain.LocalState {
	return []domain.LocalState{{Agent: s.Agent, Time: s.Time + 1, Payload: sharedPayload{done: true}}}
}
func (sharedAdapter) TransitionProbability(domain.Transition) float64 { return 1.0 }
func (sharedAdapter) DependentActions(scope []domain.AgentID, t domain.Transition, other domain.AgentID) []domain.Action {
	if other == 1 {
		return []domain.Action{goAction1}
	}
	return nil
}
func (sharedAdapter) TransitionInfluence(scope []domain.AgentID, t domain.Transition, other domain.AgentID) []domain.InfluenceToken {
	return nil
}
func (sharedAdapter) IsTerminal(s domain.LocalState) bool { return s.Payload.(sharedPayload).done }
func (sharedAdapter) FactorState(global any) *domain.JointState {
	return global.(*domain.JointState)
}

// jointPenalty fires only when the joint context it is evaluated against
// names both agents' "go" action — it sees zero unless the CRG builder
// actually threads the branch-committed joint action through.
type jointPenalty struct{}

func (jointPenalty) Scope() []domain.AgentID      { return []domain.AgentID{0, 1} }
func (jointPenalty) InScope(a domain.AgentID) bool { return a == 0 || a == 1 }
func (jointPenalty) Name() string                  { return "penalty" }
func (jointPenalty) Value(owner domain.AgentID, trans domain.Transition, ctx reward.Context) valuebound.StateValue {
	if ctx.JointAction == nil {
		return valuebound.New("v")
	}
	a0, ok0 := ctx.JointAction.Action(0)
	a1, ok1 := ctx.JointAction.Action(1)
	if ok0 && ok1 && a0.Equal(goAction0) && a1.Equal(goAction1) {
		return valuebound.NewWith([]string{"v"}, []float64{-8})
	}
	return valuebound.New("v")
}
func (jointPenalty) LocalCRI(domain.AgentID, domain.LocalState) bool            { return false }
func (jointPenalty) CRI(domain.AgentID, domain.AgentID, *domain.JointState) bool { return true }

// TestSharedRewardSeesBranchCommittedJointAction guards the builder's
// reward.Context construction: the branch that explicitly commits to
// agent 1's dependent action must see it in the joint action passed to
// Reward.Value, while the "other" branch must not.
func TestSharedRewardSeesBranchCommittedJointAction(t *testing.T) {
	adapter := sharedAdapter{}
	rewards := []reward.Reward{jointPenalty{}}
	g := crg.New(0, rewards, rewards, adapter, false)
	initial := domain.LocalState{Agent: 0, Time: 0, Payload: sharedPayload{}}
	_, err := g.Build(context.Background(), initial)
	require.NoError(t, err)

	info := g.StateInfo(initial)
	require.Len(t, info.Transitions, 2)

	var sawExplicit, sawOther bool
	for _, tr := range info.Transitions {
		if tr.Dep.Has(1) {
			sawExplicit = true
			assert.InDelta(t, -8.0, tr.Value.Total(), 1e-9)
		} else {
			sawOther = true
			assert.InDelta(t, 0.0, tr.Value.Total(), 1e-9)
		}
	}
	assert.True(t, sawExplicit)
	assert.True(t, sawOther)
}
