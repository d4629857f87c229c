package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlgTUDelft/core-solver/domain"
	"github.com/AlgTUDelft/core-solver/search"
	"github.com/AlgTUDelft/core-solver/valuebound"
)

func jointState(time int, agents ...domain.AgentID) *domain.JointState {
	s := domain.NewJointState(time)
	for _, a := range agents {
		s.Set(a, domain.LocalState{Agent: a, Time: time})
	}
	return s
}

func jointAction(time int, agents ...domain.AgentID) *domain.JointAction {
	ja := domain.NewJointAction(time)
	for _, a := range agents {
		ja.AddAgent(a, domain.Action{Agent: a, ID: 0, Name: "act"})
	}
	return ja
}

func TestBuildDirectEntry(t *testing.T) {
	initial := jointState(0, 0)
	cache := map[string]*search.OptTransition{
		initial.CacheKey(): {
			Value:  valuebound.NewWith([]string{"v"}, []float64{5}),
			Action: jointAction(0, 0),
		},
	}

	p, err := Build(nil, cache, initial)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, p.ExpectedValue().Total(), 1e-9)
	assert.NotNil(t, p.Entries()[initial.CacheKey()].Action)
}

func TestBuildCombinesDecoupledComponents(t *testing.T) {
	full := jointState(0, 0, 1)
	compA := jointState(0, 0)
	compB := jointState(0, 1)
	successor := jointState(1, 0).Combine(jointState(1, 1))

	cache := map[string]*search.OptTransition{
		full.CacheKey(): {
			Value:     valuebound.NewWith([]string{"v"}, []float64{10}),
			Decoupled: []*domain.JointState{compA, compB},
		},
		compA.CacheKey(): {
			Value:  valuebound.NewWith([]string{"v"}, []float64{3}),
			Action: jointAction(0, 0),
			Transitions: []*search.JTransition{{
				Action: jointAction(0, 0), Successor: jointState(1, 0), Probability: 1,
				Value: valuebound.NewWith([]string{"v"}, []float64{3}),
			}},
		},
		compB.CacheKey(): {
			Value:  valuebound.NewWith([]string{"v"}, []float64{7}),
			Action: jointAction(0, 1),
			Transitions: []*search.JTransition{{
				Action: jointAction(0, 1), Successor: jointState(1, 1), Probability: 1,
				Value: valuebound.NewWith([]string{"v"}, []float64{7}),
			}},
		},
		successor.CacheKey(): {
			Value: valuebound.NewWith([]string{"v"}, []float64{0}),
		},
	}

	p, err := Build(nil, cache, full)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, p.ExpectedValue().Total(), 1e-9)

	entry := p.Entries()[full.CacheKey()]
	require.NotNil(t, entry)
	assert.ElementsMatch(t, []domain.AgentID{0, 1}, entry.Action.Agents())
	require.Len(t, entry.Transitions, 1)
	assert.ElementsMatch(t, []domain.AgentID{0, 1}, entry.Transitions[0].Successor.Agents())

	// The time-1 joint state reached by the combined optimal action must
	// also be present in the policy map, not just the time-0 decoupled
	// siblings.
	assert.NotNil(t, p.Entries()[successor.CacheKey()])
}

func TestBuildMissingCacheRecordErrors(t *testing.T) {
	initial := jointState(0, 0)
	_, err := Build(nil, map[string]*search.OptTransition{}, initial)
	assert.Error(t, err)
}

func TestQueryFindsStoredAction(t *testing.T) {
	initial := jointState(0, 0)
	cache := map[string]*search.OptTransition{
		initial.CacheKey(): {Value: valuebound.New("v"), Action: jointAction(0, 0)},
	}
	p, err := Build(stubAdapter{state: initial}, cache, initial)
	require.NoError(t, err)

	act, err := p.Query("anything")
	require.NoError(t, err)
	assert.NotNil(t, act)
}

type stubAdapter struct {
	domain.Adapter
	state *domain.JointState
}

func (s stubAdapter) FactorState(any) *domain.JointState { return s.state }
