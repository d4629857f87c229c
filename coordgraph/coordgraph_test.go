package coordgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlgTUDelft/core-solver/domain"
	"github.com/AlgTUDelft/core-solver/reward"
	"github.com/AlgTUDelft/core-solver/valuebound"
)

// fakeReward lets tests flip CRI on demand rather than deriving it from a
// real domain.
type fakeReward struct {
	scope []domain.AgentID
	cri   bool
}

func (r *fakeReward) Scope() []domain.AgentID       { return r.scope }
func (r *fakeReward) InScope(a domain.AgentID) bool { return true }
func (r *fakeReward) Name() string                  { return "fake" }
func (r *fakeReward) Value(domain.AgentID, domain.Transition, reward.Context) valuebound.StateValue {
	panic("unused in these tests")
}
func (r *fakeReward) LocalCRI(domain.AgentID, domain.LocalState) bool { return true }
func (r *fakeReward) CRI(domain.AgentID, domain.AgentID, *domain.JointState) bool {
	return r.cri
}

func jointState(agents ...domain.AgentID) *domain.JointState {
	s := domain.NewJointState(0)
	for _, a := range agents {
		s.Set(a, domain.LocalState{Agent: a, Time: 0})
	}
	return s
}

func TestNewStartsAsSingleComponent(t *testing.T) {
	r := &fakeReward{scope: []domain.AgentID{0, 1, 2}}
	g := New([]reward.Reward{r})
	comps := g.ConnectedComponents(jointState(0, 1, 2))
	require.Len(t, comps, 1)
	assert.Len(t, comps[0].Agents(), 3)
}

func TestUpdateSplitsOnCRI(t *testing.T) {
	r01 := &fakeReward{scope: []domain.AgentID{0, 1}}
	r12 := &fakeReward{scope: []domain.AgentID{1, 2}, cri: true}
	g := New([]reward.Reward{r01, r12})

	flagged := g.Update(jointState(0, 1, 2), false)
	assert.NotEmpty(t, flagged)

	comps := g.ConnectedComponents(jointState(0, 1, 2))
	assert.Len(t, comps, 2)
}

func TestRestoreUndoesUpdate(t *testing.T) {
	r01 := &fakeReward{scope: []domain.AgentID{0, 1}, cri: true}
	g := New([]reward.Reward{r01})

	flagged := g.Update(jointState(0, 1), false)
	require.NotEmpty(t, flagged)
	require.Len(t, g.ConnectedComponents(jointState(0, 1)), 2)

	g.Restore(flagged)
	assert.Len(t, g.ConnectedComponents(jointState(0, 1)), 1)
}

func TestConnectedComponentsOmitsPartialState(t *testing.T) {
	r := &fakeReward{scope: []domain.AgentID{0, 1}}
	g := New([]reward.Reward{r})
	assert.Empty(t, g.ConnectedComponents(jointState(0)))
}
