// Package domain defines the seam between the CoRe solver and a concrete
// problem: agents, actions, local/joint states, and the Adapter interface
// a domain must satisfy to be solved.
package domain

import (
	"fmt"
	"sort"
	"strings"
)

// AgentID is a dense nonnegative integer identifying an agent.
type AgentID int

// ActionID identifies an action within its owning agent.
type ActionID int

// Agent is a decision-making entity with its own local action space. Agents
// are created at instance construction and are immutable afterwards.
type Agent struct {
	ID      AgentID
	Actions []Action
}

// Action returns the agent's action with the given ID, or false if absent.
func (a Agent) Action(id ActionID) (Action, bool) {
	for _, act := range a.Actions {
		if act.ID == id {
			return act, true
		}
	}
	return Action{}, false
}

// Action belongs to exactly one agent. Equality is defined by (Agent, ID).
type Action struct {
	Agent AgentID
	ID    ActionID
	Name  string
}

// Equal reports whether two actions are the same (agent, ID) pair.
func (a Action) Equal(b Action) bool {
	return a.Agent == b.Agent && a.ID == b.ID
}

func (a Action) String() string {
	return fmt.Sprintf("a%d.%d(%s)", a.Agent, a.ID, a.Name)
}

// Payload is the domain-specific content of a local state. The core never
// inspects it beyond these two operations.
type Payload interface {
	// Key returns a stable, unique string representation used for state
	// deduplication and map lookups.
	Key() string
	// Equal reports whether two payloads represent the same local state.
	Equal(Payload) bool
}

// LocalState is a per-agent state: (agent, time, domain payload). Equality
// includes the payload; distinct agents' states are never equal.
type LocalState struct {
	Agent   AgentID
	Time    int
	Payload Payload
}

// Key returns a stable string uniquely identifying this local state,
// suitable for use as a map key.
func (s LocalState) Key() string {
	pk := ""
	if s.Payload != nil {
		pk = s.Payload.Key()
	}
	return fmt.Sprintf("%d|%d|%s", s.Agent, s.Time, pk)
}

// Equal reports whether two local states are the same.
func (s LocalState) Equal(o LocalState) bool {
	if s.Agent != o.Agent || s.Time != o.Time {
		return false
	}
	if s.Payload == nil || o.Payload == nil {
		return s.Payload == o.Payload
	}
	return s.Payload.Equal(o.Payload)
}

func (s LocalState) String() string { return s.Key() }

// Transition names a local transition: an agent taking an action from one
// local state to a successor.
type Transition struct {
	From   LocalState
	Action Action
	To     LocalState
}

// InfluenceToken is a state-influence pair (from, to) of some other agent,
// used as a member of an influence set.
type InfluenceToken struct {
	From LocalState
	To   LocalState
}

// Equal reports whether two influence tokens denote the same state pair.
func (t InfluenceToken) Equal(o InfluenceToken) bool {
	return t.From.Equal(o.From) && t.To.Equal(o.To)
}

func (t InfluenceToken) Key() string { return t.From.Key() + "->" + t.To.Key() }

// JointAction maps a subset of agents to the action each takes at a given
// time.
type JointAction struct {
	Time    int
	actions map[AgentID]Action
}

// NewJointAction creates an empty joint action at the given time.
func NewJointAction(time int) *JointAction {
	return &JointAction{Time: time, actions: make(map[AgentID]Action)}
}

// AddAgent records the action taken by agent a.
func (j *JointAction) AddAgent(a AgentID, act Action) {
	j.actions[a] = act
}

// Action returns the action of agent a, if present.
func (j *JointAction) Action(a AgentID) (Action, bool) {
	act, ok := j.actions[a]
	return act, ok
}

// Agents returns the sorted set of agents present in this joint action.
func (j *JointAction) Agents() []AgentID {
	ids := make([]AgentID, 0, len(j.actions))
	for a := range j.actions {
		ids = append(ids, a)
	}
	sort.Slice(ids, func(i, k int) bool { return ids[i] < ids[k] })
	return ids
}

// ActionSet returns the set of actions in this joint action, suitable for
// containsAll-style shared-reward matching.
func (j *JointAction) ActionSet() map[Action]struct{} {
	set := make(map[Action]struct{}, len(j.actions))
	for _, act := range j.actions {
		set[act] = struct{}{}
	}
	return set
}

func (j *JointAction) String() string {
	ids := j.Agents()
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, j.actions[id].String())
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// JointState maps a (possibly partial) set of agents to their local state,
// all sharing the same time. Two joint states are combinable iff their
// agent sets are disjoint.
type JointState struct {
	Time     int
	states   map[AgentID]LocalState
	executed []*JointAction // joint action executed at each elapsed time step, index = time
}

// NewJointState creates an empty joint state at the given time.
func NewJointState(time int) *JointState {
	return &JointState{Time: time, states: make(map[AgentID]LocalState)}
}

// Set assigns agent a's local state. It panics if s.Time does not match the
// joint state's time, mirroring the original's time-consistency assertion.
func (j *JointState) Set(a AgentID, s LocalState) {
	if s.Time != j.Time {
		panic(fmt.Sprintf("domain: inconsistent time in joint state: %d != %d", s.Time, j.Time))
	}
	j.states[a] = s
}

// Unset removes agent a's local state.
func (j *JointState) Unset(a AgentID) { delete(j.states, a) }

// Has reports whether agent a is present in this joint state.
func (j *JointState) Has(a AgentID) bool {
	_, ok := j.states[a]
	return ok
}

// State returns agent a's local state.
func (j *JointState) State(a AgentID) (LocalState, bool) {
	s, ok := j.states[a]
	return s, ok
}

// Agents returns the sorted set of agents present in this joint state.
func (j *JointState) Agents() []AgentID {
	ids := make([]AgentID, 0, len(j.states))
	for a := range j.states {
		ids = append(ids, a)
	}
	sort.Slice(ids, func(i, k int) bool { return ids[i] < ids[k] })
	return ids
}

// CacheKey returns a stable string key for this joint state, used by the
// search map and coordination graph (Go maps cannot be keyed by a variable
// agent-set map directly).
func (j *JointState) CacheKey() string {
	ids := j.Agents()
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		s := j.states[id]
		parts = append(parts, s.Key())
	}
	return strings.Join(parts, ";")
}

// Combine merges this joint state with another over a disjoint agent set,
// returning a new joint state holding the union. Panics if the agent sets
// overlap or the times differ, mirroring the original's validity assert.
func (j *JointState) Combine(o *JointState) *JointState {
	if j.Time != o.Time {
		panic("domain: cannot combine joint states at different times")
	}
	res := NewJointState(j.Time)
	for a, s := range j.states {
		res.states[a] = s
	}
	for a, s := range o.states {
		if _, exists := res.states[a]; exists {
			panic(fmt.Sprintf("domain: cannot combine joint states sharing agent %d", a))
		}
		res.states[a] = s
	}
	if len(j.executed) >= len(o.executed) {
		res.executed = j.executed
	} else {
		res.executed = o.executed
	}
	return res
}

// ExecutedActions returns the joint action executed at each elapsed time
// step (index 0..Time-1). Used by shared-action rewards that accumulate
// over a state's whole history.
func (j *JointState) ExecutedActions() []*JointAction { return j.executed }

// RecordExecuted appends the joint action executed to reach this state.
func (j *JointState) RecordExecuted(prior []*JointAction, ja *JointAction) {
	j.executed = make([]*JointAction, len(prior)+1)
	copy(j.executed, prior)
	j.executed[len(prior)] = ja
}

// Adapter is the seam between the core and a concrete problem. The core
// never inspects domain-specific state content beyond what this interface
// exposes. Any type satisfying it plugs into the solver.
type Adapter interface {
	// AvailableActions returns the domain-legal actions from this local
	// state. Must be empty iff IsTerminal(state).
	AvailableActions(state LocalState) []Action
	// NewStates returns all possible successor local states from taking
	// action in state. Cardinality > 1 expresses stochasticity.
	NewStates(state LocalState, action Action) []LocalState
	// TransitionProbability returns the probability of this exact
	// successor given (from, action). Must sum to 1 over NewStates(from,
	// action).
	TransitionProbability(t Transition) float64
	// DependentActions returns the actions of other that could alter any
	// reward with the given scope when this local transition happens.
	// Empty means no action dependency.
	DependentActions(scope []AgentID, t Transition, other AgentID) []Action
	// TransitionInfluence returns the state-influence tokens of other that
	// could alter rewards with the given scope. Empty means no influence.
	TransitionInfluence(scope []AgentID, t Transition, other AgentID) []InfluenceToken
	// IsTerminal reports domain terminality for the given local state.
	IsTerminal(state LocalState) bool
	// FactorState projects a global state into the per-agent factored
	// joint-state form. Used by Policy.Query.
	FactorState(global any) *JointState
}

func (j *JointState) String() string {
	ids := j.Agents()
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, j.states[id].String())
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
