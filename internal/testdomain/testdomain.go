// Package testdomain is a small, configurable multi-agent project-planning
// domain used to exercise the solver end-to-end: each agent performs
// exactly one task over its lifetime, ticking through the task's duration
// (possibly extended once by a stochastic delay), paying a per-step cost
// while working and earning the task's revenue on completion.
package testdomain

import (
	"fmt"
	"sort"

	coresolver "github.com/AlgTUDelft/core-solver"
	"github.com/AlgTUDelft/core-solver/domain"
	"github.com/AlgTUDelft/core-solver/reward"
	"github.com/AlgTUDelft/core-solver/rewardfn"
	"github.com/AlgTUDelft/core-solver/valuebound"
)

// Task is one action an agent can choose while idle.
type Task struct {
	Name             string
	Duration         int
	DelayProbability float64
	DelayDuration    int
	Revenue          float64
	CostPerStep      float64
}

// continueActionID is reserved on every agent for "keep working on the
// task already in progress" — never offered while idle.
const continueActionID domain.ActionID = -1

// Payload is the domain-specific local state: the task currently being
// worked (empty while idle or done), the ticks remaining on it including
// any sampled delay, and whether the agent has already finished its one
// task (distinct from "idle, not yet started").
type Payload struct {
	Task      string
	Remaining int
	Done      bool
}

func (p Payload) Key() string { return fmt.Sprintf("%s/%d/%v", p.Task, p.Remaining, p.Done) }

func (p Payload) Equal(o domain.Payload) bool {
	op, ok := o.(Payload)
	return ok && p == op
}

// Adapter is a domain.Adapter over a fixed per-agent task menu and horizon.
type Adapter struct {
	Horizon int
	tasks   map[domain.AgentID][]Task
	// brokenAgent, if broken, makes TransitionProbability under-report mass
	// by 0.1 for that agent's task-start transitions, exercising the
	// probability-closure violation path.
	brokenAgent domain.AgentID
	broken      bool
}

// NewAdapter builds an Adapter over the given per-agent task menus.
func NewAdapter(horizon int, tasks map[domain.AgentID][]Task) *Adapter {
	return &Adapter{Horizon: horizon, tasks: tasks}
}

// Break makes agent's task-start transitions under-report their
// probability mass by 0.1, to exercise the adapter-violation failure path.
func (a *Adapter) Break(agent domain.AgentID) {
	a.brokenAgent = agent
	a.broken = true
}

func (a *Adapter) payload(s domain.LocalState) Payload { return s.Payload.(Payload) }

func (a *Adapter) IsTerminal(s domain.LocalState) bool {
	return s.Time >= a.Horizon || a.payload(s).Done
}

func (a *Adapter) AvailableActions(s domain.LocalState) []domain.Action {
	if a.IsTerminal(s) {
		return nil
	}
	p := a.payload(s)
	if p.Remaining > 0 {
		return []domain.Action{{Agent: s.Agent, ID: continueActionID, Name: "continue:" + p.Task}}
	}
	tasks := a.tasks[s.Agent]
	out := make([]domain.Action, len(tasks))
	for i, t := range tasks {
		out[i] = domain.Action{Agent: s.Agent, ID: domain.ActionID(i), Name: t.Name}
	}
	return out
}

func (a *Adapter) NewStates(s domain.LocalState, action domain.Action) []domain.LocalState {
	p := a.payload(s)
	next := s.Time + 1

	if action.ID == continueActionID {
		rem := p.Remaining - 1
		return []domain.LocalState{{Agent: s.Agent, Time: next, Payload: Payload{Task: p.Task, Remaining: rem, Done: rem == 0}}}
	}

	t := a.tasks[s.Agent][action.ID]
	noDelayRemaining := t.Duration - 1
	if t.DelayProbability <= 0 {
		return []domain.LocalState{{Agent: s.Agent, Time: next, Payload: Payload{Task: t.Name, Remaining: noDelayRemaining, Done: noDelayRemaining == 0}}}
	}
	delayedRemaining := noDelayRemaining + t.DelayDuration
	return []domain.LocalState{
		{Agent: s.Agent, Time: next, Payload: Payload{Task: t.Name, Remaining: noDelayRemaining, Done: noDelayRemaining == 0}},
		{Agent: s.Agent, Time: next, Payload: Payload{Task: t.Name, Remaining: delayedRemaining, Done: delayedRemaining == 0}},
	}
}

func (a *Adapter) TransitionProbability(t domain.Transition) float64 {
	if t.Action.ID == continueActionID {
		return 1.0
	}
	task := a.tasks[t.From.Agent][t.Action.ID]
	to := t.To.Payload.(Payload)
	noDelayRemaining := task.Duration - 1

	penalty := 0.0
	if a.broken && t.From.Agent == a.brokenAgent {
		penalty = 0.1
	}

	if task.DelayProbability <= 0 {
		return 1.0 - penalty
	}
	if to.Remaining == noDelayRemaining {
		return 1.0 - task.DelayProbability - penalty
	}
	return task.DelayProbability
}

// DependentActions conservatively reports every task-start action of other
// at the transition's time (its idle-state task menu; the continue action
// is not included) as potentially relevant to a shared reward in scope —
// this domain's shared rules are keyed on concurrently executing actions,
// so any of other's choices could complete or break a rule.
func (a *Adapter) DependentActions(scope []domain.AgentID, t domain.Transition, other domain.AgentID) []domain.Action {
	if !inScope(scope, t.From.Agent) || !inScope(scope, other) {
		return nil
	}
	local := domain.LocalState{Agent: other, Time: t.From.Time, Payload: Payload{Remaining: 0}}
	return a.AvailableActions(local)
}

// TransitionInfluence is always empty: this domain's agents never read
// each other's state directly, only each other's concurrent actions —
// matching the bundled project-planning domain in the original system.
func (a *Adapter) TransitionInfluence(scope []domain.AgentID, t domain.Transition, other domain.AgentID) []domain.InfluenceToken {
	return nil
}

func (a *Adapter) FactorState(global any) *domain.JointState {
	js, ok := global.(*domain.JointState)
	if !ok {
		panic("testdomain: FactorState expects *domain.JointState")
	}
	return js
}

func inScope(scope []domain.AgentID, a domain.AgentID) bool {
	for _, s := range scope {
		if s == a {
			return true
		}
	}
	return false
}

// taskReward is a private, single-agent reward computed directly from the
// transition's before/after payload: a per-step cost on every tick, plus
// the task's revenue on the tick that completes it.
type taskReward struct {
	agent domain.AgentID
	tasks []Task
}

func newTaskReward(agent domain.AgentID, tasks []Task) reward.Reward {
	return &taskReward{agent: agent, tasks: tasks}
}

func (r *taskReward) Scope() []domain.AgentID                                    { return []domain.AgentID{r.agent} }
func (r *taskReward) InScope(a domain.AgentID) bool                              { return a == r.agent }
func (r *taskReward) Name() string                                               { return "task-step" }
func (r *taskReward) LocalCRI(domain.AgentID, domain.LocalState) bool            { return true }
func (r *taskReward) CRI(domain.AgentID, domain.AgentID, *domain.JointState) bool { return true }

func (r *taskReward) taskFor(name string) Task {
	for _, t := range r.tasks {
		if t.Name == name {
			return t
		}
	}
	return Task{}
}

func (r *taskReward) Value(owner domain.AgentID, trans domain.Transition, _ reward.Context) valuebound.StateValue {
	to := trans.To.Payload.(Payload)
	task := r.taskFor(to.Task)
	v := -task.CostPerStep
	if to.Remaining == 0 {
		v += task.Revenue
	}
	return valuebound.NewWith([]string{"value"}, []float64{v})
}

// SharedRule names a shared-action reward rule: the concurrently executing
// actions it matches, and the scalar value it contributes when they do.
type SharedRule struct {
	Actions []domain.Action
	Value   float64
}

func sharedScopeAgents(rules []SharedRule) []domain.AgentID {
	seen := make(map[domain.AgentID]struct{})
	for _, r := range rules {
		for _, a := range r.Actions {
			seen[a.Agent] = struct{}{}
		}
	}
	ids := make([]domain.AgentID, 0, len(seen))
	for a := range seen {
		ids = append(ids, a)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// BuildInstance assembles a coresolver.Instance for the given agents' task
// menus and horizon, with a per-agent task-step reward and an optional
// shared-action rule set.
func BuildInstance(horizon int, tasks map[domain.AgentID][]Task, sharedRules []SharedRule) (*coresolver.Instance, *Adapter) {
	adapter := NewAdapter(horizon, tasks)

	ids := make([]domain.AgentID, 0, len(tasks))
	for a := range tasks {
		ids = append(ids, a)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	agents := make([]domain.Agent, 0, len(ids))
	var rewards []reward.Reward
	initial := domain.NewJointState(0)

	for _, id := range ids {
		ts := tasks[id]
		actions := make([]domain.Action, len(ts))
		for i, t := range ts {
			actions[i] = domain.Action{Agent: id, ID: domain.ActionID(i), Name: t.Name}
		}
		agents = append(agents, domain.Agent{ID: id, Actions: actions})
		rewards = append(rewards, newTaskReward(id, ts))
		initial.Set(id, domain.LocalState{Agent: id, Time: 0, Payload: Payload{Remaining: 0}})
	}

	if len(sharedRules) > 0 {
		sr := reward.NewActionReward(sharedScopeAgents(sharedRules), []string{"value"})
		for _, rule := range sharedRules {
			sr.AddRule(rule.Actions, rewardfn.Const{Value: rule.Value})
		}
		rewards = append(rewards, sr)
	}

	return &coresolver.Instance{Agents: agents, Rewards: rewards, Initial: initial}, adapter
}
