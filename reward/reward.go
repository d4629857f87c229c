// Package reward implements the CRG-level Reward capability (scope,
// per-transition value, local/global conditional-reward-independence
// tests), the two concrete shared-reward shapes the original system
// supports, and the menu of reward-to-agent assignment heuristics.
package reward

import (
	"math/rand/v2"
	"sort"

	"github.com/AlgTUDelft/core-solver/domain"
	"github.com/AlgTUDelft/core-solver/rewardfn"
	"github.com/AlgTUDelft/core-solver/valuebound"
)

// Reward is the capability every CRG-level reward function exposes to the
// builder and search: its scope (the agents it reads), a per-transition
// value, and the two independence tests.
type Reward interface {
	// Scope returns the set of agents this reward reads.
	Scope() []domain.AgentID
	// InScope reports whether agent a is in scope.
	InScope(a domain.AgentID) bool
	// Value returns this reward's contribution to a local transition taken
	// by its owner within the given joint context (the joint action and
	// resulting joint state, used by shared rewards to look across agents).
	Value(owner domain.AgentID, trans domain.Transition, ctx Context) valuebound.StateValue
	// LocalCRI reports whether this reward's value from the given local
	// state onward no longer depends on any other agent's future behavior.
	LocalCRI(owner domain.AgentID, state domain.LocalState) bool
	// CRI reports whether a1 and a2 are conditionally reward-independent
	// through this reward from the given (possibly partial) joint state
	// onward.
	CRI(a1, a2 domain.AgentID, state *domain.JointState) bool
	Name() string
}

// Context carries the joint-action/joint-state context a shared reward
// needs to evaluate against, beyond the single local transition passed to
// Value. The CRG builder constructs one per annotated transition, from the
// transition's own action plus its explicitly decided dependent actions and
// influence successors.
type Context struct {
	JointAction *domain.JointAction
	NewState    *domain.JointState
}

// Single is a private, single-agent reward: its local action carries its
// own (possibly time-dependent) reward function directly.
type Single struct {
	Owner domain.AgentID
	Fn    rewardfn.Function
	Names []string // objective vector names, e.g. []string{"revenue"}
}

func (s *Single) Scope() []domain.AgentID          { return []domain.AgentID{s.Owner} }
func (s *Single) InScope(a domain.AgentID) bool     { return a == s.Owner }
func (s *Single) Name() string                      { return "single" }

// Value evaluates the owner's own reward function at the transition's
// start time. None of the three built-in Function variants (Const,
// Linear, Tabular) read the horizon argument, so 0 is passed; a future
// horizon-dependent variant would need this threaded from the instance.
func (s *Single) Value(owner domain.AgentID, trans domain.Transition, _ Context) valuebound.StateValue {
	v := s.Fn.Eval(trans.From.Time, 0)
	return valuebound.NewWith(s.Names, []float64{v})
}

// LocalCRI is trivially true: a single-agent reward never depends on any
// other agent's behavior.
func (s *Single) LocalCRI(domain.AgentID, domain.LocalState) bool { return true }

// CRI is trivially true: there is no second agent in scope to depend on.
func (s *Single) CRI(domain.AgentID, domain.AgentID, *domain.JointState) bool { return true }

// ActionRule is a shared reward keyed by a set of (agent, action) pairs: it
// fires on every executing joint action whose action set is a superset of
// the rule's scope (the "containsAll" semantics of the original, which
// spec §9 preserves explicitly).
type ActionRule struct {
	Scope  map[domain.Action]struct{}
	Fn     rewardfn.Function
	Names  []string
	Weight float64
}

// ActionReward is the shared-reward shape whose rules match on concurrently
// executing actions, accumulated over the whole elapsed history of a joint
// state (mirroring SharedActionReward.computeReward, which sums every
// elapsed time step, not just the current one).
type ActionReward struct {
	scope  map[domain.AgentID]struct{}
	rules  []*ActionRule
	maxK   int
	Names  []string
	weight float64
}

// NewActionReward creates an empty shared action reward over the given
// scope agents.
func NewActionReward(agents []domain.AgentID, names []string) *ActionReward {
	scope := make(map[domain.AgentID]struct{}, len(agents))
	for _, a := range agents {
		scope[a] = struct{}{}
	}
	return &ActionReward{scope: scope, Names: names, weight: 1.0}
}

// AddRule adds a rule for the given action set. Returns false if a rule
// with that exact action set already exists (a no-op, matching the
// original's addRule contract).
func (r *ActionReward) AddRule(actions []domain.Action, fn rewardfn.Function) bool {
	scope := make(map[domain.Action]struct{}, len(actions))
	for _, a := range actions {
		scope[a] = struct{}{}
	}
	for _, existing := range r.rules {
		if sameActionSet(existing.Scope, scope) {
			return false
		}
	}
	r.rules = append(r.rules, &ActionRule{Scope: scope, Fn: fn, Names: r.Names, Weight: 1.0})
	if len(actions) > r.maxK {
		r.maxK = len(actions)
	}
	return true
}

func sameActionSet(a, b map[domain.Action]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func (r *ActionReward) Scope() []domain.AgentID {
	ids := make([]domain.AgentID, 0, len(r.scope))
	for a := range r.scope {
		ids = append(ids, a)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *ActionReward) InScope(a domain.AgentID) bool {
	_, ok := r.scope[a]
	return ok
}

func (r *ActionReward) Name() string { return "shared-action" }

// Value returns this reward's contribution given the joint action executing
// at the transition's time.
func (r *ActionReward) Value(owner domain.AgentID, trans domain.Transition, ctx Context) valuebound.StateValue {
	return r.WeightedValueAt(ctx.JointAction, trans.From.Time, 0)
}

// WeightedValueAt computes the shared reward contributed by the given
// executing joint action at the given time and horizon: the sum, over
// every rule whose action set is a subset of the executing actions
// ("containsAll"), of that rule's function evaluated at (time, horizon),
// scaled by the reward's weight.
func (r *ActionReward) WeightedValueAt(ja *domain.JointAction, time, horizon int) valuebound.StateValue {
	if ja == nil {
		return valuebound.New(r.Names...)
	}
	executing := ja.ActionSet()
	total := 0.0
	for _, rule := range r.rules {
		if isSubset(rule.Scope, executing) {
			total += rule.Fn.Eval(time, horizon)
		}
	}
	total *= r.weight
	return valuebound.NewWith(r.Names, []float64{total})
}

func isSubset(subset, superset map[domain.Action]struct{}) bool {
	for a := range subset {
		found := false
		for b := range superset {
			if a.Equal(b) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// SetWeight sets the reward's scale weight, returning the previous value.
func (r *ActionReward) SetWeight(w float64) float64 {
	old := r.weight
	r.weight = w
	return old
}

// LocalCRI always reports false: no state-local check is made of whether
// the reward's rules can still fire, so the local-CRI shortcut never
// applies to an agent whose rewards include an ActionReward.
func (r *ActionReward) LocalCRI(owner domain.AgentID, state domain.LocalState) bool {
	return false
}

// CRI reports whether a1 and a2 can no longer jointly influence this
// reward's value from the given joint state onward: true once every rule
// that mentions both agents has already fired in the executed-action
// history recorded in state. A rule that has not fired keeps the pair
// dependent, even when it can no longer fire.
func (r *ActionReward) CRI(a1, a2 domain.AgentID, state *domain.JointState) bool {
	involvesBoth := false
	for _, rule := range r.rules {
		has1, has2 := false, false
		for act := range rule.Scope {
			if act.Agent == a1 {
				has1 = true
			}
			if act.Agent == a2 {
				has2 = true
			}
		}
		if has1 && has2 {
			involvesBoth = true
			if !ruleDecided(rule, state) {
				return false
			}
		}
	}
	// If no single rule ever names both a1 and a2 together — e.g. the
	// reward's scope is the union of disjoint two-agent rules —
	// involvesBoth stays false and this pair is reported not-CRI forever,
	// even though they never had a joint dependency to resolve. Safe
	// (over-coupling never corrupts the returned value) but permanently
	// forgoes decoupling that pair.
	return involvesBoth || !r.InScope(a1) || !r.InScope(a2)
}

func ruleDecided(rule *ActionRule, state *domain.JointState) bool {
	executed := state.ExecutedActions()
	for _, ja := range executed {
		if ja == nil {
			continue
		}
		executing := ja.ActionSet()
		if isSubset(rule.Scope, executing) {
			return true // fired already
		}
	}
	return false
}

// AgentRule is a shared reward rule keyed by a set of agents whose reward
// is a domain-defined per-agent-set state feature rather than an action
// combination (SharedAgentReward in the original).
type AgentRule struct {
	Scope map[domain.AgentID]struct{}
	Fn    rewardfn.Function
}

// AgentReward is the shared-reward shape whose rules match on a
// domain-supplied feature of a set of agents' states, independent of which
// actions produced them.
type AgentReward struct {
	rules  []*AgentRule
	Names  []string
	weight float64
	// Feature computes the domain-defined boolean feature for an agent set
	// at a joint state; nil means "never fires" (a degenerate reward used
	// only in tests).
	Feature func(agents []domain.AgentID, state *domain.JointState) bool
}

// NewAgentReward creates an empty shared agent reward.
func NewAgentReward(names []string, feature func([]domain.AgentID, *domain.JointState) bool) *AgentReward {
	return &AgentReward{Names: names, weight: 1.0, Feature: feature}
}

// AddRule adds a rule for the given agent set, returning false if a rule
// for that exact set already exists.
func (r *AgentReward) AddRule(agents []domain.AgentID, fn rewardfn.Function) bool {
	scope := make(map[domain.AgentID]struct{}, len(agents))
	for _, a := range agents {
		scope[a] = struct{}{}
	}
	for _, existing := range r.rules {
		if sameAgentSet(existing.Scope, scope) {
			return false
		}
	}
	r.rules = append(r.rules, &AgentRule{Scope: scope, Fn: fn})
	return true
}

func sameAgentSet(a, b map[domain.AgentID]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func (r *AgentReward) Scope() []domain.AgentID {
	seen := make(map[domain.AgentID]struct{})
	for _, rule := range r.rules {
		for a := range rule.Scope {
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

func (r *AgentReward) InScope(a domain.AgentID) bool {
	for _, rule := range r.rules {
		if _, ok := rule.Scope[a]; ok {
			return true
		}
	}
	return false
}

func (r *AgentReward) Name() string { return "shared-agent" }

func (r *AgentReward) Value(owner domain.AgentID, trans domain.Transition, ctx Context) valuebound.StateValue {
	if ctx.NewState == nil {
		return valuebound.New(r.Names...)
	}
	total := 0.0
	for _, rule := range r.rules {
		agents := make([]domain.AgentID, 0, len(rule.Scope))
		for a := range rule.Scope {
			agents = append(agents, a)
		}
		sort.Slice(agents, func(i, j int) bool { return agents[i] < agents[j] })
		if r.Feature != nil && r.Feature(agents, ctx.NewState) {
			total += rule.Fn.Eval(trans.From.Time, 0)
		}
	}
	total *= r.weight
	return valuebound.NewWith(r.Names, []float64{total})
}

// LocalCRI is conservatively false: agent-feature rewards depend on the
// global joint state, not purely local information, so the state-local
// shortcut never applies to this shape.
func (r *AgentReward) LocalCRI(domain.AgentID, domain.LocalState) bool { return false }

// CRI reports whether no rule mentions both a1 and a2, which is the only
// case the feature function (domain-opaque) can be proven independent of
// future behavior without invoking the domain.
func (r *AgentReward) CRI(a1, a2 domain.AgentID, state *domain.JointState) bool {
	for _, rule := range r.rules {
		_, h1 := rule.Scope[a1]
		_, h2 := rule.Scope[a2]
		if h1 && h2 {
			return false
		}
	}
	return true
}

// SetWeight sets the reward's scale weight.
func (r *AgentReward) SetWeight(w float64) float64 {
	old := r.weight
	r.weight = w
	return old
}

// Heuristic assigns each reward to exactly one owning agent. Every variant
// first assigns single-agent rewards to their unique scope member, which
// is forced and not a heuristic choice.
type Heuristic interface {
	Assign(agents []domain.AgentID, rewards []Reward) map[domain.AgentID][]Reward
}

func initMapping(agents []domain.AgentID) map[domain.AgentID][]Reward {
	m := make(map[domain.AgentID][]Reward, len(agents))
	for _, a := range agents {
		m[a] = nil
	}
	return m
}

func assignSingle(m map[domain.AgentID][]Reward, rewards []Reward) []Reward {
	rest := make([]Reward, 0, len(rewards))
	for _, r := range rewards {
		scope := r.Scope()
		if len(scope) == 1 {
			m[scope[0]] = append(m[scope[0]], r)
			continue
		}
		rest = append(rest, r)
	}
	return rest
}

// Balanced assigns each multi-agent reward to the scope member with the
// fewest currently-assigned rewards.
type Balanced struct{}

func (Balanced) Assign(agents []domain.AgentID, rewards []Reward) map[domain.AgentID][]Reward {
	m := initMapping(agents)
	rest := assignSingle(m, rewards)
	for _, r := range rest {
		best := pickBy(r.Scope(), func(a domain.AgentID) int { return len(m[a]) })
		m[best] = append(m[best], r)
	}
	return m
}

// degreeHeuristic assigns each multi-agent reward to the scope member with
// the extreme (lowest or highest) total scope-degree across all rewards.
type degreeHeuristic struct{ lowest bool }

// LowestDegree assigns to the scope member participating in the fewest
// total reward scopes.
var LowestDegree Heuristic = degreeHeuristic{lowest: true}

// HighestDegree assigns to the scope member participating in the most
// total reward scopes. This is the original system's actual default.
var HighestDegree Heuristic = degreeHeuristic{lowest: false}

func (h degreeHeuristic) Assign(agents []domain.AgentID, rewards []Reward) map[domain.AgentID][]Reward {
	m := initMapping(agents)
	degree := make(map[domain.AgentID]int, len(agents))
	for _, a := range agents {
		degree[a] = 0
	}
	for _, r := range rewards {
		for _, a := range r.Scope() {
			degree[a]++
		}
	}
	for _, r := range rewards {
		scope := r.Scope()
		if len(scope) == 1 {
			m[scope[0]] = append(m[scope[0]], r)
			continue
		}
		var best domain.AgentID
		set := false
		for _, a := range scope {
			if !set || (h.lowest && degree[a] < degree[best]) || (!h.lowest && degree[a] > degree[best]) {
				best = a
				set = true
			}
		}
		m[best] = append(m[best], r)
	}
	return m
}

// Random assigns each multi-agent reward to a scope member drawn uniformly
// from a seeded generator.
type Random struct {
	rng *rand.Rand
}

// NewRandom creates a seeded random assignment heuristic.
func NewRandom(seed uint64) *Random {
	return &Random{rng: rand.New(rand.NewPCG(seed, seed))}
}

func (h *Random) Assign(agents []domain.AgentID, rewards []Reward) map[domain.AgentID][]Reward {
	m := initMapping(agents)
	rest := assignSingle(m, rewards)
	for _, r := range rest {
		scope := r.Scope()
		pick := scope[h.rng.IntN(len(scope))]
		m[pick] = append(m[pick], r)
	}
	return m
}

func pickBy(agents []domain.AgentID, key func(domain.AgentID) int) domain.AgentID {
	best := agents[0]
	for _, a := range agents[1:] {
		if key(a) < key(best) {
			best = a
		}
	}
	return best
}
