// Package coresolver is the top-level entry point: given a domain adapter,
// an initial joint state, and a set of rewards, it builds one Conditional
// Return Graph per agent, runs the decoupled branch-and-bound policy
// search, and reconstructs a queryable Policy.
package coresolver

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/AlgTUDelft/core-solver/config"
	"github.com/AlgTUDelft/core-solver/coordgraph"
	"github.com/AlgTUDelft/core-solver/corerr"
	"github.com/AlgTUDelft/core-solver/crg"
	"github.com/AlgTUDelft/core-solver/debugdump"
	"github.com/AlgTUDelft/core-solver/domain"
	"github.com/AlgTUDelft/core-solver/policy"
	"github.com/AlgTUDelft/core-solver/progress"
	"github.com/AlgTUDelft/core-solver/reward"
	"github.com/AlgTUDelft/core-solver/search"
	"github.com/AlgTUDelft/core-solver/stats"
)

// Instance is the fully-constructed problem: every agent, the rewards
// enumerated over them, and each agent's initial local state.
type Instance struct {
	Agents  []domain.Agent
	Rewards []reward.Reward
	Initial *domain.JointState
}

// Option configures one Solve call.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	tracer   trace.Tracer
	progress bool
}

// WithLogger overrides the default (slog.Default()) logger.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithTracer enables OpenTelemetry spans around preprocessing/search/
// postprocessing.
func WithTracer(t trace.Tracer) Option { return func(o *options) { o.tracer = t } }

func heuristicFor(settings config.Settings) reward.Heuristic {
	switch settings.AssignHeuristic {
	case config.LowestDegree:
		return reward.LowestDegree
	case config.Random:
		return reward.NewRandom(settings.RandomSeed)
	case config.Balanced:
		return reward.Balanced{}
	default:
		return reward.HighestDegree
	}
}

// Solve builds the per-agent CRGs, searches the decoupled joint-policy
// space, and returns the reconstructed Policy plus a statistics Report.
func Solve(ctx context.Context, inst *Instance, adapter domain.Adapter, settings config.Settings, opts ...Option) (*policy.Policy, *stats.Report, error) {
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}

	runID := uuid.NewString()
	log := o.logger.With("run_id", runID)

	if settings.MaxRuntimeMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(settings.MaxRuntimeMs)*time.Millisecond)
		defer cancel()
	}

	report := &stats.Report{RunID: runID, CRGs: make(map[domain.AgentID]crg.Stats, len(inst.Agents))}

	agentIDs := make([]domain.AgentID, len(inst.Agents))
	for i, a := range inst.Agents {
		agentIDs[i] = a.ID
	}

	preStart := time.Now()
	_, span := startSpan(ctx, o.tracer, "coresolver.preprocess")

	assignment := heuristicFor(settings).Assign(agentIDs, inst.Rewards)

	crgs := make(map[domain.AgentID]*crg.Graph, len(inst.Agents))
	for _, a := range inst.Agents {
		local, ok := inst.Initial.State(a.ID)
		if !ok {
			endSpan(span)
			return nil, nil, corerr.New(corerr.KindAdapterViolation, "no initial local state for agent "+agentString(a.ID))
		}
		g := crg.New(a.ID, assignment[a.ID], inst.Rewards, adapter, settings.LocalCRI)
		log.Debug("building CRG", "agent", a.ID)
		if _, err := g.Build(ctx, local); err != nil {
			endSpan(span)
			log.Warn("CRG build failed", "agent", a.ID, "error", err)
			return nil, nil, err
		}
		crgs[a.ID] = g
		report.CRGs[a.ID] = g.Stats
	}

	cg := coordgraph.New(inst.Rewards)
	endSpan(span)
	report.PreprocessingWall = time.Since(preStart)

	solveStart := time.Now()
	_, span = startSpan(ctx, o.tracer, "coresolver.search")

	searchSettings := search.Settings{
		BBPruning:    settings.BBPruning,
		BBTightening: settings.BBTightening,
		LocalCRI:     settings.LocalCRI,
		DecoupleCRI:  settings.DecoupleCRI,
	}
	if settings.ShowProgress {
		bar := progress.New(os.Stderr, "solving", 30)
		searchSettings.OnProgress = func(done, total int) { bar.Update(done, total) }
	}

	searcher := search.New(crgs, cg, searchSettings)

	if _, err := searcher.Solve(ctx, inst.Initial); err != nil {
		endSpan(span)
		if corerr.IsTimeout(err) {
			log.Warn("solve timed out", "budget_ms", settings.MaxRuntimeMs)
		}
		return nil, nil, err
	}
	endSpan(span)
	report.Search = searcher.Stats
	report.SolveWall = time.Since(solveStart)

	postStart := time.Now()
	_, span = startSpan(ctx, o.tracer, "coresolver.postprocess")

	p, err := policy.Build(adapter, searcher.Cache(), inst.Initial)
	if err != nil {
		endSpan(span)
		return nil, nil, err
	}

	if settings.DebugDir != "" {
		for _, a := range inst.Agents {
			if err := dumpCRG(settings.DebugDir, crgs[a.ID], inst.Initial); err != nil {
				log.Warn("debug dump failed", "agent", a.ID, "error", err)
			}
		}
		if err := debugdump.WritePolicy(settings.DebugDir, p); err != nil {
			log.Warn("policy dump failed", "error", err)
		}
	}

	endSpan(span)
	report.PostprocessingWall = time.Since(postStart)

	log.Info("solve complete",
		"states_evaluated", report.Search.StatesEvaluated,
		"states_decoupled", report.Search.StatesDecoupled,
		"pruned_outer", report.Search.PrunedOuter,
		"pruned_inner", report.Search.PrunedInner,
	)

	return p, report, nil
}

func dumpCRG(dir string, g *crg.Graph, initial *domain.JointState) error {
	local, ok := initial.State(g.Agent)
	if !ok {
		return nil
	}
	return debugdump.WriteCRG(dir, g, reachableStates(g, local))
}

// reachableStates walks a built CRG breadth-first from its initial state,
// collecting every state reachable through its stored transitions, for the
// debug dump.
func reachableStates(g *crg.Graph, initial domain.LocalState) []domain.LocalState {
	seen := map[string]domain.LocalState{initial.Key(): initial}
	queue := []domain.LocalState{initial}
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		info := g.StateInfo(s)
		for _, t := range info.Transitions {
			if _, ok := seen[t.To.Key()]; !ok {
				seen[t.To.Key()] = t.To
				queue = append(queue, t.To)
			}
		}
	}
	out := make([]domain.LocalState, 0, len(seen))
	for _, s := range seen {
		out = append(out, s)
	}
	return out
}

func startSpan(ctx context.Context, tracer trace.Tracer, name string) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, nil
	}
	return tracer.Start(ctx, name)
}

func endSpan(span trace.Span) {
	if span != nil {
		span.End()
	}
}

func agentString(a domain.AgentID) string {
	return "agent " + strconv.Itoa(int(a))
}
