// Package config holds the solver's tunable settings: branch-and-bound
// levers, the reward assignment heuristic, the cooperative timeout budget,
// and the optional debug dump directory.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// AssignHeuristic names one of the fixed reward-to-agent assignment
// policies (§4.2).
type AssignHeuristic string

const (
	Balanced      AssignHeuristic = "balanced"
	LowestDegree  AssignHeuristic = "lowest-degree"
	HighestDegree AssignHeuristic = "highest-degree"
	Random        AssignHeuristic = "random"
)

// Settings is the solver's full configuration surface (§6).
type Settings struct {
	BBPruning       bool            `env:"CORE_BB_PRUNING" envDefault:"true"`
	BBTightening    bool            `env:"CORE_BB_TIGHTENING" envDefault:"true"`
	LocalCRI        bool            `env:"CORE_LOCAL_CRI" envDefault:"true"`
	DecoupleCRI     bool            `env:"CORE_DECOUPLE_CRI" envDefault:"true"`
	ShowProgress    bool            `env:"CORE_SHOW_PROGRESS" envDefault:"false"`
	AssignHeuristic AssignHeuristic `env:"CORE_ASSIGN_HEURISTIC" envDefault:"highest-degree"`
	RandomSeed      uint64          `env:"CORE_RANDOM_SEED" envDefault:"0"`
	// MaxRuntimeMs is the cooperative timeout budget. -1 means unbounded.
	MaxRuntimeMs int64  `env:"CORE_MAX_RUNTIME_MS" envDefault:"-1"`
	DebugDir     string `env:"CORE_DEBUG_DIR" envDefault:""`
}

// Option mutates a Settings during construction.
type Option func(*Settings)

// Default returns the original system's own default configuration:
// every optimization on, highest-degree assignment, unbounded runtime.
func Default() Settings {
	return Settings{
		BBPruning:       true,
		BBTightening:    true,
		LocalCRI:        true,
		DecoupleCRI:     true,
		AssignHeuristic: HighestDegree,
		MaxRuntimeMs:    -1,
	}
}

// New builds a Settings from Default() with the given options applied.
func New(opts ...Option) Settings {
	s := Default()
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func WithBBPruning(v bool) Option    { return func(s *Settings) { s.BBPruning = v } }
func WithBBTightening(v bool) Option { return func(s *Settings) { s.BBTightening = v } }
func WithLocalCRI(v bool) Option     { return func(s *Settings) { s.LocalCRI = v } }
func WithDecoupleCRI(v bool) Option  { return func(s *Settings) { s.DecoupleCRI = v } }
func WithShowProgress(v bool) Option { return func(s *Settings) { s.ShowProgress = v } }
func WithAssignHeuristic(h AssignHeuristic, seed uint64) Option {
	return func(s *Settings) { s.AssignHeuristic = h; s.RandomSeed = seed }
}
func WithMaxRuntimeMs(ms int64) Option { return func(s *Settings) { s.MaxRuntimeMs = ms } }
func WithDebugDir(dir string) Option   { return func(s *Settings) { s.DebugDir = dir } }

// FromEnv loads a Settings from environment variables atop Default(),
// overriding any fields with a matching `env` tag present in the process
// environment.
func FromEnv() (Settings, error) {
	s := Default()
	if err := env.Parse(&s); err != nil {
		return Settings{}, fmt.Errorf("config: parsing environment: %w", err)
	}
	return s, nil
}
