// Package debugdump writes human-readable YAML dumps of a built CRG or a
// finished policy to debug_dir, the way the teacher's debug-facing code
// favors a plain readable file over a binary or database format.
package debugdump

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/AlgTUDelft/core-solver/crg"
	"github.com/AlgTUDelft/core-solver/domain"
	"github.com/AlgTUDelft/core-solver/policy"
)

type crgTransitionDump struct {
	Action      string  `yaml:"action"`
	To          string  `yaml:"to"`
	Probability float64 `yaml:"probability"`
	Value       string  `yaml:"value"`
}

type crgStateDump struct {
	Terminal    bool                 `yaml:"terminal"`
	Independent bool                 `yaml:"independent"`
	Bound       string               `yaml:"bound"`
	Transitions []crgTransitionDump `yaml:"transitions,omitempty"`
}

type crgDump struct {
	Agent  domain.AgentID          `yaml:"agent"`
	Stats  crg.Stats               `yaml:"stats"`
	States map[string]crgStateDump `yaml:"states"`
}

// WriteCRG writes graph's built state table to <dir>/crg-agent-<agent>.yaml.
func WriteCRG(dir string, graph *crg.Graph, states []domain.LocalState) error {
	if dir == "" {
		return nil
	}
	d := crgDump{Agent: graph.Agent, Stats: graph.Stats, States: make(map[string]crgStateDump, len(states))}
	for _, s := range states {
		info := graph.StateInfo(s)
		dump := crgStateDump{Terminal: info.Terminal, Independent: info.Independent, Bound: info.Bound.String()}
		for _, t := range info.Transitions {
			dump.Transitions = append(dump.Transitions, crgTransitionDump{
				Action:      t.Action.String(),
				To:          t.To.Key(),
				Probability: t.Probability,
				Value:       t.Value.String(),
			})
		}
		d.States[s.Key()] = dump
	}

	return writeYAML(filepath.Join(dir, fmt.Sprintf("crg-agent-%d.yaml", graph.Agent)), d)
}

type policyEntryDump struct {
	Action string   `yaml:"action"`
	Value  string   `yaml:"value"`
	Succs  []string `yaml:"successors,omitempty"`
}

// WritePolicy writes p's combined entries to <dir>/policy.yaml.
func WritePolicy(dir string, p *policy.Policy) error {
	if dir == "" {
		return nil
	}
	out := map[string]policyEntryDump{"__expected_value__": {Value: p.ExpectedValue().String()}}
	for key, e := range p.Entries() {
		var succs []string
		for _, t := range e.Transitions {
			succs = append(succs, t.Successor.CacheKey())
		}
		action := ""
		if e.Action != nil {
			action = e.Action.String()
		}
		out[key] = policyEntryDump{Action: action, Value: e.Value.String(), Succs: succs}
	}
	return writeYAML(filepath.Join(dir, "policy.yaml"), out)
}

func writeYAML(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("debugdump: creating directory: %w", err)
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("debugdump: marshaling %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("debugdump: writing %s: %w", path, err)
	}
	return nil
}
