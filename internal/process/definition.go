// Package process holds the static, process-wide configuration that shapes a
// workflow: its phases, the guarded edges between them, and the declarative
// work-item sequences seeded when a phase is entered. Definitions are
// immutable after load; malformed ones fail at startup, not at transition
// time.
package process

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/procurehq/bidflow/pkg/bidflow/domain"
)

// PhaseDefinition describes one phase of the business process.
type PhaseDefinition struct {
	Name                 string   `yaml:"name"`
	Label                string   `yaml:"label"`
	AllowedTransitions   []string `yaml:"allowedTransitions"`
	EntryHooks           []string `yaml:"entryHooks"`
	ExitHooks            []string `yaml:"exitHooks"`
	TimeoutMinutes       int      `yaml:"timeoutMinutes"`
	RequiredCapabilities []string `yaml:"requiredCapabilities"`
}

// TransitionDefinition is a directed edge between two phases. Conditions is
// the raw condition map compiled into an AST by the engine at startup.
// Automatic edges are eligible for scheduler-driven advancement when a
// phase's items all resolve; manual-only edges are not.
type TransitionDefinition struct {
	From       string         `yaml:"from"`
	To         string         `yaml:"to"`
	Automatic  bool           `yaml:"automatic"`
	Conditions map[string]any `yaml:"conditions"`
	Hooks      []string       `yaml:"hooks"`
}

// Definition is one loadable business process.
type Definition struct {
	Name         string                           `yaml:"name"`
	InitialPhase string                           `yaml:"initialPhase"`
	Phases       []PhaseDefinition                `yaml:"phases"`
	Transitions  []TransitionDefinition           `yaml:"transitions"`
	Sequences    map[string][]domain.WorkItemSpec `yaml:"sequences"` // keyed by phase name
}

// Phase returns the definition for the named phase, or nil.
func (d *Definition) Phase(name string) *PhaseDefinition {
	for i := range d.Phases {
		if d.Phases[i].Name == name {
			return &d.Phases[i]
		}
	}
	return nil
}

// Load reads a process definition from a YAML file and validates it.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read process file: %w", err)
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse process file: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks structural integrity: unique phase names, known phase
// references on every edge and sequence, and a registered initial phase.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("process definition requires a name")
	}
	if len(d.Phases) == 0 {
		return fmt.Errorf("process %s defines no phases", d.Name)
	}
	seen := map[string]bool{}
	for _, p := range d.Phases {
		if p.Name == "" {
			return fmt.Errorf("process %s contains a phase without a name", d.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("process %s declares phase %s twice", d.Name, p.Name)
		}
		seen[p.Name] = true
	}
	if d.InitialPhase == "" || !seen[d.InitialPhase] {
		return fmt.Errorf("process %s initial phase %q is not a declared phase", d.Name, d.InitialPhase)
	}
	for _, p := range d.Phases {
		for _, to := range p.AllowedTransitions {
			if !seen[to] {
				return fmt.Errorf("phase %s allows transition to unknown phase %s", p.Name, to)
			}
		}
	}
	for _, t := range d.Transitions {
		if !seen[t.From] {
			return fmt.Errorf("transition %s -> %s references unknown phase %s", t.From, t.To, t.From)
		}
		if !seen[t.To] {
			return fmt.Errorf("transition %s -> %s references unknown phase %s", t.From, t.To, t.To)
		}
	}
	for phase, items := range d.Sequences {
		if !seen[phase] {
			return fmt.Errorf("sequence declared for unknown phase %s", phase)
		}
		ids := map[string]bool{}
		for _, it := range items {
			if it.SequenceID == "" {
				return fmt.Errorf("phase %s sequence contains an item without a sequenceId", phase)
			}
			if ids[it.SequenceID] {
				return fmt.Errorf("phase %s sequence declares item %s twice", phase, it.SequenceID)
			}
			ids[it.SequenceID] = true
		}
		for _, it := range items {
			for _, dep := range it.DependsOn {
				if !ids[dep] {
					return fmt.Errorf("phase %s item %s depends on unknown item %s", phase, it.SequenceID, dep)
				}
			}
		}
	}
	return nil
}
