// Package policy computes the effective capability set a deployment exposes
// to its runtime: which skills, tools, and connectors are visible, and the
// permission gates derived from them.
package policy

import (
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/stringutil"
)

// Skill is an installable prompt/behavior bundle offered to the runtime.
type Skill struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Disabled    bool   `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// Tool is a callable capability. Actions describe what it may do to the
// workspace (read, write, exec); Post marks tools that send data outward.
type Tool struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Actions     []string `json:"actions" yaml:"actions"`
	Category    string   `json:"category,omitempty" yaml:"category,omitempty"`
	Post        bool     `json:"post,omitempty" yaml:"post,omitempty"`
	Disabled    bool     `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// Connector is an outbound integration (chat channel, issue tracker).
type Connector struct {
	Key         string `json:"key" yaml:"key"`
	Name        string `json:"name" yaml:"name"`
	Category    string `json:"category,omitempty" yaml:"category,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Disabled    bool   `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// Registry holds the global capability catalog. The resolver only ever sees
// the enabled views.
type Registry struct {
	Skills     []Skill     `json:"skills" yaml:"skills"`
	Tools      []Tool      `json:"tools" yaml:"tools"`
	Connectors []Connector `json:"connectors" yaml:"connectors"`
}

// EnabledSkills returns the skills not marked disabled.
func (r *Registry) EnabledSkills() []Skill {
	out := make([]Skill, 0, len(r.Skills))
	for _, s := range r.Skills {
		if !s.Disabled {
			out = append(out, s)
		}
	}
	return out
}

// EnabledTools returns the tools not marked disabled.
func (r *Registry) EnabledTools() []Tool {
	out := make([]Tool, 0, len(r.Tools))
	for _, t := range r.Tools {
		if !t.Disabled {
			out = append(out, t)
		}
	}
	return out
}

// EnabledConnectors returns the connectors not marked disabled.
func (r *Registry) EnabledConnectors() []Connector {
	out := make([]Connector, 0, len(r.Connectors))
	for _, c := range r.Connectors {
		if !c.Disabled {
			out = append(out, c)
		}
	}
	return out
}

// tokenSet builds a normalized membership set from raw identifiers.
func tokenSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		if tok := stringutil.NormalizeToken(v); tok != "" {
			set[tok] = true
		}
	}
	return set
}
