package policy

import (
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/stringutil"
)

// Mode selects how global and assigned capability lists combine.
type Mode string

const (
	ModeGlobalOnly            Mode = "global_only"
	ModeGlobalPlusAssigned    Mode = "global_plus_assigned"
	ModeAssignedOnly          Mode = "assigned_only"
	ModeDenyAllExceptAssigned Mode = "deny_all_except_assigned"
)

// ValidMode reports whether s names a known policy mode.
func ValidMode(s string) bool {
	switch Mode(stringutil.NormalizeToken(s)) {
	case ModeGlobalOnly, ModeGlobalPlusAssigned, ModeAssignedOnly, ModeDenyAllExceptAssigned:
		return true
	}
	return false
}

// CapabilityPolicy is the per-deployment capability configuration. Deny lists
// apply to tools and connectors only; skills are allow-listed.
type CapabilityPolicy struct {
	Mode                  Mode     `json:"mode"`
	IncludeGlobalSkills   bool     `json:"include_global_skills"`
	AssignedSkillIDs      []string `json:"assigned_skill_ids,omitempty"`
	AssignedToolNames     []string `json:"assigned_tool_names,omitempty"`
	AssignedConnectorKeys []string `json:"assigned_connector_keys,omitempty"`
	DeniedToolNames       []string `json:"denied_tool_names,omitempty"`
	DeniedConnectorKeys   []string `json:"denied_connector_keys,omitempty"`
}

// DefaultPolicy is the policy applied when a deployment is created without one.
func DefaultPolicy() CapabilityPolicy {
	return CapabilityPolicy{
		Mode:                ModeGlobalOnly,
		IncludeGlobalSkills: true,
	}
}

// Gates are the coarse permissions derived from the effective sets.
type Gates struct {
	Read    bool `json:"read"`
	Write   bool `json:"write"`
	Exec    bool `json:"exec"`
	Network bool `json:"network"`
	Channel bool `json:"channel"`
}

// EffectiveCapabilitySet is the resolved, derived view of a policy against
// the registry. It is recomputed on policy or catalog change, never edited.
type EffectiveCapabilitySet struct {
	Mode       Mode        `json:"mode"`
	Skills     []Skill     `json:"skills"`
	Tools      []Tool      `json:"tools"`
	Connectors []Connector `json:"connectors"`
	Gates      Gates       `json:"gates"`
}

// Resolve computes the effective capability set for a policy against the
// enabled entries of the registry.
func Resolve(reg *Registry, pol CapabilityPolicy) EffectiveCapabilitySet {
	mode := normalizeMode(pol.Mode)
	tools := resolveTools(reg.EnabledTools(), mode, pol)
	connectors := resolveConnectors(reg.EnabledConnectors(), mode, pol)
	skills := resolveSkills(reg.EnabledSkills(), mode, pol)

	return EffectiveCapabilitySet{
		Mode:       mode,
		Skills:     skills,
		Tools:      tools,
		Connectors: connectors,
		Gates:      deriveGates(tools, connectors),
	}
}

func normalizeMode(m Mode) Mode {
	norm := Mode(stringutil.NormalizeToken(string(m)))
	switch norm {
	case ModeGlobalPlusAssigned, ModeAssignedOnly, ModeDenyAllExceptAssigned:
		return norm
	default:
		return ModeGlobalOnly
	}
}

// assignedSelects reports whether the mode limits entries to the assign list.
func assignedSelects(mode Mode) bool {
	return mode == ModeAssignedOnly || mode == ModeDenyAllExceptAssigned
}

func resolveTools(all []Tool, mode Mode, pol CapabilityPolicy) []Tool {
	assigned := tokenSet(pol.AssignedToolNames)
	denied := tokenSet(pol.DeniedToolNames)

	out := make([]Tool, 0, len(all))
	seen := make(map[string]bool)
	add := func(t Tool) {
		tok := stringutil.NormalizeToken(t.Name)
		if tok == "" || seen[tok] || denied[tok] {
			return
		}
		seen[tok] = true
		out = append(out, t)
	}

	switch {
	case assignedSelects(mode):
		for _, t := range all {
			if assigned[stringutil.NormalizeToken(t.Name)] {
				add(t)
			}
		}
	case mode == ModeGlobalPlusAssigned:
		for _, t := range all {
			add(t)
		}
		for _, t := range all {
			if assigned[stringutil.NormalizeToken(t.Name)] {
				add(t)
			}
		}
	default: // global_only
		for _, t := range all {
			add(t)
		}
	}
	return out
}

func resolveConnectors(all []Connector, mode Mode, pol CapabilityPolicy) []Connector {
	assigned := tokenSet(pol.AssignedConnectorKeys)
	denied := tokenSet(pol.DeniedConnectorKeys)

	out := make([]Connector, 0, len(all))
	seen := make(map[string]bool)
	add := func(c Connector) {
		tok := stringutil.NormalizeToken(c.Key)
		if tok == "" || seen[tok] || denied[tok] {
			return
		}
		seen[tok] = true
		out = append(out, c)
	}

	switch {
	case assignedSelects(mode):
		for _, c := range all {
			if assigned[stringutil.NormalizeToken(c.Key)] {
				add(c)
			}
		}
	case mode == ModeGlobalPlusAssigned:
		for _, c := range all {
			add(c)
		}
		for _, c := range all {
			if assigned[stringutil.NormalizeToken(c.Key)] {
				add(c)
			}
		}
	default:
		for _, c := range all {
			add(c)
		}
	}
	return out
}

func resolveSkills(all []Skill, mode Mode, pol CapabilityPolicy) []Skill {
	assigned := tokenSet(pol.AssignedSkillIDs)

	out := make([]Skill, 0, len(all))
	seen := make(map[string]bool)
	add := func(s Skill) {
		tok := stringutil.NormalizeToken(s.ID)
		if tok == "" || seen[tok] {
			return
		}
		seen[tok] = true
		out = append(out, s)
	}

	switch {
	case assignedSelects(mode):
		for _, s := range all {
			if assigned[stringutil.NormalizeToken(s.ID)] {
				add(s)
			}
		}
	case mode == ModeGlobalPlusAssigned:
		if pol.IncludeGlobalSkills {
			for _, s := range all {
				add(s)
			}
		}
		for _, s := range all {
			if assigned[stringutil.NormalizeToken(s.ID)] {
				add(s)
			}
		}
	default: // global_only: assigned lists are not consulted
		if pol.IncludeGlobalSkills {
			for _, s := range all {
				add(s)
			}
		}
	}
	return out
}

// deriveGates computes permission gates from the effective sets. Gates come
// from what the deployment can actually reach, not from the raw policy.
func deriveGates(tools []Tool, connectors []Connector) Gates {
	var g Gates
	for _, t := range tools {
		for _, a := range t.Actions {
			switch stringutil.NormalizeToken(a) {
			case "read":
				g.Read = true
			case "write":
				g.Write = true
			case "exec":
				g.Exec = true
			}
		}
		cat := stringutil.NormalizeToken(t.Category)
		if cat == "network" || t.Post {
			g.Network = true
		}
		if cat == "connector" {
			g.Channel = true
		}
	}
	if len(connectors) > 0 {
		g.Network = true
		g.Channel = true
	}
	return g
}
