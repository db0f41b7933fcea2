package core

import "strings"

// AgentSource identifies which layer an AgentDefinition was loaded from.
// Project overrides user overrides bundled on name collision.
type AgentSource string

const (
	AgentSourceBundled AgentSource = "bundled"
	AgentSourceUser    AgentSource = "user"
	AgentSourceProject AgentSource = "project"
)

// sourcePrecedence ranks sources for merge resolution; higher wins.
var sourcePrecedence = map[AgentSource]int{
	AgentSourceBundled: 0,
	AgentSourceUser:    1,
	AgentSourceProject: 2,
}

// ThinkingLevel is the optional reasoning-effort override carried by an
// agent definition's front-matter.
type ThinkingLevel string

const (
	ThinkingOff     ThinkingLevel = "off"
	ThinkingMinimal ThinkingLevel = "minimal"
	ThinkingLow     ThinkingLevel = "low"
	ThinkingMedium  ThinkingLevel = "medium"
	ThinkingHigh    ThinkingLevel = "high"
	ThinkingXHigh   ThinkingLevel = "xhigh"
)

var validThinkingLevels = map[ThinkingLevel]bool{
	ThinkingOff: true, ThinkingMinimal: true, ThinkingLow: true,
	ThinkingMedium: true, ThinkingHigh: true, ThinkingXHigh: true,
}

// SpawnPolicy controls which agents a running sub-agent may itself spawn.
// Its zero value ("") denies all spawning; "*" allows any agent; anything
// else is a comma-separated allow-list of agent names.
type SpawnPolicy string

const (
	SpawnNone SpawnPolicy = ""
	SpawnAny  SpawnPolicy = "*"
)

// Allows reports whether this policy permits spawning the named agent.
func (p SpawnPolicy) Allows(agentName string) bool {
	switch p {
	case SpawnNone:
		return false
	case SpawnAny:
		return true
	}
	for _, allowed := range strings.Split(string(p), ",") {
		if strings.TrimSpace(allowed) == agentName {
			return true
		}
	}
	return false
}

// AgentDefinition is the immutable, once-per-run-loaded description of a
// sub-agent. It is the merge of a front-matter header and a system-prompt
// body, resolved across bundled/user/project sources (§4.B).
type AgentDefinition struct {
	Name          string
	Description   string
	SystemPrompt  string
	Model         string // optional model pattern
	ThinkingLevel ThinkingLevel
	Tools         []string // optional allow-list; nil means "all tools"
	Spawns        SpawnPolicy
	Output        *JSONSchema // optional output schema forcing the submit_result contract
	Source        AgentSource
	Blocking      bool
	Disabled      bool
}

// JSONSchema is a raw JSON Schema document, kept untyped here because the
// executor package owns compiling/validating it (see executor/schema.go).
type JSONSchema map[string]any

// Validate checks the invariants required before an AgentDefinition can be
// registered: a name and description are mandatory, and the thinking level
// (if set) must be one of the known values.
func (a *AgentDefinition) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return ErrValidation("AGENT_NAME_REQUIRED", "agent name cannot be empty")
	}
	if strings.TrimSpace(a.Description) == "" {
		return ErrValidation("AGENT_DESCRIPTION_REQUIRED", "agent description cannot be empty")
	}
	if a.ThinkingLevel != "" && !validThinkingLevels[a.ThinkingLevel] {
		return ErrValidation("AGENT_THINKING_LEVEL_INVALID", "unknown thinking level: "+string(a.ThinkingLevel))
	}
	return nil
}

// AllowsTool reports whether the agent's tool allow-list permits the named
// tool. A nil/empty list means every tool is permitted.
func (a *AgentDefinition) AllowsTool(name string) bool {
	if len(a.Tools) == 0 {
		return true
	}
	for _, t := range a.Tools {
		if t == name {
			return true
		}
	}
	return false
}

// MergeAgentSets resolves a run's final agent list from multiple sources,
// applying "later source wins" on name collision: project > user > bundled.
// Disabled agents (per the disabledNames filter) are dropped entirely.
func MergeAgentSets(disabledNames map[string]bool, sets ...[]*AgentDefinition) []*AgentDefinition {
	byName := make(map[string]*AgentDefinition)
	order := make([]string, 0)

	for _, set := range sets {
		for _, def := range set {
			if existing, ok := byName[def.Name]; !ok {
				byName[def.Name] = def
				order = append(order, def.Name)
			} else if sourcePrecedence[def.Source] >= sourcePrecedence[existing.Source] {
				byName[def.Name] = def
			}
		}
	}

	result := make([]*AgentDefinition, 0, len(order))
	for _, name := range order {
		if disabledNames[name] {
			continue
		}
		result = append(result, byName[name])
	}
	return result
}
