// Package agent resolves agent names to their definitions. Agents are named
// remote workers; a definition carries the metadata the session service and
// the serving surface need, not any execution logic.
package agent

import (
	"time"
)

// Agent describes one named remote worker.
type Agent struct {
	// Name is the identifier used by workflow steps and the session service.
	Name string `json:"name" yaml:"name"`
	// Description is free-form human documentation.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Model optionally pins the model the session service should use.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`
	// Prompt is the agent's system prompt, taken from the markdown body of a
	// definition file.
	Prompt string `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	// VisibleTo restricts which agents may reference this one. Empty means
	// visible to all.
	VisibleTo []string `json:"visible_to,omitempty" yaml:"visible_to,omitempty"`

	// Source is the file the definition was loaded from, empty for agents
	// registered programmatically.
	Source string `json:"-" yaml:"-"`
	// ModTime is the source file's modification time, used for cache checks.
	ModTime time.Time `json:"-" yaml:"-"`
}

// Resolver turns an agent name into a definition. Implementations must treat
// returned agents as shared and read-only.
type Resolver interface {
	// Resolve returns the definition for name. Unknown names fail with a
	// not-found error listing the available names.
	Resolve(name string) (*Agent, error)
	// List enumerates the resolvable agent names, sorted.
	List() []string
}
