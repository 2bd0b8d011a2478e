// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"encoding/json"

	"github.com/mcpgate/mcpgate/pkg/auth"
)

// PromptArgument describes one argument a prompt accepts.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Prompt describes one registered prompt.
type Prompt struct {
	Name        string
	Description string
	Arguments   []PromptArgument

	// Schema optionally constrains prompts/get arguments.
	Schema json.RawMessage

	Handler Handler
}

// PromptMetadata is the prompts/list view of a registered prompt.
type PromptMetadata struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// PromptRegistry is the string-keyed prompt collection.
type PromptRegistry struct {
	reg *registry

	// arguments holds the per-prompt argument descriptors, keyed like
	// the underlying registry.
	arguments map[string][]PromptArgument
}

// NewPromptRegistry creates an empty prompt registry.
func NewPromptRegistry() *PromptRegistry {
	return &PromptRegistry{
		reg:       newRegistry(),
		arguments: make(map[string][]PromptArgument),
	}
}

// Register adds or replaces a prompt.
func (p *PromptRegistry) Register(prompt Prompt) error {
	err := p.reg.register(&entry{
		name:        prompt.Name,
		description: prompt.Description,
		schema:      prompt.Schema,
		handler:     prompt.Handler,
	})
	if err != nil {
		return err
	}

	p.reg.mu.Lock()
	p.arguments[prompt.Name] = prompt.Arguments
	p.reg.mu.Unlock()
	return nil
}

// List returns prompt metadata in registration order. Prompt listings
// have the same shape on every protocol revision.
func (p *PromptRegistry) List(_ string) []PromptMetadata {
	entries := p.reg.ordered()

	p.reg.mu.RLock()
	defer p.reg.mu.RUnlock()

	out := make([]PromptMetadata, 0, len(entries))
	for _, e := range entries {
		out = append(out, PromptMetadata{
			Name:        e.name,
			Description: e.description,
			Arguments:   p.arguments[e.name],
		})
	}
	return out
}

// Execute invokes the named prompt handler.
func (p *PromptRegistry) Execute(ctx context.Context, name string, args map[string]any, rc *auth.RequestContext) (any, error) {
	return p.reg.execute(ctx, "prompt", name, args, rc)
}
