// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"encoding/json"

	"github.com/mcpgate/mcpgate/pkg/auth"
	"github.com/mcpgate/mcpgate/pkg/protocol"
)

// Tool describes one registered tool.
type Tool struct {
	Name        string
	Description string

	// InputSchema is a JSON schema for the call arguments. Optional;
	// when present it is compiled at registration and enforced per call.
	InputSchema json.RawMessage

	// Annotations are 2025-03-26+ metadata hints (readOnlyHint and
	// friends). Omitted from listings on older sessions.
	Annotations map[string]any

	Handler Handler
}

// ToolMetadata is the tools/list view of a registered tool.
type ToolMetadata struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	Annotations map[string]any  `json:"annotations,omitempty"`
}

// ToolRegistry is the string-keyed tool collection.
type ToolRegistry struct {
	reg *registry
}

// NewToolRegistry creates an empty tool registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{reg: newRegistry()}
}

// Register adds or replaces a tool. The schema is validated here.
func (t *ToolRegistry) Register(tool Tool) error {
	return t.reg.register(&entry{
		name:        tool.Name,
		description: tool.Description,
		schema:      tool.InputSchema,
		annotations: tool.Annotations,
		handler:     tool.Handler,
	})
}

// List returns tool metadata in registration order, filtered by what
// the caller's protocol version can express.
func (t *ToolRegistry) List(version string) []ToolMetadata {
	withAnnotations := protocol.HasFeature(version, protocol.FeatureToolAnnotations)

	entries := t.reg.ordered()
	out := make([]ToolMetadata, 0, len(entries))
	for _, e := range entries {
		md := ToolMetadata{
			Name:        e.name,
			Description: e.description,
			InputSchema: e.schema,
		}
		if withAnnotations {
			md.Annotations = e.annotations
		}
		out = append(out, md)
	}
	return out
}

// Execute invokes the named tool.
func (t *ToolRegistry) Execute(ctx context.Context, name string, args map[string]any, rc *auth.RequestContext) (any, error) {
	return t.reg.execute(ctx, "tool", name, args, rc)
}
