// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	stderrors "errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/mcpgate/mcpgate/pkg/auth"
	"github.com/mcpgate/mcpgate/pkg/errors"
	"github.com/mcpgate/mcpgate/pkg/logger"
)

// templateVariable matches one {variable} placeholder in a URI template.
var templateVariable = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// Resource describes one registered resource. A URI containing
// {variable} placeholders registers a template; each variable matches a
// single path segment.
type Resource struct {
	URI         string
	Name        string
	Description string
	MimeType    string
	Handler     Handler
}

// ResourceMetadata is the resources/list view of a registered resource.
type ResourceMetadata struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// TemplateMetadata is the resources/templates/list view.
type TemplateMetadata struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// resourceTemplate is a compiled URI template.
type resourceTemplate struct {
	resource  Resource
	pattern   *regexp.Regexp
	variables []string
}

// ResourceRegistry resolves resource URIs: exact match first, then
// templates in registration order.
type ResourceRegistry struct {
	mu        sync.RWMutex
	exact     map[string]*Resource
	order     []string
	templates []*resourceTemplate
}

// NewResourceRegistry creates an empty resource registry.
func NewResourceRegistry() *ResourceRegistry {
	return &ResourceRegistry{exact: make(map[string]*Resource)}
}

// Register adds or replaces a resource. Last write wins for exact URIs;
// re-registering a template URI replaces the previous compilation in
// place.
func (r *ResourceRegistry) Register(res Resource) error {
	if res.URI == "" {
		return fmt.Errorf("uri must not be empty")
	}
	if res.Handler == nil {
		return fmt.Errorf("handler must not be nil")
	}

	if !templateVariable.MatchString(res.URI) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, exists := r.exact[res.URI]; !exists {
			r.order = append(r.order, res.URI)
		}
		r.exact[res.URI] = &res
		return nil
	}

	tmpl, err := compileTemplate(res)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.templates {
		if existing.resource.URI == res.URI {
			r.templates[i] = tmpl
			return nil
		}
	}
	r.templates = append(r.templates, tmpl)
	return nil
}

// compileTemplate turns {variable} placeholders into single-segment
// capture groups; everything else is matched literally.
func compileTemplate(res Resource) (*resourceTemplate, error) {
	var variables []string
	var pattern strings.Builder
	pattern.WriteString("^")

	rest := res.URI
	for {
		loc := templateVariable.FindStringSubmatchIndex(rest)
		if loc == nil {
			pattern.WriteString(regexp.QuoteMeta(rest))
			break
		}
		pattern.WriteString(regexp.QuoteMeta(rest[:loc[0]]))
		pattern.WriteString(`([^/]+)`)
		variables = append(variables, rest[loc[2]:loc[3]])
		rest = rest[loc[1]:]
	}
	pattern.WriteString("$")

	compiled, err := regexp.Compile(pattern.String())
	if err != nil {
		return nil, fmt.Errorf("invalid uri template %q: %w", res.URI, err)
	}
	return &resourceTemplate{resource: res, pattern: compiled, variables: variables}, nil
}

// List returns exact resources in registration order.
func (r *ResourceRegistry) List(_ string) []ResourceMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ResourceMetadata, 0, len(r.order))
	for _, uri := range r.order {
		res := r.exact[uri]
		out = append(out, ResourceMetadata{
			URI:         res.URI,
			Name:        res.Name,
			Description: res.Description,
			MimeType:    res.MimeType,
		})
	}
	return out
}

// ListTemplates returns template metadata in registration order.
func (r *ResourceRegistry) ListTemplates(_ string) []TemplateMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]TemplateMetadata, 0, len(r.templates))
	for _, tmpl := range r.templates {
		out = append(out, TemplateMetadata{
			URITemplate: tmpl.resource.URI,
			Name:        tmpl.resource.Name,
			Description: tmpl.resource.Description,
			MimeType:    tmpl.resource.MimeType,
		})
	}
	return out
}

// resolve finds the resource for a URI: exact match wins, then the
// first registered template that matches. Template variables are
// returned as extracted parameters.
func (r *ResourceRegistry) resolve(uri string) (*Resource, map[string]any) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if res, ok := r.exact[uri]; ok {
		return res, nil
	}
	for _, tmpl := range r.templates {
		m := tmpl.pattern.FindStringSubmatch(uri)
		if m == nil {
			continue
		}
		vars := make(map[string]any, len(tmpl.variables))
		for i, name := range tmpl.variables {
			vars[name] = m[i+1]
		}
		return &tmpl.resource, vars
	}
	return nil, nil
}

// Read resolves and executes the resource for the given URI. Template
// variables are merged into the handler arguments without overriding
// caller-provided keys.
func (r *ResourceRegistry) Read(ctx context.Context, uri string, args map[string]any, rc *auth.RequestContext) (result any, err error) {
	res, vars := r.resolve(uri)
	if res == nil {
		return nil, errors.NewNotFoundError("resource not found: "+uri, nil)
	}

	merged := make(map[string]any, len(args)+len(vars)+1)
	for k, v := range vars {
		merged[k] = v
	}
	for k, v := range args {
		merged[k] = v
	}
	merged["uri"] = uri

	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = errors.NewInternalError("resource execution failed", nil)
		}
	}()

	result, err = res.Handler(ctx, merged, rc)
	if err != nil {
		var typed *errors.Error
		if stderrors.As(err, &typed) {
			return nil, err
		}
		logger.Warnw("resource handler failed", "uri", uri, "error", err)
		return nil, errors.NewInternalError("resource execution failed", nil)
	}
	return result, nil
}
