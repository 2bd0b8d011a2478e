// SPDX-License-Identifier: Apache-2.0

// Package registry holds the named handler registries for tools,
// prompts and resources. Registration is string-keyed with last write
// winning; schemas are validated when a handler is registered, not on
// every call path.
package registry

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/mcpgate/mcpgate/pkg/auth"
	"github.com/mcpgate/mcpgate/pkg/errors"
	"github.com/mcpgate/mcpgate/pkg/logger"
)

// Handler is the contract user code implements. Args is the decoded
// params object; rc carries tenant data, token data, session id,
// protocol version and base URL.
type Handler func(ctx context.Context, args map[string]any, rc *auth.RequestContext) (any, error)

// entry is one registered handler with its metadata.
type entry struct {
	name        string
	description string
	schema      json.RawMessage
	compiled    *gojsonschema.Schema
	annotations map[string]any
	handler     Handler
}

// registry is the shared name-keyed core. Replacing an existing name
// keeps its position in the listing order.
type registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]*entry)}
}

// compileSchema validates the JSON schema itself so a broken schema
// fails loudly at registration instead of at call time.
func compileSchema(schema json.RawMessage) (*gojsonschema.Schema, error) {
	if len(schema) == 0 {
		return nil, nil
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("invalid JSON schema: %w", err)
	}
	return compiled, nil
}

func (r *registry) register(e *entry) error {
	if e.name == "" {
		return fmt.Errorf("name must not be empty")
	}
	if e.handler == nil {
		return fmt.Errorf("handler must not be nil")
	}

	compiled, err := compileSchema(e.schema)
	if err != nil {
		return err
	}
	e.compiled = compiled

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[e.name]; !exists {
		r.order = append(r.order, e.name)
	}
	r.entries[e.name] = e
	return nil
}

// get returns the entry or nil.
func (r *registry) get(name string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[name]
}

// ordered returns entries in registration order.
func (r *registry) ordered() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*entry, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name])
	}
	return out
}

// execute runs the named handler. Unknown names surface as not-found;
// a panicking or failing handler becomes a generic execution error so
// dispatch never crashes on user code.
func (r *registry) execute(ctx context.Context, kind, name string, args map[string]any, rc *auth.RequestContext) (result any, err error) {
	e := r.get(name)
	if e == nil {
		return nil, errors.NewNotFoundError(fmt.Sprintf("%s not found: %s", kind, name), nil)
	}

	if e.compiled != nil {
		if verr := validateArgs(e.compiled, args); verr != nil {
			return nil, verr
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			logger.Errorw("handler panicked", "kind", kind, "name", name, "panic", rec)
			result = nil
			err = errors.NewInternalError(kind+" execution failed", nil)
		}
	}()

	result, err = e.handler(ctx, args, rc)
	if err != nil {
		// Typed errors pass through so invalid-params surfaces as such.
		var typed *errors.Error
		if stderrors.As(err, &typed) {
			return nil, err
		}
		// The cause stays in the log; the wire only sees the generic
		// failure.
		logger.Warnw("handler failed", "kind", kind, "name", name, "error", err)
		return nil, errors.NewInternalError(kind+" execution failed", nil)
	}
	return result, nil
}

// validateArgs checks the call arguments against the registered schema.
func validateArgs(schema *gojsonschema.Schema, args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}
	res, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return errors.NewInvalidParamsError("arguments are not valid JSON", err)
	}
	if !res.Valid() {
		msgs := ""
		for i, desc := range res.Errors() {
			if i > 0 {
				msgs += "; "
			}
			msgs += desc.String()
		}
		return errors.NewInvalidParamsError("invalid arguments: "+msgs, nil)
	}
	return nil
}
