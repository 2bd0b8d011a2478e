// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpgate/mcpgate/pkg/auth"
	"github.com/mcpgate/mcpgate/pkg/errors"
	"github.com/mcpgate/mcpgate/pkg/protocol"
)

func echoHandler(_ context.Context, args map[string]any, _ *auth.RequestContext) (any, error) {
	return args, nil
}

func TestToolRegisterAndExecute(t *testing.T) {
	t.Parallel()

	reg := NewToolRegistry()
	require.NoError(t, reg.Register(Tool{
		Name:        "echo",
		Description: "echoes its arguments",
		Handler:     echoHandler,
	}))

	out, err := reg.Execute(context.Background(), "echo", map[string]any{"msg": "hi"}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"msg": "hi"}, out)

	_, err = reg.Execute(context.Background(), "missing", nil, nil)
	assert.True(t, errors.IsNotFound(err))
}

func TestToolLastWriteWins(t *testing.T) {
	t.Parallel()

	reg := NewToolRegistry()
	require.NoError(t, reg.Register(Tool{Name: "t", Description: "first", Handler: echoHandler}))
	require.NoError(t, reg.Register(Tool{Name: "other", Handler: echoHandler}))
	require.NoError(t, reg.Register(Tool{
		Name:        "t",
		Description: "second",
		Handler: func(context.Context, map[string]any, *auth.RequestContext) (any, error) {
			return "replaced", nil
		},
	}))

	list := reg.List(protocol.V20250618)
	require.Len(t, list, 2)
	// Re-registration keeps the original position.
	assert.Equal(t, "t", list[0].Name)
	assert.Equal(t, "second", list[0].Description)

	out, err := reg.Execute(context.Background(), "t", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "replaced", out)
}

func TestToolSchemaValidation(t *testing.T) {
	t.Parallel()

	reg := NewToolRegistry()

	// A broken schema fails at registration, not at call time.
	err := reg.Register(Tool{
		Name:        "bad",
		InputSchema: json.RawMessage(`{"type": 42}`),
		Handler:     echoHandler,
	})
	require.Error(t, err)

	schema := json.RawMessage(`{
		"type": "object",
		"properties": {"count": {"type": "integer"}},
		"required": ["count"]
	}`)
	require.NoError(t, reg.Register(Tool{Name: "counted", InputSchema: schema, Handler: echoHandler}))

	_, err = reg.Execute(context.Background(), "counted", map[string]any{}, nil)
	assert.True(t, errors.IsInvalidParams(err))

	_, err = reg.Execute(context.Background(), "counted", map[string]any{"count": 3}, nil)
	assert.NoError(t, err)
}

func TestToolAnnotationsFilteredByVersion(t *testing.T) {
	t.Parallel()

	reg := NewToolRegistry()
	require.NoError(t, reg.Register(Tool{
		Name:        "annotated",
		Annotations: map[string]any{"readOnlyHint": true},
		Handler:     echoHandler,
	}))

	old := reg.List(protocol.V20241105)
	require.Len(t, old, 1)
	assert.Nil(t, old[0].Annotations)

	current := reg.List(protocol.V20250326)
	require.Len(t, current, 1)
	assert.Equal(t, map[string]any{"readOnlyHint": true}, current[0].Annotations)
}

func TestToolHandlerPanicRecovered(t *testing.T) {
	t.Parallel()

	reg := NewToolRegistry()
	require.NoError(t, reg.Register(Tool{
		Name: "boom",
		Handler: func(context.Context, map[string]any, *auth.RequestContext) (any, error) {
			panic("kaboom")
		},
	}))

	_, err := reg.Execute(context.Background(), "boom", nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsInternal(err))
	assert.Contains(t, err.Error(), "execution failed")
}

func TestToolHandlerErrorWrapped(t *testing.T) {
	t.Parallel()

	reg := NewToolRegistry()
	require.NoError(t, reg.Register(Tool{
		Name: "fails",
		Handler: func(context.Context, map[string]any, *auth.RequestContext) (any, error) {
			return nil, fmt.Errorf("db unreachable")
		},
	}))
	require.NoError(t, reg.Register(Tool{
		Name: "badparams",
		Handler: func(context.Context, map[string]any, *auth.RequestContext) (any, error) {
			return nil, errors.NewInvalidParamsError("need a name", nil)
		},
	}))

	// Untyped handler errors become generic execution failures.
	_, err := reg.Execute(context.Background(), "fails", nil, nil)
	assert.True(t, errors.IsInternal(err))
	assert.NotContains(t, err.Error(), "db unreachable")

	// Typed errors pass through.
	_, err = reg.Execute(context.Background(), "badparams", nil, nil)
	assert.True(t, errors.IsInvalidParams(err))
}

func TestResourceHandlerErrorWrapped(t *testing.T) {
	t.Parallel()

	reg := NewResourceRegistry()
	require.NoError(t, reg.Register(Resource{
		URI: "db://health",
		Handler: func(context.Context, map[string]any, *auth.RequestContext) (any, error) {
			return nil, fmt.Errorf("db unreachable")
		},
	}))

	_, err := reg.Read(context.Background(), "db://health", nil, nil)
	assert.True(t, errors.IsInternal(err))
	assert.NotContains(t, err.Error(), "db unreachable")
}

func TestPromptRegistry(t *testing.T) {
	t.Parallel()

	reg := NewPromptRegistry()
	require.NoError(t, reg.Register(Prompt{
		Name:        "greeting",
		Description: "a greeting",
		Arguments:   []PromptArgument{{Name: "who", Required: true}},
		Handler: func(_ context.Context, args map[string]any, _ *auth.RequestContext) (any, error) {
			return map[string]any{
				"messages": []any{map[string]any{
					"role":    "user",
					"content": map[string]any{"type": "text", "text": fmt.Sprintf("hello %v", args["who"])},
				}},
			}, nil
		},
	}))

	list := reg.List(protocol.V20241105)
	require.Len(t, list, 1)
	assert.Equal(t, "greeting", list[0].Name)
	require.Len(t, list[0].Arguments, 1)
	assert.True(t, list[0].Arguments[0].Required)

	out, err := reg.Execute(context.Background(), "greeting", map[string]any{"who": "world"}, nil)
	require.NoError(t, err)
	assert.Contains(t, fmt.Sprint(out), "hello world")
}

func TestResourceExactAndTemplate(t *testing.T) {
	t.Parallel()

	reg := NewResourceRegistry()
	require.NoError(t, reg.Register(Resource{
		URI:      "file:///static/readme",
		Name:     "readme",
		MimeType: "text/plain",
		Handler: func(context.Context, map[string]any, *auth.RequestContext) (any, error) {
			return "static", nil
		},
	}))
	require.NoError(t, reg.Register(Resource{
		URI:  "file:///users/{userID}/notes/{noteID}",
		Name: "note",
		Handler: func(_ context.Context, args map[string]any, _ *auth.RequestContext) (any, error) {
			return fmt.Sprintf("%v/%v", args["userID"], args["noteID"]), nil
		},
	}))

	out, err := reg.Read(context.Background(), "file:///static/readme", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "static", out)

	out, err = reg.Read(context.Background(), "file:///users/u1/notes/n9", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "u1/n9", out)

	// A variable never spans a path separator.
	_, err = reg.Read(context.Background(), "file:///users/u1/extra/notes/n9", nil, nil)
	assert.True(t, errors.IsNotFound(err))
}

func TestResourceExactBeatsTemplate(t *testing.T) {
	t.Parallel()

	reg := NewResourceRegistry()
	require.NoError(t, reg.Register(Resource{
		URI: "db://{table}",
		Handler: func(context.Context, map[string]any, *auth.RequestContext) (any, error) {
			return "template", nil
		},
	}))
	require.NoError(t, reg.Register(Resource{
		URI: "db://users",
		Handler: func(context.Context, map[string]any, *auth.RequestContext) (any, error) {
			return "exact", nil
		},
	}))

	out, err := reg.Read(context.Background(), "db://users", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "exact", out)
}

func TestResourceFirstTemplateWins(t *testing.T) {
	t.Parallel()

	reg := NewResourceRegistry()
	require.NoError(t, reg.Register(Resource{
		URI: "x://{a}",
		Handler: func(context.Context, map[string]any, *auth.RequestContext) (any, error) {
			return "first", nil
		},
	}))
	require.NoError(t, reg.Register(Resource{
		URI: "x://{b}",
		Handler: func(context.Context, map[string]any, *auth.RequestContext) (any, error) {
			return "second", nil
		},
	}))

	out, err := reg.Read(context.Background(), "x://anything", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "first", out)

	templates := reg.ListTemplates(protocol.V20250326)
	require.Len(t, templates, 2)
	assert.Equal(t, "x://{a}", templates[0].URITemplate)
}

func TestResourceListings(t *testing.T) {
	t.Parallel()

	reg := NewResourceRegistry()
	require.NoError(t, reg.Register(Resource{URI: "a://one", Handler: echoHandler}))
	require.NoError(t, reg.Register(Resource{URI: "b://{x}", Handler: echoHandler}))

	assert.Len(t, reg.List(protocol.V20241105), 1)
	assert.Len(t, reg.ListTemplates(protocol.V20241105), 1)
}
