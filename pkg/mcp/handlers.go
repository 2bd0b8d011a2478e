// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/mcpgate/mcpgate/pkg/auth"
	"github.com/mcpgate/mcpgate/pkg/errors"
	"github.com/mcpgate/mcpgate/pkg/jsonrpc"
	"github.com/mcpgate/mcpgate/pkg/protocol"
)

// callMethod routes an allowed request to its handler. Feature gating
// already happened; anything reaching here is valid for the session's
// protocol version.
func (d *Dispatcher) callMethod(ctx context.Context, msg *jsonrpc.Message, rc *auth.RequestContext) (any, error) {
	params, err := decodeParams(msg.Params)
	if err != nil {
		return nil, err
	}

	switch msg.Method {
	case "ping":
		return map[string]any{
			"status":    "pong",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}, nil

	case "tools/list":
		return map[string]any{"tools": d.tools.List(rc.ProtocolVersion)}, nil

	case "tools/call":
		return d.handleToolCall(ctx, params, rc)

	case "prompts/list":
		return map[string]any{"prompts": d.prompts.List(rc.ProtocolVersion)}, nil

	case "prompts/get":
		name, ok := params["name"].(string)
		if !ok || name == "" {
			return nil, errors.NewInvalidParamsError("params.name is required", nil)
		}
		args, _ := params["arguments"].(map[string]any)
		return d.prompts.Execute(ctx, name, args, rc)

	case "resources/list":
		return map[string]any{"resources": d.resources.List(rc.ProtocolVersion)}, nil

	case "resources/templates/list":
		return map[string]any{"resourceTemplates": d.resources.ListTemplates(rc.ProtocolVersion)}, nil

	case "resources/read":
		return d.handleResourceRead(ctx, params, rc)

	case "completions/complete":
		return map[string]any{
			"completion": map[string]any{
				"values":  []string{},
				"total":   0,
				"hasMore": false,
			},
		}, nil

	case "sampling/createMessage":
		messages, _ := params["messages"].([]any)
		if len(messages) == 0 {
			return nil, errors.NewInvalidParamsError("params.messages is required", nil)
		}
		if err := ValidateMessagesContent(messages, rc.ProtocolVersion); err != nil {
			return nil, err
		}
		return d.forwardToClient(ctx, rc, msg.Method, params)

	case "roots/list", "roots/read", "roots/listDirectory":
		return d.forwardToClient(ctx, rc, msg.Method, params)

	case "elicitation/create":
		if _, ok := params["message"].(string); !ok {
			return nil, errors.NewInvalidParamsError("params.message is required", nil)
		}
		return d.forwardToClient(ctx, rc, msg.Method, params)

	default:
		return nil, errors.NewNotFoundError("Method not found: "+msg.Method, nil)
	}
}

// handleToolCall executes a registered tool and applies the result
// wrapping contract.
func (d *Dispatcher) handleToolCall(ctx context.Context, params map[string]any, rc *auth.RequestContext) (any, error) {
	name, ok := params["name"].(string)
	if !ok || name == "" {
		return nil, errors.NewInvalidParamsError("params.name is required", nil)
	}
	args, _ := params["arguments"].(map[string]any)

	result, err := d.tools.Execute(ctx, name, args, rc)
	if err != nil {
		return nil, err
	}
	return wrapToolResult(result, rc.ProtocolVersion), nil
}

// wrapToolResult applies the tools/call envelope: the serialized result
// as a text content item, plus structured output mirroring when the
// session version supports it and the handler opted in via
// _meta.structured.
func wrapToolResult(result any, version string) map[string]any {
	text, err := json.Marshal(result)
	if err != nil {
		text = []byte(`{}`)
	}
	wrapped := map[string]any{
		"content": []any{
			map[string]any{"type": "text", "text": string(text)},
		},
	}

	if !protocol.HasFeature(version, protocol.FeatureStructuredOutput) {
		return wrapped
	}
	m, ok := result.(map[string]any)
	if !ok {
		return wrapped
	}
	meta, ok := m["_meta"].(map[string]any)
	if !ok || meta["structured"] != true {
		return wrapped
	}

	wrapped["structuredContent"] = m
	if links, present := m["resourceLinks"]; present && protocol.HasFeature(version, protocol.FeatureResourceLinks) {
		wrapped["resourceLinks"] = links
	}
	return wrapped
}

// handleResourceRead resolves the URI (exact, then templates) and wraps
// the handler output in a contents envelope when the handler did not
// already produce one.
func (d *Dispatcher) handleResourceRead(ctx context.Context, params map[string]any, rc *auth.RequestContext) (any, error) {
	uri, ok := params["uri"].(string)
	if !ok || uri == "" {
		return nil, errors.NewInvalidParamsError("params.uri is required", nil)
	}
	args, _ := params["arguments"].(map[string]any)

	result, err := d.resources.Read(ctx, uri, args, rc)
	if err != nil {
		return nil, err
	}

	if m, ok := result.(map[string]any); ok {
		if _, has := m["contents"]; has {
			return m, nil
		}
	}
	text, err := json.Marshal(result)
	if err != nil {
		text = []byte(`{}`)
	}
	return map[string]any{
		"contents": []any{
			map[string]any{"uri": uri, "text": string(text)},
		},
	}, nil
}

// forwardToClient enqueues a reverse-direction request (server to
// client) with a fresh server-generated id. The client's later POST
// response is recorded under that id for correlation.
func (d *Dispatcher) forwardToClient(ctx context.Context, rc *auth.RequestContext, method string, params map[string]any) (any, error) {
	if rc.SessionID == "" {
		return nil, errors.NewSessionError("Session required", nil)
	}

	requestID := "srv_" + uuid.NewString()
	envelope := jsonrpc.NewRequest(requestID, method, params)
	data, err := json.Marshal(envelope)
	if err != nil {
		return nil, errors.NewInternalError("failed to build request", err)
	}
	if _, err := d.store.StoreMessage(ctx, rc.SessionID, data, rc.ContextID); err != nil {
		return nil, errors.NewStorageError("failed to queue request", err)
	}

	return map[string]any{
		"requestId": requestID,
		"status":    "pending",
	}, nil
}

// decodeParams decodes the raw params member into a map. Absent params
// decode to an empty map; non-object params are rejected.
func decodeParams(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, errors.NewInvalidParamsError("params must be an object", err)
	}
	if params == nil {
		params = map[string]any{}
	}
	return params, nil
}
