// SPDX-License-Identifier: Apache-2.0

package jsonrpc

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpgate/mcpgate/pkg/errors"
)

func TestParseRequest(t *testing.T) {
	t.Parallel()

	m, err := Parse([]byte(`{"jsonrpc":"2.0","method":"tools/list","id":7}`))
	require.NoError(t, err)

	assert.Equal(t, Version, m.JSONRPC)
	assert.Equal(t, "tools/list", m.Method)
	assert.True(t, m.HasID())
	assert.False(t, m.IDIsNull())
	assert.False(t, m.IsNotification())
	assert.Equal(t, "7", m.IDKey())
}

func TestNotificationDetection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
		want    bool
	}{
		{"notifications prefix", `{"jsonrpc":"2.0","method":"notifications/initialized","id":1}`, true},
		{"bare initialized", `{"jsonrpc":"2.0","method":"initialized"}`, true},
		{"absent id", `{"jsonrpc":"2.0","method":"tools/list"}`, true},
		{"request with id", `{"jsonrpc":"2.0","method":"tools/list","id":1}`, false},
		{"request with null id", `{"jsonrpc":"2.0","method":"tools/list","id":null}`, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m, err := Parse([]byte(tc.payload))
			require.NoError(t, err)
			assert.Equal(t, tc.want, m.IsNotification())
		})
	}
}

func TestNullIDDetection(t *testing.T) {
	t.Parallel()

	m, err := Parse([]byte(`{"jsonrpc":"2.0","method":"ping","id":null}`))
	require.NoError(t, err)
	assert.True(t, m.HasID())
	assert.True(t, m.IDIsNull())
}

func TestResponseEncoding(t *testing.T) {
	t.Parallel()

	resp := NewResponse(json.RawMessage(`"abc"`), map[string]any{"ok": true})
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":{"ok":true},"id":"abc"}`, string(data))
}

func TestErrorResponseHasNullID(t *testing.T) {
	t.Parallel()

	resp := NewErrorResponse(nil, InvalidRequest, "Invalid Request")
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","error":{"code":-32600,"message":"Invalid Request"},"id":null}`, string(data))
}

func TestResponseDetection(t *testing.T) {
	t.Parallel()

	m, err := Parse([]byte(`{"jsonrpc":"2.0","result":{"answer":42},"id":"srv_1"}`))
	require.NoError(t, err)
	assert.True(t, m.IsResponse())

	m, err = Parse([]byte(`{"jsonrpc":"2.0","method":"ping","id":1}`))
	require.NoError(t, err)
	assert.False(t, m.IsResponse())
}

func TestParseBatch(t *testing.T) {
	t.Parallel()

	msgs, err := ParseBatch([]byte(`[{"jsonrpc":"2.0","method":"ping","id":1},{"jsonrpc":"2.0","method":"initialized"}]`))
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "ping", msgs[0].Method)
	assert.True(t, msgs[1].IsNotification())
}

func TestParseBatchRejectsEmptyArray(t *testing.T) {
	t.Parallel()

	_, err := ParseBatch([]byte(`[]`))
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestIsBatchAndIsObject(t *testing.T) {
	t.Parallel()

	assert.True(t, IsBatch([]byte("  [1]")))
	assert.False(t, IsBatch([]byte(`{"a":1}`)))
	assert.True(t, IsObject([]byte("\n{}")))
	assert.False(t, IsObject([]byte(`"str"`)))
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 401, HTTPStatus(AuthRequired))
	assert.Equal(t, 401, HTTPStatus(SessionRequired))
	assert.Equal(t, 401, HTTPStatus(AuthFailure))
	assert.Equal(t, 405, HTTPStatus(HTTPMethodNotAllowed))
	assert.Equal(t, 500, HTTPStatus(InternalError))
	assert.Equal(t, 400, HTTPStatus(ParseError))
	assert.Equal(t, 400, HTTPStatus(InvalidRequest))
}

func TestCodeForError(t *testing.T) {
	t.Parallel()

	assert.Equal(t, InvalidRequest, CodeForError(errors.NewProtocolError("bad", nil)))
	assert.Equal(t, MethodNotFound, CodeForError(errors.NewNotFoundError("missing", nil)))
	assert.Equal(t, InvalidParams, CodeForError(errors.NewInvalidParamsError("bad arg", nil)))
	assert.Equal(t, AuthRequired, CodeForError(errors.NewAuthError("no token", nil)))
	assert.Equal(t, SessionRequired, CodeForError(errors.NewSessionError("gone", nil)))
	assert.Equal(t, InternalError, CodeForError(errors.NewStorageError("backend down", nil)))
}

func TestWriteError(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteError(rec, ParseError, "Parse error")

	assert.Equal(t, 400, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"jsonrpc":"2.0","error":{"code":-32700,"message":"Parse error"},"id":null}`, rec.Body.String())
}

func TestBatchResponseEncoding(t *testing.T) {
	t.Parallel()

	empty, err := json.Marshal(BatchResponse{})
	require.NoError(t, err)
	assert.Equal(t, "[]", string(empty))

	one, err := json.Marshal(BatchResponse{NewErrorResponse(json.RawMessage("1"), MethodNotFound, "Method not found")})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"jsonrpc":"2.0","error":{"code":-32601,"message":"Method not found"},"id":1}]`, string(one))
}
