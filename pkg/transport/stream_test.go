// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpgate/mcpgate/pkg/auth"
	"github.com/mcpgate/mcpgate/pkg/config"
	"github.com/mcpgate/mcpgate/pkg/protocol"
	"github.com/mcpgate/mcpgate/pkg/storage"
)

func newTestStreamer(t *testing.T) (*Streamer, storage.Store) {
	t.Helper()

	store := storage.NewMemoryStore(storage.WithCleanupInterval(time.Hour))
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.Default()
	cfg.TestMode = true
	return NewStreamer(store, cfg), store
}

func streamRC(version, sessionID string) *auth.RequestContext {
	return &auth.RequestContext{
		ContextID:       "tenant-1",
		BaseURL:         "http://example.com",
		ProtocolVersion: version,
		SessionID:       sessionID,
	}
}

func TestSSEEmitsEndpointEvent(t *testing.T) {
	t.Parallel()

	s, _ := newTestStreamer(t)
	sid := protocol.NewSessionID(protocol.V20241105)

	r := httptest.NewRequest(http.MethodGet, "/mcp/tenant-1/"+sid, nil)
	w := httptest.NewRecorder()
	s.ServeSSE(w, r, streamRC(protocol.V20241105, sid))

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	assert.Equal(t, "no", w.Header().Get("X-Accel-Buffering"))

	body := w.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: endpoint\ndata: http://example.com/mcp/tenant-1/"+sid+"\n\n"))
}

func TestSSEDeliversQueuedMessagesInOrder(t *testing.T) {
	t.Parallel()

	s, store := newTestStreamer(t)
	sid := protocol.NewSessionID(protocol.V20241105)
	ctx := context.Background()

	_, err := store.StoreMessage(ctx, sid, []byte(`{"id":1}`), "")
	require.NoError(t, err)
	_, err = store.StoreMessage(ctx, sid, []byte(`{"id":2}`), "")
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/mcp/tenant-1/"+sid, nil)
	w := httptest.NewRecorder()
	s.ServeSSE(w, r, streamRC(protocol.V20241105, sid))

	body := w.Body.String()
	first := strings.Index(body, `data: {"id":1}`)
	second := strings.Index(body, `data: {"id":2}`)
	require.GreaterOrEqual(t, first, 0)
	require.Greater(t, second, first)

	// Delivery is at-most-once: the queue is empty afterwards.
	msgs, err := store.GetMessages(ctx, sid)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestStreamableProtocolVersionHeader(t *testing.T) {
	t.Parallel()

	s, _ := newTestStreamer(t)

	sid := protocol.NewSessionID(protocol.V20250618)
	r := httptest.NewRequest(http.MethodGet, "/mcp/tenant-1/"+sid, nil)
	w := httptest.NewRecorder()
	s.ServeStreamable(w, r, streamRC(protocol.V20250618, sid))
	assert.Equal(t, protocol.V20250618, w.Header().Get("MCP-Protocol-Version"))

	// The middle revision carries no version header.
	sid = protocol.NewSessionID(protocol.V20250326)
	r = httptest.NewRequest(http.MethodGet, "/mcp/tenant-1/"+sid, nil)
	w = httptest.NewRecorder()
	s.ServeStreamable(w, r, streamRC(protocol.V20250326, sid))
	assert.Empty(t, w.Header().Get("MCP-Protocol-Version"))
}

func TestStreamableDeliversWithoutEndpointEvent(t *testing.T) {
	t.Parallel()

	s, store := newTestStreamer(t)
	sid := protocol.NewSessionID(protocol.V20250326)

	_, err := store.StoreMessage(context.Background(), sid, []byte(`{"jsonrpc":"2.0","result":{},"id":5}`), "")
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/mcp/tenant-1/"+sid, nil)
	w := httptest.NewRecorder()
	s.ServeStreamable(w, r, streamRC(protocol.V20250326, sid))

	body := w.Body.String()
	assert.NotContains(t, body, "event: endpoint")
	assert.Contains(t, body, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"result\":{},\"id\":5}\n\n")
}

func TestStreamKeepaliveFrames(t *testing.T) {
	t.Parallel()

	// Real polling mode with a tiny window: expect at least one
	// keepalive before the connection deadline expires.
	store := storage.NewMemoryStore(storage.WithCleanupInterval(time.Hour))
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.Default()
	cfg.SSE.KeepaliveInterval = 5 * time.Millisecond
	cfg.SSE.MaxConnectionTime = 40 * time.Millisecond
	cfg.Streamable.KeepaliveInterval = 5 * time.Millisecond
	cfg.Streamable.MaxConnectionTime = 40 * time.Millisecond
	s := NewStreamer(store, cfg)

	sid := protocol.NewSessionID(protocol.V20241105)
	r := httptest.NewRequest(http.MethodGet, "/mcp/tenant-1/"+sid, nil)
	w := httptest.NewRecorder()
	s.ServeSSE(w, r, streamRC(protocol.V20241105, sid))
	assert.Contains(t, w.Body.String(), ": keepalive\n\n")

	sid = protocol.NewSessionID(protocol.V20250326)
	r = httptest.NewRequest(http.MethodGet, "/mcp/tenant-1/"+sid, nil)
	w = httptest.NewRecorder()
	s.ServeStreamable(w, r, streamRC(protocol.V20250326, sid))
	assert.Contains(t, w.Body.String(), `"method":"notifications/ping"`)
}

func TestStreamClientDisconnect(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore(storage.WithCleanupInterval(time.Hour))
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.Default()
	cfg.SSE.KeepaliveInterval = 5 * time.Millisecond
	cfg.SSE.MaxConnectionTime = 10 * time.Second
	s := NewStreamer(store, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	sid := protocol.NewSessionID(protocol.V20241105)
	r := httptest.NewRequest(http.MethodGet, "/mcp/tenant-1/"+sid, nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		s.ServeSSE(w, r, streamRC(protocol.V20241105, sid))
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not exit on client disconnect")
	}
}
