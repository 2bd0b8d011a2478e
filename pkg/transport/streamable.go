// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"encoding/json"
	"net/http"

	"github.com/mcpgate/mcpgate/pkg/auth"
	"github.com/mcpgate/mcpgate/pkg/jsonrpc"
	"github.com/mcpgate/mcpgate/pkg/protocol"
)

// ServeStreamable streams a 2025-03-26 or 2025-06-18 session over
// chunked transfer with SSE framing: single-endpoint multiplexing with
// full-duplex semantics. Keepalives are synthetic notifications/ping
// envelopes rather than comment lines.
func (s *Streamer) ServeStreamable(w http.ResponseWriter, r *http.Request, rc *auth.RequestContext) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonrpc.WriteError(w, jsonrpc.InternalError, "Streaming unsupported")
		return
	}

	setStreamHeaders(w)
	if rc.ProtocolVersion == protocol.V20250618 {
		w.Header().Set("MCP-Protocol-Version", rc.ProtocolVersion)
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ping, err := json.Marshal(jsonrpc.NewNotification("notifications/ping", nil))
	if err != nil {
		return
	}

	s.run(w, r, flusher, rc, func() error {
		return writeMessageEvent(w, flusher, ping)
	})
}
