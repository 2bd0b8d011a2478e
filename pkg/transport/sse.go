// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"net/http"

	"github.com/mcpgate/mcpgate/pkg/auth"
	"github.com/mcpgate/mcpgate/pkg/jsonrpc"
)

// ServeSSE streams a 2024-11-05 session. The first frame is an
// endpoint event telling the client where to POST; afterwards queued
// envelopes arrive as message events with comment-line keepalives.
func (s *Streamer) ServeSSE(w http.ResponseWriter, r *http.Request, rc *auth.RequestContext) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonrpc.WriteError(w, jsonrpc.InternalError, "Streaming unsupported")
		return
	}

	setStreamHeaders(w)
	w.WriteHeader(http.StatusOK)

	endpoint := rc.BaseURL + "/mcp/" + rc.ContextID + "/" + rc.SessionID
	if _, err := fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", endpoint); err != nil {
		return
	}
	flusher.Flush()

	s.run(w, r, flusher, rc, func() error {
		if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
}
