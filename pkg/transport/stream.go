// SPDX-License-Identifier: Apache-2.0

// Package transport implements the streaming delivery side of the
// server: the SSE transport for 2024-11-05 sessions and the chunked
// streamable transport for the newer revisions. Both share one polling
// loop and differ only in connection bootstrap and keepalive framing.
package transport

import (
	"fmt"
	"net/http"
	"time"

	"github.com/mcpgate/mcpgate/pkg/auth"
	"github.com/mcpgate/mcpgate/pkg/config"
	"github.com/mcpgate/mcpgate/pkg/logger"
	"github.com/mcpgate/mcpgate/pkg/storage"
	"github.com/mcpgate/mcpgate/pkg/telemetry"
)

// maxPollInterval caps the backed-off polling interval.
const maxPollInterval = 5 * time.Second

// Streamer runs the polling loops that move queued envelopes onto the
// wire. Delivery is at-most-once: an envelope is deleted right after it
// is written, so a crash between write and delete re-delivers nothing.
type Streamer struct {
	store storage.Store
	cfg   *config.Config
}

// NewStreamer creates a Streamer over the shared store.
func NewStreamer(store storage.Store, cfg *config.Config) *Streamer {
	return &Streamer{store: store, cfg: cfg}
}

// setStreamHeaders emits the headers common to both transports.
func setStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("Access-Control-Allow-Origin", "*")
}

// writeMessageEvent frames one JSON payload as an SSE message event.
func writeMessageEvent(w http.ResponseWriter, flusher http.Flusher, data []byte) error {
	if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// run is the shared polling loop. keepalive writes one transport-
// specific keepalive frame. The loop exits on client disconnect, on
// write failure or when max_connection_time elapses without delivery.
func (s *Streamer) run(w http.ResponseWriter, r *http.Request, flusher http.Flusher, rc *auth.RequestContext, keepalive func() error) {
	opts := s.cfg.StreamOptions(rc.ProtocolVersion)

	telemetry.ActiveStreams.Inc()
	defer telemetry.ActiveStreams.Dec()

	// Test mode delivers whatever is queued once and returns, so suites
	// can assert on a bounded body.
	if opts.TestMode {
		_, _ = s.drain(w, r, flusher, rc)
		return
	}

	interval := opts.KeepaliveInterval
	lastDelivery := time.Now()
	deadline := time.Now().Add(opts.MaxConnectionTime)

	for {
		select {
		case <-r.Context().Done():
			logger.Debugw("stream client disconnected", "session_id", rc.SessionID)
			writeClosing(w, flusher)
			return
		default:
		}

		if time.Now().After(deadline) {
			logger.Debugw("stream reached max connection time", "session_id", rc.SessionID)
			writeClosing(w, flusher)
			return
		}

		delivered, err := s.drain(w, r, flusher, rc)
		if err != nil {
			return
		}

		if delivered > 0 {
			// A delivery burst resets both the idle backoff and the
			// connection deadline.
			lastDelivery = time.Now()
			deadline = lastDelivery.Add(opts.MaxConnectionTime)
			interval = opts.KeepaliveInterval
		} else {
			if err := keepalive(); err != nil {
				return
			}
			if time.Since(lastDelivery) > opts.SwitchIntervalAfter {
				interval = min(interval*2, maxPollInterval)
			}
		}

		select {
		case <-r.Context().Done():
			writeClosing(w, flusher)
			return
		case <-time.After(interval):
		}
	}
}

// writeClosing emits a final comment frame so well-behaved clients see
// an orderly close instead of a bare EOF. Write failures are expected
// when the peer is already gone.
func writeClosing(w http.ResponseWriter, flusher http.Flusher) {
	if _, err := fmt.Fprint(w, ": closing\n\n"); err != nil {
		return
	}
	flusher.Flush()
}

// drain writes every queued envelope in insertion order, deleting each
// one after a successful write.
func (s *Streamer) drain(w http.ResponseWriter, r *http.Request, flusher http.Flusher, rc *auth.RequestContext) (int, error) {
	msgs, err := s.store.GetMessages(r.Context(), rc.SessionID)
	if err != nil {
		logger.Errorw("failed to read session queue", "session_id", rc.SessionID, "error", err)
		return 0, err
	}

	delivered := 0
	for _, msg := range msgs {
		if err := writeMessageEvent(w, flusher, msg.Data); err != nil {
			return delivered, err
		}
		if err := s.store.DeleteMessage(r.Context(), msg.ID); err != nil {
			logger.Errorw("failed to delete delivered message", "message_id", msg.ID, "error", err)
			return delivered, err
		}
		delivered++
		telemetry.MessagesDelivered.Inc()
	}
	return delivered, nil
}
