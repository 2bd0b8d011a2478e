// SPDX-License-Identifier: Apache-2.0

// Package telemetry exposes the Prometheus metrics surface.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts dispatched JSON-RPC requests by method and
	// protocol version.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mcpgate",
		Name:      "requests_total",
		Help:      "JSON-RPC requests dispatched, by method and protocol version.",
	}, []string{"method", "version"})

	// SessionsCreated counts initialize calls by negotiated version.
	SessionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mcpgate",
		Name:      "sessions_created_total",
		Help:      "Sessions created, by negotiated protocol version.",
	}, []string{"version"})

	// MessagesQueued counts envelopes appended to session queues.
	MessagesQueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mcpgate",
		Name:      "messages_queued_total",
		Help:      "Envelopes appended to session message queues.",
	})

	// MessagesDelivered counts envelopes written to streaming clients.
	MessagesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mcpgate",
		Name:      "messages_delivered_total",
		Help:      "Envelopes delivered over streaming transports.",
	})

	// ActiveStreams tracks open streaming connections.
	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mcpgate",
		Name:      "active_streams",
		Help:      "Open streaming transport connections.",
	})

	// TokensIssued counts access tokens issued by grant type.
	TokensIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mcpgate",
		Name:      "oauth_tokens_issued_total",
		Help:      "Access tokens issued, by grant type.",
	}, []string{"grant_type"})

	// AuthFailures counts resource-server authentication rejections.
	AuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mcpgate",
		Name:      "auth_failures_total",
		Help:      "Requests rejected by the resource-server middleware.",
	})
)

// Handler serves the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
