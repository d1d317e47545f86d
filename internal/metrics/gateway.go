// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	responseCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wavegate_response_cache_total",
		Help: "Response cache lookups by outcome and tier",
	}, []string{"outcome", "tier"})

	proxyUpstreamTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wavegate_proxy_upstream_total",
		Help: "Proxied upstream requests by service and result",
	}, []string{"service", "result"})

	sessionsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wavegate_sessions_issued_total",
		Help: "Total sessions issued",
	})

	csrfRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wavegate_csrf_rejects_total",
		Help: "Requests rejected by session/CSRF validation",
	}, []string{"reason"})
)

// IncResponseCache records a cache lookup outcome ("hit"/"miss"/"store") for a tier.
func IncResponseCache(outcome, tier string) {
	responseCacheTotal.WithLabelValues(outcome, tier).Inc()
}

// IncProxyUpstream records a proxied request result ("ok"/"timeout"/"error").
func IncProxyUpstream(service, result string) {
	proxyUpstreamTotal.WithLabelValues(service, result).Inc()
}

// IncSessionsIssued records a session issuance.
func IncSessionsIssued() { sessionsIssued.Inc() }

// IncCSRFReject records a session/CSRF rejection by reason.
func IncCSRFReject(reason string) { csrfRejects.WithLabelValues(reason).Inc() }
