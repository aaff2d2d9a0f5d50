// Package metrics provides Prometheus instrumentation for the match-app
// backend. It exposes gauges for connection counts and counters for match
// formation, message delivery, quota rejections, and push job throughput.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of live WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "matchapp_connections_total",
		Help: "Current number of live WebSocket connections",
	})

	// MatchesFormed counts matches created by reciprocal likes.
	MatchesFormed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "matchapp_matches_formed_total",
		Help: "Total number of matches formed",
	})

	// Deliveries counts delivered events, labeled by path: "live" for a
	// socket write, "deferred" for the unread-marker plus push-job path.
	Deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matchapp_deliveries_total",
		Help: "Total number of delivered events",
	}, []string{"path"}) // path = "live", "deferred"

	// QuotaRejections counts rate-limited requests, labeled by action key.
	QuotaRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matchapp_quota_rejections_total",
		Help: "Total number of requests rejected by a rate quota",
	}, []string{"action"})

	// PushJobs counts push notification jobs published to the queue.
	PushJobs = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "matchapp_push_jobs_total",
		Help: "Total number of push notification jobs published",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		MatchesFormed,
		Deliveries,
		QuotaRejections,
		PushJobs,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
