// Package metrics declares the Prometheus collectors of the sync engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HubSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "canvas_hub_subscribers",
		Help: "Number of live subscriber sinks across all workspaces",
	})

	HubMessagesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canvas_hub_messages_published_total",
		Help: "Messages published to the broadcast hub by type",
	}, []string{"type"})

	HubSinksDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canvas_hub_sinks_dropped_total",
		Help: "Subscriber sinks removed after a failed delivery",
	})

	ReconciledOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canvas_reconciled_ops_total",
		Help: "Create/update/delete operations applied by reconciliation",
	}, []string{"kind", "op"})

	AutosaveResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canvas_autosave_results_total",
		Help: "Autosave outcomes: saved, fallback, failed or recovered",
	}, []string{"outcome"})

	SnapshotsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canvas_snapshots_created_total",
		Help: "Version snapshots created by trigger (manual, auto, restore)",
	}, []string{"trigger"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canvas_http_requests_total",
		Help: "HTTP requests by method, route pattern and status",
	}, []string{"method", "route", "status"})
)
