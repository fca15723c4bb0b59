package utils

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GateDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gate_decisions_total",
		Help: "The total number of authentication decisions by outcome",
	}, []string{"decision"})

	GateBansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gate_bans_total",
		Help: "Total number of clients banned after repeated failures",
	})

	OriginRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gate_origin_rejections_total",
		Help: "Total number of requests rejected for a disallowed Origin",
	})

	GateEvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gate_evictions_total",
		Help: "Records removed by the periodic sweep",
	}, []string{"kind"})

	NotifierEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gate_notifier_events_total",
		Help: "Ban events handed to the notifier by delivery status",
	}, []string{"type", "status"})

	TrackedClients = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gate_tracked_clients",
		Help: "Clients currently held in gate state",
	}, []string{"state"})
)
