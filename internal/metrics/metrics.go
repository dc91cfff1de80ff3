package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Package-level collectors, registered on the default registry and exposed
// via /metrics.
var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vpn_core",
		Name:      "http_requests_total",
		Help:      "HTTP requests by endpoint class and outcome.",
	}, []string{"class", "outcome"})

	RejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vpn_core",
		Name:      "protection_rejected_total",
		Help:      "Requests rejected by the protection layer, by reason.",
	}, []string{"reason"})

	BansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vpn_core",
		Name:      "protection_bans_total",
		Help:      "IP bans issued, by reason.",
	}, []string{"reason"})

	SessionsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vpn_core",
		Name:      "sessions_connected",
		Help:      "Currently open tunnel sessions.",
	})

	SessionsOpenedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vpn_core",
		Name:      "sessions_opened_total",
		Help:      "Tunnel sessions opened since start.",
	})

	SessionsClosedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vpn_core",
		Name:      "sessions_closed_total",
		Help:      "Tunnel sessions closed since start, by who ended them.",
	}, []string{"ended_by"})

	WSClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vpn_core",
		Name:      "ws_clients",
		Help:      "Connected websocket clients.",
	})
)
