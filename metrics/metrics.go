// Package metrics exposes connection, auth, and message-routing counts
// as Prometheus collectors registered against a shared registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector the server updates while running.
// A single instance is shared across the listener's connection
// goroutines.
type Registry struct {
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	AuthOutcomes      *prometheus.CounterVec
	MessagesRouted    *prometheus.CounterVec
	PubkeyOps         *prometheus.CounterVec
}

// NewRegistry registers every collector against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "rura",
			Name:      "connections_active",
			Help:      "Number of currently open client connections.",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rura",
			Name:      "connections_total",
			Help:      "Total client connections accepted since startup.",
		}),
		AuthOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rura",
			Name:      "auth_outcomes_total",
			Help:      "Login and register attempts by command and outcome.",
		}, []string{"command", "outcome"}),
		MessagesRouted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rura",
			Name:      "messages_routed_total",
			Help:      "Messages routed between clients by outcome.",
		}, []string{"outcome"}),
		PubkeyOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rura",
			Name:      "pubkey_ops_total",
			Help:      "set_pubkey/get_pubkey calls by operation and outcome.",
		}, []string{"op", "outcome"}),
	}
}

// Serve starts a dedicated HTTP server exposing /metrics on addr. It
// blocks until the server stops; callers should run it in a goroutine.
func Serve(addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return http.ListenAndServe(addr, mux)
}
