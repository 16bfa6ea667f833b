// Package metrics exposes the server's Prometheus collectors: connection
// and substream gauges, per-command counters, and the broker's
// dropped-delivery counter.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps the Prometheus collectors used by the server.
type Registry struct {
	reg *prometheus.Registry

	Connections connectionGauges
	Commands    commandCounters
	PubSub      pubsubCounters
}

type connectionGauges struct {
	ActiveConnections prometheus.Gauge
	ActiveSubstreams  prometheus.Gauge
}

type commandCounters struct {
	// Processed counts every dispatched command by kind and response status.
	Processed *prometheus.CounterVec
	// DecodeErrors counts frames that could not be decoded into a command.
	DecodeErrors prometheus.Counter
	AcceptErrors prometheus.Counter
}

type pubsubCounters struct {
	ActiveSubscriptions prometheus.Gauge
	Published           prometheus.Counter
	Delivered           prometheus.Counter
	Dropped             prometheus.Counter
}

// NewRegistry creates the Prometheus collectors on a private registry so
// multiple instances can coexist in one process.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		Connections: connectionGauges{
			ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
				Name: "kv_connections_active",
				Help: "Number of live transport connections",
			}),
			ActiveSubstreams: factory.NewGauge(prometheus.GaugeOpts{
				Name: "kv_substreams_active",
				Help: "Number of live logical substreams",
			}),
		},
		Commands: commandCounters{
			Processed: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "kv_commands_processed_total",
				Help: "Total dispatched commands by kind and response status",
			}, []string{"kind", "status"}),
			DecodeErrors: factory.NewCounter(prometheus.CounterOpts{
				Name: "kv_command_decode_errors_total",
				Help: "Total frames whose payload could not be decoded into a command",
			}),
			AcceptErrors: factory.NewCounter(prometheus.CounterOpts{
				Name: "kv_accept_errors_total",
				Help: "Total connection or substream accept errors",
			}),
		},
		PubSub: pubsubCounters{
			ActiveSubscriptions: factory.NewGauge(prometheus.GaugeOpts{
				Name: "kv_subscriptions_active",
				Help: "Number of live subscriptions",
			}),
			Published: factory.NewCounter(prometheus.CounterOpts{
				Name: "kv_messages_published_total",
				Help: "Total publish commands accepted",
			}),
			Delivered: factory.NewCounter(prometheus.CounterOpts{
				Name: "kv_messages_delivered_total",
				Help: "Total messages enqueued to subscriber queues",
			}),
			Dropped: factory.NewCounter(prometheus.CounterOpts{
				Name: "kv_messages_dropped_total",
				Help: "Total messages dropped because a subscriber queue was full",
			}),
		},
	}
}

// Handler returns an HTTP handler exposing this registry's metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
