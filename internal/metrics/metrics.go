// Package metrics provides Prometheus metrics for the chat relay server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Traffic directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Registry holds all Prometheus metrics. A nil *Registry is valid and
// records nothing.
type Registry struct {
	gatherer *prometheus.Registry

	// Connection metrics
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter

	// Registry metrics
	HandlesRegistered prometheus.Gauge
	RegistryCapacity  prometheus.Gauge

	// Frame metrics
	FramesReceived *prometheus.CounterVec
	FramesSent     *prometheus.CounterVec
	BytesTotal     *prometheus.CounterVec
	ProtocolErrors *prometheus.CounterVec

	RoutingDuration *prometheus.HistogramVec
}

// New creates a Registry backed by a private prometheus registry.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	r := &Registry{gatherer: reg}
	r.ConnectionsActive, r.ConnectionsTotal = createConnectionMetrics(factory)
	r.HandlesRegistered, r.RegistryCapacity = createRegistryMetrics(factory)
	r.FramesReceived, r.FramesSent, r.BytesTotal, r.ProtocolErrors, r.RoutingDuration = createFrameMetrics(factory)

	return r
}

// nolint:ireturn // Prometheus interfaces
func createConnectionMetrics(factory promauto.Factory) (prometheus.Gauge, prometheus.Counter) {
	active := factory.NewGauge(prometheus.GaugeOpts{
		Name: "chat_relay_connections_active",
		Help: "Number of currently open client connections",
	})
	total := factory.NewCounter(prometheus.CounterOpts{
		Name: "chat_relay_connections_total",
		Help: "Total number of accepted client connections",
	})

	return active, total
}

// nolint:ireturn // Prometheus interfaces
func createRegistryMetrics(factory promauto.Factory) (prometheus.Gauge, prometheus.Gauge) {
	handles := factory.NewGauge(prometheus.GaugeOpts{
		Name: "chat_relay_handles_registered",
		Help: "Number of open registry slots",
	})
	capacity := factory.NewGauge(prometheus.GaugeOpts{
		Name: "chat_relay_registry_capacity",
		Help: "Number of registry slots allocated",
	})

	return handles, capacity
}

func createFrameMetrics(factory promauto.Factory) (
	*prometheus.CounterVec,
	*prometheus.CounterVec,
	*prometheus.CounterVec,
	*prometheus.CounterVec,
	*prometheus.HistogramVec,
) {
	received := factory.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_relay_frames_received_total",
		Help: "Total frames received by flag",
	}, []string{"flag"})
	sent := factory.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_relay_frames_sent_total",
		Help: "Total frames sent by flag",
	}, []string{"flag"})
	bytes := factory.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_relay_bytes_total",
		Help: "Total frame bytes transferred",
	}, []string{"direction"})
	protoErrors := factory.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_relay_protocol_errors_total",
		Help: "Total protocol errors by type",
	}, []string{"error_type"})
	duration := factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_relay_routing_duration_seconds",
		Help:    "Time spent routing one received frame",
		Buckets: prometheus.DefBuckets,
	}, []string{"flag"})

	return received, sent, bytes, protoErrors, duration
}

// Handler serves this registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.gatherer
}

func (r *Registry) ConnectionOpened() {
	if r == nil {
		return
	}

	r.ConnectionsActive.Inc()
	r.ConnectionsTotal.Inc()
}

func (r *Registry) ConnectionClosed() {
	if r == nil {
		return
	}

	r.ConnectionsActive.Dec()
}

// SetRegistry records the registry's open slot count and capacity.
func (r *Registry) SetRegistry(open, capacity int) {
	if r == nil {
		return
	}

	r.HandlesRegistered.Set(float64(open))
	r.RegistryCapacity.Set(float64(capacity))
}

func (r *Registry) FrameReceived(flag string, size int) {
	if r == nil {
		return
	}

	r.FramesReceived.WithLabelValues(flag).Inc()
	r.BytesTotal.WithLabelValues(DirectionInbound).Add(float64(size))
}

func (r *Registry) FrameSent(flag string, size int) {
	if r == nil {
		return
	}

	r.FramesSent.WithLabelValues(flag).Inc()
	r.BytesTotal.WithLabelValues(DirectionOutbound).Add(float64(size))
}

func (r *Registry) IncrementProtocolErrors(errorType string) {
	if r == nil {
		return
	}

	r.ProtocolErrors.WithLabelValues(errorType).Inc()
}

func (r *Registry) RecordRoutingDuration(flag string, duration time.Duration) {
	if r == nil {
		return
	}

	r.RoutingDuration.WithLabelValues(flag).Observe(duration.Seconds())
}
