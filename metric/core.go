package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all platform-level metrics (not domain-specific)
type Metrics struct {
	// Service metrics
	ServiceStatus      *prometheus.GaugeVec
	MessagesReceived   *prometheus.CounterVec
	MessagesProcessed  *prometheus.CounterVec
	MessagesPublished  *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	ErrorsTotal        *prometheus.CounterVec
	HealthCheckStatus  *prometheus.GaugeVec

	// Broker metrics, labeled by side ("platform" or "device") since the
	// gateway runs two independent broker connections at once.
	BrokerConnected  *prometheus.GaugeVec
	BrokerRTT        *prometheus.GaugeVec
	BrokerReconnects *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Service metrics
		ServiceStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "gateway",
				Subsystem: "service",
				Name:      "status",
				Help:      "Service status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
			},
			[]string{"service"},
		),

		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "messages",
				Name:      "received_total",
				Help:      "Total number of messages received",
			},
			[]string{"service", "type"},
		),

		MessagesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "messages",
				Name:      "processed_total",
				Help:      "Total number of messages processed",
			},
			[]string{"service", "type", "status"},
		),

		MessagesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "messages",
				Name:      "published_total",
				Help:      "Total number of messages published",
			},
			[]string{"service", "channel"},
		),

		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gateway",
				Subsystem: "processing",
				Name:      "duration_seconds",
				Help:      "Message processing duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service", "operation"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors",
			},
			[]string{"service", "type"},
		),

		HealthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "gateway",
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"service"},
		),

		BrokerConnected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "gateway",
				Subsystem: "broker",
				Name:      "connected",
				Help:      "Broker connection status (0=disconnected, 1=connected)",
			},
			[]string{"side"},
		),

		BrokerRTT: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "gateway",
				Subsystem: "broker",
				Name:      "rtt_milliseconds",
				Help:      "Broker round-trip time in milliseconds",
			},
			[]string{"side"},
		),

		BrokerReconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "broker",
				Name:      "reconnects_total",
				Help:      "Total number of broker reconnections",
			},
			[]string{"side"},
		),
	}
}

// RecordServiceStatus updates service status metric
func (c *Metrics) RecordServiceStatus(service string, status int) {
	c.ServiceStatus.WithLabelValues(service).Set(float64(status))
}

// RecordMessageReceived increments received message counter
func (c *Metrics) RecordMessageReceived(service, messageType string) {
	c.MessagesReceived.WithLabelValues(service, messageType).Inc()
}

// RecordMessageProcessed increments processed message counter
func (c *Metrics) RecordMessageProcessed(service, messageType, status string) {
	c.MessagesProcessed.WithLabelValues(service, messageType, status).Inc()
}

// RecordMessagePublished increments published message counter
func (c *Metrics) RecordMessagePublished(service, channel string) {
	c.MessagesPublished.WithLabelValues(service, channel).Inc()
}

// RecordProcessingDuration records processing time
func (c *Metrics) RecordProcessingDuration(service, operation string, duration time.Duration) {
	c.ProcessingDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// RecordError increments error counter
func (c *Metrics) RecordError(service, errorType string) {
	c.ErrorsTotal.WithLabelValues(service, errorType).Inc()
}

// RecordHealthStatus updates health check status
func (c *Metrics) RecordHealthStatus(service string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	c.HealthCheckStatus.WithLabelValues(service).Set(value)
}

// RecordBrokerStatus updates broker connection status for one side
func (c *Metrics) RecordBrokerStatus(side string, connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.BrokerConnected.WithLabelValues(side).Set(value)
}

// RecordBrokerRTT updates broker round-trip time for one side
func (c *Metrics) RecordBrokerRTT(side string, rtt time.Duration) {
	c.BrokerRTT.WithLabelValues(side).Set(float64(rtt.Milliseconds()))
}

// RecordBrokerReconnect increments the reconnection counter for one side
func (c *Metrics) RecordBrokerReconnect(side string) {
	c.BrokerReconnects.WithLabelValues(side).Inc()
}
