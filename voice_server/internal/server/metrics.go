package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every relay server metric
type Metrics struct {
	// Connections
	ActiveClients prometheus.Gauge
	TotalClients  prometheus.Counter
	Timeouts      prometheus.Counter
	Kicks         prometheus.Counter

	// Packets
	PacketsReceived *prometheus.CounterVec
	PacketsSent     *prometheus.CounterVec
	PacketsDropped  *prometheus.CounterVec
	BytesReceived   prometheus.Counter
	BytesSent       prometheus.Counter

	// Mixing
	MixCycles       prometheus.Counter
	MixDuration     prometheus.Histogram
	MixContributors prometheus.Histogram

	ClientSessionDuration prometheus.Histogram

	ErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	metrics := &Metrics{
		ActiveClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voice_relay_active_clients",
			Help: "Number of clients currently in the registry",
		}),

		TotalClients: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voice_relay_clients_total",
			Help: "Total number of clients that completed a handshake",
		}),

		Timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voice_relay_client_timeouts_total",
			Help: "Clients removed for inactivity",
		}),

		Kicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voice_relay_client_kicks_total",
			Help: "Clients removed through the admin API",
		}),

		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_relay_packets_received_total",
			Help: "Decoded packets received by type",
		}, []string{"type"}),

		PacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_relay_packets_sent_total",
			Help: "Packets sent by type",
		}, []string{"type"}),

		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_relay_packets_dropped_total",
			Help: "Packets discarded by reason",
		}, []string{"reason"}),

		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voice_relay_bytes_received_total",
			Help: "Total datagram bytes received",
		}),

		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voice_relay_bytes_sent_total",
			Help: "Total datagram bytes sent",
		}),

		MixCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voice_relay_mix_cycles_total",
			Help: "Mixing cycles that produced output",
		}),

		MixDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_relay_mix_duration_seconds",
			Help:    "Time spent mixing and sending one cycle",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),

		MixContributors: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_relay_mix_contributors",
			Help:    "Clients contributing audio to a mixing cycle",
			Buckets: []float64{2, 3, 4, 6, 8, 16, 32},
		}),

		ClientSessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_relay_client_session_duration_seconds",
			Help:    "Duration of client sessions",
			Buckets: prometheus.DefBuckets,
		}),

		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_relay_errors_total",
			Help: "Total number of errors by type",
		}, []string{"error_type"}),
	}

	reg.MustRegister(
		metrics.ActiveClients,
		metrics.TotalClients,
		metrics.Timeouts,
		metrics.Kicks,
		metrics.PacketsReceived,
		metrics.PacketsSent,
		metrics.PacketsDropped,
		metrics.BytesReceived,
		metrics.BytesSent,
		metrics.MixCycles,
		metrics.MixDuration,
		metrics.MixContributors,
		metrics.ClientSessionDuration,
		metrics.ErrorsTotal,
	)

	return metrics
}

// RecordConnection records a new client
func (m *Metrics) RecordConnection() {
	m.TotalClients.Inc()
	m.ActiveClients.Inc()
}

// RecordDisconnection records a removed client and how long it stayed
func (m *Metrics) RecordDisconnection(seconds float64) {
	m.ActiveClients.Dec()
	m.ClientSessionDuration.Observe(seconds)
}

// RecordReceived records one decoded inbound datagram
func (m *Metrics) RecordReceived(packetType string, size int) {
	m.PacketsReceived.WithLabelValues(packetType).Inc()
	m.BytesReceived.Add(float64(size))
}

// RecordSent records one outbound datagram
func (m *Metrics) RecordSent(packetType string, size int) {
	m.PacketsSent.WithLabelValues(packetType).Inc()
	m.BytesSent.Add(float64(size))
}

func (m *Metrics) RecordDrop(reason string) {
	m.PacketsDropped.WithLabelValues(reason).Inc()
}

// RecordMix records one mixing cycle
func (m *Metrics) RecordMix(contributors int, seconds float64) {
	m.MixCycles.Inc()
	m.MixContributors.Observe(float64(contributors))
	m.MixDuration.Observe(seconds)
}

// RecordError records an error
func (m *Metrics) RecordError(errorType string) {
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
