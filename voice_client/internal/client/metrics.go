package client

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the client-side counters
type Metrics struct {
	PacketsSent     *prometheus.CounterVec
	PacketsReceived *prometheus.CounterVec
	BytesSent       prometheus.Counter
	BytesReceived   prometheus.Counter
	DecodeErrors    prometheus.Counter

	HeartbeatsSent    prometheus.Counter
	ChunksMuted       prometheus.Counter
	CaptureDropped    prometheus.Counter
	PlaybackUnderruns prometheus.Counter

	ConnectionStatus prometheus.Gauge
	ConnectedUsers   prometheus.Gauge
	ErrorsTotal      prometheus.Counter
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_client_packets_sent_total",
			Help: "Packets sent to the server by type",
		}, []string{"type"}),
		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_client_packets_received_total",
			Help: "Decoded packets received from the server by type",
		}, []string{"type"}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voice_client_bytes_sent_total",
			Help: "Total bytes sent by the voice client",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voice_client_bytes_received_total",
			Help: "Total bytes received by the voice client",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voice_client_decode_errors_total",
			Help: "Datagrams dropped because they failed to decode",
		}),
		HeartbeatsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voice_client_heartbeats_sent_total",
			Help: "Keep-alive packets sent while idle",
		}),
		ChunksMuted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voice_client_chunks_muted_total",
			Help: "Captured chunks discarded while muted",
		}),
		CaptureDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voice_client_capture_dropped_total",
			Help: "Captured chunks dropped because the send worker fell behind",
		}),
		PlaybackUnderruns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voice_client_playback_underruns_total",
			Help: "Playback buffers padded with silence",
		}),
		ConnectionStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voice_client_connection_status",
			Help: "Current connection status (1 = connected, 0 = disconnected)",
		}),
		ConnectedUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voice_client_connected_users",
			Help: "Users in the latest STATUS reply",
		}),
		ErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voice_client_errors_total",
			Help: "Total number of errors encountered",
		}),
	}

	reg.MustRegister(
		m.PacketsSent,
		m.PacketsReceived,
		m.BytesSent,
		m.BytesReceived,
		m.DecodeErrors,
		m.HeartbeatsSent,
		m.ChunksMuted,
		m.CaptureDropped,
		m.PlaybackUnderruns,
		m.ConnectionStatus,
		m.ConnectedUsers,
		m.ErrorsTotal,
	)
	return m
}
