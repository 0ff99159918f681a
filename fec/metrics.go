package fec

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus instrumentation shared by the generator and
// the receiver. A nil *Metrics disables instrumentation.
type Metrics struct {
	// Generator counters
	MediaPackets        prometheus.Counter
	InvalidMediaPackets prometheus.Counter
	SequenceResets      prometheus.Counter
	FecPacketsGenerated *prometheus.CounterVec

	// Receiver counters
	MediaReceived        prometheus.Counter
	MediaRecovered       prometheus.Counter
	MediaRecoveryAborted prometheus.Counter
	MediaOverwritten     prometheus.Counter
	MediaMissing         prometheus.Counter
	FecPacketsReceived   *prometheus.CounterVec
	FecPacketsDropped    *prometheus.CounterVec
}

// NewMetrics creates the metric set. Call Register (or MustRegister) to
// expose it.
func NewMetrics() *Metrics {
	return &Metrics{
		MediaPackets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smpte2022_media_packets_total",
			Help: "Total number of media packets fed to the FEC generator",
		}),

		InvalidMediaPackets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smpte2022_invalid_media_packets_total",
			Help: "Total number of invalid media packets dropped by the FEC generator",
		}),

		SequenceResets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smpte2022_sequence_resets_total",
			Help: "Total number of FEC matrix resets caused by out-of-sequence media packets",
		}),

		FecPacketsGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smpte2022_fec_packets_generated_total",
			Help: "Total number of FEC packets generated by direction",
		}, []string{"direction"}),

		MediaReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smpte2022_receiver_media_packets_total",
			Help: "Total number of media packets fed to the FEC receiver",
		}),

		MediaRecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smpte2022_receiver_media_recovered_total",
			Help: "Total number of media packets recovered thanks to FEC packets",
		}),

		MediaRecoveryAborted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smpte2022_receiver_media_recovery_aborted_total",
			Help: "Total number of media packet recoveries aborted by further losses",
		}),

		MediaOverwritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smpte2022_receiver_media_overwritten_total",
			Help: "Total number of media packets overwritten in the receiver buffer",
		}),

		MediaMissing: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smpte2022_receiver_media_missing_total",
			Help: "Total number of media packets definitely lost at output time",
		}),

		FecPacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smpte2022_receiver_fec_packets_total",
			Help: "Total number of FEC packets fed to the receiver by direction",
		}, []string{"direction"}),

		FecPacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smpte2022_receiver_fec_packets_dropped_total",
			Help: "Total number of FEC packets dropped as out of the validity window",
		}, []string{"direction"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.MediaPackets,
		m.InvalidMediaPackets,
		m.SequenceResets,
		m.FecPacketsGenerated,
		m.MediaReceived,
		m.MediaRecovered,
		m.MediaRecoveryAborted,
		m.MediaOverwritten,
		m.MediaMissing,
		m.FecPacketsReceived,
		m.FecPacketsDropped,
	}
}

// Register registers every metric with the given registerer.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, collector := range m.collectors() {
		if err := reg.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// MustRegister registers every metric with the default registry and panics on
// collision.
func (m *Metrics) MustRegister() {
	prometheus.MustRegister(m.collectors()...)
}
