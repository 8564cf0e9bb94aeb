package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "flames"

// NewRegistry creates a registry with Go runtime and process collectors
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// GatewayMetrics counts what happens on the radio side
type GatewayMetrics struct {
	FramesReceived prometheus.Counter
	FramesDropped  *prometheus.CounterVec
	CRCErrors      prometheus.Counter
	AcksSent       prometheus.Counter
	AckTimeouts    prometheus.Counter
	RelayFailures  prometheus.Counter
	RadioErrors    prometheus.Counter
}

// NewGatewayMetrics creates and registers gateway metrics
func NewGatewayMetrics(reg prometheus.Registerer) *GatewayMetrics {
	m := &GatewayMetrics{
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "frames_received_total",
			Help:      "Frames accepted and acknowledged",
		}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "frames_dropped_total",
			Help:      "Frames dropped before acknowledgment",
		}, []string{"reason"}),
		CRCErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "crc_errors_total",
			Help:      "Frames discarded because of a payload CRC error",
		}),
		AcksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "acks_sent_total",
			Help:      "Acknowledgments that completed transmission",
		}),
		AckTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "ack_timeouts_total",
			Help:      "Acknowledgments without TX done before the deadline",
		}),
		RelayFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "relay_failures_total",
			Help:      "Envelopes the broker did not accept",
		}),
		RadioErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "radio_errors_total",
			Help:      "Register access failures",
		}),
	}
	reg.MustRegister(m.FramesReceived, m.FramesDropped, m.CRCErrors, m.AcksSent, m.AckTimeouts, m.RelayFailures, m.RadioErrors)
	return m
}

// WorkerMetrics counts what happens in the classification worker
type WorkerMetrics struct {
	Processed       prometheus.Counter
	Dropped         *prometheus.CounterVec
	Failed          *prometheus.CounterVec
	Classifications *prometheus.CounterVec
	Transitions     *prometheus.CounterVec
	NotifyFailures  *prometheus.CounterVec
	GatewaysCreated prometheus.Counter
	Duration        prometheus.Histogram
}

// NewWorkerMetrics creates and registers worker metrics
func NewWorkerMetrics(reg prometheus.Registerer) *WorkerMetrics {
	m := &WorkerMetrics{
		Processed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "readings_processed_total",
			Help:      "Envelopes persisted as readings",
		}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "envelopes_dropped_total",
			Help:      "Envelopes rejected at the boundary",
		}, []string{"reason"}),
		Failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "envelopes_failed_total",
			Help:      "Envelopes abandoned after a dependency or persistence error",
		}, []string{"stage"}),
		Classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "classifications_total",
			Help:      "Classifier results by label",
		}, []string{"label"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "incident",
			Name:      "transitions_total",
			Help:      "Incident state transitions by kind",
		}, []string{"kind"}),
		NotifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "failures_total",
			Help:      "Notification deliveries that failed",
		}, []string{"event", "sink"}),
		GatewaysCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "gateways_provisioned_total",
			Help:      "Gateways auto-provisioned on first sighting",
		}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "processing_duration_seconds",
			Help:      "Time spent handling one envelope",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.Processed, m.Dropped, m.Failed, m.Classifications, m.Transitions, m.NotifyFailures, m.GatewaysCreated, m.Duration)
	return m
}
