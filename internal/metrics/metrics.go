// Package metrics exposes Prometheus collectors for client traffic.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	uploads  *prometheus.CounterVec
	parts    prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deta_client_requests_total",
				Help: "Requests issued by the Deta client, by operation and status",
			},
			[]string{"method", "op", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "deta_client_request_duration_seconds",
				Help:    "Latency of Deta client requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "op"},
		),
		uploads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deta_client_uploads_total",
				Help: "Drive uploads by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		parts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deta_client_upload_parts_total",
			Help: "Interior parts uploaded successfully",
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.requests, m.duration, m.uploads, m.parts} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// ObserveRequest records one attempt. Status 0 means no response was received.
func (m *Metrics) ObserveRequest(method, op string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.requests.WithLabelValues(method, op, code).Inc()
	m.duration.WithLabelValues(method, op).Observe(elapsed.Seconds())
}

// UploadOutcome records a finished Push. mode is "single" or "multipart".
func (m *Metrics) UploadOutcome(mode, outcome string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(mode, outcome).Inc()
}

// PartUploaded counts one successful interior part.
func (m *Metrics) PartUploaded() {
	if m == nil {
		return
	}
	m.parts.Inc()
}
