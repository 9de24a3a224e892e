package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder exposes the monitoring pipeline's Prometheus metrics.
type Recorder struct {
	monitored     prometheus.Gauge
	barsPersisted *prometheus.CounterVec
	subFailures   *prometheus.CounterVec
	reconnects    prometheus.Counter
}

// New registers the metrics on the default registry.
func New() *Recorder {
	return &Recorder{
		monitored: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pricestream_monitored_instruments",
				Help: "Number of instruments currently under active subscription",
			},
		),
		barsPersisted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricestream_bars_persisted_total",
				Help: "Total number of finalized price bars written to the store",
			},
			[]string{"epic"},
		),
		subFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricestream_subscription_failures_total",
				Help: "Total number of failed subscription attempts",
			},
			[]string{"epic"},
		),
		reconnects: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pricestream_reconnects_total",
				Help: "Total number of transport reconnect attempts",
			},
		),
	}
}

// SetMonitored records the current size of the monitored set.
func (r *Recorder) SetMonitored(n int) {
	if r == nil {
		return
	}
	r.monitored.Set(float64(n))
}

// RecordBarPersisted counts one stored bar for an instrument.
func (r *Recorder) RecordBarPersisted(epic string) {
	if r == nil {
		return
	}
	r.barsPersisted.WithLabelValues(epic).Inc()
}

// RecordSubscriptionFailure counts one failed subscription attempt.
func (r *Recorder) RecordSubscriptionFailure(epic string) {
	if r == nil {
		return
	}
	r.subFailures.WithLabelValues(epic).Inc()
}

// RecordReconnect counts one transport reconnect attempt.
func (r *Recorder) RecordReconnect() {
	if r == nil {
		return
	}
	r.reconnects.Inc()
}
