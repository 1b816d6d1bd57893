package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Scheduler metrics
	sweepsTotal        prometheus.Counter
	sweepErrorsTotal   prometheus.Counter
	documentsDueTotal  prometheus.Counter
	sweepDuration      prometheus.Histogram
	triggersRegistered prometheus.Counter
	triggersCancelled  prometheus.Counter
	triggersFired      *prometheus.CounterVec

	// Delivery metrics
	sendAttemptsTotal  *prometheus.CounterVec
	waveOutcomesTotal  *prometheus.CounterVec
	sendDuration       prometheus.Histogram
	tokenRefreshes     prometheus.Counter
	wavesInFlight      prometheus.Gauge

	// Bus metrics
	bufferSize      prometheus.Gauge
	bufferCapacity  prometheus.Gauge
	emitErrorsTotal prometheus.Counter
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initSchedulerMetrics(reg)
	s.initDeliveryMetrics(reg)
	s.initBusMetrics(reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.sweepsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "futuremsg_scheduler_sweeps_total",
		Help: "Total number of sweep cycles executed.",
	})
	s.sweepErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "futuremsg_scheduler_sweep_errors_total",
		Help: "Total number of sweep cycles that failed to query the ledger.",
	})
	s.documentsDueTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "futuremsg_scheduler_documents_due_total",
		Help: "Total number of overdue pending documents found by sweeps.",
	})
	s.sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "futuremsg_scheduler_sweep_duration_seconds",
		Help:    "Duration of each sweep cycle in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})
	s.triggersRegistered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "futuremsg_scheduler_triggers_registered_total",
		Help: "Total number of one-shot triggers registered or replaced.",
	})
	s.triggersCancelled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "futuremsg_scheduler_triggers_cancelled_total",
		Help: "Total number of pending triggers cancelled.",
	})
	s.triggersFired = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "futuremsg_scheduler_delivery_requests_total",
		Help: "Total number of delivery requests emitted, by source.",
	}, []string{"source"})

	s.register(reg, s.sweepsTotal, "futuremsg_scheduler_sweeps_total")
	s.register(reg, s.sweepErrorsTotal, "futuremsg_scheduler_sweep_errors_total")
	s.register(reg, s.documentsDueTotal, "futuremsg_scheduler_documents_due_total")
	s.register(reg, s.sweepDuration, "futuremsg_scheduler_sweep_duration_seconds")
	s.register(reg, s.triggersRegistered, "futuremsg_scheduler_triggers_registered_total")
	s.register(reg, s.triggersCancelled, "futuremsg_scheduler_triggers_cancelled_total")
	s.register(reg, s.triggersFired, "futuremsg_scheduler_delivery_requests_total")
}

func (s *PrometheusSink) initDeliveryMetrics(reg prometheus.Registerer) {
	s.sendAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "futuremsg_delivery_send_attempts_total",
		Help: "Total number of per-recipient provider send attempts.",
	}, []string{"status_class"})

	s.waveOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "futuremsg_delivery_wave_outcomes_total",
		Help: "Total number of delivery wave outcomes per document attempt.",
	}, []string{"outcome"})

	s.sendDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "futuremsg_delivery_send_duration_seconds",
		Help:    "Provider send latency in seconds (includes the 401 retry when taken).",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	s.tokenRefreshes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "futuremsg_delivery_token_refreshes_total",
		Help: "Total number of provider bearer token refreshes.",
	})

	s.wavesInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "futuremsg_delivery_waves_in_flight",
		Help: "Number of delivery waves currently being processed.",
	})

	s.register(reg, s.sendAttemptsTotal, "futuremsg_delivery_send_attempts_total")
	s.register(reg, s.waveOutcomesTotal, "futuremsg_delivery_wave_outcomes_total")
	s.register(reg, s.sendDuration, "futuremsg_delivery_send_duration_seconds")
	s.register(reg, s.tokenRefreshes, "futuremsg_delivery_token_refreshes_total")
	s.register(reg, s.wavesInFlight, "futuremsg_delivery_waves_in_flight")
}

func (s *PrometheusSink) initBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "futuremsg_bus_buffer_size",
		Help: "Current number of delivery requests in the bus buffer.",
	})
	s.bufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "futuremsg_bus_buffer_capacity",
		Help: "Configured capacity of the bus buffer.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "futuremsg_bus_emit_errors_total",
		Help: "Total number of emit errors (buffer full or shutdown).",
	})

	s.register(reg, s.bufferSize, "futuremsg_bus_buffer_size")
	s.register(reg, s.bufferCapacity, "futuremsg_bus_buffer_capacity")
	s.register(reg, s.emitErrorsTotal, "futuremsg_bus_emit_errors_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Scheduler metrics implementation

func (s *PrometheusSink) SweepStarted() {
	s.sweepsTotal.Inc()
}

func (s *PrometheusSink) SweepCompleted(duration time.Duration, documentsDue int, err error) {
	s.sweepDuration.Observe(duration.Seconds())
	s.documentsDueTotal.Add(float64(documentsDue))
	if err != nil {
		s.sweepErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) TriggerRegistered() {
	s.triggersRegistered.Inc()
}

func (s *PrometheusSink) TriggerCancelled() {
	s.triggersCancelled.Inc()
}

func (s *PrometheusSink) TriggerFired(source string) {
	s.triggersFired.WithLabelValues(source).Inc()
}

// Delivery metrics implementation

func (s *PrometheusSink) SendAttemptCompleted(statusClass string, duration time.Duration) {
	s.sendAttemptsTotal.WithLabelValues(statusClass).Inc()
	s.sendDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) WaveCompleted(outcome string) {
	s.waveOutcomesTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) TokenRefreshed() {
	s.tokenRefreshes.Inc()
}

func (s *PrometheusSink) WavesInFlightIncr() {
	s.wavesInFlight.Inc()
}

func (s *PrometheusSink) WavesInFlightDecr() {
	s.wavesInFlight.Dec()
}

// Bus metrics implementation

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.bufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}
