package reconciler

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/giantswarm/reconcilekit/pkg/logging"
)

// Metrics tracks reconciliation metrics per dispatcher. The Prometheus
// collectors are shared by every dispatcher using the same Metrics and are
// labelled with the dispatcher name; an in-memory summary is kept alongside
// for status output.
type Metrics struct {
	eventsReceived     *prometheus.CounterVec
	reconcileStarted   *prometheus.CounterVec
	reconcileSucceeded *prometheus.CounterVec
	reconcileFailed    *prometheus.CounterVec
	retriesExhausted   *prometheus.CounterVec
	reconcileDuration  *prometheus.HistogramVec
	queueDepth         *prometheus.GaugeVec

	mu         sync.RWMutex
	dispatcher map[string]*dispatcherMetrics
}

// dispatcherMetrics holds the summary counters for a single dispatcher.
type dispatcherMetrics struct {
	EventsReceived     int64
	ReconcileAttempts  int64
	ReconcileSuccesses int64
	ReconcileFailures  int64
	RetriesExhausted   int64
	LastReconcileAt    time.Time
	LastSuccessAt      time.Time
	LastFailureAt      time.Time
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// uses controller-runtime's metrics registry. Collectors that are already
// registered are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = ctrlmetrics.Registry
	}

	m := &Metrics{dispatcher: make(map[string]*dispatcherMetrics)}
	var err error

	if m.eventsReceived, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcilekit_events_received_total",
		Help: "Total number of events received per dispatcher and event kind",
	}, []string{"dispatcher", "kind"})); err != nil {
		return nil, err
	}
	if m.reconcileStarted, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcilekit_reconciliations_started_total",
		Help: "Total number of reconciliation executions started per dispatcher",
	}, []string{"dispatcher"})); err != nil {
		return nil, err
	}
	if m.reconcileSucceeded, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcilekit_reconciliations_succeeded_total",
		Help: "Total number of successful reconciliation executions per dispatcher",
	}, []string{"dispatcher"})); err != nil {
		return nil, err
	}
	if m.reconcileFailed, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcilekit_reconciliations_failed_total",
		Help: "Total number of failed reconciliation executions per dispatcher",
	}, []string{"dispatcher"})); err != nil {
		return nil, err
	}
	if m.retriesExhausted, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcilekit_retries_exhausted_total",
		Help: "Total number of resources that ran out of retries per dispatcher",
	}, []string{"dispatcher"})); err != nil {
		return nil, err
	}
	if m.reconcileDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reconcilekit_reconcile_duration_seconds",
		Help:    "Duration of reconciliation executions in seconds per dispatcher",
		Buckets: prometheus.DefBuckets,
	}, []string{"dispatcher"})); err != nil {
		return nil, err
	}
	if m.queueDepth, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "reconcilekit_queue_depth",
		Help: "Number of resources waiting for a worker per dispatcher",
	}, []string{"dispatcher"})); err != nil {
		return nil, err
	}

	return m, nil
}

// register registers c, or returns the collector of the same description that
// is already registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, err
	}
	return c, nil
}

func (m *Metrics) getOrCreate(name string) *dispatcherMetrics {
	if dm, ok := m.dispatcher[name]; ok {
		return dm
	}
	dm := &dispatcherMetrics{}
	m.dispatcher[name] = dm
	return dm
}

// RecordEvent records an event that reached the dispatcher.
func (m *Metrics) RecordEvent(dispatcher, kind string) {
	m.eventsReceived.WithLabelValues(dispatcher, kind).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrCreate(dispatcher).EventsReceived++
}

// RecordStart records the start of an execution.
func (m *Metrics) RecordStart(dispatcher string) {
	m.reconcileStarted.WithLabelValues(dispatcher).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	dm := m.getOrCreate(dispatcher)
	dm.ReconcileAttempts++
	dm.LastReconcileAt = time.Now()
}

// RecordResult records the outcome and duration of an execution.
func (m *Metrics) RecordResult(dispatcher string, duration time.Duration, err error) {
	m.reconcileDuration.WithLabelValues(dispatcher).Observe(duration.Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()
	dm := m.getOrCreate(dispatcher)
	if err != nil {
		m.reconcileFailed.WithLabelValues(dispatcher).Inc()
		dm.ReconcileFailures++
		dm.LastFailureAt = time.Now()
		return
	}
	m.reconcileSucceeded.WithLabelValues(dispatcher).Inc()
	dm.ReconcileSuccesses++
	dm.LastSuccessAt = time.Now()
}

// RecordExhausted records a resource that ran out of retries.
func (m *Metrics) RecordExhausted(dispatcher, id string) {
	m.retriesExhausted.WithLabelValues(dispatcher).Inc()

	m.mu.Lock()
	dm := m.getOrCreate(dispatcher)
	dm.RetriesExhausted++
	exhausted := dm.RetriesExhausted
	m.mu.Unlock()

	logging.Warn("ReconcilerMetrics", "Retries exhausted for %s in %s (total: %d)", id, dispatcher, exhausted)
}

// SetQueueDepth records the current queue length.
func (m *Metrics) SetQueueDepth(dispatcher string, depth int) {
	m.queueDepth.WithLabelValues(dispatcher).Set(float64(depth))
}

// MetricsSummary provides a summary of reconciliation metrics.
type MetricsSummary struct {
	TotalReconcileAttempts  int64            `json:"total_reconcile_attempts"`
	TotalReconcileSuccesses int64            `json:"total_reconcile_successes"`
	TotalReconcileFailures  int64            `json:"total_reconcile_failures"`
	PerDispatcher           []DispatcherView `json:"per_dispatcher"`
	ReconcileFailureRate    float64          `json:"reconcile_failure_rate"`
}

// DispatcherView is a read-only view of one dispatcher's metrics.
type DispatcherView struct {
	Dispatcher         string    `json:"dispatcher"`
	EventsReceived     int64     `json:"events_received"`
	ReconcileAttempts  int64     `json:"reconcile_attempts"`
	ReconcileSuccesses int64     `json:"reconcile_successes"`
	ReconcileFailures  int64     `json:"reconcile_failures"`
	RetriesExhausted   int64     `json:"retries_exhausted"`
	LastReconcileAt    time.Time `json:"last_reconcile_at,omitempty"`
	LastSuccessAt      time.Time `json:"last_success_at,omitempty"`
	LastFailureAt      time.Time `json:"last_failure_at,omitempty"`
}

// Summary returns the in-memory summary, ordered by dispatcher name.
func (m *Metrics) Summary() MetricsSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var summary MetricsSummary
	for name, dm := range m.dispatcher {
		summary.TotalReconcileAttempts += dm.ReconcileAttempts
		summary.TotalReconcileSuccesses += dm.ReconcileSuccesses
		summary.TotalReconcileFailures += dm.ReconcileFailures
		summary.PerDispatcher = append(summary.PerDispatcher, DispatcherView{
			Dispatcher:         name,
			EventsReceived:     dm.EventsReceived,
			ReconcileAttempts:  dm.ReconcileAttempts,
			ReconcileSuccesses: dm.ReconcileSuccesses,
			ReconcileFailures:  dm.ReconcileFailures,
			RetriesExhausted:   dm.RetriesExhausted,
			LastReconcileAt:    dm.LastReconcileAt,
			LastSuccessAt:      dm.LastSuccessAt,
			LastFailureAt:      dm.LastFailureAt,
		})
	}
	sort.Slice(summary.PerDispatcher, func(i, j int) bool {
		return summary.PerDispatcher[i].Dispatcher < summary.PerDispatcher[j].Dispatcher
	})
	if summary.TotalReconcileAttempts > 0 {
		summary.ReconcileFailureRate = float64(summary.TotalReconcileFailures) / float64(summary.TotalReconcileAttempts)
	}
	return summary
}
