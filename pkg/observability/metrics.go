package observability

import (
	"context"
	"errors"
	"time"

	"github.com/aretw0/journeys/pkg/domain"
	"github.com/aretw0/journeys/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "journeys"

// Metrics holds the Prometheus collectors fed by the engine and the worker pool.
type Metrics struct {
	RunsStarted    prometheus.Counter
	RunsCompleted  *prometheus.CounterVec
	StepsActive    prometheus.Gauge
	Steps          *prometheus.CounterVec
	StepDuration   *prometheus.HistogramVec
	Deliveries     *prometheus.CounterVec
	DeliveryTiming *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		RunsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Total number of triggered runs",
		}),
		RunsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_completed_total",
			Help:      "Total number of closed runs by final status",
		}, []string{"status"}),
		StepsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "steps_in_flight",
			Help:      "Steps begun but not yet finished or failed",
		}),
		Steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Total number of handled steps by node type and outcome",
		}, []string{"node_type", "outcome"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of step handling",
			Buckets:   prometheus.DefBuckets,
		}, []string{"node_type"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Total number of queue deliveries by work kind and outcome",
		}, []string{"kind", "outcome"}),
		DeliveryTiming: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Duration of delivery handling including middleware",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
	}

	for _, c := range []prometheus.Collector{
		m.RunsStarted, m.RunsCompleted, m.StepsActive, m.Steps, m.StepDuration, m.Deliveries, m.DeliveryTiming,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Hooks returns lifecycle hooks that record run and step metrics.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnRunStart: func(_ context.Context, _ *domain.RunEvent) {
			m.RunsStarted.Inc()
		},
		OnStepBegin: func(_ context.Context, _ *domain.StepEvent) {
			m.StepsActive.Inc()
		},
		OnStepFinish: func(_ context.Context, e *domain.StepEvent) {
			m.StepsActive.Dec()
			m.Steps.WithLabelValues(string(e.NodeType), "ok").Inc()
			m.StepDuration.WithLabelValues(string(e.NodeType)).Observe(e.Duration.Seconds())
		},
		OnStepError: func(_ context.Context, e *domain.StepEvent) {
			// Errors before BeginStep never raised the gauge.
			if e.Seq > 0 {
				m.StepsActive.Dec()
			}
			m.Steps.WithLabelValues(string(e.NodeType), "error").Inc()
		},
		OnRunComplete: func(_ context.Context, e *domain.RunEvent) {
			m.RunsCompleted.WithLabelValues(string(e.Status)).Inc()
		},
	}
}

// ObserveDelivery records one handled delivery. It matches runner.DeliveryHook.
func (m *Metrics) ObserveDelivery(_ context.Context, d *ports.Delivery, elapsed time.Duration, err error) {
	outcome := "ack"
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	case err != nil:
		outcome = "nack"
	}
	m.Deliveries.WithLabelValues(string(d.Kind), outcome).Inc()
	m.DeliveryTiming.WithLabelValues(string(d.Kind)).Observe(elapsed.Seconds())
}
