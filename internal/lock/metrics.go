package lock

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records lock wait time and acquire outcomes.
type Metrics struct {
	wait     *prometheus.HistogramVec
	outcomes *prometheus.CounterVec
}

// NewMetrics registers lock collectors on reg, reusing collectors that are
// already registered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		wait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "partnermatch",
			Subsystem: "lock",
			Name:      "wait_seconds",
			Help:      "Time spent waiting to acquire a named lock",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}, []string{"lock"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "partnermatch",
			Subsystem: "lock",
			Name:      "acquire_total",
			Help:      "Lock acquire attempts by outcome",
		}, []string{"lock", "outcome"}),
	}
	if reg == nil {
		return m
	}
	if err := reg.Register(m.wait); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				m.wait = existing
			}
		}
	}
	if err := reg.Register(m.outcomes); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				m.outcomes = existing
			}
		}
	}
	return m
}

// Instrument wraps l so every Acquire is observed. Lock names become label
// values with numeric segments folded.
func Instrument(l Locker, m *Metrics) Locker {
	if m == nil {
		return l
	}
	return &instrumented{next: l, metrics: m}
}

type instrumented struct {
	next    Locker
	metrics *Metrics
}

func (i *instrumented) Acquire(ctx context.Context, name string) (Handle, error) {
	start := time.Now()
	h, err := i.next.Acquire(ctx, name)
	label := metricLabel(name)
	i.metrics.wait.WithLabelValues(label).Observe(time.Since(start).Seconds())

	outcome := "acquired"
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = "interrupted"
	default:
		outcome = "error"
	}
	i.metrics.outcomes.WithLabelValues(label, outcome).Inc()
	return h, err
}

// metricLabel folds numeric name segments so "app:team:42:lock" and
// "app:team:7:lock" share one series.
func metricLabel(name string) string {
	parts := strings.Split(name, ":")
	for i, part := range parts {
		if _, err := strconv.ParseInt(part, 10, 64); err == nil {
			parts[i] = "*"
		}
	}
	return strings.Join(parts, ":")
}
