package team

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts team operations by outcome.
type Metrics struct {
	operations *prometheus.CounterVec
}

// NewMetrics registers the team collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "partnermatch",
			Subsystem: "team",
			Name:      "operations_total",
			Help:      "Team operations by result kind",
		}, []string{"op", "result"}),
	}
	if reg == nil {
		return m
	}
	if err := reg.Register(m.operations); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				m.operations = existing
			}
		}
	}
	return m
}

func (m *Metrics) observe(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = KindOf(err).String()
	}
	m.operations.WithLabelValues(op, result).Inc()
}
