package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeOK    = "ok"
	outcomeNoop  = "noop"
	outcomeError = "error"
)

var reviewOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "review_operations_total",
	Help: "Review write operations by operation and outcome",
}, []string{"operation", "outcome"})

// observe records the outcome of a write operation.
func observe(operation string, changed bool, err error) {
	outcome := outcomeOK
	switch {
	case err != nil:
		outcome = outcomeError
	case !changed:
		outcome = outcomeNoop
	}
	reviewOperationsTotal.WithLabelValues(operation, outcome).Inc()
}
