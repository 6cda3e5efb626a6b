package chain

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"

	"github.com/UkralStul/codenode-comments/internal/domain"
)

var tracer = otel.Tracer("github.com/UkralStul/codenode-comments/internal/chain")

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commentchain_operations_total",
		Help: "Chain operations by operation and result",
	}, []string{"op", "result"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "commentchain_operation_duration_seconds",
		Help:    "Chain operation duration including retries",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"op"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commentchain_retries_total",
		Help: "Transient store conflicts that were retried",
	}, []string{"op"})

	integrityViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commentchain_integrity_violations_total",
		Help: "Chains found not to be a simple path",
	})
)

// resultLabel maps an operation error onto a low-cardinality metric label.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, domain.ErrRetriesExhausted):
		return "retries_exhausted"
	case errors.Is(err, domain.ErrIntegrity):
		return "integrity"
	default:
		return "error"
	}
}
