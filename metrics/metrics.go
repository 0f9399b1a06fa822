/*
metrics.go - Prometheus instrumentation for the billing engine

PURPOSE:
  Counters for the operations that matter operationally: cycle
  calculations, finalizations and recorded payments, each labelled by
  outcome so dashboards can alert on error rates.

SEE ALSO:
  - api/handlers.go: Increments these from the HTTP layer
  - cmd/server/main.go: Mounts the /metrics endpoint
*/
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CyclesCreated counts cycle creations by outcome ("ok" or "error").
	CyclesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "cycles_created_total",
		Help:      "Billing cycles created, by outcome.",
	}, []string{"outcome"})

	// Calculations counts proration runs by outcome.
	Calculations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "calculations_total",
		Help:      "Cycle cost calculations, by outcome.",
	}, []string{"outcome"})

	// Finalizations counts cycle finalizations by outcome.
	Finalizations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "finalizations_total",
		Help:      "Cycle finalizations, by outcome.",
	}, []string{"outcome"})

	// Payments counts recorded payments by outcome.
	Payments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "payments_total",
		Help:      "Payments recorded against resident shares, by outcome.",
	}, []string{"outcome"})
)

// Observe increments c with "ok" or "error" depending on err.
func Observe(c *prometheus.CounterVec, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.WithLabelValues(outcome).Inc()
}

// Handler exposes the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
