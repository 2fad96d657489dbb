package metrics

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Control plane metrics
var (
	ScaleEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchfleet_scale_events_total",
			Help: "Total pool scaling decisions by outcome",
		},
		[]string{"pool", "direction"},
	)

	NodeRemediationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchfleet_node_remediations_total",
			Help: "Total remediation actions dispatched to unhealthy nodes",
		},
		[]string{"pool", "action"},
	)

	TaskRollbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchfleet_task_rollbacks_total",
			Help: "Total task batch commits that were rolled back",
		},
		[]string{"job", "reason"},
	)

	ReconcileErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchfleet_reconcile_errors_total",
			Help: "Total reconcile passes that failed for a pool",
		},
		[]string{"pool"},
	)

	PoolTargetNodes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "batchfleet_pool_target_nodes",
			Help: "Desired dedicated node count per pool",
		},
		[]string{"pool"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchfleet_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		ScaleEventsTotal,
		NodeRemediationsTotal,
		TaskRollbacksTotal,
		ReconcileErrorsTotal,
		PoolTargetNodes,
		HTTPRequestsTotal,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// EchoMiddleware returns Echo middleware that instruments HTTP requests.
func EchoMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}

			HTTPRequestsTotal.WithLabelValues(
				c.Request().Method,
				c.Path(),
				strconv.Itoa(status),
			).Inc()
			return err
		}
	}
}
