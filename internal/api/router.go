package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/opensandbox/batchfleet/internal/auth"
	"github.com/opensandbox/batchfleet/internal/batch"
	"github.com/opensandbox/batchfleet/internal/controlplane"
	"github.com/opensandbox/batchfleet/internal/metrics"
)

// History reads the reconcile audit log and archived events. The
// PostgreSQL store satisfies it.
type History interface {
	ListActions(ctx context.Context, poolID string, limit int) ([]controlplane.ActionRecord, error)
	ListEvents(ctx context.Context, poolID string, limit int) ([]controlplane.Event, error)
}

// Deps are the components the operator API drives.
type Deps struct {
	Gateway batch.Gateway
	Scaler  *controlplane.Scaler
	Health  *controlplane.HealthMonitor
	Waiter  *controlplane.SteadyWaiter
	Pools   *controlplane.PoolManager
	Jobs    *controlplane.JobManager
	Tasks   *controlplane.TaskCommitter
	Apps    *controlplane.ApplicationManager
	Targets controlplane.TargetStore
	History History // optional
	APIKeys []string
	Logger  *zap.Logger
}

// Server is the operator HTTP API.
type Server struct {
	echo *echo.Echo
	Deps
	log *zap.Logger
}

// NewServer creates a new API server with all routes configured.
func NewServer(d Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{echo: e, Deps: d, log: logger.Named("api")}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestLogger())
	e.Use(metrics.EchoMiddleware())
	e.Use(auth.APIKeyMiddleware(d.APIKeys, "/health", "/metrics"))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	// Pools
	e.GET("/pools/:id", s.getPool)
	e.PUT("/pools/:id", s.createPool)
	e.PATCH("/pools/:id", s.updatePool)
	e.POST("/pools/:id/target", s.setPoolTarget)
	e.POST("/pools/:id/recover", s.recoverPool)
	e.POST("/pools/:id/reboot", s.rebootPool)
	e.POST("/pools/:id/wait", s.waitPool)
	e.DELETE("/pools/:id", s.deletePool)
	e.GET("/pools/:id/actions", s.listActions)
	e.GET("/pools/:id/events", s.listEvents)

	// Desired targets
	e.GET("/targets", s.listTargets)
	e.PUT("/targets/:id", s.putTarget)

	// Jobs and tasks
	e.GET("/jobs", s.listJobs)
	e.GET("/jobs/taskcounts", s.taskCounts)
	e.PUT("/jobs/:id", s.createJob)
	e.DELETE("/jobs/:id", s.deleteJob)
	e.PATCH("/jobs/:id", s.updateJob)
	e.POST("/jobs/:id/terminate", s.terminateJob)
	e.GET("/jobs/:id/failed", s.failedTasks)
	e.POST("/jobs/:id/tasks", s.commitTasks)

	// Applications
	e.DELETE("/applications/:id", s.deleteApplication)

	return s
}

// ServeHTTP lets the server be used as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start starts the HTTP server on the given address.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency.Round(time.Microsecond)),
				zap.String("request_id", v.RequestID),
			}
			if v.Error != nil {
				s.log.Warn("request failed", append(fields, zap.Error(v.Error))...)
				return nil
			}
			s.log.Debug("request", fields...)
			return nil
		},
	})
}
