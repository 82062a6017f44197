package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cavendo/fleetctl/internal/config"
	"github.com/cavendo/fleetctl/internal/logging"
	"github.com/cavendo/fleetctl/internal/telemetry"
	"github.com/cavendo/fleetctl/pkg/db"
	"github.com/cavendo/fleetctl/pkg/deliverables"
	"github.com/cavendo/fleetctl/pkg/routingrules"
	"github.com/cavendo/fleetctl/pkg/tasklifecycle"
)

// Deps collects the services NewRouter wires onto the HTTP surface.
type Deps struct {
	Handle       *db.DB
	Tasks        *tasklifecycle.Service
	Deliverables *deliverables.Service
	RoutingRules *routingrules.Service
	Logger       logging.Logger
	Metrics      *telemetry.PrometheusMetrics
	Registry     *prometheus.Registry
	Config       config.ServerConfig
}

// NewRouter builds the gin engine: CORS, request metrics, identity
// resolution, then the three route groups, plus a /healthz liveness probe
// and a /metrics Prometheus scrape endpoint.
func NewRouter(deps Deps) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestMetricsMiddleware(deps.Metrics))

	if deps.Config.EnableCORS {
		corsCfg := cors.DefaultConfig()
		corsCfg.AllowOrigins = deps.Config.CORSOrigins
		corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
		engine.Use(cors.New(corsCfg))
	}

	engine.GET("/healthz", func(c *gin.Context) { ok(c, 200, gin.H{"status": "ok"}) })
	if deps.Registry != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	}

	engine.Use(authMiddleware(deps.Handle, deps.Logger))

	root := engine.Group("/")
	NewTaskAPI(deps.Tasks, deps.Handle).RegisterRoutes(root)
	NewDeliverableAPI(deps.Deliverables, deps.Handle).RegisterRoutes(root)
	NewRoutingRuleAPI(deps.RoutingRules).RegisterRoutes(root)

	return engine
}

// requestMetricsMiddleware records request counts and latencies, mirroring
// the db package's own db_transactions_total / db_transaction_duration_seconds
// metric pair. A nil metrics client (tests, or a run without a registry) is
// a no-op.
func requestMetricsMiddleware(metrics *telemetry.PrometheusMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if metrics == nil {
			return
		}
		labels := map[string]string{"method": c.Request.Method, "path": c.FullPath(), "status": statusBucket(c.Writer.Status())}
		metrics.IncrementCounterWithLabels("http_requests_total", 1, labels)
		metrics.RecordHistogram("http_request_duration_seconds", time.Since(start).Seconds(), labels)
	}
}

func statusBucket(status int) string {
	switch {
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// NewPrometheusRegistry builds a fresh registry for cmd/server to hand to
// telemetry.NewPrometheusMetrics and to the /metrics handler above.
func NewPrometheusRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}
