package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/allocation/internal/http/handlers"
	httpMW "github.com/yungbote/allocation/internal/http/middleware"
	"github.com/yungbote/allocation/internal/observability"
	"github.com/yungbote/allocation/internal/pkg/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	Metrics     *observability.Metrics
	ServiceName string
	CORSOrigins []string

	AllocationHandler *httpH.AllocationHandler
	HealthHandler     *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS(cfg.CORSOrigins...))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	// Allocation
	if cfg.AllocationHandler != nil {
		r.POST("/batches", cfg.AllocationHandler.CreateBatch)
		r.POST("/batches/:ref/quantity", cfg.AllocationHandler.ChangeQuantity)
		r.POST("/allocate", cfg.AllocationHandler.Allocate)
		r.GET("/allocations/:orderid", cfg.AllocationHandler.ListAllocations)
	}

	return r
}
