package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"signal-core/internal/breaker"
	"signal-core/internal/pipeline"
	"signal-core/internal/safety"
	"signal-core/internal/sizing"
	"signal-core/pkg/db"
)

// Server wires HTTP endpoints around the pipeline and its guards.
type Server struct {
	Router    *gin.Engine
	Pipeline  *pipeline.Pipeline
	Guard     *safety.Manager
	Breaker   *breaker.Breaker
	DB        *db.Database
	Portfolio func() *sizing.Portfolio
	JWTSecret string
	Meta      SystemMeta

	adminKeyHash string
	mode         string
	log          zerolog.Logger
}

// SystemMeta describes runtime status exposed to operators.
type SystemMeta struct {
	Simulate    bool
	Venue       string
	Symbols     []string
	UseMockFeed bool
	Version     string
}

func NewServer(pipe *pipeline.Pipeline, guard *safety.Manager, brk *breaker.Breaker,
	database *db.Database, portfolio func() *sizing.Portfolio,
	meta SystemMeta, jwtSecret, adminKeyHash, mode string, log zerolog.Logger) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(log))
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:       r,
		Pipeline:     pipe,
		Guard:        guard,
		Breaker:      brk,
		DB:           database,
		Portfolio:    portfolio,
		JWTSecret:    jwtSecret,
		Meta:         meta,
		adminKeyHash: adminKeyHash,
		mode:         mode,
		log:          log.With().Str("component", "api").Logger(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.Router.Group("/api")
	{
		api.POST("/auth/login", s.login)

		api.GET("/system/status", s.getSystemStatus)
		api.GET("/pipeline/metrics", s.getPipelineMetrics)
		api.GET("/safety/status", s.getSafetyStatus)
		api.GET("/breaker/status", s.getBreakerStatus)
		api.GET("/executions", s.getExecutions)
		api.GET("/alerts", s.getAlerts)
		api.GET("/risk/daily", s.getDailyMetrics)
		api.POST("/trades/validate", s.validateTrade)

		// Mutating operations require an operator token.
		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.POST("/pipeline/start", s.startPipeline)
			protected.POST("/pipeline/stop", s.stopPipeline)
			protected.PUT("/pipeline/config", s.updatePipelineConfig)
			protected.POST("/pipeline/sentiment", s.queueSentiment)

			protected.POST("/safety/emergency-stop", s.emergencyStop)
			protected.POST("/safety/reset", s.resetEmergencyStop)
			protected.PUT("/safety/limits", s.updateLimits)

			protected.POST("/trades/result", s.recordTradeResult)
			protected.POST("/breaker/reset", s.resetBreaker)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
