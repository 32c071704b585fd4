package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/duynguyendang/kbfuse/pkg/service"
)

// Server holds the state for the REST API server.
type Server struct {
	service  *service.PipelineService
	gatherer prometheus.Gatherer
	router   *gin.Engine
}

// NewServer creates a new Server instance. Metrics are served from
// gatherer, or from the default registry when it is nil.
func NewServer(svc *service.PipelineService, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r := gin.Default()
	s := &Server{
		service:  svc,
		gatherer: gatherer,
		router:   r,
	}
	s.setupRoutes()
	return s
}

// Handler exposes the router, for embedding in an http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts the server on the specified address.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := s.router.Group("/v1")
	v1.GET("/processors", s.handleProcessors)
	v1.GET("/reports", s.handleReportKinds)
	v1.POST("/plans/validate", s.handleValidatePlan)

	v1.GET("/runs", s.handleListRuns)
	v1.POST("/runs", s.handleStartRun)
	v1.GET("/runs/:id", s.handleGetRun)
	v1.DELETE("/runs/:id", s.handleDeleteRun)
	v1.POST("/runs/:id/cancel", s.handleCancelRun)
	v1.GET("/runs/:id/processors/:pid/reports/:kind", s.handleReport)
}

// Health check
func (s *Server) healthCheck(c *gin.Context) {
	c.Status(http.StatusOK)
}
