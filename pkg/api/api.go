// Package api exposes the health and readiness HTTP surface over the
// pipeline registry.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"

	committer "github.com/blockproofs/committer"
	"github.com/blockproofs/committer/pkg/pipeline"
)

// NewV1API builds the router for the health surface.
func NewV1API(lggr logger.Logger, registry *pipeline.Registry) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	v1Group := router.Group("/v1")

	v1Group.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	healthHandler := NewHealthHandler(lggr, registry)
	v1Group.GET("/health", healthHandler.Handle)
	v1Group.GET("/ready", healthHandler.HandleReady)

	return router
}

// HealthHandler reports per-chain pipeline health.
type HealthHandler struct {
	lggr     logger.Logger
	registry *pipeline.Registry
}

func NewHealthHandler(lggr logger.Logger, registry *pipeline.Registry) *HealthHandler {
	return &HealthHandler{lggr: lggr, registry: registry}
}

// Handle responds to /v1/health with the full per-chain snapshot map. A
// failing dependency probe shows up inside its snapshot; the endpoint itself
// always answers 200.
func (h *HealthHandler) Handle(c *gin.Context) {
	statuses := h.registry.HealthStatus(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"chains": statuses})
}

// HandleReady responds to /v1/ready with 200 once at least one pipeline is
// running, 503 otherwise.
func (h *HealthHandler) HandleReady(c *gin.Context) {
	statuses := h.registry.HealthStatus(c.Request.Context())
	for _, snapshot := range statuses {
		if snapshot.State == committer.StateRunning {
			c.Status(http.StatusOK)
			return
		}
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no running pipelines"})
}
