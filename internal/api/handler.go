package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"listing-aggregator/config"
	"listing-aggregator/internal/service"
	"listing-aggregator/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	aggregator *service.Aggregator
	fetchCfg   *config.FetchConfig
}

// NewHandler creates a new HTTP handler
func NewHandler(aggregator *service.Aggregator, fetchCfg *config.FetchConfig) *Handler {
	return &Handler{
		aggregator: aggregator,
		fetchCfg:   fetchCfg,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/search", h.search)
		v1.GET("/config", h.getConfig)
		v1.PATCH("/config", h.updateConfig)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// search handles aggregated product search. The entitlement booleans arrive
// precomputed from the upstream access layer.
func (h *Handler) search(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	priceMin, _ := strconv.ParseFloat(c.Query("price_min"), 64)
	priceMax, _ := strconv.ParseFloat(c.Query("price_max"), 64)
	minScore, _ := strconv.Atoi(c.Query("min_score"))
	minRating, _ := strconv.ParseFloat(c.Query("min_rating"), 64)

	req := &service.SearchRequest{
		Query:             c.Query("q"),
		Page:              page,
		SortBy:            c.Query("sort_by"),
		PriceMin:          priceMin,
		PriceMax:          priceMax,
		MinScore:          minScore,
		MinRating:         minRating,
		HasFullAccess:     c.GetHeader("X-Full-Access") == "true",
		HasPerQueryUnlock: c.GetHeader("X-Query-Unlock") == "true",
		ForceRefresh:      c.Query("force_refresh") == "true",
	}

	result, err := h.aggregator.Search(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrEmptyQuery) || errors.Is(err, service.ErrNoSourcesEnabled) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Search failed",
			"details": err.Error(),
		})
		return
	}

	if result.Pending {
		c.Header("Retry-After", strconv.Itoa(result.RetryAfterSeconds))
	}
	c.JSON(http.StatusOK, result)
}

// getConfig returns the current fetch configuration
func (h *Handler) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.fetchCfg.Snapshot())
}

// updateConfig merges a partial update into the fetch configuration
func (h *Handler) updateConfig(c *gin.Context) {
	var upd config.FetchConfigUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, h.fetchCfg.Update(upd))
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
