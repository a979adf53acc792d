package handlers

import (
	"net/http"
	"time"

	"tarot-talks/internal/ratelimit"
	"tarot-talks/internal/workers"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// RouteConfig carries the settings routes depend on.
type RouteConfig struct {
	AdminPassword  string
	Limiter        ratelimit.Limiter
	ScanRateLimit  int
	ScanRateWindow time.Duration
	// Refresh is the scheduled refresh worker, nil when it is disabled.
	Refresh RefreshReporter
}

// RefreshReporter exposes the outcome of the latest scheduled refresh.
type RefreshReporter interface {
	LastRun() *workers.RefreshStats
}

// RegisterRoutes mounts health, metrics and the admin API on r.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, admin *AdminHandler, cfg RouteConfig) {
	r.GET("/health", HealthCheck(db))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/admin", AdminAuth(cfg.AdminPassword))
	{
		mentions := api.Group("/mentions")
		{
			mentions.POST("/scan", ratelimit.Middleware(cfg.Limiter, "mentions-scan", cfg.ScanRateLimit, cfg.ScanRateWindow), admin.ScanMentions)
			mentions.GET("", admin.ListMentions)
			mentions.POST("/:id/acknowledge", admin.AcknowledgeMention)
		}

		shares := api.Group("/shares")
		{
			shares.GET("", admin.ListShares)
			shares.POST("", admin.CreateShare)
			shares.GET("/stats", admin.ShareStats)
			shares.GET("/top", admin.TopShares)
			shares.POST("/resolve", admin.ResolveURL)
			shares.GET("/:id", admin.GetShare)
			shares.PUT("/:id", admin.UpdateShare)
			shares.DELETE("/:id", admin.DeleteShare)
			shares.POST("/:id/metrics", admin.RefreshMetrics)
			shares.POST("/:id/relationship", admin.RefreshRelationship)
		}

		api.GET("/refresh/status", RefreshStatus(cfg.Refresh))
	}
}

// HealthCheck handles GET /health
func HealthCheck(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, code := "healthy", http.StatusOK
		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":  status,
			"service": "tarot-talks-signals",
		})
	}
}

// RefreshStatus handles GET /api/admin/refresh/status
func RefreshStatus(refresh RefreshReporter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if refresh == nil {
			c.JSON(http.StatusOK, gin.H{"enabled": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"enabled":  true,
			"last_run": refresh.LastRun(),
		})
	}
}
