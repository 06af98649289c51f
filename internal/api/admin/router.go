// Package admin serves the operational HTTP endpoints: liveness, readiness
// and Prometheus metrics.
package admin

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dtroode/refreshguard/internal/logger"
)

const readyTimeout = 2 * time.Second

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter builds the admin gin engine. Every dependency in deps must answer
// Ping for /ready to report ready.
func NewRouter(deps map[string]Pinger, gatherer prometheus.Gatherer, logger *logger.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})

	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)

	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
		defer cancel()

		ready := true
		status := make(map[string]bool, len(names))
		for _, name := range names {
			err := deps[name].Ping(ctx)
			status[name] = err == nil
			if err != nil {
				ready = false
				logger.Warn("Admin: dependency not ready",
					"dependency", name,
					"error", err.Error())
			}
		}

		if !ready {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "deps": status})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "deps": status})
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return r
}
