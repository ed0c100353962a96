package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/clinicauth/internal/monitoring"
)

// Health reports readiness of the store and cache. It answers 503 when any
// probe is down or degraded.
func Health(manager *monitoring.HealthManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		report := manager.Evaluate(requestContext(c))
		status := http.StatusOK
		if !report.Success {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"success":    report.Success,
			"status":     report.Status,
			"checks":     report.Checks,
			"checked_at": time.Now().UTC(),
		})
	}
}
