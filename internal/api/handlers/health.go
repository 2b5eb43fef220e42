package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

var startTime = time.Now()

const version = "1.0.0"

// HealthCheck returns server health status
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "dotaduels-api",
		"version": version,
		"uptime":  time.Since(startTime).String(),
	})
}

// Root answers the liveness probe at / with the endpoint index the mini app
// frontend expects.
func Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"endpoints": gin.H{
			"user":        "POST /api/v1/user",
			"matchmaking": "POST /api/v1/matchmaking/start",
		},
	})
}
