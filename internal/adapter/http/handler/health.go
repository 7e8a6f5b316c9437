package handler

import (
	"net/http"

	"github.com/Ni8crawler18/Phloem/internal/core/ports"

	"github.com/gin-gonic/gin"
)

type dependencyHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthCheck builds the deep health handler. Each backing store is
// pinged with the request context; one unhealthy dependency marks the
// whole service degraded with a 503, so load balancers stop routing to
// an instance that cannot persist deliveries.
func HealthCheck(checkers ...ports.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		overall := "healthy"
		code := http.StatusOK

		deps := make(map[string]dependencyHealth, len(checkers))
		for _, chk := range checkers {
			err := chk.Ping(c.Request.Context())
			if err == nil {
				deps[chk.Name()] = dependencyHealth{Status: "healthy"}
				continue
			}
			deps[chk.Name()] = dependencyHealth{Status: "unhealthy", Error: err.Error()}
			overall = "degraded"
			code = http.StatusServiceUnavailable
		}

		c.JSON(code, gin.H{
			"status":       overall,
			"dependencies": deps,
		})
	}
}
