// health.go implements the service health probe. Unlike a plain liveness
// check it reports the reachability of every backing service the gateway
// depends on, so monitoring can tell a gateway problem from an upstream one.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegistryPinger reports the application registry's API version, used here
// purely as a reachability probe.
type RegistryPinger interface {
	APIVersion(ctx context.Context) (string, error)
}

// BuildSysPinger reports the build system's API version.
type BuildSysPinger interface {
	APIVersion(ctx context.Context) (int, error)
}

// HealthPingHandler returns the aggregated health of the gateway's backing
// services. The response is 200 when every configured service answers and
// 503 otherwise; unconfigured services are reported but never fail the probe.
// Implements: GET /v2/health/ping
func HealthPingHandler(registry RegistryPinger, builds BuildSysPinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		services := gin.H{}
		healthy := true

		registryStatus := gin.H{"available": true}
		if _, err := registry.APIVersion(ctx); err != nil {
			registryStatus["available"] = false
			registryStatus["error"] = err.Error()
			healthy = false
		}
		services["registry"] = registryStatus

		if builds != nil {
			buildStatus := gin.H{"available": true}
			if _, err := builds.APIVersion(ctx); err != nil {
				buildStatus["available"] = false
				buildStatus["error"] = err.Error()
				healthy = false
			}
			services["buildsys"] = buildStatus
		} else {
			services["buildsys"] = gin.H{"available": false, "configured": false}
		}

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"status":   status,
			"services": services,
		})
	}
}
