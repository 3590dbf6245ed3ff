// about.go implements the service self-description endpoint.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AboutHandler reports the gateway version and the API generations the
// router serves, so clients and deployment checks can confirm what they are
// talking to.
// Implements: GET /v2/about
func AboutHandler(version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service":      "manifest-gateway",
			"version":      version,
			"api_versions": []string{"v1", "v2"},
		})
	}
}
