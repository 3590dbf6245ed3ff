// Package api wires together all HTTP routes for the manifest gateway.
//
// Route grouping philosophy:
//   - /v2/ is the primary API. Push routes omit the repository segment; the
//     repository name is discovered from the packageName declared inside the
//     uploaded manifests.
//   - /v1/ is the legacy API kept for older clients. It is identical except
//     that push routes carry the repository name in the path.
//   - Health and about endpoints live under /v2/ only and are
//     unauthenticated; everything else requires an Authorization header that
//     is passed through opaquely to the application registry.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/manifest-gateway/manifest-gateway/internal/middleware"
)

// NewRouter creates and configures the Gin router. builds may be nil when no
// build system is configured; the corresponding routes then answer 404.
func NewRouter(publisher Publisher, registry RegistryPinger, builds BuildSysPinger, version string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"status":  http.StatusNotFound,
			"error":   "NotFound",
			"message": "The requested URL was not found on the server.",
		})
	})

	pushZip := PushZipfileHandler(publisher)
	pushKoji := PushKojiHandler(publisher)
	deleteRelease := DeleteReleaseHandler(publisher)

	v2 := router.Group("/v2")
	{
		v2.GET("/health/ping", HealthPingHandler(registry, builds))
		v2.GET("/about", AboutHandler(version))

		v2.POST("/:organization/zipfile", pushZip)
		v2.POST("/:organization/zipfile/:version", pushZip)
		if builds != nil {
			v2.POST("/:organization/koji/:nvr", pushKoji)
			v2.POST("/:organization/koji/:nvr/:version", pushKoji)
		}
		v2.DELETE("/:organization/:repo", deleteRelease)
		v2.DELETE("/:organization/:repo/:version", deleteRelease)
	}

	v1 := router.Group("/v1")
	{
		v1.POST("/:organization/:repo/zipfile", pushZip)
		v1.POST("/:organization/:repo/zipfile/:version", pushZip)
		if builds != nil {
			v1.POST("/:organization/:repo/koji/:nvr", pushKoji)
			v1.POST("/:organization/:repo/koji/:nvr/:version", pushKoji)
		}
		v1.DELETE("/:organization/:repo", deleteRelease)
		v1.DELETE("/:organization/:repo/:version", deleteRelease)
	}

	return router
}
