// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package brain

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RegisterRoutes registers the /brain endpoints on rg (typically /v1).
//
//	POST /v1/brain/diagnose - Evaluate a state
//	GET  /v1/brain/health   - Liveness
//	GET  /v1/brain/ready    - First snapshot loaded
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	b := rg.Group("/brain")
	{
		b.POST("/diagnose", handlers.HandleDiagnose)
		b.GET("/health", handlers.HandleHealth)
		b.GET("/ready", handlers.HandleReady)
	}
}

// NewRouter builds the gin engine with recovery, tracing, the brain routes
// and /metrics.
func NewRouter(serviceName string, handlers *Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))

	RegisterRoutes(router.Group("/v1"), handlers)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}
