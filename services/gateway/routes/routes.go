// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jinterlante1206/AleutianRelay/services/gateway/config"
	"github.com/jinterlante1206/AleutianRelay/services/gateway/handlers"
	"github.com/jinterlante1206/AleutianRelay/services/gateway/observability"
)

// SetupRoutes mounts the gateway surface on the router: the probes,
// both metrics endpoints, and the catch-all dispatch routes.
func SetupRoutes(router *gin.Engine, cfg *config.GatewayConfig,
	dispatcher *handlers.Dispatcher, acc *observability.Accumulator,
	executorNames []string) {

	router.GET("/ping", handlers.Ping())
	router.GET("/health", handlers.HealthCheck(cfg, executorNames))
	router.GET("/metrics", handlers.MetricsSnapshot(cfg, acc))
	router.GET("/metrics/prometheus", gin.WrapH(promhttp.Handler()))

	dispatch := dispatcher.Handle()
	api := router.Group("/api")
	{
		api.GET("/*path", dispatch)
		api.POST("/*path", dispatch)
		api.PUT("/*path", dispatch)
		api.PATCH("/*path", dispatch)
		api.DELETE("/*path", dispatch)
	}
}
