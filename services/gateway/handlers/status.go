// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jinterlante1206/AleutianRelay/services/gateway/config"
	"github.com/jinterlante1206/AleutianRelay/services/gateway/observability"
)

// Ping returns the liveness probe handler.
func Ping() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	}
}

// HealthCheck reports the instance identity and the registered
// executors, for readiness checks and quick inspection.
func HealthCheck(cfg *config.GatewayConfig, executorNames []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"instance":  cfg.Service.InstanceID,
			"executors": executorNames,
		})
	}
}

// MetricsSnapshot serves the JSON counter snapshot from the in-process
// accumulator. The Prometheus scrape surface is mounted separately.
func MetricsSnapshot(cfg *config.GatewayConfig, acc *observability.Accumulator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"timestamp": time.Now().UTC(),
			"instance":  cfg.Service.InstanceID,
			"metrics":   acc.Snapshot(),
		})
	}
}
