// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers holds the gin handlers for the gateway: the
// catch-all dispatch endpoint plus the ping, health, and metrics
// surfaces.
package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"

	"github.com/jinterlante1206/AleutianRelay/services/gateway/clock"
	"github.com/jinterlante1206/AleutianRelay/services/gateway/config"
	"github.com/jinterlante1206/AleutianRelay/services/gateway/datatypes"
	"github.com/jinterlante1206/AleutianRelay/services/gateway/executors"
	"github.com/jinterlante1206/AleutianRelay/services/gateway/observability"
	"github.com/jinterlante1206/AleutianRelay/services/gateway/retry"
	"github.com/jinterlante1206/AleutianRelay/services/gateway/validation"
)

// Create a new tracer
var dispatchTracer = otel.Tracer("aleutian.gateway.handlers")

// bodyMethods are the methods whose bodies the dispatcher reads.
var bodyMethods = map[string]bool{
	"POST":  true,
	"PUT":   true,
	"PATCH": true,
}

// Dispatcher wires the dispatch pipeline: envelope construction,
// validation, executor selection, retries, and metrics. One instance
// serves all requests; every field is safe for concurrent use.
type Dispatcher struct {
	cfg       *config.GatewayConfig
	validator *validation.Validator
	registry  *executors.Registry
	engine    *retry.Engine
	acc       *observability.Accumulator
	prom      *observability.GatewayMetrics
	clk       clock.Clock
}

// NewDispatcher assembles the pipeline from its collaborators.
func NewDispatcher(
	cfg *config.GatewayConfig,
	validator *validation.Validator,
	registry *executors.Registry,
	engine *retry.Engine,
	acc *observability.Accumulator,
	prom *observability.GatewayMetrics,
	clk clock.Clock,
) *Dispatcher {
	return &Dispatcher{
		cfg:       cfg,
		validator: validator,
		registry:  registry,
		engine:    engine,
		acc:       acc,
		prom:      prom,
		clk:       clk,
	}
}

// Handle returns the catch-all dispatch handler for /api/*path.
//
// The HTTP status of the response reflects whether the gateway could
// process the request: validation failures and unknown executors are
// 400, executor-level failures are 200 with a Failure envelope, and a
// successful HTTP forward echoes the downstream status.
func (d *Dispatcher) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := dispatchTracer.Start(c.Request.Context(), "gateway.dispatch")
		defer span.End()

		started := d.clk.Now()

		requestID := strings.TrimSpace(c.GetHeader(datatypes.HeaderRequestID))
		if requestID == "" {
			requestID = datatypes.NewRequestID()
		}
		correlationID := strings.TrimSpace(c.GetHeader(datatypes.HeaderCorrelationID))

		if c.Request.ContentLength > d.cfg.MaxBodyBytes() {
			d.rejectInvalid(c, requestID,
				d.tooLargeMessage(c.Request.ContentLength))
			return
		}

		body, tooLarge := d.readBody(c)
		if tooLarge {
			d.rejectInvalid(c, requestID, d.tooLargeMessage(int64(len(body))))
			return
		}

		env := d.buildEnvelope(c, requestID, correlationID, body)

		if res := d.validator.Validate(env); !res.Valid {
			d.rejectInvalid(c, requestID, res.Message)
			return
		}

		exec, ok := d.registry.Lookup(env.ExecutorType())
		if !ok {
			d.acc.Increment(observability.CounterBadExecutor)
			d.prom.RequestsTotal.WithLabelValues(env.ExecutorType(), "invalid").Inc()
			slog.Warn("unknown executor requested",
				"request_id", requestID, "executor_type", env.ExecutorType())
			d.writeError(c, requestID, datatypes.ErrCodeUnsupportedExecutor,
				"executor type "+env.ExecutorType()+" is not supported")
			return
		}

		result := d.engine.Run(ctx, requestID, func(attemptCtx context.Context, attempt int) datatypes.ExecutionResult {
			return exec.Execute(attemptCtx, env)
		})

		d.recordOutcome(exec.Name(), result, started)
		d.writeResponse(c, env, exec.Name(), result)
	}
}

// readBody reads the inbound body under the configured cap. The read
// stops one byte past the cap so an over-limit body is rejected even
// without a Content-Length header. The returned flag reports whether
// the cap was exceeded.
func (d *Dispatcher) readBody(c *gin.Context) (string, bool) {
	isJSON := strings.Contains(strings.ToLower(c.ContentType()), "json")
	if !bodyMethods[c.Request.Method] && !isJSON {
		return "", false
	}
	if c.Request.Body == nil {
		return "", false
	}

	limit := d.cfg.MaxBodyBytes() + 1
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, limit))
	if err != nil {
		slog.Warn("failed to read the request body", "error", err)
		return "", false
	}
	if int64(len(raw)) > d.cfg.MaxBodyBytes() {
		return string(raw), true
	}
	return string(raw), false
}

// buildEnvelope constructs the immutable request envelope. The path is
// URL-decoded exactly once; a decoded slash stays part of the path.
func (d *Dispatcher) buildEnvelope(c *gin.Context, requestID, correlationID, body string) *datatypes.RequestEnvelope {
	path := c.Param("path")
	if decoded, err := url.PathUnescape(path); err == nil {
		path = decoded
	}
	path = strings.TrimPrefix(path, "/")

	query := datatypes.NewCIMap()
	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			query.Set(key, values[0])
		}
	}

	headers := datatypes.NewCIMap()
	for name, values := range c.Request.Header {
		if len(values) > 0 {
			headers.Set(name, values[0])
		}
	}

	return &datatypes.RequestEnvelope{
		RequestID:     requestID,
		CorrelationID: correlationID,
		Method:        strings.ToUpper(c.Request.Method),
		Path:          path,
		Query:         query,
		Headers:       headers,
		Body:          body,
	}
}

// recordOutcome updates both metrics surfaces after a dispatched run.
func (d *Dispatcher) recordOutcome(executor string, result retry.Result, started time.Time) {
	final := result.Final()
	status := "failure"
	if result.Succeeded() {
		status = "success"
	}

	d.acc.Increment(observability.CounterTotal)
	if result.Succeeded() {
		d.acc.Increment(observability.CounterSuccess)
	} else {
		d.acc.Increment(observability.CounterFailed)
		d.prom.ErrorsTotal.WithLabelValues(executor, final.ErrorCode).Inc()
	}
	if result.Attempts() > 1 {
		d.acc.Increment(observability.CounterRetried)
		d.prom.RetriesTotal.WithLabelValues(executor).Inc()
	}

	elapsed := d.clk.Now().Sub(started)
	d.acc.RecordLatency(float64(elapsed) / float64(time.Millisecond))

	d.prom.RequestsTotal.WithLabelValues(executor, status).Inc()
	d.prom.AttemptsPerRequest.WithLabelValues(executor).Observe(float64(result.Attempts()))
	d.prom.RequestDurationSeconds.WithLabelValues(executor, status).Observe(elapsed.Seconds())
}

// writeResponse serializes the response envelope with the
// traceability headers attached.
func (d *Dispatcher) writeResponse(c *gin.Context, env *datatypes.RequestEnvelope, executor string, result retry.Result) {
	resp := datatypes.BuildResponseEnvelope(env, executor, result.History)

	c.Header(datatypes.HeaderRequestID, env.RequestID)
	if env.CorrelationID != "" {
		c.Header(datatypes.HeaderCorrelationID, env.CorrelationID)
	}
	c.Header(datatypes.HeaderInstanceID, d.cfg.Service.InstanceID)
	c.Header(datatypes.HeaderExecutor, executor)
	c.Header(datatypes.HeaderAttempts, strconv.Itoa(result.Attempts()))

	status := http.StatusOK
	if final := result.Final(); final.IsSuccess() && final.StatusCode != 0 {
		status = final.StatusCode
	}

	slog.Info("request dispatched",
		"request_id", env.RequestID,
		"executor", executor,
		"overall_status", resp.OverallStatus,
		"attempts", result.Attempts(),
		"http_status", status)

	c.JSON(status, resp)
}

// rejectInvalid counts and rejects a request that failed validation.
func (d *Dispatcher) rejectInvalid(c *gin.Context, requestID, message string) {
	d.acc.Increment(observability.CounterInvalid)
	slog.Warn("rejecting invalid request",
		"request_id", requestID, "reason", message)
	d.writeError(c, requestID, datatypes.ErrCodeInvalidRequest, message)
}

// writeError writes the HTTP 400 error body for pre-dispatch rejections.
func (d *Dispatcher) writeError(c *gin.Context, requestID, code, message string) {
	c.JSON(http.StatusBadRequest, datatypes.ErrorBody{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: d.clk.Now().UTC(),
	})
}

func (d *Dispatcher) tooLargeMessage(got int64) string {
	return "request body of " + strconv.FormatInt(got, 10) +
		" bytes exceeds the limit of " +
		strconv.FormatInt(d.cfg.MaxBodyBytes()/1024, 10) + " KB"
}
