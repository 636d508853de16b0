// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the data contracts carried through the
// gateway dispatch pipeline: the inbound request envelope, per-attempt
// execution results, and the response envelope written back to callers.
package datatypes

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// =============================================================================
// Well-known headers
// =============================================================================

const (
	// HeaderRequestID carries the trace id; generated when absent.
	HeaderRequestID = "X-Request-Id"

	// HeaderCorrelationID is an opaque cross-service id, echoed unchanged.
	HeaderCorrelationID = "X-Correlation-Id"

	// HeaderExecutorType selects the executor ("http" or "shell").
	HeaderExecutorType = "X-Executor-Type"

	// HeaderForwardBase is the absolute base URL for the http executor.
	HeaderForwardBase = "X-Forward-Base"

	// HeaderPSCommand names the allowlisted command for the shell executor.
	HeaderPSCommand = "X-PS-Command"

	// HeaderPSFilter is an optional filter expression for the shell executor.
	HeaderPSFilter = "X-PS-Filter"

	// HeaderPSResultSize is the rendered -ResultSize value (string, default "100").
	HeaderPSResultSize = "X-PS-ResultSize"

	// HeaderPSMaxResults caps the number of generated records (default 100).
	HeaderPSMaxResults = "X-PS-MaxResults"

	// HeaderInstanceID identifies the gateway instance in responses.
	HeaderInstanceID = "X-Instance-Id"

	// HeaderExecutor names the executor that served the request.
	HeaderExecutor = "X-Executor"

	// HeaderAttempts is the number of attempts the retry engine made.
	HeaderAttempts = "X-Attempts"
)

// AllowedMethods is the closed set of HTTP methods an envelope may carry.
var AllowedMethods = map[string]bool{
	"GET":     true,
	"POST":    true,
	"PUT":     true,
	"PATCH":   true,
	"DELETE":  true,
	"HEAD":    true,
	"OPTIONS": true,
}

// =============================================================================
// Case-insensitive map
// =============================================================================

// CIMap is a string map with case-insensitive keys.
//
// Lookups ignore key casing while the casing of the first writer is
// preserved for forwarding. Values follow last-writer-wins semantics.
// CIMap is not safe for concurrent mutation; envelopes are built once
// per request and read-only afterwards.
type CIMap struct {
	// canonical maps lowercased key -> original-cased key.
	canonical map[string]string
	// values maps lowercased key -> value.
	values map[string]string
}

// NewCIMap creates an empty case-insensitive map.
func NewCIMap() *CIMap {
	return &CIMap{
		canonical: make(map[string]string),
		values:    make(map[string]string),
	}
}

// Set stores value under key. A later Set with any casing of the same
// key overwrites the value but keeps the original casing.
func (m *CIMap) Set(key, value string) {
	lower := strings.ToLower(key)
	if _, seen := m.canonical[lower]; !seen {
		m.canonical[lower] = key
	}
	m.values[lower] = value
}

// Get returns the value for key, matching case-insensitively.
func (m *CIMap) Get(key string) (string, bool) {
	v, ok := m.values[strings.ToLower(key)]
	return v, ok
}

// Value returns the value for key or the empty string.
func (m *CIMap) Value(key string) string {
	v, _ := m.Get(key)
	return v
}

// Has reports whether key is present, matching case-insensitively.
func (m *CIMap) Has(key string) bool {
	_, ok := m.values[strings.ToLower(key)]
	return ok
}

// Len returns the number of distinct keys.
func (m *CIMap) Len() int {
	return len(m.values)
}

// Items returns a copy keyed by the preserved original casing.
func (m *CIMap) Items() map[string]string {
	out := make(map[string]string, len(m.values))
	for lower, orig := range m.canonical {
		out[orig] = m.values[lower]
	}
	return out
}

// MarshalJSON renders the map with original-cased keys.
func (m *CIMap) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Items())
}

// =============================================================================
// Request envelope
// =============================================================================

// RequestEnvelope is the immutable description of an inbound request.
//
// The dispatch controller builds one envelope per request and passes it
// by reference through validation, executor selection, and retries.
// Nothing mutates an envelope after construction.
type RequestEnvelope struct {
	// RequestID is a non-empty opaque trace id.
	RequestID string `json:"request_id"`

	// CorrelationID is an optional opaque cross-service id.
	CorrelationID string `json:"correlation_id,omitempty"`

	// Method is the uppercased HTTP method.
	Method string `json:"method"`

	// Path is the URL-decoded request path below /api, may be empty.
	Path string `json:"path"`

	// Query holds query parameters, keys case-insensitive.
	Query *CIMap `json:"query"`

	// Headers holds inbound headers, keys case-insensitive with
	// original casing preserved for forwarding.
	Headers *CIMap `json:"headers"`

	// Body is the request body, empty when the method carries none
	// or the content type was not JSON.
	Body string `json:"body,omitempty"`
}

// NewRequestID generates a fresh 128-bit random id rendered as a GUID string.
func NewRequestID() string {
	return uuid.NewString()
}

// Header returns the named header value or the empty string.
func (e *RequestEnvelope) Header(name string) string {
	if e.Headers == nil {
		return ""
	}
	return e.Headers.Value(name)
}

// HasHeader reports whether the named header is present.
func (e *RequestEnvelope) HasHeader(name string) bool {
	return e.Headers != nil && e.Headers.Has(name)
}

// ExecutorType returns the lowercased X-Executor-Type value,
// defaulting to "http" when absent or empty.
func (e *RequestEnvelope) ExecutorType() string {
	t := strings.ToLower(strings.TrimSpace(e.Header(HeaderExecutorType)))
	if t == "" {
		return "http"
	}
	return t
}
