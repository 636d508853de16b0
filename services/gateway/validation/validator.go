// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation performs the structural and size checks on a
// request envelope before dispatch. Rules run in a fixed order and the
// first failing rule wins.
package validation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jinterlante1206/AleutianRelay/services/gateway/datatypes"
)

// Code identifies a validation failure. The set is closed.
type Code string

const (
	CodeNullRequest      Code = "NullRequest"
	CodeMissingRequestID Code = "MissingRequestId"
	CodeMissingPsCommand Code = "MissingPsCommand"
	CodeMissingForward   Code = "MissingForwardBase"
	CodeBodyTooLarge     Code = "BodyTooLarge"
	CodeInvalidMethod    Code = "InvalidHttpMethod"
)

// Result is the tagged outcome of validating one envelope.
type Result struct {
	Valid   bool
	Code    Code
	Message string
}

func valid() Result {
	return Result{Valid: true}
}

func invalid(code Code, format string, args ...any) Result {
	return Result{Valid: false, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Validator checks envelopes against the configured body cap.
// Read-only after construction and safe for concurrent use.
type Validator struct {
	maxBodyBytes int64
}

// New creates a Validator with the given inbound body cap in bytes.
func New(maxBodyBytes int64) *Validator {
	return &Validator{maxBodyBytes: maxBodyBytes}
}

// Validate runs the ordered rule list over the envelope.
//
// Order: nil envelope, request id, executor-specific required headers,
// declared Content-Length against the cap, actual body length against
// the cap, method membership.
func (v *Validator) Validate(env *datatypes.RequestEnvelope) Result {
	if env == nil {
		return invalid(CodeNullRequest, "request envelope is nil")
	}

	if strings.TrimSpace(env.RequestID) == "" {
		return invalid(CodeMissingRequestID, "request_id must not be empty")
	}

	// The executor-specific rules key off the header as sent. A request
	// that omits X-Executor-Type falls through to the http executor,
	// which reports its own missing-base failure.
	switch strings.ToLower(strings.TrimSpace(env.Header(datatypes.HeaderExecutorType))) {
	case "shell":
		if !env.HasHeader(datatypes.HeaderPSCommand) {
			return invalid(CodeMissingPsCommand,
				"header %s is required for the shell executor", datatypes.HeaderPSCommand)
		}
	case "http":
		if !env.HasHeader(datatypes.HeaderForwardBase) {
			return invalid(CodeMissingForward,
				"header %s is required for the http executor", datatypes.HeaderForwardBase)
		}
	}

	if raw := env.Header("Content-Length"); raw != "" {
		if declared, err := strconv.ParseInt(raw, 10, 64); err == nil && declared > v.maxBodyBytes {
			return v.tooLarge(declared)
		}
	}

	if env.Body != "" && int64(len(env.Body)) > v.maxBodyBytes {
		return v.tooLarge(int64(len(env.Body)))
	}

	if !datatypes.AllowedMethods[strings.ToUpper(env.Method)] {
		return invalid(CodeInvalidMethod, "method %q is not supported", env.Method)
	}

	return valid()
}

func (v *Validator) tooLarge(got int64) Result {
	return invalid(CodeBodyTooLarge, "request body of %d bytes exceeds the limit of %d KB",
		got, v.maxBodyBytes/1024)
}
