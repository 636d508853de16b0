// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// OverallStatus values for the response envelope.
const (
	StatusSuccess = "Success"
	StatusFailure = "Failure"
)

// AttemptSummary is one line of the attempt history in the response.
type AttemptSummary struct {
	Attempt int     `json:"attempt"`
	Outcome Outcome `json:"outcome"`
	Message string  `json:"message,omitempty"`
}

// ExecutorResult is the executor-family-specific payload of the
// response envelope. Exactly one variant's fields are set:
//
//   - HTTP success: HTTPStatus, Headers, Body
//   - shell success: PSCommand, PSStdout, PSStderr, PSObjects
//   - any failure: ErrorCode, Error, IsTransient
type ExecutorResult struct {
	HTTPStatus *int              `json:"http_status,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       *string           `json:"body,omitempty"`

	PSCommand string           `json:"ps_command,omitempty"`
	PSStdout  []string         `json:"ps_stdout,omitempty"`
	PSStderr  []string         `json:"ps_stderr,omitempty"`
	PSObjects []map[string]any `json:"ps_objects,omitempty"`

	ErrorCode   string `json:"error_code,omitempty"`
	Error       string `json:"error,omitempty"`
	IsTransient *bool  `json:"is_transient,omitempty"`
}

// ResponseEnvelope is the JSON body written for every dispatched request.
type ResponseEnvelope struct {
	RequestID        string           `json:"request_id"`
	CorrelationID    string           `json:"correlation_id,omitempty"`
	ExecutorType     string           `json:"executor_type"`
	StartedAt        time.Time        `json:"started_at"`
	CompletedAt      time.Time        `json:"completed_at"`
	OverallStatus    string           `json:"overall_status"`
	Attempts         int              `json:"attempts"`
	AttemptSummaries []AttemptSummary `json:"attempt_summaries"`
	ExecutorResult   ExecutorResult   `json:"executor_result"`
}

// ErrorBody is the JSON body for pre-dispatch rejections (HTTP 400).
type ErrorBody struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// BuildResponseEnvelope assembles the response envelope from the attempt
// history of a dispatched request.
func BuildResponseEnvelope(env *RequestEnvelope, executorName string, history RetryHistory) ResponseEnvelope {
	final := history.Final()

	summaries := make([]AttemptSummary, 0, len(history))
	for _, attempt := range history {
		s := AttemptSummary{Attempt: attempt.Attempt, Outcome: attempt.Outcome}
		if attempt.ErrorMessage != "" {
			s.Message = attempt.ErrorMessage
		}
		summaries = append(summaries, s)
	}

	status := StatusFailure
	if final.IsSuccess() {
		status = StatusSuccess
	}

	return ResponseEnvelope{
		RequestID:        env.RequestID,
		CorrelationID:    env.CorrelationID,
		ExecutorType:     executorName,
		StartedAt:        history[0].StartedAt,
		CompletedAt:      final.CompletedAt,
		OverallStatus:    status,
		Attempts:         len(history),
		AttemptSummaries: summaries,
		ExecutorResult:   buildExecutorResult(final),
	}
}

func buildExecutorResult(final ExecutionResult) ExecutorResult {
	if final.IsSuccess() {
		if final.Command != "" {
			return ExecutorResult{
				PSCommand: final.Command,
				PSStdout:  final.Stdout,
				PSStderr:  final.Stderr,
				PSObjects: final.Objects,
			}
		}
		status := final.StatusCode
		body := final.ResponseBody
		return ExecutorResult{
			HTTPStatus: &status,
			Headers:    final.ResponseHeaders,
			Body:       &body,
		}
	}

	transient := final.Transient
	return ExecutorResult{
		ErrorCode:   final.ErrorCode,
		Error:       final.ErrorMessage,
		IsTransient: &transient,
	}
}
