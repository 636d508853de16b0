// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package executors

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jinterlante1206/AleutianRelay/services/gateway/config"
	"github.com/jinterlante1206/AleutianRelay/services/gateway/datatypes"
)

// transientFailureMarkers classify a session failure as retryable when
// any of them appears in the failure message.
var transientFailureMarkers = []string{"busy", "timeout", "unavailable"}

// ShellExecutor simulates a remote management shell session.
//
// A request runs as a three-phase session: connect, execute,
// disconnect. Each phase honors the attempt context, and the
// disconnect runs on every exit path; a failed disconnect is logged
// and never changes the returned result. Output is deterministic per
// command so downstream consumers can be tested against it.
type ShellExecutor struct {
	cfg *config.GatewayConfig

	// Phase delays. Kept short so a healthy session completes well
	// inside the per-attempt deadline.
	connectDelay    time.Duration
	executeDelay    time.Duration
	disconnectDelay time.Duration

	// executeFault, when set, replaces the simulated execute phase.
	// Settable from tests only.
	executeFault func(cmd string) error
}

// NewShellExecutor creates the simulated shell executor.
func NewShellExecutor(cfg *config.GatewayConfig) *ShellExecutor {
	return &ShellExecutor{
		cfg:             cfg,
		connectDelay:    20 * time.Millisecond,
		executeDelay:    30 * time.Millisecond,
		disconnectDelay: 10 * time.Millisecond,
	}
}

// Name returns "shell".
func (x *ShellExecutor) Name() string {
	return "shell"
}

// Execute runs one simulated session for the envelope.
//
// A missing command is a permanent MissingCommand, a command outside
// the allowlist is a permanent CommandNotAllowed, cancellation during
// any phase is a transient Timeout, and any other session failure maps
// to PSFailure, transient only when its message mentions busy,
// timeout, or unavailable.
func (x *ShellExecutor) Execute(ctx context.Context, env *datatypes.RequestEnvelope) datatypes.ExecutionResult {
	cmd := strings.TrimSpace(env.Header(datatypes.HeaderPSCommand))
	if cmd == "" {
		return datatypes.Failure(datatypes.ErrCodeMissingCommand,
			fmt.Sprintf("header %s is required for the shell executor", datatypes.HeaderPSCommand), false)
	}

	canonical, ok := x.cfg.AllowedCommand(cmd)
	if !ok {
		return datatypes.Failure(datatypes.ErrCodeCommandNotAllowed,
			fmt.Sprintf("command %q is not allowed; allowed commands: %s",
				cmd, strings.Join(x.allowedCommandList(), ", ")), false)
	}

	filter := env.Header(datatypes.HeaderPSFilter)
	resultSize := env.Header(datatypes.HeaderPSResultSize)
	if strings.TrimSpace(resultSize) == "" {
		resultSize = "100"
	}
	maxResults := 100
	if raw := strings.TrimSpace(env.Header(datatypes.HeaderPSMaxResults)); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			maxResults = n
		}
	}

	line := renderCommandLine(canonical, filter, resultSize)
	slog.Info("starting shell session",
		"request_id", env.RequestID,
		"command", canonical)

	if err := x.sleepPhase(ctx, x.connectDelay); err != nil {
		return datatypes.Failure(datatypes.ErrCodeTimeout, "shell session was cancelled during connect", true)
	}
	// The session is live from here on; disconnect on every exit path.
	defer x.disconnect(ctx, env.RequestID)

	if x.executeFault != nil {
		if err := x.executeFault(canonical); err != nil {
			return classifySessionFailure(err)
		}
	}
	if err := x.sleepPhase(ctx, x.executeDelay); err != nil {
		return datatypes.Failure(datatypes.ErrCodeTimeout, "shell session was cancelled during execute", true)
	}

	stdout, objects := simulateOutput(canonical, filter, resultSize, maxResults)
	return datatypes.ShellSuccess(line, stdout, nil, objects)
}

// disconnect closes the simulated session. Its failure, including a
// cancelled attempt context, is logged only.
func (x *ShellExecutor) disconnect(ctx context.Context, requestID string) {
	if err := x.sleepPhase(ctx, x.disconnectDelay); err != nil {
		slog.Warn("shell session disconnect failed",
			"request_id", requestID, "error", err)
		return
	}
	slog.Debug("shell session closed", "request_id", requestID)
}

// sleepPhase waits for d or until ctx is cancelled.
func (x *ShellExecutor) sleepPhase(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (x *ShellExecutor) allowedCommandList() []string {
	out := make([]string, len(x.cfg.Shell.AllowedCommands))
	copy(out, x.cfg.Shell.AllowedCommands)
	sort.Strings(out)
	return out
}

// classifySessionFailure maps a session error to a PSFailure result,
// transient only when the message names a busy or flaky remote.
func classifySessionFailure(err error) datatypes.ExecutionResult {
	msg := err.Error()
	lower := strings.ToLower(msg)
	transient := false
	for _, marker := range transientFailureMarkers {
		if strings.Contains(lower, marker) {
			transient = true
			break
		}
	}
	return datatypes.Failure(datatypes.ErrCodePSFailure, msg, transient)
}

// renderCommandLine builds the full command line, quoting the filter.
func renderCommandLine(cmd, filter, resultSize string) string {
	var b strings.Builder
	b.WriteString(cmd)
	if filter != "" {
		fmt.Fprintf(&b, " -Filter %q", filter)
	}
	fmt.Fprintf(&b, " -ResultSize %s", resultSize)
	return b.String()
}

// simulateOutput produces the deterministic stdout lines and records
// for the command. The final stdout line always carries the literal
// "Simulated output" marker.
func simulateOutput(cmd, filter, resultSize string, maxResults int) ([]string, []map[string]any) {
	var stdout []string
	var objects []map[string]any

	switch strings.ToLower(cmd) {
	case "get-mailbox":
		objects = mailboxRecords(min(5, maxResults))
		stdout = recordLines(cmd, objects, "DisplayName")
	case "get-user":
		objects = userRecords(min(3, maxResults))
		stdout = recordLines(cmd, objects, "Name")
	default:
		echo := fmt.Sprintf("%s executed", cmd)
		if filter != "" {
			echo += fmt.Sprintf(" with filter %q", filter)
		}
		echo += fmt.Sprintf(" (result size %s)", resultSize)
		stdout = []string{echo}
	}

	stdout = append(stdout, "Simulated output")
	return stdout, objects
}

func recordLines(cmd string, objects []map[string]any, nameField string) []string {
	lines := make([]string, 0, len(objects)+1)
	lines = append(lines, fmt.Sprintf("%s returned %d records", cmd, len(objects)))
	for _, obj := range objects {
		lines = append(lines, fmt.Sprintf("  %v", obj[nameField]))
	}
	return lines
}

func mailboxRecords(n int) []map[string]any {
	records := make([]map[string]any, 0, n)
	for i := 1; i <= n; i++ {
		records = append(records, map[string]any{
			"DisplayName":        fmt.Sprintf("Mailbox User %d", i),
			"PrimarySmtpAddress": fmt.Sprintf("mailbox.user%d@contoso.example", i),
			"MailboxType":        "UserMailbox",
			"DatabaseName":       fmt.Sprintf("MBX-DB-%02d", (i-1)%3+1),
		})
	}
	return records
}

func userRecords(n int) []map[string]any {
	departments := []string{"Engineering", "Finance", "Operations"}
	records := make([]map[string]any, 0, n)
	for i := 1; i <= n; i++ {
		records = append(records, map[string]any{
			"Name":              fmt.Sprintf("User %d", i),
			"UserPrincipalName": fmt.Sprintf("user%d@contoso.example", i),
			"Department":        departments[(i-1)%len(departments)],
		})
	}
	return records
}
