// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package executors

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinterlante1206/AleutianRelay/services/gateway/datatypes"
)

func newFastShell(t *testing.T) *ShellExecutor {
	t.Helper()
	x := NewShellExecutor(loadTestConfig(t, nil))
	x.connectDelay = 0
	x.executeDelay = 0
	x.disconnectDelay = 0
	return x
}

func shellEnvelope(mutate func(env *datatypes.RequestEnvelope)) *datatypes.RequestEnvelope {
	env := &datatypes.RequestEnvelope{
		RequestID: "req-shell",
		Method:    "POST",
		Path:      "mailbox",
		Query:     datatypes.NewCIMap(),
		Headers:   datatypes.NewCIMap(),
	}
	env.Headers.Set(datatypes.HeaderExecutorType, "shell")
	if mutate != nil {
		mutate(env)
	}
	return env
}

func TestShellExecutor_MissingCommand(t *testing.T) {
	x := newFastShell(t)

	res := x.Execute(context.Background(), shellEnvelope(nil))
	assert.Equal(t, datatypes.ErrCodeMissingCommand, res.ErrorCode)
	assert.False(t, res.IsTransient())
}

func TestShellExecutor_CommandNotAllowed(t *testing.T) {
	x := newFastShell(t)

	env := shellEnvelope(func(e *datatypes.RequestEnvelope) {
		e.Headers.Set(datatypes.HeaderPSCommand, "Remove-Mailbox")
	})
	res := x.Execute(context.Background(), env)
	assert.Equal(t, datatypes.ErrCodeCommandNotAllowed, res.ErrorCode)
	assert.False(t, res.IsTransient())
	assert.Contains(t, res.ErrorMessage, "Get-Mailbox")
	assert.Contains(t, res.ErrorMessage, "Get-User")
}

func TestShellExecutor_GetMailboxDefaults(t *testing.T) {
	x := newFastShell(t)

	env := shellEnvelope(func(e *datatypes.RequestEnvelope) {
		e.Headers.Set(datatypes.HeaderPSCommand, "Get-Mailbox")
	})
	res := x.Execute(context.Background(), env)

	require.True(t, res.IsSuccess())
	assert.Contains(t, res.Command, "Get-Mailbox -ResultSize 100")
	require.NotEmpty(t, res.Stdout)
	assert.Equal(t, "Simulated output", res.Stdout[len(res.Stdout)-1])

	require.Len(t, res.Objects, 5)
	for _, obj := range res.Objects {
		assert.Contains(t, obj, "DisplayName")
		assert.Contains(t, obj, "PrimarySmtpAddress")
		assert.Contains(t, obj, "MailboxType")
		assert.Contains(t, obj, "DatabaseName")
	}
}

func TestShellExecutor_CommandCaseInsensitive(t *testing.T) {
	x := newFastShell(t)

	env := shellEnvelope(func(e *datatypes.RequestEnvelope) {
		e.Headers.Set(datatypes.HeaderPSCommand, "get-mailbox")
	})
	res := x.Execute(context.Background(), env)
	require.True(t, res.IsSuccess())
	// The canonical allowlist casing is used in the rendered line.
	assert.Contains(t, res.Command, "Get-Mailbox")
}

func TestShellExecutor_GetUserMaxResults(t *testing.T) {
	x := newFastShell(t)

	env := shellEnvelope(func(e *datatypes.RequestEnvelope) {
		e.Headers.Set(datatypes.HeaderPSCommand, "Get-User")
		e.Headers.Set(datatypes.HeaderPSMaxResults, "2")
	})
	res := x.Execute(context.Background(), env)

	require.True(t, res.IsSuccess())
	require.Len(t, res.Objects, 2)
	for _, obj := range res.Objects {
		assert.Contains(t, obj, "Name")
		assert.Contains(t, obj, "UserPrincipalName")
		assert.Contains(t, obj, "Department")
	}
}

func TestShellExecutor_FilterAndResultSizeRendered(t *testing.T) {
	x := newFastShell(t)

	env := shellEnvelope(func(e *datatypes.RequestEnvelope) {
		e.Headers.Set(datatypes.HeaderPSCommand, "Get-Mailbox")
		e.Headers.Set(datatypes.HeaderPSFilter, "Department -eq 'Sales'")
		e.Headers.Set(datatypes.HeaderPSResultSize, "25")
	})
	res := x.Execute(context.Background(), env)

	require.True(t, res.IsSuccess())
	assert.Equal(t, `Get-Mailbox -Filter "Department -eq 'Sales'" -ResultSize 25`, res.Command)
}

func TestShellExecutor_OtherCommandEchoes(t *testing.T) {
	x := newFastShell(t)

	env := shellEnvelope(func(e *datatypes.RequestEnvelope) {
		e.Headers.Set(datatypes.HeaderPSCommand, "Get-DistributionGroup")
	})
	res := x.Execute(context.Background(), env)

	require.True(t, res.IsSuccess())
	assert.Empty(t, res.Objects)
	require.Len(t, res.Stdout, 2)
	assert.Contains(t, res.Stdout[0], "Get-DistributionGroup")
	assert.Equal(t, "Simulated output", res.Stdout[1])
}

func TestShellExecutor_CancelledDuringConnect(t *testing.T) {
	x := NewShellExecutor(loadTestConfig(t, nil))

	env := shellEnvelope(func(e *datatypes.RequestEnvelope) {
		e.Headers.Set(datatypes.HeaderPSCommand, "Get-Mailbox")
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := x.Execute(ctx, env)
	assert.Equal(t, datatypes.ErrCodeTimeout, res.ErrorCode)
	assert.True(t, res.IsTransient())
}

func TestShellExecutor_SessionFailureClassification(t *testing.T) {
	testCases := []struct {
		name      string
		message   string
		transient bool
	}{
		{"busy remote", "the remote endpoint is Busy right now", true},
		{"timed out", "operation timeout while enumerating", true},
		{"unavailable", "service temporarily Unavailable", true},
		{"denied", "access denied for the service account", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			x := newFastShell(t)
			x.executeFault = func(cmd string) error {
				return errors.New(tc.message)
			}

			env := shellEnvelope(func(e *datatypes.RequestEnvelope) {
				e.Headers.Set(datatypes.HeaderPSCommand, "Get-Mailbox")
			})
			res := x.Execute(context.Background(), env)

			assert.Equal(t, datatypes.ErrCodePSFailure, res.ErrorCode)
			assert.Equal(t, tc.transient, res.IsTransient())
			assert.Equal(t, tc.message, res.ErrorMessage)
		})
	}
}

func TestRenderCommandLine_NoFilter(t *testing.T) {
	assert.Equal(t, "Get-User -ResultSize 100",
		renderCommandLine("Get-User", "", "100"))
}
