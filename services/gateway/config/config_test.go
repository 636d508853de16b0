// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "remote-executor-01", cfg.Service.InstanceID)
	assert.Equal(t, 1000, cfg.Service.MaxRequestBodyKB)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 200, cfg.Retry.BaseDelayMS)
	assert.Equal(t, 5000, cfg.Retry.MaxDelayMS)
	assert.Equal(t, 0.25, cfg.Retry.JitterFraction)
	assert.Equal(t, 512, cfg.HTTP.MaxResponseBodyKB)
	assert.ElementsMatch(t, []int{408, 429, 500, 502, 503, 504}, cfg.Retry.TransientStatusCodes)
	assert.ElementsMatch(t,
		[]string{"Get-Mailbox", "Get-User", "Get-DistributionGroup"},
		cfg.Shell.AllowedCommands)
}

func TestLoad_CreatesDefaultFileOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "gateway.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "remote-executor-01", cfg.Service.InstanceID)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "instance_id")
	assert.Contains(t, string(data), "max_attempts")
}

func TestLoad_FileValuesApplied(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	yaml := `
service:
  instance_id: relay-east-2
  max_request_body_kb: 64
retry:
  max_attempts: 5
  base_delay_ms: 100
  max_delay_ms: 1000
  jitter_fraction: 0.1
  per_attempt_timeout_ms: 2000
  transient_status_codes: [429, 503]
http:
  max_response_body_kb: 8
  default_timeout_sec: 5
shell:
  allowed_commands: [Get-Mailbox]
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "relay-east-2", cfg.Service.InstanceID)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.True(t, cfg.IsTransientStatus(429))
	assert.False(t, cfg.IsTransientStatus(500))
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("SERVICE__INSTANCE_ID", "relay-override")
	t.Setenv("RETRY__MAX_ATTEMPTS", "7")
	t.Setenv("RETRY__TRANSIENT_STATUS_CODES", "500, 503")
	t.Setenv("SHELL__ALLOWED_COMMANDS", "Get-User,Get-Contact")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "relay-override", cfg.Service.InstanceID)
	assert.Equal(t, 7, cfg.Retry.MaxAttempts)
	assert.True(t, cfg.IsTransientStatus(500))
	assert.False(t, cfg.IsTransientStatus(429))

	_, ok := cfg.AllowedCommand("get-contact")
	assert.True(t, ok)
	_, ok = cfg.AllowedCommand("Get-Mailbox")
	assert.False(t, ok)
}

func TestLoad_MalformedEnvNumberIgnored(t *testing.T) {
	t.Setenv("RETRY__MAX_ATTEMPTS", "plenty")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
}

func TestLoad_InvalidValuesRejected(t *testing.T) {
	t.Setenv("RETRY__MAX_ATTEMPTS", "0")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid gateway configuration")
}

func TestLoad_MaxDelayBelowBaseRejected(t *testing.T) {
	t.Setenv("RETRY__BASE_DELAY_MS", "2000")
	t.Setenv("RETRY__MAX_DELAY_MS", "100")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_delay_ms")
}

func TestAllowedCommand_ReturnsCanonicalCasing(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	canonical, ok := cfg.AllowedCommand("GET-MAILBOX")
	require.True(t, ok)
	assert.Equal(t, "Get-Mailbox", canonical)

	_, ok = cfg.AllowedCommand("Remove-Mailbox")
	assert.False(t, ok)
}

func TestIsFilteredHeader_CaseInsensitive(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.True(t, cfg.IsFilteredHeader("authorization"))
	assert.True(t, cfg.IsFilteredHeader("COOKIE"))
	assert.False(t, cfg.IsFilteredHeader("Accept"))
}

func TestDerivedDurations(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, int64(1000*1024), cfg.MaxBodyBytes())
	assert.Equal(t, 512*1024, cfg.MaxResponseBodyBytes())
	assert.Equal(t, 10*time.Second, cfg.PerAttemptTimeout())
	assert.Equal(t, 15*time.Second, cfg.OutboundTimeout())
}

// The outbound transport timeout never undercuts the attempt deadline.
func TestOutboundTimeout_FloorsAtPerAttemptTimeout(t *testing.T) {
	t.Setenv("HTTP__DEFAULT_TIMEOUT_SEC", "1")
	t.Setenv("RETRY__PER_ATTEMPT_TIMEOUT_MS", "30000")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.OutboundTimeout())
}
