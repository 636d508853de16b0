// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the gateway configuration.
//
// Configuration is read from a YAML file and then overridden by
// environment variables, where a double underscore separates path
// segments: RETRY__MAX_ATTEMPTS overrides retry.max_attempts. List
// values are comma-separated in the environment. The loaded config is
// validated once and is read-only afterwards.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ServiceConfig identifies the gateway instance and bounds inbound bodies.
type ServiceConfig struct {
	InstanceID       string `yaml:"instance_id" validate:"required"`
	MaxRequestBodyKB int    `yaml:"max_request_body_kb" validate:"gt=0"`
}

// RetryConfig drives the attempt loop.
type RetryConfig struct {
	MaxAttempts          int     `yaml:"max_attempts" validate:"gte=1"`
	BaseDelayMS          int     `yaml:"base_delay_ms" validate:"gt=0"`
	MaxDelayMS           int     `yaml:"max_delay_ms" validate:"gt=0"`
	JitterFraction       float64 `yaml:"jitter_fraction" validate:"gte=0,lte=1"`
	PerAttemptTimeoutMS  int     `yaml:"per_attempt_timeout_ms" validate:"gt=0"`
	TransientStatusCodes []int   `yaml:"transient_status_codes" validate:"required,min=1"`
}

// HTTPConfig bounds the outbound forwarder.
type HTTPConfig struct {
	MaxResponseBodyKB int      `yaml:"max_response_body_kb" validate:"gt=0"`
	DefaultTimeoutSec int      `yaml:"default_timeout_sec" validate:"gt=0"`
	FilteredHeaders   []string `yaml:"filtered_headers"`
}

// ShellConfig gates the simulated shell executor.
type ShellConfig struct {
	AllowedCommands []string `yaml:"allowed_commands" validate:"required,min=1"`
}

// GatewayConfig is the root configuration document.
type GatewayConfig struct {
	Service ServiceConfig `yaml:"service"`
	Retry   RetryConfig   `yaml:"retry"`
	HTTP    HTTPConfig    `yaml:"http"`
	Shell   ShellConfig   `yaml:"shell"`

	// Derived lookup sets, built once by finalize.
	transientStatuses map[int]bool
	filteredHeaders   map[string]bool
	allowedCommands   map[string]string
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() GatewayConfig {
	return GatewayConfig{
		Service: ServiceConfig{
			InstanceID:       "remote-executor-01",
			MaxRequestBodyKB: 1000,
		},
		Retry: RetryConfig{
			MaxAttempts:          3,
			BaseDelayMS:          200,
			MaxDelayMS:           5000,
			JitterFraction:       0.25,
			PerAttemptTimeoutMS:  10000,
			TransientStatusCodes: []int{408, 429, 500, 502, 503, 504},
		},
		HTTP: HTTPConfig{
			MaxResponseBodyKB: 512,
			DefaultTimeoutSec: 15,
			FilteredHeaders:   []string{"Authorization", "Proxy-Authorization", "Cookie"},
		},
		Shell: ShellConfig{
			AllowedCommands: []string{"Get-Mailbox", "Get-User", "Get-DistributionGroup"},
		},
	}
}

// Load reads the config file at path (creating it with defaults on
// first run when path is non-empty), applies environment overrides,
// validates, and returns the finalized read-only config.
//
// An empty path skips the file layer entirely; defaults plus the
// environment still apply.
func Load(path string) (*GatewayConfig, error) {
	cfg := DefaultConfig()

	if path != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := writeDefault(path, cfg); err != nil {
				return nil, err
			}
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read the config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse the config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid gateway configuration: %w", err)
	}
	if cfg.Retry.MaxDelayMS < cfg.Retry.BaseDelayMS {
		return nil, fmt.Errorf("invalid gateway configuration: retry.max_delay_ms %d below retry.base_delay_ms %d",
			cfg.Retry.MaxDelayMS, cfg.Retry.BaseDelayMS)
	}

	cfg.finalize()
	return &cfg, nil
}

func writeDefault(path string, cfg GatewayConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnvOverrides layers environment values over the file/defaults.
// Malformed numeric values are ignored so a bad override cannot take
// the gateway down with a silently wrong zero.
func applyEnvOverrides(cfg *GatewayConfig) {
	envString("SERVICE__INSTANCE_ID", &cfg.Service.InstanceID)
	envInt("SERVICE__MAX_REQUEST_BODY_KB", &cfg.Service.MaxRequestBodyKB)

	envInt("RETRY__MAX_ATTEMPTS", &cfg.Retry.MaxAttempts)
	envInt("RETRY__BASE_DELAY_MS", &cfg.Retry.BaseDelayMS)
	envInt("RETRY__MAX_DELAY_MS", &cfg.Retry.MaxDelayMS)
	envFloat("RETRY__JITTER_FRACTION", &cfg.Retry.JitterFraction)
	envInt("RETRY__PER_ATTEMPT_TIMEOUT_MS", &cfg.Retry.PerAttemptTimeoutMS)
	envIntList("RETRY__TRANSIENT_STATUS_CODES", &cfg.Retry.TransientStatusCodes)

	envInt("HTTP__MAX_RESPONSE_BODY_KB", &cfg.HTTP.MaxResponseBodyKB)
	envInt("HTTP__DEFAULT_TIMEOUT_SEC", &cfg.HTTP.DefaultTimeoutSec)
	envStringList("HTTP__FILTERED_HEADERS", &cfg.HTTP.FilteredHeaders)

	envStringList("SHELL__ALLOWED_COMMANDS", &cfg.Shell.AllowedCommands)
}

func envString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envStringList(key string, dst *[]string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			*dst = out
		}
	}
}

func envIntList(key string, dst *[]int) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		parts := strings.Split(v, ",")
		out := make([]int, 0, len(parts))
		for _, p := range parts {
			if n, err := strconv.Atoi(strings.TrimSpace(p)); err == nil {
				out = append(out, n)
			}
		}
		if len(out) > 0 {
			*dst = out
		}
	}
}

func (c *GatewayConfig) finalize() {
	c.transientStatuses = make(map[int]bool, len(c.Retry.TransientStatusCodes))
	for _, code := range c.Retry.TransientStatusCodes {
		c.transientStatuses[code] = true
	}
	c.filteredHeaders = make(map[string]bool, len(c.HTTP.FilteredHeaders))
	for _, name := range c.HTTP.FilteredHeaders {
		c.filteredHeaders[strings.ToLower(name)] = true
	}
	c.allowedCommands = make(map[string]string, len(c.Shell.AllowedCommands))
	for _, cmd := range c.Shell.AllowedCommands {
		c.allowedCommands[strings.ToLower(cmd)] = cmd
	}
}

// MaxBodyBytes is the inbound body cap in bytes.
func (c *GatewayConfig) MaxBodyBytes() int64 {
	return int64(c.Service.MaxRequestBodyKB) * 1024
}

// MaxResponseBodyBytes is the outbound response body cap in bytes.
func (c *GatewayConfig) MaxResponseBodyBytes() int {
	return c.HTTP.MaxResponseBodyKB * 1024
}

// PerAttemptTimeout is the deadline applied to each executor attempt.
func (c *GatewayConfig) PerAttemptTimeout() time.Duration {
	return time.Duration(c.Retry.PerAttemptTimeoutMS) * time.Millisecond
}

// OutboundTimeout is the transport-level timeout for the shared HTTP
// client. It is never below the per-attempt timeout so the attempt
// deadline, not the transport, decides when an attempt dies.
func (c *GatewayConfig) OutboundTimeout() time.Duration {
	t := time.Duration(c.HTTP.DefaultTimeoutSec) * time.Second
	if t < c.PerAttemptTimeout() {
		return c.PerAttemptTimeout()
	}
	return t
}

// IsTransientStatus reports whether the downstream status code is
// classified transient.
func (c *GatewayConfig) IsTransientStatus(code int) bool {
	return c.transientStatuses[code]
}

// IsFilteredHeader reports whether the header name is on the outbound
// deny list, matching case-insensitively.
func (c *GatewayConfig) IsFilteredHeader(name string) bool {
	return c.filteredHeaders[strings.ToLower(name)]
}

// AllowedCommand resolves a command against the allowlist, matching
// case-insensitively, and returns the canonical command name.
func (c *GatewayConfig) AllowedCommand(cmd string) (string, bool) {
	canonical, ok := c.allowedCommands[strings.ToLower(cmd)]
	return canonical, ok
}
