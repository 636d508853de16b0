// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command gateway starts the AleutianRelay gateway HTTP server.
//
// This is the main entry point for the containerized gateway service.
// It reads configuration from environment variables and a YAML config
// file, then serves until interrupted.
//
// # Environment Variables
//
//   - GATEWAY_PORT: HTTP server port (default: 8085)
//   - GATEWAY_CONFIG_PATH: YAML config file path (default:
//     ~/.aleutian/relay.yaml; created with defaults on first run)
//   - GATEWAY_LOG_LEVEL: debug, info, warn, error (default: info)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default:
//     aleutian-otel-collector:4317)
//
// Any config value can also be overridden directly, with a double
// underscore separating path segments, e.g. RETRY__MAX_ATTEMPTS=5.
//
// # Usage
//
//	# Build
//	go build -o gateway ./cmd/gateway
//
//	# Run
//	./gateway
package main

import (
	"log"

	"github.com/jinterlante1206/AleutianRelay/services/gateway"
)

func main() {
	if err := gateway.Run(); err != nil {
		log.Fatalf("Gateway error: %v", err)
	}
}
