// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package executors holds the named strategies the dispatch pipeline
// wraps with retries: the HTTP forwarder and the simulated remote
// shell. Executors never return errors; every recognized failure mode
// becomes an ExecutionResult value.
package executors

import (
	"context"
	"strings"

	"github.com/jinterlante1206/AleutianRelay/services/gateway/datatypes"
)

// Executor turns a request envelope into an execution result.
//
// Implementations must be safe for concurrent use, must not panic, and
// must honor ctx by returning a transient Timeout result promptly.
// StartedAt/CompletedAt may be left zero; the retry engine stamps them.
type Executor interface {
	// Name is the stable lowercase tag used for selection and labels.
	Name() string

	// Execute performs one attempt against the envelope.
	Execute(ctx context.Context, env *datatypes.RequestEnvelope) datatypes.ExecutionResult
}

// Registry is the case-insensitive set of executors, populated at boot
// and read-only afterwards.
type Registry struct {
	byName map[string]Executor
}

// NewRegistry creates a Registry holding the given executors.
func NewRegistry(execs ...Executor) *Registry {
	r := &Registry{byName: make(map[string]Executor, len(execs))}
	for _, e := range execs {
		r.byName[strings.ToLower(e.Name())] = e
	}
	return r
}

// Lookup resolves an executor by name, matching case-insensitively.
func (r *Registry) Lookup(name string) (Executor, bool) {
	e, ok := r.byName[strings.ToLower(name)]
	return e, ok
}

// Names returns the registered executor names.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	return out
}
