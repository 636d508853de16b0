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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/jinterlante1206/AleutianRelay/services/gateway/config"
	"github.com/jinterlante1206/AleutianRelay/services/gateway/datatypes"
)

// maskedValue replaces sensitive query values in logged URLs.
const maskedValue = "***MASKED***"

// sensitiveQueryKeys are masked when the target URL is logged.
// The outbound request always carries the original values.
var sensitiveQueryKeys = map[string]bool{
	"api_key":  true,
	"apikey":   true,
	"token":    true,
	"secret":   true,
	"password": true,
	"pwd":      true,
}

// bodyMethods are the methods that carry the envelope body downstream.
var bodyMethods = map[string]bool{
	"POST":  true,
	"PUT":   true,
	"PATCH": true,
}

// HTTPExecutor forwards the envelope as an outbound HTTP call.
//
// A single long-lived client is shared across requests for connection
// reuse; the transport enables decompression and its timeout is never
// below the per-attempt deadline, so the attempt context decides when
// an attempt dies.
type HTTPExecutor struct {
	cfg    *config.GatewayConfig
	client *http.Client
}

// NewHTTPExecutor creates the forwarder with a shared outbound client.
func NewHTTPExecutor(cfg *config.GatewayConfig) *HTTPExecutor {
	return &HTTPExecutor{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.OutboundTimeout(),
		},
	}
}

// Name returns "http".
func (x *HTTPExecutor) Name() string {
	return "http"
}

// Execute forwards the envelope to the base URL from X-Forward-Base.
//
// Failure mapping: an unparseable base is a permanent InvalidUri, a
// cancelled attempt is a transient Timeout, any other transport error
// is a transient NetworkError, and downstream statuses classify via
// the configured transient set. Non-2xx results keep the downstream
// status, headers, and (possibly truncated) body.
func (x *HTTPExecutor) Execute(ctx context.Context, env *datatypes.RequestEnvelope) datatypes.ExecutionResult {
	base := strings.TrimSpace(env.Header(datatypes.HeaderForwardBase))
	if base == "" {
		return datatypes.Failure(datatypes.ErrCodeBadConfiguration,
			fmt.Sprintf("header %s is required for the http executor", datatypes.HeaderForwardBase), false)
	}

	baseURL, err := url.Parse(base)
	if err != nil || baseURL.Scheme == "" || baseURL.Host == "" {
		return datatypes.Failure(datatypes.ErrCodeInvalidURI,
			fmt.Sprintf("forward base %q is not an absolute URL", base), false)
	}

	target := buildTargetURL(baseURL, env)
	slog.Info("forwarding request",
		"request_id", env.RequestID,
		"method", env.Method,
		"target_url", MaskURL(target))

	var body io.Reader
	hasBody := bodyMethods[env.Method] && env.Body != ""
	if hasBody {
		body = strings.NewReader(env.Body)
	}

	req, err := http.NewRequestWithContext(ctx, env.Method, target.String(), body)
	if err != nil {
		return datatypes.Failure(datatypes.ErrCodeInvalidURI,
			fmt.Sprintf("failed to build the outbound request: %v", err), false)
	}

	forwardHeaders(req, env, x.cfg)
	if hasBody {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	resp, err := x.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return datatypes.Failure(datatypes.ErrCodeTimeout, "outbound call was cancelled", true)
		}
		if isMalformedURL(err) {
			return datatypes.Failure(datatypes.ErrCodeInvalidURI, err.Error(), false)
		}
		return datatypes.Failure(datatypes.ErrCodeNetworkError, err.Error(), true)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return datatypes.Failure(datatypes.ErrCodeTimeout, "outbound call was cancelled", true)
		}
		return datatypes.Failure(datatypes.ErrCodeNetworkError,
			fmt.Sprintf("failed to read the downstream body: %v", err), true)
	}

	text := TruncateBody(string(raw), x.cfg.MaxResponseBodyBytes())
	headers := flattenHeaders(resp.Header)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return datatypes.HTTPSuccess(resp.StatusCode, headers, text)
	}

	transient := x.cfg.IsTransientStatus(resp.StatusCode)
	msg := fmt.Sprintf("downstream returned status %d", resp.StatusCode)
	return datatypes.HTTPStatusFailure(resp.StatusCode, headers, text, msg, transient)
}

// buildTargetURL joins the base URL with the envelope path and merges
// query parameters, with envelope values winning on key collisions.
func buildTargetURL(base *url.URL, env *datatypes.RequestEnvelope) *url.URL {
	target := *base
	target.Path = strings.TrimRight(base.Path, "/") + "/" + strings.TrimLeft(env.Path, "/")

	merged := base.Query()
	if env.Query != nil {
		for key, value := range env.Query.Items() {
			merged.Set(key, value)
		}
	}
	target.RawQuery = merged.Encode()
	return &target
}

// forwardHeaders copies envelope headers onto the outbound request,
// dropping the configured deny list, Host, and any name with an X- or
// sec- prefix, all matched case-insensitively.
func forwardHeaders(req *http.Request, env *datatypes.RequestEnvelope, cfg *config.GatewayConfig) {
	if env.Headers == nil {
		return
	}
	for name, value := range env.Headers.Items() {
		lower := strings.ToLower(name)
		switch {
		case cfg.IsFilteredHeader(name):
		case strings.HasPrefix(lower, "x-"):
		case strings.HasPrefix(lower, "sec-"):
		case lower == "host":
		case lower == "content-length":
			// The transport recomputes it from the attached body.
		default:
			req.Header.Set(name, value)
		}
	}
}

// flattenHeaders collapses multi-valued headers with a ";" separator.
func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		out[name] = strings.Join(values, ";")
	}
	return out
}

// TruncateBody caps body at max bytes, appending a literal marker
// recording the original and truncated sizes.
func TruncateBody(body string, max int) string {
	if len(body) <= max {
		return body
	}
	return body[:max] + fmt.Sprintf("...[truncated from %d to %d bytes]", len(body), max)
}

// MaskURL renders the URL with sensitive query values replaced, for
// logging only.
func MaskURL(u *url.URL) string {
	masked := *u
	q := masked.Query()
	for key := range q {
		if sensitiveQueryKeys[strings.ToLower(key)] {
			q.Set(key, maskedValue)
		}
	}
	// Encode escapes '*', so the mask is put back in its literal form.
	masked.RawQuery = strings.ReplaceAll(q.Encode(), url.QueryEscape(maskedValue), maskedValue)
	return masked.String()
}

// isMalformedURL reports whether the transport error stems from URL
// parsing rather than the network.
func isMalformedURL(err error) bool {
	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		return false
	}
	_, parseErr := url.Parse(urlErr.URL)
	return parseErr != nil
}
