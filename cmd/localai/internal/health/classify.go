// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

// Classification is the result category of a single probe.
type Classification int

const (
	// Unprobed means no probe has completed yet.
	Unprobed Classification = iota
	ConnectionRefused
	RequestTimeout
	OtherRequestError
	HTTPStatusNon200
	MalformedBody
	Healthy
)

// String returns the label used in logs and metrics.
func (c Classification) String() string {
	switch c {
	case Unprobed:
		return "unprobed"
	case ConnectionRefused:
		return "connection_refused"
	case RequestTimeout:
		return "request_timeout"
	case OtherRequestError:
		return "request_error"
	case HTTPStatusNon200:
		return "http_status"
	case MalformedBody:
		return "malformed_body"
	case Healthy:
		return "healthy"
	default:
		return "unknown"
	}
}

// maxErrorMessage bounds OtherRequestError messages.
const maxErrorMessage = 100

// maxBody bounds how much of a health response is read.
const maxBody = 64 * 1024

// ProbeResult is one classified probe.
type ProbeResult struct {
	Class      Classification
	Message    string
	StatusCode int
}

// classifyTransportError maps a client error to a classification.
func classifyTransportError(err error) ProbeResult {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return ProbeResult{Class: RequestTimeout, Message: "Request timeout"}
	case isConnectionError(err):
		return ProbeResult{Class: ConnectionRefused, Message: "Connection refused"}
	default:
		return ProbeResult{Class: OtherRequestError, Message: truncate(err.Error(), maxErrorMessage)}
	}
}

// isConnectionError reports failures to establish or keep a connection.
func isConnectionError(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// classifyResponse inspects status and body. The body is consumed.
func classifyResponse(resp *http.Response) ProbeResult {
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return ProbeResult{
			Class:      HTTPStatusNon200,
			Message:    fmt.Sprintf("HTTP %d", resp.StatusCode),
			StatusCode: resp.StatusCode,
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return ProbeResult{Class: OtherRequestError, Message: truncate(err.Error(), maxErrorMessage), StatusCode: resp.StatusCode}
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ProbeResult{Class: MalformedBody, Message: "response is not JSON", StatusCode: resp.StatusCode}
	}
	if body.Status != "ok" {
		return ProbeResult{
			Class:      MalformedBody,
			Message:    fmt.Sprintf("status is %q, want \"ok\"", body.Status),
			StatusCode: resp.StatusCode,
		}
	}
	return ProbeResult{Class: Healthy, StatusCode: resp.StatusCode}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
