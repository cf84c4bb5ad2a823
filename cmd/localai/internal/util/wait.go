// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package util holds the waiting and retry primitives shared by the
// downloader and the health prober.
package util

import (
	"context"
	"time"
)

// =============================================================================
// WAITING
// =============================================================================

// Wait blocks for d or until ctx is done.
//
// # Description
//
// Every retry delay and backoff pause goes through Wait so that a cancelled
// context (Ctrl-C, parent deadline) ends the wait immediately.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - d: Duration to wait. Zero or negative returns at once.
//
// # Outputs
//
//   - error: nil after the full duration, ctx.Err() if cancelled first.
//
// # Examples
//
//	if err := util.Wait(ctx, time.Second); err != nil {
//	    return err
//	}
func Wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
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

// WaitFunc has the signature of Wait. Components hold one so tests can swap
// in a recorder that advances a fake clock instead of sleeping.
type WaitFunc func(ctx context.Context, d time.Duration) error

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// =============================================================================
// BACKOFF
// =============================================================================

// Backoff describes an exponential delay schedule.
type Backoff struct {
	// Initial is the first delay.
	Initial time.Duration

	// Multiplier grows the delay after each use. Values <= 1 keep it flat.
	Multiplier float64

	// Max caps the delay. Zero means no cap.
	Max time.Duration
}

// Next returns the delay that follows current.
//
// # Examples
//
//	b := util.Backoff{Initial: 500 * time.Millisecond, Multiplier: 1.5, Max: 10 * time.Second}
//	b.Next(500 * time.Millisecond) // 750ms
//	b.Next(8 * time.Second)        // 10s
func (b Backoff) Next(current time.Duration) time.Duration {
	next := current
	if b.Multiplier > 1 {
		next = time.Duration(float64(current) * b.Multiplier)
	}
	if b.Max > 0 && next > b.Max {
		return b.Max
	}
	return next
}

// CapToDeadline shortens d so that a wait starting at now ends no later
// than deadline. A deadline already passed yields zero.
func CapToDeadline(d time.Duration, now, deadline time.Time) time.Duration {
	remaining := deadline.Sub(now)
	if remaining <= 0 {
		return 0
	}
	if d > remaining {
		return remaining
	}
	return d
}

// =============================================================================
// ATTEMPT STATE
// =============================================================================

// AttemptState is the lifecycle of a bounded retry or probe loop.
//
//	Idle -> Attempting -> Success
//	                   -> Retrying -> Attempting
//	                   -> ExhaustedOrTimedOut
type AttemptState int

const (
	StateIdle AttemptState = iota
	StateAttempting
	StateRetrying
	StateSuccess
	StateExhaustedOrTimedOut
)

// String returns the lowercase name used in log attributes.
func (s AttemptState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAttempting:
		return "attempting"
	case StateRetrying:
		return "retrying"
	case StateSuccess:
		return "success"
	case StateExhaustedOrTimedOut:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s AttemptState) Terminal() bool {
	return s == StateSuccess || s == StateExhaustedOrTimedOut
}
