// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

// syncBuffer guards a bytes.Buffer for the spinner goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSpinner_PlainPrintsOnce(t *testing.T) {
	p, out, errOut := newTestPrinter(ModePlain)

	spin := p.Spinner("Downloading qwen3-4b")
	spin.Start()
	spin.Start()
	spin.Update("ignored in plain mode")
	spin.Stop()
	spin.Stop()

	if got := errOut.String(); got != "Downloading qwen3-4b...\n" {
		t.Errorf("stderr = %q", got)
	}
	if out.Len() != 0 {
		t.Errorf("stdout should be empty, got %q", out.String())
	}
}

func TestSpinner_RichDrawsAndClears(t *testing.T) {
	var errOut syncBuffer
	p := &Printer{Out: &bytes.Buffer{}, Err: &errOut, Mode: ModeRich}

	spin := p.Spinner("Waiting for health")
	spin.Start()
	time.Sleep(3 * spinnerInterval)
	spin.Update("Still waiting")
	time.Sleep(3 * spinnerInterval)
	spin.Stop()

	got := errOut.String()
	if !strings.Contains(got, "Waiting for health") {
		t.Errorf("first message never drawn: %q", got)
	}
	if !strings.Contains(got, "Still waiting") {
		t.Errorf("updated message never drawn: %q", got)
	}
	if !strings.HasSuffix(got, "\r\033[K") {
		t.Errorf("line not cleared on stop: %q", got)
	}

	// Restartable after Stop.
	spin.Start()
	spin.Stop()
}

func TestSpinner_StopWithoutStart(t *testing.T) {
	p, _, errOut := newTestPrinter(ModeRich)
	p.Spinner("never started").Stop()
	if errOut.Len() != 0 {
		t.Errorf("unexpected output %q", errOut.String())
	}
}

func TestWithSpinner_ReturnsError(t *testing.T) {
	p, _, _ := newTestPrinter(ModePlain)
	want := "boom"
	err := p.WithSpinner("step", func() error { return errString(want) })
	if err == nil || err.Error() != want {
		t.Errorf("WithSpinner() = %v, want %q", err, want)
	}
	if err := p.WithSpinner("step", func() error { return nil }); err != nil {
		t.Errorf("WithSpinner() = %v, want nil", err)
	}
}

type errString string

func (e errString) Error() string { return string(e) }
