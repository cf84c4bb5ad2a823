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
	"fmt"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

const spinnerInterval = 80 * time.Millisecond

// Spinner shows that a long step is running.
//
// # Description
//
// In rich mode the spinner redraws one line on the printer's Err writer
// until Stop. In plain mode it prints "message..." once and Stop prints
// nothing, so logs and piped output stay line oriented.
//
// # Example
//
//	spin := p.Spinner("Downloading qwen3-4b")
//	spin.Start()
//	out, err := dl.Fetch(ctx, "qwen3-4b", 3)
//	spin.Stop()
//
// # Thread Safety
//
// Start, Stop and Update may be called from any goroutine. Stop is
// idempotent.
type Spinner struct {
	p *Printer

	mu       sync.Mutex
	message  string
	running  bool
	stop     chan struct{}
	done     chan struct{}
	frameIdx int
}

// Spinner returns a stopped spinner writing to p.Err.
func (p *Printer) Spinner(message string) *Spinner {
	return &Spinner{p: p, message: message}
}

// Start begins drawing. Calling Start on a running spinner does nothing.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	if s.p.Plain() {
		fmt.Fprintf(s.p.Err, "%s...\n", s.message)
		return
	}

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(s.stop, s.done)
}

func (s *Spinner) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(spinnerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			fmt.Fprint(s.p.Err, "\r\033[K")
			return
		case <-ticker.C:
			s.mu.Lock()
			frame := Styles.Title.Render(spinnerFrames[s.frameIdx])
			s.frameIdx = (s.frameIdx + 1) % len(spinnerFrames)
			msg := s.message
			s.mu.Unlock()
			fmt.Fprintf(s.p.Err, "\r\033[K%s %s", frame, msg)
		}
	}
}

// Update replaces the message shown on the next frame.
func (s *Spinner) Update(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

// Stop clears the spinner line and waits for the drawing goroutine.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// WithSpinner runs fn while a spinner shows message.
func (p *Printer) WithSpinner(message string, fn func() error) error {
	spin := p.Spinner(message)
	spin.Start()
	defer spin.Stop()
	return fn()
}
