// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides terminal output styling for the localai CLI.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Palette, deep ocean teals plus the usual semantic colors.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles are the pre-configured lipgloss styles.
var Styles = struct {
	Title   lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style

	Box        lipgloss.Style
	WarningBox lipgloss.Style
	ErrorBox   lipgloss.Style

	TableHeader lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Bold:    lipgloss.NewStyle().Bold(true),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),

	TableHeader: lipgloss.NewStyle().Bold(true).Foreground(ColorTealPrimary),
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
)

// Render returns the icon in its semantic color.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// Mode selects between styled and plain output.
type Mode int

const (
	// ModeRich renders colors, icons and boxes.
	ModeRich Mode = iota

	// ModePlain renders prefix-tagged lines for scripts and pipes.
	ModePlain
)

// DetectMode returns ModeRich when f is a terminal (Cygwin terminals
// included) and ModePlain otherwise.
func DetectMode(f *os.File) Mode {
	if f == nil {
		return ModePlain
	}
	fd := f.Fd()
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		return ModeRich
	}
	return ModePlain
}

// Printer writes user-facing output. Results go to Out, problems to Err.
//
// # Description
//
// In ModePlain every line carries a stable prefix ("OK:", "WARN:",
// "ERROR:") so scripts can grep it, and boxes collapse to one line.
//
// # Thread Safety
//
// Not synchronized. The CLI prints from one goroutine.
type Printer struct {
	Out  io.Writer
	Err  io.Writer
	Mode Mode
}

// NewPrinter creates a Printer on stdout and stderr, plain unless stdout is
// a terminal.
func NewPrinter() *Printer {
	return &Printer{Out: os.Stdout, Err: os.Stderr, Mode: DetectMode(os.Stdout)}
}

// Plain reports whether p renders without styling.
func (p *Printer) Plain() bool {
	return p.Mode == ModePlain
}

// Title prints a styled heading. Plain mode prints nothing.
func (p *Printer) Title(text string) {
	if p.Plain() {
		return
	}
	fmt.Fprintln(p.Out, Styles.Title.Render(text))
}

// Success prints a line with a checkmark.
func (p *Printer) Success(text string) {
	if p.Plain() {
		fmt.Fprintf(p.Out, "OK: %s\n", text)
		return
	}
	fmt.Fprintf(p.Out, "%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
}

// Info prints a neutral line.
func (p *Printer) Info(text string) {
	if p.Plain() {
		fmt.Fprintln(p.Out, text)
		return
	}
	fmt.Fprintf(p.Out, "%s %s\n", Styles.Muted.Render("│"), text)
}

// Warning prints to Err.
func (p *Printer) Warning(text string) {
	if p.Plain() {
		fmt.Fprintf(p.Err, "WARN: %s\n", text)
		return
	}
	fmt.Fprintf(p.Err, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
}

// Error prints to Err.
func (p *Printer) Error(text string) {
	if p.Plain() {
		fmt.Fprintf(p.Err, "ERROR: %s\n", text)
		return
	}
	fmt.Fprintf(p.Err, "%s %s\n", IconError.Render(), Styles.Error.Render(text))
}

// Box prints content under a title in a rounded box on Out.
func (p *Printer) Box(title, content string) {
	if p.Plain() {
		fmt.Fprintf(p.Out, "%s: %s\n", title, oneLine(content))
		return
	}
	fmt.Fprintln(p.Out, Styles.Box.Width(boxWidth).Render(Styles.Title.Render(title)+"\n"+content))
}

// WarningBox prints a prominent amber box on Err. Used for configuration
// failures that stop the CLI before any work.
func (p *Printer) WarningBox(title, content string) {
	if p.Plain() {
		fmt.Fprintf(p.Err, "WARN %s: %s\n", title, oneLine(content))
		return
	}
	heading := Styles.Warning.Bold(true).Render(string(IconWarning) + " " + title)
	fmt.Fprintln(p.Err, Styles.WarningBox.Width(boxWidth).Render(heading+"\n"+content))
}

// ErrorBox prints a red box on Err.
func (p *Printer) ErrorBox(title, content string) {
	if p.Plain() {
		fmt.Fprintf(p.Err, "ERROR %s: %s\n", title, oneLine(content))
		return
	}
	heading := Styles.Error.Bold(true).Render(string(IconError) + " " + title)
	fmt.Fprintln(p.Err, Styles.ErrorBox.Width(boxWidth).Render(heading+"\n"+content))
}

const boxWidth = 72

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
