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
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Table prints rows under headers on Out.
//
// # Description
//
// Rich mode pads columns to the widest cell (measured with lipgloss so
// styled cells align) and renders the header row in the accent color.
// Plain mode writes tab-separated lines with the header first, so the
// output pipes cleanly into cut or awk.
//
// # Limitations
//
//   - Short rows are padded with empty cells; extra cells are dropped
func (p *Printer) Table(headers []string, rows [][]string) {
	cols := len(headers)
	norm := make([][]string, len(rows))
	for i, row := range rows {
		cells := make([]string, cols)
		copy(cells, row)
		norm[i] = cells
	}

	if p.Plain() {
		fmt.Fprintln(p.Out, strings.Join(headers, "\t"))
		for _, row := range norm {
			fmt.Fprintln(p.Out, strings.Join(row, "\t"))
		}
		return
	}

	widths := make([]int, cols)
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range norm {
		for i, cell := range row {
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	line := func(cells []string, style *lipgloss.Style) string {
		parts := make([]string, cols)
		for i, cell := range cells {
			if style != nil {
				cell = style.Render(cell)
			}
			parts[i] = cell + strings.Repeat(" ", widths[i]-lipgloss.Width(cell))
		}
		return strings.TrimRight(strings.Join(parts, "  "), " ")
	}

	header := Styles.TableHeader
	fmt.Fprintln(p.Out, line(headers, &header))
	for _, row := range norm {
		fmt.Fprintln(p.Out, line(row, nil))
	}
}
