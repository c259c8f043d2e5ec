package cli

import (
	"bufio"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
)

const (
	tablePadding  = 2
	maxCellWidth  = 48
	truncateGlyph = "…"
)

// table renders aligned columns for terminal output. Widths are measured in
// display cells so phone flags and accented names line up.
type table struct {
	headers []string
	rows    [][]string
}

func newTable(headers ...string) *table {
	return &table{headers: headers}
}

func (t *table) add(cells ...string) {
	row := make([]string, len(cells))
	for i, cell := range cells {
		row[i] = runewidth.Truncate(strings.ReplaceAll(cell, "\n", " "), maxCellWidth, truncateGlyph)
	}
	t.rows = append(t.rows, row)
}

func (t *table) widths() []int {
	cols := len(t.headers)
	for _, row := range t.rows {
		cols = max(cols, len(row))
	}
	widths := make([]int, cols)
	measure := func(row []string) {
		for i, cell := range row {
			widths[i] = max(widths[i], runewidth.StringWidth(stripANSI(cell)))
		}
	}
	measure(t.headers)
	for _, row := range t.rows {
		measure(row)
	}
	return widths
}

func (t *table) render(out io.Writer) error {
	widths := t.widths()
	if len(widths) == 0 {
		return nil
	}
	w := bufio.NewWriter(out)
	line := func(row []string) {
		var b strings.Builder
		for i := range widths {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			b.WriteString(cell)
			if i < len(widths)-1 {
				pad := widths[i] - runewidth.StringWidth(stripANSI(cell))
				b.WriteString(strings.Repeat(" ", max(pad, 0)+tablePadding))
			}
		}
		// No trailing spaces when the last columns are empty.
		_, _ = w.WriteString(strings.TrimRight(b.String(), " "))
		_ = w.WriteByte('\n')
	}
	if len(t.headers) > 0 {
		line(t.headers)
	}
	for _, row := range t.rows {
		line(row)
	}
	return w.Flush()
}

func stripANSI(value string) string {
	if !strings.Contains(value, "\x1b[") {
		return value
	}
	var b strings.Builder
	b.Grow(len(value))
	for i := 0; i < len(value); i++ {
		if value[i] != 0x1b || i+1 >= len(value) || value[i+1] != '[' {
			b.WriteByte(value[i])
			continue
		}
		i += 2
		for i < len(value) && (value[i] < 0x40 || value[i] > 0x7e) {
			i++
		}
	}
	return b.String()
}
