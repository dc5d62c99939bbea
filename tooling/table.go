package main

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

type alignment int

const (
	alignLeft alignment = iota
	alignRight
	alignCenter
)

type column struct {
	header string
	width  int
	align  alignment
}

// table prints box-drawn rows with fixed column widths. Cell values longer
// than their column are truncated with an ellipsis.
type table struct {
	out     io.Writer
	title   string
	columns []column
}

func newTable(out io.Writer, title string) *table {
	return &table{out: out, title: title}
}

func (t *table) addColumn(header string, width int, align alignment) *table {
	t.columns = append(t.columns, column{header: header, width: width, align: align})
	return t
}

func (t *table) border(left, mid, right string) {
	var b strings.Builder
	b.WriteString(left)
	for i, col := range t.columns {
		if i > 0 {
			b.WriteString(mid)
		}
		b.WriteString(strings.Repeat("─", col.width))
	}
	b.WriteString(right)
	fmt.Fprintln(t.out, b.String())
}

func (t *table) printHeader() {
	if t.title != "" {
		fmt.Fprintf(t.out, "%s:\n", t.title)
	}
	t.border("┌", "┬", "┐")
	headers := make([]interface{}, len(t.columns))
	for i, col := range t.columns {
		headers[i] = col.header
	}
	t.row(headers, true)
	t.border("├", "┼", "┤")
}

func (t *table) printRow(values ...interface{}) {
	if len(values) != len(t.columns) {
		return
	}
	t.row(values, false)
}

func (t *table) row(values []interface{}, header bool) {
	var b strings.Builder
	b.WriteString("│")
	for i, col := range t.columns {
		if i > 0 {
			b.WriteString("│")
		}
		align := col.align
		if header {
			align = alignLeft
		}
		b.WriteString(" ")
		b.WriteString(pad(truncate(fmt.Sprintf("%v", values[i]), col.width-1), col.width-1, align))
	}
	b.WriteString("│")
	fmt.Fprintln(t.out, b.String())
}

func (t *table) printEmptyRow(message string) {
	inner := -1
	for _, col := range t.columns {
		inner += col.width + 1
	}
	fmt.Fprintln(t.out, "│"+pad(truncate(message, inner), inner, alignCenter)+"│")
}

func (t *table) printFooter() {
	t.border("└", "┴", "┘")
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	if max <= 3 {
		return string([]rune(s)[:max])
	}
	return string([]rune(s)[:max-3]) + "..."
}

func pad(s string, width int, align alignment) string {
	gap := width - utf8.RuneCountInString(s)
	if gap <= 0 {
		return s
	}
	switch align {
	case alignRight:
		return strings.Repeat(" ", gap) + s
	case alignCenter:
		left := gap / 2
		return strings.Repeat(" ", left) + s + strings.Repeat(" ", gap-left)
	default:
		return s + strings.Repeat(" ", gap)
	}
}
