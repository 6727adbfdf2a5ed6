package ui

import (
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Table is a go-pretty table with the CLI's styling.
type Table struct {
	w table.Writer
}

// NewTable creates a table with the given column titles.
func NewTable(columns ...string) *Table {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.Style().Options.SeparateRows = false
	t.Style().Options.DrawBorder = false
	t.Style().Format.Header = text.FormatUpper

	header := make(table.Row, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	t.AppendHeader(header)
	return &Table{w: t}
}

// Append adds a row.
func (t *Table) Append(cells ...any) {
	t.w.AppendRow(table.Row(cells))
}

// Footer sets the footer row.
func (t *Table) Footer(cells ...any) {
	t.w.AppendFooter(table.Row(cells))
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return t.w.Length()
}

// Render returns the table as a string.
func (t *Table) Render() string {
	return t.w.Render()
}

// WriteTo writes the table followed by a newline to w.
func (t *Table) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, t.w.Render()+"\n")
	return int64(n), err
}
