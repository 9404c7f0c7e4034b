package style

import (
	"regexp"
	"strings"
)

// Alignment controls horizontal placement of cell text.
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
	AlignCenter
)

// Column describes one fixed-width table column.
type Column struct {
	Name  string
	Width int
	Align Alignment
}

// Table renders columnar output for list commands.
type Table struct {
	columns   []Column
	rows      [][]string
	headerSep bool
	indent    string
}

// NewTable creates a table with the given columns.
func NewTable(columns ...Column) *Table {
	return &Table{
		columns:   columns,
		headerSep: true,
		indent:    "  ",
	}
}

// SetIndent sets the prefix prepended to every rendered line.
func (t *Table) SetIndent(indent string) *Table {
	t.indent = indent
	return t
}

// SetHeaderSeparator toggles the rule between header and rows.
func (t *Table) SetHeaderSeparator(on bool) *Table {
	t.headerSep = on
	return t
}

// AddRow appends a row. Missing cells pad with empty strings; extras
// beyond the column count are dropped.
func (t *Table) AddRow(cells ...string) *Table {
	row := make([]string, len(t.columns))
	copy(row, cells)
	t.rows = append(t.rows, row)
	return t
}

// Render produces the table as a newline-terminated string.
func (t *Table) Render() string {
	if len(t.columns) == 0 {
		return ""
	}

	var b strings.Builder

	header := make([]string, 0, len(t.columns))
	for _, col := range t.columns {
		header = append(header, t.pad(Header.Render(col.Name), col.Name, col.Width, col.Align))
	}
	b.WriteString(t.indent + strings.Join(header, "  ") + "\n")

	if t.headerSep {
		total := 2 * (len(t.columns) - 1)
		for _, col := range t.columns {
			total += col.Width
		}
		b.WriteString(t.indent + Dim.Render(strings.Repeat("─", total)) + "\n")
	}

	for _, row := range t.rows {
		cells := make([]string, 0, len(t.columns))
		for i, col := range t.columns {
			text := row[i]
			plain := stripAnsi(text)
			if len(plain) > col.Width {
				cut := col.Width - 3
				if cut < 1 {
					cut = 1
				}
				text = plain[:cut] + "..."
				plain = text
			}
			cells = append(cells, t.pad(text, plain, col.Width, col.Align))
		}
		b.WriteString(t.indent + strings.Join(cells, "  ") + "\n")
	}

	return b.String()
}

// pad aligns styled text within width, measuring the plain
// (ANSI-stripped) form. Text at or over width is returned untouched.
func (t *Table) pad(styled, plain string, width int, align Alignment) string {
	padding := width - len(plain)
	if padding <= 0 {
		return styled
	}
	switch align {
	case AlignRight:
		return strings.Repeat(" ", padding) + styled
	case AlignCenter:
		left := padding / 2
		return strings.Repeat(" ", left) + styled + strings.Repeat(" ", padding-left)
	default:
		return styled + strings.Repeat(" ", padding)
	}
}

var sgrPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// stripAnsi removes SGR sequences for width measurement.
func stripAnsi(s string) string {
	return sgrPattern.ReplaceAllString(s, "")
}
