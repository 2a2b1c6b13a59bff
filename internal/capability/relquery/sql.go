package relquery

import (
	"fmt"
	"strings"
)

// statementKind classifies the generated SQL: read queries return rows,
// write statements report affected rows.
type statementKind int

const (
	kindQuery statementKind = iota
	kindExec
)

// stripFences removes markdown code fences and a trailing semicolon
// from model output. Models regularly wrap SQL in ```sql blocks even
// when told not to.
func stripFences(sql string) string {
	out := strings.TrimSpace(sql)
	if i := strings.Index(out, "```sql"); i >= 0 {
		out = out[i+len("```sql"):]
		if j := strings.Index(out, "```"); j >= 0 {
			out = out[:j]
		}
	} else if i := strings.Index(out, "```"); i >= 0 {
		out = out[i+len("```"):]
		if j := strings.Index(out, "```"); j >= 0 {
			out = out[:j]
		}
	}
	out = strings.TrimSpace(out)
	out = strings.TrimSuffix(out, ";")
	return strings.TrimSpace(out)
}

// classifyStatement decides how to run the statement from its leading
// keyword. Anything outside the allowed set is rejected.
func classifyStatement(sql string) (statementKind, error) {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty statement")
	}
	switch strings.ToUpper(fields[0]) {
	case "SELECT", "WITH":
		return kindQuery, nil
	case "INSERT", "UPDATE", "DELETE", "CREATE", "DROP", "ALTER":
		return kindExec, nil
	default:
		return 0, fmt.Errorf("unsupported statement: %s", fields[0])
	}
}

// renderTable renders rows as an aligned text table.
func renderTable(columns []string, rows [][]string) string {
	widths := make([]int, len(columns))
	for i, col := range columns {
		widths[i] = len(col)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var b strings.Builder
	writeRow := func(cells []string) {
		for i, cell := range cells {
			if i > 0 {
				b.WriteString(" | ")
			}
			b.WriteString(cell)
			if i < len(cells)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-len(cell)))
			}
		}
		b.WriteString("\n")
	}

	writeRow(columns)
	for i, w := range widths {
		if i > 0 {
			b.WriteString("-+-")
		}
		b.WriteString(strings.Repeat("-", w))
	}
	b.WriteString("\n")
	for _, row := range rows {
		writeRow(row)
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderSchema renders introspected columns grouped per table for the
// generation prompt.
func renderSchema(tables []tableSchema) string {
	var b strings.Builder
	for i, table := range tables {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Table: %s\nColumns: ", table.Name)
		for j, col := range table.Columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s (%s)", col.Name, col.Type)
		}
		b.WriteString("\n")
	}
	return b.String()
}

type tableSchema struct {
	Name    string
	Columns []columnSchema
}

type columnSchema struct {
	Name string
	Type string
}
