package pipeline

import (
	"fmt"

	"github.com/paladugusuresh/graphrag/internal/graphrag/types"
)

const (
	FormatText  = "text"
	FormatTable = "table"
	FormatGraph = "graph"
)

// NormalizeFormat defaults an empty format to text and reports whether the
// value is one of the accepted renderings.
func NormalizeFormat(format string) (string, bool) {
	switch format {
	case "":
		return FormatText, true
	case FormatText, FormatTable, FormatGraph:
		return format, true
	default:
		return "", false
	}
}

// Table is the row-oriented rendering of a result set. Header order follows
// the first row's columns.
type Table struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

func tableOf(rows []types.ResultRow) *Table {
	if len(rows) == 0 {
		return &Table{}
	}
	t := &Table{Columns: rows[0].Columns}
	for _, row := range rows {
		cells := make([]string, len(t.Columns))
		for i := range t.Columns {
			if i < len(row.Values) {
				cells[i] = fmt.Sprintf("%v", row.Values[i])
			}
		}
		t.Rows = append(t.Rows, cells)
	}
	return t
}
