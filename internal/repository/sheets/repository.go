package sheets

import (
	"context"
	"fmt"
)

// Repository defines the whole-table and single-row operations the backing store offers.
// Row and column numbers are 1-based; row 1 holds the header.
type Repository interface {
	ListRows(ctx context.Context, table string) (Table, error)
	AppendRow(ctx context.Context, table string, values []interface{}) error
	AppendRows(ctx context.Context, table string, rows [][]interface{}) error
	UpdateCell(ctx context.Context, table string, row, col int, value interface{}) error
	UpdateCells(ctx context.Context, table string, row, firstCol int, values []interface{}) error
	ColumnValues(ctx context.Context, table string, col int) ([]string, error)
}

// Row is one data row with its sheet row number.
type Row struct {
	Number int
	Values []string
}

// Table is a whole-table snapshot, header excluded from Rows.
type Table struct {
	Name   string
	Header []string
	Rows   []Row
}

// Clone deep-copies the snapshot so callers can't mutate cached data.
func (t Table) Clone() Table {
	out := Table{Name: t.Name, Header: append([]string(nil), t.Header...)}
	if t.Rows != nil {
		out.Rows = make([]Row, len(t.Rows))
		for i, r := range t.Rows {
			out.Rows[i] = Row{Number: r.Number, Values: append([]string(nil), r.Values...)}
		}
	}
	return out
}

// ColumnName converts a 1-based column number to its A1 letter form.
func ColumnName(col int) string {
	name := ""
	for col > 0 {
		col--
		name = string(rune('A'+col%26)) + name
		col /= 26
	}
	return name
}

func validateAddress(table string, row, col int) error {
	if table == "" {
		return fmt.Errorf("table must not be empty")
	}
	if row < 1 || col < 1 {
		return fmt.Errorf("invalid cell address row=%d col=%d", row, col)
	}
	return nil
}

func stringify(values []interface{}) []string {
	out := make([]string, len(values))
	for i, v := range values {
		if v == nil {
			continue
		}
		out[i] = fmt.Sprint(v)
	}
	return out
}
