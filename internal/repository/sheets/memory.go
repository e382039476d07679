package sheets

import (
	"context"
	"fmt"
	"sync"
)

// Operation names passed to a MemoryRepository failure hook.
const (
	OpList   = "list"
	OpAppend = "append"
	OpUpdate = "update"
	OpColumn = "column"
)

// MemoryRepository keeps tables in process memory. It backs local runs
// (SHEETS_DRIVER=memory) and tests.
type MemoryRepository struct {
	mu     sync.Mutex
	tables map[string]*memTable
	calls  map[string]int
	fail   func(op, table string) error
	// lostAck is consulted after a write landed; its error is returned with the write kept.
	lostAck func(op, table string) error
}

type memTable struct {
	header []string
	rows   [][]string
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		tables: make(map[string]*memTable),
		calls:  make(map[string]int),
	}
}

// CreateTable registers a table with its header row. Existing tables are kept.
func (m *MemoryRepository) CreateTable(table string, header ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[table]; !ok {
		m.tables[table] = &memTable{header: append([]string(nil), header...)}
	}
}

// Seed appends raw string rows, bypassing the failure hook.
func (m *MemoryRepository) Seed(table string, rows ...[]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.ensure(table)
	for _, r := range rows {
		t.rows = append(t.rows, append([]string(nil), r...))
	}
}

// SetCell overwrites a cell out-of-band, as a person editing the sheet would.
func (m *MemoryRepository) SetCell(table string, row, col int, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_ = m.ensure(table).set(row, col, value)
}

// FailWith installs a hook consulted before every operation; a non-nil return
// aborts the operation with that error. Pass nil to clear it.
func (m *MemoryRepository) FailWith(fn func(op, table string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fn
}

// LoseAckWith installs a hook consulted after every successful append or
// update. A non-nil return is handed to the caller although the write stays
// applied, the way a timeout looks when the store committed but the response
// was lost. Pass nil to clear it.
func (m *MemoryRepository) LoseAckWith(fn func(op, table string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lostAck = fn
}

// Calls reports how many times op ran against table.
func (m *MemoryRepository) Calls(op, table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op+":"+table]
}

// ListRows implements Repository.
func (m *MemoryRepository) ListRows(_ context.Context, table string) (Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.begin(OpList, table)
	if err != nil {
		return Table{}, err
	}
	out := Table{Name: table, Header: append([]string(nil), t.header...)}
	for i, r := range t.rows {
		if isBlank(r) {
			continue
		}
		out.Rows = append(out.Rows, Row{Number: i + 2, Values: append([]string(nil), r...)})
	}
	return out, nil
}

// AppendRow implements Repository.
func (m *MemoryRepository) AppendRow(ctx context.Context, table string, values []interface{}) error {
	return m.AppendRows(ctx, table, [][]interface{}{values})
}

// AppendRows implements Repository.
func (m *MemoryRepository) AppendRows(_ context.Context, table string, rows [][]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.begin(OpAppend, table)
	if err != nil {
		return err
	}
	for _, r := range rows {
		t.rows = append(t.rows, stringify(r))
	}
	return m.ack(OpAppend, table)
}

// UpdateCell implements Repository.
func (m *MemoryRepository) UpdateCell(ctx context.Context, table string, row, col int, value interface{}) error {
	return m.UpdateCells(ctx, table, row, col, []interface{}{value})
}

// UpdateCells implements Repository.
func (m *MemoryRepository) UpdateCells(_ context.Context, table string, row, firstCol int, values []interface{}) error {
	if err := validateAddress(table, row, firstCol); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.begin(OpUpdate, table)
	if err != nil {
		return err
	}
	for i, v := range stringify(values) {
		if err := t.set(row, firstCol+i, v); err != nil {
			return err
		}
	}
	return m.ack(OpUpdate, table)
}

// ColumnValues implements Repository.
func (m *MemoryRepository) ColumnValues(_ context.Context, table string, col int) ([]string, error) {
	if err := validateAddress(table, 1, col); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.begin(OpColumn, table)
	if err != nil {
		return nil, err
	}
	out := []string{cellAt(t.header, col)}
	for _, r := range t.rows {
		out = append(out, cellAt(r, col))
	}
	return out, nil
}

func (m *MemoryRepository) begin(op, table string) (*memTable, error) {
	m.calls[op+":"+table]++
	if m.fail != nil {
		if err := m.fail(op, table); err != nil {
			return nil, err
		}
	}
	t, ok := m.tables[table]
	if !ok {
		return nil, fmt.Errorf("table %s does not exist", table)
	}
	return t, nil
}

func (m *MemoryRepository) ack(op, table string) error {
	if m.lostAck == nil {
		return nil
	}
	return m.lostAck(op, table)
}

func (m *MemoryRepository) ensure(table string) *memTable {
	t, ok := m.tables[table]
	if !ok {
		t = &memTable{}
		m.tables[table] = t
	}
	return t
}

func (t *memTable) set(row, col int, value string) error {
	if row == 1 {
		return fmt.Errorf("row 1 is the header")
	}
	idx := row - 2
	if idx < 0 || idx >= len(t.rows) {
		return fmt.Errorf("row %d out of range", row)
	}
	for len(t.rows[idx]) < col {
		t.rows[idx] = append(t.rows[idx], "")
	}
	t.rows[idx][col-1] = value
	return nil
}

func cellAt(values []string, col int) string {
	if col-1 < len(values) {
		return values[col-1]
	}
	return ""
}
