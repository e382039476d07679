package sheets

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/mamadbah2/affinage/internal/config"
)

// GoogleSheetRepository implements the Repository interface using the official Google Sheets API.
type GoogleSheetRepository struct {
	service       *sheetsapi.Service
	spreadsheetID string
	timeout       time.Duration
	logger        *zap.Logger
}

var _ Repository = (*GoogleSheetRepository)(nil)

// NewGoogleSheetRepository builds a Google Sheets backed repository instance.
func NewGoogleSheetRepository(ctx context.Context, cfg config.SheetsConfig, logger *zap.Logger) (*GoogleSheetRepository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	service, err := sheetsapi.NewService(ctx, option.WithCredentialsFile(cfg.CredentialsPath), option.WithScopes(sheetsapi.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sheets client: %w", err)
	}

	return &GoogleSheetRepository{
		service:       service,
		spreadsheetID: cfg.SpreadsheetID,
		timeout:       cfg.Timeout,
		logger:        logger,
	}, nil
}

// ListRows fetches a whole worksheet. The first row is treated as the header.
func (r *GoogleSheetRepository) ListRows(ctx context.Context, table string) (Table, error) {
	if table == "" {
		return Table{}, fmt.Errorf("table must not be empty")
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	resp, err := r.service.Spreadsheets.Values.Get(r.spreadsheetID, quoteSheet(table)).
		ValueRenderOption("FORMATTED_VALUE").
		Context(ctx).
		Do()
	if err != nil {
		return Table{}, fmt.Errorf("read table %s: %w", table, err)
	}

	out := Table{Name: table}
	for i, raw := range resp.Values {
		values := make([]string, len(raw))
		for j, v := range raw {
			values[j] = fmt.Sprint(v)
		}
		if i == 0 {
			out.Header = values
			continue
		}
		if isBlank(values) {
			continue
		}
		out.Rows = append(out.Rows, Row{Number: i + 1, Values: values})
	}

	r.logger.Debug("table fetched", zap.String("table", table), zap.Int("rows", len(out.Rows)))
	return out, nil
}

// AppendRow appends one row to the table.
func (r *GoogleSheetRepository) AppendRow(ctx context.Context, table string, values []interface{}) error {
	return r.AppendRows(ctx, table, [][]interface{}{values})
}

// AppendRows appends rows in a single request, so either all of them land or none do.
func (r *GoogleSheetRepository) AppendRows(ctx context.Context, table string, rows [][]interface{}) error {
	if table == "" {
		return fmt.Errorf("table must not be empty")
	}
	if len(rows) == 0 {
		return nil
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	payload := &sheetsapi.ValueRange{Values: rows}

	call := r.service.Spreadsheets.Values.Append(r.spreadsheetID, quoteSheet(table), payload).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx)

	if _, err := call.Do(); err != nil {
		return fmt.Errorf("append rows into %s: %w", table, err)
	}

	r.logger.Debug("rows appended to sheet", zap.String("table", table), zap.Int("rows", len(rows)))
	return nil
}

// UpdateCell overwrites one cell.
func (r *GoogleSheetRepository) UpdateCell(ctx context.Context, table string, row, col int, value interface{}) error {
	return r.UpdateCells(ctx, table, row, col, []interface{}{value})
}

// UpdateCells overwrites consecutive cells of one row starting at firstCol.
func (r *GoogleSheetRepository) UpdateCells(ctx context.Context, table string, row, firstCol int, values []interface{}) error {
	if err := validateAddress(table, row, firstCol); err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rng := fmt.Sprintf("%s!%s%d:%s%d", quoteSheet(table), ColumnName(firstCol), row, ColumnName(firstCol+len(values)-1), row)
	payload := &sheetsapi.ValueRange{Values: [][]interface{}{values}}

	if _, err := r.service.Spreadsheets.Values.Update(r.spreadsheetID, rng, payload).
		ValueInputOption("RAW").
		Context(ctx).
		Do(); err != nil {
		return fmt.Errorf("update %s: %w", rng, err)
	}

	r.logger.Debug("cells updated", zap.String("range", rng))
	return nil
}

// ColumnValues returns one column top to bottom, header included.
func (r *GoogleSheetRepository) ColumnValues(ctx context.Context, table string, col int) ([]string, error) {
	if err := validateAddress(table, 1, col); err != nil {
		return nil, err
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	letter := ColumnName(col)
	resp, err := r.service.Spreadsheets.Values.Get(r.spreadsheetID, fmt.Sprintf("%s!%s:%s", quoteSheet(table), letter, letter)).
		MajorDimension("COLUMNS").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("read column %s of %s: %w", letter, table, err)
	}

	if len(resp.Values) == 0 {
		return nil, nil
	}
	return stringify(resp.Values[0]), nil
}

func (r *GoogleSheetRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

// quoteSheet quotes a worksheet title for A1 notation ("Cheese-Recipes" needs it).
func quoteSheet(table string) string {
	return "'" + strings.ReplaceAll(table, "'", "''") + "'"
}

func isBlank(values []string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
