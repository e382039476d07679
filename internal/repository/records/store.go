// Package records is the typed view over the backing store. A single Store is
// built at startup and shared by the ledger, the action scheduler, the
// completion tracker and the subscriber registry: it owns the table cache and
// the process-wide mutation lock.
package records

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/affinage/internal/cache"
	"github.com/mamadbah2/affinage/internal/domain/models"
	"github.com/mamadbah2/affinage/internal/repository/sheets"
)

// Worksheet names.
const (
	TableBatches     = "Batches"
	TableActions     = "Actions"
	TableSales       = "Sales"
	TableRecipes     = "Cheese-Recipes"
	TableSchedules   = "Schedules"
	TableSubscribers = "Subscribers"
)

// Headers lists the canonical header row of every worksheet.
var Headers = map[string][]string{
	TableBatches:     {"BatchID", "Date", "Cheese", "MilkType", "InitialQty", "Remaining", "HeadNumbers", "Type", "Status", "ActionsCreated"},
	TableActions:     {"BatchID", "ActionDate", "Action", "Done", "Who", "Timestamp"},
	TableSales:       {"Date", "BatchID", "Qty", "Customer", "Who", "Timestamp"},
	TableRecipes:     {"Cheese", "ScheduleID"},
	TableSchedules:   {"ScheduleID", "Day", "Action"},
	TableSubscribers: {"ChatID", "Name", "Role", "Active"},
}

// Store serialises mutations and routes reads through the cache. Every write
// invalidates its table once the store call returned, failed or not: a call
// that timed out may still have committed.
type Store struct {
	repo   sheets.Repository
	cache  *cache.Cache
	logger *zap.Logger
	mu     sync.Mutex
}

// NewStore wires the shared store.
func NewStore(repo sheets.Repository, tableCache *cache.Cache, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{repo: repo, cache: tableCache, logger: logger}
}

// NewMemoryStore builds a Store over an in-memory repository with every
// worksheet created. It serves SHEETS_DRIVER=memory and tests.
func NewMemoryStore(ttl time.Duration, logger *zap.Logger, opts ...cache.Option) (*Store, *sheets.MemoryRepository) {
	repo := sheets.NewMemoryRepository()
	for table, header := range Headers {
		repo.CreateTable(table, header...)
	}
	return NewStore(repo, cache.New(repo, ttl, logger, opts...), logger), repo
}

// Mutate runs fn while holding the process-wide mutation lock. fn must not call Mutate.
func (s *Store) Mutate(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

// Refresh drops the cached snapshots of tables so the next reads fetch. Read
// then write paths call it under Mutate so they never decide on a snapshot
// older than the last write.
func (s *Store) Refresh(tables ...string) {
	for _, table := range tables {
		s.cache.Invalidate(table)
	}
}

// Batches returns every well-formed batch in insertion order.
func (s *Store) Batches(ctx context.Context) ([]models.Batch, error) {
	tbl, err := s.cache.Read(ctx, TableBatches)
	if err != nil {
		return nil, err
	}
	out := make([]models.Batch, 0, len(tbl.Rows))
	for _, r := range tbl.Rows {
		b, err := models.ParseBatchRow(r.Number, r.Values)
		if err != nil {
			s.reportRow(TableBatches, r.Number, err)
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// Batch looks a batch up by identifier.
func (s *Store) Batch(ctx context.Context, id int) (models.Batch, error) {
	batches, err := s.Batches(ctx)
	if err != nil {
		return models.Batch{}, err
	}
	for _, b := range batches {
		if b.ID == id {
			return b, nil
		}
	}
	return models.Batch{}, fmt.Errorf("batch %d: %w", id, models.ErrNotFound)
}

// Actions returns every well-formed action in insertion order.
func (s *Store) Actions(ctx context.Context) ([]models.Action, error) {
	tbl, err := s.cache.Read(ctx, TableActions)
	if err != nil {
		return nil, err
	}
	out := make([]models.Action, 0, len(tbl.Rows))
	for _, r := range tbl.Rows {
		a, err := models.ParseActionRow(r.Number, r.Values)
		if err != nil {
			s.reportRow(TableActions, r.Number, err)
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// Action resolves a reference, checking it still points at the same batch.
func (s *Store) Action(ctx context.Context, ref models.ActionRef) (models.Action, error) {
	actions, err := s.Actions(ctx)
	if err != nil {
		return models.Action{}, err
	}
	for _, a := range actions {
		if a.Row == ref.Row {
			if a.BatchID != ref.BatchID {
				return models.Action{}, fmt.Errorf("action row %d belongs to batch %d, not %d: %w", ref.Row, a.BatchID, ref.BatchID, models.ErrNotFound)
			}
			return a, nil
		}
	}
	return models.Action{}, fmt.Errorf("action row %d: %w", ref.Row, models.ErrNotFound)
}

// Sales returns the sales log.
func (s *Store) Sales(ctx context.Context) ([]models.SaleRecord, error) {
	tbl, err := s.cache.Read(ctx, TableSales)
	if err != nil {
		return nil, err
	}
	out := make([]models.SaleRecord, 0, len(tbl.Rows))
	for _, r := range tbl.Rows {
		sale, err := models.ParseSaleRow(r.Values)
		if err != nil {
			s.reportRow(TableSales, r.Number, err)
			continue
		}
		out = append(out, sale)
	}
	return out, nil
}

// Recipes returns the product to schedule mappings.
func (s *Store) Recipes(ctx context.Context) ([]models.RecipeMapping, error) {
	tbl, err := s.cache.Read(ctx, TableRecipes)
	if err != nil {
		return nil, err
	}
	out := make([]models.RecipeMapping, 0, len(tbl.Rows))
	for _, r := range tbl.Rows {
		m, err := models.ParseRecipeRow(r.Values)
		if err != nil {
			s.reportRow(TableRecipes, r.Number, err)
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Schedules returns every schedule step with its raw day offset.
func (s *Store) Schedules(ctx context.Context) ([]models.ScheduleTemplate, error) {
	tbl, err := s.cache.Read(ctx, TableSchedules)
	if err != nil {
		return nil, err
	}
	out := make([]models.ScheduleTemplate, 0, len(tbl.Rows))
	for _, r := range tbl.Rows {
		out = append(out, models.ParseScheduleRow(r.Number, r.Values))
	}
	return out, nil
}

// Subscribers returns every subscriber, active or not.
func (s *Store) Subscribers(ctx context.Context) ([]models.Subscriber, error) {
	tbl, err := s.cache.Read(ctx, TableSubscribers)
	if err != nil {
		return nil, err
	}
	out := make([]models.Subscriber, 0, len(tbl.Rows))
	for _, r := range tbl.Rows {
		sub, err := models.ParseSubscriberRow(r.Number, r.Values)
		if err != nil {
			s.reportRow(TableSubscribers, r.Number, err)
			continue
		}
		out = append(out, sub)
	}
	return out, nil
}

// ActiveSubscribers filters Subscribers down to the active ones.
func (s *Store) ActiveSubscribers(ctx context.Context) ([]models.Subscriber, error) {
	all, err := s.Subscribers(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, sub := range all {
		if sub.Active {
			out = append(out, sub)
		}
	}
	return out, nil
}

// NextBatchID scans the identifier column straight from the store and returns
// max+1, or 1 for an empty ledger. Call it under Mutate.
func (s *Store) NextBatchID(ctx context.Context) (int, error) {
	col, err := s.repo.ColumnValues(ctx, TableBatches, models.BatchColID)
	if err != nil {
		return 0, models.TransientIO("scan batch ids", err)
	}
	maxID := 0
	for i, v := range col {
		if i == 0 {
			continue
		}
		id, err := models.ParseInt(v)
		if err != nil {
			if strings.TrimSpace(v) != "" {
				s.logger.Warn("ignoring non-numeric batch id", zap.Int("row", i+1), zap.String("value", v))
			}
			continue
		}
		if id > maxID {
			maxID = id
		}
	}
	return maxID + 1, nil
}

// AppendBatch writes a new batch row.
func (s *Store) AppendBatch(ctx context.Context, b models.Batch) error {
	err := s.repo.AppendRow(ctx, TableBatches, b.Values())
	s.cache.Invalidate(TableBatches)
	if err != nil {
		return models.TransientIO("append batch", err)
	}
	return nil
}

// UpdateRemaining writes a batch's remaining quantity, and its status when it changes.
func (s *Store) UpdateRemaining(ctx context.Context, b models.Batch, remaining int, status models.BatchStatus) error {
	var err error
	if status == b.Status {
		err = s.repo.UpdateCell(ctx, TableBatches, b.Row, models.BatchColRemaining, remaining)
	} else {
		// Remaining through Status in one single-row write.
		err = s.repo.UpdateCells(ctx, TableBatches, b.Row, models.BatchColRemaining, []interface{}{
			remaining, models.JoinSerials(b.UnitSerials), string(b.Kind), string(status),
		})
	}
	s.cache.Invalidate(TableBatches)
	if err != nil {
		return models.TransientIO(fmt.Sprintf("update batch %d remaining", b.ID), err)
	}
	return nil
}

// SetActionsGenerated raises the generation guard flag of a batch.
func (s *Store) SetActionsGenerated(ctx context.Context, b models.Batch) error {
	err := s.repo.UpdateCell(ctx, TableBatches, b.Row, models.BatchColActionsGenerated, models.FormatBool(true))
	s.cache.Invalidate(TableBatches)
	if err != nil {
		return models.TransientIO(fmt.Sprintf("flag batch %d actions", b.ID), err)
	}
	return nil
}

// AppendActions writes action rows in one request.
func (s *Store) AppendActions(ctx context.Context, actions []models.Action) error {
	if len(actions) == 0 {
		return nil
	}
	rows := make([][]interface{}, len(actions))
	for i, a := range actions {
		rows[i] = a.Values()
	}
	err := s.repo.AppendRows(ctx, TableActions, rows)
	s.cache.Invalidate(TableActions)
	if err != nil {
		return models.TransientIO("append actions", err)
	}
	return nil
}

// CompleteAction writes Done, CompletedBy and CompletedAt of one action row together.
func (s *Store) CompleteAction(ctx context.Context, row int, who string, at time.Time) error {
	values := []interface{}{models.FormatBool(true), who, at.Format(models.TimestampLayout)}
	err := s.repo.UpdateCells(ctx, TableActions, row, models.ActionColDone, values)
	s.cache.Invalidate(TableActions)
	if err != nil {
		return models.TransientIO(fmt.Sprintf("complete action row %d", row), err)
	}
	return nil
}

// AppendSale writes one line of the sales log.
func (s *Store) AppendSale(ctx context.Context, sale models.SaleRecord) error {
	err := s.repo.AppendRow(ctx, TableSales, sale.Values())
	s.cache.Invalidate(TableSales)
	if err != nil {
		return models.TransientIO("append sale", err)
	}
	return nil
}

// AppendSubscriber writes a new subscriber row.
func (s *Store) AppendSubscriber(ctx context.Context, sub models.Subscriber) error {
	err := s.repo.AppendRow(ctx, TableSubscribers, sub.Values())
	s.cache.Invalidate(TableSubscribers)
	if err != nil {
		return models.TransientIO("append subscriber", err)
	}
	return nil
}

// SetSubscriberActive flips a subscriber's Active flag.
func (s *Store) SetSubscriberActive(ctx context.Context, sub models.Subscriber, active bool) error {
	err := s.repo.UpdateCell(ctx, TableSubscribers, sub.Row, models.SubscriberColActive, models.FormatBool(active))
	s.cache.Invalidate(TableSubscribers)
	if err != nil {
		return models.TransientIO("update subscriber "+sub.Identity, err)
	}
	return nil
}

func (s *Store) reportRow(table string, row int, err error) {
	var rowErr *models.RowError
	if !errors.As(err, &rowErr) {
		err = &models.RowError{Table: table, Row: row, Err: err}
	}
	s.logger.Warn("skipping malformed row", zap.String("table", table), zap.Int("row", row), zap.Error(err))
}
