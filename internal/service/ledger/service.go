package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/affinage/internal/domain/models"
	"github.com/mamadbah2/affinage/internal/metrics"
	"github.com/mamadbah2/affinage/internal/repository/records"
)

// ActionGenerator expands a recipe schedule for a freshly created batch.
type ActionGenerator interface {
	GenerateActions(ctx context.Context, batchID int, batchDate time.Time, product string) (models.Generation, error)
}

// NewBatch carries the validated fields of a batch submission.
type NewBatch struct {
	Product  string
	Milk     models.MilkType
	Quantity int
	Kind     models.BatchKind
	Serials  []string
}

// Created is the result of CreateBatch. The batch is durable even when
// ActionsErr is set; generation is retried by the daily reconciliation.
type Created struct {
	Batch      models.Batch
	Actions    models.Generation
	ActionsErr error
}

// Sale carries the validated fields of a sale submission.
type Sale struct {
	BatchID  int
	Quantity int
	Customer string
	Who      string
}

// Filter narrows Available. Zero fields match everything.
type Filter struct {
	Product string
	Milk    models.MilkType
	Date    time.Time
}

// Service is the batch ledger: it owns Batch rows and the sales log.
type Service struct {
	store     *records.Store
	generator ActionGenerator
	logger    *zap.Logger
	now       func() time.Time
}

// NewService wires the ledger. loc is the operators' local timezone.
func NewService(store *records.Store, generator ActionGenerator, loc *time.Location, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		store:     store,
		generator: generator,
		logger:    logger,
		now:       func() time.Time { return time.Now().In(loc) },
	}
}

// CreateBatch assigns the next identifier, writes the batch and generates its actions.
func (s *Service) CreateBatch(ctx context.Context, req NewBatch) (Created, error) {
	if err := validateNewBatch(&req); err != nil {
		return Created{}, err
	}

	batch := models.Batch{
		CreatedOn:   models.Day(s.now()),
		Product:     req.Product,
		Milk:        req.Milk,
		InitialQty:  req.Quantity,
		Remaining:   req.Quantity,
		UnitSerials: req.Serials,
		Kind:        req.Kind,
		Status:      models.StatusActive,
	}

	err := s.store.Mutate(func() error {
		id, err := s.store.NextBatchID(ctx)
		if err != nil {
			return err
		}
		batch.ID = id
		return s.store.AppendBatch(ctx, batch)
	})
	if err != nil {
		return Created{}, fmt.Errorf("create batch: %w", err)
	}

	metrics.BatchesCreated.Inc()
	s.logger.Info("batch created",
		zap.Int("batch_id", batch.ID),
		zap.String("product", batch.Product),
		zap.String("milk", string(batch.Milk)),
		zap.Int("qty", batch.InitialQty),
		zap.Strings("serials", batch.UnitSerials))

	created := Created{Batch: batch}
	if s.generator == nil {
		return created, nil
	}

	created.Actions, created.ActionsErr = s.generator.GenerateActions(ctx, batch.ID, batch.CreatedOn, batch.Product)
	switch {
	case created.ActionsErr != nil:
		s.logger.Error("action generation failed", zap.Int("batch_id", batch.ID), zap.Error(created.ActionsErr))
	case created.Actions.Err() != nil:
		s.logger.Warn("action generation reported bad schedule rows", zap.Int("batch_id", batch.ID), zap.Error(created.Actions.Err()))
	}

	return created, nil
}

// FindByID returns a batch by identifier.
func (s *Service) FindByID(ctx context.Context, id int) (models.Batch, error) {
	if id <= 0 {
		return models.Batch{}, models.Invalid("batch id must be positive, got %d", id)
	}
	return s.store.Batch(ctx, id)
}

// FindByUnitSerial returns the first active batch, in insertion order, that
// lists serial among its unit serials.
func (s *Service) FindByUnitSerial(ctx context.Context, serial string) (models.Batch, error) {
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return models.Batch{}, models.Invalid("serial must not be empty")
	}

	batches, err := s.store.Batches(ctx)
	if err != nil {
		return models.Batch{}, err
	}
	for _, b := range batches {
		if b.Active() && b.HasSerial(serial) {
			return b, nil
		}
	}
	return models.Batch{}, fmt.Errorf("unit serial %s: %w", serial, models.ErrNotFound)
}

// Available lists active batches with stock left that match the filter.
func (s *Service) Available(ctx context.Context, f Filter) ([]models.Batch, error) {
	batches, err := s.store.Batches(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.Batch
	for _, b := range batches {
		if !b.Active() || b.Remaining <= 0 {
			continue
		}
		if f.Product != "" && !strings.EqualFold(b.Product, f.Product) {
			continue
		}
		if f.Milk != "" && b.Milk != f.Milk {
			continue
		}
		if !f.Date.IsZero() && !models.SameDay(b.CreatedOn, f.Date) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// Products lists the distinct product names of the recipe table in first-seen order.
func (s *Service) Products(ctx context.Context) ([]string, error) {
	recipes, err := s.store.Recipes(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(recipes))
	var out []string
	for _, r := range recipes {
		if _, ok := seen[r.Product]; ok {
			continue
		}
		seen[r.Product] = struct{}{}
		out = append(out, r.Product)
	}
	return out, nil
}

// Decrement removes qty units from a batch. It never drives Remaining below
// zero and moves the batch to Exhausted when it reaches zero.
func (s *Service) Decrement(ctx context.Context, batchID, qty int) (models.Batch, error) {
	if qty <= 0 {
		return models.Batch{}, models.Invalid("quantity must be positive, got %d", qty)
	}
	var out models.Batch
	err := s.store.Mutate(func() error {
		s.store.Refresh(records.TableBatches)
		var err error
		out, err = s.decrementLocked(ctx, batchID, qty)
		return err
	})
	return out, err
}

// RecordSale logs a sale and decrements the batch. The batch is checked before
// the sale is logged. When an earlier attempt logged the same sale but failed
// to decrement, the retry applies only the decrement.
func (s *Service) RecordSale(ctx context.Context, sale Sale) (models.Batch, error) {
	sale.Customer = strings.TrimSpace(sale.Customer)
	sale.Who = strings.TrimSpace(sale.Who)
	switch {
	case sale.BatchID <= 0:
		return models.Batch{}, models.Invalid("batch id must be positive, got %d", sale.BatchID)
	case sale.Quantity <= 0:
		return models.Batch{}, models.Invalid("quantity must be positive, got %d", sale.Quantity)
	case sale.Who == "":
		return models.Batch{}, models.Invalid("seller must be named")
	}

	var out models.Batch
	err := s.store.Mutate(func() error {
		s.store.Refresh(records.TableBatches, records.TableSales)
		batch, err := s.store.Batch(ctx, sale.BatchID)
		if err != nil {
			return err
		}
		if batch.Remaining < sale.Quantity {
			metrics.OverSales.Inc()
			return fmt.Errorf("batch %d has %d left, cannot sell %d: %w", batch.ID, batch.Remaining, sale.Quantity, models.ErrOverSale)
		}

		logged, retry, err := s.isUnappliedRetry(ctx, batch, sale)
		if err != nil {
			return err
		}
		if retry {
			// Indistinguishable from a genuine repeat sale made while the
			// earlier decrement was still missing.
			s.logger.Warn("sale matches a logged sale missing its decrement, applying decrement only",
				zap.Int("batch_id", batch.ID),
				zap.Int("qty", sale.Quantity),
				zap.String("who", sale.Who),
				zap.Int("gap", sale.Quantity),
				zap.Time("logged_at", logged.At))
		} else {
			now := s.now()
			record := models.SaleRecord{
				Date:     models.Day(now),
				BatchID:  batch.ID,
				Quantity: sale.Quantity,
				Customer: sale.Customer,
				Who:      sale.Who,
				At:       now,
			}
			if err := s.store.AppendSale(ctx, record); err != nil {
				return err
			}
		}

		out, err = s.decrementLocked(ctx, batch.ID, sale.Quantity)
		if err != nil {
			s.logger.Error("sale logged but stock not decremented; retrying the sale reconciles it",
				zap.Int("batch_id", batch.ID), zap.Int("qty", sale.Quantity), zap.Error(err))
			return err
		}
		return nil
	})
	if err != nil {
		return models.Batch{}, fmt.Errorf("record sale: %w", err)
	}

	s.logger.Info("sale recorded",
		zap.Int("batch_id", out.ID),
		zap.Int("qty", sale.Quantity),
		zap.Int("remaining", out.Remaining),
		zap.String("who", sale.Who))
	return out, nil
}

// Audit compares each batch's Remaining with InitialQty minus its logged sales.
func (s *Service) Audit(ctx context.Context) ([]models.Discrepancy, error) {
	batches, err := s.store.Batches(ctx)
	if err != nil {
		return nil, err
	}
	sales, err := s.store.Sales(ctx)
	if err != nil {
		return nil, err
	}
	sold := soldByBatch(sales)

	var out []models.Discrepancy
	for _, b := range batches {
		expected := b.InitialQty - sold[b.ID]
		if b.Remaining != expected {
			out = append(out, models.Discrepancy{BatchID: b.ID, Remaining: b.Remaining, Expected: expected})
		}
	}
	return out, nil
}

func (s *Service) decrementLocked(ctx context.Context, batchID, qty int) (models.Batch, error) {
	batch, err := s.store.Batch(ctx, batchID)
	if err != nil {
		return models.Batch{}, err
	}

	remaining := batch.Remaining - qty
	if remaining < 0 {
		metrics.OverSales.Inc()
		return models.Batch{}, fmt.Errorf("batch %d has %d left, cannot remove %d: %w", batch.ID, batch.Remaining, qty, models.ErrOverSale)
	}

	status := batch.Status
	if remaining == 0 {
		status = models.StatusExhausted
	}
	if err := s.store.UpdateRemaining(ctx, batch, remaining, status); err != nil {
		return models.Batch{}, err
	}

	metrics.UnitsSold.Add(float64(qty))
	if status != batch.Status {
		s.logger.Info("batch exhausted", zap.Int("batch_id", batch.ID))
	}
	batch.Remaining = remaining
	batch.Status = status
	return batch, nil
}

// isUnappliedRetry detects a sale that was logged by an earlier attempt whose
// decrement never landed: the batch holds exactly qty more than its sales log
// allows and the latest sale for the batch is the same qty by the same person.
// It returns that logged sale.
func (s *Service) isUnappliedRetry(ctx context.Context, batch models.Batch, sale Sale) (models.SaleRecord, bool, error) {
	sales, err := s.store.Sales(ctx)
	if err != nil {
		return models.SaleRecord{}, false, err
	}
	gap := batch.Remaining - (batch.InitialQty - soldByBatch(sales)[batch.ID])
	if gap != sale.Quantity {
		return models.SaleRecord{}, false, nil
	}
	for i := len(sales) - 1; i >= 0; i-- {
		if sales[i].BatchID == batch.ID {
			last := sales[i]
			return last, last.Quantity == sale.Quantity && last.Who == sale.Who, nil
		}
	}
	return models.SaleRecord{}, false, nil
}

func soldByBatch(sales []models.SaleRecord) map[int]int {
	out := make(map[int]int)
	for _, sale := range sales {
		out[sale.BatchID] += sale.Quantity
	}
	return out
}

func validateNewBatch(req *NewBatch) error {
	req.Product = strings.TrimSpace(req.Product)
	if req.Product == "" {
		return models.Invalid("product must not be empty")
	}
	if req.Quantity <= 0 {
		return models.Invalid("quantity must be positive, got %d", req.Quantity)
	}
	milk, err := models.ParseMilkType(string(req.Milk))
	if err != nil {
		return err
	}
	req.Milk = milk
	if req.Kind == "" {
		req.Kind = models.KindBatch
	}
	kind, err := models.ParseBatchKind(string(req.Kind))
	if err != nil {
		return err
	}
	req.Kind = kind

	var serials []string
	for _, raw := range req.Serials {
		serials = append(serials, models.SplitSerials(raw)...)
	}
	req.Serials = serials
	if req.Kind == models.KindSingleUnit && len(req.Serials) == 0 {
		return models.Invalid("a single-unit batch needs a unit serial")
	}
	return nil
}
