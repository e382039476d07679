package actions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/affinage/internal/domain/models"
	"github.com/mamadbah2/affinage/internal/metrics"
	"github.com/mamadbah2/affinage/internal/repository/records"
)

// Service expands recipe schedules into dated care actions and answers
// which actions are due.
type Service struct {
	store  *records.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewService wires the action scheduler. loc is the operators' local timezone.
func NewService(store *records.Store, loc *time.Location, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().In(loc) },
	}
}

// GenerateActions appends one Pending action per schedule step mapped to
// product, dated batchDate plus the step's day offset. It runs at most once per
// batch: the batch's ActionsGenerated flag is the primary guard and existing
// Action rows for the batch are the secondary one. Malformed day offsets are
// returned in the Generation's diagnostics while the valid steps are still written.
func (s *Service) GenerateActions(ctx context.Context, batchID int, batchDate time.Time, product string) (models.Generation, error) {
	var gen models.Generation
	err := s.store.Mutate(func() error {
		var err error
		gen, err = s.generateLocked(ctx, batchID, models.Day(batchDate), product)
		return err
	})
	if err != nil {
		return gen, fmt.Errorf("generate actions for batch %d: %w", batchID, err)
	}
	return gen, nil
}

func (s *Service) generateLocked(ctx context.Context, batchID int, batchDate time.Time, product string) (models.Generation, error) {
	gen := models.Generation{BatchID: batchID}

	// Both guards must see every row a previous attempt may have committed.
	s.store.Refresh(records.TableBatches, records.TableActions)
	batch, err := s.store.Batch(ctx, batchID)
	if err != nil {
		return gen, err
	}
	if batch.ActionsGenerated {
		gen.NoOp = true
		s.logger.Debug("actions already generated", zap.Int("batch_id", batchID))
		return gen, nil
	}

	existing, err := s.store.Actions(ctx)
	if err != nil {
		return gen, err
	}
	if hasActions(existing, batchID) {
		// An earlier run appended the actions but failed to raise the flag.
		if err := s.store.SetActionsGenerated(ctx, batch); err != nil {
			return gen, err
		}
		gen.NoOp, gen.Repaired = true, true
		s.logger.Warn("actions existed without guard flag, flag repaired", zap.Int("batch_id", batchID))
		return gen, nil
	}

	scheduleIDs, err := s.scheduleIDs(ctx, product)
	if err != nil {
		return gen, err
	}
	if len(scheduleIDs) == 0 {
		s.logger.Debug("no schedule for product, nothing to generate", zap.Int("batch_id", batchID), zap.String("product", product))
		return gen, nil
	}

	templates, err := s.store.Schedules(ctx)
	if err != nil {
		return gen, err
	}

	var pending []models.Action
	for _, t := range templates {
		if _, ok := scheduleIDs[t.ScheduleID]; !ok {
			continue
		}
		days, err := t.Offset()
		if err != nil {
			gen.Diagnostics = append(gen.Diagnostics, err)
			continue
		}
		pending = append(pending, models.Action{
			BatchID:     batchID,
			Date:        batchDate.AddDate(0, 0, days),
			Description: t.Description,
		})
	}

	if len(pending) == 0 {
		s.logger.Warn("schedule yielded no valid steps", zap.Int("batch_id", batchID), zap.String("product", product), zap.Error(gen.Err()))
		return gen, nil
	}

	if err := s.store.AppendActions(ctx, pending); err != nil {
		return gen, err
	}
	gen.Created = len(pending)
	metrics.ActionsGenerated.Add(float64(len(pending)))

	if err := s.store.SetActionsGenerated(ctx, batch); err != nil {
		s.logger.Error("actions appended but guard flag not set; next generation repairs it",
			zap.Int("batch_id", batchID), zap.Error(err))
		return gen, err
	}

	s.logger.Info("actions generated",
		zap.Int("batch_id", batchID),
		zap.String("product", product),
		zap.Int("created", gen.Created),
		zap.Int("rejected", len(gen.Diagnostics)))
	return gen, nil
}

// Reconcile runs generation for every active batch whose guard flag is unset.
// It returns how many actions were created.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	batches, err := s.store.Batches(ctx)
	if err != nil {
		return 0, err
	}

	created := 0
	var errs []error
	for _, b := range batches {
		if !b.Active() || b.ActionsGenerated {
			continue
		}
		gen, err := s.GenerateActions(ctx, b.ID, b.CreatedOn, b.Product)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if diag := gen.Err(); diag != nil {
			s.logger.Warn("reconciled generation reported bad schedule rows", zap.Int("batch_id", b.ID), zap.Error(diag))
		}
		created += gen.Created
	}
	return created, errors.Join(errs...)
}

// Due lists the pending actions dated day, with their batch titles.
func (s *Service) Due(ctx context.Context, day time.Time) ([]models.DueAction, error) {
	actions, err := s.store.Actions(ctx)
	if err != nil {
		return nil, err
	}

	var due []models.Action
	for _, a := range actions {
		if !a.Done && models.SameDay(a.Date, day) {
			due = append(due, a)
		}
	}
	if len(due) == 0 {
		return nil, nil
	}

	batches, err := s.store.Batches(ctx)
	if err != nil {
		return nil, err
	}
	titles := make(map[int]string, len(batches))
	for _, b := range batches {
		if _, ok := titles[b.ID]; !ok {
			titles[b.ID] = b.Title()
		}
	}

	out := make([]models.DueAction, 0, len(due))
	for _, a := range due {
		title, ok := titles[a.BatchID]
		if !ok {
			title = models.FallbackTitle(a.BatchID)
		}
		out = append(out, models.DueAction{Action: a, Title: title})
	}
	return out, nil
}

// Today lists the pending actions for the current local date.
func (s *Service) Today(ctx context.Context) ([]models.DueAction, error) {
	return s.Due(ctx, s.now())
}

// Title resolves the display title of a batch, falling back to its identifier.
func (s *Service) Title(ctx context.Context, batchID int) string {
	batch, err := s.store.Batch(ctx, batchID)
	if err != nil {
		return models.FallbackTitle(batchID)
	}
	return batch.Title()
}

func (s *Service) scheduleIDs(ctx context.Context, product string) (map[string]struct{}, error) {
	recipes, err := s.store.Recipes(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{})
	for _, r := range recipes {
		if r.Product == product && r.ScheduleID != "" {
			ids[r.ScheduleID] = struct{}{}
		}
	}
	return ids, nil
}

func hasActions(actions []models.Action, batchID int) bool {
	for _, a := range actions {
		if a.BatchID == batchID {
			return true
		}
	}
	return false
}
