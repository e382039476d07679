package completion

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

// Notifier pushes a message to one operator.
type Notifier interface {
	SendOutbound(ctx context.Context, req models.OutboundMessageRequest) error
}

// Archive stores completion events.
type Archive interface {
	SaveCompletion(ctx context.Context, event models.CompletionEvent) error
}

// Result describes what MarkDone did.
type Result struct {
	Action      models.Action
	Title       string
	AlreadyDone bool
	Notified    int
	Failed      int
}

// Service moves actions from Pending to Done and tells every active subscriber.
type Service struct {
	store    *records.Store
	notifier Notifier
	archive  Archive
	logger   *zap.Logger
	now      func() time.Time
}

// NewService wires the completion tracker. archive may be nil.
func NewService(store *records.Store, notifier Notifier, archive Archive, loc *time.Location, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		store:    store,
		notifier: notifier,
		archive:  archive,
		logger:   logger,
		now:      func() time.Time { return time.Now().In(loc) },
	}
}

// MarkDone completes the referenced action on behalf of who. The first caller
// wins: an action that is already done is returned untouched together with
// ErrAlreadyDone. After a successful transition every active subscriber,
// including who, is notified; delivery failures are logged and skipped.
func (s *Service) MarkDone(ctx context.Context, ref models.ActionRef, who string) (Result, error) {
	who = strings.TrimSpace(who)
	if who == "" {
		return Result{}, models.Invalid("completing operator must be named")
	}

	var res Result
	err := s.store.Mutate(func() error {
		s.store.Refresh(records.TableActions)
		action, err := s.store.Action(ctx, ref)
		if err != nil {
			return err
		}
		res.Action = action
		if action.Done {
			res.AlreadyDone = true
			return fmt.Errorf("action row %d done by %s: %w", ref.Row, action.CompletedBy, models.ErrAlreadyDone)
		}

		at := s.now()
		if err := s.store.CompleteAction(ctx, action.Row, who, at); err != nil {
			return err
		}
		res.Action.Done = true
		res.Action.CompletedBy = who
		res.Action.CompletedAt = at
		return nil
	})
	if err != nil {
		return res, err
	}

	metrics.ActionsCompleted.Inc()
	res.Title = s.title(ctx, res.Action.BatchID)
	s.logger.Info("action completed",
		zap.Int("batch_id", res.Action.BatchID),
		zap.Int("row", res.Action.Row),
		zap.String("who", who))

	res.Notified, res.Failed = s.broadcast(ctx, res)
	s.archiveCompletion(ctx, res)
	return res, nil
}

func (s *Service) broadcast(ctx context.Context, res Result) (int, int) {
	subs, err := s.store.ActiveSubscribers(ctx)
	if err != nil {
		s.logger.Error("load subscribers for completion broadcast", zap.Error(err))
		return 0, 0
	}

	text := fmt.Sprintf("✅ %s completed:\n%s\n— %s", res.Action.CompletedBy, res.Title, res.Action.Description)
	sent, failed := 0, 0
	for _, sub := range subs {
		err := s.notifier.SendOutbound(ctx, models.OutboundMessageRequest{To: sub.Identity, Message: text})
		if err != nil {
			failed++
			metrics.Notifications.WithLabelValues(metrics.KindCompletion, metrics.OutcomeFailed).Inc()
			s.logger.Warn("completion broadcast failed", zap.String("to", sub.Identity), zap.Error(err))
			continue
		}
		sent++
		metrics.Notifications.WithLabelValues(metrics.KindCompletion, metrics.OutcomeSent).Inc()
	}
	return sent, failed
}

func (s *Service) archiveCompletion(ctx context.Context, res Result) {
	if s.archive == nil {
		return
	}
	event := models.CompletionEvent{
		BatchID:     res.Action.BatchID,
		Row:         res.Action.Row,
		ActionDate:  res.Action.Date.Format(models.DateLayout),
		Description: res.Action.Description,
		CompletedBy: res.Action.CompletedBy,
		CompletedAt: res.Action.CompletedAt,
		Notified:    res.Notified,
	}
	if err := s.archive.SaveCompletion(ctx, event); err != nil {
		s.logger.Warn("archive completion", zap.Error(err))
	}
}

func (s *Service) title(ctx context.Context, batchID int) string {
	batch, err := s.store.Batch(ctx, batchID)
	if err != nil {
		return models.FallbackTitle(batchID)
	}
	return batch.Title()
}
