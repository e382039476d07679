package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mamadbah2/affinage/internal/config"
	"github.com/mamadbah2/affinage/internal/domain/models"
	"github.com/mamadbah2/affinage/internal/metrics"
)

// Run triggers.
const (
	TriggerCron   = "cron"
	TriggerManual = "manual"
)

// ErrRunInProgress is returned when a dispatch is requested while one is still delivering.
var ErrRunInProgress = errors.New("dispatch run already in progress")

// Agenda lists due actions and repairs missing generations.
type Agenda interface {
	Today(ctx context.Context) ([]models.DueAction, error)
	Reconcile(ctx context.Context) (int, error)
}

// Subscribers lists who receives notifications.
type Subscribers interface {
	Active(ctx context.Context) ([]models.Subscriber, error)
}

// Auditor reports ledger discrepancies.
type Auditor interface {
	Audit(ctx context.Context) ([]models.Discrepancy, error)
}

// Notifier pushes a message to one operator.
type Notifier interface {
	SendOutbound(ctx context.Context, req models.OutboundMessageRequest) error
}

// Archive stores dispatch reports.
type Archive interface {
	SaveDispatchReport(ctx context.Context, report models.DispatchReport) error
}

// Scheduler is the daily dispatcher: once per local day it sends every active
// subscriber one message per due and pending action. Runs never overlap.
type Scheduler struct {
	cron        *cron.Cron
	spec        string
	timeout     time.Duration
	agenda      Agenda
	subscribers Subscribers
	auditor     Auditor
	notifier    Notifier
	archive     Archive
	logger      *zap.Logger
	now         func() time.Time
	running     atomic.Bool
	background  sync.WaitGroup
}

// NewScheduler creates the dispatcher. auditor and archive may be nil.
func NewScheduler(cfg config.ScheduleConfig, loc *time.Location, agenda Agenda, subscribers Subscribers, auditor Auditor, notifier Notifier, archive Archive, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.Local
	}

	cronLog := cronLogger{sugar: logger.Sugar()}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)

	return &Scheduler{
		cron:        c,
		spec:        cfg.DailyCron,
		timeout:     cfg.DispatchTimeout,
		agenda:      agenda,
		subscribers: subscribers,
		auditor:     auditor,
		notifier:    notifier,
		archive:     archive,
		logger:      logger,
		now:         func() time.Time { return time.Now().In(loc) },
	}
}

// Start registers the daily job and starts the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.scheduledRun); err != nil {
		return fmt.Errorf("schedule daily dispatch %q: %w", s.spec, err)
	}
	s.logger.Info("starting scheduler", zap.String("spec", s.spec))
	s.cron.Start()
	return nil
}

// Stop stops the cron loop and waits for a running job, scheduled or
// started with RunAsync, to finish.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	<-s.cron.Stop().Done()
	s.background.Wait()
}

func (s *Scheduler) scheduledRun() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.Run(ctx, TriggerCron); err != nil {
		s.logger.Error("scheduled dispatch failed", zap.Error(err))
	}
}

// Run performs one dispatch. It returns ErrRunInProgress without doing
// anything if another run has not finished.
func (s *Scheduler) Run(ctx context.Context, trigger string) (models.DispatchReport, error) {
	if !s.acquire() {
		return models.DispatchReport{}, ErrRunInProgress
	}
	defer s.running.Store(false)
	return s.dispatch(ctx, trigger)
}

// RunAsync claims the run token and dispatches on its own goroutine, bounded
// by the dispatch timeout. It returns ErrRunInProgress when the token is taken;
// the outcome of a started run is only logged and archived.
func (s *Scheduler) RunAsync(trigger string) error {
	if !s.acquire() {
		return ErrRunInProgress
	}
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		defer s.running.Store(false)

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if _, err := s.dispatch(ctx, trigger); err != nil {
			s.logger.Error("background dispatch failed", zap.String("trigger", trigger), zap.Error(err))
		}
	}()
	return nil
}

func (s *Scheduler) acquire() bool {
	if !s.running.CompareAndSwap(false, true) {
		metrics.DispatchRuns.WithLabelValues("skipped").Inc()
		return false
	}
	return true
}

func (s *Scheduler) dispatch(ctx context.Context, trigger string) (models.DispatchReport, error) {
	started := s.now()
	report := models.DispatchReport{
		Date:      started.Format(models.DateLayout),
		Trigger:   trigger,
		StartedAt: started,
	}

	s.prepare(ctx)

	due, err := s.agenda.Today(ctx)
	if err != nil {
		metrics.DispatchRuns.WithLabelValues("failed").Inc()
		return report, fmt.Errorf("load due actions: %w", err)
	}
	report.DueActions = len(due)

	if len(due) == 0 {
		s.logger.Info("no actions due today", zap.String("date", report.Date))
		return s.finish(ctx, report), nil
	}

	subs, err := s.subscribers.Active(ctx)
	if err != nil {
		metrics.DispatchRuns.WithLabelValues("failed").Inc()
		return report, fmt.Errorf("load subscribers: %w", err)
	}
	report.Subscribers = len(subs)

	for _, sub := range subs {
		for _, task := range due {
			req := models.OutboundMessageRequest{
				To:      sub.Identity,
				Message: task.Text(),
				Buttons: []models.ReplyButton{models.DoneButton(task.Ref())},
			}
			if err := s.notifier.SendOutbound(ctx, req); err != nil {
				report.Failed++
				metrics.Notifications.WithLabelValues(metrics.KindDaily, metrics.OutcomeFailed).Inc()
				s.logger.Warn("daily notification failed",
					zap.String("to", sub.Identity),
					zap.Int("batch_id", task.BatchID),
					zap.Error(err))
				continue
			}
			report.Sent++
			metrics.Notifications.WithLabelValues(metrics.KindDaily, metrics.OutcomeSent).Inc()
		}
	}

	return s.finish(ctx, report), nil
}

// prepare repairs missing generations and surfaces ledger drift before sending.
// Failures here are logged; they must not block the day's notifications.
func (s *Scheduler) prepare(ctx context.Context) {
	created, err := s.agenda.Reconcile(ctx)
	if err != nil {
		s.logger.Error("action reconciliation incomplete", zap.Error(err))
	}
	if created > 0 {
		s.logger.Info("reconciliation generated missing actions", zap.Int("created", created))
	}

	if s.auditor == nil {
		return
	}
	discrepancies, err := s.auditor.Audit(ctx)
	if err != nil {
		s.logger.Warn("ledger audit failed", zap.Error(err))
		return
	}
	for _, d := range discrepancies {
		s.logger.Warn("batch remaining disagrees with sales log",
			zap.Int("batch_id", d.BatchID),
			zap.Int("remaining", d.Remaining),
			zap.Int("expected", d.Expected))
	}
}

func (s *Scheduler) finish(ctx context.Context, report models.DispatchReport) models.DispatchReport {
	report.FinishedAt = s.now()
	metrics.DispatchRuns.WithLabelValues("completed").Inc()
	metrics.DispatchDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())

	s.logger.Info("dispatch finished",
		zap.String("trigger", report.Trigger),
		zap.Int("due", report.DueActions),
		zap.Int("subscribers", report.Subscribers),
		zap.Int("sent", report.Sent),
		zap.Int("failed", report.Failed))

	if s.archive != nil {
		if err := s.archive.SaveDispatchReport(ctx, report); err != nil {
			s.logger.Warn("archive dispatch report", zap.Error(err))
		}
	}
	return report
}

// cronLogger routes robfig/cron's logging through zap.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
