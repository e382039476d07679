package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/affinage/internal/domain/models"
	"github.com/mamadbah2/affinage/internal/scheduler"
	"github.com/mamadbah2/affinage/internal/service/ledger"
)

// ErrUnsupportedCommand indicates we do not yet support the requested command.
var ErrUnsupportedCommand = errors.New("unsupported command")

const (
	batchUsage = "Usage: /batch <product> <milk> <qty> [#serial ...], e.g. /batch Camembert cow 12"
	saleUsage  = "Usage: /sale <batch id> <qty> [customer] or /sale #<serial> [qty] [customer]"
	stockUsage = "Usage: /stock [product] [milk] [YYYY-MM-DD]"
)

// Ledger is the batch ledger surface the chat commands use.
type Ledger interface {
	CreateBatch(ctx context.Context, req ledger.NewBatch) (ledger.Created, error)
	RecordSale(ctx context.Context, sale ledger.Sale) (models.Batch, error)
	FindByUnitSerial(ctx context.Context, serial string) (models.Batch, error)
	Available(ctx context.Context, f ledger.Filter) ([]models.Batch, error)
	Products(ctx context.Context) ([]string, error)
}

// Agenda lists today's due actions.
type Agenda interface {
	Today(ctx context.Context) ([]models.DueAction, error)
}

// Registry manages notification subscriptions.
type Registry interface {
	Subscribe(ctx context.Context, identity, name string) (models.Subscriber, bool, error)
	Unsubscribe(ctx context.Context, identity string) error
}

// DispatchTrigger starts the daily dispatcher on demand without waiting for it.
type DispatchTrigger interface {
	RunAsync(trigger string) error
}

// ReportingAdapter defines the summaries appended to replies.
type ReportingAdapter interface {
	StockSummary(ctx context.Context) (string, error)
	SalesSummary(ctx context.Context, start, end time.Time) (string, error)
}

// Reply is the outcome of a command. Actions, when set, are sent to the
// requester as separate messages with a Done button each.
type Reply struct {
	Text    string
	Actions []models.DueAction
}

// Dispatcher executes parsed commands.
type Dispatcher interface {
	HandleCommand(ctx context.Context, cmd models.Command, sender models.Sender) (Reply, error)
}

// Service implements the Dispatcher interface.
type Service struct {
	ledger     Ledger
	agenda     Agenda
	registry   Registry
	dispatcher DispatchTrigger
	reporting  ReportingAdapter
	logger     *zap.Logger
	now        func() time.Time
}

// NewService constructs a command dispatcher. reporting may be nil.
func NewService(l Ledger, agenda Agenda, registry Registry, dispatcher DispatchTrigger, reporting ReportingAdapter, loc *time.Location, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		ledger:     l,
		agenda:     agenda,
		registry:   registry,
		dispatcher: dispatcher,
		reporting:  reporting,
		logger:     logger,
		now:        func() time.Time { return time.Now().In(loc) },
	}
}

// HandleCommand runs cmd on behalf of sender. Validation and not-found
// failures are returned as errors for the caller to turn into prompts.
func (s *Service) HandleCommand(ctx context.Context, cmd models.Command, sender models.Sender) (Reply, error) {
	s.logger.Debug("dispatching command", zap.String("command", string(cmd.Type)), zap.String("sender", sender.ID), zap.Strings("args", cmd.Args))

	switch cmd.Type {
	case models.CommandStart:
		return s.start(ctx, sender)
	case models.CommandStop:
		if err := s.registry.Unsubscribe(ctx, sender.ID); err != nil {
			return Reply{}, err
		}
		return Reply{Text: "You will no longer receive daily tasks. Send /start to subscribe again."}, nil
	case models.CommandBatch:
		return s.createBatch(ctx, cmd)
	case models.CommandSale:
		return s.recordSale(ctx, cmd, sender)
	case models.CommandStock:
		return s.stock(ctx, cmd)
	case models.CommandToday:
		return s.today(ctx)
	case models.CommandCheck:
		return s.check(ctx)
	case models.CommandHelp:
		return Reply{Text: s.help(ctx)}, nil
	default:
		return Reply{}, ErrUnsupportedCommand
	}
}

func (s *Service) start(ctx context.Context, sender models.Sender) (Reply, error) {
	sub, changed, err := s.registry.Subscribe(ctx, sender.ID, sender.DisplayName())
	if err != nil {
		return Reply{}, err
	}
	if !changed {
		return Reply{Text: fmt.Sprintf("%s, you are already subscribed to daily tasks.", sub.Name)}, nil
	}
	return Reply{Text: fmt.Sprintf("Welcome %s! You will receive the daily cheese care tasks.\n\n%s", sub.Name, s.help(ctx))}, nil
}

func (s *Service) createBatch(ctx context.Context, cmd models.Command) (Reply, error) {
	req, err := parseBatchArgs(cmd.Args)
	if err != nil {
		return Reply{}, err
	}

	created, err := s.ledger.CreateBatch(ctx, req)
	if err != nil {
		return Reply{}, err
	}

	b := created.Batch
	message := fmt.Sprintf("Batch %d created: %s, %d units (%s milk).", b.ID, b.Product, b.InitialQty, b.Milk)
	switch {
	case created.ActionsErr != nil:
		message += "\nCare tasks could not be scheduled yet; they will be retried before the next daily run."
	case created.Actions.Created > 0:
		message += fmt.Sprintf("\n%d care tasks scheduled.", created.Actions.Created)
	default:
		message += "\nNo care schedule found for this product."
	}
	if n := len(created.Actions.Diagnostics); n > 0 {
		message += fmt.Sprintf("\n%d schedule steps were skipped because their day offset is not a number.", n)
	}
	return Reply{Text: message}, nil
}

func (s *Service) recordSale(ctx context.Context, cmd models.Command, sender models.Sender) (Reply, error) {
	sale, err := s.parseSaleArgs(ctx, cmd.Args)
	if err != nil {
		return Reply{}, err
	}
	sale.Who = sender.DisplayName()

	batch, err := s.ledger.RecordSale(ctx, sale)
	if err != nil {
		return Reply{}, err
	}

	message := fmt.Sprintf("Sale recorded: %d from %s. %d left.", sale.Quantity, batch.Title(), batch.Remaining)
	if !batch.Active() {
		message += " The batch is now sold out."
	}

	now := s.now()
	summary := s.safeSummary(ctx, func(ctx context.Context) (string, error) {
		if s.reporting == nil {
			return "", nil
		}
		return s.reporting.SalesSummary(ctx, mondayStart(now), now)
	})
	if summary != "" {
		message += "\n" + summary
	}
	return Reply{Text: message}, nil
}

func (s *Service) stock(ctx context.Context, cmd models.Command) (Reply, error) {
	if len(cmd.Args) == 0 {
		if s.reporting == nil {
			return Reply{}, models.Invalid(stockUsage)
		}
		summary, err := s.reporting.StockSummary(ctx)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Text: summary}, nil
	}

	filter, err := parseStockArgs(cmd.Args)
	if err != nil {
		return Reply{}, err
	}
	batches, err := s.ledger.Available(ctx, filter)
	if err != nil {
		return Reply{}, err
	}
	if len(batches) == 0 {
		return Reply{Text: fmt.Sprintf("No available batches of %s.", filter.Product)}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Available %s:", filter.Product)
	for _, batch := range batches {
		fmt.Fprintf(&b, "\n• %s: %d left, %s milk, made %s", batch.Title(), batch.Remaining, batch.Milk, batch.CreatedOn.Format(models.DateLayout))
	}
	return Reply{Text: b.String()}, nil
}

func (s *Service) today(ctx context.Context) (Reply, error) {
	due, err := s.agenda.Today(ctx)
	if err != nil {
		return Reply{}, err
	}
	if len(due) == 0 {
		return Reply{Text: "Nothing to do today 🎉"}, nil
	}
	return Reply{Text: fmt.Sprintf("%d tasks due today:", len(due)), Actions: due}, nil
}

// check answers before delivery starts: the webhook must ack Meta quickly or
// the /check is redelivered.
func (s *Service) check(ctx context.Context) (Reply, error) {
	err := s.dispatcher.RunAsync(scheduler.TriggerManual)
	if errors.Is(err, scheduler.ErrRunInProgress) {
		return Reply{Text: "A dispatch is already running, try again in a moment."}, nil
	}
	if err != nil {
		return Reply{}, err
	}
	s.logger.Info("manual dispatch started")
	return Reply{Text: "Check started: today's tasks are on their way to every subscriber."}, nil
}

func (s *Service) help(ctx context.Context) string {
	text := "Commands:\n" +
		"/batch <product> <milk> <qty> [#serial] - register a batch\n" +
		"/sale <batch id> <qty> [customer] - record a sale\n" +
		"/sale #<serial> [qty] [customer] - sell a numbered wheel\n" +
		"/stock [product] [milk] [date] - available stock\n" +
		"/today - today's care tasks\n" +
		"/check - send today's tasks to everyone now\n" +
		"/start, /stop - subscribe or unsubscribe"

	products, err := s.ledger.Products(ctx)
	if err != nil {
		s.logger.Debug("product list unavailable for help", zap.Error(err))
		return text
	}
	if len(products) > 0 {
		text += "\n\nProducts: " + strings.Join(products, ", ")
	}
	return text
}

func (s *Service) safeSummary(ctx context.Context, fn func(context.Context) (string, error)) string {
	summary, err := fn(ctx)
	if err != nil {
		s.logger.Debug("summary failed", zap.Error(err))
		return ""
	}
	return summary
}

// parseBatchArgs reads "<product words...> <milk> <qty> [#serial ...]".
// Serials make the batch a single-unit batch.
func parseBatchArgs(args []string) (ledger.NewBatch, error) {
	end := len(args)
	var serials []string
	for end > 0 && strings.HasPrefix(args[end-1], "#") {
		serials = append([]string{strings.TrimPrefix(args[end-1], "#")}, serials...)
		end--
	}
	if end < 3 {
		return ledger.NewBatch{}, models.Invalid(batchUsage)
	}

	qty, err := strconv.Atoi(args[end-1])
	if err != nil {
		return ledger.NewBatch{}, models.Invalid("quantity %q is not a number. %s", args[end-1], batchUsage)
	}
	milk, err := models.ParseMilkType(args[end-2])
	if err != nil {
		return ledger.NewBatch{}, err
	}

	req := ledger.NewBatch{
		Product:  strings.Join(args[:end-2], " "),
		Milk:     milk,
		Quantity: qty,
		Kind:     models.KindBatch,
		Serials:  serials,
	}
	if len(serials) > 0 {
		req.Kind = models.KindSingleUnit
	}
	return req, nil
}

func (s *Service) parseSaleArgs(ctx context.Context, args []string) (ledger.Sale, error) {
	if len(args) == 0 {
		return ledger.Sale{}, models.Invalid(saleUsage)
	}

	if serial, ok := strings.CutPrefix(args[0], "#"); ok {
		batch, err := s.ledger.FindByUnitSerial(ctx, serial)
		if err != nil {
			return ledger.Sale{}, err
		}
		sale := ledger.Sale{BatchID: batch.ID, Quantity: 1}
		rest := args[1:]
		if len(rest) > 0 {
			if qty, err := strconv.Atoi(rest[0]); err == nil {
				sale.Quantity = qty
				rest = rest[1:]
			}
		}
		sale.Customer = strings.Join(rest, " ")
		return sale, nil
	}

	if len(args) < 2 {
		return ledger.Sale{}, models.Invalid(saleUsage)
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return ledger.Sale{}, models.Invalid("batch id %q is not a number. %s", args[0], saleUsage)
	}
	qty, err := strconv.Atoi(args[1])
	if err != nil {
		return ledger.Sale{}, models.Invalid("quantity %q is not a number. %s", args[1], saleUsage)
	}
	return ledger.Sale{BatchID: id, Quantity: qty, Customer: strings.Join(args[2:], " ")}, nil
}

// parseStockArgs reads "<product words...> [milk] [YYYY-MM-DD]".
func parseStockArgs(args []string) (ledger.Filter, error) {
	var f ledger.Filter
	end := len(args)

	if end > 1 {
		if day, err := time.Parse(models.DateLayout, args[end-1]); err == nil {
			f.Date = day
			end--
		}
	}
	if end > 1 {
		if milk, err := models.ParseMilkType(args[end-1]); err == nil {
			f.Milk = milk
			end--
		}
	}
	f.Product = strings.Join(args[:end], " ")
	if f.Product == "" {
		return ledger.Filter{}, models.Invalid(stockUsage)
	}
	return f, nil
}

func mondayStart(t time.Time) time.Time {
	weekday := int(t.Weekday())
	daysSinceMonday := (weekday + 6) % 7
	start := t.AddDate(0, 0, -daysSinceMonday)
	return time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
}
