package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/affinage/internal/domain/models"
	"github.com/mamadbah2/affinage/internal/scheduler"
	"github.com/mamadbah2/affinage/internal/service/completion"
	"github.com/mamadbah2/affinage/internal/service/ledger"
	"github.com/mamadbah2/affinage/internal/service/reporting"
)

// Ledger is the batch ledger surface exposed over HTTP.
type Ledger interface {
	CreateBatch(ctx context.Context, req ledger.NewBatch) (ledger.Created, error)
	RecordSale(ctx context.Context, sale ledger.Sale) (models.Batch, error)
}

// Completer marks actions done.
type Completer interface {
	MarkDone(ctx context.Context, ref models.ActionRef, who string) (completion.Result, error)
}

// Agenda lists today's due actions.
type Agenda interface {
	Today(ctx context.Context) ([]models.DueAction, error)
}

// Dispatcher runs the daily dispatch on demand.
type Dispatcher interface {
	Run(ctx context.Context, trigger string) (models.DispatchReport, error)
}

// StockReporter aggregates active stock.
type StockReporter interface {
	Stock(ctx context.Context) ([]reporting.StockLine, error)
}

// LedgerHandler serves the JSON API over the ledger, actions and dispatcher.
type LedgerHandler struct {
	ledger     Ledger
	completer  Completer
	agenda     Agenda
	dispatcher Dispatcher
	reporter   StockReporter
	logger     *zap.Logger
}

// NewLedgerHandler constructs the API handler.
func NewLedgerHandler(l Ledger, completer Completer, agenda Agenda, dispatcher Dispatcher, reporter StockReporter, logger *zap.Logger) *LedgerHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerHandler{
		ledger:     l,
		completer:  completer,
		agenda:     agenda,
		dispatcher: dispatcher,
		reporter:   reporter,
		logger:     logger,
	}
}

type createBatchRequest struct {
	Product  string   `json:"product" binding:"required"`
	MilkType string   `json:"milk_type" binding:"required"`
	Quantity int      `json:"quantity" binding:"required,gt=0"`
	Kind     string   `json:"kind"`
	Serials  []string `json:"serials"`
}

type createBatchResponse struct {
	Batch          models.Batch `json:"batch"`
	ActionsCreated int          `json:"actions_created"`
	Diagnostics    []string     `json:"diagnostics,omitempty"`
	ActionsError   string       `json:"actions_error,omitempty"`
}

type recordSaleRequest struct {
	BatchID  int    `json:"batch_id" binding:"required,gt=0"`
	Quantity int    `json:"quantity" binding:"required,gt=0"`
	Customer string `json:"customer"`
	Who      string `json:"who" binding:"required"`
}

type markDoneRequest struct {
	Row     int    `json:"row" binding:"required,gt=1"`
	BatchID int    `json:"batch_id" binding:"required,gt=0"`
	Who     string `json:"who" binding:"required"`
}

type dueActionResponse struct {
	Ref         string `json:"ref"`
	BatchID     int    `json:"batch_id"`
	Title       string `json:"title"`
	Date        string `json:"date"`
	Description string `json:"description"`
}

// CreateBatch handles POST /api/batches.
func (h *LedgerHandler) CreateBatch(c *gin.Context) {
	var req createBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := h.ledger.CreateBatch(c.Request.Context(), ledger.NewBatch{
		Product:  req.Product,
		Milk:     models.MilkType(req.MilkType),
		Quantity: req.Quantity,
		Kind:     models.BatchKind(req.Kind),
		Serials:  req.Serials,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := createBatchResponse{Batch: created.Batch, ActionsCreated: created.Actions.Created}
	for _, d := range created.Actions.Diagnostics {
		resp.Diagnostics = append(resp.Diagnostics, d.Error())
	}
	if created.ActionsErr != nil {
		resp.ActionsError = created.ActionsErr.Error()
	}
	c.JSON(http.StatusCreated, resp)
}

// RecordSale handles POST /api/sales.
func (h *LedgerHandler) RecordSale(c *gin.Context) {
	var req recordSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	batch, err := h.ledger.RecordSale(c.Request.Context(), ledger.Sale{
		BatchID:  req.BatchID,
		Quantity: req.Quantity,
		Customer: req.Customer,
		Who:      req.Who,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"batch_id": batch.ID, "remaining": batch.Remaining, "status": batch.Status})
}

// MarkDone handles POST /api/actions/done. Completing an action twice is not
// an error; the response says it was already done.
func (h *LedgerHandler) MarkDone(c *gin.Context) {
	var req markDoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.completer.MarkDone(c.Request.Context(), models.ActionRef{Row: req.Row, BatchID: req.BatchID}, req.Who)
	if err != nil && !errors.Is(err, models.ErrAlreadyDone) {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"already_done": res.AlreadyDone,
		"action":       res.Action,
		"notified":     res.Notified,
	})
}

// DueActions handles GET /api/actions/due.
func (h *LedgerHandler) DueActions(c *gin.Context) {
	due, err := h.agenda.Today(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}

	out := make([]dueActionResponse, 0, len(due))
	for _, d := range due {
		out = append(out, dueActionResponse{
			Ref:         d.Ref().String(),
			BatchID:     d.BatchID,
			Title:       d.Title,
			Date:        d.Date.Format(models.DateLayout),
			Description: d.Description,
		})
	}
	c.JSON(http.StatusOK, gin.H{"actions": out})
}

// Stock handles GET /api/stock.
func (h *LedgerHandler) Stock(c *gin.Context) {
	lines, err := h.reporter.Stock(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stock": lines})
}

// Dispatch handles POST /api/dispatch.
func (h *LedgerHandler) Dispatch(c *gin.Context) {
	report, err := h.dispatcher.Run(c.Request.Context(), scheduler.TriggerManual)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *LedgerHandler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("api request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrOverSale), errors.Is(err, scheduler.ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, models.ErrTransientIO):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
