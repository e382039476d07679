package reporting

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/affinage/internal/domain/models"
	"github.com/mamadbah2/affinage/internal/repository/records"
)

// StockLine aggregates the active stock of one product and milk type.
type StockLine struct {
	Product   string          `json:"product"`
	Milk      models.MilkType `json:"milk_type"`
	Batches   int             `json:"batches"`
	Remaining int             `json:"remaining"`
}

// Service exposes lightweight summaries for chat replies and the HTTP API.
type Service struct {
	store  *records.Store
	logger *zap.Logger
}

// NewService wires a new reporting service instance.
func NewService(store *records.Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger}
}

// Stock groups active batches with units left by product and milk type,
// sorted by product then milk.
func (s *Service) Stock(ctx context.Context) ([]StockLine, error) {
	batches, err := s.store.Batches(ctx)
	if err != nil {
		return nil, fmt.Errorf("load batches: %w", err)
	}

	type key struct {
		product string
		milk    models.MilkType
	}
	lines := make(map[key]*StockLine)
	for _, b := range batches {
		if !b.Active() || b.Remaining <= 0 {
			continue
		}
		k := key{product: b.Product, milk: b.Milk}
		line, ok := lines[k]
		if !ok {
			line = &StockLine{Product: b.Product, Milk: b.Milk}
			lines[k] = line
		}
		line.Batches++
		line.Remaining += b.Remaining
	}

	out := make([]StockLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, *line)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Product != out[j].Product {
			return out[i].Product < out[j].Product
		}
		return out[i].Milk < out[j].Milk
	})
	return out, nil
}

// StockSummary renders Stock as a chat message.
func (s *Service) StockSummary(ctx context.Context) (string, error) {
	lines, err := s.Stock(ctx)
	if err != nil {
		return "", err
	}
	if len(lines) == 0 {
		return "Stock: nothing left in active batches.", nil
	}

	var b strings.Builder
	b.WriteString("Stock:")
	for _, line := range lines {
		fmt.Fprintf(&b, "\n• %s (%s): %d units in %d batches", line.Product, line.Milk, line.Remaining, line.Batches)
	}
	return b.String(), nil
}

// SalesSummary totals the sales logged between start and end, inclusive.
func (s *Service) SalesSummary(ctx context.Context, start, end time.Time) (string, error) {
	sales, err := s.store.Sales(ctx)
	if err != nil {
		return "", fmt.Errorf("load sales: %w", err)
	}

	start, end = models.Day(start), models.Day(end)
	var units, entries int
	for _, sale := range sales {
		if sale.Date.Before(start) || sale.Date.After(end) {
			continue
		}
		units += sale.Quantity
		entries++
	}

	if entries == 0 {
		return fmt.Sprintf("Sales (%s-%s): no sales yet.", start.Format(models.DateLayout), end.Format(models.DateLayout)), nil
	}
	return fmt.Sprintf("Sales (%s-%s): %d units across %d sales.", start.Format(models.DateLayout), end.Format(models.DateLayout), units, entries), nil
}
