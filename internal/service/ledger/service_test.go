package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mamadbah2/affinage/internal/domain/models"
	"github.com/mamadbah2/affinage/internal/repository/records"
	"github.com/mamadbah2/affinage/internal/repository/sheets"
)

var today = time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)

type fakeGenerator struct {
	mu    sync.Mutex
	calls []int
	gen   models.Generation
	err   error
}

func (g *fakeGenerator) GenerateActions(_ context.Context, batchID int, batchDate time.Time, product string) (models.Generation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, batchID)
	gen := g.gen
	gen.BatchID = batchID
	return gen, g.err
}

func newLedger(t *testing.T, gen ActionGenerator) (*Service, *sheets.MemoryRepository) {
	t.Helper()
	store, repo := records.NewMemoryStore(time.Minute, nil)
	svc := NewService(store, gen, time.UTC, nil)
	svc.now = func() time.Time { return today }
	return svc, repo
}

func batchRow(id, product, milk, initial, remaining, serials, status string) []string {
	return []string{id, "2025-02-20", product, milk, initial, remaining, serials, "small", status, "TRUE"}
}

func remaining(t *testing.T, svc *Service, id int) models.Batch {
	t.Helper()
	b, err := svc.FindByID(context.Background(), id)
	require.NoError(t, err)
	return b
}

func TestCreateBatchOnEmptyLedgerAssignsOne(t *testing.T) {
	gen := &fakeGenerator{gen: models.Generation{Created: 3}}
	svc, _ := newLedger(t, gen)

	created, err := svc.CreateBatch(context.Background(), NewBatch{Product: " Camembert ", Milk: "cow", Quantity: 12})
	require.NoError(t, err)

	assert.Equal(t, 1, created.Batch.ID)
	assert.Equal(t, "Camembert", created.Batch.Product)
	assert.Equal(t, 12, created.Batch.Remaining)
	assert.Equal(t, models.KindBatch, created.Batch.Kind)
	assert.Equal(t, models.StatusActive, created.Batch.Status)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), created.Batch.CreatedOn)
	assert.Equal(t, 3, created.Actions.Created)
	assert.Equal(t, []int{1}, gen.calls)

	stored := remaining(t, svc, 1)
	assert.Equal(t, 12, stored.InitialQty)
	assert.False(t, stored.ActionsGenerated, "the flag belongs to the action scheduler")
}

func TestCreateBatchAfterGapUsesMaxPlusOne(t *testing.T) {
	svc, repo := newLedger(t, nil)
	repo.Seed(records.TableBatches,
		batchRow("1", "Brie", "cow", "5", "5", "", "Active"),
		batchRow("2", "Brie", "cow", "5", "5", "", "Active"),
		batchRow("5", "Brie", "cow", "5", "0", "", "Exhausted"),
	)

	created, err := svc.CreateBatch(context.Background(), NewBatch{Product: "Brie", Milk: "goat", Quantity: 4})
	require.NoError(t, err)
	assert.Equal(t, 6, created.Batch.ID)
}

func TestConcurrentCreatesGetDistinctIDs(t *testing.T) {
	svc, _ := newLedger(t, nil)

	const n = 20
	ids := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := svc.CreateBatch(context.Background(), NewBatch{Product: "Brie", Milk: "cow", Quantity: 1})
			if err == nil {
				ids <- created.Batch.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

func TestCreateBatchValidation(t *testing.T) {
	cases := map[string]NewBatch{
		"empty product":           {Product: " ", Milk: "cow", Quantity: 1},
		"zero quantity":           {Product: "Brie", Milk: "cow", Quantity: 0},
		"unknown milk":            {Product: "Brie", Milk: "oat", Quantity: 1},
		"unknown kind":            {Product: "Brie", Milk: "cow", Quantity: 1, Kind: "huge"},
		"single unit sans serial": {Product: "Gouda", Milk: "cow", Quantity: 1, Kind: models.KindSingleUnit},
	}

	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			svc, repo := newLedger(t, nil)
			_, err := svc.CreateBatch(context.Background(), req)
			assert.ErrorIs(t, err, models.ErrValidation)
			assert.Zero(t, repo.Calls(sheets.OpAppend, records.TableBatches))
		})
	}
}

func TestCreateBatchNormalisesSerialsAndMilk(t *testing.T) {
	svc, _ := newLedger(t, nil)

	created, err := svc.CreateBatch(context.Background(), NewBatch{
		Product:  "Gouda",
		Milk:     "Козье",
		Quantity: 2,
		Kind:     "big",
		Serials:  []string{"G1, G2", " "},
	})
	require.NoError(t, err)
	assert.Equal(t, models.MilkGoat, created.Batch.Milk)
	assert.Equal(t, []string{"G1", "G2"}, created.Batch.UnitSerials)

	stored := remaining(t, svc, created.Batch.ID)
	assert.Equal(t, []string{"G1", "G2"}, stored.UnitSerials)
	assert.Equal(t, models.KindSingleUnit, stored.Kind)
}

func TestCreateBatchKeepsBatchWhenGenerationFails(t *testing.T) {
	gen := &fakeGenerator{err: models.TransientIO("append actions", errors.New("timeout"))}
	svc, _ := newLedger(t, gen)

	created, err := svc.CreateBatch(context.Background(), NewBatch{Product: "Brie", Milk: "cow", Quantity: 3})
	require.NoError(t, err)
	assert.ErrorIs(t, created.ActionsErr, models.ErrTransientIO)
	assert.Equal(t, 3, remaining(t, svc, created.Batch.ID).Remaining)
}

func TestCreateBatchStoreFailure(t *testing.T) {
	svc, repo := newLedger(t, nil)
	repo.FailWith(func(op, table string) error {
		if op == sheets.OpAppend {
			return errors.New("503")
		}
		return nil
	})

	_, err := svc.CreateBatch(context.Background(), NewBatch{Product: "Brie", Milk: "cow", Quantity: 3})
	assert.ErrorIs(t, err, models.ErrTransientIO)
}

func TestDecrementSequence(t *testing.T) {
	ctx := context.Background()
	svc, repo := newLedger(t, nil)
	repo.Seed(records.TableBatches, batchRow("1", "Brie", "cow", "10", "10", "", "Active"))

	_, err := svc.Decrement(ctx, 1, 3)
	require.NoError(t, err)
	b, err := svc.Decrement(ctx, 1, 4)
	require.NoError(t, err)
	assert.Equal(t, 3, b.Remaining)

	_, err = svc.Decrement(ctx, 1, 4)
	assert.ErrorIs(t, err, models.ErrOverSale)
	assert.Equal(t, 3, remaining(t, svc, 1).Remaining)

	b, err = svc.Decrement(ctx, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, b.Remaining)
	assert.Equal(t, models.StatusExhausted, b.Status)

	stored := remaining(t, svc, 1)
	assert.Equal(t, 0, stored.Remaining)
	assert.Equal(t, models.StatusExhausted, stored.Status)

	_, err = svc.Decrement(ctx, 1, 0)
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = svc.Decrement(ctx, 9, 1)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestConcurrentDecrementsDoNotLoseUpdates(t *testing.T) {
	svc, repo := newLedger(t, nil)
	repo.Seed(records.TableBatches, batchRow("1", "Brie", "cow", "100", "100", "", "Active"))

	var wg sync.WaitGroup
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Decrement(context.Background(), 1, 2)
		}()
	}
	wg.Wait()

	b := remaining(t, svc, 1)
	assert.Equal(t, 0, b.Remaining, "50 decrements succeed, 10 are over-sales")
	assert.Equal(t, models.StatusExhausted, b.Status)
}

func TestFindByUnitSerial(t *testing.T) {
	ctx := context.Background()
	svc, repo := newLedger(t, nil)
	repo.Seed(records.TableBatches,
		batchRow("1", "Gouda", "cow", "1", "0", "17", "Exhausted"),
		batchRow("2", "Gouda", "cow", "2", "2", "16,17", "Active"),
		batchRow("3", "Gouda", "cow", "1", "1", "17", "Active"),
	)

	b, err := svc.FindByUnitSerial(ctx, "17")
	require.NoError(t, err)
	assert.Equal(t, 2, b.ID, "first active match in insertion order")

	_, err = svc.FindByUnitSerial(ctx, "99")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = svc.FindByUnitSerial(ctx, "  ")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestRecordSale(t *testing.T) {
	ctx := context.Background()
	svc, repo := newLedger(t, nil)
	repo.Seed(records.TableBatches, batchRow("1", "Brie", "cow", "10", "10", "", "Active"))

	b, err := svc.RecordSale(ctx, Sale{BatchID: 1, Quantity: 4, Customer: "Hotel Splendid", Who: "Ana"})
	require.NoError(t, err)
	assert.Equal(t, 6, b.Remaining)

	tbl, err := repo.ListRows(ctx, records.TableSales)
	require.NoError(t, err)
	require.Len(t, tbl.Rows, 1)
	assert.Equal(t, []string{"2025-03-01", "1", "4", "Hotel Splendid", "Ana", "2025-03-01 10:30:00"}, tbl.Rows[0].Values)
}

func TestRecordSaleOverSaleWritesNothing(t *testing.T) {
	ctx := context.Background()
	svc, repo := newLedger(t, nil)
	repo.Seed(records.TableBatches, batchRow("1", "Brie", "cow", "10", "2", "", "Active"))

	_, err := svc.RecordSale(ctx, Sale{BatchID: 1, Quantity: 3, Who: "Ana"})
	assert.ErrorIs(t, err, models.ErrOverSale)
	assert.Zero(t, repo.Calls(sheets.OpAppend, records.TableSales))
	assert.Zero(t, repo.Calls(sheets.OpUpdate, records.TableBatches))

	_, err = svc.RecordSale(ctx, Sale{BatchID: 2, Quantity: 1, Who: "Ana"})
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = svc.RecordSale(ctx, Sale{BatchID: 1, Quantity: 1})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestRecordSaleRetryAppliesOnlyTheMissingDecrement(t *testing.T) {
	ctx := context.Background()
	svc, repo := newLedger(t, nil)
	repo.Seed(records.TableBatches, batchRow("1", "Brie", "cow", "10", "10", "", "Active"))

	repo.FailWith(func(op, table string) error {
		if op == sheets.OpUpdate && table == records.TableBatches {
			return errors.New("connection reset")
		}
		return nil
	})
	_, err := svc.RecordSale(ctx, Sale{BatchID: 1, Quantity: 3, Who: "Ana"})
	require.ErrorIs(t, err, models.ErrTransientIO)

	repo.FailWith(nil)
	b, err := svc.RecordSale(ctx, Sale{BatchID: 1, Quantity: 3, Who: "Ana"})
	require.NoError(t, err)
	assert.Equal(t, 7, b.Remaining)

	tbl, err := repo.ListRows(ctx, records.TableSales)
	require.NoError(t, err)
	assert.Len(t, tbl.Rows, 1, "the sale is logged once")

	discrepancies, err := svc.Audit(ctx)
	require.NoError(t, err)
	assert.Empty(t, discrepancies)
}

func TestRecordSaleTreatedAsRetryIsLoggedAsWarning(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	store, repo := records.NewMemoryStore(time.Minute, nil)
	svc := NewService(store, nil, time.UTC, zap.New(core))
	svc.now = func() time.Time { return today }

	// Ana's first sale of 3 was logged but the batch still shows 10.
	repo.Seed(records.TableBatches, batchRow("1", "Brie", "cow", "10", "10", "", "Active"))
	repo.Seed(records.TableSales, []string{"2025-03-01", "1", "3", "", "Ana", "2025-03-01 10:00:00"})

	b, err := svc.RecordSale(context.Background(), Sale{BatchID: 1, Quantity: 3, Who: "Ana"})
	require.NoError(t, err)
	assert.Equal(t, 7, b.Remaining)

	entries := logs.FilterMessageSnippet("missing its decrement").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.EqualValues(t, 3, fields["gap"])
	assert.Equal(t, "Ana", fields["who"])
	assert.Contains(t, fields, "logged_at")
}

func TestRecordSaleDifferentSellerIsNotARetry(t *testing.T) {
	ctx := context.Background()
	svc, repo := newLedger(t, nil)
	repo.Seed(records.TableBatches, batchRow("1", "Brie", "cow", "10", "10", "", "Active"))
	repo.Seed(records.TableSales, []string{"2025-03-01", "1", "3", "", "Ana", "2025-03-01 10:00:00"})

	b, err := svc.RecordSale(ctx, Sale{BatchID: 1, Quantity: 3, Who: "Marko"})
	require.NoError(t, err)
	assert.Equal(t, 7, b.Remaining)

	tbl, err := repo.ListRows(ctx, records.TableSales)
	require.NoError(t, err)
	assert.Len(t, tbl.Rows, 2)
}

func TestSaleAfterLostAckBuildsOnCommittedRemaining(t *testing.T) {
	ctx := context.Background()
	svc, repo := newLedger(t, nil)
	repo.Seed(records.TableBatches, batchRow("1", "Brie", "cow", "10", "10", "", "Active"))
	require.Equal(t, 10, remaining(t, svc, 1).Remaining)

	lost := 0
	repo.LoseAckWith(func(op, table string) error {
		if op == sheets.OpUpdate && table == records.TableBatches && lost == 0 {
			lost++
			return errors.New("deadline exceeded")
		}
		return nil
	})
	_, err := svc.RecordSale(ctx, Sale{BatchID: 1, Quantity: 3, Who: "Ana"})
	require.ErrorIs(t, err, models.ErrTransientIO)

	tbl, err := repo.ListRows(ctx, records.TableBatches)
	require.NoError(t, err)
	require.Equal(t, "7", tbl.Rows[0].Values[models.BatchColRemaining-1], "the decrement was committed")

	b, err := svc.RecordSale(ctx, Sale{BatchID: 1, Quantity: 2, Who: "Boris"})
	require.NoError(t, err)
	assert.Equal(t, 5, b.Remaining)
	assert.Equal(t, 5, remaining(t, svc, 1).Remaining)

	discrepancies, err := svc.Audit(ctx)
	require.NoError(t, err)
	assert.Empty(t, discrepancies)
}

func TestDecrementAfterLostAckBuildsOnCommittedRemaining(t *testing.T) {
	ctx := context.Background()
	svc, repo := newLedger(t, nil)
	repo.Seed(records.TableBatches, batchRow("1", "Brie", "cow", "10", "10", "", "Active"))
	require.Equal(t, 10, remaining(t, svc, 1).Remaining)

	repo.LoseAckWith(func(op, table string) error {
		if op == sheets.OpUpdate {
			return errors.New("deadline exceeded")
		}
		return nil
	})
	_, err := svc.Decrement(ctx, 1, 3)
	require.ErrorIs(t, err, models.ErrTransientIO)

	repo.LoseAckWith(nil)
	b, err := svc.Decrement(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, b.Remaining)
}

func TestDecrementSeesHandEditedRemaining(t *testing.T) {
	ctx := context.Background()
	svc, repo := newLedger(t, nil)
	repo.Seed(records.TableBatches, batchRow("1", "Brie", "cow", "10", "10", "", "Active"))
	require.Equal(t, 10, remaining(t, svc, 1).Remaining)

	repo.SetCell(records.TableBatches, 2, models.BatchColRemaining, "4")

	_, err := svc.Decrement(ctx, 1, 5)
	assert.ErrorIs(t, err, models.ErrOverSale)
	b, err := svc.Decrement(ctx, 1, 4)
	require.NoError(t, err)
	assert.Equal(t, 0, b.Remaining)
}

func TestAuditReportsDrift(t *testing.T) {
	svc, repo := newLedger(t, nil)
	repo.Seed(records.TableBatches,
		batchRow("1", "Brie", "cow", "10", "6", "", "Active"),
		batchRow("2", "Brie", "cow", "5", "5", "", "Active"),
	)
	repo.Seed(records.TableSales,
		[]string{"2025-03-01", "1", "4", "", "Ana", ""},
		[]string{"2025-03-01", "2", "1", "", "Ana", ""},
	)

	discrepancies, err := svc.Audit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.Discrepancy{{BatchID: 2, Remaining: 5, Expected: 4}}, discrepancies)
}

func TestAvailableAndProducts(t *testing.T) {
	ctx := context.Background()
	svc, repo := newLedger(t, nil)
	repo.Seed(records.TableBatches,
		batchRow("1", "Brie", "cow", "10", "6", "", "Active"),
		batchRow("2", "Brie", "goat", "5", "5", "", "Active"),
		batchRow("3", "Brie", "cow", "5", "0", "", "Exhausted"),
		batchRow("4", "Gouda", "cow", "5", "5", "", "Active"),
	)
	repo.Seed(records.TableRecipes,
		[]string{"Brie", "S1"},
		[]string{"Gouda", "S2"},
		[]string{"Brie", "S3"},
		[]string{"Feta", ""},
	)

	all, err := svc.Available(ctx, Filter{Product: "brie"})
	require.NoError(t, err)
	require.Len(t, all, 2)

	cow, err := svc.Available(ctx, Filter{Product: "Brie", Milk: models.MilkCow, Date: time.Date(2025, 2, 20, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	require.Len(t, cow, 1)
	assert.Equal(t, 1, cow[0].ID)

	products, err := svc.Products(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Brie", "Gouda", "Feta"}, products)
}
