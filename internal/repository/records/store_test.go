package records

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/affinage/internal/domain/models"
	"github.com/mamadbah2/affinage/internal/repository/sheets"
)

func batchRow(id, remaining string) []string {
	return []string{id, "2025-03-01", "Brie", "cow", "10", remaining, "", "small", "Active", "FALSE"}
}

func TestNextBatchID(t *testing.T) {
	ctx := context.Background()

	store, _ := NewMemoryStore(time.Minute, nil)
	id, err := store.NextBatchID(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	store, repo := NewMemoryStore(time.Minute, nil)
	repo.Seed(TableBatches, batchRow("1", "10"), batchRow("2", "10"), batchRow("5", "10"), []string{"junk"})
	id, err = store.NextBatchID(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, id)
}

func TestMalformedRowsAreSkipped(t *testing.T) {
	store, repo := NewMemoryStore(time.Minute, nil)
	repo.Seed(TableBatches,
		batchRow("1", "10"),
		batchRow("2", "11"), // remaining above initial
		batchRow("3", "4"),
	)

	batches, err := store.Batches(context.Background())
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, 1, batches[0].ID)
	assert.Equal(t, 3, batches[1].ID)
	assert.Equal(t, 4, batches[1].Row)

	_, err = store.Batch(context.Background(), 2)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestActionReferenceIsCrossChecked(t *testing.T) {
	ctx := context.Background()
	store, repo := NewMemoryStore(time.Minute, nil)
	repo.Seed(TableActions, []string{"7", "2025-03-02", "flip", "FALSE"})

	a, err := store.Action(ctx, models.ActionRef{Row: 2, BatchID: 7})
	require.NoError(t, err)
	assert.Equal(t, "flip", a.Description)

	_, err = store.Action(ctx, models.ActionRef{Row: 2, BatchID: 8})
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = store.Action(ctx, models.ActionRef{Row: 3, BatchID: 7})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestWritesInvalidateAfterSuccess(t *testing.T) {
	ctx := context.Background()
	store, repo := NewMemoryStore(time.Hour, nil)
	repo.Seed(TableBatches, batchRow("1", "10"))

	b, err := store.Batch(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, store.UpdateRemaining(ctx, b, 0, models.StatusExhausted))
	b, err = store.Batch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, b.Remaining)
	assert.Equal(t, models.StatusExhausted, b.Status)
	assert.Equal(t, models.KindBatch, b.Kind, "kind survives the multi-cell write")
}

func TestFailedWriteIsTransientAndDropsSnapshot(t *testing.T) {
	ctx := context.Background()
	store, repo := NewMemoryStore(time.Hour, nil)
	repo.Seed(TableBatches, batchRow("1", "10"))

	b, err := store.Batch(ctx, 1)
	require.NoError(t, err)

	timeout := errors.New("context deadline exceeded")
	repo.LoseAckWith(func(op, table string) error { return timeout })

	err = store.UpdateRemaining(ctx, b, 7, b.Status)
	assert.ErrorIs(t, err, models.ErrTransientIO)
	assert.ErrorIs(t, err, timeout)

	repo.LoseAckWith(nil)
	b, err = store.Batch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 7, b.Remaining, "a write the store kept must be visible after the error")
}

func TestEveryWriteInvalidatesOnError(t *testing.T) {
	ctx := context.Background()
	store, repo := NewMemoryStore(time.Hour, nil)
	repo.Seed(TableBatches, batchRow("1", "10"))
	repo.Seed(TableActions, []string{"1", "2025-03-02", "flip", "FALSE", "", ""})
	repo.Seed(TableSubscribers, []string{"382001", "Ana", "staff", "TRUE"})

	b, err := store.Batch(ctx, 1)
	require.NoError(t, err)
	subs, err := store.Subscribers(ctx)
	require.NoError(t, err)

	boom := errors.New("503")
	repo.FailWith(func(op, table string) error {
		if op == sheets.OpList || op == sheets.OpColumn {
			return nil
		}
		return boom
	})
	writes := map[string]func() error{
		TableBatches:     func() error { return store.SetActionsGenerated(ctx, b) },
		TableActions:     func() error { return store.CompleteAction(ctx, 2, "Ana", time.Now()) },
		TableSales:       func() error { return store.AppendSale(ctx, models.SaleRecord{BatchID: 1, Quantity: 1, Who: "Ana"}) },
		TableSubscribers: func() error { return store.SetSubscriberActive(ctx, subs[0], false) },
	}
	for table, write := range writes {
		_, err := store.cache.Read(ctx, table)
		require.NoError(t, err)
		lists := repo.Calls(sheets.OpList, table)

		assert.ErrorIs(t, write(), models.ErrTransientIO, table)
		_, err = store.cache.Read(ctx, table)
		require.NoError(t, err)
		assert.Equal(t, lists+1, repo.Calls(sheets.OpList, table), "%s refetched after a failed write", table)
	}
}

func TestRefreshForcesFetch(t *testing.T) {
	ctx := context.Background()
	store, repo := NewMemoryStore(time.Hour, nil)
	repo.Seed(TableBatches, batchRow("1", "10"))

	_, err := store.Batch(ctx, 1)
	require.NoError(t, err)
	repo.SetCell(TableBatches, 2, models.BatchColRemaining, "4")

	b, err := store.Batch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 10, b.Remaining, "cached within the TTL")

	store.Refresh(TableBatches)
	b, err = store.Batch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, b.Remaining)
}

func TestActiveSubscribers(t *testing.T) {
	store, repo := NewMemoryStore(time.Minute, nil)
	repo.Seed(TableSubscribers,
		[]string{"382001", "Ana", "staff", "TRUE"},
		[]string{"382002", "Marko", "staff", "FALSE"},
		[]string{"382003", "Ivan", "owner", "yes"},
	)

	subs, err := store.ActiveSubscribers(context.Background())
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "382001", subs[0].Identity)
	assert.Equal(t, "382003", subs[1].Identity)
}
