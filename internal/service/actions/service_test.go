package actions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/affinage/internal/domain/models"
	"github.com/mamadbah2/affinage/internal/repository/records"
	"github.com/mamadbah2/affinage/internal/repository/sheets"
)

var batchDate = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func newScheduler(t *testing.T) (*Service, *sheets.MemoryRepository) {
	t.Helper()
	store, repo := records.NewMemoryStore(time.Minute, nil)
	svc := NewService(store, time.UTC, nil)
	repo.Seed(records.TableRecipes, []string{"Camembert", "S1"})
	repo.Seed(records.TableSchedules,
		[]string{"S1", "1", "flip"},
		[]string{"S1", "3", "salt"},
		[]string{"S1", "14", "wax"},
	)
	return svc, repo
}

func seedBatch(repo *sheets.MemoryRepository, id, product, flag string) {
	repo.Seed(records.TableBatches, []string{id, "2025-03-01", product, "cow", "10", "10", "", "small", "Active", flag})
}

func actionRows(t *testing.T, repo *sheets.MemoryRepository) [][]string {
	t.Helper()
	tbl, err := repo.ListRows(context.Background(), records.TableActions)
	require.NoError(t, err)
	out := make([][]string, 0, len(tbl.Rows))
	for _, r := range tbl.Rows {
		out = append(out, r.Values)
	}
	return out
}

func batchFlag(t *testing.T, repo *sheets.MemoryRepository, id string) string {
	t.Helper()
	tbl, err := repo.ListRows(context.Background(), records.TableBatches)
	require.NoError(t, err)
	for _, r := range tbl.Rows {
		if r.Values[0] == id {
			return r.Values[models.BatchColActionsGenerated-1]
		}
	}
	t.Fatalf("batch %s not found", id)
	return ""
}

func TestGenerateActionsExpandsSchedule(t *testing.T) {
	svc, repo := newScheduler(t)
	seedBatch(repo, "7", "Camembert", "FALSE")

	gen, err := svc.GenerateActions(context.Background(), 7, batchDate, "Camembert")
	require.NoError(t, err)
	assert.Equal(t, 3, gen.Created)
	assert.False(t, gen.NoOp)
	assert.NoError(t, gen.Err())

	assert.Equal(t, [][]string{
		{"7", "2025-03-02", "flip", "FALSE", "", ""},
		{"7", "2025-03-04", "salt", "FALSE", "", ""},
		{"7", "2025-03-15", "wax", "FALSE", "", ""},
	}, actionRows(t, repo))
	assert.Equal(t, "TRUE", batchFlag(t, repo, "7"))
	assert.Equal(t, 1, repo.Calls(sheets.OpAppend, records.TableActions), "all actions go out in one append")
}

func TestGenerateActionsTwiceIsNoOp(t *testing.T) {
	svc, repo := newScheduler(t)
	seedBatch(repo, "7", "Camembert", "FALSE")
	ctx := context.Background()

	_, err := svc.GenerateActions(ctx, 7, batchDate, "Camembert")
	require.NoError(t, err)

	gen, err := svc.GenerateActions(ctx, 7, batchDate, "Camembert")
	require.NoError(t, err)
	assert.True(t, gen.NoOp)
	assert.Zero(t, gen.Created)
	assert.Len(t, actionRows(t, repo), 3)
}

func TestConcurrentGenerationRunsOnce(t *testing.T) {
	svc, repo := newScheduler(t)
	seedBatch(repo, "7", "Camembert", "FALSE")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.GenerateActions(context.Background(), 7, batchDate, "Camembert")
		}()
	}
	wg.Wait()

	assert.Len(t, actionRows(t, repo), 3)
}

func TestGenerateActionsRepairsMissingFlag(t *testing.T) {
	svc, repo := newScheduler(t)
	seedBatch(repo, "7", "Camembert", "FALSE")
	repo.Seed(records.TableActions, []string{"7", "2025-03-02", "flip", "FALSE"})

	gen, err := svc.GenerateActions(context.Background(), 7, batchDate, "Camembert")
	require.NoError(t, err)
	assert.True(t, gen.NoOp)
	assert.True(t, gen.Repaired)
	assert.Len(t, actionRows(t, repo), 1)
	assert.Equal(t, "TRUE", batchFlag(t, repo, "7"))
}

func TestGenerateActionsFlagFailureIsRepairedNextTime(t *testing.T) {
	svc, repo := newScheduler(t)
	seedBatch(repo, "7", "Camembert", "FALSE")
	ctx := context.Background()

	repo.FailWith(func(op, table string) error {
		if op == sheets.OpUpdate && table == records.TableBatches {
			return errors.New("timeout")
		}
		return nil
	})
	_, err := svc.GenerateActions(ctx, 7, batchDate, "Camembert")
	assert.ErrorIs(t, err, models.ErrTransientIO)
	assert.Len(t, actionRows(t, repo), 3)

	repo.FailWith(nil)
	gen, err := svc.GenerateActions(ctx, 7, batchDate, "Camembert")
	require.NoError(t, err)
	assert.True(t, gen.Repaired)
	assert.Len(t, actionRows(t, repo), 3)
}

func TestGenerateActionsAfterLostAppendAckDoesNotDuplicate(t *testing.T) {
	svc, repo := newScheduler(t)
	seedBatch(repo, "7", "Camembert", "FALSE")
	ctx := context.Background()

	repo.LoseAckWith(func(op, table string) error {
		if op == sheets.OpAppend && table == records.TableActions {
			return errors.New("deadline exceeded")
		}
		return nil
	})
	_, err := svc.GenerateActions(ctx, 7, batchDate, "Camembert")
	assert.ErrorIs(t, err, models.ErrTransientIO)
	require.Len(t, actionRows(t, repo), 3, "the append was committed")
	assert.Equal(t, "FALSE", batchFlag(t, repo, "7"))

	repo.LoseAckWith(nil)
	gen, err := svc.GenerateActions(ctx, 7, batchDate, "Camembert")
	require.NoError(t, err)
	assert.True(t, gen.NoOp)
	assert.True(t, gen.Repaired)
	assert.Len(t, actionRows(t, repo), 3)
	assert.Equal(t, "TRUE", batchFlag(t, repo, "7"))
	assert.Equal(t, 1, repo.Calls(sheets.OpAppend, records.TableActions))
}

func TestMalformedOffsetsAreReportedNotSkipped(t *testing.T) {
	svc, repo := newScheduler(t)
	repo.Seed(records.TableSchedules,
		[]string{"S1", "two weeks", "brush"},
		[]string{"S1", "-1", "prepare brine"},
	)
	seedBatch(repo, "7", "Camembert", "FALSE")

	gen, err := svc.GenerateActions(context.Background(), 7, batchDate, "Camembert")
	require.NoError(t, err)
	assert.Equal(t, 4, gen.Created)
	require.Len(t, gen.Diagnostics, 1)
	assert.ErrorIs(t, gen.Err(), models.ErrValidation)
	assert.Contains(t, gen.Diagnostics[0].Error(), "two weeks")

	rows := actionRows(t, repo)
	assert.Equal(t, []string{"7", "2025-02-28", "prepare brine", "FALSE", "", ""}, rows[3], "negative offsets precede the batch date")
}

func TestMultipleSchedulesAreUnioned(t *testing.T) {
	svc, repo := newScheduler(t)
	repo.Seed(records.TableRecipes, []string{"Camembert", "S2"})
	repo.Seed(records.TableSchedules, []string{"S2", "0", "label"}, []string{"S9", "2", "unrelated"})
	seedBatch(repo, "7", "Camembert", "FALSE")

	gen, err := svc.GenerateActions(context.Background(), 7, batchDate, "Camembert")
	require.NoError(t, err)
	assert.Equal(t, 4, gen.Created)
}

func TestNoScheduleLeavesFlagUnset(t *testing.T) {
	svc, repo := newScheduler(t)
	seedBatch(repo, "8", "Feta", "FALSE")

	gen, err := svc.GenerateActions(context.Background(), 8, batchDate, "Feta")
	require.NoError(t, err)
	assert.Zero(t, gen.Created)
	assert.Empty(t, actionRows(t, repo))
	assert.Equal(t, "FALSE", batchFlag(t, repo, "8"))
}

func TestGenerateActionsUnknownBatch(t *testing.T) {
	svc, _ := newScheduler(t)

	_, err := svc.GenerateActions(context.Background(), 42, batchDate, "Camembert")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestReconcileGeneratesForUnflaggedActiveBatches(t *testing.T) {
	svc, repo := newScheduler(t)
	seedBatch(repo, "1", "Camembert", "TRUE")
	seedBatch(repo, "2", "Camembert", "FALSE")
	repo.Seed(records.TableBatches, []string{"3", "2025-03-01", "Camembert", "cow", "10", "0", "", "small", "Exhausted", "FALSE"})

	created, err := svc.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, created)

	for _, row := range actionRows(t, repo) {
		assert.Equal(t, "2", row[0])
	}
}

func TestDueListsPendingActionsForTheDay(t *testing.T) {
	svc, repo := newScheduler(t)
	seedBatch(repo, "7", "Camembert", "TRUE")
	repo.Seed(records.TableActions,
		[]string{"7", "2025-03-04", "salt", "FALSE"},
		[]string{"7", "2025-03-04", "flip", "TRUE", "Ana", "2025-03-04 08:00:00"},
		[]string{"7", "2025-03-05", "flip", "FALSE"},
		[]string{"99", "2025-03-04", "orphan", "FALSE"},
	)

	loc := time.FixedZone("CET", 60*60)
	svc.now = func() time.Time { return time.Date(2025, 3, 4, 0, 15, 0, 0, loc) }

	due, err := svc.Today(context.Background())
	require.NoError(t, err)
	require.Len(t, due, 2)

	assert.Equal(t, models.ActionRef{Row: 2, BatchID: 7}, due[0].Ref())
	assert.Equal(t, "Camembert from 2025-03-01 (batch 7)", due[0].Title)
	assert.Equal(t, "Batch 99", due[1].Title)

	none, err := svc.Due(context.Background(), time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, none)
}
