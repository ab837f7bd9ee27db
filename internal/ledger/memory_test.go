package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-redemption/internal/status"
	"ticket-redemption/models"
)

func newUnit(orderNumber string, subIndex int) *models.TicketUnit {
	return &models.TicketUnit{
		OrderNumber: orderNumber,
		CustomerID:  "cust_1",
		LineItemID:  "li_1",
		SubIndex:    subIndex,
		Usable:      true,
	}
}

func TestMemory_InsertIfAbsent(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	unit := newUnit("1001", 1)
	require.NoError(t, mem.InsertIfAbsent(ctx, unit))
	assert.NotEmpty(t, unit.ID)

	dup := newUnit("1001", 1)
	assert.ErrorIs(t, mem.InsertIfAbsent(ctx, dup), status.ErrConflict)

	sibling := newUnit("1001", 2)
	assert.NoError(t, mem.InsertIfAbsent(ctx, sibling))
}

func TestMemory_FindByNaturalKey(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	unit := newUnit("1001", 1)
	require.NoError(t, mem.InsertIfAbsent(ctx, unit))

	found, err := mem.FindByNaturalKey(ctx, "1001", "cust_1", "li_1", 1)
	require.NoError(t, err)
	assert.Equal(t, unit.ID, found.ID)

	_, err = mem.FindByNaturalKey(ctx, "1001", "cust_1", "li_1", 2)
	assert.ErrorIs(t, err, status.ErrNotFound)
}

func TestMemory_MarkUsedIsConditional(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	unit := newUnit("1001", 1)
	require.NoError(t, mem.InsertIfAbsent(ctx, unit))

	usedAt := time.Now()
	require.NoError(t, mem.MarkUsed(ctx, unit.ID, usedAt))
	assert.ErrorIs(t, mem.MarkUsed(ctx, unit.ID, usedAt), status.ErrAlreadyUsed)
	assert.ErrorIs(t, mem.MarkUsed(ctx, "missing", usedAt), status.ErrNotFound)

	found, err := mem.FindByNaturalKey(ctx, "1001", "cust_1", "li_1", 1)
	require.NoError(t, err)
	assert.False(t, found.Usable)
	require.NotNil(t, found.UsedAt)
	assert.WithinDuration(t, usedAt, *found.UsedAt, time.Second)
}

func TestMemory_MarkUsedConcurrentSingleWinner(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	unit := newUnit("1001", 1)
	require.NoError(t, mem.InsertIfAbsent(ctx, unit))

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- mem.MarkUsed(ctx, unit.ID, time.Now())
		}()
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, status.ErrAlreadyUsed)
		}
	}
	assert.Equal(t, 1, wins)
}

func TestMemory_UpdateStatusNeverResurrects(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	unit := newUnit("1001", 1)
	require.NoError(t, mem.InsertIfAbsent(ctx, unit))
	require.NoError(t, mem.MarkUsed(ctx, unit.ID, time.Now()))

	err := mem.UpdateStatus(ctx, unit.ID, models.UnitUpdate{Usable: models.BoolPtr(true)})
	assert.ErrorIs(t, err, status.ErrAlreadyUsed)

	// other fields remain updatable on a consumed unit
	require.NoError(t, mem.UpdateStatus(ctx, unit.ID, models.UnitUpdate{
		SeatReference: models.StringPtr("A-4"),
	}))
	found, err := mem.FindByNaturalKey(ctx, "1001", "cust_1", "li_1", 1)
	require.NoError(t, err)
	assert.False(t, found.Usable)
	assert.Equal(t, "A-4", found.SeatReference)
}

func TestMemory_CountUsableByLineItem(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.NoError(t, mem.InsertIfAbsent(ctx, newUnit("1001", i)))
	}
	other := newUnit("1001", 1)
	other.LineItemID = "li_2"
	require.NoError(t, mem.InsertIfAbsent(ctx, other))

	count, err := mem.CountUsableByLineItem(ctx, "1001", "li_1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	first, err := mem.FindByNaturalKey(ctx, "1001", "cust_1", "li_1", 1)
	require.NoError(t, err)
	require.NoError(t, mem.MarkUsed(ctx, first.ID, time.Now()))

	count, err = mem.CountUsableByLineItem(ctx, "1001", "li_1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMemory_ListByOrderOrdering(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	for _, subIndex := range []int{3, 1, 2} {
		require.NoError(t, mem.InsertIfAbsent(ctx, newUnit("1001", subIndex)))
	}
	require.NoError(t, mem.InsertIfAbsent(ctx, newUnit("2002", 1)))

	units, err := mem.ListByOrder(ctx, "1001")
	require.NoError(t, err)
	require.Len(t, units, 3)
	for i, unit := range units {
		assert.Equal(t, i+1, unit.SubIndex)
		assert.Equal(t, "1001", unit.OrderNumber)
	}
}
