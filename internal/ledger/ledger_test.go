package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tests"
	"github.com/pocketbase/pocketbase/tools/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-redemption/internal/status"
	"ticket-redemption/models"
)

func newTestLedger(t *testing.T) Ledger {
	t.Helper()

	app, err := tests.NewTestApp()
	require.NoError(t, err)
	t.Cleanup(app.Cleanup)

	collection := core.NewBaseCollection(CollectionName)
	collection.Fields.Add(
		&core.TextField{Name: "order_number", Required: true},
		&core.TextField{Name: "customer_id", Required: true},
		&core.TextField{Name: "line_item_id", Required: true},
		&core.NumberField{Name: "sub_index", Required: true, OnlyInt: true, Min: types.Pointer(1.0)},
		&core.BoolField{Name: "usable"},
		&core.TextField{Name: "purchaser_name"},
		&core.EmailField{Name: "purchaser_email"},
		&core.TextField{Name: "owner_reference"},
		&core.TextField{Name: "seat_reference"},
		&core.TextField{Name: "display_color"},
		&core.TextField{Name: "amount"},
		&core.TextField{Name: "financial_status"},
		&core.TextField{Name: "fulfillment_status"},
		&core.JSONField{Name: "tags"},
		&core.DateField{Name: "used_at"},
		&core.AutodateField{Name: "created", OnCreate: true},
		&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
	)
	collection.AddIndex("idx_ticket_units_natural_key", true,
		"order_number, customer_id, line_item_id, sub_index", "")
	require.NoError(t, app.Save(collection))

	return New(app)
}

func seedUnit(t *testing.T, l Ledger, subIndex int) *models.TicketUnit {
	t.Helper()
	unit := &models.TicketUnit{
		OrderNumber:     "1001",
		CustomerID:      "cust_1",
		LineItemID:      "li_1",
		SubIndex:        subIndex,
		Usable:          true,
		PurchaserName:   "Dana Field",
		OwnerReference:  "Dana Field",
		FinancialStatus: "paid",
		Tags:            []string{"admission-ticket"},
	}
	require.NoError(t, l.InsertIfAbsent(context.Background(), unit))
	require.NotEmpty(t, unit.ID)
	return unit
}

func TestPBLedger_InsertIfAbsentConflict(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	seedUnit(t, l, 1)

	dup := &models.TicketUnit{
		OrderNumber: "1001", CustomerID: "cust_1", LineItemID: "li_1", SubIndex: 1, Usable: true,
	}
	assert.ErrorIs(t, l.InsertIfAbsent(ctx, dup), status.ErrConflict)

	sibling := &models.TicketUnit{
		OrderNumber: "1001", CustomerID: "cust_1", LineItemID: "li_1", SubIndex: 2, Usable: true,
	}
	assert.NoError(t, l.InsertIfAbsent(ctx, sibling))
}

func TestPBLedger_MarkUsedConditional(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	unit := seedUnit(t, l, 1)
	usedAt := time.Now().UTC()

	require.NoError(t, l.MarkUsed(ctx, unit.ID, usedAt))
	assert.ErrorIs(t, l.MarkUsed(ctx, unit.ID, usedAt), status.ErrAlreadyUsed)

	found, err := l.FindByNaturalKey(ctx, "1001", "cust_1", "li_1", 1)
	require.NoError(t, err)
	assert.False(t, found.Usable)
	require.NotNil(t, found.UsedAt)
}

func TestPBLedger_StatusUpdateCannotUndoConsumption(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	unit := seedUnit(t, l, 1)
	usedAt := time.Now().UTC()

	// A reconciliation pass listed the unit as usable, then a gate check-in
	// consumed it before the pass got to its per-unit update.
	stale, err := l.FindByNaturalKey(ctx, "1001", "cust_1", "li_1", 1)
	require.NoError(t, err)
	require.True(t, stale.Usable)

	require.NoError(t, l.MarkUsed(ctx, unit.ID, usedAt))

	// The pass now applies its status-only update using the stale view.
	require.NoError(t, l.UpdateStatus(ctx, stale.ID, models.UnitUpdate{
		FinancialStatus:   models.StringPtr("paid"),
		FulfillmentStatus: models.StringPtr("fulfilled"),
		Tags:              []string{"admission-ticket", "vip"},
	}))

	found, err := l.FindByNaturalKey(ctx, "1001", "cust_1", "li_1", 1)
	require.NoError(t, err)
	assert.False(t, found.Usable, "consumed unit must stay consumed across a status update")
	require.NotNil(t, found.UsedAt, "consumption timestamp must survive a status update")
	assert.WithinDuration(t, usedAt, *found.UsedAt, time.Second)
	assert.Equal(t, "fulfilled", found.FulfillmentStatus)
	assert.Equal(t, []string{"admission-ticket", "vip"}, found.Tags)
}

func TestPBLedger_UpdateStatusCannotResurrect(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	unit := seedUnit(t, l, 1)
	require.NoError(t, l.MarkUsed(ctx, unit.ID, time.Now().UTC()))

	err := l.UpdateStatus(ctx, unit.ID, models.UnitUpdate{Usable: models.BoolPtr(true)})
	assert.ErrorIs(t, err, status.ErrAlreadyUsed)

	found, err := l.FindByNaturalKey(ctx, "1001", "cust_1", "li_1", 1)
	require.NoError(t, err)
	assert.False(t, found.Usable)
	assert.NotNil(t, found.UsedAt)
}

func TestPBLedger_UpdateStatusRevokeAndPartialFields(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	unit := seedUnit(t, l, 1)
	require.NoError(t, l.UpdateStatus(ctx, unit.ID, models.UnitUpdate{
		Usable:         models.BoolPtr(false),
		SeatReference:  models.StringPtr("B-12"),
		OwnerReference: models.StringPtr("Guest: Ari Stone"),
	}))

	found, err := l.FindByNaturalKey(ctx, "1001", "cust_1", "li_1", 1)
	require.NoError(t, err)
	assert.False(t, found.Usable)
	assert.Nil(t, found.UsedAt, "revocation is not consumption")
	assert.Equal(t, "B-12", found.SeatReference)
	assert.Equal(t, "Guest: Ari Stone", found.OwnerReference)
	// untouched fields keep their values
	assert.Equal(t, "paid", found.FinancialStatus)
	assert.Equal(t, "Dana Field", found.PurchaserName)
}

func TestPBLedger_UpdateStatusMissing(t *testing.T) {
	l := newTestLedger(t)

	err := l.UpdateStatus(context.Background(), "missing", models.UnitUpdate{
		FinancialStatus: models.StringPtr("paid"),
	})
	assert.ErrorIs(t, err, status.ErrNotFound)
}

func TestPBLedger_CountAndList(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	first := seedUnit(t, l, 1)
	seedUnit(t, l, 2)
	seedUnit(t, l, 3)

	count, err := l.CountUsableByLineItem(ctx, "1001", "li_1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	require.NoError(t, l.MarkUsed(ctx, first.ID, time.Now().UTC()))

	count, err = l.CountUsableByLineItem(ctx, "1001", "li_1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	units, err := l.ListByOrder(ctx, "1001")
	require.NoError(t, err)
	require.Len(t, units, 3)
	for i, unit := range units {
		assert.Equal(t, i+1, unit.SubIndex)
	}
}
