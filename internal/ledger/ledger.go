package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"
	"github.com/shopspring/decimal"

	"ticket-redemption/internal/status"
	"ticket-redemption/models"
)

// CollectionName is the PocketBase collection backing the unit ledger.
const CollectionName = "ticket_units"

// Ledger persists ticket units. Uniqueness of the natural key is enforced
// by the storage layer; InsertIfAbsent surfaces a lost race as
// status.ErrConflict which callers treat as "someone else won", not as a
// failure. MarkUsed is a conditional update so concurrent redemptions of
// the same unit cannot both succeed.
type Ledger interface {
	FindByNaturalKey(ctx context.Context, orderNumber, customerID, lineItemID string, subIndex int) (*models.TicketUnit, error)
	InsertIfAbsent(ctx context.Context, unit *models.TicketUnit) error
	UpdateStatus(ctx context.Context, id string, upd models.UnitUpdate) error
	MarkUsed(ctx context.Context, id string, usedAt time.Time) error
	CountUsableByLineItem(ctx context.Context, orderNumber, lineItemID string) (int, error)
	ListByOrder(ctx context.Context, orderNumber string) ([]models.TicketUnit, error)
}

type pbLedger struct {
	app core.App
}

// New returns the PocketBase backed ledger.
func New(app core.App) Ledger {
	return &pbLedger{app: app}
}

func (l *pbLedger) FindByNaturalKey(_ context.Context, orderNumber, customerID, lineItemID string, subIndex int) (*models.TicketUnit, error) {
	record, err := l.app.FindFirstRecordByFilter(
		CollectionName,
		"order_number = {:orderNumber} && customer_id = {:customerID} && line_item_id = {:lineItemID} && sub_index = {:subIndex}",
		dbx.Params{
			"orderNumber": orderNumber,
			"customerID":  customerID,
			"lineItemID":  lineItemID,
			"subIndex":    subIndex,
		},
	)
	if err != nil {
		return nil, status.ErrNotFound
	}

	return recordToUnit(record), nil
}

func (l *pbLedger) InsertIfAbsent(ctx context.Context, unit *models.TicketUnit) error {
	collection, err := l.app.FindCollectionByNameOrId(CollectionName)
	if err != nil {
		return fmt.Errorf("insertIfAbsent: %w", err)
	}

	record := core.NewRecord(collection)
	record.Set("order_number", unit.OrderNumber)
	record.Set("customer_id", unit.CustomerID)
	record.Set("line_item_id", unit.LineItemID)
	record.Set("sub_index", unit.SubIndex)
	record.Set("usable", unit.Usable)
	record.Set("purchaser_name", unit.PurchaserName)
	record.Set("purchaser_email", unit.PurchaserEmail)
	record.Set("owner_reference", unit.OwnerReference)
	record.Set("seat_reference", unit.SeatReference)
	record.Set("display_color", unit.DisplayColor)
	record.Set("amount", unit.Amount.String())
	record.Set("financial_status", unit.FinancialStatus)
	record.Set("fulfillment_status", unit.FulfillmentStatus)
	record.Set("tags", unit.Tags)

	if err := l.app.Save(record); err != nil {
		// The unique natural-key index rejects duplicate inserts. When the
		// row exists by now, another writer won the race.
		if existing, ferr := l.FindByNaturalKey(ctx, unit.OrderNumber, unit.CustomerID, unit.LineItemID, unit.SubIndex); ferr == nil && existing != nil {
			return status.ErrConflict
		}
		return fmt.Errorf("insertIfAbsent: %w", err)
	}

	unit.ID = record.Id
	return nil
}

func (l *pbLedger) UpdateStatus(_ context.Context, id string, upd models.UnitUpdate) error {
	// Partial update of only the requested fields in one statement. A
	// read-modify-write through the record API would race MarkUsed and write
	// a stale usable/used_at back; this path never touches used_at and only
	// writes usable when the caller asked for it.
	sets := []string{"updated = {:updated}"}
	params := dbx.Params{
		"id":      id,
		"updated": types.NowDateTime().String(),
	}

	if upd.Usable != nil {
		usable := 0
		if *upd.Usable {
			usable = 1
		}
		sets = append(sets, "usable = {:usable}")
		params["usable"] = usable
	}
	if upd.FinancialStatus != nil {
		sets = append(sets, "financial_status = {:financialStatus}")
		params["financialStatus"] = *upd.FinancialStatus
	}
	if upd.FulfillmentStatus != nil {
		sets = append(sets, "fulfillment_status = {:fulfillmentStatus}")
		params["fulfillmentStatus"] = *upd.FulfillmentStatus
	}
	if upd.Tags != nil {
		raw, err := json.Marshal(upd.Tags)
		if err != nil {
			return fmt.Errorf("updateStatus: tags: %w", err)
		}
		sets = append(sets, "tags = {:tags}")
		params["tags"] = string(raw)
	}
	if upd.OwnerReference != nil {
		sets = append(sets, "owner_reference = {:ownerReference}")
		params["ownerReference"] = *upd.OwnerReference
	}
	if upd.SeatReference != nil {
		sets = append(sets, "seat_reference = {:seatReference}")
		params["seatReference"] = *upd.SeatReference
	}
	if upd.DisplayColor != nil {
		sets = append(sets, "display_color = {:displayColor}")
		params["displayColor"] = *upd.DisplayColor
	}

	// A consumed unit stays consumed: setting usable back to true is guarded
	// in the same statement as the write, so no interleaving can undo a
	// concurrent MarkUsed.
	cond := "id = {:id}"
	if upd.Usable != nil && *upd.Usable {
		cond += " AND usable = 1"
	}

	res, err := l.app.NonconcurrentDB().NewQuery(
		"UPDATE " + CollectionName + " SET " + strings.Join(sets, ", ") + " WHERE " + cond,
	).Bind(params).Execute()
	if err != nil {
		return fmt.Errorf("updateStatus: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updateStatus: rowsAffected: %w", err)
	}
	if rows == 0 {
		if _, ferr := l.app.FindRecordById(CollectionName, id); ferr != nil {
			return status.ErrNotFound
		}
		return status.ErrAlreadyUsed
	}
	return nil
}

func (l *pbLedger) MarkUsed(_ context.Context, id string, usedAt time.Time) error {
	dt, err := types.ParseDateTime(usedAt)
	if err != nil {
		return fmt.Errorf("markUsed: %w", err)
	}

	// Single conditional statement: of N concurrent redeems for one unit,
	// exactly one observes a row change.
	res, err := l.app.NonconcurrentDB().NewQuery(
		"UPDATE " + CollectionName + " SET usable = 0, used_at = {:usedAt}, updated = {:updated} WHERE id = {:id} AND usable = 1",
	).Bind(dbx.Params{
		"usedAt":  dt.String(),
		"updated": types.NowDateTime().String(),
		"id":      id,
	}).Execute()
	if err != nil {
		return fmt.Errorf("markUsed: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("markUsed: rowsAffected: %w", err)
	}
	if rows == 0 {
		return status.ErrAlreadyUsed
	}
	return nil
}

func (l *pbLedger) CountUsableByLineItem(_ context.Context, orderNumber, lineItemID string) (int, error) {
	var count int
	err := l.app.DB().
		Select("COUNT(*)").
		From(CollectionName).
		Where(dbx.HashExp{"order_number": orderNumber, "line_item_id": lineItemID, "usable": true}).
		Row(&count)
	if err != nil {
		return 0, fmt.Errorf("countUsableByLineItem: %w", err)
	}
	return count, nil
}

func (l *pbLedger) ListByOrder(_ context.Context, orderNumber string) ([]models.TicketUnit, error) {
	records, err := l.app.FindRecordsByFilter(
		CollectionName,
		"order_number = {:orderNumber}",
		"+line_item_id,+sub_index",
		0,
		0,
		dbx.Params{"orderNumber": orderNumber},
	)
	if err != nil {
		return nil, fmt.Errorf("listByOrder: %w", err)
	}

	units := make([]models.TicketUnit, 0, len(records))
	for _, record := range records {
		units = append(units, *recordToUnit(record))
	}
	return units, nil
}

func recordToUnit(record *core.Record) *models.TicketUnit {
	amount, err := decimal.NewFromString(record.GetString("amount"))
	if err != nil {
		amount = decimal.Zero
	}

	unit := &models.TicketUnit{
		ID:                record.Id,
		OrderNumber:       record.GetString("order_number"),
		CustomerID:        record.GetString("customer_id"),
		LineItemID:        record.GetString("line_item_id"),
		SubIndex:          record.GetInt("sub_index"),
		Usable:            record.GetBool("usable"),
		PurchaserName:     record.GetString("purchaser_name"),
		PurchaserEmail:    record.GetString("purchaser_email"),
		OwnerReference:    record.GetString("owner_reference"),
		SeatReference:     record.GetString("seat_reference"),
		DisplayColor:      record.GetString("display_color"),
		Amount:            amount,
		FinancialStatus:   record.GetString("financial_status"),
		FulfillmentStatus: record.GetString("fulfillment_status"),
		Tags:              record.GetStringSlice("tags"),
		Created:           record.GetDateTime("created").Time(),
		Updated:           record.GetDateTime("updated").Time(),
	}

	if usedAt := record.GetDateTime("used_at"); !usedAt.IsZero() {
		t := usedAt.Time()
		unit.UsedAt = &t
	}

	return unit
}
