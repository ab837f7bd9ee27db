package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TicketUnit is one physically redeemable ticket. One row exists per unit;
// sub_index distinguishes multiple units bought on the same line item.
// The natural key (order_number, customer_id, line_item_id, sub_index) is
// enforced by a unique index on the collection, not by application code.
type TicketUnit struct {
	ID                string          `json:"id"`
	OrderNumber       string          `json:"order_number"`
	CustomerID        string          `json:"customer_id"`
	LineItemID        string          `json:"line_item_id"`
	SubIndex          int             `json:"sub_index"`
	Usable            bool            `json:"usable"`
	PurchaserName     string          `json:"purchaser_name"`
	PurchaserEmail    string          `json:"purchaser_email"`
	OwnerReference    string          `json:"owner_reference"`
	SeatReference     string          `json:"seat_reference"`
	DisplayColor      string          `json:"display_color"`
	Amount            decimal.Decimal `json:"amount"`
	FinancialStatus   string          `json:"financial_status"`
	FulfillmentStatus string          `json:"fulfillment_status"`
	Tags              []string        `json:"tags"`
	UsedAt            *time.Time      `json:"used_at,omitempty"`
	Created           time.Time       `json:"created"`
	Updated           time.Time       `json:"updated"`
}

// NaturalKey returns the encoded four-part identifier of this unit.
func (u *TicketUnit) NaturalKey() string {
	return UnitKey(u.OrderNumber, u.CustomerID, u.LineItemID, u.SubIndex)
}

// UnitKey encodes the four-part natural key. The same encoding backs the
// unique index and the in-memory map built during a reconciliation pass.
func UnitKey(orderNumber, customerID, lineItemID string, subIndex int) string {
	return fmt.Sprintf("%s|%s|%s|%d", orderNumber, customerID, lineItemID, subIndex)
}

// UnitUpdate carries the mutable fields a reconciliation pass may change on
// an existing unit. Usable only ever transitions to false through here;
// restoring a consumed unit is an administrative action outside this service.
type UnitUpdate struct {
	FinancialStatus   *string
	FulfillmentStatus *string
	Tags              []string
	Usable            *bool
	OwnerReference    *string
	SeatReference     *string
	DisplayColor      *string
}

func StringPtr(s string) *string { return &s }

func BoolPtr(b bool) *bool { return &b }
