package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// WebhookOrder is the JSON body the upstream platform delivers on
// orders-create, orders-updated and orders-cancelled topics.
type WebhookOrder struct {
	OrderNumber       string            `json:"order_number"`
	Customer          WebhookCustomer   `json:"customer"`
	Tags              string            `json:"tags"`
	FinancialStatus   string            `json:"financial_status"`
	FulfillmentStatus string            `json:"fulfillment_status"`
	CancelledAt       *time.Time        `json:"cancelled_at,omitempty"`
	LineItems         []WebhookLineItem `json:"line_items"`
}

type WebhookCustomer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type WebhookLineItem struct {
	ID                  string `json:"id"`
	Title               string `json:"title"`
	VariantTitle        string `json:"variant_title"`
	Price               string `json:"price"`
	Quantity            int    `json:"quantity"`
	FulfillableQuantity int    `json:"fulfillable_quantity"`
}

// ToSnapshot converts the webhook body into the reconciliation input form.
// The upstream sends tags as a comma separated string.
func (w *WebhookOrder) ToSnapshot() *ExternalOrderSnapshot {
	snapshot := &ExternalOrderSnapshot{
		OrderNumber:       w.OrderNumber,
		CustomerID:        w.Customer.ID,
		CustomerName:      w.Customer.Name,
		CustomerEmail:     w.Customer.Email,
		FinancialStatus:   w.FinancialStatus,
		FulfillmentStatus: w.FulfillmentStatus,
		Cancelled:         w.CancelledAt != nil,
	}

	for _, tag := range strings.Split(w.Tags, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			snapshot.Tags = append(snapshot.Tags, tag)
		}
	}

	for _, li := range w.LineItems {
		price, err := decimal.NewFromString(li.Price)
		if err != nil {
			price = decimal.Zero
		}
		snapshot.LineItems = append(snapshot.LineItems, OrderLineItem{
			ID:               li.ID,
			Title:            li.Title,
			VariantTitle:     li.VariantTitle,
			Price:            price,
			OriginalQuantity: li.Quantity,
			CurrentQuantity:  li.FulfillableQuantity,
		})
	}

	return snapshot
}
