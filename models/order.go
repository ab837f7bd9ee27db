package models

import "github.com/shopspring/decimal"

// OrderLineItem is the gateway's view of one purchasable line on an order.
// CurrentQuantity excludes refunded and voided units and is the authoritative
// count of still-valid tickets for that line.
type OrderLineItem struct {
	ID               string
	Title            string
	VariantTitle     string
	Price            decimal.Decimal
	OriginalQuantity int
	CurrentQuantity  int
}

// ExternalOrderSnapshot is the transient view of one upstream order used as
// reconciliation input. It is never cached beyond a single pass.
type ExternalOrderSnapshot struct {
	OrderNumber       string
	CustomerID        string
	CustomerName      string
	CustomerEmail     string
	FinancialStatus   string
	FulfillmentStatus string
	Tags              []string
	Cancelled         bool
	LineItems         []OrderLineItem
}

// HasTag reports whether the order carries the given tag.
func (s *ExternalOrderSnapshot) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
