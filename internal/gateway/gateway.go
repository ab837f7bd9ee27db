package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ticket-redemption/internal/status"
	"ticket-redemption/models"
)

// EditLineItem is a line item inside an open edit session. The upstream
// platform assigns fresh handles per session, so the original line-item id
// is not directly usable; matching happens on variant/title instead.
type EditLineItem struct {
	Handle       string
	Title        string
	VariantTitle string
	Quantity     int
}

// EditSession is a begun, not yet committed quantity edit on one order.
type EditSession struct {
	ID        string
	LineItems []EditLineItem
}

// RedeemResult reports the upstream quantity before and after a committed
// redemption.
type RedeemResult struct {
	PreviousQuantity  int
	RemainingQuantity int
}

// Gateway abstracts the upstream order platform. All calls may fail
// transiently and are retried with bounded exponential backoff before a
// fatal error surfaces.
type Gateway interface {
	FetchOrder(ctx context.Context, orderNumber string) (*models.ExternalOrderSnapshot, error)
	ListOrders(ctx context.Context, tag string, since time.Time, page, pageSize int) ([]models.ExternalOrderSnapshot, bool, error)
	BeginEdit(ctx context.Context, orderNumber string) (*EditSession, error)
	SetQuantity(ctx context.Context, sessionID, handle string, quantity int) error
	CommitEdit(ctx context.Context, sessionID string) error

	// Redeem runs the three-phase quantity decrement:
	// begin -> locate line item -> set quantity -> commit.
	// Nothing local is mutated here; callers mark ledger units used only
	// after commit succeeded.
	Redeem(ctx context.Context, orderNumber, lineItemID string, quantity int) (*RedeemResult, error)
}

// redeem implements the shared redemption sequence on top of the primitive
// gateway calls. A session abandoned before commit has no upstream effect;
// there is no cleanup call for it.
func redeem(ctx context.Context, gw Gateway, orderNumber, lineItemID string, quantity int) (*RedeemResult, error) {
	if quantity < 1 {
		return nil, fmt.Errorf("redeem: quantity must be positive, got %d", quantity)
	}

	snapshot, err := gw.FetchOrder(ctx, orderNumber)
	if err != nil {
		return nil, fmt.Errorf("redeem: fetchOrder: %w", err)
	}

	var target *models.OrderLineItem
	for i := range snapshot.LineItems {
		if snapshot.LineItems[i].ID == lineItemID {
			target = &snapshot.LineItems[i]
			break
		}
	}
	if target == nil {
		return nil, status.ErrNotFound
	}

	session, err := gw.BeginEdit(ctx, orderNumber)
	if err != nil {
		return nil, fmt.Errorf("redeem: beginEdit: %w", err)
	}

	// Edit sessions do not preserve the original line-item id; the
	// variant/title pair is the stable identifier across the boundary.
	var handle *EditLineItem
	for i := range session.LineItems {
		li := &session.LineItems[i]
		if li.VariantTitle == target.VariantTitle && li.Title == target.Title {
			handle = li
			break
		}
	}
	if handle == nil {
		return nil, status.ErrNotFound
	}

	q := handle.Quantity
	if q <= 0 || quantity > q {
		return nil, status.ErrInsufficientQuantity
	}

	if err := gw.SetQuantity(ctx, session.ID, handle.Handle, q-quantity); err != nil {
		return nil, fmt.Errorf("redeem: setQuantity: %w", err)
	}

	if err := gw.CommitEdit(ctx, session.ID); err != nil {
		return nil, fmt.Errorf("redeem: commitEdit: %w", err)
	}

	return &RedeemResult{PreviousQuantity: q, RemainingQuantity: q - quantity}, nil
}

// IsFatal reports whether err is a business failure rather than an
// exhausted-transient one.
func IsFatal(err error) bool {
	return err != nil && !status.IsTransient(err) &&
		!errors.Is(err, status.ErrNotFound) &&
		!errors.Is(err, status.ErrInsufficientQuantity)
}
