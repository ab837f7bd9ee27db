package checkin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ticket-redemption/internal/gateway"
	"ticket-redemption/internal/ledger"
	"ticket-redemption/internal/notify"
	"ticket-redemption/internal/reconciler"
	"ticket-redemption/internal/status"
	"ticket-redemption/models"
	"ticket-redemption/monitoring"
)

// Request identifies the units a gate operator wants to consume.
type Request struct {
	OrderNumber string `json:"order_number"`
	LineItemID  string `json:"line_item_id"`
	Quantity    int    `json:"quantity"`
}

// Result reports a committed redemption.
type Result struct {
	PreviousQuantity  int      `json:"previous_quantity"`
	RemainingQuantity int      `json:"remaining_quantity"`
	UsedUnits         []string `json:"used_units"`
}

// Healer re-derives one order's ledger state from upstream. Implemented by
// reconciler.Service.
type Healer interface {
	ReconcileByNumber(ctx context.Context, orderNumber string) (reconciler.Outcome, error)
}

// Service coordinates a redemption: upstream quantity decrement first,
// local consumption second. The ledger is never mutated before the
// upstream commit succeeded.
type Service struct {
	ledger   ledger.Ledger
	gw       gateway.Gateway
	notifier notify.Notifier
	healer   Healer
}

func New(l ledger.Ledger, gw gateway.Gateway, notifier notify.Notifier, healer Healer) *Service {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Service{ledger: l, gw: gw, notifier: notifier, healer: healer}
}

// Redeem consumes req.Quantity units of one line item.
func (s *Service) Redeem(ctx context.Context, req Request) (*Result, error) {
	if req.Quantity < 1 {
		return nil, fmt.Errorf("redeem: quantity must be positive, got %d", req.Quantity)
	}

	candidates, total, err := s.usableUnits(ctx, req, nil)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		monitoring.TrackRedemption("not_found")
		return nil, status.ErrNotFound
	}
	if len(candidates) < req.Quantity {
		monitoring.TrackRedemption("insufficient")
		return nil, status.ErrInsufficientQuantity
	}

	// Upstream is authoritative: decrement there before touching the
	// ledger. Any failure up to and including commit leaves the ledger
	// untouched.
	upstream, err := s.gw.Redeem(ctx, req.OrderNumber, req.LineItemID, req.Quantity)
	if err != nil {
		switch {
		case errors.Is(err, status.ErrInsufficientQuantity):
			monitoring.TrackRedemption("insufficient")
		case errors.Is(err, status.ErrNotFound):
			monitoring.TrackRedemption("not_found")
		default:
			monitoring.TrackRedemption("upstream_error")
		}
		return nil, err
	}

	used, err := s.consume(ctx, req, candidates)
	if err != nil {
		// Upstream already committed: the ledger is now behind the platform.
		// Re-derive the order from upstream right away; the scheduled import
		// remains the backstop when the heal itself fails.
		slog.Error("checkin: post-commit consume incomplete",
			"orderNumber", req.OrderNumber,
			"lineItemID", req.LineItemID,
			"marked", len(used),
			"requested", req.Quantity,
			"error", err,
		)
		monitoring.TrackRedemption("conflict")
		if s.healer != nil {
			if _, herr := s.healer.ReconcileByNumber(ctx, req.OrderNumber); herr != nil {
				slog.Error("checkin: post-commit heal failed",
					"orderNumber", req.OrderNumber, "error", herr)
			}
		}
		return nil, err
	}

	monitoring.TrackRedemption("ok")
	s.notifier.UnitRedeemed(req.OrderNumber, req.LineItemID, used, upstream.RemainingQuantity)

	return &Result{
		PreviousQuantity:  upstream.PreviousQuantity,
		RemainingQuantity: upstream.RemainingQuantity,
		UsedUnits:         used,
	}, nil
}

// consume marks req.Quantity units used, oldest sub_index first. A unit
// lost to a concurrent redeem (conditional update touched zero rows) is
// skipped and the selection refreshed from the ledger; when no candidates
// remain the race was lost outright.
func (s *Service) consume(ctx context.Context, req Request, candidates []models.TicketUnit) ([]string, error) {
	now := time.Now().UTC()
	used := make([]string, 0, req.Quantity)
	attempted := map[string]bool{}

	for len(used) < req.Quantity {
		if len(candidates) == 0 {
			var err error
			candidates, _, err = s.usableUnits(ctx, req, attempted)
			if err != nil {
				return used, err
			}
			if len(candidates) == 0 {
				return used, status.ErrAlreadyUsed
			}
		}

		unit := candidates[0]
		candidates = candidates[1:]
		attempted[unit.ID] = true

		err := s.ledger.MarkUsed(ctx, unit.ID, now)
		if errors.Is(err, status.ErrAlreadyUsed) {
			continue
		}
		if err != nil {
			return used, fmt.Errorf("checkin: markUsed %s: %w", unit.ID, err)
		}
		used = append(used, unit.ID)
	}

	return used, nil
}

// usableUnits returns the usable, unused units of the requested line item
// ordered by sub_index, excluding ids already attempted, plus the total
// number of units known for the line item.
func (s *Service) usableUnits(ctx context.Context, req Request, exclude map[string]bool) ([]models.TicketUnit, int, error) {
	units, err := s.ledger.ListByOrder(ctx, req.OrderNumber)
	if err != nil {
		return nil, 0, fmt.Errorf("checkin: listByOrder: %w", err)
	}

	total := 0
	candidates := []models.TicketUnit{}
	for i := range units {
		if units[i].LineItemID != req.LineItemID {
			continue
		}
		total++
		if !units[i].Usable || exclude[units[i].ID] {
			continue
		}
		candidates = append(candidates, units[i])
	}
	return candidates, total, nil
}
