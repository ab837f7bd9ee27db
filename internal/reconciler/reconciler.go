package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"ticket-redemption/internal/gateway"
	"ticket-redemption/internal/ledger"
	"ticket-redemption/internal/notify"
	"ticket-redemption/internal/status"
	"ticket-redemption/models"
	"ticket-redemption/monitoring"
)

// Outcome counts what one reconciliation pass did to the ledger.
type Outcome struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
	Revoked  int `json:"revoked"`
}

// ImportOutcome aggregates outcomes across a bulk import run.
type ImportOutcome struct {
	Orders   int `json:"orders"`
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
	Revoked  int `json:"revoked"`
}

// Service turns upstream order snapshots into ledger rows. Passes for
// different orders run fully concurrently; passes for the same order are
// serialized best-effort through a short redis lock, and fall back on the
// ledger's uniqueness and conditional updates when the lock is unavailable.
type Service struct {
	ledger   ledger.Ledger
	gw       gateway.Gateway
	redis    *redis.Client
	notifier notify.Notifier
	lockTTL  time.Duration
	pageSize int
}

func New(l ledger.Ledger, gw gateway.Gateway, redisClient *redis.Client, notifier notify.Notifier, lockTTL time.Duration, pageSize int) *Service {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if pageSize < 1 {
		pageSize = 50
	}
	return &Service{
		ledger:   l,
		gw:       gw,
		redis:    redisClient,
		notifier: notifier,
		lockTTL:  lockTTL,
		pageSize: pageSize,
	}
}

// ReconcileOrder runs one pass for one order snapshot.
func (s *Service) ReconcileOrder(ctx context.Context, snapshot *models.ExternalOrderSnapshot) (Outcome, error) {
	if snapshot.Cancelled {
		revoked, err := s.CancelOrder(ctx, snapshot.OrderNumber)
		return Outcome{Revoked: revoked}, err
	}

	unlock := s.tryLockOrder(ctx, snapshot.OrderNumber)
	defer unlock()

	// Start-of-pass snapshot of existing rows. Deliberately not re-read
	// mid-pass; the accepted consistency window is documented in the
	// service contract.
	existing, err := s.ledger.ListByOrder(ctx, snapshot.OrderNumber)
	if err != nil {
		return Outcome{}, fmt.Errorf("reconcileOrder: %w", err)
	}
	byKey := make(map[string]*models.TicketUnit, len(existing))
	for i := range existing {
		byKey[existing[i].NaturalKey()] = &existing[i]
	}

	var outcome Outcome
	for i := range snapshot.LineItems {
		s.reconcileLineItem(ctx, snapshot, &snapshot.LineItems[i], byKey, &outcome)
	}

	monitoring.TrackReconciliation("inserted", outcome.Inserted)
	monitoring.TrackReconciliation("updated", outcome.Updated)
	monitoring.TrackReconciliation("skipped", outcome.Skipped)
	monitoring.TrackReconciliation("revoked", outcome.Revoked)

	if outcome.Inserted+outcome.Updated+outcome.Revoked > 0 {
		s.notifier.OrderReconciled(snapshot.OrderNumber, outcome.Inserted, outcome.Updated, outcome.Revoked)
	}

	return outcome, nil
}

func (s *Service) reconcileLineItem(ctx context.Context, snapshot *models.ExternalOrderSnapshot, li *models.OrderLineItem, byKey map[string]*models.TicketUnit, outcome *Outcome) {
	// usableSoFar counts the usable slots already allocated to this line
	// item during the pass. A unit keeps or gains usability only while the
	// upstream current quantity still has room above that count.
	usableSoFar := 0

	for subIndex := 1; subIndex <= li.OriginalQuantity; subIndex++ {
		key := models.UnitKey(snapshot.OrderNumber, snapshot.CustomerID, li.ID, subIndex)
		unit, exists := byKey[key]

		switch {
		case exists && !unit.Usable:
			// Redemption is final: reconciliation never resurrects.

		case exists:
			usable := li.CurrentQuantity > usableSoFar
			upd := models.UnitUpdate{
				FinancialStatus:   models.StringPtr(snapshot.FinancialStatus),
				FulfillmentStatus: models.StringPtr(snapshot.FulfillmentStatus),
				Tags:              snapshot.Tags,
			}
			if !usable {
				upd.Usable = models.BoolPtr(false)
			}
			if err := s.ledger.UpdateStatus(ctx, unit.ID, upd); err != nil {
				if errors.Is(err, status.ErrAlreadyUsed) {
					// A concurrent redemption consumed the unit between the
					// snapshot and now. Final is final.
					continue
				}
				slog.Error("reconcile: update failed", "key", key, "error", err)
				continue
			}
			if usable {
				usableSoFar++
				outcome.Updated++
			} else {
				outcome.Revoked++
			}

		default:
			usable := usableSoFar < li.CurrentQuantity
			fresh := &models.TicketUnit{
				OrderNumber:       snapshot.OrderNumber,
				CustomerID:        snapshot.CustomerID,
				LineItemID:        li.ID,
				SubIndex:          subIndex,
				Usable:            usable,
				PurchaserName:     snapshot.CustomerName,
				PurchaserEmail:    snapshot.CustomerEmail,
				OwnerReference:    snapshot.CustomerName,
				Amount:            li.Price,
				FinancialStatus:   snapshot.FinancialStatus,
				FulfillmentStatus: snapshot.FulfillmentStatus,
				Tags:              snapshot.Tags,
			}
			if err := s.ledger.InsertIfAbsent(ctx, fresh); err != nil {
				if errors.Is(err, status.ErrConflict) {
					// Lost the insert race. The winner computed the same
					// allocation, so keep the running count consistent.
					outcome.Skipped++
					if usable {
						usableSoFar++
					}
					continue
				}
				slog.Error("reconcile: insert failed", "key", key, "error", err)
				continue
			}
			outcome.Inserted++
			if usable {
				usableSoFar++
			}
		}
	}
}

// CancelOrder drives every usable unit of the order to unusable. It never
// inserts; already-used units are untouched.
func (s *Service) CancelOrder(ctx context.Context, orderNumber string) (int, error) {
	unlock := s.tryLockOrder(ctx, orderNumber)
	defer unlock()

	units, err := s.ledger.ListByOrder(ctx, orderNumber)
	if err != nil {
		return 0, fmt.Errorf("cancelOrder: %w", err)
	}

	revoked := 0
	for i := range units {
		if !units[i].Usable {
			continue
		}
		upd := models.UnitUpdate{
			Usable:          models.BoolPtr(false),
			FinancialStatus: models.StringPtr("cancelled"),
		}
		if err := s.ledger.UpdateStatus(ctx, units[i].ID, upd); err != nil {
			if errors.Is(err, status.ErrAlreadyUsed) {
				continue
			}
			slog.Error("cancel: revoke failed", "unit", units[i].ID, "error", err)
			continue
		}
		revoked++
	}

	monitoring.TrackReconciliation("revoked", revoked)
	if revoked > 0 {
		s.notifier.OrderCancelled(orderNumber, revoked)
	}
	return revoked, nil
}

// BulkImport fetches every order carrying tag changed since the lookback
// boundary and reconciles each, page by page. Operator-made reassignments
// (owner, seat, display color) live only in the ledger and are preserved:
// the per-unit update never writes those fields from upstream values.
func (s *Service) BulkImport(ctx context.Context, tag string, since time.Time) (ImportOutcome, error) {
	var total ImportOutcome

	for page := 1; ; page++ {
		snapshots, hasMore, err := s.gw.ListOrders(ctx, tag, since, page, s.pageSize)
		if err != nil {
			monitoring.TrackImportRun("error")
			return total, fmt.Errorf("bulkImport: page %d: %w", page, err)
		}

		for i := range snapshots {
			snapshot := &snapshots[i]
			if tag != "" && !snapshot.HasTag(tag) {
				continue
			}

			outcome, err := s.ReconcileOrder(ctx, snapshot)
			if err != nil {
				slog.Error("import: order failed", "orderNumber", snapshot.OrderNumber, "error", err)
				continue
			}
			total.Orders++
			total.Inserted += outcome.Inserted
			total.Updated += outcome.Updated
			total.Skipped += outcome.Skipped
			total.Revoked += outcome.Revoked
		}

		if !hasMore {
			break
		}
	}

	monitoring.TrackImportRun("ok")
	return total, nil
}

// ReconcileByNumber fetches the current upstream state of one order and
// reconciles it. Used to heal the post-commit window after a redemption.
func (s *Service) ReconcileByNumber(ctx context.Context, orderNumber string) (Outcome, error) {
	snapshot, err := s.gw.FetchOrder(ctx, orderNumber)
	if err != nil {
		return Outcome{}, fmt.Errorf("reconcileByNumber: %w", err)
	}
	return s.ReconcileOrder(ctx, snapshot)
}

// tryLockOrder takes a best-effort per-order lock. When redis is absent or
// the lock is held elsewhere the pass proceeds anyway; correctness then
// rests on the ledger's unique index and conditional updates alone.
func (s *Service) tryLockOrder(ctx context.Context, orderNumber string) func() {
	if s.redis == nil {
		return func() {}
	}

	key := fmt.Sprintf("reconcile:order:%s", orderNumber)
	ok, err := s.redis.SetNX(ctx, key, 1, s.lockTTL).Result()
	if err != nil || !ok {
		return func() {}
	}
	return func() {
		s.redis.Del(context.Background(), key)
	}
}
