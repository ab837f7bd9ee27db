package checkin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-redemption/internal/gateway"
	"ticket-redemption/internal/ledger"
	"ticket-redemption/internal/reconciler"
	"ticket-redemption/internal/status"
	"ticket-redemption/models"
)

// countingGateway emulates the upstream quantity as the single source of
// truth: Redeem decrements an internal counter under a mutex, exactly as a
// committed edit session would.
type countingGateway struct {
	mu        sync.Mutex
	remaining int
	calls     int
	failWith  error
}

func (g *countingGateway) Redeem(_ context.Context, _, _ string, quantity int) (*gateway.RedeemResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls++
	if g.failWith != nil {
		return nil, g.failWith
	}
	if g.remaining <= 0 || quantity > g.remaining {
		return nil, status.ErrInsufficientQuantity
	}
	previous := g.remaining
	g.remaining -= quantity
	return &gateway.RedeemResult{PreviousQuantity: previous, RemainingQuantity: g.remaining}, nil
}

func (g *countingGateway) FetchOrder(context.Context, string) (*models.ExternalOrderSnapshot, error) {
	panic("not used")
}

func (g *countingGateway) ListOrders(context.Context, string, time.Time, int, int) ([]models.ExternalOrderSnapshot, bool, error) {
	panic("not used")
}

func (g *countingGateway) BeginEdit(context.Context, string) (*gateway.EditSession, error) {
	panic("not used")
}

func (g *countingGateway) SetQuantity(context.Context, string, string, int) error {
	panic("not used")
}

func (g *countingGateway) CommitEdit(context.Context, string) error {
	panic("not used")
}

func seedUnits(t *testing.T, mem *ledger.Memory, orderNumber string, count int) []models.TicketUnit {
	t.Helper()
	for i := 1; i <= count; i++ {
		unit := &models.TicketUnit{
			OrderNumber: orderNumber,
			CustomerID:  "cust_1",
			LineItemID:  "li_1",
			SubIndex:    i,
			Usable:      true,
		}
		require.NoError(t, mem.InsertIfAbsent(context.Background(), unit))
	}
	units, err := mem.ListByOrder(context.Background(), orderNumber)
	require.NoError(t, err)
	return units
}

func TestRedeem_Success(t *testing.T) {
	mem := ledger.NewMemory()
	seedUnits(t, mem, "1001", 3)
	gw := &countingGateway{remaining: 3}
	svc := New(mem, gw, nil, nil)

	result, err := svc.Redeem(context.Background(), Request{OrderNumber: "1001", LineItemID: "li_1", Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, result.PreviousQuantity)
	assert.Equal(t, 1, result.RemainingQuantity)
	require.Len(t, result.UsedUnits, 2)

	// lowest sub_index consumed first
	units, err := mem.ListByOrder(context.Background(), "1001")
	require.NoError(t, err)
	assert.False(t, units[0].Usable)
	assert.False(t, units[1].Usable)
	assert.True(t, units[2].Usable)
	assert.NotNil(t, units[0].UsedAt)
}

func TestRedeem_NotFound(t *testing.T) {
	mem := ledger.NewMemory()
	gw := &countingGateway{remaining: 3}
	svc := New(mem, gw, nil, nil)

	_, err := svc.Redeem(context.Background(), Request{OrderNumber: "9999", LineItemID: "li_1", Quantity: 1})
	assert.ErrorIs(t, err, status.ErrNotFound)
	assert.Zero(t, gw.calls)
}

func TestRedeem_InsufficientLeavesLedgerUntouched(t *testing.T) {
	mem := ledger.NewMemory()
	seedUnits(t, mem, "1001", 1)
	gw := &countingGateway{remaining: 1}
	svc := New(mem, gw, nil, nil)

	_, err := svc.Redeem(context.Background(), Request{OrderNumber: "1001", LineItemID: "li_1", Quantity: 2})
	assert.ErrorIs(t, err, status.ErrInsufficientQuantity)
	assert.Zero(t, gw.calls, "upstream must not be touched when the ledger cannot satisfy the request")

	units, err := mem.ListByOrder(context.Background(), "1001")
	require.NoError(t, err)
	assert.True(t, units[0].Usable)
	assert.Equal(t, 1, gw.remaining)
}

func TestRedeem_UpstreamFailureLeavesLedgerUntouched(t *testing.T) {
	mem := ledger.NewMemory()
	seedUnits(t, mem, "1001", 2)
	gw := &countingGateway{remaining: 2, failWith: status.Transient("commitEdit", errors.New("upstream unavailable"))}
	svc := New(mem, gw, nil, nil)

	_, err := svc.Redeem(context.Background(), Request{OrderNumber: "1001", LineItemID: "li_1", Quantity: 1})
	require.Error(t, err)
	assert.True(t, status.IsTransient(err))

	units, err := mem.ListByOrder(context.Background(), "1001")
	require.NoError(t, err)
	for _, unit := range units {
		assert.True(t, unit.Usable)
		assert.Nil(t, unit.UsedAt)
	}
}

func TestRedeem_UpstreamInsufficientLeavesLedgerUntouched(t *testing.T) {
	// Ledger believes two units are usable but upstream already shrank.
	mem := ledger.NewMemory()
	seedUnits(t, mem, "1001", 2)
	gw := &countingGateway{remaining: 1}
	svc := New(mem, gw, nil, nil)

	_, err := svc.Redeem(context.Background(), Request{OrderNumber: "1001", LineItemID: "li_1", Quantity: 2})
	assert.ErrorIs(t, err, status.ErrInsufficientQuantity)

	units, err := mem.ListByOrder(context.Background(), "1001")
	require.NoError(t, err)
	assert.True(t, units[0].Usable)
	assert.True(t, units[1].Usable)
}

func TestRedeem_InvalidQuantity(t *testing.T) {
	svc := New(ledger.NewMemory(), &countingGateway{}, nil, nil)
	_, err := svc.Redeem(context.Background(), Request{OrderNumber: "1001", LineItemID: "li_1", Quantity: 0})
	assert.Error(t, err)
}

func TestRedeem_ConcurrentCapacityOne(t *testing.T) {
	mem := ledger.NewMemory()
	seedUnits(t, mem, "1001", 1)
	gw := &countingGateway{remaining: 1}
	svc := New(mem, gw, nil, nil)

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Redeem(context.Background(), Request{OrderNumber: "1001", LineItemID: "li_1", Quantity: 1})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t,
			errors.Is(err, status.ErrInsufficientQuantity) || errors.Is(err, status.ErrAlreadyUsed),
			"unexpected failure mode: %v", err)
	}
	assert.Equal(t, 1, succeeded, "exactly one concurrent redeem may win")
	assert.Equal(t, 0, gw.remaining)

	units, err := mem.ListByOrder(context.Background(), "1001")
	require.NoError(t, err)
	assert.False(t, units[0].Usable)
}

// consumingGateway commits the upstream decrement and then consumes the
// unit in the ledger itself, standing in for a concurrent winner that got
// between this request's pre-check and its local consumption.
type consumingGateway struct {
	countingGateway
	mem    *ledger.Memory
	unitID string
}

func (g *consumingGateway) Redeem(ctx context.Context, orderNumber, lineItemID string, quantity int) (*gateway.RedeemResult, error) {
	result, err := g.countingGateway.Redeem(ctx, orderNumber, lineItemID, quantity)
	if err != nil {
		return nil, err
	}
	if err := g.mem.MarkUsed(ctx, g.unitID, time.Now()); err != nil {
		return nil, err
	}
	return result, nil
}

type recordingHealer struct {
	orders []string
}

func (h *recordingHealer) ReconcileByNumber(_ context.Context, orderNumber string) (reconciler.Outcome, error) {
	h.orders = append(h.orders, orderNumber)
	return reconciler.Outcome{}, nil
}

func TestRedeem_PostCommitConflictTriggersHeal(t *testing.T) {
	mem := ledger.NewMemory()
	units := seedUnits(t, mem, "1001", 1)
	gw := &consumingGateway{
		countingGateway: countingGateway{remaining: 1},
		mem:             mem,
		unitID:          units[0].ID,
	}
	healer := &recordingHealer{}
	svc := New(mem, gw, nil, healer)

	_, err := svc.Redeem(context.Background(), Request{OrderNumber: "1001", LineItemID: "li_1", Quantity: 1})
	assert.ErrorIs(t, err, status.ErrAlreadyUsed)
	assert.Equal(t, []string{"1001"}, healer.orders, "a post-commit consume conflict must re-derive the order from upstream")
}

func TestRedeem_SuccessDoesNotHeal(t *testing.T) {
	mem := ledger.NewMemory()
	seedUnits(t, mem, "1001", 1)
	healer := &recordingHealer{}
	svc := New(mem, &countingGateway{remaining: 1}, nil, healer)

	_, err := svc.Redeem(context.Background(), Request{OrderNumber: "1001", LineItemID: "li_1", Quantity: 1})
	require.NoError(t, err)
	assert.Empty(t, healer.orders)
}
