package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ticket-redemption/internal/status"
	"ticket-redemption/models"
)

// Memory is an in-memory Ledger with the same contract as the PocketBase
// implementation, including natural-key uniqueness and the conditional
// MarkUsed update. Used by tests and safe for concurrent use.
type Memory struct {
	mu     sync.Mutex
	nextID int
	byID   map[string]*models.TicketUnit
	byKey  map[string]string
}

func NewMemory() *Memory {
	return &Memory{
		byID:  map[string]*models.TicketUnit{},
		byKey: map[string]string{},
	}
}

func (m *Memory) FindByNaturalKey(_ context.Context, orderNumber, customerID, lineItemID string, subIndex int) (*models.TicketUnit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byKey[models.UnitKey(orderNumber, customerID, lineItemID, subIndex)]
	if !ok {
		return nil, status.ErrNotFound
	}
	clone := *m.byID[id]
	return &clone, nil
}

func (m *Memory) InsertIfAbsent(_ context.Context, unit *models.TicketUnit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := unit.NaturalKey()
	if _, exists := m.byKey[key]; exists {
		return status.ErrConflict
	}

	m.nextID++
	clone := *unit
	clone.ID = fmt.Sprintf("unit_%d", m.nextID)
	clone.Created = time.Now()
	clone.Updated = clone.Created

	m.byID[clone.ID] = &clone
	m.byKey[key] = clone.ID
	unit.ID = clone.ID
	return nil
}

func (m *Memory) UpdateStatus(_ context.Context, id string, upd models.UnitUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	unit, ok := m.byID[id]
	if !ok {
		return status.ErrNotFound
	}

	if upd.Usable != nil {
		if *upd.Usable && !unit.Usable {
			return status.ErrAlreadyUsed
		}
		unit.Usable = *upd.Usable
	}
	if upd.FinancialStatus != nil {
		unit.FinancialStatus = *upd.FinancialStatus
	}
	if upd.FulfillmentStatus != nil {
		unit.FulfillmentStatus = *upd.FulfillmentStatus
	}
	if upd.Tags != nil {
		unit.Tags = upd.Tags
	}
	if upd.OwnerReference != nil {
		unit.OwnerReference = *upd.OwnerReference
	}
	if upd.SeatReference != nil {
		unit.SeatReference = *upd.SeatReference
	}
	if upd.DisplayColor != nil {
		unit.DisplayColor = *upd.DisplayColor
	}
	unit.Updated = time.Now()
	return nil
}

func (m *Memory) MarkUsed(_ context.Context, id string, usedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	unit, ok := m.byID[id]
	if !ok {
		return status.ErrNotFound
	}
	if !unit.Usable {
		return status.ErrAlreadyUsed
	}

	unit.Usable = false
	unit.UsedAt = &usedAt
	unit.Updated = time.Now()
	return nil
}

func (m *Memory) CountUsableByLineItem(_ context.Context, orderNumber, lineItemID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, unit := range m.byID {
		if unit.OrderNumber == orderNumber && unit.LineItemID == lineItemID && unit.Usable {
			count++
		}
	}
	return count, nil
}

func (m *Memory) ListByOrder(_ context.Context, orderNumber string) ([]models.TicketUnit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	units := []models.TicketUnit{}
	for _, unit := range m.byID {
		if unit.OrderNumber == orderNumber {
			units = append(units, *unit)
		}
	}
	sort.Slice(units, func(i, j int) bool {
		if units[i].LineItemID != units[j].LineItemID {
			return units[i].LineItemID < units[j].LineItemID
		}
		return units[i].SubIndex < units[j].SubIndex
	})
	return units, nil
}
