package handlers

import (
	"net/http"
	"time"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"ticket-redemption/config"
	"ticket-redemption/internal/ledger"
	"ticket-redemption/internal/reconciler"
)

type AdminHandler struct {
	reconciler *reconciler.Service
	ledger     ledger.Ledger
	cfg        *config.Config
}

func NewAdminHandler(rec *reconciler.Service, l ledger.Ledger, cfg *config.Config) *AdminHandler {
	return &AdminHandler{reconciler: rec, ledger: l, cfg: cfg}
}

// TriggerImport runs a bulk import for a tag and lookback window.
func (h *AdminHandler) TriggerImport(e *core.RequestEvent) error {
	var req struct {
		Tag   string `json:"tag"`
		Since string `json:"since"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	tag := req.Tag
	if tag == "" {
		tag = h.cfg.TicketTagMarker
	}

	since := time.Now().Add(-h.cfg.ImportLookback)
	if req.Since != "" {
		parsed, err := time.Parse(time.RFC3339, req.Since)
		if err != nil {
			return apis.NewBadRequestError("since must be RFC3339", err)
		}
		since = parsed
	}

	outcome, err := h.reconciler.BulkImport(e.Request.Context(), tag, since)
	if err != nil {
		return apis.NewApiError(http.StatusBadGateway, "Import failed", err)
	}

	return e.JSON(http.StatusOK, outcome)
}

// GetOrderUnits returns the ledger rows of one order for gate staff.
func (h *AdminHandler) GetOrderUnits(e *core.RequestEvent) error {
	orderNumber := e.Request.PathValue("orderNumber")
	if orderNumber == "" {
		return apis.NewBadRequestError("Order number is required", nil)
	}

	units, err := h.ledger.ListByOrder(e.Request.Context(), orderNumber)
	if err != nil {
		return apis.NewBadRequestError("Failed to load units", err)
	}

	usable := 0
	for i := range units {
		if units[i].Usable {
			usable++
		}
	}

	return e.JSON(http.StatusOK, map[string]any{
		"order_number": orderNumber,
		"units":        units,
		"total":        len(units),
		"usable":       usable,
	})
}
