package handlers

import (
	"errors"
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"ticket-redemption/internal/checkin"
	"ticket-redemption/internal/status"
)

type CheckinHandler struct {
	service *checkin.Service
}

func NewCheckinHandler(service *checkin.Service) *CheckinHandler {
	return &CheckinHandler{service: service}
}

// Redeem consumes ticket units for one line item.
func (h *CheckinHandler) Redeem(e *core.RequestEvent) error {
	var req checkin.Request
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.OrderNumber == "" || req.LineItemID == "" || req.Quantity < 1 {
		return apis.NewBadRequestError("order_number, line_item_id and a positive quantity are required", nil)
	}

	result, err := h.service.Redeem(e.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, status.ErrNotFound):
			return apis.NewNotFoundError("No ticket units for this line item", err)
		case errors.Is(err, status.ErrAlreadyUsed):
			return apis.NewApiError(http.StatusConflict, "Ticket already used", err)
		case errors.Is(err, status.ErrInsufficientQuantity):
			return apis.NewApiError(http.StatusUnprocessableEntity, "Insufficient remaining quantity", err)
		default:
			return apis.NewApiError(http.StatusBadGateway, "Upstream platform unavailable", err)
		}
	}

	return e.JSON(http.StatusOK, result)
}
