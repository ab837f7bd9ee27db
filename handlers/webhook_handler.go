package handlers

import (
	"io"
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"ticket-redemption/internal/webhook"
)

type WebhookHandler struct {
	ingress *webhook.Ingress
}

func NewWebhookHandler(ingress *webhook.Ingress) *WebhookHandler {
	return &WebhookHandler{ingress: ingress}
}

// Receive handles one upstream delivery. Only a signature failure is
// answered with 401; every verified delivery is acknowledged with 200 so
// the upstream stops redelivering.
func (h *WebhookHandler) Receive(e *core.RequestEvent) error {
	topic := e.Request.PathValue("topic")

	// The signature covers the raw body, so read it before any decoding.
	body, err := io.ReadAll(e.Request.Body)
	if err != nil {
		return apis.NewBadRequestError("Failed to read body", err)
	}

	signature := e.Request.Header.Get("X-Webhook-Signature")
	if err := h.ingress.Verify(signature, body); err != nil {
		return apis.NewUnauthorizedError("Invalid webhook signature", err)
	}

	ack := h.ingress.Process(e.Request.Context(), topic, e.Request.Header.Get("X-Webhook-Delivery"), body)
	return e.JSON(http.StatusOK, ack)
}
