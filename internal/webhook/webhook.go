package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"ticket-redemption/internal/reconciler"
	"ticket-redemption/internal/status"
	"ticket-redemption/models"
	"ticket-redemption/monitoring"
)

// Topics the upstream platform delivers to this service.
const (
	TopicOrdersCreate    = "orders-create"
	TopicOrdersUpdated   = "orders-updated"
	TopicOrdersCancelled = "orders-cancelled"
)

// Dispatcher receives verified, filtered order events. Implemented by
// reconciler.Service.
type Dispatcher interface {
	ReconcileOrder(ctx context.Context, snapshot *models.ExternalOrderSnapshot) (reconciler.Outcome, error)
	CancelOrder(ctx context.Context, orderNumber string) (int, error)
}

// Ack is the body returned for every delivery that passed signature
// verification. The upstream retry mechanism cannot tell a permanent
// business failure from a transient one, so everything after verification
// is acknowledged to stop redelivery.
type Ack struct {
	Received bool   `json:"received"`
	Reason   string `json:"reason,omitempty"`
}

// Ingress runs a delivery through verify -> dedup -> filter -> dispatch.
type Ingress struct {
	secret     []byte
	tagMarker  string
	redis      *redis.Client
	dedupTTL   time.Duration
	dispatcher Dispatcher
}

func NewIngress(secret, tagMarker string, redisClient *redis.Client, dedupTTL time.Duration, dispatcher Dispatcher) *Ingress {
	return &Ingress{
		secret:     []byte(secret),
		tagMarker:  tagMarker,
		redis:      redisClient,
		dedupTTL:   dedupTTL,
		dispatcher: dispatcher,
	}
}

// Verify checks the hex HMAC-SHA256 signature over the raw body. A failure
// here is an authentication error, answered with 401 and never dispatched.
func (i *Ingress) Verify(signature string, body []byte) error {
	mac := hmac.New(sha256.New, i.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return status.ErrAuthenticationFailed
	}
	return nil
}

// Process handles one verified delivery and always produces an Ack.
func (i *Ingress) Process(ctx context.Context, topic, deliveryID string, body []byte) Ack {
	if i.isDuplicate(ctx, deliveryID) {
		monitoring.TrackWebhookEvent(topic, "duplicate")
		return Ack{Received: true, Reason: "duplicate delivery"}
	}

	switch topic {
	case TopicOrdersCreate, TopicOrdersUpdated, TopicOrdersCancelled:
	default:
		monitoring.TrackWebhookEvent(topic, "ignored_topic")
		return Ack{Received: true, Reason: "topic not handled"}
	}

	var order models.WebhookOrder
	if err := json.Unmarshal(body, &order); err != nil || order.OrderNumber == "" {
		slog.Error("webhook: malformed payload", "topic", topic, "deliveryID", deliveryID, "error", err)
		monitoring.TrackWebhookEvent(topic, "malformed")
		return Ack{Received: false, Reason: status.ErrMalformedEvent.Error()}
	}

	snapshot := order.ToSnapshot()
	if !snapshot.HasTag(i.tagMarker) {
		monitoring.TrackWebhookEvent(topic, "filtered")
		return Ack{Received: true, Reason: "order not ticket-relevant"}
	}

	if topic == TopicOrdersCancelled || snapshot.Cancelled {
		revoked, err := i.dispatcher.CancelOrder(ctx, snapshot.OrderNumber)
		if err != nil {
			slog.Error("webhook: cancellation failed", "orderNumber", snapshot.OrderNumber, "error", err)
			monitoring.TrackWebhookEvent(topic, "error")
			return Ack{Received: false, Reason: "cancellation failed"}
		}
		monitoring.TrackWebhookEvent(topic, "cancelled")
		return Ack{Received: true, Reason: fmt.Sprintf("revoked %d units", revoked)}
	}

	if _, err := i.dispatcher.ReconcileOrder(ctx, snapshot); err != nil {
		slog.Error("webhook: reconciliation failed", "orderNumber", snapshot.OrderNumber, "error", err)
		monitoring.TrackWebhookEvent(topic, "error")
		return Ack{Received: false, Reason: "reconciliation failed"}
	}

	monitoring.TrackWebhookEvent(topic, "reconciled")
	return Ack{Received: true}
}

// isDuplicate claims the delivery id in redis. Without redis, or without a
// delivery id, every delivery is processed; reconciliation is idempotent so
// duplicates only cost work.
func (i *Ingress) isDuplicate(ctx context.Context, deliveryID string) bool {
	if i.redis == nil || deliveryID == "" {
		return false
	}

	key := fmt.Sprintf("webhook:delivery:%s", deliveryID)
	ok, err := i.redis.SetNX(ctx, key, 1, i.dedupTTL).Result()
	if err != nil {
		// Redis trouble must not drop deliveries.
		return false
	}
	return !ok
}
