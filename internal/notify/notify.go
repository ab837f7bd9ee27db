package notify

import (
	"log/slog"

	pubnub "github.com/pubnub/go"
)

// Notifier pushes real-time events to gate staff dashboards.
type Notifier interface {
	OrderReconciled(orderNumber string, inserted, updated, revoked int)
	UnitRedeemed(orderNumber, lineItemID string, unitIDs []string, remaining int)
	OrderCancelled(orderNumber string, revoked int)
}

type pubnubNotifier struct {
	pn      *pubnub.PubNub
	channel string
}

// NewPubNub returns a Notifier publishing to the staff channel.
func NewPubNub(pn *pubnub.PubNub, channel string) Notifier {
	return &pubnubNotifier{pn: pn, channel: channel}
}

func (n *pubnubNotifier) publish(message map[string]any) {
	_, _, err := n.pn.Publish().
		Channel(n.channel).
		Message(message).
		Execute()
	if err != nil {
		slog.Error("notify: publish failed", "channel", n.channel, "error", err)
	}
}

func (n *pubnubNotifier) OrderReconciled(orderNumber string, inserted, updated, revoked int) {
	n.publish(map[string]any{
		"type":         "order_reconciled",
		"order_number": orderNumber,
		"inserted":     inserted,
		"updated":      updated,
		"revoked":      revoked,
	})
}

func (n *pubnubNotifier) UnitRedeemed(orderNumber, lineItemID string, unitIDs []string, remaining int) {
	n.publish(map[string]any{
		"type":         "unit_redeemed",
		"order_number": orderNumber,
		"line_item_id": lineItemID,
		"unit_ids":     unitIDs,
		"remaining":    remaining,
	})
}

func (n *pubnubNotifier) OrderCancelled(orderNumber string, revoked int) {
	n.publish(map[string]any{
		"type":         "order_cancelled",
		"order_number": orderNumber,
		"revoked":      revoked,
	})
}

// Noop discards all notifications. Used when PubNub is not configured and
// in tests.
type Noop struct{}

func (Noop) OrderReconciled(string, int, int, int)      {}
func (Noop) UnitRedeemed(string, string, []string, int) {}
func (Noop) OrderCancelled(string, int)                 {}
