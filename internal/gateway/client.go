package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ticket-redemption/config"
	"ticket-redemption/internal/status"
	"ticket-redemption/models"
	"ticket-redemption/monitoring"
	"ticket-redemption/utils"
)

// Client talks to the upstream order platform over its admin HTTP API.
// Every request is signed with an HMAC over the raw body and authenticated
// with an API token. Transient failures (network, 429, 5xx) are retried
// with exponential backoff inside a circuit breaker.
type Client struct {
	// baseURL is the base url of the upstream platform.
	baseURL string

	// apiToken authenticates this integration.
	apiToken string

	// hmacKey signs request bodies.
	hmacKey string

	retries    int
	backoff    time.Duration
	backoffCap time.Duration

	breaker *utils.CircuitBreaker

	// hc is the http client.
	hc *http.Client
}

// NewClient creates a gateway client from configuration.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL:    cfg.UpstreamBaseURL,
		apiToken:   cfg.UpstreamAPIToken,
		hmacKey:    cfg.UpstreamHMACKey,
		retries:    cfg.UpstreamRetries,
		backoff:    cfg.UpstreamBackoff,
		backoffCap: cfg.UpstreamBackoffCap,
		breaker:    utils.NewCircuitBreaker("upstream-orders"),

		// set http client with timeout.
		hc: &http.Client{
			Timeout: cfg.UpstreamTimeout,
		},
	}
}

// hmac256 signs body with the shared key, hex encoded.
func hmac256(body, key []byte) string {
	hash := hmac.New(sha256.New, key)
	hash.Write(body)
	return hex.EncodeToString(hash.Sum(nil))
}

// reply is the envelope every upstream endpoint answers with.
type reply struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// call performs one signed POST to path, retried per the configured budget.
// out, when non-nil, receives the decoded data payload.
func (c *Client) call(ctx context.Context, op, path string, payload any, out any) error {
	requestID, err := utils.RequestID()
	if err != nil {
		return fmt.Errorf("%s: requestID: %w", op, err)
	}

	body, err := json.Marshal(map[string]any{
		"requestId": requestID,
		"payload":   payload,
	})
	if err != nil {
		return fmt.Errorf("%s: marshal: %w", op, err)
	}

	started := time.Now()
	err = c.breaker.Execute(func() error {
		return utils.Retry(ctx, c.retries, c.backoff, c.backoffCap, func() error {
			return c.doOnce(ctx, op, path, body, out)
		})
	})
	monitoring.TrackUpstreamRequest(op, err, time.Since(started))
	return err
}

func (c *Client) doOnce(ctx context.Context, op, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: http.NewReq: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("SignedHash", hmac256(body, []byte(c.hmacKey)))
	req.Header.Set("Authorization", "Bearer "+c.apiToken)

	resp, err := c.hc.Do(req)
	if err != nil {
		return status.Transient(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return status.Transient(op, fmt.Errorf("http status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: http status %d", op, resp.StatusCode)
	}

	var r reply
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&r); err != nil {
		return fmt.Errorf("%s: json.Decode: %w", op, err)
	}
	switch r.Status {
	case "OK":
	case "NOT_FOUND":
		return status.ErrNotFound
	default:
		return fmt.Errorf("%s: reply.Status: %v, reply.Message: %v", op, r.Status, r.Message)
	}

	if out != nil {
		if err := json.Unmarshal(r.Data, out); err != nil {
			return fmt.Errorf("%s: decode data: %w", op, err)
		}
	}
	return nil
}

func (c *Client) FetchOrder(ctx context.Context, orderNumber string) (*models.ExternalOrderSnapshot, error) {
	var order models.WebhookOrder
	err := c.call(ctx, "fetchOrder", "/api/admin/orders/get", map[string]any{
		"orderNumber": orderNumber,
	}, &order)
	if err != nil {
		return nil, err
	}
	return order.ToSnapshot(), nil
}

func (c *Client) ListOrders(ctx context.Context, tag string, since time.Time, page, pageSize int) ([]models.ExternalOrderSnapshot, bool, error) {
	var data struct {
		Orders  []models.WebhookOrder `json:"orders"`
		HasMore bool                  `json:"hasMore"`
	}
	err := c.call(ctx, "listOrders", "/api/admin/orders/list", map[string]any{
		"tag":      tag,
		"since":    since.UTC().Format(time.RFC3339),
		"page":     page,
		"pageSize": pageSize,
	}, &data)
	if err != nil {
		return nil, false, err
	}

	snapshots := make([]models.ExternalOrderSnapshot, 0, len(data.Orders))
	for i := range data.Orders {
		snapshots = append(snapshots, *data.Orders[i].ToSnapshot())
	}
	return snapshots, data.HasMore, nil
}

func (c *Client) BeginEdit(ctx context.Context, orderNumber string) (*EditSession, error) {
	var data struct {
		EditID    string `json:"editId"`
		LineItems []struct {
			Handle       string `json:"handle"`
			Title        string `json:"title"`
			VariantTitle string `json:"variantTitle"`
			Quantity     int    `json:"quantity"`
		} `json:"lineItems"`
	}
	err := c.call(ctx, "beginEdit", "/api/admin/orderEdits/begin", map[string]any{
		"orderNumber": orderNumber,
	}, &data)
	if err != nil {
		return nil, err
	}

	session := &EditSession{ID: data.EditID}
	for _, li := range data.LineItems {
		session.LineItems = append(session.LineItems, EditLineItem{
			Handle:       li.Handle,
			Title:        li.Title,
			VariantTitle: li.VariantTitle,
			Quantity:     li.Quantity,
		})
	}
	return session, nil
}

func (c *Client) SetQuantity(ctx context.Context, sessionID, handle string, quantity int) error {
	return c.call(ctx, "setQuantity", "/api/admin/orderEdits/setQuantity", map[string]any{
		"editId":   sessionID,
		"handle":   handle,
		"quantity": quantity,
	}, nil)
}

func (c *Client) CommitEdit(ctx context.Context, sessionID string) error {
	return c.call(ctx, "commitEdit", "/api/admin/orderEdits/commit", map[string]any{
		"editId": sessionID,
	}, nil)
}

func (c *Client) Redeem(ctx context.Context, orderNumber, lineItemID string, quantity int) (*RedeemResult, error) {
	return redeem(ctx, c, orderNumber, lineItemID, quantity)
}
