package paddle

import (
	"encoding/json"
	"time"
)

// EventType is the alert name Paddle stamps on a webhook delivery.
type EventType string

const (
	EventTransactionCreated       EventType = "transaction.created"
	EventTransactionUpdated       EventType = "transaction.updated"
	EventTransactionPaid          EventType = "transaction.paid"
	EventTransactionPaymentFailed EventType = "transaction.payment_failed"
	EventTransactionCompleted     EventType = "transaction.completed"
)

// WebhookEvent is the verified envelope handed to the reconciliation core.
// Signature checking happens upstream; the core only sees typed payloads.
type WebhookEvent struct {
	EventID    string          `json:"event_id"`
	EventType  EventType       `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       Transaction     `json:"data"`
	Raw        json.RawMessage `json:"-"`
}

// Transaction is the provider-side transaction object carried by every
// transaction.* event. Fields we do not consume are left unmapped.
type Transaction struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	CurrencyCode string            `json:"currency_code"`
	CustomData   map[string]string `json:"custom_data"`
	Items        []TransactionItem `json:"items"`
	Checkout     *Checkout         `json:"checkout"`
	DiscountID   *string           `json:"discount_id"`
	Payments     []Payment         `json:"payments"`
	UpdatedAt    string            `json:"updated_at"`
}

type TransactionItem struct {
	Quantity int   `json:"quantity"`
	Price    Price `json:"price"`
}

type Price struct {
	ID         string            `json:"id"`
	ProductID  string            `json:"product_id"`
	CustomData map[string]string `json:"custom_data"`
}

type Checkout struct {
	URL string `json:"url"`
}

type Payment struct {
	ErrorCode string `json:"error_code"`
	Status    string `json:"status"`
}

// LatestErrorCode returns the error code of the most recent payment attempt.
func (t Transaction) LatestErrorCode() string {
	for i := len(t.Payments) - 1; i >= 0; i-- {
		if t.Payments[i].ErrorCode != "" {
			return t.Payments[i].ErrorCode
		}
	}
	return ""
}
