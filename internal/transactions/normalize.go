package transactions

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/corecastapp/corecast-backend/internal/paddle"
	"github.com/corecastapp/corecast-backend/pkg/enums"
	pkgerrors "github.com/corecastapp/corecast-backend/pkg/errors"
)

const (
	customDataUserID    = "user_id"
	customDataProductID = "product_id"
	priceDataCores      = "cores"
)

var validate = validator.New()

// CanonicalTransaction is the provider-agnostic shape every orchestrator
// handler consumes. The normalizer is the only place that understands raw
// provider payloads.
type CanonicalTransaction struct {
	Processor   enums.Processor
	ProviderID  string
	ReceiverID  uuid.UUID
	ProductID   *uuid.UUID
	Cores       int64
	Fee         int64
	RawStatus   string
	UpdatedAt   time.Time
	CheckoutURL string
	DiscountID  string
	ErrorCode   string
}

// Normalize validates a Paddle transaction event and maps it onto the
// canonical shape. Every required field failure names the offending field;
// nothing is silently defaulted.
func Normalize(event paddle.WebhookEvent) (CanonicalTransaction, error) {
	txn := event.Data

	if txn.ID == "" {
		return CanonicalTransaction{}, pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required")
	}

	// Multi-item provider transactions are deliberately unsupported: the
	// ledger models one core movement per record.
	if len(txn.Items) != 1 {
		return CanonicalTransaction{}, pkgerrors.New(
			pkgerrors.CodeValidation,
			fmt.Sprintf("transaction %s has %d items; exactly one is supported", txn.ID, len(txn.Items)),
		)
	}
	item := txn.Items[0]

	rawUserID := txn.CustomData[customDataUserID]
	if err := validate.Var(rawUserID, "required,uuid4"); err != nil {
		return CanonicalTransaction{}, pkgerrors.New(
			pkgerrors.CodeValidation,
			fmt.Sprintf("custom_data.%s is missing or not a uuid", customDataUserID),
		)
	}
	receiverID, err := uuid.Parse(rawUserID)
	if err != nil {
		return CanonicalTransaction{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "custom_data.user_id")
	}

	var productID *uuid.UUID
	if raw := txn.CustomData[customDataProductID]; raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			return CanonicalTransaction{}, pkgerrors.New(
				pkgerrors.CodeValidation,
				fmt.Sprintf("custom_data.%s is not a uuid", customDataProductID),
			)
		}
		productID = &parsed
	}

	updatedAt, err := parseProviderTime(txn.UpdatedAt)
	if err != nil {
		return CanonicalTransaction{}, pkgerrors.New(pkgerrors.CodeValidation, "updated_at is missing or malformed")
	}

	cores, err := parseCores(item)
	if err != nil {
		return CanonicalTransaction{}, err
	}

	canonical := CanonicalTransaction{
		Processor:  enums.ProcessorPaddle,
		ProviderID: txn.ID,
		ReceiverID: receiverID,
		ProductID:  productID,
		Cores:      cores,
		Fee:        0,
		RawStatus:  txn.Status,
		UpdatedAt:  updatedAt,
		ErrorCode:  txn.LatestErrorCode(),
	}
	if txn.Checkout != nil {
		canonical.CheckoutURL = txn.Checkout.URL
	}
	if txn.DiscountID != nil {
		canonical.DiscountID = *txn.DiscountID
	}
	return canonical, nil
}

// parseCores extracts the core amount from the price metadata and scales it by
// the purchased quantity. The amount must be a positive whole number.
func parseCores(item paddle.TransactionItem) (int64, error) {
	raw := item.Price.CustomData[priceDataCores]
	if raw == "" {
		return 0, pkgerrors.New(
			pkgerrors.CodeValidation,
			fmt.Sprintf("price custom_data.%s is required", priceDataCores),
		)
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil || !amount.IsInteger() || !amount.IsPositive() {
		return 0, pkgerrors.New(
			pkgerrors.CodeValidation,
			fmt.Sprintf("price custom_data.%s must be a positive integer, got %q", priceDataCores, raw),
		)
	}
	if item.Quantity <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "item quantity must be positive")
	}
	return amount.IntPart() * int64(item.Quantity), nil
}

func parseProviderTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", raw)
}
