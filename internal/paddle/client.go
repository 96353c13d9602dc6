package paddle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/corecastapp/corecast-backend/pkg/config"
)

// Client talks to the Paddle vendor API. Only the calls the reconciliation
// core needs are implemented.
type Client struct {
	baseURL       string
	vendorID      string
	vendorAuthKey string
	httpClient    *http.Client
}

// NewClient builds a Paddle API client from configuration.
func NewClient(cfg config.PaddleConfig) *Client {
	return &Client{
		baseURL:       cfg.APIBaseURL,
		vendorID:      cfg.VendorID,
		vendorAuthKey: cfg.VendorAuthKey,
		httpClient:    &http.Client{Timeout: cfg.Timeout},
	}
}

type updateCheckoutRequest struct {
	VendorID      string `json:"vendor_id"`
	VendorAuthKey string `json:"vendor_auth_key"`
	CheckoutURL   string `json:"checkout_url"`
}

// UpdateCheckoutURL points the provider-side checkout of the given transaction
// at our own confirmation page. Callers treat failures as non-fatal.
func (c *Client) UpdateCheckoutURL(ctx context.Context, transactionID, checkoutURL string) error {
	if transactionID == "" {
		return fmt.Errorf("transaction id is required")
	}
	body, err := json.Marshal(updateCheckoutRequest{
		VendorID:      c.vendorID,
		VendorAuthKey: c.vendorAuthKey,
		CheckoutURL:   checkoutURL,
	})
	if err != nil {
		return fmt.Errorf("encode checkout update: %w", err)
	}

	url := fmt.Sprintf("%s/transaction/%s/checkout", c.baseURL, transactionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build checkout update request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("update checkout url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("update checkout url: provider returned %d", resp.StatusCode)
	}
	return nil
}
