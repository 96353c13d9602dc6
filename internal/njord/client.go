package njord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sony/gobreaker/v2"

	"github.com/corecastapp/corecast-backend/pkg/config"
	"github.com/corecastapp/corecast-backend/pkg/enums"
	"github.com/corecastapp/corecast-backend/pkg/logger"
)

// CurrencyCores is the only currency Njord holds for this platform.
const CurrencyCores = "cores"

// Transfer party types understood by the balance service.
const (
	PartyTypeUser   = "user"
	PartyTypeSystem = "system"
)

type TransferParty struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// SystemParty is the mint-side counterparty used when no sender account is
// involved (direct core purchases).
func SystemParty() TransferParty {
	return TransferParty{ID: "njord", Type: PartyTypeSystem}
}

// TransferRequest moves cores between two accounts. The idempotency key is
// the local ledger record id, so replays of the same local transfer collapse
// into one remote effect.
type TransferRequest struct {
	IdempotencyKey string        `json:"idempotency_key"`
	Sender         TransferParty `json:"sender"`
	Receiver       TransferParty `json:"receiver"`
	Currency       string        `json:"currency"`
	Amount         int64         `json:"amount"`
}

type BalanceChange struct {
	PreviousBalance int64 `json:"previous_balance"`
	NewBalance      int64 `json:"new_balance"`
	ChangeAmount    int64 `json:"change_amount"`
}

type TransferResult struct {
	SenderBalance   BalanceChange        `json:"sender_balance"`
	ReceiverBalance BalanceChange        `json:"receiver_balance"`
	Status          enums.TransferStatus `json:"status"`
}

type BalanceResult struct {
	AccountID string `json:"account_id"`
	Balance   int64  `json:"balance"`
}

// TransferError carries the remote status plus the local transaction status
// code it maps to, so the orchestrator can store it without re-classifying.
type TransferError struct {
	Status  enums.TransferStatus
	Code    enums.TransactionStatus
	Message string
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("njord transfer failed: %s (%s)", e.Message, e.Status)
}

// AsTransferError unwraps err into a TransferError if one is in the chain.
func AsTransferError(err error) *TransferError {
	var typed *TransferError
	if errors.As(err, &typed) {
		return typed
	}
	return nil
}

// Client wraps the Njord balance service RPC surface behind a shared circuit
// breaker. Construct once at process start and hand the same instance to
// every call site; the breaker counters are goroutine safe.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	logg       *logger.Logger
}

// NewClient builds a Njord client from configuration.
func NewClient(cfg config.NjordConfig, logg *logger.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("njord base url is required")
	}

	settings := gobreaker.Settings{
		Name:        "njord",
		Interval:    cfg.BreakerWindow,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: readyToTrip(cfg.BreakerMinRequests, cfg.BreakerRatio),
	}
	if logg != nil {
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			ctx := logg.WithFields(context.Background(), map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
			logg.Warn(ctx, "njord breaker state changed")
		}
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    gobreaker.NewCircuitBreaker[[]byte](settings),
		logg:       logg,
	}, nil
}

func readyToTrip(minRequests uint32, ratio float64) func(gobreaker.Counts) bool {
	return func(counts gobreaker.Counts) bool {
		if counts.Requests < minRequests {
			return false
		}
		failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
		return failureRatio >= ratio
	}
}

// Transfer executes a core movement. A non-SUCCESS remote status, a transport
// failure and an open breaker all surface as *TransferError so the caller can
// store the mapped local status code; only transport-level failures count
// against the breaker.
func (c *Client) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if req.IdempotencyKey == "" {
		return nil, errors.New("idempotency key is required")
	}
	if req.Amount <= 0 {
		return nil, errors.New("transfer amount must be positive")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode transfer request: %w", err)
	}

	raw, err := c.do(ctx, http.MethodPost, "/v1/transfers", body)
	if err != nil {
		return nil, c.classifyTransportError(err)
	}

	var result TransferResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &TransferError{
			Status:  enums.TransferStatusUnavailable,
			Code:    enums.TransferStatusUnavailable.TransactionStatus(),
			Message: fmt.Sprintf("decode transfer response: %v", err),
		}
	}

	if result.Status != enums.TransferStatusSuccess {
		return nil, &TransferError{
			Status:  result.Status,
			Code:    result.Status.TransactionStatus(),
			Message: fmt.Sprintf("transfer rejected with status %s", result.Status),
		}
	}
	return &result, nil
}

// GetBalance reads the current core balance for an account. Used by job
// handlers doing long-running lookups; shares the transfer breaker.
func (c *Client) GetBalance(ctx context.Context, accountID string) (*BalanceResult, error) {
	if accountID == "" {
		return nil, errors.New("account id is required")
	}
	raw, err := c.do(ctx, http.MethodGet, "/v1/accounts/"+accountID+"/balance", nil)
	if err != nil {
		return nil, c.classifyTransportError(err)
	}
	var result BalanceResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode balance response: %w", err)
	}
	return &result, nil
}

// do runs one HTTP exchange through the breaker. Transport errors and any
// non-2xx response count as breaker failures; business rejections come back
// as a parseable body with a 200 and never touch the breaker.
func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	return c.breaker.Execute(func() ([]byte, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("njord returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, fmt.Errorf("njord rejected request with %d: %s", resp.StatusCode, raw)
		}
		return raw, nil
	})
}

// classifyTransportError maps breaker and transport failures onto the
// service-unavailable classification. An open breaker is never conflated
// with a definitive business rejection.
func (c *Client) classifyTransportError(err error) error {
	message := err.Error()
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		message = "njord circuit open"
	}
	return &TransferError{
		Status:  enums.TransferStatusUnavailable,
		Code:    enums.TransferStatusUnavailable.TransactionStatus(),
		Message: message,
	}
}
