package njord

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corecastapp/corecast-backend/pkg/config"
	"github.com/corecastapp/corecast-backend/pkg/enums"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(config.NjordConfig{
		BaseURL:            server.URL,
		APIKey:             "test-key",
		Timeout:            2 * time.Second,
		BreakerWindow:      time.Minute,
		BreakerCooldown:    time.Minute,
		BreakerMinRequests: 3,
		BreakerRatio:       0.5,
	}, nil)
	require.NoError(t, err)
	return client
}

func validTransferRequest() TransferRequest {
	return TransferRequest{
		IdempotencyKey: "txn-1",
		Sender:         SystemParty(),
		Receiver:       TransferParty{ID: "user-1", Type: PartyTypeUser},
		Currency:       CurrencyCores,
		Amount:         600,
	}
}

func TestTransferSuccess(t *testing.T) {
	var received TransferRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/transfers", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		_ = json.NewEncoder(w).Encode(TransferResult{
			Status: enums.TransferStatusSuccess,
			ReceiverBalance: BalanceChange{
				PreviousBalance: 100,
				NewBalance:      700,
				ChangeAmount:    600,
			},
		})
	})

	result, err := client.Transfer(context.Background(), validTransferRequest())
	require.NoError(t, err)
	assert.Equal(t, enums.TransferStatusSuccess, result.Status)
	assert.Equal(t, int64(700), result.ReceiverBalance.NewBalance)
	assert.Equal(t, "txn-1", received.IdempotencyKey)
	assert.Equal(t, "njord", received.Sender.ID)
}

func TestTransferBusinessRejection(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(TransferResult{Status: enums.TransferStatusInsufficientFunds})
	})

	_, err := client.Transfer(context.Background(), validTransferRequest())
	require.Error(t, err)

	terr := AsTransferError(err)
	require.NotNil(t, terr)
	assert.Equal(t, enums.TransferStatusInsufficientFunds, terr.Status)
	assert.Equal(t, enums.TransactionStatusError, terr.Code)
}

func TestTransferValidatesRequest(t *testing.T) {
	client := newTestClient(t, func(http.ResponseWriter, *http.Request) {
		t.Fatal("no request expected")
	})

	req := validTransferRequest()
	req.IdempotencyKey = ""
	_, err := client.Transfer(context.Background(), req)
	require.Error(t, err)

	req = validTransferRequest()
	req.Amount = 0
	_, err = client.Transfer(context.Background(), req)
	require.Error(t, err)
}

func TestTransferOpensBreakerAfterRepeatedServerErrors(t *testing.T) {
	var hits int
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	})

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := client.Transfer(ctx, validTransferRequest())
		require.Error(t, err)
		terr := AsTransferError(err)
		require.NotNil(t, terr)
		assert.Equal(t, enums.TransferStatusUnavailable, terr.Status)
		assert.Equal(t, enums.TransactionStatusErrorRecoverable, terr.Code)
	}

	// The breaker tripped somewhere along the way, so later calls fail fast
	// without reaching the server.
	assert.Less(t, hits, 5)
	_, err := client.Transfer(ctx, validTransferRequest())
	require.Error(t, err)
	terr := AsTransferError(err)
	require.NotNil(t, terr)
	assert.Equal(t, "njord circuit open", terr.Message)
}

func TestGetBalance(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/accounts/user-1/balance", r.URL.Path)
		_ = json.NewEncoder(w).Encode(BalanceResult{AccountID: "user-1", Balance: 1200})
	})

	result, err := client.GetBalance(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", result.AccountID)
	assert.Equal(t, int64(1200), result.Balance)
}
