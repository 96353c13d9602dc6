package jobs

import (
	"context"
	"encoding/json"

	"github.com/corecastapp/corecast-backend/internal/njord"
	"github.com/corecastapp/corecast-backend/pkg/enums"
	pkgerrors "github.com/corecastapp/corecast-backend/pkg/errors"
)

type balanceClient interface {
	GetBalance(ctx context.Context, accountID string) (*njord.BalanceResult, error)
}

type jobCreator interface {
	CreateJob(ctx context.Context, params CreateJobParams) (*WorkerJob, error)
}

type balanceLookupInput struct {
	AccountID string `json:"account_id"`
}

type balanceLookupResult struct {
	AccountID string `json:"account_id"`
	Balance   int64  `json:"balance"`
}

// NewBalanceLookupHandler returns the core_balance_lookup handler. It reads
// one account balance from Njord and stores it as the job result.
func NewBalanceLookupHandler(client balanceClient) Handler {
	return func(ctx context.Context, job *WorkerJob) (json.RawMessage, error) {
		var input balanceLookupInput
		if err := json.Unmarshal(job.Input, &input); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode balance lookup input")
		}
		if input.AccountID == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "account_id is required")
		}

		balance, err := client.GetBalance(ctx, input.AccountID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(balanceLookupResult{
			AccountID: balance.AccountID,
			Balance:   balance.Balance,
		})
	}
}

type balanceBatchInput struct {
	AccountIDs []string `json:"account_ids"`
}

// NewBalanceBatchHandler returns the core_balance_batch handler. It fans out
// one core_balance_lookup child per account and leaves the parent RUNNING;
// rollup over the children finishes it.
func NewBalanceBatchHandler(creator jobCreator) Handler {
	return func(ctx context.Context, job *WorkerJob) (json.RawMessage, error) {
		var input balanceBatchInput
		if err := json.Unmarshal(job.Input, &input); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode balance batch input")
		}
		if len(input.AccountIDs) == 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "account_ids must not be empty")
		}

		parentID := job.ID
		for _, accountID := range input.AccountIDs {
			childInput, err := json.Marshal(balanceLookupInput{AccountID: accountID})
			if err != nil {
				return nil, err
			}
			if _, err := creator.CreateJob(ctx, CreateJobParams{
				Type:     enums.JobTypeCoreBalanceLookup,
				Input:    childInput,
				ParentID: &parentID,
			}); err != nil {
				return nil, err
			}
		}
		return nil, ErrAwaitChildren
	}
}
