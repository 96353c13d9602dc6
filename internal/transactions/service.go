package transactions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"gorm.io/gorm"

	"github.com/corecastapp/corecast-backend/internal/njord"
	"github.com/corecastapp/corecast-backend/internal/paddle"
	"github.com/corecastapp/corecast-backend/internal/users"
	"github.com/corecastapp/corecast-backend/pkg/enums"
	pkgerrors "github.com/corecastapp/corecast-backend/pkg/errors"
	"github.com/corecastapp/corecast-backend/pkg/logger"
	"github.com/corecastapp/corecast-backend/pkg/metrics"
)

// Discounts whose id carries this prefix mark sandbox checkouts. Completed
// events for them settle locally without moving real cores.
const sandboxDiscountPrefix = "dsc_sandbox"

// Raw provider statuses an Updated event may create a record from.
const (
	rawStatusDraft  = "draft"
	rawStatusReady  = "ready"
	rawStatusBilled = "billed"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type transferClient interface {
	Transfer(ctx context.Context, req njord.TransferRequest) (*njord.TransferResult, error)
}

type checkoutClient interface {
	UpdateCheckoutURL(ctx context.Context, transactionID, checkoutURL string) error
}

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

type eventPublisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) publishResult
}

type ServiceParams struct {
	Logger             *logger.Logger
	Metrics            *metrics.ReconciliationMetrics
	TransactionRunner  txRunner
	Repo               Repository
	Users              users.Repository
	Njord              transferClient
	Paddle             checkoutClient
	Publisher          eventPublisher
	CheckoutConfirmURL string
}

// Service reconciles provider webhook events against the local ledger and,
// for settled purchases, commits the core movement against Njord.
type Service struct {
	logg               *logger.Logger
	metrics            *metrics.ReconciliationMetrics
	txRunner           txRunner
	repo               Repository
	users              users.Repository
	njord              transferClient
	paddle             checkoutClient
	publisher          eventPublisher
	checkoutConfirmURL string
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction repo required")
	}
	if params.Users == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "users repo required")
	}
	if params.Njord == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "njord client required")
	}
	return &Service{
		logg:               params.Logger,
		metrics:            params.Metrics,
		txRunner:           params.TransactionRunner,
		repo:               params.Repo,
		users:              params.Users,
		njord:              params.Njord,
		paddle:             params.Paddle,
		publisher:          params.Publisher,
		checkoutConfirmURL: params.CheckoutConfirmURL,
	}, nil
}

// HandleCreated records a brand-new provider transaction. A record that
// already exists means a duplicate delivery and is skipped with a warning.
func (s *Service) HandleCreated(ctx context.Context, event paddle.WebhookEvent) error {
	canon, err := Normalize(event)
	if err != nil {
		return err
	}
	ctx = s.eventContext(ctx, event, canon)

	existing, err := s.repo.FindByProviderID(ctx, canon.Processor, canon.ProviderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}
	if existing != nil {
		if err := receiverMismatch(existing, canon); err != nil {
			return err
		}
		s.logg.Warn(s.logg.WithField(ctx, "status", existing.Status.String()), "transaction already recorded")
		s.metrics.IncWebhookEvent(string(event.EventType), "duplicate")
		return nil
	}

	record := newRecordFromCanonical(canon, enums.TransactionStatusCreated)
	if _, err := s.repo.Upsert(ctx, record); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist transaction")
	}

	if s.paddle != nil && s.checkoutConfirmURL != "" {
		if err := s.paddle.UpdateCheckoutURL(ctx, canon.ProviderID, s.checkoutConfirmURL); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "checkout url update failed")
		}
	}

	s.metrics.IncWebhookEvent(string(event.EventType), "created")
	return nil
}

// HandleUpdated refreshes the value fields of a record. It never changes the
// status of an existing record; only the dedicated Paid and Completed events
// advance the state machine.
func (s *Service) HandleUpdated(ctx context.Context, event paddle.WebhookEvent) error {
	canon, err := Normalize(event)
	if err != nil {
		return err
	}
	ctx = s.eventContext(ctx, event, canon)

	existing, err := s.repo.FindByProviderID(ctx, canon.Processor, canon.ProviderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}

	if existing == nil {
		status, ok := statusFromRawUpdate(canon.RawStatus)
		if !ok {
			s.logg.Warn(s.logg.WithField(ctx, "raw_status", canon.RawStatus), "ignoring update for unknown transaction")
			s.metrics.IncWebhookEvent(string(event.EventType), "skipped")
			return nil
		}
		record := newRecordFromCanonical(canon, status)
		if _, err := s.repo.Upsert(ctx, record); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist transaction")
		}
		s.metrics.IncWebhookEvent(string(event.EventType), "created")
		return nil
	}

	if err := receiverMismatch(existing, canon); err != nil {
		return err
	}

	// Redelivered or out-of-order event carrying state older than the row.
	if existing.UpdatedAt.After(canon.UpdatedAt) {
		s.logg.Info(ctx, "transaction already updated")
		s.metrics.IncWebhookEvent(string(event.EventType), "stale")
		return nil
	}

	if existing.Status == enums.TransactionStatusSuccess {
		if existing.Value != canon.Cores {
			return pkgerrors.New(
				pkgerrors.CodeConflict,
				fmt.Sprintf("value change on settled transaction: stored %d, event carries %d", existing.Value, canon.Cores),
			)
		}
		s.logg.Info(ctx, "transaction already settled")
		s.metrics.IncWebhookEvent(string(event.EventType), "duplicate")
		return nil
	}

	existing.Value = canon.Cores
	existing.ValueIncFees = canon.Cores + canon.Fee
	existing.Fee = canon.Fee
	if _, err := s.repo.Upsert(ctx, existing); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist transaction")
	}
	s.metrics.IncWebhookEvent(string(event.EventType), "updated")
	return nil
}

// HandlePaid moves a record into Processing. A missing record is created
// directly in Processing; the Created event may simply not have arrived yet.
func (s *Service) HandlePaid(ctx context.Context, event paddle.WebhookEvent) error {
	canon, err := Normalize(event)
	if err != nil {
		return err
	}
	ctx = s.eventContext(ctx, event, canon)

	existing, err := s.repo.FindByProviderID(ctx, canon.Processor, canon.ProviderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}

	if existing == nil {
		record := newRecordFromCanonical(canon, enums.TransactionStatusProcessing)
		if _, err := s.repo.Upsert(ctx, record); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist transaction")
		}
		s.metrics.IncWebhookEvent(string(event.EventType), "created")
		return nil
	}

	if err := receiverMismatch(existing, canon); err != nil {
		return err
	}

	if !CanTransition(existing.Status, enums.TransactionStatusProcessing, paidPredecessors) {
		s.logTransitionRejected(ctx, event, existing.Status, enums.TransactionStatusProcessing, canon)
		s.metrics.IncWebhookEvent(string(event.EventType), "rejected")
		return nil
	}

	existing.Status = enums.TransactionStatusProcessing
	existing.Value = canon.Cores
	existing.ValueIncFees = canon.Cores + canon.Fee
	if _, err := s.repo.Upsert(ctx, existing); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist transaction")
	}
	s.metrics.IncWebhookEvent(string(event.EventType), "updated")
	return nil
}

// HandlePaymentFailed marks a known record recoverable and stores the
// provider's failure code. A failure for a transaction we never saw is a hard
// error; it must reference a known purchase.
func (s *Service) HandlePaymentFailed(ctx context.Context, event paddle.WebhookEvent) error {
	canon, err := Normalize(event)
	if err != nil {
		return err
	}
	ctx = s.eventContext(ctx, event, canon)

	existing, err := s.repo.FindByProviderID(ctx, canon.Processor, canon.ProviderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}
	if existing == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
	}

	if err := receiverMismatch(existing, canon); err != nil {
		return err
	}

	if !CanTransition(existing.Status, enums.TransactionStatusErrorRecoverable, paymentFailedPredecessors) {
		s.logTransitionRejected(ctx, event, existing.Status, enums.TransactionStatusErrorRecoverable, canon)
		s.metrics.IncWebhookEvent(string(event.EventType), "rejected")
		return nil
	}

	message := "payment failed"
	if canon.ErrorCode != "" {
		message = fmt.Sprintf("payment failed: %s", canon.ErrorCode)
	}
	existing.Status = enums.TransactionStatusErrorRecoverable
	existing.Flags = existing.Flags.MergedWith(TransactionFlags{Error: stringPtr(message)})
	if _, err := s.repo.Upsert(ctx, existing); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist transaction")
	}
	s.metrics.IncWebhookEvent(string(event.EventType), "updated")
	return nil
}

// HandleCompleted settles the purchase: local Success write, eligibility
// check and the Njord transfer run against one database transaction. A
// transfer failure is written onto the record instead of propagated, so the
// provider still gets an acknowledgment.
func (s *Service) HandleCompleted(ctx context.Context, event paddle.WebhookEvent) error {
	canon, err := Normalize(event)
	if err != nil {
		return err
	}
	ctx = s.eventContext(ctx, event, canon)

	var settled *UserTransaction
	txErr := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		record, err := repo.FindByProviderID(ctx, canon.Processor, canon.ProviderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
		}

		if record != nil {
			if err := receiverMismatch(record, canon); err != nil {
				return err
			}
			if record.Status == enums.TransactionStatusSuccess {
				if record.Value != canon.Cores {
					return pkgerrors.New(
						pkgerrors.CodeConflict,
						fmt.Sprintf("value change on settled transaction: stored %d, event carries %d", record.Value, canon.Cores),
					)
				}
				// Replay of an already settled purchase. The transfer ran
				// once; never run it again.
				s.logg.Warn(ctx, "transaction already settled")
				s.metrics.IncWebhookEvent(string(event.EventType), "duplicate")
				return nil
			}
			if !CanTransition(record.Status, enums.TransactionStatusSuccess, completedPredecessors) {
				s.logTransitionRejected(ctx, event, record.Status, enums.TransactionStatusSuccess, canon)
				s.metrics.IncWebhookEvent(string(event.EventType), "rejected")
				return nil
			}
		} else {
			record = newRecordFromCanonical(canon, enums.TransactionStatusProcessing)
		}

		if canon.ProductID != nil {
			receiver, err := s.users.WithTx(tx).FindByID(ctx, canon.ReceiverID)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "receiving user not found")
			}
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load receiving user")
			}
			if !receiver.Role.CanReceiveProductCores() {
				return pkgerrors.New(pkgerrors.CodeForbidden, "user does not have access")
			}
		}

		record.Status = enums.TransactionStatusSuccess
		record.Value = canon.Cores
		record.ValueIncFees = canon.Cores + canon.Fee
		record.Fee = canon.Fee
		record.Flags = record.Flags.MergedWith(TransactionFlags{Error: stringPtr("")})

		if strings.HasPrefix(canon.DiscountID, sandboxDiscountPrefix) {
			record.Flags = record.Flags.MergedWith(TransactionFlags{
				Note: stringPtr(fmt.Sprintf("sandbox checkout %s; transfer skipped", canon.DiscountID)),
			})
			if _, err := repo.Upsert(ctx, record); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist transaction")
			}
			s.logg.Info(ctx, "sandbox transaction settled without transfer")
			s.metrics.IncWebhookEvent(string(event.EventType), "sandbox")
			return nil
		}

		if _, err := repo.Upsert(ctx, record); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist transaction")
		}

		_, transferErr := s.njord.Transfer(ctx, njord.TransferRequest{
			IdempotencyKey: record.ID.String(),
			Sender:         njord.SystemParty(),
			Receiver:       njord.TransferParty{ID: record.ReceiverID.String(), Type: njord.PartyTypeUser},
			Currency:       njord.CurrencyCores,
			Amount:         record.Value,
		})
		if transferErr != nil {
			terr := njord.AsTransferError(transferErr)
			if terr == nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, transferErr, "njord transfer")
			}
			// The record is the authoritative account of why the balance did
			// not move; the webhook itself still acknowledges.
			record.Status = terr.Code
			record.Flags = record.Flags.MergedWith(TransactionFlags{Error: stringPtr(terr.Message)})
			if _, err := repo.Upsert(ctx, record); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist transfer failure")
			}
			s.logg.Warn(s.logg.WithField(ctx, "transfer_status", terr.Status.String()), "njord transfer failed")
			s.metrics.IncTransfer(terr.Status.String())
			s.metrics.IncWebhookEvent(string(event.EventType), "transfer_failed")
			return nil
		}

		s.metrics.IncTransfer(enums.TransferStatusSuccess.String())
		s.metrics.IncWebhookEvent(string(event.EventType), "settled")
		settled = record
		return nil
	})
	if txErr != nil {
		return txErr
	}

	if settled != nil {
		s.publishCorePurchaseCompleted(ctx, settled)
	}
	return nil
}

// publishCorePurchaseCompleted emits the settlement notification. Best
// effort; a lost notification never fails the webhook.
func (s *Service) publishCorePurchaseCompleted(ctx context.Context, record *UserTransaction) {
	if s.publisher == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"event_type":     string(enums.EventCorePurchaseCompleted),
		"transaction_id": record.ID.String(),
		"receiver_id":    record.ReceiverID.String(),
		"value":          record.Value,
		"occurred_at":    time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		s.logg.Error(ctx, "encode purchase notification", err)
		return
	}
	result := s.publisher.Publish(ctx, &gcppubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"event_type": string(enums.EventCorePurchaseCompleted),
		},
	})
	if result == nil {
		s.logg.Warn(ctx, "purchase notification publisher returned nil")
		return
	}
	if _, err := result.Get(ctx); err != nil {
		s.logg.Error(ctx, "publish purchase notification", err)
	}
}

func (s *Service) eventContext(ctx context.Context, event paddle.WebhookEvent, canon CanonicalTransaction) context.Context {
	ctx = s.logg.WithTransactionID(ctx, canon.ProviderID)
	return s.logg.WithFields(ctx, map[string]any{
		"event_type": string(event.EventType),
		"event_id":   event.EventID,
		"processor":  canon.Processor.String(),
	})
}

// logTransitionRejected records an out-of-window event with enough context
// for triage. Rejections are expected under at-least-once delivery.
func (s *Service) logTransitionRejected(ctx context.Context, event paddle.WebhookEvent, current, next enums.TransactionStatus, canon CanonicalTransaction) {
	ctx = s.logg.WithFields(ctx, map[string]any{
		"current_status": current.String(),
		"next_status":    next.String(),
		"raw_status":     canon.RawStatus,
		"value":          canon.Cores,
	})
	s.logg.Warn(ctx, "transition rejected")
}

// receiverMismatch enforces record ownership on every event touching an
// existing record. A provider event naming a different receiver is a hard
// error; the stored owner is never silently corrected.
func receiverMismatch(record *UserTransaction, canon CanonicalTransaction) error {
	if record.ReceiverID == canon.ReceiverID {
		return nil
	}
	return pkgerrors.New(
		pkgerrors.CodeConflict,
		fmt.Sprintf("receiver mismatch for %s: stored %s, event carries %s", canon.ProviderID, record.ReceiverID, canon.ReceiverID),
	)
}

func statusFromRawUpdate(raw string) (enums.TransactionStatus, bool) {
	switch raw {
	case rawStatusDraft, rawStatusReady:
		return enums.TransactionStatusCreated, true
	case rawStatusBilled:
		return enums.TransactionStatusProcessing, true
	default:
		return 0, false
	}
}

func newRecordFromCanonical(canon CanonicalTransaction, status enums.TransactionStatus) *UserTransaction {
	providerID := canon.ProviderID
	return &UserTransaction{
		Status:       status,
		ReceiverID:   canon.ReceiverID,
		ProductID:    canon.ProductID,
		Value:        canon.Cores,
		ValueIncFees: canon.Cores + canon.Fee,
		Fee:          canon.Fee,
		Processor:    canon.Processor,
		Flags:        TransactionFlags{ProviderID: &providerID},
	}
}

// NewPubSubPublisher adapts a Pub/Sub publisher handle to the narrow
// interface the service consumes.
func NewPubSubPublisher(pub *gcppubsub.Publisher) eventPublisher {
	if pub == nil {
		return nil
	}
	return &gcpPublisher{pub: pub}
}

type gcpPublisher struct {
	pub *gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.pub == nil {
		return nil
	}
	return p.pub.Publish(ctx, msg)
}
