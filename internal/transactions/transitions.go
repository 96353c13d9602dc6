package transactions

import "github.com/corecastapp/corecast-backend/pkg/enums"

// Per-event predecessor sets. An event may only move a record whose current
// status is in the set; anything else is an out-of-window or replayed delivery
// and is skipped, not failed.
var (
	paidPredecessors = []enums.TransactionStatus{
		enums.TransactionStatusCreated,
		enums.TransactionStatusProcessing,
		enums.TransactionStatusError,
		enums.TransactionStatusErrorRecoverable,
	}
	paymentFailedPredecessors = paidPredecessors
	completedPredecessors     = paidPredecessors
)

// CanTransition reports whether a record currently in current may move to
// next, given the statuses the event is allowed to advance from. Pure; the
// caller decides what to do with a rejection.
func CanTransition(current, next enums.TransactionStatus, from []enums.TransactionStatus) bool {
	if !next.IsValid() {
		return false
	}
	for _, candidate := range from {
		if candidate == current {
			return true
		}
	}
	return false
}
