package enums

import "fmt"

// TransactionStatus tracks the lifecycle of a user transaction. The integer
// codes are read by other services over the job-status API and stored on the
// row itself, so they are pinned and must never be renumbered.
type TransactionStatus int

const (
	TransactionStatusSuccess          TransactionStatus = 0
	TransactionStatusError            TransactionStatus = 1
	TransactionStatusCreated          TransactionStatus = 201
	TransactionStatusProcessing       TransactionStatus = 202
	TransactionStatusErrorRecoverable TransactionStatus = 501
)

var transactionStatusNames = map[TransactionStatus]string{
	TransactionStatusSuccess:          "success",
	TransactionStatusError:            "error",
	TransactionStatusCreated:          "created",
	TransactionStatusProcessing:       "processing",
	TransactionStatusErrorRecoverable: "error_recoverable",
}

// String implements fmt.Stringer.
func (s TransactionStatus) String() string {
	if name, ok := transactionStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// IsValid reports whether the value is a known TransactionStatus.
func (s TransactionStatus) IsValid() bool {
	_, ok := transactionStatusNames[s]
	return ok
}

// IsTerminal reports whether the status closes the transaction. Success and
// Error are absorbing; ErrorRecoverable stays open for a later retry event.
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusSuccess || s == TransactionStatusError
}
