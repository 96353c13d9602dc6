package enums

// TransferStatus is the status string returned by the Njord balance service
// for a transfer attempt.
type TransferStatus string

const (
	TransferStatusSuccess           TransferStatus = "SUCCESS"
	TransferStatusInsufficientFunds TransferStatus = "INSUFFICIENT_FUNDS"
	TransferStatusSenderNotFound    TransferStatus = "SENDER_NOT_FOUND"
	TransferStatusReceiverNotFound  TransferStatus = "RECEIVER_NOT_FOUND"
	TransferStatusInvalidAmount     TransferStatus = "INVALID_AMOUNT"
	TransferStatusUnavailable       TransferStatus = "UNAVAILABLE"
)

// String implements fmt.Stringer.
func (s TransferStatus) String() string {
	return string(s)
}

// TransactionStatus maps a remote transfer status onto the local transaction
// status code stored on the ledger record. The mapping is total: any status
// the service could return, including ones this build has never seen, lands
// on a storable code.
func (s TransferStatus) TransactionStatus() TransactionStatus {
	switch s {
	case TransferStatusSuccess:
		return TransactionStatusSuccess
	case TransferStatusInsufficientFunds, TransferStatusInvalidAmount:
		return TransactionStatusError
	case TransferStatusSenderNotFound, TransferStatusReceiverNotFound, TransferStatusUnavailable:
		return TransactionStatusErrorRecoverable
	default:
		return TransactionStatusError
	}
}
