package enums

// DomainEventType tags messages published to the platform event topics.
type DomainEventType string

const (
	EventCorePurchaseCompleted DomainEventType = "core_purchase_completed"
	EventJobExecutionRequested DomainEventType = "job_execution_requested"
)
