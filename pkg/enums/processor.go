package enums

import "fmt"

// Processor identifies the payment integration that originated a transaction.
type Processor string

const (
	ProcessorPaddle   Processor = "paddle"
	ProcessorAppleIAP Processor = "apple_iap"
)

var validProcessors = []Processor{
	ProcessorPaddle,
	ProcessorAppleIAP,
}

// String implements fmt.Stringer.
func (p Processor) String() string {
	return string(p)
}

// IsValid reports whether the value is a known Processor.
func (p Processor) IsValid() bool {
	for _, candidate := range validProcessors {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseProcessor converts raw input into a Processor.
func ParseProcessor(value string) (Processor, error) {
	for _, candidate := range validProcessors {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid processor %q", value)
}
