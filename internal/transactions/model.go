package transactions

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/corecastapp/corecast-backend/pkg/enums"
)

// UserTransaction is the ledger record for a single core movement. One row
// exists per provider transaction id; rows are mutated in place by webhook
// events and never deleted.
type UserTransaction struct {
	ID           uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Status       enums.TransactionStatus `gorm:"column:status;not null"`
	ReceiverID   uuid.UUID               `gorm:"column:receiver_id;type:uuid;not null"`
	SenderID     *uuid.UUID              `gorm:"column:sender_id;type:uuid"`
	ProductID    *uuid.UUID              `gorm:"column:product_id;type:uuid"`
	Value        int64                   `gorm:"column:value;not null"`
	ValueIncFees int64                   `gorm:"column:value_inc_fees;not null"`
	Fee          int64                   `gorm:"column:fee;not null;default:0"`
	Processor    enums.Processor         `gorm:"column:processor;type:text;not null"`
	Flags        TransactionFlags        `gorm:"column:flags;type:jsonb"`
	CreatedAt    time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName implements the gorm naming override.
func (UserTransaction) TableName() string {
	return "user_transactions"
}

// TransactionFlags is the open annotation map on a ledger record. It is a
// struct rather than a free-form map so known keys stay typed; updates merge
// additively instead of overwriting the whole document.
type TransactionFlags struct {
	ProviderID *string `json:"provider_id,omitempty"`
	Error      *string `json:"error,omitempty"`
	Note       *string `json:"note,omitempty"`
}

// MergedWith layers the incoming flags over the existing ones. Keys absent on
// the incoming side are kept. Setting error to the empty string clears the
// stored key, which is the one destructive update the contract allows.
func (f TransactionFlags) MergedWith(in TransactionFlags) TransactionFlags {
	out := f
	if in.ProviderID != nil {
		out.ProviderID = in.ProviderID
	}
	if in.Error != nil {
		if *in.Error == "" {
			out.Error = nil
		} else {
			out.Error = in.Error
		}
	}
	if in.Note != nil {
		out.Note = in.Note
	}
	return out
}

// Value implements driver.Valuer so gorm stores the flags as jsonb.
func (f TransactionFlags) Value() (driver.Value, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (f *TransactionFlags) Scan(value any) error {
	if value == nil {
		*f = TransactionFlags{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, f)
	case string:
		return json.Unmarshal([]byte(v), f)
	default:
		return fmt.Errorf("unsupported flags column type %T", value)
	}
}

func stringPtr(s string) *string {
	return &s
}
