package payment

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Attempt statuses. Status is the primary lifecycle field; PaymentStatus tracks
// the gateway leg and is what older rows may only carry.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusSuccess    = "success"
	StatusFailed     = "failed"

	PaymentStatusInitiated = "payment_initiated"
	PaymentStatusCompleted = "payment_completed"
	PaymentStatusFailed    = "payment_failed"
)

const (
	ListingTypeRoom    = "room"
	ListingTypeProfile = "profile"
)

// Attempt is one payer's intent to pay for access to a listing.
type Attempt struct {
	ID                string          `gorm:"column:id;primaryKey;type:uuid"`
	CorrelationID     string          `gorm:"column:correlation_id;type:uuid;not null;uniqueIndex"`
	ListingID         string          `gorm:"column:listing_id;not null;index:idx_attempt_listing_payer"`
	ListingType       string          `gorm:"column:listing_type;not null;default:room"`
	PayerName         string          `gorm:"column:payer_name;not null"`
	PayerEmail        string          `gorm:"column:payer_email;not null;index:idx_attempt_listing_payer"`
	PayerPhone        *string         `gorm:"column:payer_phone"`
	Amount            decimal.Decimal `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency          string          `gorm:"column:currency;not null;default:NGN"`
	Status            string          `gorm:"column:status;not null;default:pending"`
	PaymentStatus     *string         `gorm:"column:payment_status"`
	GatewayReference  *string         `gorm:"column:gateway_reference;uniqueIndex"`
	TransactionID     *string         `gorm:"column:transaction_id"`
	TransactionStatus *string         `gorm:"column:transaction_status"`
	GatewayResponse   *string         `gorm:"column:gateway_response"`
	CustomerEmail     *string         `gorm:"column:customer_email"`
	PaidAt            *time.Time      `gorm:"column:paid_at"`
	Metadata          datatypes.JSON  `gorm:"column:metadata;type:jsonb"`
	CreatedAt         time.Time       `gorm:"column:created_at"`
	UpdatedAt         time.Time       `gorm:"column:updated_at"`
}

func (Attempt) TableName() string {
	return "connection_attempts"
}

func (a *Attempt) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CorrelationID == "" {
		a.CorrelationID = uuid.NewString()
	}
	return nil
}

func (a *Attempt) IsPending() bool {
	return a.Status == StatusPending || a.Status == StatusProcessing
}

func (a *Attempt) IsTerminal() bool {
	return a.Status == StatusSuccess || a.Status == StatusFailed
}

// WebhookEvent is the audit row of a signature-verified gateway notification.
type WebhookEvent struct {
	ID         int64          `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	Event      string         `json:"event" gorm:"column:event;not null"`
	Reference  string         `json:"reference" gorm:"column:reference;index"`
	AttemptID  *string        `json:"attempt_id,omitempty" gorm:"column:attempt_id"`
	Matched    bool           `json:"matched" gorm:"column:matched;not null;default:false"`
	Payload    datatypes.JSON `json:"payload" gorm:"column:payload;type:jsonb"`
	ReceivedAt time.Time      `json:"received_at" gorm:"column:received_at"`
}

func (WebhookEvent) TableName() string {
	return "payment_webhook_events"
}
