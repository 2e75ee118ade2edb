package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventTypePaymentCompleted = "payment.completed"
	EventTypePaymentFailed    = "payment.failed"
)

// PaymentAttemptInfo identifies the attempt and payer an event is about.
type PaymentAttemptInfo struct {
	AttemptID   string          `json:"attempt_id"`
	ListingID   string          `json:"listing_id"`
	ListingType string          `json:"listing_type"`
	Reference   string          `json:"reference"`
	PayerName   string          `json:"payer_name"`
	PayerEmail  string          `json:"payer_email"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
}

func (i PaymentAttemptInfo) data() map[string]interface{} {
	return map[string]interface{}{
		"attempt_id":   i.AttemptID,
		"listing_id":   i.ListingID,
		"listing_type": i.ListingType,
		"reference":    i.Reference,
		"payer_email":  i.PayerEmail,
		"amount":       i.Amount.StringFixed(2),
		"currency":     i.Currency,
	}
}

type PaymentCompletedEvent struct {
	BaseEvent
	PaymentAttemptInfo
	TransactionID string    `json:"transaction_id"`
	PaidAt        time.Time `json:"paid_at"`
}

func NewPaymentCompletedEvent(info PaymentAttemptInfo, transactionID string, paidAt time.Time) *PaymentCompletedEvent {
	data := info.data()
	data["transaction_id"] = transactionID
	data["paid_at"] = paidAt

	return &PaymentCompletedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentCompleted,
			Timestamp: time.Now(),
			Data:      data,
		},
		PaymentAttemptInfo: info,
		TransactionID:      transactionID,
		PaidAt:             paidAt,
	}
}

type PaymentFailedEvent struct {
	BaseEvent
	PaymentAttemptInfo
	FailureReason string `json:"failure_reason"`
}

func NewPaymentFailedEvent(info PaymentAttemptInfo, failureReason string) *PaymentFailedEvent {
	data := info.data()
	data["failure_reason"] = failureReason

	return &PaymentFailedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentFailed,
			Timestamp: time.Now(),
			Data:      data,
		},
		PaymentAttemptInfo: info,
		FailureReason:      failureReason,
	}
}
