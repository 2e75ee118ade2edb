package payment

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/frahmantamala/roomshare/internal/core/datamodel/payment"
	paymentgatewaytypes "github.com/frahmantamala/roomshare/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/roomshare/internal/core/events"
	"github.com/shopspring/decimal"
)

const DefaultCurrency = "NGN"

// ErrDuplicateAttempt is returned by Create when a concurrent request already
// inserted the pending attempt for the same payer and listing.
var ErrDuplicateAttempt = errors.New("pending payment attempt already exists")

// RepositoryAPI is the datastore contract of the payment flow. Lookups return
// internal.ErrAttemptNotFound when nothing matches.
type RepositoryAPI interface {
	Create(ctx context.Context, a *payment.Attempt) error
	GetByID(ctx context.Context, id string) (*payment.Attempt, error)
	GetByCorrelationID(ctx context.Context, correlationID string) (*payment.Attempt, error)
	GetByReference(ctx context.Context, reference string) (*payment.Attempt, error)
	FindPending(ctx context.Context, listingID, payerEmail string) (*payment.Attempt, error)
	MarkInitiated(ctx context.Context, id, reference string) error
	// ApplyOutcome reports true only when this call moved the attempt into
	// outcome.Status.
	ApplyOutcome(ctx context.Context, id string, outcome *Outcome) (bool, error)
	ListStaleInitiated(ctx context.Context, before time.Time, limit int) ([]*payment.Attempt, error)
	MarkChecked(ctx context.Context, id string) error
	RecordWebhookEvent(ctx context.Context, e *payment.WebhookEvent) error
	ListWebhookEvents(ctx context.Context, unmatchedOnly bool, limit int) ([]*payment.WebhookEvent, error)
}

// GatewayAPI is the subset of the payment gateway client the service needs.
type GatewayAPI interface {
	Configured() bool
	InitializeTransaction(ctx context.Context, req *paymentgatewaytypes.InitializeRequest) (*paymentgatewaytypes.InitializeData, error)
	VerifyTransaction(ctx context.Context, reference string) (*paymentgatewaytypes.Transaction, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// Outcome is the full set of payment-derived fields written in one update.
type Outcome struct {
	Status            string
	PaymentStatus     string
	TransactionID     string
	TransactionStatus string
	Amount            decimal.Decimal
	CustomerEmail     string
	Reference         string
	GatewayResponse   string
	PaidAt            *time.Time
	Currency          string
}

// FromMinorUnits converts a gateway amount (kobo, cents) into major units.
func FromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}

// ToMinorUnits converts a major-unit amount into the gateway's minor unit.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// NewOutcome derives the update from a verified gateway transaction. status is
// the normalized local status the caller decided on.
func NewOutcome(tx *paymentgatewaytypes.Transaction, status, fallbackReference string, now time.Time) *Outcome {
	reference := tx.Reference
	if reference == "" {
		reference = fallbackReference
	}

	currency := strings.ToUpper(tx.Currency)
	if currency == "" {
		currency = DefaultCurrency
	}

	outcome := &Outcome{
		Status:            status,
		PaymentStatus:     PaymentStatusFor(status),
		TransactionStatus: tx.Status,
		Amount:            FromMinorUnits(tx.Amount),
		CustomerEmail:     tx.Customer.Email,
		Reference:         reference,
		GatewayResponse:   tx.GatewayResponse,
		PaidAt:            tx.PaidAt,
		Currency:          currency,
	}
	if tx.ID != 0 {
		outcome.TransactionID = strconv.FormatInt(tx.ID, 10)
	}
	if status == payment.StatusSuccess && outcome.PaidAt == nil {
		paidAt := now.UTC()
		outcome.PaidAt = &paidAt
	}
	return outcome
}

// NormalizeStatus maps a gateway transaction status onto a terminal local status.
func NormalizeStatus(gatewayStatus string) string {
	if strings.EqualFold(gatewayStatus, paymentgatewaytypes.TransactionStatusSuccess) {
		return payment.StatusSuccess
	}
	return payment.StatusFailed
}

func PaymentStatusFor(status string) string {
	switch status {
	case payment.StatusSuccess:
		return payment.PaymentStatusCompleted
	case payment.StatusFailed:
		return payment.PaymentStatusFailed
	default:
		return payment.PaymentStatusInitiated
	}
}

// VerificationView is the public, normalized view of an attempt.
type VerificationView struct {
	Reference string      `json:"reference"`
	Status    string      `json:"status"`
	Amount    json.Number `json:"amount"`
	Currency  string      `json:"currency"`
	PaidAt    *time.Time  `json:"paid_at"`
}

func ToView(a *payment.Attempt) *VerificationView {
	status := strings.ToLower(strings.TrimSpace(a.Status))
	if status == "" && a.PaymentStatus != nil {
		status = strings.ToLower(*a.PaymentStatus)
	}

	currency := a.Currency
	if currency == "" {
		currency = DefaultCurrency
	}

	reference := ""
	if a.GatewayReference != nil {
		reference = *a.GatewayReference
	}

	return &VerificationView{
		Reference: reference,
		Status:    status,
		Amount:    json.Number(a.Amount.StringFixed(2)),
		Currency:  currency,
		PaidAt:    a.PaidAt,
	}
}

// IsSuccessView treats both status vocabularies as success.
func IsSuccessView(v *VerificationView) bool {
	return v.Status == payment.StatusSuccess || v.Status == payment.PaymentStatusCompleted
}

func attemptInfo(a *payment.Attempt, outcome *Outcome) events.PaymentAttemptInfo {
	info := events.PaymentAttemptInfo{
		AttemptID:   a.ID,
		ListingID:   a.ListingID,
		ListingType: a.ListingType,
		PayerName:   a.PayerName,
		PayerEmail:  a.PayerEmail,
		Amount:      a.Amount,
		Currency:    a.Currency,
	}
	if a.GatewayReference != nil {
		info.Reference = *a.GatewayReference
	}
	if outcome != nil {
		info.Reference = outcome.Reference
		info.Amount = outcome.Amount
		info.Currency = outcome.Currency
	}
	return info
}
