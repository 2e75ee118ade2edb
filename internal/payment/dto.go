package payment

import (
	"strings"

	"github.com/frahmantamala/roomshare/internal/core/common/validation"
	"github.com/frahmantamala/roomshare/internal/core/datamodel/payment"
	paymentgatewaytypes "github.com/frahmantamala/roomshare/internal/core/datamodel/paymentgateway"
	"github.com/shopspring/decimal"
)

// InitiateRequest starts checkout for an existing pending attempt.
type InitiateRequest struct {
	AttemptID   string          `json:"attempt_id"`
	Email       string          `json:"email"`
	Amount      decimal.Decimal `json:"amount"`
	CallbackURL string          `json:"-"`
}

func (r *InitiateRequest) Validate() error {
	v := validation.NewValidator()

	v.Field("attempt_id", r.AttemptID).Required().UUID()
	v.Field("email", r.Email).Required().Email()
	v.Field("amount", r.Amount).Positive()

	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// ConnectionRequest asks for a pending attempt for payer+listing, reusing one if it exists.
type ConnectionRequest struct {
	ListingID   string          `json:"listing_id"`
	ListingType string          `json:"listing_type"`
	PayerName   string          `json:"payer_name"`
	PayerEmail  string          `json:"payer_email"`
	PayerPhone  string          `json:"payer_phone"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
}

func (r *ConnectionRequest) Normalize() {
	r.PayerEmail = strings.ToLower(strings.TrimSpace(r.PayerEmail))
	r.PayerName = strings.TrimSpace(r.PayerName)
	r.ListingID = strings.TrimSpace(r.ListingID)
	if r.ListingType == "" {
		r.ListingType = payment.ListingTypeRoom
	}
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	if r.Currency == "" {
		r.Currency = DefaultCurrency
	}
}

func (r *ConnectionRequest) Validate() error {
	v := validation.NewValidator()

	v.Field("listing_id", r.ListingID).Required()
	v.Field("listing_type", r.ListingType).OneOf(payment.ListingTypeRoom, payment.ListingTypeProfile)
	v.Field("payer_name", r.PayerName).Required().MaxLength(200)
	v.Field("payer_email", r.PayerEmail).Required().Email()
	v.Field("amount", r.Amount).Positive()

	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// CheckoutSession is what the payer is sent to.
type CheckoutSession struct {
	AttemptID        string                       `json:"attempt_id"`
	AuthorizationURL string                       `json:"authorization_url"`
	AccessCode       string                       `json:"access_code"`
	Reference        string                       `json:"reference"`
	CorrelationID    string                       `json:"correlation_id"`
	Reused           bool                         `json:"reused"`
	Metadata         paymentgatewaytypes.Metadata `json:"metadata"`
}
