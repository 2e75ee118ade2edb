package paymentgateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Transaction statuses reported by the gateway.
const (
	TransactionStatusSuccess    = "success"
	TransactionStatusFailed     = "failed"
	TransactionStatusAbandoned  = "abandoned"
	TransactionStatusReversed   = "reversed"
	TransactionStatusOngoing    = "ongoing"
	TransactionStatusPending    = "pending"
	TransactionStatusProcessing = "processing"
	TransactionStatusQueued     = "queued"
)

// Webhook event names.
const (
	EventChargeSuccess = "charge.success"
	EventChargeFailed  = "charge.failed"
)

// IsFinalStatus reports whether the gateway will not change the status any more.
func IsFinalStatus(status string) bool {
	switch strings.ToLower(status) {
	case TransactionStatusOngoing, TransactionStatusPending, TransactionStatusProcessing, TransactionStatusQueued:
		return false
	}
	return status != ""
}

// Metadata is what we attach at initialization so the callback and webhook can
// find the local record again.
type Metadata struct {
	AttemptID     string `json:"attempt_id,omitempty"`
	ListingID     string `json:"listing_id,omitempty"`
	ListingType   string `json:"listing_type,omitempty"`
	PayerEmail    string `json:"payer_email,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func (m Metadata) IsEmpty() bool {
	return m == Metadata{}
}

// UnmarshalJSON accepts an object, a JSON encoded string, an empty string or
// null; the gateway echoes metadata back in any of these shapes.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*m = Metadata{}
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" || s[0] != '{' {
			*m = Metadata{}
			return nil
		}
		data = []byte(s)
	}

	if data[0] != '{' {
		*m = Metadata{}
		return nil
	}

	type plain Metadata
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*m = Metadata(p)
	return nil
}

type InitializeRequest struct {
	Email       string   `json:"email"`
	Amount      int64    `json:"amount"`
	Currency    string   `json:"currency,omitempty"`
	Reference   string   `json:"reference"`
	CallbackURL string   `json:"callback_url"`
	Metadata    Metadata `json:"metadata"`
}

func (r *InitializeRequest) Validate() error {
	if r.Email == "" {
		return errors.New("email is required")
	}
	if r.Amount <= 0 {
		return errors.New("amount must be greater than 0")
	}
	if r.Reference == "" {
		return errors.New("reference is required")
	}
	return nil
}

type InitializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type InitializeResponse struct {
	Status  bool           `json:"status"`
	Message string         `json:"message"`
	Data    InitializeData `json:"data"`
}

type Customer struct {
	Email string `json:"email"`
}

// Transaction is the verified charge as reported by verify and by webhooks.
// Amount is in minor currency units.
type Transaction struct {
	ID              int64      `json:"id"`
	Status          string     `json:"status"`
	Reference       string     `json:"reference"`
	Amount          int64      `json:"amount"`
	Currency        string     `json:"currency"`
	GatewayResponse string     `json:"gateway_response"`
	PaidAt          *time.Time `json:"paid_at"`
	Customer        Customer   `json:"customer"`
	Metadata        Metadata   `json:"metadata"`
}

type VerifyResponse struct {
	Status  bool        `json:"status"`
	Message string      `json:"message"`
	Data    Transaction `json:"data"`
}

type WebhookEvent struct {
	Event string      `json:"event"`
	Data  Transaction `json:"data"`
}
