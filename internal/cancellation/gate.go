package cancellation

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

const DefaultWindow = 48 * time.Hour

// Decision methods.
const (
	MethodTimestamp         = "timestamp"
	MethodPaymentRecord     = "payment_record"
	MethodTimestampFallback = "timestamp_fallback"
)

// Reasons an ineligible request is sent to the expired page with.
const (
	ReasonInvalidRequest  = "invalid_request"
	ReasonWindowExpired   = "window_expired"
	ReasonNoRecentPayment = "no_recent_payment"
)

const (
	RoleOwner = "owner"
	RolePayer = "payer"
)

// PaymentFinder looks up the newest successful payment by a payer for a room
// with paid_at at or after since. found is false when there is none.
type PaymentFinder interface {
	FindRecentSuccess(ctx context.Context, roomID, payerEmail string, since time.Time) (paidAt time.Time, found bool, err error)
}

type CheckRequest struct {
	RoomID      string
	UserEmail   string
	OwnerCancel bool
	PayerName   string
	PayerEmail  string
	Timestamp   string
}

// Email is the address the request acts for.
func (r CheckRequest) Email() string {
	if !r.OwnerCancel && r.PayerEmail != "" {
		return strings.ToLower(strings.TrimSpace(r.PayerEmail))
	}
	return strings.ToLower(strings.TrimSpace(r.UserEmail))
}

func (r CheckRequest) Role() string {
	if r.OwnerCancel {
		return RoleOwner
	}
	return RolePayer
}

type Decision struct {
	Eligible bool
	Method   string
	Reason   string
	PaidAt   *time.Time
}

// Gate decides whether a cancellation may still be requested.
type Gate struct {
	finder PaymentFinder
	window time.Duration
	logger *slog.Logger
	now    func() time.Time
}

func NewGate(finder PaymentFinder, window time.Duration, logger *slog.Logger) *Gate {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Gate{
		finder: finder,
		window: window,
		logger: logger,
		now:    time.Now,
	}
}

func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

func (g *Gate) Check(ctx context.Context, req CheckRequest) Decision {
	if strings.TrimSpace(req.RoomID) == "" || req.Email() == "" {
		return Decision{Method: MethodTimestamp, Reason: ReasonInvalidRequest}
	}

	if req.OwnerCancel {
		return g.byTimestamp(req.Timestamp, MethodTimestamp)
	}

	now := g.now()
	paidAt, found, err := g.finder.FindRecentSuccess(ctx, req.RoomID, req.Email(), now.Add(-g.window))
	if err != nil {
		g.logger.Warn("payment lookup failed, using client timestamp",
			"room_id", req.RoomID,
			"error", err)
		return g.byTimestamp(req.Timestamp, MethodTimestampFallback)
	}
	if !found {
		return Decision{Method: MethodPaymentRecord, Reason: ReasonNoRecentPayment}
	}

	return Decision{Eligible: true, Method: MethodPaymentRecord, PaidAt: &paidAt}
}

// byTimestamp uses the client supplied Unix millisecond timestamp. Future
// timestamps count as age zero.
func (g *Gate) byTimestamp(raw, method string) Decision {
	ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || ms <= 0 {
		return Decision{Method: method, Reason: ReasonWindowExpired}
	}

	age := g.now().Sub(time.UnixMilli(ms))
	if age < 0 {
		age = 0
	}
	if age > g.window {
		return Decision{Method: method, Reason: ReasonWindowExpired}
	}
	return Decision{Eligible: true, Method: method}
}
