package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/frahmantamala/roomshare/internal/cancellation"
	"github.com/jmoiron/sqlx"
)

const recentSuccessQuery = `
SELECT paid_at FROM connection_attempts
WHERE listing_id = ?
  AND LOWER(payer_email) = ?
  AND status = 'success'
  AND paid_at IS NOT NULL
  AND paid_at >= ?
ORDER BY paid_at DESC
LIMIT 1`

type PaymentFinder struct {
	db *sqlx.DB
}

func NewPaymentFinder(db *sqlx.DB) *PaymentFinder {
	return &PaymentFinder{db: db}
}

var _ cancellation.PaymentFinder = (*PaymentFinder)(nil)

func (f *PaymentFinder) FindRecentSuccess(ctx context.Context, roomID, payerEmail string, since time.Time) (time.Time, bool, error) {
	var paidAt time.Time
	err := f.db.GetContext(ctx, &paidAt, f.db.Rebind(recentSuccessQuery),
		roomID, strings.ToLower(strings.TrimSpace(payerEmail)), since.UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("find recent payment: %w", err)
	}
	return paidAt.UTC(), true, nil
}
