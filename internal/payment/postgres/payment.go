package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/frahmantamala/roomshare/internal"
	"github.com/frahmantamala/roomshare/internal/core/datamodel/payment"
	paymentpkg "github.com/frahmantamala/roomshare/internal/payment"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

var openStatuses = []string{payment.StatusPending, payment.StatusProcessing}

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{
		db: db,
	}
}

var _ paymentpkg.RepositoryAPI = (*PaymentRepository)(nil)

func (r *PaymentRepository) Create(ctx context.Context, a *payment.Attempt) error {
	a.PayerEmail = strings.ToLower(a.PayerEmail)
	err := r.db.WithContext(ctx).Create(a).Error
	if isDuplicateKey(err) {
		return fmt.Errorf("%w: %v", paymentpkg.ErrDuplicateAttempt, err)
	}
	return err
}

func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*payment.Attempt, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *PaymentRepository) GetByCorrelationID(ctx context.Context, correlationID string) (*payment.Attempt, error) {
	return r.first(ctx, "correlation_id = ?", correlationID)
}

func (r *PaymentRepository) GetByReference(ctx context.Context, reference string) (*payment.Attempt, error) {
	return r.first(ctx, "gateway_reference = ?", reference)
}

// FindPending returns the newest pending attempt for listing and payer.
func (r *PaymentRepository) FindPending(ctx context.Context, listingID, payerEmail string) (*payment.Attempt, error) {
	var a payment.Attempt
	err := r.db.WithContext(ctx).
		Where("listing_id = ? AND LOWER(payer_email) = ? AND status = ?", listingID, strings.ToLower(payerEmail), payment.StatusPending).
		Order("created_at DESC").
		First(&a).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (r *PaymentRepository) MarkInitiated(ctx context.Context, id, reference string) error {
	res := r.db.WithContext(ctx).
		Model(&payment.Attempt{}).
		Where("id = ? AND status = ?", id, payment.StatusPending).
		Updates(map[string]interface{}{
			"gateway_reference": reference,
			"payment_status":    payment.PaymentStatusInitiated,
			"updated_at":        time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return internal.ErrAttemptNotPending
	}
	return nil
}

// ApplyOutcome writes every payment-derived field in one statement and reports
// whether that statement moved the attempt into o.Status. Open attempts accept
// any outcome and a verified success also replaces a stored failure. Replaying
// the stored terminal status refreshes the row without a transition. paid_at is
// never moved once set.
func (r *PaymentRepository) ApplyOutcome(ctx context.Context, id string, o *paymentpkg.Outcome) (bool, error) {
	q := r.db.WithContext(ctx).Model(&payment.Attempt{}).Where("id = ?", id)
	if o.Status == payment.StatusSuccess {
		q = q.Where("(status IN ? OR status = ?)", openStatuses, payment.StatusFailed)
	} else {
		q = q.Where("status IN ?", openStatuses)
	}
	res := q.Updates(outcomeUpdates(o))
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	res = r.db.WithContext(ctx).
		Model(&payment.Attempt{}).
		Where("id = ? AND status = ?", id, o.Status).
		Updates(outcomeUpdates(o))
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return false, err
		}
		return false, internal.ErrTerminalConflict
	}
	return false, nil
}

func outcomeUpdates(o *paymentpkg.Outcome) map[string]interface{} {
	updates := map[string]interface{}{
		"status":         o.Status,
		"payment_status": o.PaymentStatus,
		"amount":         o.Amount,
		"currency":       o.Currency,
		"updated_at":     time.Now().UTC(),
	}
	setIfNotEmpty(updates, "transaction_id", o.TransactionID)
	setIfNotEmpty(updates, "transaction_status", o.TransactionStatus)
	setIfNotEmpty(updates, "customer_email", o.CustomerEmail)
	setIfNotEmpty(updates, "gateway_reference", o.Reference)
	setIfNotEmpty(updates, "gateway_response", o.GatewayResponse)
	if o.PaidAt != nil {
		updates["paid_at"] = gorm.Expr("COALESCE(paid_at, ?)", o.PaidAt.UTC())
	}
	return updates
}

// ListStaleInitiated returns pending initiated attempts least recently touched
// first. MarkChecked moves an attempt to the back of that order.
func (r *PaymentRepository) ListStaleInitiated(ctx context.Context, before time.Time, limit int) ([]*payment.Attempt, error) {
	var attempts []*payment.Attempt
	err := r.db.WithContext(ctx).
		Where("status = ? AND payment_status = ? AND gateway_reference IS NOT NULL AND updated_at < ?",
			payment.StatusPending, payment.PaymentStatusInitiated, before.UTC()).
		Order("updated_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&attempts).Error
	return attempts, err
}

// MarkChecked records that a pending attempt was re-verified without reaching
// a final status.
func (r *PaymentRepository) MarkChecked(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&payment.Attempt{}).
		Where("id = ? AND status = ?", id, payment.StatusPending).
		Update("updated_at", time.Now().UTC()).Error
}

func (r *PaymentRepository) RecordWebhookEvent(ctx context.Context, e *payment.WebhookEvent) error {
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(e).Error
}

func (r *PaymentRepository) ListWebhookEvents(ctx context.Context, unmatchedOnly bool, limit int) ([]*payment.WebhookEvent, error) {
	var list []*payment.WebhookEvent
	q := r.db.WithContext(ctx).Order("received_at DESC, id DESC").Limit(limit)
	if unmatchedOnly {
		q = q.Where("matched = ?", false)
	}
	err := q.Find(&list).Error
	return list, err
}

func (r *PaymentRepository) first(ctx context.Context, query string, args ...interface{}) (*payment.Attempt, error) {
	var a payment.Attempt
	if err := r.db.WithContext(ctx).Where(query, args...).First(&a).Error; err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return internal.ErrAttemptNotFound
	}
	return err
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func setIfNotEmpty(m map[string]interface{}, key, value string) {
	if value != "" {
		m[key] = value
	}
}
