package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/frahmantamala/roomshare/internal"
	"github.com/frahmantamala/roomshare/internal/core/datamodel/payment"
	paymentgatewaytypes "github.com/frahmantamala/roomshare/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/roomshare/internal/core/events"
	"github.com/frahmantamala/roomshare/internal/paymentgateway"
	"github.com/google/uuid"
)

// Codes carried in the failure redirect's error parameter.
const (
	CodeMissingReference         = "missing_reference"
	CodeConfigurationError       = "configuration_error"
	CodeVerificationFailed       = "verification_failed"
	CodeVerificationUnsuccessful = "verification_unsuccessful"
	CodeMissingMetadata          = "missing_metadata"
	CodeRecordNotFound           = "record_not_found"
	CodeInvalidPaymentID         = "invalid_payment_id"
	CodeDatabaseUpdateFailed     = "database_update_failed"
	CodeInternalError            = "internal_error"
)

// ReconcileError is a callback failure with the code shown to the payer.
type ReconcileError struct {
	Code   string
	Reason string
	Err    error
}

func (e *ReconcileError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

func (e *ReconcileError) Unwrap() error {
	return e.Err
}

func reconcileErr(code, reason string, err error) *ReconcileError {
	return &ReconcileError{Code: code, Reason: reason, Err: err}
}

// Reconciliation is the result of verifying a reference and writing it back.
type Reconciliation struct {
	Attempt     *payment.Attempt
	Transaction *paymentgatewaytypes.Transaction
	Outcome     *Outcome
	// Conflict is set when the attempt already held the opposite terminal
	// state; Attempt then reflects what is stored.
	Conflict bool
}

func (r *Reconciliation) Succeeded() bool {
	return r.Outcome.Status == payment.StatusSuccess
}

// VerifyAndReconcile verifies reference with the gateway, locates the local
// attempt and applies the verified outcome in a single guarded update.
func (s *Service) VerifyAndReconcile(ctx context.Context, reference string) (*Reconciliation, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, reconcileErr(CodeMissingReference, "No payment reference was provided", nil)
	}

	if !s.gateway.Configured() {
		s.logger.Error("payment gateway secret is not configured", "reference", reference)
		return nil, reconcileErr(CodeConfigurationError, "Payment verification is not configured", nil)
	}

	tx, err := s.gateway.VerifyTransaction(ctx, reference)
	if err != nil {
		var apiErr *paymentgateway.APIError
		if errors.As(err, &apiErr) && apiErr.Rejected() {
			s.logger.Warn("gateway rejected verification", "reference", reference, "error", err)
			return nil, reconcileErr(CodeVerificationUnsuccessful, apiErr.Message, err)
		}
		s.logger.Error("gateway verification failed", "reference", reference, "error", err)
		return nil, reconcileErr(CodeVerificationFailed, "Could not reach the payment provider", err)
	}

	attempt, err := s.locateAttempt(ctx, tx, reference)
	if err != nil {
		return nil, err
	}

	status := NormalizeStatus(tx.Status)
	outcome := NewOutcome(tx, status, reference, s.now())

	stored, conflict, err := s.applyOutcome(ctx, attempt.ID, outcome, failureReason(tx))
	if err != nil {
		if errors.Is(err, internal.ErrAttemptNotFound) {
			return nil, reconcileErr(CodeRecordNotFound, "Payment record not found", err)
		}
		return nil, reconcileErr(CodeDatabaseUpdateFailed, "Could not update the payment record", err)
	}

	s.logger.Info("payment reconciled",
		"attempt_id", stored.ID,
		"reference", outcome.Reference,
		"status", outcome.Status,
		"gateway_status", tx.Status,
		"conflict", conflict)

	return &Reconciliation{
		Attempt:     stored,
		Transaction: tx,
		Outcome:     outcome,
		Conflict:    conflict,
	}, nil
}

// ReconcileAttempt re-verifies a known attempt. Non-final gateway statuses and
// rejected references are reported as skipped and only refresh updated_at.
func (s *Service) ReconcileAttempt(ctx context.Context, attempt *payment.Attempt) (skipped bool, err error) {
	if attempt.GatewayReference == nil || *attempt.GatewayReference == "" {
		return true, nil
	}
	reference := *attempt.GatewayReference

	if !s.gateway.Configured() {
		return false, internal.ErrGatewayNotConfigured
	}

	tx, err := s.gateway.VerifyTransaction(ctx, reference)
	if err != nil {
		var apiErr *paymentgateway.APIError
		if errors.As(err, &apiErr) && apiErr.Rejected() {
			s.logger.Warn("gateway rejected verification of stale attempt",
				"attempt_id", attempt.ID,
				"reference", reference,
				"error", err)
			s.markChecked(ctx, attempt.ID)
			return true, nil
		}
		return false, fmt.Errorf("verify %s: %w", reference, err)
	}

	if !paymentgatewaytypes.IsFinalStatus(tx.Status) {
		s.logger.Debug("gateway status not final yet",
			"attempt_id", attempt.ID,
			"reference", reference,
			"gateway_status", tx.Status)
		s.markChecked(ctx, attempt.ID)
		return true, nil
	}

	outcome := NewOutcome(tx, NormalizeStatus(tx.Status), reference, s.now())
	if _, _, err := s.applyOutcome(ctx, attempt.ID, outcome, failureReason(tx)); err != nil {
		return false, fmt.Errorf("apply outcome for %s: %w", attempt.ID, err)
	}
	return false, nil
}

// markChecked pushes a skipped attempt behind the other stale attempts so the
// next sweep reaches them.
func (s *Service) markChecked(ctx context.Context, id string) {
	if err := s.repo.MarkChecked(ctx, id); err != nil {
		s.logger.Warn("failed to record reconciliation check", "attempt_id", id, "error", err)
	}
}

// StaleAttempts lists initiated attempts nobody has reconciled for olderThan.
func (s *Service) StaleAttempts(ctx context.Context, olderThan time.Duration, limit int) ([]*payment.Attempt, error) {
	return s.repo.ListStaleInitiated(ctx, s.now().Add(-olderThan), limit)
}

// locateAttempt tries the metadata identifiers, then the gateway reference,
// then the newest pending attempt for listing and payer email.
func (s *Service) locateAttempt(ctx context.Context, tx *paymentgatewaytypes.Transaction, reference string) (*payment.Attempt, error) {
	meta := tx.Metadata

	if meta.CorrelationID != "" {
		if _, err := uuid.Parse(meta.CorrelationID); err != nil {
			s.logger.Warn("malformed correlation id in gateway metadata",
				"reference", reference,
				"correlation_id", meta.CorrelationID)
			return nil, reconcileErr(CodeInvalidPaymentID, "The payment identifier is invalid", err)
		}
		attempt, err := s.repo.GetByCorrelationID(ctx, meta.CorrelationID)
		if found, err := s.lookupResult(attempt, err, "correlation_id", reference); found || err != nil {
			return attempt, err
		}
	}

	if meta.AttemptID != "" {
		if _, err := uuid.Parse(meta.AttemptID); err != nil {
			s.logger.Warn("malformed attempt id in gateway metadata",
				"reference", reference,
				"attempt_id", meta.AttemptID)
			return nil, reconcileErr(CodeInvalidPaymentID, "The payment identifier is invalid", err)
		}
		attempt, err := s.repo.GetByID(ctx, meta.AttemptID)
		if found, err := s.lookupResult(attempt, err, "attempt_id", reference); found || err != nil {
			return attempt, err
		}
	}

	byReference := tx.Reference
	if byReference == "" {
		byReference = reference
	}
	attempt, err := s.repo.GetByReference(ctx, byReference)
	if found, err := s.lookupResult(attempt, err, "reference", reference); found || err != nil {
		return attempt, err
	}

	if meta.ListingID == "" {
		s.logger.Warn("gateway transaction carries no listing metadata", "reference", reference)
		return nil, reconcileErr(CodeMissingMetadata, "The payment is missing its booking details", nil)
	}

	email := meta.PayerEmail
	if email == "" {
		email = tx.Customer.Email
	}
	email = strings.ToLower(strings.TrimSpace(email))

	attempt, err = s.repo.FindPending(ctx, meta.ListingID, email)
	if found, err := s.lookupResult(attempt, err, "listing_payer", reference); found || err != nil {
		return attempt, err
	}

	s.logger.Warn("no payment attempt matches verified transaction",
		"reference", reference,
		"listing_id", meta.ListingID)
	return nil, reconcileErr(CodeRecordNotFound, "Payment record not found", nil)
}

func (s *Service) lookupResult(attempt *payment.Attempt, err error, strategy, reference string) (bool, error) {
	if err == nil {
		s.logger.Debug("payment attempt located", "strategy", strategy, "reference", reference, "attempt_id", attempt.ID)
		return true, nil
	}
	if errors.Is(err, internal.ErrAttemptNotFound) {
		return false, nil
	}
	s.logger.Error("payment attempt lookup failed", "strategy", strategy, "reference", reference, "error", err)
	return false, reconcileErr(CodeInternalError, "Could not look up the payment record", err)
}

// applyOutcome writes the outcome, re-reads the attempt by primary key and
// publishes the matching event only when this write moved the attempt into the
// outcome's status. A conflicting terminal state is reported through conflict
// and leaves the row untouched.
func (s *Service) applyOutcome(ctx context.Context, id string, outcome *Outcome, reason string) (stored *payment.Attempt, conflict bool, err error) {
	moved, applyErr := s.repo.ApplyOutcome(ctx, id, outcome)
	if applyErr != nil && !errors.Is(applyErr, internal.ErrTerminalConflict) {
		s.logger.Error("failed to apply payment outcome", "attempt_id", id, "error", applyErr)
		return nil, false, applyErr
	}

	stored, err = s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}

	if applyErr != nil {
		s.logger.Warn("attempt already finalized with a different status",
			"attempt_id", id,
			"stored_status", stored.Status,
			"incoming_status", outcome.Status,
			"reference", outcome.Reference)
		return stored, true, nil
	}

	if moved {
		s.publishOutcome(ctx, stored, outcome, reason)
	}
	return stored, false, nil
}

func (s *Service) publishOutcome(ctx context.Context, a *payment.Attempt, outcome *Outcome, reason string) {
	event := outcomeEvent(a, outcome, reason)
	if event == nil {
		return
	}

	if err := s.eventBus.Publish(ctx, event); err != nil {
		s.logger.Error("failed to publish payment event",
			"event_type", event.EventType(),
			"attempt_id", a.ID,
			"error", err)
	}
}

func outcomeEvent(a *payment.Attempt, outcome *Outcome, reason string) events.Event {
	info := attemptInfo(a, outcome)

	switch outcome.Status {
	case payment.StatusSuccess:
		paidAt := a.UpdatedAt
		if outcome.PaidAt != nil {
			paidAt = *outcome.PaidAt
		}
		return events.NewPaymentCompletedEvent(info, outcome.TransactionID, paidAt)
	case payment.StatusFailed:
		return events.NewPaymentFailedEvent(info, reason)
	}
	return nil
}

// StoredOutcomeEvent rebuilds the completed or failed event of a finished
// attempt so its side effects can be replayed.
func (s *Service) StoredOutcomeEvent(ctx context.Context, attemptID string) (events.Event, error) {
	if _, err := uuid.Parse(attemptID); err != nil {
		return nil, internal.ErrAttemptNotFound
	}
	a, err := s.repo.GetByID(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if !a.IsTerminal() {
		return nil, internal.NewValidationError("payment attempt has not finished", internal.ErrCodeAttemptNotPending)
	}

	outcome := &Outcome{
		Status:   a.Status,
		Amount:   a.Amount,
		Currency: a.Currency,
		PaidAt:   a.PaidAt,
	}
	if a.GatewayReference != nil {
		outcome.Reference = *a.GatewayReference
	}
	if a.TransactionID != nil {
		outcome.TransactionID = *a.TransactionID
	}

	reason := a.Status
	if a.GatewayResponse != nil && *a.GatewayResponse != "" {
		reason = *a.GatewayResponse
	}
	return outcomeEvent(a, outcome, reason), nil
}

func failureReason(tx *paymentgatewaytypes.Transaction) string {
	if tx.GatewayResponse != "" {
		return tx.GatewayResponse
	}
	return tx.Status
}

// WebhookResult describes what a webhook delivery did.
type WebhookResult struct {
	Ignored   bool
	Matched   bool
	Conflict  bool
	AttemptID string
}

// ApplyWebhook applies a signature-verified webhook event. Unknown event types
// and unmatched references are not errors.
func (s *Service) ApplyWebhook(ctx context.Context, event *paymentgatewaytypes.WebhookEvent, raw []byte) (*WebhookResult, error) {
	var status string
	switch event.Event {
	case paymentgatewaytypes.EventChargeSuccess:
		status = payment.StatusSuccess
	case paymentgatewaytypes.EventChargeFailed:
		status = payment.StatusFailed
	default:
		s.logger.Info("ignoring webhook event", "event", event.Event, "reference", event.Data.Reference)
		s.recordWebhookEvent(ctx, event, raw, nil)
		return &WebhookResult{Ignored: true}, nil
	}

	attempt, err := s.locateWebhookAttempt(ctx, &event.Data)
	if err != nil {
		return nil, err
	}
	if attempt == nil {
		s.logger.Warn("webhook matched no payment attempt",
			"event", event.Event,
			"reference", event.Data.Reference,
			"correlation_id", event.Data.Metadata.CorrelationID)
		s.recordWebhookEvent(ctx, event, raw, nil)
		return &WebhookResult{}, nil
	}

	outcome := NewOutcome(&event.Data, status, event.Data.Reference, s.now())
	_, conflict, err := s.applyOutcome(ctx, attempt.ID, outcome, failureReason(&event.Data))
	if err != nil {
		return nil, internal.NewPersistenceError("failed to apply webhook outcome", err)
	}

	s.recordWebhookEvent(ctx, event, raw, &attempt.ID)

	s.logger.Info("webhook applied",
		"event", event.Event,
		"attempt_id", attempt.ID,
		"reference", outcome.Reference,
		"status", status,
		"conflict", conflict)

	return &WebhookResult{Matched: true, Conflict: conflict, AttemptID: attempt.ID}, nil
}

func (s *Service) locateWebhookAttempt(ctx context.Context, tx *paymentgatewaytypes.Transaction) (*payment.Attempt, error) {
	if tx.Reference != "" {
		attempt, err := s.repo.GetByReference(ctx, tx.Reference)
		if err == nil {
			return attempt, nil
		}
		if !errors.Is(err, internal.ErrAttemptNotFound) {
			return nil, internal.NewPersistenceError("failed to look up payment attempt", err)
		}
	}

	correlationID := tx.Metadata.CorrelationID
	if correlationID == "" {
		return nil, nil
	}
	if _, err := uuid.Parse(correlationID); err != nil {
		s.logger.Warn("malformed correlation id in webhook metadata", "correlation_id", correlationID)
		return nil, nil
	}

	attempt, err := s.repo.GetByCorrelationID(ctx, correlationID)
	if err == nil {
		return attempt, nil
	}
	if errors.Is(err, internal.ErrAttemptNotFound) {
		return nil, nil
	}
	return nil, internal.NewPersistenceError("failed to look up payment attempt", err)
}

func (s *Service) recordWebhookEvent(ctx context.Context, event *paymentgatewaytypes.WebhookEvent, raw []byte, attemptID *string) {
	record := &payment.WebhookEvent{
		Event:      event.Event,
		Reference:  event.Data.Reference,
		AttemptID:  attemptID,
		Matched:    attemptID != nil,
		Payload:    raw,
		ReceivedAt: s.now().UTC(),
	}
	if err := s.repo.RecordWebhookEvent(ctx, record); err != nil {
		s.logger.Error("failed to record webhook event",
			"event", event.Event,
			"reference", event.Data.Reference,
			"error", err)
	}
}

// GetVerification returns the public view of the attempt identified by
// reference or, failing that, by paymentID.
func (s *Service) GetVerification(ctx context.Context, reference, paymentID string) (*VerificationView, error) {
	reference = strings.TrimSpace(reference)
	paymentID = strings.TrimSpace(paymentID)
	if reference == "" && paymentID == "" {
		return nil, internal.NewValidationError("reference or payment_id is required", internal.ErrCodeMissingReference)
	}

	if reference != "" {
		attempt, err := s.repo.GetByReference(ctx, reference)
		if err == nil {
			return ToView(attempt), nil
		}
		if !errors.Is(err, internal.ErrAttemptNotFound) {
			s.logger.Error("verification lookup failed", "reference", reference, "error", err)
			return nil, internal.NewPersistenceError("failed to look up payment", err)
		}
	}

	if paymentID != "" {
		if _, err := uuid.Parse(paymentID); err == nil {
			attempt, err := s.repo.GetByID(ctx, paymentID)
			if err == nil {
				return ToView(attempt), nil
			}
			if !errors.Is(err, internal.ErrAttemptNotFound) {
				s.logger.Error("verification lookup failed", "payment_id", paymentID, "error", err)
				return nil, internal.NewPersistenceError("failed to look up payment", err)
			}
		}
	}

	return nil, internal.ErrAttemptNotFound
}

const (
	defaultWebhookEventLimit = 50
	maxWebhookEventLimit     = 200
)

func (s *Service) ListWebhookEvents(ctx context.Context, unmatchedOnly bool, limit int) ([]*payment.WebhookEvent, error) {
	if limit <= 0 {
		limit = defaultWebhookEventLimit
	}
	if limit > maxWebhookEventLimit {
		limit = maxWebhookEventLimit
	}

	list, err := s.repo.ListWebhookEvents(ctx, unmatchedOnly, limit)
	if err != nil {
		s.logger.Error("failed to list webhook events", "error", err)
		return nil, internal.NewPersistenceError("failed to list webhook events", err)
	}
	return list, nil
}
