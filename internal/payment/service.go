package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/frahmantamala/roomshare/internal"
	"github.com/frahmantamala/roomshare/internal/core/datamodel/payment"
	paymentgatewaytypes "github.com/frahmantamala/roomshare/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/roomshare/internal/listing"
	"github.com/google/uuid"
)

// ListingLookup resolves the listing a payer wants to unlock.
type ListingLookup interface {
	GetContact(ctx context.Context, listingType, id string) (*listing.Contact, error)
}

// Service owns the PaymentAttempt lifecycle: it creates attempts, starts
// checkout and reconciles verified gateway state into the store.
type Service struct {
	repo     RepositoryAPI
	gateway  GatewayAPI
	listings ListingLookup
	eventBus EventPublisher
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(repo RepositoryAPI, gateway GatewayAPI, listings ListingLookup, eventBus EventPublisher, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		gateway:  gateway,
		listings: listings,
		eventBus: eventBus,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock replaces the time source; used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Initiate starts a hosted checkout for an existing pending attempt.
func (s *Service) Initiate(ctx context.Context, req *InitiateRequest) (*CheckoutSession, error) {
	if err := req.Validate(); err != nil {
		s.logger.Warn("initiate request validation failed", "error", err, "attempt_id", req.AttemptID)
		return nil, err
	}

	attempt, err := s.repo.GetByID(ctx, req.AttemptID)
	if err != nil {
		if errors.Is(err, internal.ErrAttemptNotFound) {
			return nil, internal.ErrAttemptNotFound
		}
		s.logger.Error("failed to load payment attempt", "error", err, "attempt_id", req.AttemptID)
		return nil, internal.NewPersistenceError("failed to load payment attempt", err)
	}

	if attempt.Status != payment.StatusPending {
		s.logger.Warn("payment attempt is not pending",
			"attempt_id", attempt.ID,
			"status", attempt.Status)
		return nil, internal.ErrAttemptNotPending
	}

	if attempt.Amount.IsPositive() && !attempt.Amount.Equal(req.Amount) {
		s.logger.Warn("initiate amount does not match attempt",
			"attempt_id", attempt.ID,
			"requested", req.Amount.String(),
			"stored", attempt.Amount.String())
		return nil, internal.NewValidationFieldError("amount", "amount does not match the payment attempt", internal.ErrCodeInvalidAmount)
	}

	return s.checkout(ctx, attempt, req.Email, req.CallbackURL)
}

// Resume starts a fresh checkout for a pending attempt using its stored amount.
// A non-empty email must match the payer on the attempt.
func (s *Service) Resume(ctx context.Context, attemptID, email, callbackURL string) (*CheckoutSession, error) {
	if _, err := uuid.Parse(attemptID); err != nil {
		return nil, internal.ErrAttemptNotFound
	}

	attempt, err := s.repo.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, internal.ErrAttemptNotFound) {
			return nil, internal.ErrAttemptNotFound
		}
		return nil, internal.NewPersistenceError("failed to load payment attempt", err)
	}

	if email != "" && !strings.EqualFold(strings.TrimSpace(email), attempt.PayerEmail) {
		s.logger.Warn("checkout email does not match attempt", "attempt_id", attemptID)
		return nil, internal.ErrAttemptNotFound
	}

	if attempt.Status != payment.StatusPending {
		return nil, internal.ErrAttemptNotPending
	}

	return s.checkout(ctx, attempt, attempt.PayerEmail, callbackURL)
}

// CreateOrReuse returns the pending attempt for payer+listing, creating it only
// when none exists. reused is true when an existing row was returned.
func (s *Service) CreateOrReuse(ctx context.Context, req *ConnectionRequest) (attempt *payment.Attempt, reused bool, err error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		s.logger.Warn("connection request validation failed", "error", err, "listing_id", req.ListingID)
		return nil, false, err
	}

	existing, err := s.findPending(ctx, req.ListingID, req.PayerEmail)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		s.logger.Info("reusing pending payment attempt",
			"attempt_id", existing.ID,
			"listing_id", req.ListingID,
			"payer_email", req.PayerEmail)
		return existing, true, nil
	}

	contact, err := s.listings.GetContact(ctx, req.ListingType, req.ListingID)
	if err != nil {
		if errors.Is(err, internal.ErrListingNotFound) {
			return nil, false, internal.ErrListingNotFound
		}
		s.logger.Error("failed to load listing", "error", err, "listing_id", req.ListingID)
		return nil, false, internal.NewPersistenceError("failed to load listing", err)
	}

	// double-check right before the insert to narrow the race with a concurrent request
	existing, err = s.findPending(ctx, req.ListingID, req.PayerEmail)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		s.logger.Info("pending payment attempt appeared before insert",
			"attempt_id", existing.ID,
			"listing_id", req.ListingID)
		return existing, true, nil
	}

	metadata, _ := json.Marshal(map[string]string{
		"listing_title": contact.Title,
		"source":        "connection_request",
	})

	attempt = &payment.Attempt{
		ID:            uuid.NewString(),
		CorrelationID: uuid.NewString(),
		ListingID:     req.ListingID,
		ListingType:   req.ListingType,
		PayerName:     req.PayerName,
		PayerEmail:    req.PayerEmail,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Status:        payment.StatusPending,
		Metadata:      metadata,
	}
	if req.PayerPhone != "" {
		phone := req.PayerPhone
		attempt.PayerPhone = &phone
	}

	if err := s.repo.Create(ctx, attempt); err != nil {
		if errors.Is(err, ErrDuplicateAttempt) {
			s.logger.Info("concurrent insert won, reusing its pending attempt",
				"listing_id", req.ListingID,
				"payer_email", req.PayerEmail)
			concurrent, findErr := s.findPending(ctx, req.ListingID, req.PayerEmail)
			if findErr != nil {
				return nil, false, findErr
			}
			if concurrent != nil {
				return concurrent, true, nil
			}
		}
		s.logger.Error("failed to create payment attempt", "error", err, "listing_id", req.ListingID)
		return nil, false, internal.NewPersistenceError("failed to create payment attempt", err)
	}

	s.logger.Info("payment attempt created",
		"attempt_id", attempt.ID,
		"correlation_id", attempt.CorrelationID,
		"listing_id", attempt.ListingID,
		"amount", attempt.Amount.String())

	return attempt, false, nil
}

// StartConnection creates or reuses the pending attempt and starts checkout for it.
func (s *Service) StartConnection(ctx context.Context, req *ConnectionRequest, callbackURL string) (*CheckoutSession, error) {
	attempt, reused, err := s.CreateOrReuse(ctx, req)
	if err != nil {
		return nil, err
	}

	session, err := s.checkout(ctx, attempt, attempt.PayerEmail, callbackURL)
	if err != nil {
		return nil, err
	}
	session.Reused = reused
	return session, nil
}

func (s *Service) findPending(ctx context.Context, listingID, payerEmail string) (*payment.Attempt, error) {
	existing, err := s.repo.FindPending(ctx, listingID, payerEmail)
	if err == nil {
		return existing, nil
	}
	if errors.Is(err, internal.ErrAttemptNotFound) {
		return nil, nil
	}
	s.logger.Error("failed to look up pending attempt", "error", err, "listing_id", listingID)
	return nil, internal.NewPersistenceError("failed to look up pending payment attempt", err)
}

func (s *Service) checkout(ctx context.Context, attempt *payment.Attempt, email, callbackURL string) (*CheckoutSession, error) {
	if !s.gateway.Configured() {
		s.logger.Error("payment gateway secret is not configured")
		return nil, internal.ErrGatewayNotConfigured
	}

	reference := newReference(attempt.CorrelationID, s.now())
	metadata := paymentgatewaytypes.Metadata{
		AttemptID:     attempt.ID,
		ListingID:     attempt.ListingID,
		ListingType:   attempt.ListingType,
		PayerEmail:    attempt.PayerEmail,
		CorrelationID: attempt.CorrelationID,
	}

	data, err := s.gateway.InitializeTransaction(ctx, &paymentgatewaytypes.InitializeRequest{
		Email:       email,
		Amount:      ToMinorUnits(attempt.Amount),
		Currency:    attempt.Currency,
		Reference:   reference,
		CallbackURL: callbackURL,
		Metadata:    metadata,
	})
	if err != nil {
		s.logger.Error("gateway initialization failed",
			"error", err,
			"attempt_id", attempt.ID,
			"reference", reference)
		return nil, internal.NewGatewayError("failed to initialize payment", err)
	}

	if data.Reference != "" {
		reference = data.Reference
	}

	if err := s.repo.MarkInitiated(ctx, attempt.ID, reference); err != nil {
		if errors.Is(err, internal.ErrAttemptNotPending) {
			s.logger.Warn("attempt left pending state during initialization", "attempt_id", attempt.ID)
			return nil, internal.ErrAttemptNotPending
		}
		s.logger.Error("failed to store gateway reference",
			"error", err,
			"attempt_id", attempt.ID,
			"reference", reference)
		return nil, internal.NewPersistenceError("failed to store payment reference", err)
	}

	s.logger.Info("checkout session created",
		"attempt_id", attempt.ID,
		"reference", reference,
		"correlation_id", attempt.CorrelationID)

	return &CheckoutSession{
		AttemptID:        attempt.ID,
		AuthorizationURL: data.AuthorizationURL,
		AccessCode:       data.AccessCode,
		Reference:        reference,
		CorrelationID:    attempt.CorrelationID,
		Metadata:         metadata,
	}, nil
}

// newReference is unique per initialization; the gateway rejects reused references.
func newReference(correlationID string, now time.Time) string {
	prefix := strings.ReplaceAll(correlationID, "-", "")
	if len(prefix) > 12 {
		prefix = prefix[:12]
	}
	return fmt.Sprintf("rs_%s_%d", prefix, now.UnixNano())
}
