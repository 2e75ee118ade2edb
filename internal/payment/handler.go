package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/frahmantamala/roomshare/internal"
	"github.com/frahmantamala/roomshare/internal/core/datamodel/payment"
	paymentgatewaytypes "github.com/frahmantamala/roomshare/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/roomshare/internal/transport"
	"github.com/go-chi/chi"
)

type ServiceAPI interface {
	Initiate(ctx context.Context, req *InitiateRequest) (*CheckoutSession, error)
	StartConnection(ctx context.Context, req *ConnectionRequest, callbackURL string) (*CheckoutSession, error)
	Resume(ctx context.Context, attemptID, email, callbackURL string) (*CheckoutSession, error)
	VerifyAndReconcile(ctx context.Context, reference string) (*Reconciliation, error)
	ApplyWebhook(ctx context.Context, event *paymentgatewaytypes.WebhookEvent, raw []byte) (*WebhookResult, error)
	GetVerification(ctx context.Context, reference, paymentID string) (*VerificationView, error)
	ListWebhookEvents(ctx context.Context, unmatchedOnly bool, limit int) ([]*payment.WebhookEvent, error)
}

// Routes are the public paths redirects and callbacks point at.
type Routes struct {
	SiteURL      string
	CallbackPath string
	SuccessPath  string
	FailurePath  string
	// TrustForwarded honours X-Forwarded-Proto and X-Forwarded-Host.
	TrustForwarded bool
}

type Handler struct {
	*transport.BaseHandler
	service ServiceAPI
	routes  Routes
}

func NewHandler(baseHandler *transport.BaseHandler, service ServiceAPI, routes Routes) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		service:     service,
		routes:      routes,
	}
}

func (h *Handler) callbackURL(r *http.Request) string {
	return transport.ResolveBaseURL(r, h.routes.SiteURL, h.routes.TrustForwarded) + h.routes.CallbackPath
}

// Initialize handles POST /api/v1/payments/initialize
func (h *Handler) Initialize(w http.ResponseWriter, r *http.Request) {
	var req InitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("Initialize: failed to parse request body", "error", err)
		h.HandleError(w, internal.NewValidationError("invalid request body", internal.ErrCodeValidationFailed))
		return
	}
	req.CallbackURL = h.callbackURL(r)

	session, err := h.service.Initiate(r.Context(), &req)
	if err != nil {
		h.Logger.Error("Initialize: service error", "error", err, "attempt_id", req.AttemptID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, session)
}

// CreateConnection handles POST /api/v1/connections
func (h *Handler) CreateConnection(w http.ResponseWriter, r *http.Request) {
	var req ConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("CreateConnection: failed to parse request body", "error", err)
		h.HandleError(w, internal.NewValidationError("invalid request body", internal.ErrCodeValidationFailed))
		return
	}

	session, err := h.service.StartConnection(r.Context(), &req, h.callbackURL(r))
	if err != nil {
		h.Logger.Error("CreateConnection: service error", "error", err, "listing_id", req.ListingID)
		h.HandleServiceError(w, err)
		return
	}

	status := http.StatusCreated
	if session.Reused {
		status = http.StatusOK
	}
	h.WriteJSON(w, status, session)
}

// Checkout handles GET /api/v1/payments/checkout/{attemptID} by redirecting
// the browser to a fresh hosted checkout page.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	attemptID := chi.URLParam(r, "attemptID")

	session, err := h.service.Resume(r.Context(), attemptID, r.URL.Query().Get("email"), h.callbackURL(r))
	if err != nil {
		h.Logger.Error("Checkout: service error", "error", err, "attempt_id", attemptID)
		h.HandleServiceError(w, err)
		return
	}

	http.Redirect(w, r, session.AuthorizationURL, http.StatusFound)
}

// Verify handles GET /api/v1/payments/verify
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	view, err := h.service.GetVerification(r.Context(), q.Get("reference"), q.Get("payment_id"))
	if err != nil {
		h.writeVerifyError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) writeVerifyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, internal.ErrAttemptNotFound):
		h.WriteJSON(w, http.StatusNotFound, map[string]string{
			"error":   "not_found",
			"message": "payment not found",
		})
	case isMissingReference(err):
		h.WriteJSON(w, http.StatusBadRequest, map[string]string{
			"error":   CodeMissingReference,
			"message": "reference or payment_id is required",
		})
	default:
		h.Logger.Error("Verify: service error", "error", err)
		h.WriteJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   CodeInternalError,
			"message": "could not verify payment",
		})
	}
}

func isMissingReference(err error) bool {
	appErr, ok := internal.IsAppError(err)
	return ok && appErr.Code == internal.ErrCodeMissingReference
}

// ListWebhookEvents handles GET /api/v1/admin/webhook-events
func (h *Handler) ListWebhookEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	unmatched := strings.EqualFold(q.Get("unmatched"), "true")

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.HandleError(w, internal.NewValidationFieldError("limit", "limit must be a positive integer", internal.ErrCodeValidationFailed))
			return
		}
		limit = n
	}

	list, err := h.service.ListWebhookEvents(r.Context(), unmatched, limit)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"events": list,
		"count":  len(list),
	})
}
