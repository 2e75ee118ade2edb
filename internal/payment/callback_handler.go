package payment

import (
	"errors"
	"net/http"
	"strings"

	"github.com/frahmantamala/roomshare/internal/core/datamodel/payment"
	"github.com/frahmantamala/roomshare/internal/transport"
)

// Callback handles GET|POST /api/v1/payments/callback, where the gateway sends
// the payer's browser after checkout. It always answers with a redirect.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	base := transport.ResolveBaseURL(r, h.routes.SiteURL, h.routes.TrustForwarded)

	reference := strings.TrimSpace(r.FormValue("reference"))
	if reference == "" {
		reference = strings.TrimSpace(r.FormValue("trxref"))
	}

	h.Logger.Info("payment callback received", "reference", reference, "method", r.Method)

	rec, err := h.service.VerifyAndReconcile(r.Context(), reference)
	if err != nil {
		h.redirectFailure(w, r, base, reference, err)
		return
	}

	if rec.Attempt.Status == payment.StatusSuccess {
		http.Redirect(w, r, transport.BuildURL(base, h.routes.SuccessPath, map[string]string{
			"reference": rec.Outcome.Reference,
			"amount":    rec.Attempt.Amount.StringFixed(2),
		}), http.StatusFound)
		return
	}

	http.Redirect(w, r, transport.BuildURL(base, h.routes.FailurePath, map[string]string{
		"error":     CodeVerificationUnsuccessful,
		"reason":    failureReason(rec.Transaction),
		"reference": rec.Outcome.Reference,
		"status":    rec.Transaction.Status,
	}), http.StatusFound)
}

func (h *Handler) redirectFailure(w http.ResponseWriter, r *http.Request, base, reference string, err error) {
	code, reason := CodeInternalError, "An unexpected error occurred"

	var recErr *ReconcileError
	if errors.As(err, &recErr) {
		code, reason = recErr.Code, recErr.Reason
	}

	h.Logger.Error("payment callback failed",
		"reference", reference,
		"code", code,
		"error", err)

	http.Redirect(w, r, transport.BuildURL(base, h.routes.FailurePath, map[string]string{
		"error":     code,
		"reason":    reason,
		"reference": reference,
	}), http.StatusFound)
}
