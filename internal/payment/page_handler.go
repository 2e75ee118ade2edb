package payment

import (
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/frahmantamala/roomshare/internal"
	"github.com/frahmantamala/roomshare/internal/transport"
)

var pageTemplates = template.Must(template.New("success").Parse(successPage))

func init() {
	template.Must(pageTemplates.New("failed").Parse(failedPage))
}

// failureMessages are the payer-facing texts for callback error codes.
var failureMessages = map[string]string{
	CodeMissingReference:         "We could not find a payment reference for this request.",
	CodeConfigurationError:       "Payments are temporarily unavailable. Please try again later.",
	CodeVerificationFailed:       "We could not reach the payment provider to confirm your payment.",
	CodeVerificationUnsuccessful: "Your payment was not successful.",
	CodeMissingMetadata:          "Your payment is missing its booking details.",
	CodeRecordNotFound:           "We could not find the booking this payment belongs to.",
	CodeInvalidPaymentID:         "The payment identifier is invalid.",
	CodeDatabaseUpdateFailed:     "Your payment went through but we could not record it yet. Please contact support.",
	CodeInternalError:            "Something went wrong while confirming your payment.",
}

type successView struct {
	Reference string
	Amount    string
	Currency  string
	PaidAt    string
}

type failedView struct {
	Code      string
	Message   string
	Reason    string
	Reference string
}

// SuccessPage handles GET /payment/success. The stored status decides what is
// shown; query parameters alone never render a success.
func (h *Handler) SuccessPage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	reference := q.Get("reference")
	base := transport.ResolveBaseURL(r, h.routes.SiteURL, h.routes.TrustForwarded)

	view, err := h.service.GetVerification(r.Context(), reference, q.Get("payment_id"))
	if err != nil {
		code := CodeInternalError
		switch {
		case errors.Is(err, internal.ErrAttemptNotFound):
			code = CodeRecordNotFound
		case isMissingReference(err):
			code = CodeMissingReference
		default:
			h.Logger.Error("success page verification failed", "reference", reference, "error", err)
		}
		http.Redirect(w, r, transport.BuildURL(base, h.routes.FailurePath, map[string]string{
			"error":     code,
			"reference": reference,
		}), http.StatusFound)
		return
	}

	if !IsSuccessView(view) {
		h.Logger.Warn("success page requested for unsuccessful payment",
			"reference", view.Reference,
			"status", view.Status)
		http.Redirect(w, r, transport.BuildURL(base, h.routes.FailurePath, map[string]string{
			"error":     CodeVerificationUnsuccessful,
			"reference": view.Reference,
			"status":    view.Status,
		}), http.StatusFound)
		return
	}

	data := successView{
		Reference: view.Reference,
		Amount:    view.Amount.String(),
		Currency:  view.Currency,
	}
	if view.PaidAt != nil {
		data.PaidAt = view.PaidAt.UTC().Format(time.RFC1123)
	}
	h.render(w, "success", data)
}

// FailedPage handles GET /payment/failed and bounces to the success page when
// the referenced payment actually succeeded.
func (h *Handler) FailedPage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	reference := q.Get("reference")

	if reference != "" || q.Get("payment_id") != "" {
		view, err := h.service.GetVerification(r.Context(), reference, q.Get("payment_id"))
		if err == nil && IsSuccessView(view) {
			base := transport.ResolveBaseURL(r, h.routes.SiteURL, h.routes.TrustForwarded)
			http.Redirect(w, r, transport.BuildURL(base, h.routes.SuccessPath, map[string]string{
				"reference": view.Reference,
				"amount":    view.Amount.String(),
			}), http.StatusFound)
			return
		}
		if err != nil && !errors.Is(err, internal.ErrAttemptNotFound) {
			h.Logger.Error("failed page verification failed", "reference", reference, "error", err)
		}
	}

	code := q.Get("error")
	message, ok := failureMessages[code]
	if !ok {
		code = CodeVerificationUnsuccessful
		message = failureMessages[code]
	}

	h.render(w, "failed", failedView{
		Code:      code,
		Message:   message,
		Reason:    q.Get("reason"),
		Reference: reference,
	})
}

func (h *Handler) render(w http.ResponseWriter, name string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := pageTemplates.ExecuteTemplate(w, name, data); err != nil {
		h.Logger.Error("failed to render page", "page", name, "error", err)
	}
}

const successPage = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Payment successful</title></head>
<body>
<h1>Payment successful</h1>
<p>Your payment of {{.Currency}} {{.Amount}} was received.</p>
<p>Reference: <code>{{.Reference}}</code></p>
{{if .PaidAt}}<p>Paid at {{.PaidAt}}</p>{{end}}
<p>The listing contact details are on their way to your inbox.</p>
</body>
</html>
`

const failedPage = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Payment not completed</title></head>
<body>
<h1>Payment not completed</h1>
<p>{{.Message}}</p>
{{if .Reason}}<p>Details: {{.Reason}}</p>{{end}}
{{if .Reference}}<p>Reference: <code>{{.Reference}}</code></p>{{end}}
<p data-error-code="{{.Code}}">If you were charged, contact support with the reference above.</p>
</body>
</html>
`
