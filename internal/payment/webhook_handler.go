package payment

import (
	"encoding/json"
	"io"
	"net/http"

	paymentgatewaytypes "github.com/frahmantamala/roomshare/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/roomshare/internal/paymentgateway"
	"github.com/frahmantamala/roomshare/internal/transport"
)

const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	*transport.BaseHandler
	service ServiceAPI
	secret  string
}

func NewWebhookHandler(baseHandler *transport.BaseHandler, service ServiceAPI, secret string) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler: baseHandler,
		service:     service,
		secret:      secret,
	}
}

// HandleWebhook handles POST /api/v1/payments/webhook. The signature is
// checked over the raw bytes before anything is parsed or written.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.Logger.Warn("failed to read webhook body", "error", err)
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	signature := r.Header.Get(paymentgateway.SignatureHeader)
	if h.secret == "" || !paymentgateway.VerifySignature(h.secret, body, signature) {
		h.Logger.Warn("webhook signature rejected",
			"has_signature", signature != "",
			"remote_addr", r.RemoteAddr)
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid signature")
		return
	}

	var event paymentgatewaytypes.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.Logger.Warn("malformed webhook payload", "error", err)
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid payload")
		return
	}

	h.Logger.Info("webhook received",
		"event", event.Event,
		"reference", event.Data.Reference,
		"gateway_status", event.Data.Status)

	result, err := h.service.ApplyWebhook(r.Context(), &event, body)
	if err != nil {
		// acknowledged anyway; the reconciliation worker picks the attempt up again
		h.Logger.Error("failed to apply webhook",
			"event", event.Event,
			"reference", event.Data.Reference,
			"error", err)
	} else if result.Conflict {
		h.Logger.Warn("webhook conflicted with stored terminal state",
			"event", event.Event,
			"attempt_id", result.AttemptID)
	}

	h.WriteJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *WebhookHandler) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	h.WriteJSON(w, statusCode, map[string]string{"error": message})
}
