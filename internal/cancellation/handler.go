package cancellation

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/frahmantamala/roomshare/internal"
	"github.com/frahmantamala/roomshare/internal/notification"
	"github.com/frahmantamala/roomshare/internal/transport"
)

const (
	requestPath = "/cancellation/request"
	expiredPath = "/cancellation/expired"
)

type RoomTitles interface {
	RoomTitle(ctx context.Context, roomID string) string
}

type Config struct {
	SiteURL        string
	TrustForwarded bool
	AdminEmail     string
	SupportEmail   string
}

type Handler struct {
	*transport.BaseHandler
	gate    *Gate
	tickets *Tickets
	mailer  notification.Mailer
	titles  RoomTitles
	config  Config
}

func NewHandler(baseHandler *transport.BaseHandler, gate *Gate, tickets *Tickets, mailer notification.Mailer, titles RoomTitles, config Config) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		gate:        gate,
		tickets:     tickets,
		mailer:      mailer,
		titles:      titles,
		config:      config,
	}
}

// Check handles GET /api/v1/cancellations/check and redirects to the form or
// to the expired page.
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := CheckRequest{
		RoomID:      strings.TrimSpace(q.Get("roomId")),
		UserEmail:   q.Get("userEmail"),
		OwnerCancel: strings.EqualFold(q.Get("ownerCancel"), "true"),
		PayerName:   strings.TrimSpace(q.Get("payerName")),
		PayerEmail:  q.Get("payerEmail"),
		Timestamp:   q.Get("timestamp"),
	}
	base := transport.ResolveBaseURL(r, h.config.SiteURL, h.config.TrustForwarded)

	decision := h.gate.Check(r.Context(), req)

	h.Logger.Info("cancellation eligibility checked",
		"room_id", req.RoomID,
		"role", req.Role(),
		"eligible", decision.Eligible,
		"method", decision.Method,
		"reason", decision.Reason)

	if !decision.Eligible {
		http.Redirect(w, r, transport.BuildURL(base, expiredPath, map[string]string{
			"roomId": req.RoomID,
			"reason": decision.Reason,
		}), http.StatusFound)
		return
	}

	title := h.titles.RoomTitle(r.Context(), req.RoomID)
	ticket, err := h.tickets.Issue(TicketClaims{
		RoomID:    req.RoomID,
		Email:     req.Email(),
		PayerName: req.PayerName,
		RoomTitle: title,
		Role:      req.Role(),
	})
	if err != nil {
		h.Logger.Error("failed to issue cancellation ticket", "room_id", req.RoomID, "error", err)
		h.HandleServiceError(w, err)
		return
	}

	http.Redirect(w, r, transport.BuildURL(base, requestPath, map[string]string{
		"roomId":    req.RoomID,
		"email":     req.Email(),
		"roomTitle": title,
		"role":      req.Role(),
		"ticket":    ticket,
	}), http.StatusFound)
}

// RequestForm handles GET /cancellation/request. Every prefilled field comes
// from the signed ticket, never from the other query parameters.
func (h *Handler) RequestForm(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("ticket")
	claims, err := h.tickets.Parse(raw)
	if err != nil {
		h.Logger.Warn("cancellation form opened with invalid ticket", "error", err)
		base := transport.ResolveBaseURL(r, h.config.SiteURL, h.config.TrustForwarded)
		http.Redirect(w, r, transport.BuildURL(base, expiredPath, map[string]string{
			"roomId": r.URL.Query().Get("roomId"),
			"reason": "invalid_ticket",
		}), http.StatusFound)
		return
	}

	h.render(w, "form", formView{Claims: claims, Ticket: raw, MaxReason: maxReasonLength})
}

// Submit handles POST /api/v1/cancellations. Only the reason is taken from the
// payer; recipient, subject and body layout are fixed here.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	jsonBody := strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")

	var req SubmitRequest
	if jsonBody {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.HandleError(w, internal.NewValidationError("invalid request body", internal.ErrCodeValidationFailed))
			return
		}
	} else {
		req.Ticket = r.FormValue("ticket")
		req.Reason = r.FormValue("reason")
	}

	if err := req.Validate(); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	claims, err := h.tickets.Parse(req.Ticket)
	if err != nil {
		h.Logger.Warn("cancellation submitted with invalid ticket", "error", err)
		h.HandleServiceError(w, err)
		return
	}

	if h.config.AdminEmail == "" {
		h.HandleServiceError(w, internal.NewConfigurationError("cancellation recipient is not configured"))
		return
	}

	msg := notification.Message{
		To:      []string{h.config.AdminEmail},
		ReplyTo: claims.Email,
		Subject: fmt.Sprintf("Cancellation request: %s", titleOrID(claims)),
		Body:    cancellationBody(claims, req.Reason),
	}
	if err := h.mailer.Send(r.Context(), msg); err != nil {
		h.Logger.Error("failed to send cancellation request", "room_id", claims.RoomID, "error", err)
		h.HandleServiceError(w, internal.NewInternalError("could not send cancellation request", err))
		return
	}

	h.Logger.Info("cancellation request sent", "room_id", claims.RoomID, "role", claims.Role)

	if jsonBody {
		h.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "submitted"})
		return
	}
	h.render(w, "submitted", claims)
}

// Expired handles GET /cancellation/expired.
func (h *Handler) Expired(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.render(w, "expired", expiredView{
		RoomID:       q.Get("roomId"),
		Reason:       expiredReasons[q.Get("reason")],
		SupportEmail: h.config.SupportEmail,
	})
}

func (h *Handler) render(w http.ResponseWriter, name string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := pages.ExecuteTemplate(w, name, data); err != nil {
		h.Logger.Error("failed to render page", "page", name, "error", err)
	}
}

func titleOrID(c *TicketClaims) string {
	if c.RoomTitle != "" {
		return c.RoomTitle
	}
	return c.RoomID
}

func cancellationBody(c *TicketClaims, reason string) string {
	var b strings.Builder
	b.WriteString("A cancellation was requested.\n\n")
	b.WriteString("Room: " + titleOrID(c) + " (" + c.RoomID + ")\n")
	b.WriteString("Requested by: " + c.Role + "\n")
	if c.PayerName != "" {
		b.WriteString("Name: " + c.PayerName + "\n")
	}
	b.WriteString("Email: " + c.Email + "\n\n")
	b.WriteString("Reason:\n" + reason + "\n")
	return b.String()
}

var expiredReasons = map[string]string{
	ReasonInvalidRequest:  "The cancellation link is incomplete.",
	ReasonWindowExpired:   "The 48 hour cancellation window has passed.",
	ReasonNoRecentPayment: "We could not find a payment for this room within the last 48 hours.",
	"invalid_ticket":      "This cancellation link is no longer valid.",
}

type formView struct {
	Claims    *TicketClaims
	Ticket    string
	MaxReason int
}

type expiredView struct {
	RoomID       string
	Reason       string
	SupportEmail string
}

var pages = template.Must(template.New("form").Parse(formPage))

func init() {
	template.Must(pages.New("expired").Parse(expiredPage))
	template.Must(pages.New("submitted").Parse(submittedPage))
}

const formPage = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Request cancellation</title></head>
<body>
<h1>Request cancellation</h1>
<form method="post" action="/api/v1/cancellations">
<input type="hidden" name="ticket" value="{{.Ticket}}">
<label>Room <input type="text" value="{{if .Claims.RoomTitle}}{{.Claims.RoomTitle}}{{else}}{{.Claims.RoomID}}{{end}}" readonly></label>
<label>Email <input type="email" value="{{.Claims.Email}}" readonly></label>
{{if .Claims.PayerName}}<label>Name <input type="text" value="{{.Claims.PayerName}}" readonly></label>{{end}}
<label>Role <input type="text" value="{{.Claims.Role}}" readonly></label>
<label>Reason <textarea name="reason" maxlength="{{.MaxReason}}" required></textarea></label>
<button type="submit">Send request</button>
</form>
</body>
</html>
`

const expiredPage = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Cancellation unavailable</title></head>
<body>
<h1>Cancellation unavailable</h1>
{{if .Reason}}<p>{{.Reason}}</p>{{end}}
<p>Cancellations can only be requested online within 48 hours of payment.</p>
{{if .SupportEmail}}<p>Contact <a href="mailto:{{.SupportEmail}}">{{.SupportEmail}}</a>{{if .RoomID}} quoting room {{.RoomID}}{{end}} and we will help manually.</p>{{end}}
</body>
</html>
`

const submittedPage = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Cancellation requested</title></head>
<body>
<h1>Cancellation requested</h1>
<p>We received your request for {{if .RoomTitle}}{{.RoomTitle}}{{else}}room {{.RoomID}}{{end}} and will reply to {{.Email}}.</p>
</body>
</html>
`
