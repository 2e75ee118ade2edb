package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/roomshare/internal/core/events"
	"github.com/frahmantamala/roomshare/internal/listing"
)

type ContactLookup interface {
	GetContact(ctx context.Context, listingType, id string) (*listing.Contact, error)
}

type Subscriber interface {
	Subscribe(eventType string, handler events.Handler)
}

// Handler turns payment events into emails. Delivery problems are logged and
// never fail the payment flow.
type Handler struct {
	mailer     Mailer
	contacts   ContactLookup
	adminEmail string
	logger     *slog.Logger
}

func NewHandler(mailer Mailer, contacts ContactLookup, adminEmail string, logger *slog.Logger) *Handler {
	return &Handler{
		mailer:     mailer,
		contacts:   contacts,
		adminEmail: adminEmail,
		logger:     logger,
	}
}

func (h *Handler) Register(bus Subscriber) {
	bus.Subscribe(events.EventTypePaymentCompleted, h.HandlePaymentCompleted)
	bus.Subscribe(events.EventTypePaymentFailed, h.HandlePaymentFailed)
}

func (h *Handler) HandlePaymentCompleted(ctx context.Context, event events.Event) error {
	completed, ok := event.(*events.PaymentCompletedEvent)
	if !ok {
		h.logger.Error("unexpected event payload", "event_type", event.EventType(), "event_id", event.EventID())
		return nil
	}
	info := completed.PaymentAttemptInfo

	h.send(ctx, "receipt", Message{
		To:      []string{info.PayerEmail},
		Subject: "Payment received - " + info.Reference,
		Body:    receiptBody(completed),
	})

	contact, err := h.contacts.GetContact(ctx, info.ListingType, info.ListingID)
	if err != nil {
		h.logger.Error("failed to load listing contact",
			"attempt_id", info.AttemptID,
			"listing_id", info.ListingID,
			"error", err)
	} else {
		h.send(ctx, "contact_reveal", Message{
			To:      []string{info.PayerEmail},
			ReplyTo: contact.Email,
			Subject: "Contact details for " + contact.Title,
			Body:    contactBody(info, contact),
		})
	}

	if h.adminEmail != "" {
		h.send(ctx, "admin_notice", Message{
			To:      []string{h.adminEmail},
			Subject: "New connection payment - " + info.Reference,
			Body:    adminBody(completed),
		})
	}

	return nil
}

func (h *Handler) HandlePaymentFailed(ctx context.Context, event events.Event) error {
	failed, ok := event.(*events.PaymentFailedEvent)
	if !ok {
		h.logger.Error("unexpected event payload", "event_type", event.EventType(), "event_id", event.EventID())
		return nil
	}
	info := failed.PaymentAttemptInfo

	h.send(ctx, "failure_notice", Message{
		To:      []string{info.PayerEmail},
		Subject: "Payment not completed - " + info.Reference,
		Body: fmt.Sprintf("Hi %s,\n\nYour payment %s of %s %s was not completed: %s.\n\nNo contact details were released. You can retry from the listing page.\n",
			info.PayerName, info.Reference, info.Currency, info.Amount.StringFixed(2), failed.FailureReason),
	})
	return nil
}

func (h *Handler) send(ctx context.Context, kind string, msg Message) {
	if err := h.mailer.Send(ctx, msg); err != nil {
		h.logger.Error("failed to send notification", "kind", kind, "error", err)
	}
}

func receiptBody(e *events.PaymentCompletedEvent) string {
	return fmt.Sprintf("Hi %s,\n\nWe received your payment of %s %s.\nReference: %s\nPaid at: %s\n\nThe listing contact details follow in a separate email.\n",
		e.PayerName, e.Currency, e.Amount.StringFixed(2), e.Reference, e.PaidAt.UTC().Format("2006-01-02 15:04 MST"))
}

func contactBody(info events.PaymentAttemptInfo, c *listing.Contact) string {
	body := fmt.Sprintf("Hi %s,\n\nHere are the contact details for %s.\n\nName: %s\nEmail: %s\n",
		info.PayerName, c.Title, c.Name, c.Email)
	if c.Phone != "" {
		body += "Phone: " + c.Phone + "\n"
	}
	if c.Location != "" {
		body += "Location: " + c.Location + "\n"
	}
	return body
}

func adminBody(e *events.PaymentCompletedEvent) string {
	return fmt.Sprintf("Payer: %s <%s>\nListing: %s (%s)\nAmount: %s %s\nReference: %s\nTransaction: %s\n",
		e.PayerName, e.PayerEmail, e.ListingID, e.ListingType, e.Currency, e.Amount.StringFixed(2), e.Reference, e.TransactionID)
}
