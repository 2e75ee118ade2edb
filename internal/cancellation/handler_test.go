package cancellation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/roomshare/internal/notification"
	"github.com/frahmantamala/roomshare/internal/transport"
)

type recordingMailer struct {
	sent []notification.Message
	err  error
}

func (m *recordingMailer) Send(ctx context.Context, msg notification.Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

type staticTitles map[string]string

func (t staticTitles) RoomTitle(ctx context.Context, roomID string) string {
	return t[roomID]
}

var _ = Describe("Handler", func() {
	var (
		finder  *stubFinder
		mailer  *recordingMailer
		tickets *Tickets
		handler *Handler
	)

	BeforeEach(func() {
		finder = &stubFinder{}
		mailer = &recordingMailer{}
		clock := func() time.Time { return fixedNow }
		tickets = NewTickets("0123456789abcdef0123456789abcdef", time.Hour).WithClock(clock)
		gate := NewGate(finder, DefaultWindow, testLogger()).WithClock(clock)
		handler = NewHandler(transport.NewBaseHandler(testLogger()), gate, tickets, mailer,
			staticTitles{"room-1": "Ensuite <b>in</b> Yaba"},
			Config{SiteURL: "https://roomshare.example", AdminEmail: "admin@roomshare.example", SupportEmail: "help@roomshare.example"})
	})

	location := func(rec *httptest.ResponseRecorder) *url.URL {
		u, err := url.Parse(rec.Header().Get("Location"))
		Expect(err).NotTo(HaveOccurred())
		return u
	}

	Describe("Check", func() {
		It("redirects an eligible owner to the form with a ticket", func() {
			q := url.Values{
				"roomId":      {"room-1"},
				"userEmail":   {"Owner@Example.com"},
				"ownerCancel": {"true"},
				"timestamp":   {millis(fixedNow.Add(-time.Hour))},
			}
			req := httptest.NewRequest(http.MethodGet, "/api/v1/cancellations/check?"+q.Encode(), nil)
			rec := httptest.NewRecorder()
			handler.Check(rec, req)

			Expect(rec.Code).To(Equal(http.StatusFound))
			u := location(rec)
			Expect(u.Host).To(Equal("roomshare.example"))
			Expect(u.Path).To(Equal("/cancellation/request"))
			Expect(u.Query().Get("email")).To(Equal("owner@example.com"))
			Expect(u.Query().Get("role")).To(Equal(RoleOwner))
			Expect(u.Query().Get("roomTitle")).To(Equal("Ensuite <b>in</b> Yaba"))

			claims, err := tickets.Parse(u.Query().Get("ticket"))
			Expect(err).NotTo(HaveOccurred())
			Expect(claims.RoomID).To(Equal("room-1"))
		})

		It("keeps the ticket on the configured site when the forwarded host is forged", func() {
			q := url.Values{
				"roomId":      {"room-1"},
				"userEmail":   {"owner@example.com"},
				"ownerCancel": {"true"},
				"timestamp":   {millis(fixedNow.Add(-time.Hour))},
			}
			req := httptest.NewRequest(http.MethodGet, "/api/v1/cancellations/check?"+q.Encode(), nil)
			req.Header.Set("X-Forwarded-Proto", "https")
			req.Header.Set("X-Forwarded-Host", "attacker.example")
			rec := httptest.NewRecorder()
			handler.Check(rec, req)

			u := location(rec)
			Expect(u.Host).To(Equal("roomshare.example"))
			Expect(u.Query().Get("ticket")).NotTo(BeEmpty())
		})

		It("redirects an ineligible payer to the expired page", func() {
			q := url.Values{
				"roomId":     {"room-1"},
				"userEmail":  {"ada@example.com"},
				"payerEmail": {"ada@example.com"},
				"timestamp":  {millis(fixedNow)},
			}
			req := httptest.NewRequest(http.MethodGet, "/api/v1/cancellations/check?"+q.Encode(), nil)
			rec := httptest.NewRecorder()
			handler.Check(rec, req)

			Expect(rec.Code).To(Equal(http.StatusFound))
			u := location(rec)
			Expect(u.Path).To(Equal("/cancellation/expired"))
			Expect(u.Query().Get("reason")).To(Equal(ReasonNoRecentPayment))
			Expect(u.Query().Get("ticket")).To(BeEmpty())
		})
	})

	Describe("RequestForm", func() {
		It("renders fields from the ticket and escapes them", func() {
			raw, err := tickets.Issue(TicketClaims{RoomID: "room-1", Email: "ada@example.com", RoomTitle: "Ensuite <b>in</b> Yaba", Role: RolePayer})
			Expect(err).NotTo(HaveOccurred())

			req := httptest.NewRequest(http.MethodGet, "/cancellation/request?email=evil@example.com&ticket="+url.QueryEscape(raw), nil)
			rec := httptest.NewRecorder()
			handler.RequestForm(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			body := rec.Body.String()
			Expect(body).To(ContainSubstring("ada@example.com"))
			Expect(body).NotTo(ContainSubstring("evil@example.com"))
			Expect(body).NotTo(ContainSubstring("<b>in</b>"))
			Expect(body).To(ContainSubstring("readonly"))
		})

		It("sends an invalid ticket to the expired page", func() {
			req := httptest.NewRequest(http.MethodGet, "/cancellation/request?roomId=room-1&ticket=bogus", nil)
			rec := httptest.NewRecorder()
			handler.RequestForm(rec, req)

			Expect(rec.Code).To(Equal(http.StatusFound))
			u := location(rec)
			Expect(u.Path).To(Equal("/cancellation/expired"))
			Expect(u.Query().Get("reason")).To(Equal("invalid_ticket"))
		})
	})

	Describe("Submit", func() {
		var ticket string

		BeforeEach(func() {
			var err error
			ticket, err = tickets.Issue(TicketClaims{RoomID: "room-1", Email: "ada@example.com", PayerName: "Ada", RoomTitle: "Ensuite in Yaba", Role: RolePayer})
			Expect(err).NotTo(HaveOccurred())
		})

		It("mails the admin a fixed request for a JSON submission", func() {
			body := `{"ticket":"` + ticket + `","reason":"  Plans changed  "}`
			req := httptest.NewRequest(http.MethodPost, "/api/v1/cancellations", strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			handler.Submit(rec, req)

			Expect(rec.Code).To(Equal(http.StatusAccepted))
			Expect(mailer.sent).To(HaveLen(1))
			msg := mailer.sent[0]
			Expect(msg.To).To(Equal([]string{"admin@roomshare.example"}))
			Expect(msg.ReplyTo).To(Equal("ada@example.com"))
			Expect(msg.Subject).To(Equal("Cancellation request: Ensuite in Yaba"))
			Expect(msg.Body).To(ContainSubstring("Reason:\nPlans changed\n"))
			Expect(msg.Body).To(ContainSubstring("Requested by: payer"))
		})

		It("renders a confirmation page for a form post", func() {
			form := url.Values{"ticket": {ticket}, "reason": {"Found another place"}}
			req := httptest.NewRequest(http.MethodPost, "/api/v1/cancellations", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			rec := httptest.NewRecorder()
			handler.Submit(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring("Cancellation requested"))
			Expect(mailer.sent).To(HaveLen(1))
		})

		It("rejects an empty reason", func() {
			body := `{"ticket":"` + ticket + `","reason":"   "}`
			req := httptest.NewRequest(http.MethodPost, "/api/v1/cancellations", strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			handler.Submit(rec, req)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(mailer.sent).To(BeEmpty())
		})

		It("rejects an invalid ticket", func() {
			body := `{"ticket":"bogus","reason":"Plans changed"}`
			req := httptest.NewRequest(http.MethodPost, "/api/v1/cancellations", strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			handler.Submit(rec, req)

			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(mailer.sent).To(BeEmpty())
		})

		It("reports a mail failure as an internal error", func() {
			mailer.err = errors.New("smtp down")
			body := `{"ticket":"` + ticket + `","reason":"Plans changed"}`
			req := httptest.NewRequest(http.MethodPost, "/api/v1/cancellations", strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			handler.Submit(rec, req)

			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
			Expect(rec.Body.String()).NotTo(ContainSubstring("smtp down"))
		})
	})

	It("renders the expired page with the support address", func() {
		req := httptest.NewRequest(http.MethodGet, "/cancellation/expired?roomId=room-1&reason=window_expired", nil)
		rec := httptest.NewRecorder()
		handler.Expired(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("help@roomshare.example"))
		Expect(rec.Body.String()).To(ContainSubstring("48 hour cancellation window has passed"))
	})
})
