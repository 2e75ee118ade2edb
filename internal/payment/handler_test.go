package payment_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/roomshare/internal/core/datamodel/payment"
	paymentgatewaytypes "github.com/frahmantamala/roomshare/internal/core/datamodel/paymentgateway"
	paymentPkg "github.com/frahmantamala/roomshare/internal/payment"
	"github.com/frahmantamala/roomshare/internal/paymentgateway"
	"github.com/frahmantamala/roomshare/internal/transport"
	"github.com/go-chi/chi"
)

const webhookSecret = "sk_test_webhook"

var _ = Describe("Handlers", func() {
	var (
		repo      *mockPaymentRepository
		gateway   *mockGateway
		publisher *recordingPublisher
		router    *chi.Mux
	)

	BeforeEach(func() {
		repo = newMockPaymentRepository()
		gateway = &mockGateway{
			configured: true,
			initData:   &paymentgatewaytypes.InitializeData{AuthorizationURL: "https://checkout.paystack.com/abc"},
		}
		publisher = &recordingPublisher{}
		now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		service := paymentPkg.NewService(repo, gateway, &mockListings{}, publisher, testLogger()).
			WithClock(func() time.Time { return now })

		base := transport.NewBaseHandler(testLogger())
		handler := paymentPkg.NewHandler(base, service, paymentPkg.Routes{
			SiteURL:        "https://roomshare.ng",
			CallbackPath:   "/api/v1/payments/callback",
			SuccessPath:    "/payment/success",
			FailurePath:    "/payment/failed",
			TrustForwarded: true,
		})
		webhook := paymentPkg.NewWebhookHandler(base, service, webhookSecret)

		router = chi.NewRouter()
		router.Post("/api/v1/payments/initialize", handler.Initialize)
		router.Post("/api/v1/connections", handler.CreateConnection)
		router.Get("/api/v1/payments/checkout/{attemptID}", handler.Checkout)
		router.Get("/api/v1/payments/callback", handler.Callback)
		router.Post("/api/v1/payments/webhook", webhook.HandleWebhook)
		router.Get("/api/v1/payments/verify", handler.Verify)
		router.Get("/payment/success", handler.SuccessPage)
		router.Get("/payment/failed", handler.FailedPage)
	})

	serve := func(req *http.Request) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	redirectTarget := func(rec *httptest.ResponseRecorder) *url.URL {
		Expect(rec.Code).To(Equal(http.StatusFound))
		u, err := url.Parse(rec.Header().Get("Location"))
		Expect(err).NotTo(HaveOccurred())
		return u
	}

	Describe("POST /api/v1/payments/initialize", func() {
		It("returns the checkout session with a callback on the site origin", func() {
			repo.add(pendingAttempt())
			body := `{"attempt_id":"` + attemptID + `","email":"ada@example.com","amount":5000}`

			rec := serve(httptest.NewRequest(http.MethodPost, "/api/v1/payments/initialize", strings.NewReader(body)))

			Expect(rec.Code).To(Equal(http.StatusOK))
			var session paymentPkg.CheckoutSession
			Expect(json.Unmarshal(rec.Body.Bytes(), &session)).To(Succeed())
			Expect(session.AuthorizationURL).To(Equal("https://checkout.paystack.com/abc"))
			Expect(gateway.initCalls[0].CallbackURL).To(Equal("https://roomshare.ng/api/v1/payments/callback"))
		})

		It("answers 400 for invalid email", func() {
			repo.add(pendingAttempt())
			body := `{"attempt_id":"` + attemptID + `","email":"nope","amount":5000}`

			rec := serve(httptest.NewRequest(http.MethodPost, "/api/v1/payments/initialize", strings.NewReader(body)))

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("answers 409 when the attempt is already settled", func() {
			a := pendingAttempt()
			a.Status = payment.StatusSuccess
			repo.add(a)
			body := `{"attempt_id":"` + attemptID + `","email":"ada@example.com","amount":5000}`

			rec := serve(httptest.NewRequest(http.MethodPost, "/api/v1/payments/initialize", strings.NewReader(body)))

			Expect(rec.Code).To(Equal(http.StatusConflict))
		})
	})

	Describe("POST /api/v1/connections", func() {
		It("creates then reuses the pending attempt", func() {
			body := `{"listing_id":"room-1","payer_name":"Ada Obi","payer_email":"ada@example.com","amount":"5000"}`

			first := serve(httptest.NewRequest(http.MethodPost, "/api/v1/connections", strings.NewReader(body)))
			Expect(first.Code).To(Equal(http.StatusCreated))

			second := serve(httptest.NewRequest(http.MethodPost, "/api/v1/connections", strings.NewReader(body)))
			Expect(second.Code).To(Equal(http.StatusOK))
			Expect(repo.attempts).To(HaveLen(1))
		})
	})

	Describe("GET /api/v1/payments/checkout/{attemptID}", func() {
		It("redirects to the hosted checkout page", func() {
			repo.add(pendingAttempt())

			rec := serve(httptest.NewRequest(http.MethodGet, "/api/v1/payments/checkout/"+attemptID+"?email=ada@example.com", nil))

			Expect(redirectTarget(rec).String()).To(Equal("https://checkout.paystack.com/abc"))
		})

		It("answers 404 for an id that is not a uuid", func() {
			rec := serve(httptest.NewRequest(http.MethodGet, "/api/v1/payments/checkout/not-a-uuid?email=ada@example.com", nil))

			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("GET /api/v1/payments/callback", func() {
		BeforeEach(func() {
			repo.add(initiatedAttempt("rs_ref_1"))
			gateway.transaction = successTransaction("rs_ref_1")
		})

		It("redirects to the success page with reference and amount", func() {
			rec := serve(httptest.NewRequest(http.MethodGet, "/api/v1/payments/callback?reference=rs_ref_1", nil))

			target := redirectTarget(rec)
			Expect(target.Host).To(Equal("roomshare.ng"))
			Expect(target.Path).To(Equal("/payment/success"))
			Expect(target.Query().Get("reference")).To(Equal("rs_ref_1"))
			Expect(target.Query().Get("amount")).To(Equal("5000.00"))
			Expect(repo.stored(attemptID).Status).To(Equal(payment.StatusSuccess))
		})

		It("accepts trxref and prefers forwarded headers for the base url", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/callback?trxref=rs_ref_1", nil)
			req.Header.Set("X-Forwarded-Proto", "https")
			req.Header.Set("X-Forwarded-Host", "preview.roomshare.ng, internal:8080")

			target := redirectTarget(serve(req))

			Expect(target.Host).To(Equal("preview.roomshare.ng"))
			Expect(target.Path).To(Equal("/payment/success"))
		})

		It("sends failed transactions to the failure page with the gateway details", func() {
			gateway.transaction.Status = "failed"
			gateway.transaction.GatewayResponse = "Declined"

			target := redirectTarget(serve(httptest.NewRequest(http.MethodGet, "/api/v1/payments/callback?reference=rs_ref_1", nil)))

			Expect(target.Path).To(Equal("/payment/failed"))
			Expect(target.Query().Get("error")).To(Equal("verification_unsuccessful"))
			Expect(target.Query().Get("reason")).To(Equal("Declined"))
			Expect(target.Query().Get("status")).To(Equal("failed"))
			Expect(repo.stored(attemptID).Status).To(Equal(payment.StatusFailed))
		})

		It("reports a missing reference", func() {
			target := redirectTarget(serve(httptest.NewRequest(http.MethodGet, "/api/v1/payments/callback", nil)))

			Expect(target.Path).To(Equal("/payment/failed"))
			Expect(target.Query().Get("error")).To(Equal("missing_reference"))
		})

		It("reports an unconfigured gateway", func() {
			gateway.configured = false

			target := redirectTarget(serve(httptest.NewRequest(http.MethodGet, "/api/v1/payments/callback?reference=rs_ref_1", nil)))

			Expect(target.Query().Get("error")).To(Equal("configuration_error"))
		})
	})

	Describe("POST /api/v1/payments/webhook", func() {
		var payload []byte

		BeforeEach(func() {
			repo.add(initiatedAttempt("rs_ref_1"))
			event := paymentgatewaytypes.WebhookEvent{Event: "charge.success", Data: *successTransaction("rs_ref_1")}
			var err error
			payload, err = json.Marshal(event)
			Expect(err).NotTo(HaveOccurred())
		})

		webhookRequest := func(body []byte, signature string) *http.Request {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader(body))
			req.Header.Set(paymentgateway.SignatureHeader, signature)
			return req
		}

		It("applies a correctly signed event", func() {
			rec := serve(webhookRequest(payload, paymentgateway.Sign(webhookSecret, payload)))

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(MatchJSON(`{"status":"success"}`))
			stored := repo.stored(attemptID)
			Expect(stored.Status).To(Equal(payment.StatusSuccess))
			Expect(stored.Amount.Equal(decimal.NewFromInt(5000))).To(BeTrue())
		})

		It("rejects a bad signature without touching the store", func() {
			rec := serve(webhookRequest(payload, paymentgateway.Sign("wrong", payload)))

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(rec.Body.String()).To(MatchJSON(`{"error":"invalid signature"}`))
			Expect(repo.applyCalls).To(BeZero())
			Expect(repo.events).To(BeEmpty())
			Expect(repo.stored(attemptID).Status).To(Equal(payment.StatusPending))
		})

		It("rejects a missing signature", func() {
			rec := serve(webhookRequest(payload, ""))
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("rejects a signed but malformed payload", func() {
			body := []byte(`{"event":`)
			rec := serve(webhookRequest(body, paymentgateway.Sign(webhookSecret, body)))
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("is idempotent under redelivery", func() {
			signature := paymentgateway.Sign(webhookSecret, payload)

			Expect(serve(webhookRequest(payload, signature)).Code).To(Equal(http.StatusOK))
			Expect(serve(webhookRequest(payload, signature)).Code).To(Equal(http.StatusOK))

			Expect(repo.stored(attemptID).Status).To(Equal(payment.StatusSuccess))
			Expect(publisher.types()).To(HaveLen(1))
		})

		It("acknowledges events for unknown references", func() {
			body := []byte(`{"event":"charge.success","data":{"reference":"rs_nobody","status":"success","amount":100}}`)

			rec := serve(webhookRequest(body, paymentgateway.Sign(webhookSecret, body)))

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(repo.events).To(HaveLen(1))
			Expect(repo.events[0].Matched).To(BeFalse())
		})
	})

	Describe("GET /api/v1/payments/verify", func() {
		It("returns the public view", func() {
			a := initiatedAttempt("rs_ref_1")
			a.Status = payment.StatusSuccess
			repo.add(a)

			rec := serve(httptest.NewRequest(http.MethodGet, "/api/v1/payments/verify?reference=rs_ref_1", nil))

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(MatchJSON(`{"reference":"rs_ref_1","status":"success","amount":5000.00,"currency":"NGN","paid_at":null}`))
		})

		It("answers 400 without identifiers and 404 for unknown references", func() {
			missing := serve(httptest.NewRequest(http.MethodGet, "/api/v1/payments/verify", nil))
			Expect(missing.Code).To(Equal(http.StatusBadRequest))
			Expect(missing.Body.String()).To(ContainSubstring(`"missing_reference"`))

			unknown := serve(httptest.NewRequest(http.MethodGet, "/api/v1/payments/verify?reference=rs_none", nil))
			Expect(unknown.Code).To(Equal(http.StatusNotFound))
			Expect(unknown.Body.String()).To(ContainSubstring(`"not_found"`))
		})
	})

	Describe("display pages", func() {
		It("bounces a crafted success url for a failed payment", func() {
			a := initiatedAttempt("rs_ref_1")
			a.Status = payment.StatusFailed
			repo.add(a)

			target := redirectTarget(serve(httptest.NewRequest(http.MethodGet, "/payment/success?reference=rs_ref_1&amount=5000.00", nil)))

			Expect(target.Path).To(Equal("/payment/failed"))
		})

		It("renders the success page for a verified payment", func() {
			a := initiatedAttempt("rs_ref_1")
			a.Status = payment.StatusSuccess
			repo.add(a)

			rec := serve(httptest.NewRequest(http.MethodGet, "/payment/success?reference=rs_ref_1", nil))

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring("NGN 5000.00"))
		})

		It("bounces the failure page to success when the payment succeeded", func() {
			a := initiatedAttempt("rs_ref_1")
			a.Status = payment.StatusSuccess
			repo.add(a)

			target := redirectTarget(serve(httptest.NewRequest(http.MethodGet, "/payment/failed?reference=rs_ref_1&error=verification_failed", nil)))

			Expect(target.Path).To(Equal("/payment/success"))
		})

		It("renders the failure page with an escaped reason", func() {
			rec := serve(httptest.NewRequest(http.MethodGet, "/payment/failed?error=verification_failed&reason=%3Cscript%3E", nil))

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring("could not reach the payment provider"))
			Expect(rec.Body.String()).NotTo(ContainSubstring("<script>"))
		})
	})

	Describe("ResolveBaseURL", func() {
		It("falls back to the request host without a site url", func() {
			req := httptest.NewRequest(http.MethodGet, "http://localhost:8080/x", nil)
			Expect(transport.ResolveBaseURL(req, "", false)).To(Equal("http://localhost:8080"))
		})

		It("trims a trailing slash from the site url", func() {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			Expect(transport.ResolveBaseURL(req, "https://roomshare.ng/", false)).To(Equal("https://roomshare.ng"))
		})

		It("ignores forwarded headers unless they are trusted", func() {
			req := httptest.NewRequest(http.MethodGet, "http://localhost:8080/x", nil)
			req.Header.Set("X-Forwarded-Proto", "https")
			req.Header.Set("X-Forwarded-Host", "attacker.example")

			Expect(transport.ResolveBaseURL(req, "https://roomshare.ng", false)).To(Equal("https://roomshare.ng"))
			Expect(transport.ResolveBaseURL(req, "", false)).To(Equal("http://localhost:8080"))
			Expect(transport.ResolveBaseURL(req, "https://roomshare.ng", true)).To(Equal("https://attacker.example"))
		})
	})
})
