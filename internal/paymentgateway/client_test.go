package paymentgateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	paymentgatewaytypes "github.com/frahmantamala/roomshare/internal/core/datamodel/paymentgateway"
)

func TestPaymentGateway(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Payment Gateway Suite")
}

var _ = Describe("Client", func() {
	var (
		server  *httptest.Server
		handler http.HandlerFunc
		client  *Client
		ctx     context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		handler = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handler(w, r)
		}))
		client = NewClient(Config{BaseURL: server.URL + "/", SecretKey: "sk_test_123", Timeout: 2 * time.Second},
			slog.New(slog.NewTextHandler(io.Discard, nil)))
	})

	AfterEach(func() {
		server.Close()
	})

	initReq := func() *paymentgatewaytypes.InitializeRequest {
		return &paymentgatewaytypes.InitializeRequest{
			Email:       "ada@example.com",
			Amount:      500000,
			Currency:    "NGN",
			Reference:   "rs_abc_1",
			CallbackURL: "https://roomshare.example/api/v1/payments/callback",
			Metadata:    paymentgatewaytypes.Metadata{AttemptID: "a-1", ListingID: "room-1"},
		}
	}

	Describe("InitializeTransaction", func() {
		It("posts the request with the bearer secret", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				defer GinkgoRecover()
				Expect(r.Method).To(Equal(http.MethodPost))
				Expect(r.URL.Path).To(Equal("/transaction/initialize"))
				Expect(r.Header.Get("Authorization")).To(Equal("Bearer sk_test_123"))

				var body paymentgatewaytypes.InitializeRequest
				Expect(json.NewDecoder(r.Body).Decode(&body)).To(Succeed())
				Expect(body.Amount).To(Equal(int64(500000)))
				Expect(body.Metadata.ListingID).To(Equal("room-1"))

				_, _ = io.WriteString(w, `{"status":true,"message":"ok","data":{"authorization_url":"https://checkout.example/x","access_code":"ac","reference":"rs_abc_1"}}`)
			}

			data, err := client.InitializeTransaction(ctx, initReq())
			Expect(err).NotTo(HaveOccurred())
			Expect(data.AuthorizationURL).To(Equal("https://checkout.example/x"))
			Expect(data.Reference).To(Equal("rs_abc_1"))
		})

		It("returns a rejected APIError when the gateway answers status false", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{"status":false,"message":"Invalid email"}`)
			}

			_, err := client.InitializeTransaction(ctx, initReq())
			var apiErr *APIError
			Expect(errors.As(err, &apiErr)).To(BeTrue())
			Expect(apiErr.Rejected()).To(BeTrue())
			Expect(apiErr.Message).To(Equal("Invalid email"))
		})

		It("rejects an invalid request without calling the gateway", func() {
			called := false
			handler = func(w http.ResponseWriter, r *http.Request) { called = true }

			req := initReq()
			req.Amount = 0
			_, err := client.InitializeTransaction(ctx, req)
			Expect(err).To(HaveOccurred())
			Expect(called).To(BeFalse())
		})

		It("fails without a secret key", func() {
			c := NewClient(Config{BaseURL: server.URL}, slog.New(slog.NewTextHandler(io.Discard, nil)))
			Expect(c.Configured()).To(BeFalse())
			_, err := c.InitializeTransaction(ctx, initReq())
			Expect(err).To(MatchError(ErrNotConfigured))
		})
	})

	Describe("VerifyTransaction", func() {
		It("decodes the transaction including string metadata", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				defer GinkgoRecover()
				Expect(r.URL.Path).To(Equal("/transaction/verify/rs_abc_1"))
				_, _ = io.WriteString(w, `{"status":true,"message":"Verification successful","data":{
					"id":42,"status":"success","reference":"rs_abc_1","amount":500000,"currency":"NGN",
					"gateway_response":"Approved","paid_at":"2026-03-10T11:00:00Z",
					"customer":{"email":"ada@example.com"},
					"metadata":"{\"attempt_id\":\"a-1\",\"listing_id\":\"room-1\"}"}}`)
			}

			tx, err := client.VerifyTransaction(ctx, "rs_abc_1")
			Expect(err).NotTo(HaveOccurred())
			Expect(tx.ID).To(Equal(int64(42)))
			Expect(tx.Status).To(Equal(paymentgatewaytypes.TransactionStatusSuccess))
			Expect(tx.Metadata.AttemptID).To(Equal("a-1"))
			Expect(tx.Metadata.ListingID).To(Equal("room-1"))
			Expect(tx.PaidAt).NotTo(BeNil())
			Expect(tx.Customer.Email).To(Equal("ada@example.com"))
		})

		It("maps a 404 to a rejected APIError with the gateway message", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
				_, _ = io.WriteString(w, `{"status":false,"message":"Transaction reference not found"}`)
			}

			_, err := client.VerifyTransaction(ctx, "missing")
			var apiErr *APIError
			Expect(errors.As(err, &apiErr)).To(BeTrue())
			Expect(apiErr.StatusCode).To(Equal(http.StatusNotFound))
			Expect(apiErr.Rejected()).To(BeTrue())
			Expect(apiErr.Message).To(Equal("Transaction reference not found"))
		})

		It("maps a 5xx to an APIError that is not a rejection", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = io.WriteString(w, "upstream down")
			}

			_, err := client.VerifyTransaction(ctx, "rs_abc_1")
			var apiErr *APIError
			Expect(errors.As(err, &apiErr)).To(BeTrue())
			Expect(apiErr.Rejected()).To(BeFalse())
			Expect(apiErr.Message).To(Equal("upstream down"))
		})

		It("requires a reference", func() {
			_, err := client.VerifyTransaction(ctx, "")
			Expect(err).To(HaveOccurred())
		})
	})
})

var _ = Describe("Signature", func() {
	body := []byte(`{"event":"charge.success","data":{"reference":"rs_abc_1"}}`)

	It("accepts the gateway signature in any case", func() {
		sig := Sign("whsec", body)
		Expect(sig).To(HaveLen(128))
		Expect(VerifySignature("whsec", body, sig)).To(BeTrue())
		Expect(VerifySignature("whsec", body, " "+strings.ToUpper(sig)+" ")).To(BeTrue())
	})

	It("rejects a wrong secret, a modified body and empty values", func() {
		sig := Sign("whsec", body)
		Expect(VerifySignature("other", body, sig)).To(BeFalse())
		Expect(VerifySignature("whsec", append(body, ' '), sig)).To(BeFalse())
		Expect(VerifySignature("", body, Sign("", body))).To(BeFalse())
		Expect(VerifySignature("whsec", body, "")).To(BeFalse())
	})
})

var _ = Describe("Metadata", func() {
	DescribeTable("decodes the shapes the gateway echoes back",
		func(raw string, expected paymentgatewaytypes.Metadata) {
			var m paymentgatewaytypes.Metadata
			Expect(json.Unmarshal([]byte(raw), &m)).To(Succeed())
			Expect(m).To(Equal(expected))
		},
		Entry("object", `{"attempt_id":"a-1"}`, paymentgatewaytypes.Metadata{AttemptID: "a-1"}),
		Entry("encoded string", `"{\"listing_id\":\"room-1\"}"`, paymentgatewaytypes.Metadata{ListingID: "room-1"}),
		Entry("empty string", `""`, paymentgatewaytypes.Metadata{}),
		Entry("null", `null`, paymentgatewaytypes.Metadata{}),
		Entry("number", `0`, paymentgatewaytypes.Metadata{}),
	)
})
