//go:build integration

package postgres

import (
	"context"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	gormPostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/frahmantamala/roomshare/internal"
	cancellationPostgres "github.com/frahmantamala/roomshare/internal/cancellation/postgres"
	"github.com/frahmantamala/roomshare/internal/core/datamodel/payment"
	paymentpkg "github.com/frahmantamala/roomshare/internal/payment"
)

const migrationsDir = "../../../db/migrations"

var _ = ginkgo.Describe("PaymentRepository on postgres", ginkgo.Ordered, ginkgo.Label("integration"), func() {
	var (
		ctx       context.Context
		container *tcpostgres.PostgresContainer
		sqlDB     *sqlx.DB
		repo      *PaymentRepository
	)

	ginkgo.BeforeAll(func() {
		ctx = context.Background()

		var err error
		container, err = tcpostgres.Run(ctx, "postgres:16-alpine",
			tcpostgres.WithDatabase("roomshare"),
			tcpostgres.WithUsername("roomshare"),
			tcpostgres.WithPassword("roomshare"),
			tcpostgres.BasicWaitStrategies(),
		)
		gomega.Expect(err).ToNot(gomega.HaveOccurred())

		dsn, err := container.ConnectionString(ctx, "sslmode=disable")
		gomega.Expect(err).ToNot(gomega.HaveOccurred())

		sqlDB, err = sqlx.Connect("pgx", dsn)
		gomega.Expect(err).ToNot(gomega.HaveOccurred())

		goose.SetTableName("schema_migrations")
		gomega.Expect(goose.SetDialect("postgres")).To(gomega.Succeed())
		gomega.Expect(goose.UpContext(ctx, sqlDB.DB, migrationsDir)).To(gomega.Succeed())

		db, err := gorm.Open(gormPostgres.New(gormPostgres.Config{Conn: sqlDB.DB}), &gorm.Config{TranslateError: true})
		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		repo = NewPaymentRepository(db)
	})

	ginkgo.AfterAll(func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
		gomega.Expect(testcontainers.TerminateContainer(container)).To(gomega.Succeed())
	})

	ginkgo.BeforeEach(func() {
		_, err := sqlDB.ExecContext(ctx, "TRUNCATE payment_webhook_events, connection_attempts")
		gomega.Expect(err).ToNot(gomega.HaveOccurred())
	})

	ginkgo.It("rejects a second pending attempt for the same payer regardless of email case", func() {
		gomega.Expect(repo.Create(ctx, newAttempt("room-1", "ada@example.com"))).To(gomega.Succeed())

		err := repo.Create(ctx, newAttempt("room-1", "ADA@example.com"))
		gomega.Expect(err).To(gomega.MatchError(paymentpkg.ErrDuplicateAttempt))
	})

	ginkgo.It("allows a new pending attempt once the previous one finished", func() {
		first := newAttempt("room-1", "ada@example.com")
		gomega.Expect(repo.Create(ctx, first)).To(gomega.Succeed())
		gomega.Expect(repo.MarkInitiated(ctx, first.ID, "rs_ref_pg_1")).To(gomega.Succeed())
		_, err := repo.ApplyOutcome(ctx, first.ID, &paymentpkg.Outcome{
			Status:        payment.StatusFailed,
			PaymentStatus: payment.PaymentStatusFailed,
			Amount:        decimal.NewFromInt(5000),
			Currency:      "NGN",
		})
		gomega.Expect(err).ToNot(gomega.HaveOccurred())

		gomega.Expect(repo.Create(ctx, newAttempt("room-1", "ada@example.com"))).To(gomega.Succeed())
	})

	ginkgo.It("keeps the first terminal state and paid_at", func() {
		a := newAttempt("room-2", "ada@example.com")
		gomega.Expect(repo.Create(ctx, a)).To(gomega.Succeed())
		gomega.Expect(repo.MarkInitiated(ctx, a.ID, "rs_ref_pg_2")).To(gomega.Succeed())

		paidAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		later := paidAt.Add(time.Hour)
		success := func(at *time.Time) *paymentpkg.Outcome {
			return &paymentpkg.Outcome{
				Status:        payment.StatusSuccess,
				PaymentStatus: payment.PaymentStatusCompleted,
				Amount:        decimal.NewFromInt(5000),
				Currency:      "NGN",
				PaidAt:        at,
			}
		}

		moved, err := repo.ApplyOutcome(ctx, a.ID, success(&paidAt))
		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		gomega.Expect(moved).To(gomega.BeTrue())

		moved, err = repo.ApplyOutcome(ctx, a.ID, success(&later))
		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		gomega.Expect(moved).To(gomega.BeFalse())

		_, err = repo.ApplyOutcome(ctx, a.ID, &paymentpkg.Outcome{
			Status:        payment.StatusFailed,
			PaymentStatus: payment.PaymentStatusFailed,
			Amount:        decimal.NewFromInt(5000),
			Currency:      "NGN",
		})
		gomega.Expect(err).To(gomega.MatchError(internal.ErrTerminalConflict))

		stored, err := repo.GetByID(ctx, a.ID)
		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		gomega.Expect(stored.Status).To(gomega.Equal(payment.StatusSuccess))
		gomega.Expect(stored.PaidAt.Equal(paidAt)).To(gomega.BeTrue())
	})

	ginkgo.It("reports exactly one transition when deliveries race", func() {
		a := newAttempt("room-4", "ada@example.com")
		gomega.Expect(repo.Create(ctx, a)).To(gomega.Succeed())
		gomega.Expect(repo.MarkInitiated(ctx, a.ID, "rs_ref_pg_4")).To(gomega.Succeed())

		paidAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		var (
			wg    sync.WaitGroup
			mu    sync.Mutex
			moves int
		)
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer ginkgo.GinkgoRecover()
				defer wg.Done()
				moved, err := repo.ApplyOutcome(ctx, a.ID, &paymentpkg.Outcome{
					Status:        payment.StatusSuccess,
					PaymentStatus: payment.PaymentStatusCompleted,
					Amount:        decimal.NewFromInt(5000),
					Currency:      "NGN",
					PaidAt:        &paidAt,
				})
				gomega.Expect(err).ToNot(gomega.HaveOccurred())
				if moved {
					mu.Lock()
					moves++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		gomega.Expect(moves).To(gomega.Equal(1))
	})

	ginkgo.It("finds the recent success the cancellation check relies on", func() {
		a := newAttempt("room-3", "ada@example.com")
		gomega.Expect(repo.Create(ctx, a)).To(gomega.Succeed())
		gomega.Expect(repo.MarkInitiated(ctx, a.ID, "rs_ref_pg_3")).To(gomega.Succeed())

		paidAt := time.Now().UTC().Add(-2 * time.Hour).Truncate(time.Second)
		_, err := repo.ApplyOutcome(ctx, a.ID, &paymentpkg.Outcome{
			Status:        payment.StatusSuccess,
			PaymentStatus: payment.PaymentStatusCompleted,
			Amount:        decimal.NewFromInt(5000),
			Currency:      "NGN",
			PaidAt:        &paidAt,
		})
		gomega.Expect(err).ToNot(gomega.HaveOccurred())

		finder := cancellationPostgres.NewPaymentFinder(sqlDB)

		found, ok, err := finder.FindRecentSuccess(ctx, "room-3", " Ada@Example.com ", time.Now().Add(-48*time.Hour))
		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		gomega.Expect(ok).To(gomega.BeTrue())
		gomega.Expect(found.Equal(paidAt)).To(gomega.BeTrue())

		_, ok, err = finder.FindRecentSuccess(ctx, "room-3", "ada@example.com", time.Now().Add(-time.Hour))
		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		gomega.Expect(ok).To(gomega.BeFalse())
	})
})
