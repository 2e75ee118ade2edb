package cmd

import (
	"fmt"
	"log/slog"

	"github.com/frahmantamala/roomshare/internal"
	"github.com/frahmantamala/roomshare/internal/core/events"
	"github.com/frahmantamala/roomshare/internal/listing"
	listingPostgres "github.com/frahmantamala/roomshare/internal/listing/postgres"
	"github.com/frahmantamala/roomshare/internal/notification"
	"github.com/frahmantamala/roomshare/internal/payment"
	paymentPostgres "github.com/frahmantamala/roomshare/internal/payment/postgres"
	"github.com/frahmantamala/roomshare/internal/paymentgateway"
	"github.com/frahmantamala/roomshare/internal/reconciliation"
	"github.com/frahmantamala/roomshare/pkg/logger"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// Dependencies is everything the commands share: one pool of connections,
// the payment service and the event bus with its email subscribers.
type Dependencies struct {
	Config   *internal.Config
	DB       *sqlx.DB
	Gorm     *gorm.DB
	Logger   *slog.Logger
	Bus      *events.EventBus
	Gateway  *paymentgateway.Client
	Listings *listing.Service
	Payments *payment.Service
	Mailer   notification.Mailer
}

func initializeDependencies(path string) (*Dependencies, error) {
	config, err := loadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gormDB, err := initGorm(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize gorm: %w", err)
	}

	lg := logger.LoggerWrapper()

	bus := events.NewEventBus(lg)
	gateway := paymentgateway.NewClient(paymentgateway.Config{
		BaseURL:   config.Payment.GatewayURL,
		SecretKey: config.Payment.SecretKey,
		Timeout:   config.Payment.Timeout,
	}, lg)

	listings := listing.NewService(listingPostgres.NewListingRepository(gormDB), lg)
	payments := payment.NewService(paymentPostgres.NewPaymentRepository(gormDB), gateway, listings, bus, lg)

	mailer := notification.NewMailer(notification.SMTPConfig{
		Host:     config.Notification.SMTPHost,
		Port:     config.Notification.SMTPPort,
		Username: config.Notification.SMTPUsername,
		Password: config.Notification.SMTPPassword,
		From:     config.Notification.From,
	}, lg)
	notification.NewHandler(mailer, listings, config.Notification.AdminEmail, lg).Register(bus)

	return &Dependencies{
		Config:   config,
		DB:       db,
		Gorm:     gormDB,
		Logger:   lg,
		Bus:      bus,
		Gateway:  gateway,
		Listings: listings,
		Payments: payments,
		Mailer:   mailer,
	}, nil
}

func (d *Dependencies) reconcilePool() *reconciliation.Pool {
	return reconciliation.NewPool(d.Payments, reconciliation.Config{
		Interval:   d.Config.Reconciliation.Interval,
		StaleAfter: d.Config.Reconciliation.StaleAfter,
		Workers:    d.Config.Reconciliation.Workers,
		BatchSize:  d.Config.Reconciliation.BatchSize,
	}, d.Logger)
}

func (d *Dependencies) Close() {
	if err := d.DB.Close(); err != nil {
		d.Logger.Error("Database close error", "error", err)
	}
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// verify connection; close underlying *sql.DB on failure
	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

// initGorm shares the sqlx connection pool with the gorm repositories.
func initGorm(db *sqlx.DB) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{
		TranslateError: true,
		Logger:         gormLogger.Default.LogMode(gormLogger.Warn),
	})
}
