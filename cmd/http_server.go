package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/roomshare/internal/cancellation"
	cancellationPostgres "github.com/frahmantamala/roomshare/internal/cancellation/postgres"
	"github.com/frahmantamala/roomshare/internal/payment"
	"github.com/frahmantamala/roomshare/internal/transport"
	"github.com/frahmantamala/roomshare/internal/transport/rest"
	"github.com/frahmantamala/roomshare/internal/transport/swagger"

	"github.com/go-chi/chi"
	"github.com/spf13/cobra"
)

var (
	withReconciler bool
	openAPIPath    string
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server serving the payment, webhook and cancellation endpoints`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

func init() {
	httpServerCmd.Flags().BoolVar(&withReconciler, "reconcile", false, "Run the reconciliation worker pool inside the server process")
	httpServerCmd.Flags().StringVar(&openAPIPath, "openapi", "api/openapi.yml", "OpenAPI document served at /openapi.json")
}

func startHTTPServer() {
	deps, err := initializeDependencies(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer deps.Close()

	router, err := setupRoutes(deps)
	if err != nil {
		deps.Logger.Error("Failed to set up routes", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if withReconciler {
		pool := deps.reconcilePool()
		go pool.Run(ctx)
		defer pool.Wait()
	}

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		deps.Logger.Info("Received signal, shutting down...")
		shutdown(deps.Logger, server, deps)
	case err := <-serverErrChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			deps.Logger.Error("Server failed to start", "error", err)
			stop()
			return
		}
	}

	deps.Logger.Info("Server stopped")
}

func shutdown(lg *slog.Logger, server *http.Server, deps *Dependencies) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		lg.Error("Server shutdown error", "error", err)
	}
	// let in-flight notification emails finish
	if err := deps.Bus.Wait(ctx); err != nil {
		lg.Warn("Event handlers did not finish before shutdown", "error", err)
	}
}

func setupRoutes(deps *Dependencies) (*chi.Mux, error) {
	cfg := deps.Config
	base := transport.NewBaseHandler(deps.Logger)
	base.DevMode = cfg.Site.DevMode

	paymentHandler := payment.NewHandler(base, deps.Payments, payment.Routes{
		SiteURL:        cfg.Site.BaseURL,
		CallbackPath:   cfg.Payment.CallbackPath,
		SuccessPath:    cfg.Site.SuccessPath,
		FailurePath:    cfg.Site.FailurePath,
		TrustForwarded: cfg.Site.TrustForwardedHeaders,
	})
	webhookHandler := payment.NewWebhookHandler(base, deps.Payments, cfg.Payment.WebhookSecret)

	gate := cancellation.NewGate(cancellationPostgres.NewPaymentFinder(deps.DB), cfg.Cancellation.Window, deps.Logger)
	tickets := cancellation.NewTickets(cfg.Cancellation.TicketSecret, cfg.Cancellation.TicketTTL)
	cancellationHandler := cancellation.NewHandler(base, gate, tickets, deps.Mailer, deps.Listings, cancellation.Config{
		SiteURL:        cfg.Site.BaseURL,
		TrustForwarded: cfg.Site.TrustForwardedHeaders,
		AdminEmail:     cfg.Notification.AdminEmail,
		SupportEmail:   cfg.Notification.SupportEmail,
	})

	doc, err := swagger.LoadSpec(context.Background(), openAPIPath)
	if err != nil {
		return nil, err
	}
	specHandler, err := swagger.SpecHandler(doc)
	if err != nil {
		return nil, err
	}

	router := chi.NewRouter()
	rest.RegisterAllRoutes(router, rest.Handlers{
		Health:       rest.NewHealthHandler(deps.DB, deps.Gateway.Configured),
		Payment:      paymentHandler,
		Webhook:      webhookHandler,
		Cancellation: cancellationHandler,
		Spec:         specHandler,
	}, rest.Options{
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		AdminUsername:     cfg.Admin.Username,
		AdminPasswordHash: cfg.Admin.PasswordHash,
		OpenAPIPath:       openAPIPath,
	}, deps.Logger)

	return router, nil
}
