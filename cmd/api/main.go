package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/raileats/api/internal/di"
	"github.com/raileats/api/internal/handlers"
	"github.com/raileats/api/internal/platform/auth"
	"github.com/raileats/api/internal/platform/config"
	"github.com/raileats/api/internal/platform/observability"
	"github.com/raileats/api/internal/platform/secrets"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := observability.NewLogger()
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	var loadOpts []config.Option
	if projectID := os.Getenv("GOOGLE_CLOUD_PROJECT"); projectID != "" {
		fetcher, err := secrets.NewFetcher(ctx, projectID, secrets.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("secrets fetcher: %w", err)
		}
		defer func() { _ = fetcher.Close() }()
		loadOpts = append(loadOpts, config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)))
	}

	cfg, err := config.Load(ctx, loadOpts...)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	container, err := di.NewContainer(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("container: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close", zap.Error(err))
		}
	}()

	router, err := buildRouter(cfg, container, logger)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr), zap.String("version", version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func buildRouter(cfg config.Config, container *di.Container, logger *zap.Logger) (chi.Router, error) {
	orderHandlers := handlers.NewOrderHandlers(container.Services.Orders)
	invoiceHandlers := handlers.NewInvoiceHandlers(container.Services.Invoices)

	var paymentHandlers *handlers.PaymentHandlers
	if container.Services.Payments != nil {
		paymentHandlers = handlers.NewPaymentHandlers(container.Services.Payments)
	}

	healthOpts := []handlers.HealthOption{handlers.WithHealthVersion(version)}
	if container.Services.System != nil {
		healthOpts = append(healthOpts, handlers.WithHealthSystemService(container.Services.System))
	}

	opts := []handlers.Option{
		handlers.WithMiddlewares(observability.NewMiddleware(logger).Handler),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)),
		handlers.WithOrderRoutes(func(r chi.Router) {
			orderHandlers.Routes(r)
			invoiceHandlers.OrderRoutes(r)
			if paymentHandlers != nil {
				paymentHandlers.OrderRoutes(r)
			}
		}),
		handlers.WithOperatorRoutes(func(r chi.Router) {
			orderHandlers.OperatorRoutes(r)
			invoiceHandlers.OperatorRoutes(r)
		}),
	}

	if paymentHandlers != nil {
		opts = append(opts, handlers.WithPaymentRoutes(paymentHandlers.Routes))
	}

	if secret := cfg.Security.InternalHMACSecret; secret != "" {
		validator, err := auth.NewHMACValidator(secret)
		if err != nil {
			return nil, fmt.Errorf("hmac validator: %w", err)
		}
		opts = append(opts, handlers.WithOperatorMiddlewares(validator.Middleware))
	} else {
		logger.Warn("internal hmac secret not configured; operator routes unprotected")
	}

	return handlers.NewRouter(opts...), nil
}
