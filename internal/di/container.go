package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/raileats/api/internal/invoicing"
	"github.com/raileats/api/internal/payments"
	"github.com/raileats/api/internal/platform/config"
	pfirestore "github.com/raileats/api/internal/platform/firestore"
	"github.com/raileats/api/internal/platform/jobs"
	"github.com/raileats/api/internal/platform/observability"
	platformstorage "github.com/raileats/api/internal/platform/storage"
	"github.com/raileats/api/internal/repositories"
	firestoreRepo "github.com/raileats/api/internal/repositories/firestore"
	"github.com/raileats/api/internal/services"
)

// Services bundles the service-layer contracts the handlers rely upon.
type Services struct {
	Orders   services.OrderService
	Payments services.PaymentService
	Invoices services.InvoiceService
	System   services.SystemService
}

// Container wires repositories, services, and supporting clients for runtime use.
type Container struct {
	Config   config.Config
	Services Services

	firestoreProvider *pfirestore.Provider
	storageClient     *cloudstorage.Client
	pubsubClient      *pubsub.Client
	eventTopic        *pubsub.Topic
}

// NewContainer constructs the production dependency graph from configuration.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Container{Config: cfg}

	c.firestoreProvider = pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := c.firestoreProvider.Client(ctx)
	if err != nil {
		return nil, fmt.Errorf("di: firestore client: %w", err)
	}

	ordersRepo, err := firestoreRepo.NewOrderRepository(c.firestoreProvider)
	if err != nil {
		return nil, fmt.Errorf("di: order repository: %w", err)
	}
	trackingRepo, err := firestoreRepo.NewTrackingRepository(c.firestoreProvider)
	if err != nil {
		return nil, fmt.Errorf("di: tracking repository: %w", err)
	}
	invoiceRepo, err := firestoreRepo.NewInvoiceRepository(c.firestoreProvider)
	if err != nil {
		return nil, fmt.Errorf("di: invoice repository: %w", err)
	}
	directoryRepo, err := firestoreRepo.NewDirectoryRepository(c.firestoreProvider)
	if err != nil {
		return nil, fmt.Errorf("di: directory repository: %w", err)
	}
	counterRepo, err := firestoreRepo.NewCounterRepository(c.firestoreProvider)
	if err != nil {
		return nil, fmt.Errorf("di: counter repository: %w", err)
	}
	unitOfWork, err := pfirestore.NewUnitOfWork(c.firestoreProvider)
	if err != nil {
		return nil, fmt.Errorf("di: unit of work: %w", err)
	}

	pricing, err := services.NewPricingEngine(cfg.Pricing.TaxRateBp, cfg.Pricing.DeliveryCharge, cfg.Pricing.Currency)
	if err != nil {
		return nil, fmt.Errorf("di: pricing engine: %w", err)
	}

	ledger, err := services.NewTrackingLedger(services.TrackingLedgerDeps{Tracking: trackingRepo})
	if err != nil {
		return nil, fmt.Errorf("di: tracking ledger: %w", err)
	}

	var events services.OrderEventPublisher
	if topicID := strings.TrimSpace(cfg.Events.OrderEventTopic); topicID != "" {
		c.pubsubClient, err = pubsub.NewClient(ctx, cfg.Events.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("di: pubsub client: %w", err)
		}
		c.eventTopic = c.pubsubClient.Topic(topicID)
		events, err = jobs.NewPubSubOrderEventPublisher(c.eventTopic)
		if err != nil {
			return nil, fmt.Errorf("di: event publisher: %w", err)
		}
	} else {
		logger.Warn("order event topic not configured; events disabled")
	}

	var documents services.InvoiceDocumentStore
	if bucket := strings.TrimSpace(cfg.Storage.InvoicesBucket); bucket != "" {
		c.storageClient, err = cloudstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("di: storage client: %w", err)
		}
		store, err := platformstorage.NewDocumentStore(c.storageClient, bucket)
		if err != nil {
			return nil, fmt.Errorf("di: document store: %w", err)
		}
		documents = &invoiceDocumentStore{store: store}
	} else {
		logger.Warn("invoices bucket not configured; invoice documents disabled")
	}

	invoiceSvc, err := services.NewInvoiceService(services.InvoiceServiceDeps{
		Orders:    ordersRepo,
		Invoices:  invoiceRepo,
		Directory: directoryRepo,
		Renderer:  invoicing.NewRenderer(),
		Documents: documents,
		Pricing:   pricing,
		Logger:    observability.EventLogger(logger.Named("invoices")),
	})
	if err != nil {
		return nil, fmt.Errorf("di: invoice service: %w", err)
	}
	c.Services.Invoices = invoiceSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     ordersRepo,
		Directory:  directoryRepo,
		Counters:   counterRepo,
		Ledger:     ledger,
		Pricing:    pricing,
		UnitOfWork: unitOfWork,
		Events:     events,
		Invoices:   invoiceSvc,
		Logger:     observability.EventLogger(logger.Named("orders")),
	})
	if err != nil {
		return nil, fmt.Errorf("di: order service: %w", err)
	}
	c.Services.Orders = orderSvc

	gateway, err := payments.NewRazorpayGateway(cfg.Gateway)
	if err != nil {
		logger.Warn("payment gateway not configured; checkout disabled", zap.Error(err))
	} else {
		paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
			Orders:     ordersRepo,
			Ledger:     ledger,
			Pricing:    pricing,
			Gateway:    gateway,
			KeyID:      cfg.Gateway.KeyID,
			UnitOfWork: unitOfWork,
			Events:     events,
			Invoices:   invoiceSvc,
			Logger:     observability.EventLogger(logger.Named("payments")),
		})
		if err != nil {
			return nil, fmt.Errorf("di: payment service: %w", err)
		}
		c.Services.Payments = paymentSvc
	}

	systemSvc, err := buildSystemService(firestoreClient, c.eventTopic)
	if err != nil {
		logger.Warn("system service init failed; readiness degrades to liveness", zap.Error(err))
	} else {
		c.Services.System = systemSvc
	}

	return c, nil
}

// Close releases client resources held by the container.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.eventTopic != nil {
		c.eventTopic.Stop()
	}
	if c.pubsubClient != nil {
		if err := c.pubsubClient.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.storageClient != nil {
		if err := c.storageClient.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.firestoreProvider != nil {
		if err := c.firestoreProvider.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type invoiceDocumentStore struct {
	store *platformstorage.DocumentStore
}

func (s *invoiceDocumentStore) StoreInvoiceDocument(ctx context.Context, invoice services.Invoice, body []byte) (string, error) {
	object, err := platformstorage.InvoiceObjectPath(invoice.OrderID, invoice.Number)
	if err != nil {
		return "", err
	}
	return s.store.Put(ctx, object, "text/plain; charset=utf-8", body)
}

func buildSystemService(client *firestore.Client, topic *pubsub.Topic) (services.SystemService, error) {
	checks := make([]repositories.DependencyCheck, 0, 2)
	if client != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				iter := client.Collections(ctx)
				_, err := iter.Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		})
	}
	if topic != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := topic.Exists(ctx)
				return err
			},
		})
	}
	if len(checks) == 0 {
		return nil, errors.New("di: no dependency checks configured")
	}
	repo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	return services.NewSystemService(repo)
}
