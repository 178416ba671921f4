package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPort         = "8080"
	defaultReadTimeout  = 15 * time.Second
	defaultWriteTimeout = 30 * time.Second
	defaultIdleTimeout  = 120 * time.Second

	defaultCurrency       = "INR"
	defaultTaxRateBp      = 500
	defaultDeliveryCharge = 2000

	defaultGatewayBaseURL = "https://api.razorpay.com/v1"
	defaultGatewayTimeout = 10 * time.Second

	secretRefPrefix = "secret://"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Firestore FirestoreConfig
	Storage   StorageConfig
	Pricing   PricingConfig
	Gateway   GatewayConfig
	Events    EventsConfig
	Security  SecurityConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StorageConfig lists bucket names used by the application.
type StorageConfig struct {
	InvoicesBucket string
}

// PricingConfig carries the platform tax rate and delivery charge used when
// amounts are computed server-side. Tax rate is in basis points; money in paise.
type PricingConfig struct {
	Currency       string
	TaxRateBp      int64
	DeliveryCharge int64
}

// GatewayConfig collects payment gateway credentials and endpoints. Secret
// values may be given as secret:// references resolved at load time.
type GatewayConfig struct {
	BaseURL     string
	KeyID       string
	KeySecret   string
	CallTimeout time.Duration
}

// EventsConfig names the Pub/Sub topic order lifecycle events are published to.
type EventsConfig struct {
	ProjectID       string
	OrderEventTopic string
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	InternalHMACSecret string
}

// SecretResolver expands secret:// references into secret material.
type SecretResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts a function to the SecretResolver interface.
type SecretResolverFunc func(ctx context.Context, ref string) (string, error)

// Resolve implements SecretResolver.
func (f SecretResolverFunc) Resolve(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// Option customises configuration loading.
type Option func(*loader)

type loader struct {
	lookup   func(string) string
	resolver SecretResolver
}

// WithSecretResolver installs the resolver used for secret:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(l *loader) {
		l.resolver = resolver
	}
}

// WithLookup overrides environment lookup, primarily for tests.
func WithLookup(lookup func(string) string) Option {
	return func(l *loader) {
		if lookup != nil {
			l.lookup = lookup
		}
	}
}

// Load assembles the runtime configuration from the environment.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	l := &loader{lookup: os.Getenv}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         l.str("PORT", defaultPort),
			ReadTimeout:  l.duration("SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: l.duration("SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  l.duration("SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    l.str("FIRESTORE_PROJECT_ID", l.str("GOOGLE_CLOUD_PROJECT", "")),
			EmulatorHost: l.str("FIRESTORE_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			InvoicesBucket: l.str("INVOICES_BUCKET", ""),
		},
		Pricing: PricingConfig{
			Currency:       strings.ToUpper(l.str("PRICING_CURRENCY", defaultCurrency)),
			TaxRateBp:      l.int64("PRICING_TAX_RATE_BP", defaultTaxRateBp),
			DeliveryCharge: l.int64("PRICING_DELIVERY_CHARGE", defaultDeliveryCharge),
		},
		Gateway: GatewayConfig{
			BaseURL:     l.str("GATEWAY_BASE_URL", defaultGatewayBaseURL),
			KeyID:       l.str("GATEWAY_KEY_ID", ""),
			KeySecret:   l.str("GATEWAY_KEY_SECRET", ""),
			CallTimeout: l.duration("GATEWAY_CALL_TIMEOUT", defaultGatewayTimeout),
		},
		Events: EventsConfig{
			ProjectID:       l.str("PUBSUB_PROJECT_ID", l.str("GOOGLE_CLOUD_PROJECT", "")),
			OrderEventTopic: l.str("ORDER_EVENT_TOPIC", ""),
		},
		Security: SecurityConfig{
			InternalHMACSecret: l.str("INTERNAL_HMAC_SECRET", ""),
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	if err := l.resolveSecrets(ctx, &cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	var problems []string
	if c.Pricing.TaxRateBp < 0 {
		problems = append(problems, "PRICING_TAX_RATE_BP must not be negative")
	}
	if c.Pricing.DeliveryCharge < 0 {
		problems = append(problems, "PRICING_DELIVERY_CHARGE must not be negative")
	}
	if c.Server.Port == "" {
		problems = append(problems, "PORT must not be empty")
	}
	if len(problems) > 0 {
		return errors.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

func (l *loader) resolveSecrets(ctx context.Context, cfg *Config) error {
	targets := []*string{
		&cfg.Gateway.KeySecret,
		&cfg.Security.InternalHMACSecret,
	}
	for _, target := range targets {
		value := strings.TrimSpace(*target)
		if !strings.HasPrefix(value, secretRefPrefix) {
			continue
		}
		if l.resolver == nil {
			return fmt.Errorf("config: secret reference %q requires a resolver", redactRef(value))
		}
		resolved, err := l.resolver.Resolve(ctx, value)
		if err != nil {
			return fmt.Errorf("config: resolve %s: %w", redactRef(value), err)
		}
		*target = resolved
	}
	return nil
}

func (l *loader) str(key, fallback string) string {
	if value := strings.TrimSpace(l.lookup(key)); value != "" {
		return value
	}
	return fallback
}

func (l *loader) duration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(l.lookup(key))
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func (l *loader) int64(key string, fallback int64) int64 {
	raw := strings.TrimSpace(l.lookup(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func redactRef(ref string) string {
	trimmed := strings.TrimPrefix(ref, secretRefPrefix)
	if idx := strings.IndexByte(trimmed, '/'); idx > 0 {
		return secretRefPrefix + trimmed[:idx] + "/*"
	}
	return secretRefPrefix + trimmed
}
