package config

import (
	"context"
	"errors"
	"testing"
	"time"
)

func lookupFrom(values map[string]string) func(string) string {
	return func(key string) string {
		return values[key]
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithLookup(lookupFrom(nil)))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != defaultPort {
		t.Fatalf("unexpected port %s", cfg.Server.Port)
	}
	if cfg.Pricing.Currency != "INR" {
		t.Fatalf("unexpected currency %s", cfg.Pricing.Currency)
	}
	if cfg.Pricing.TaxRateBp != defaultTaxRateBp {
		t.Fatalf("unexpected tax rate %d", cfg.Pricing.TaxRateBp)
	}
	if cfg.Gateway.CallTimeout != defaultGatewayTimeout {
		t.Fatalf("unexpected gateway timeout %s", cfg.Gateway.CallTimeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	values := map[string]string{
		"PORT":                    "9090",
		"PRICING_TAX_RATE_BP":     "1800",
		"PRICING_DELIVERY_CHARGE": "3500",
		"GATEWAY_CALL_TIMEOUT":    "3s",
		"SERVER_READ_TIMEOUT":     "bogus",
	}
	cfg, err := Load(context.Background(), WithLookup(lookupFrom(values)))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Fatalf("unexpected port %s", cfg.Server.Port)
	}
	if cfg.Pricing.TaxRateBp != 1800 {
		t.Fatalf("unexpected tax rate %d", cfg.Pricing.TaxRateBp)
	}
	if cfg.Pricing.DeliveryCharge != 3500 {
		t.Fatalf("unexpected delivery charge %d", cfg.Pricing.DeliveryCharge)
	}
	if cfg.Gateway.CallTimeout != 3*time.Second {
		t.Fatalf("unexpected gateway timeout %s", cfg.Gateway.CallTimeout)
	}
	if cfg.Server.ReadTimeout != defaultReadTimeout {
		t.Fatalf("invalid duration should fall back, got %s", cfg.Server.ReadTimeout)
	}
}

func TestLoadRejectsNegativeTaxRate(t *testing.T) {
	values := map[string]string{"PRICING_TAX_RATE_BP": "-5"}
	if _, err := Load(context.Background(), WithLookup(lookupFrom(values))); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadResolvesSecretReferences(t *testing.T) {
	values := map[string]string{
		"GATEWAY_KEY_SECRET": "secret://payments/gateway-secret",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref != "secret://payments/gateway-secret" {
			t.Fatalf("unexpected ref %s", ref)
		}
		return "resolved-secret", nil
	})

	cfg, err := Load(context.Background(), WithLookup(lookupFrom(values)), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Gateway.KeySecret != "resolved-secret" {
		t.Fatalf("secret not resolved, got %q", cfg.Gateway.KeySecret)
	}
}

func TestLoadSecretReferenceWithoutResolver(t *testing.T) {
	values := map[string]string{
		"GATEWAY_KEY_SECRET": "secret://payments/gateway-secret",
	}
	_, err := Load(context.Background(), WithLookup(lookupFrom(values)))
	if err == nil {
		t.Fatal("expected error for unresolved secret reference")
	}
}

func TestLoadResolverFailure(t *testing.T) {
	values := map[string]string{
		"INTERNAL_HMAC_SECRET": "secret://internal/hmac",
	}
	resolver := SecretResolverFunc(func(context.Context, string) (string, error) {
		return "", errors.New("boom")
	})
	if _, err := Load(context.Background(), WithLookup(lookupFrom(values)), WithSecretResolver(resolver)); err == nil {
		t.Fatal("expected resolver error to propagate")
	}
}
