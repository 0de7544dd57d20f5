package config

import (
	"errors"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SUPABASE_URL", "https://project.supabase.co/")
	t.Setenv("SUPABASE_ANON_KEY", "anon-key")
}

func TestLoadRefusesWithoutIdentityProvider(t *testing.T) {
	t.Setenv("SUPABASE_URL", "")
	t.Setenv("SUPABASE_ANON_KEY", "")

	if _, err := Load(); !errors.Is(err, ErrMissingIdentityProvider) {
		t.Fatalf("expected ErrMissingIdentityProvider, got %v", err)
	}
}

func TestLoadRejectsPublishableStripeKey(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("STRIPE_API_KEY", "pk_test_123")

	if _, err := Load(); !errors.Is(err, ErrPublishableStripeKey) {
		t.Fatalf("expected ErrPublishableStripeKey, got %v", err)
	}
}

func TestFromEnvSkipsValidation(t *testing.T) {
	t.Setenv("SUPABASE_URL", "")
	t.Setenv("SUPABASE_ANON_KEY", "")
	t.Setenv("STRIPE_API_KEY", "pk_test_123")

	cfg := FromEnv()
	if cfg.Stripe.SecretKey != "pk_test_123" {
		t.Fatalf("expected stripe key to be read, got %q", cfg.Stripe.SecretKey)
	}
	if err := cfg.Validate(); !errors.Is(err, ErrMissingIdentityProvider) {
		t.Fatalf("expected validation to still fail, got %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("STRIPE_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("PORT", "")
	t.Setenv("OPENROUTER_TIMEOUT", "not-a-duration")
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example , ,https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Supabase.URL != "https://project.supabase.co" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Supabase.URL)
	}
	if cfg.Addr() != ":3000" {
		t.Fatalf("expected default addr :3000, got %q", cfg.Addr())
	}
	if cfg.Stripe.Enabled() {
		t.Fatal("expected stripe disabled without key")
	}
	if cfg.OpenRouter.Timeout != 60*time.Second {
		t.Fatalf("expected fallback timeout, got %s", cfg.OpenRouter.Timeout)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected cors origins %v", cfg.CORSAllowedOrigins)
	}
	if cfg.Redis.Enabled() {
		t.Fatal("expected redis disabled without addr")
	}
}
