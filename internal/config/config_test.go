package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("DEFAULT_STORE_ID", "")
	t.Setenv("CURRENCY", "")
	t.Setenv("SUMMARY_TTL_SECONDS", "")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "")

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("port = %q, want 8080", cfg.Port)
	}
	if cfg.StoreID != "store-1" {
		t.Fatalf("store id = %q, want store-1", cfg.StoreID)
	}
	if cfg.Currency != "USD" {
		t.Fatalf("currency = %q, want USD", cfg.Currency)
	}
	if cfg.SummaryTTLSeconds != 60 {
		t.Fatalf("summary ttl = %d, want 60", cfg.SummaryTTLSeconds)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("address = %q, want :8080", cfg.Address())
	}
}

func TestLoadRejectsNonsenseTTLs(t *testing.T) {
	t.Setenv("SUMMARY_TTL_SECONDS", "-5")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "abc")

	cfg := Load()
	if cfg.SummaryTTLSeconds != 60 {
		t.Fatalf("summary ttl = %d, want fallback 60", cfg.SummaryTTLSeconds)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("token ttl = %d, want fallback 480", cfg.AccessTokenTTLMinutes)
	}
}
