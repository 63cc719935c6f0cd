package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	gwconfig "github.com/readone97/Sol-Kart/gateway/config"
)

func TestLoadConfigAppliesEnvOverrides(t *testing.T) {
	t.Setenv(envListen, ":9090")
	t.Setenv(envCommitment, "finalized")
	t.Setenv(envStoreDriver, gwconfig.StoreSQLite)
	t.Setenv(envStoreDSN, "file:intents.db")
	t.Setenv(envIntentTTL, "15m")
	t.Setenv(envAuthSecret, "env-secret")
	t.Setenv(envAllowedOrigin, "https://shop.solkart.io/, http://localhost:3000")

	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != ":9090" {
		t.Fatalf("unexpected listen address %q", cfg.ListenAddress)
	}
	if cfg.Settlement.Commitment != "finalized" {
		t.Fatalf("unexpected commitment %q", cfg.Settlement.Commitment)
	}
	if cfg.Store.Driver != gwconfig.StoreSQLite || cfg.Store.DSN != "file:intents.db" {
		t.Fatalf("unexpected store %+v", cfg.Store)
	}
	if cfg.Intents.TTL != 15*time.Minute {
		t.Fatalf("unexpected ttl %s", cfg.Intents.TTL)
	}
	if !cfg.Auth.Enabled || cfg.Auth.HMACSecret != "env-secret" {
		t.Fatalf("expected auth enabled from env, got %+v", cfg.Auth)
	}
	if len(cfg.CORS.AllowedOrigins) != 2 {
		t.Fatalf("unexpected origins %v", cfg.CORS.AllowedOrigins)
	}
	want := []string{"shop.solkart.io", "localhost:3000"}
	for i, host := range want {
		if cfg.Events.OriginPatterns[i] != host {
			t.Fatalf("origin pattern %d: expected %s, got %s", i, host, cfg.Events.OriginPatterns[i])
		}
	}
}

func TestLoadConfigIgnoresMalformedTTL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte("intents:\n  ttl: 30m\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(envIntentTTL, "soon")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Intents.TTL != 30*time.Minute {
		t.Fatalf("expected file ttl to survive a bad override, got %s", cfg.Intents.TTL)
	}
}

func TestLoadConfigRejectsInvalidOverride(t *testing.T) {
	t.Setenv(envCommitment, "instant")
	if _, err := loadConfig(""); err == nil {
		t.Fatalf("expected validation error for unknown commitment")
	}
}
