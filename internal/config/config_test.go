package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_ADDR", "")
	t.Setenv("CORD_SESSION_TTL_SECONDS", "")

	cfg := Load()
	if cfg.Addr != ":8787" {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Fatalf("expected 24h session ttl, got %s", cfg.SessionTTL)
	}
	if cfg.WebhookRetries != 3 {
		t.Fatalf("expected 3 webhook retries, got %d", cfg.WebhookRetries)
	}
}

func TestLoadInvalidIntFallsBack(t *testing.T) {
	t.Setenv("CORD_WEBHOOK_RETRIES", "many")
	if got := Load().WebhookRetries; got != 3 {
		t.Fatalf("expected fallback 3, got %d", got)
	}
}

func TestLoadFileEnvWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cord.yaml")
	body := "api_addr: \":9000\"\ns3_bucket: attachments\ns3_use_ssl: \"true\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("S3_BUCKET", "from-env")
	t.Setenv("API_ADDR", "")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Addr != ":9000" {
		t.Fatalf("expected file addr, got %q", cfg.Addr)
	}
	if cfg.S3Bucket != "from-env" {
		t.Fatalf("expected env bucket, got %q", cfg.S3Bucket)
	}
	if !cfg.S3UseSSL {
		t.Fatal("expected ssl enabled from file")
	}
}
