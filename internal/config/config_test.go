package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/CanopyNet/canopy-core/internal/transfer"
	workerpool "github.com/CanopyNet/canopy-core/internal/worker"
)

func TestDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Transfer.Workers != workerpool.DefaultWorkers {
		t.Errorf("expected default workers %d, got %d", workerpool.DefaultWorkers, cfg.Transfer.Workers)
	}
	if cfg.Transfer.ChunkSize != transfer.DefaultChunkSize {
		t.Errorf("expected default chunk size %d, got %d", transfer.DefaultChunkSize, cfg.Transfer.ChunkSize)
	}
	if cfg.Transfer.LookAhead != transfer.DefaultLookAhead {
		t.Errorf("expected default look-ahead %d, got %d", transfer.DefaultLookAhead, cfg.Transfer.LookAhead)
	}
	if cfg.Redis.TokenTTL != 24*time.Hour {
		t.Errorf("expected default token TTL 24h, got %v", cfg.Redis.TokenTTL)
	}
	if cfg.Storage.MaxFileBytes != 0 {
		t.Errorf("expected no default file limit, got %d", cfg.Storage.MaxFileBytes)
	}
	if cfg.Mirror.Enabled() {
		t.Error("mirror enabled without any settings")
	}
	if cfg.Telegram.Enabled() {
		t.Error("telegram enabled without any settings")
	}
}

func TestLoadFileOverlay(t *testing.T) {
	yamlContent := `
server:
  port: "9090"
  write_timeout: 2m
transfer:
  workers: 8
  chunk_size: 4MB
storage:
  dir: /srv/canopy
  max_file_size: 1GiB
redis:
  token_ttl: 1h
telegram:
  bot_token: tok
  channel: "@uploads"
`
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.WriteTimeout != 2*time.Minute {
		t.Errorf("expected write timeout 2m, got %v", cfg.Server.WriteTimeout)
	}
	if cfg.Server.ReadTimeout != 5*time.Minute {
		t.Errorf("expected read timeout to keep its default, got %v", cfg.Server.ReadTimeout)
	}
	if cfg.Transfer.Workers != 8 {
		t.Errorf("expected workers 8, got %d", cfg.Transfer.Workers)
	}
	if cfg.Transfer.ChunkSize != 4<<20 {
		t.Errorf("expected chunk size 4MB, got %d", cfg.Transfer.ChunkSize)
	}
	if cfg.Storage.Dir != "/srv/canopy" {
		t.Errorf("expected storage dir /srv/canopy, got %s", cfg.Storage.Dir)
	}
	if cfg.Storage.MaxFileBytes != 1<<30 {
		t.Errorf("expected max file size 1GiB, got %d", cfg.Storage.MaxFileBytes)
	}
	if cfg.Redis.TokenTTL != time.Hour {
		t.Errorf("expected token TTL 1h, got %v", cfg.Redis.TokenTTL)
	}
	if !cfg.Telegram.Enabled() {
		t.Error("expected telegram to be enabled")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	yamlContent := `
server:
  port: "9090"
transfer:
  chunk_size: 4MB
`
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("CANOPY_SERVER_PORT", "7070")
	t.Setenv("CANOPY_CHUNK_SIZE", "2MiB")

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected env port 7070 to win, got %s", cfg.Server.Port)
	}
	if cfg.Transfer.ChunkSize != 2<<20 {
		t.Errorf("expected env chunk size 2MiB to win, got %d", cfg.Transfer.ChunkSize)
	}
}

func TestLoadFileErrors(t *testing.T) {
	if _, err := LoadFile("/does/not/exist.yaml"); err == nil {
		t.Error("expected error for missing file")
	}

	badDuration := "server:\n  read_timeout: nonsense\n"
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(badDuration), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	if _, err := LoadFile(configPath); err == nil {
		t.Error("expected error for bad duration")
	}
}
