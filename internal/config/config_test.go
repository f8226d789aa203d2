package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_FirstRunWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != "127.0.0.1:8080" {
		t.Fatalf("listen = %q", cfg.Listen)
	}
	if cfg.Alarm.PollInterval != time.Second || cfg.Alarm.FiringWindow != 5*time.Second || cfg.Alarm.RingTimeout != 5*time.Second {
		t.Fatalf("unexpected alarm defaults: %+v", cfg.Alarm)
	}

	st, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if st.Mode().Perm() != 0o600 {
		t.Fatalf("perm = %v, want 0600", st.Mode().Perm())
	}
}

func TestLoad_PartialFileIsNormalized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte(`
listen: ":9090"
timezone: Asia/Seoul
alarm:
  firing_window: 3s
notify:
  webhook_url: https://hooks.example.test/x
import:
  cache_dir: /var/cache/postcal
  horizon: 720h
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != ":9090" {
		t.Fatalf("listen = %q", cfg.Listen)
	}
	if cfg.Alarm.FiringWindow != 3*time.Second {
		t.Fatalf("firing window = %v", cfg.Alarm.FiringWindow)
	}
	if cfg.Alarm.RingTimeout != 5*time.Second {
		t.Fatalf("ring timeout should default independently, got %v", cfg.Alarm.RingTimeout)
	}
	if cfg.Notify.RatePerSec != 2 || cfg.Notify.QueueSize != 64 {
		t.Fatalf("notify defaults not applied: %+v", cfg.Notify)
	}
	if len(cfg.Schedule.Platforms) != 1 || cfg.Schedule.Platforms[0] != "instagram" {
		t.Fatalf("platforms = %v", cfg.Schedule.Platforms)
	}
	if cfg.Import.CacheDir != "/var/cache/postcal" || cfg.Import.Horizon != 720*time.Hour || cfg.Import.MaxPerEvent != 500 {
		t.Fatalf("import config = %+v", cfg.Import)
	}
	if cfg.Location().String() != "Asia/Seoul" {
		t.Fatalf("location = %v", cfg.Location())
	}
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("listen: [unterminated"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected yaml error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.DatabasePath = "/var/lib/postcal/postcal.db"
	cfg.BasicAuth = &BasicAuthConfig{Username: "admin", Password: "pw"}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.DatabasePath != cfg.DatabasePath {
		t.Fatalf("database_path = %q", got.DatabasePath)
	}
	if got.BasicAuth == nil || got.BasicAuth.Username != "admin" {
		t.Fatalf("basic auth lost: %+v", got.BasicAuth)
	}
}

func TestLocationFallback(t *testing.T) {
	cfg := &Config{Timezone: "Not/AZone"}
	if cfg.Location() != time.UTC {
		t.Fatalf("expected UTC fallback")
	}
}

func TestSave_Errors(t *testing.T) {
	if err := Save("", DefaultConfig()); err == nil {
		t.Fatal("expected error for empty path")
	}
	if err := Save(filepath.Join(t.TempDir(), "c.yaml"), nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}
