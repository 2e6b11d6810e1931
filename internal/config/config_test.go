package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("COLAB_ENV_FILE", "")
	t.Setenv("COLAB_CONFIG_FILE", "")
	for _, key := range []string{"API_ADDR", "COLAB_STORE", "STORE_RETRIES", "STORE_TIMEOUT_MS", "COLAB_BLOB_BACKEND", "REDIS_URL"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":8083" || cfg.Store != "postgres" || cfg.StoreRetries != 3 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.StoreTimeout != 5*time.Second || cfg.Blob.Backend != "fs" || cfg.RedisURL != "" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadLayers(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	if err := os.WriteFile(envFile, []byte("COLAB_LAYER_TEST_ADDR=:9100\n"), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	tomlFile := filepath.Join(dir, "mscolab.toml")
	toml := "STORE_RETRIES = 7\nMINIO_USE_SSL = true\nCOLAB_SHUTDOWN_TIMEOUT = \"3s\"\nAPI_ADDR = \":7000\"\n"
	if err := os.WriteFile(tomlFile, []byte(toml), 0o644); err != nil {
		t.Fatalf("write toml file: %v", err)
	}

	t.Setenv("COLAB_ENV_FILE", envFile)
	t.Setenv("COLAB_CONFIG_FILE", tomlFile)
	t.Setenv("API_ADDR", ":9000")
	t.Setenv("STORE_RETRIES", "")
	t.Setenv("MINIO_USE_SSL", "")
	t.Setenv("COLAB_SHUTDOWN_TIMEOUT", "")
	t.Setenv("COLAB_LAYER_TEST_ADDR", "")
	os.Unsetenv("COLAB_LAYER_TEST_ADDR")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":9000" {
		t.Fatalf("environment must win over file, Addr = %q", cfg.Addr)
	}
	if cfg.StoreRetries != 7 || !cfg.Blob.MinioUseSSL || cfg.ShutdownTimeout != 3*time.Second {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if got := os.Getenv("COLAB_LAYER_TEST_ADDR"); got != ":9100" {
		t.Fatalf(".env not loaded, got %q", got)
	}
}

func TestLoadRejectsMissingFiles(t *testing.T) {
	t.Setenv("COLAB_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing env file")
	}

	t.Setenv("COLAB_ENV_FILE", "")
	t.Chdir(t.TempDir())
	t.Setenv("COLAB_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestGetenvDuration(t *testing.T) {
	s := source{file: map[string]string{"A": "15", "B": "250ms", "C": "soon"}}
	if got := s.getenvDuration("A", time.Second); got != 15*time.Second {
		t.Fatalf("A = %v", got)
	}
	if got := s.getenvDuration("B", time.Second); got != 250*time.Millisecond {
		t.Fatalf("B = %v", got)
	}
	if got := s.getenvDuration("C", time.Second); got != time.Second {
		t.Fatalf("C = %v", got)
	}
}
