package shared

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Database.Path != "./tally.db" {
			t.Errorf("expected database path ./tally.db, got %s", config.Database.Path)
		}

		if config.Server.Port != 3000 {
			t.Errorf("expected server port 3000, got %d", config.Server.Port)
		}

		if config.Catalog.RequestTimeout != 15*time.Second {
			t.Errorf("expected request timeout 15s, got %v", config.Catalog.RequestTimeout)
		}

		if config.Sync.Workers != 1 {
			t.Errorf("expected 1 sync worker, got %d", config.Sync.Workers)
		}

		if !config.Sync.PruneStaleTracks {
			t.Error("expected stale track pruning to be on by default")
		}

		if err := config.Validate(); err != nil {
			t.Errorf("default config should validate: %v", err)
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		if _, err := os.Stat(configPath); err != nil {
			t.Fatalf("config file should exist: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}

		if config.Database.Path != DefaultConfig().Database.Path {
			t.Errorf("created config database path doesn't match default")
		}

		if err := CreateConfigFile(configPath); err == nil {
			t.Error("creating config file again should fail")
		}
	})

	t.Run("LoadConfig", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")

		testConfig := `[database]
path = "/custom/path.db"

[server]
port = 8080

[credentials.spotify]
client_id = "test_client_id"
client_secret = "test_secret"

[sync]
workers = 4
run_timeout = "5m"
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Database.Path != "/custom/path.db" {
			t.Errorf("expected database path /custom/path.db, got %s", config.Database.Path)
		}

		if config.Server.Port != 8080 {
			t.Errorf("expected server port 8080, got %d", config.Server.Port)
		}

		if config.Server.Host != "127.0.0.1" {
			t.Errorf("expected default host to survive a partial file, got %s", config.Server.Host)
		}

		if config.Sync.Workers != 4 || config.Sync.RunTimeout != 5*time.Minute {
			t.Errorf("unexpected sync settings: %+v", config.Sync)
		}

		if config.Catalog.BaseURL != "https://api.spotify.com/v1" {
			t.Errorf("expected default catalog base url, got %s", config.Catalog.BaseURL)
		}
	})

	t.Run("LoadConfig rejects malformed TOML", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")
		if err := os.WriteFile(configPath, []byte("[database\npath ="), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		_, err := LoadConfig(configPath)
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("ApplyEnv", func(t *testing.T) {
		t.Setenv(EnvClientID, "env-client")
		t.Setenv(EnvClientSecret, "env-secret")
		t.Setenv(EnvDatabasePath, "/env/tally.db")

		config := DefaultConfig()
		config.ApplyEnv()

		if config.Credentials.Spotify.ClientID != "env-client" {
			t.Errorf("expected env client id, got %s", config.Credentials.Spotify.ClientID)
		}
		if config.Credentials.Spotify.ClientSecret != "env-secret" {
			t.Errorf("expected env client secret, got %s", config.Credentials.Spotify.ClientSecret)
		}
		if config.Database.Path != "/env/tally.db" {
			t.Errorf("expected env database path, got %s", config.Database.Path)
		}
	})

	t.Run("LoadEnvFile", func(t *testing.T) {
		envPath := filepath.Join(t.TempDir(), ".env")
		if err := os.WriteFile(envPath, []byte(EnvRedirectURI+"=http://127.0.0.1:9999/cb\n"), 0644); err != nil {
			t.Fatalf("failed to write env file: %v", err)
		}
		t.Setenv(EnvRedirectURI, "")
		os.Unsetenv(EnvRedirectURI)

		if err := LoadEnvFile(envPath); err != nil {
			t.Fatalf("failed to load env file: %v", err)
		}
		if got := os.Getenv(EnvRedirectURI); got != "http://127.0.0.1:9999/cb" {
			t.Errorf("expected redirect uri from env file, got %q", got)
		}

		if err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
			t.Errorf("missing env file should be ignored, got %v", err)
		}
	})

	t.Run("Validate", func(t *testing.T) {
		tc := []struct {
			name   string
			mutate func(*Config)
		}{
			{name: "empty database path", mutate: func(c *Config) { c.Database.Path = "" }},
			{name: "empty base url", mutate: func(c *Config) { c.Catalog.BaseURL = "" }},
			{name: "zero workers", mutate: func(c *Config) { c.Sync.Workers = 0 }},
			{name: "zero rate", mutate: func(c *Config) { c.Catalog.RequestsPerSecond = 0 }},
		}

		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				config := DefaultConfig()
				tt.mutate(config)
				if err := config.Validate(); !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("expected ErrInvalidConfig, got %v", err)
				}
			})
		}
	})
}
