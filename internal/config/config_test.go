package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		InstanceID: "test-instance-abc",
		BaseDir:    "/home/user/.local/share/av",
		LogDir:     "/home/user/.local/share/av/log",
		Vault: VaultConfig{
			Type:       "s3",
			Name:       "media",
			S3Bucket:   "assets",
			S3Prefix:   "prod",
			S3Region:   "eu-west-1",
			S3Endpoint: "http://minio:9000",
		},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  "/home/user/.local/share/av/keys/av.pub",
			PrivateKeyPath: "/home/user/.local/share/av/keys/av.key",
		},
		Database:   DatabaseConfig{Type: "postgres", DSN: "postgres://av@db/av?sslmode=disable"},
		HTTP: HTTPConfig{
			Addr:           "127.0.0.1:9090",
			ReadTimeout:    "10s",
			MaxUploadMB:    64,
			AllowedOrigins: []string{"https://media.example.com"},
		},
		Versioning: VersioningConfig{MaxConflictRetries: 8},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.InstanceID != original.InstanceID {
		t.Errorf("InstanceID = %q, want %q", got.InstanceID, original.InstanceID)
	}
	if got.LogDir != original.LogDir {
		t.Errorf("LogDir = %q, want %q", got.LogDir, original.LogDir)
	}
	if got.Vault != original.Vault {
		t.Errorf("Vault = %+v, want %+v", got.Vault, original.Vault)
	}
	if got.Encryption != original.Encryption {
		t.Errorf("Encryption = %+v, want %+v", got.Encryption, original.Encryption)
	}
	if got.Database != original.Database {
		t.Errorf("Database = %+v, want %+v", got.Database, original.Database)
	}
	if got.HTTP.Addr != original.HTTP.Addr || got.HTTP.ReadTimeout != original.HTTP.ReadTimeout || got.HTTP.MaxUploadMB != 64 {
		t.Errorf("HTTP = %+v, want %+v", got.HTTP, original.HTTP)
	}
	if len(got.HTTP.AllowedOrigins) != 1 || got.HTTP.AllowedOrigins[0] != "https://media.example.com" {
		t.Errorf("HTTP.AllowedOrigins = %v", got.HTTP.AllowedOrigins)
	}
	if got.Versioning.MaxConflictRetries != 8 {
		t.Errorf("Versioning.MaxConflictRetries = %d, want 8", got.Versioning.MaxConflictRetries)
	}
}

func TestManager_Read_TOML(t *testing.T) {
	input := `
instance_id = "abc"
base_dir = "/srv/av"

[vault]
type = "filesystem"
name = "local"
fs_vault_root = "/srv/av/vault"

[database]
type = "memory"

[versioning]
max_conflict_retries = 3

[import]
ignore = ["*.xmp", "proxies/*"]
`
	got, err := (&Manager{}).Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got.Vault.FSVaultRoot != "/srv/av/vault" {
		t.Errorf("Vault.FSVaultRoot = %q", got.Vault.FSVaultRoot)
	}
	if got.Database.Type != "memory" {
		t.Errorf("Database.Type = %q, want memory", got.Database.Type)
	}
	if got.Versioning.MaxConflictRetries != 3 {
		t.Errorf("MaxConflictRetries = %d, want 3", got.Versioning.MaxConflictRetries)
	}
	if len(got.Import.Ignore) != 2 || got.Import.Ignore[1] != "proxies/*" {
		t.Errorf("Import.Ignore = %v", got.Import.Ignore)
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("inst-1", "/data/av")

	if cfg.InstanceID != "inst-1" {
		t.Errorf("InstanceID = %q, want %q", cfg.InstanceID, "inst-1")
	}
	if cfg.LogDir != "/data/av/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/av/log")
	}
	if cfg.Vault.Type != "filesystem" || cfg.Vault.FSVaultRoot != "/data/av/vault" {
		t.Errorf("Vault = %+v", cfg.Vault)
	}
	if cfg.Database.Type != "sqlite" || cfg.Database.DataDir != "/data/av/db" {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.Encryption.Type != "none" {
		t.Errorf("Encryption.Type = %q, want none", cfg.Encryption.Type)
	}
	if cfg.Encryption.PublicKeyPath != "/data/av/keys/av.pub" {
		t.Errorf("Encryption.PublicKeyPath = %q", cfg.Encryption.PublicKeyPath)
	}
	if cfg.HTTP.Addr != DefaultHTTPAddr {
		t.Errorf("HTTP.Addr = %q, want %q", cfg.HTTP.Addr, DefaultHTTPAddr)
	}
	if cfg.Versioning.MaxConflictRetries != DefaultMaxConflictRetries {
		t.Errorf("MaxConflictRetries = %d, want %d", cfg.Versioning.MaxConflictRetries, DefaultMaxConflictRetries)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on defaults: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "missing instance id", mutate: func(c *Config) { c.InstanceID = "" }, wantErr: true},
		{name: "negative retries", mutate: func(c *Config) { c.Versioning.MaxConflictRetries = -1 }, wantErr: true},
		{name: "bad read timeout", mutate: func(c *Config) { c.HTTP.ReadTimeout = "soon" }, wantErr: true},
		{name: "empty read timeout uses default", mutate: func(c *Config) { c.HTTP.ReadTimeout = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig("inst", "/data/av")
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestHTTPConfig_ReadTimeoutDuration(t *testing.T) {
	d, err := HTTPConfig{}.ReadTimeoutDuration()
	if err != nil || d != 30*time.Second {
		t.Errorf("ReadTimeoutDuration() default = %v, %v; want 30s", d, err)
	}
	d, err = HTTPConfig{ReadTimeout: "5s"}.ReadTimeoutDuration()
	if err != nil || d != 5*time.Second {
		t.Errorf("ReadTimeoutDuration() = %v, %v; want 5s", d, err)
	}
}

func TestHTTPConfig_MaxUploadBytes(t *testing.T) {
	if got := (HTTPConfig{}).MaxUploadBytes(); got != DefaultMaxUploadMB<<20 {
		t.Errorf("MaxUploadBytes() default = %d", got)
	}
	if got := (HTTPConfig{MaxUploadMB: 2}).MaxUploadBytes(); got != 2<<20 {
		t.Errorf("MaxUploadBytes() = %d, want %d", got, 2<<20)
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "nested", "av.toml")
		cfg := NewConfig("i1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("config file not created: %v", err)
		}
		if perm := info.Mode().Perm(); perm != 0600 {
			t.Errorf("config file mode = %o, want 600", perm)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "av.toml")
		cfg := NewConfig("i1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}
		if err := Init(path, cfg); err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "av.toml")
		cfg := NewConfig("read-test", dir)
		cfg.Database = DatabaseConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.InstanceID != "read-test" {
			t.Errorf("InstanceID = %q, want %q", got.InstanceID, "read-test")
		}
		if got.Database.Type != "memory" {
			t.Errorf("Database.Type = %q, want memory", got.Database.Type)
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		if _, err := ReadFromFile("/nonexistent/path/av.toml"); err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
