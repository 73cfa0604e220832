package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultHTTPAddr           = ":8080"
	DefaultReadTimeout        = "30s"
	DefaultMaxUploadMB        = 512
	DefaultMaxConflictRetries = 5
)

// Config represents the main configuration for av.
type Config struct {
	InstanceID string           `toml:"instance_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Vault      VaultConfig      `toml:"vault"`
	Database   DatabaseConfig   `toml:"database"`
	Encryption EncryptionConfig `toml:"encryption"`
	HTTP       HTTPConfig       `toml:"http"`
	Versioning VersioningConfig `toml:"versioning"`
	Import     ImportConfig     `toml:"import"`
}

// EncryptionConfig selects how payloads are sealed at rest.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "none" (default), "age" or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// VaultConfig represents configuration for the asset store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// DatabaseConfig represents configuration for the version record store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite", "memory" or "postgres"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
	DSN     string `toml:"dsn,omitempty"`      // only used for type=postgres
}

// HTTPConfig configures the HTTP API served by "av serve".
type HTTPConfig struct {
	Addr           string   `toml:"addr"`
	ReadTimeout    string   `toml:"read_timeout"` // Go duration, e.g. "30s"
	MaxUploadMB    int64    `toml:"max_upload_mb"`
	AllowedOrigins []string `toml:"allowed_origins,omitempty"` // CORS is off when empty
}

// MaxUploadBytes returns the upload limit in bytes, DefaultMaxUploadMB when unset.
func (h HTTPConfig) MaxUploadBytes() int64 {
	if h.MaxUploadMB <= 0 {
		return DefaultMaxUploadMB << 20
	}
	return h.MaxUploadMB << 20
}

// ReadTimeoutDuration parses ReadTimeout, falling back to DefaultReadTimeout when unset.
func (h HTTPConfig) ReadTimeoutDuration() (time.Duration, error) {
	raw := h.ReadTimeout
	if raw == "" {
		raw = DefaultReadTimeout
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid http.read_timeout %q: %w", h.ReadTimeout, err)
	}
	return d, nil
}

// VersioningConfig tunes version numbering.
type VersioningConfig struct {
	// MaxConflictRetries bounds how often a lost numbering race is retried.
	MaxConflictRetries int `toml:"max_conflict_retries"`
}

// ImportConfig controls "av asset import" on directories.
type ImportConfig struct {
	Ignore []string `toml:"ignore"` // glob patterns, same syntax as .avignore
}

// NewConfig creates a new Config with the provided values and defaults rooted at baseDir.
func NewConfig(instanceID, baseDir string) *Config {
	return &Config{
		InstanceID: instanceID,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
		Vault: VaultConfig{
			Type:        "filesystem",
			Name:        "local",
			FSVaultRoot: filepath.Join(baseDir, "vault"),
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "av.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "av.key"),
		},
		HTTP: HTTPConfig{
			Addr:        DefaultHTTPAddr,
			ReadTimeout: DefaultReadTimeout,
			MaxUploadMB: DefaultMaxUploadMB,
		},
		Versioning: VersioningConfig{
			MaxConflictRetries: DefaultMaxConflictRetries,
		},
		Import: ImportConfig{
			Ignore: []string{"*.xmp", "*.tmp"},
		},
	}
}

// Validate checks the fields every command depends on.
func (c *Config) Validate() error {
	if c.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if c.Versioning.MaxConflictRetries < 0 {
		return fmt.Errorf("versioning.max_conflict_retries must not be negative")
	}
	if _, err := c.HTTP.ReadTimeoutDuration(); err != nil {
		return err
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The file may hold S3 credentials.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
