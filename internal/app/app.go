package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"av-go/internal/av"
	"av-go/internal/config"
	"av-go/internal/database"
	"av-go/internal/encryption"
	"av-go/internal/fs"
	"av-go/internal/vault"
)

// ErrLocked is returned when encrypted content is read before Unlock.
var ErrLocked = errors.New("private key is locked")

// AVApp is the application layer between the entry points (CLI and HTTP server)
// and the version manager. It constructs all dependencies from config, accepts raw
// file paths where the CLI needs them, and releases resources on Close.
type AVApp struct {
	cfg       *config.Config
	store     *database.Store
	vault     av.Vault
	encryptor av.Encryptor
	decrypt   av.DecryptionContext
	loader    *fs.Loader
	manager   *av.Manager
	logger    *slog.Logger
	op        *Operation
	logFile   *os.File
}

// NewAVApp creates a fully wired AVApp from the given config.
// operation names the command being run (e.g. "CreateVersion", "Serve").
// The caller must call Close when done.
func NewAVApp(ctx context.Context, cfg *config.Config, operation string) (*AVApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	level, err := LogLevel()
	if err != nil {
		return nil, err
	}

	v, err := vault.NewVaultFromConfig(ctx, cfg.Vault)
	if err != nil {
		return nil, fmt.Errorf("creating vault: %w", err)
	}

	store, err := database.NewStoreFromConfig(ctx, cfg.Database, cfg.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}

	if cfg.Database.Type == "memory" {
		// A memory database starts empty on every run.
		if err := store.MigrateUp(); err != nil {
			store.Close()
			return nil, fmt.Errorf("migrating memory database: %w", err)
		}
	} else if err := store.CheckMigrations(); err != nil {
		store.Close()
		return nil, fmt.Errorf("database schema out of date (run \"av db migrate\"): %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	op := NewOperation(operation, time.Now())
	logger, logFile, err := newLogger(cfg.LogDir, op.ID, level)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	opts := []av.Option{av.WithMaxConflictRetries(cfg.Versioning.MaxConflictRetries)}
	if enc != nil {
		opts = append(opts, av.WithEncryptor(enc))
	}
	mgr := av.NewManager(store, v, &slogAdapter{l: logger}, av.RealClock{}, av.UUIDGenerator{}, opts...)

	logger.Debug("operation started", "operation", operation, "vault", cfg.Vault.Type, "database", cfg.Database.Type)

	return &AVApp{
		cfg:       cfg,
		store:     store,
		vault:     v,
		encryptor: enc,
		loader:    fs.NewLoader(cfg.Import.Ignore),
		manager:   mgr,
		logger:    logger,
		op:        op,
		logFile:   logFile,
	}, nil
}

// MigrateDatabase brings the configured database to the latest schema version.
func MigrateDatabase(ctx context.Context, cfg *config.Config) error {
	store, err := database.NewStoreFromConfig(ctx, cfg.Database, cfg.InstanceID)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	defer store.Close()

	if err := store.MigrateUp(); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	return nil
}

// Manager exposes the version manager to the HTTP layer.
func (a *AVApp) Manager() *av.Manager {
	return a.manager
}

// Logger returns the operation's logger.
func (a *AVApp) Logger() *slog.Logger {
	return a.logger
}

// Config returns the config the app was built from.
func (a *AVApp) Config() *config.Config {
	return a.cfg
}

// Fail marks the running operation failed; Close logs the final status.
func (a *AVApp) Fail(err error) {
	a.op.Fail(err)
}

// EncryptionEnabled reports whether new payloads are sealed before storage.
func (a *AVApp) EncryptionEnabled() bool {
	return a.encryptor != nil
}

// Unlock opens the private key for this session so encrypted content can be read.
// It is a no-op when encryption is disabled.
func (a *AVApp) Unlock(passphrase string) error {
	if a.encryptor == nil {
		return nil
	}
	dec, err := a.encryptor.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking private key: %w", err)
	}
	a.decrypt = dec
	return nil
}

// Decryption returns the unlocked decryption context, or nil.
func (a *AVApp) Decryption() av.DecryptionContext {
	return a.decrypt
}

// Check verifies that the vault and the database are reachable.
func (a *AVApp) Check(ctx context.Context) error {
	if err := a.store.Ping(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := a.vault.ValidateSetup(ctx); err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	return nil
}

// ImportFile stores a local file as a new asset. The descriptor's filename
// defaults to the file's base name.
func (a *AVApp) ImportFile(ctx context.Context, principal av.Principal, rawPath string, desc av.Descriptor) (*av.VersionRecord, error) {
	payload, name, err := a.loader.Load(rawPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", av.ErrInvalidArgument, err)
	}
	if desc.Filename == "" {
		desc.Filename = name
	}
	return a.manager.ImportAsset(ctx, principal, payload, desc)
}

// ImportPath imports a single file, or every non-ignored file of a directory.
// On failure it returns the records imported so far together with the error.
func (a *AVApp) ImportPath(ctx context.Context, principal av.Principal, rawPath string, recursive bool, desc av.Descriptor) ([]*av.VersionRecord, error) {
	_, info, err := fs.Resolve(rawPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", av.ErrInvalidArgument, err)
	}
	if !info.IsDir() {
		rec, err := a.ImportFile(ctx, principal, rawPath, desc)
		if err != nil {
			return nil, err
		}
		return []*av.VersionRecord{rec}, nil
	}

	paths, err := a.loader.FindFiles(rawPath, recursive)
	if err != nil {
		return nil, err
	}

	var imported []*av.VersionRecord
	for _, p := range paths {
		d := desc.Clone()
		d.Filename = ""
		rec, err := a.ImportFile(ctx, principal, p, d)
		if err != nil {
			return imported, fmt.Errorf("importing %s: %w", p, err)
		}
		imported = append(imported, rec)
	}
	a.logger.Info("directory imported", "path", rawPath, "count", len(imported))
	return imported, nil
}

// ListVersions returns the visible versions of an asset, head first.
func (a *AVApp) ListVersions(ctx context.Context, principal av.Principal, rootID string) ([]*av.VersionRecord, error) {
	return a.manager.ListVersions(ctx, rootID, principal)
}

// GetVersion returns one visible version.
func (a *AVApp) GetVersion(ctx context.Context, principal av.Principal, rootID, versionID string) (*av.VersionRecord, error) {
	return a.manager.GetVersion(ctx, rootID, versionID, principal)
}

// CreateVersionFromFile appends the contents of a local file as a new version.
func (a *AVApp) CreateVersionFromFile(ctx context.Context, principal av.Principal, rootID, rawPath string, overrides av.DescriptorOverrides) (*av.VersionRecord, error) {
	payload, _, err := a.loader.Load(rawPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", av.ErrInvalidArgument, err)
	}
	return a.manager.CreateVersion(ctx, rootID, principal, payload, overrides)
}

// RestoreVersion copies a prior version forward as the new head.
func (a *AVApp) RestoreVersion(ctx context.Context, principal av.Principal, rootID, versionID string) (*av.VersionRecord, error) {
	return a.manager.RestoreVersion(ctx, rootID, versionID, principal)
}

// DeleteVersion soft-deletes a non-root version.
func (a *AVApp) DeleteVersion(ctx context.Context, principal av.Principal, rootID, versionID string) error {
	return a.manager.DeleteVersion(ctx, rootID, versionID, principal)
}

// WriteContent streams a version's payload to w, decrypting with the unlocked key.
func (a *AVApp) WriteContent(ctx context.Context, principal av.Principal, rootID, versionID string, w io.Writer) error {
	rec, err := a.manager.GetVersion(ctx, rootID, versionID, principal)
	if err != nil {
		return err
	}
	if rec.Encrypted && a.decrypt == nil {
		return fmt.Errorf("version %s is encrypted: %w", versionID, ErrLocked)
	}
	return a.manager.ReadContent(ctx, rootID, versionID, principal, w, a.decrypt)
}

// Close logs the operation's final status and releases the database and log file.
func (a *AVApp) Close() error {
	var firstErr error

	a.logger.Info("operation finished",
		"operation", a.op.Name,
		"status", a.op.Status,
		"duration", time.Since(a.op.StartedAt).Truncate(time.Millisecond),
	)

	if err := a.store.Close(); err != nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}
