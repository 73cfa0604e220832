package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"av-go/internal/av"
	"av-go/internal/database/migrations"
)

// Store implements av.RecordStore over SQLite or PostgreSQL.
type Store struct {
	db      *sqlx.DB
	dialect migrations.Dialect
	path    string
}

// NewSQLiteStore opens a SQLite-backed store.
// path can be a file path or ":memory:" for an in-memory database.
func NewSQLiteStore(path string) (*Store, error) {
	db, err := OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, dialect: migrations.SQLite, path: path}, nil
}

// NewPostgresStore connects to PostgreSQL using a lib/pq DSN.
func NewPostgresStore(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &Store{db: db, dialect: migrations.Postgres}, nil
}

// NewStoreFromDB wraps an existing connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewStoreFromDB(db *sqlx.DB, dialect migrations.Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// OpenSQLite opens and configures a SQLite connection.
// Exported for tools and tests that need a properly configured SQLite connection.
// Settings travel in the DSN so that every pooled connection gets them.
func OpenSQLite(path string) (*sqlx.DB, error) {
	params := url.Values{}
	params.Set("_foreign_keys", "on")
	params.Set("_busy_timeout", "5000")
	if path != ":memory:" {
		params.Set("_journal_mode", "WAL")
	}

	db, err := sqlx.Open("sqlite3", path+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Each pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func (s *Store) InsertVersion(ctx context.Context, rec *av.VersionRecord) error {
	row, err := newVersionRow(rec)
	if err != nil {
		return fmt.Errorf("inserting version: %w", err)
	}

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO version_records (`+versionColumns+`)
		VALUES (:id, :root_id, :parent_id, :version_number, :blob_key, :blob_location,
			:encrypted, :size_bytes, :owner_id, :descriptor, :is_deleted, :deleted_at, :created_at)`,
		row)
	if err != nil {
		if isVersionConflict(err) {
			return fmt.Errorf("inserting version %d of %s: %w", rec.VersionNumber, rec.RootID, av.ErrVersionConflict)
		}
		return fmt.Errorf("inserting version: %w", err)
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*av.VersionRecord, error) {
	var row versionRow
	err := s.db.GetContext(ctx, &row,
		s.db.Rebind(`SELECT `+versionColumns+` FROM version_records WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding version by id: %w", err)
	}
	return row.record()
}

func (s *Store) FindLineage(ctx context.Context, rootID string) ([]*av.VersionRecord, error) {
	var rows []versionRow
	err := s.db.SelectContext(ctx, &rows,
		s.db.Rebind(`SELECT `+versionColumns+` FROM version_records
			WHERE id = ? OR parent_id = ?
			ORDER BY version_number ASC`),
		rootID, rootID)
	if err != nil {
		return nil, fmt.Errorf("finding lineage: %w", err)
	}

	result := make([]*av.VersionRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].record()
		if err != nil {
			return nil, fmt.Errorf("finding lineage: %w", err)
		}
		result = append(result, rec)
	}
	return result, nil
}

func (s *Store) MaxVersionNumber(ctx context.Context, rootID string) (int64, error) {
	var highest int64
	err := s.db.GetContext(ctx, &highest,
		s.db.Rebind(`SELECT COALESCE(MAX(version_number), 0) FROM version_records WHERE root_id = ?`),
		rootID)
	if err != nil {
		return 0, fmt.Errorf("reading max version number: %w", err)
	}
	return highest, nil
}

func (s *Store) SoftDelete(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		s.db.Rebind(`UPDATE version_records SET is_deleted = TRUE, deleted_at = ?
			WHERE id = ? AND is_deleted = FALSE`),
		at.UTC(), id)
	if err != nil {
		return fmt.Errorf("soft-deleting version: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("soft-deleting version: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("soft-deleting version %s: %w", id, av.ErrNotFound)
	}
	return nil
}

// Path returns the SQLite file path, or "" for PostgreSQL.
func (s *Store) Path() string {
	return s.path
}

// Dialect reports which SQL dialect the store speaks.
func (s *Store) Dialect() migrations.Dialect {
	return s.dialect
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *Store) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db.DB, s.dialect)
}

// MigrateUp applies pending migrations.
func (s *Store) MigrateUp() error {
	return migrations.MigrateUp(s.db.DB, s.dialect)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
