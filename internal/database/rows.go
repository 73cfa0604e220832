package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"av-go/internal/av"
)

const versionColumns = `id, root_id, parent_id, version_number, blob_key, blob_location,
	encrypted, size_bytes, owner_id, descriptor, is_deleted, deleted_at, created_at`

// versionRow is the on-disk shape of a version record.
type versionRow struct {
	ID            string         `db:"id"`
	RootID        string         `db:"root_id"`
	ParentID      sql.NullString `db:"parent_id"`
	VersionNumber int64          `db:"version_number"`
	BlobKey       string         `db:"blob_key"`
	BlobLocation  string         `db:"blob_location"`
	Encrypted     bool           `db:"encrypted"`
	SizeBytes     int64          `db:"size_bytes"`
	OwnerID       string         `db:"owner_id"`
	Descriptor    string         `db:"descriptor"`
	IsDeleted     bool           `db:"is_deleted"`
	DeletedAt     sql.NullTime   `db:"deleted_at"`
	CreatedAt     time.Time      `db:"created_at"`
}

func newVersionRow(rec *av.VersionRecord) (*versionRow, error) {
	if err := validateShape(rec.ID, rec.RootID, rec.ParentID, rec.VersionNumber, rec.OwnerID); err != nil {
		return nil, err
	}
	desc, err := json.Marshal(rec.Descriptor)
	if err != nil {
		return nil, fmt.Errorf("encoding descriptor: %w", err)
	}
	row := &versionRow{
		ID:            rec.ID,
		RootID:        rec.RootID,
		ParentID:      sql.NullString{String: rec.ParentID, Valid: rec.ParentID != ""},
		VersionNumber: rec.VersionNumber,
		BlobKey:       rec.BlobKey,
		BlobLocation:  rec.BlobLocation,
		Encrypted:     rec.Encrypted,
		SizeBytes:     rec.SizeBytes,
		OwnerID:       rec.OwnerID,
		Descriptor:    string(desc),
		IsDeleted:     rec.IsDeleted,
		CreatedAt:     rec.CreatedAt.UTC(),
	}
	if rec.DeletedAt != nil {
		row.DeletedAt = sql.NullTime{Time: rec.DeletedAt.UTC(), Valid: true}
	}
	return row, nil
}

// record converts a stored row back into a VersionRecord, rejecting rows that
// break the lineage shape.
func (r *versionRow) record() (*av.VersionRecord, error) {
	if err := validateShape(r.ID, r.RootID, r.ParentID.String, r.VersionNumber, r.OwnerID); err != nil {
		return nil, fmt.Errorf("row %s: %w", r.ID, err)
	}
	rec := &av.VersionRecord{
		ID:            r.ID,
		RootID:        r.RootID,
		ParentID:      r.ParentID.String,
		VersionNumber: r.VersionNumber,
		BlobKey:       r.BlobKey,
		BlobLocation:  r.BlobLocation,
		Encrypted:     r.Encrypted,
		SizeBytes:     r.SizeBytes,
		OwnerID:       r.OwnerID,
		IsDeleted:     r.IsDeleted,
		CreatedAt:     r.CreatedAt.UTC(),
	}
	if r.Descriptor != "" {
		if err := json.Unmarshal([]byte(r.Descriptor), &rec.Descriptor); err != nil {
			return nil, fmt.Errorf("row %s: decoding descriptor: %w", r.ID, err)
		}
	}
	if r.DeletedAt.Valid {
		t := r.DeletedAt.Time.UTC()
		rec.DeletedAt = &t
	}
	return rec, nil
}

func validateShape(id, rootID, parentID string, versionNumber int64, ownerID string) error {
	switch {
	case id == "" || rootID == "":
		return fmt.Errorf("record id and root id are required")
	case ownerID == "":
		return fmt.Errorf("record owner is required")
	case versionNumber < 1:
		return fmt.Errorf("version number must be positive, got %d", versionNumber)
	case parentID == "" && id != rootID:
		return fmt.Errorf("record without parent must be its own root")
	case parentID != "" && parentID != rootID:
		return fmt.Errorf("parent %s is not the lineage root %s", parentID, rootID)
	case parentID == "" && versionNumber != 1:
		return fmt.Errorf("lineage root must be version 1, got %d", versionNumber)
	}
	return nil
}
