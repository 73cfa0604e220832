package av

import "time"

// VersionRecord is one stored revision of a media asset.
// The original upload of an asset is the lineage root: its RootID equals its ID,
// ParentID is empty and VersionNumber is 1. Every later version points at the root
// through ParentID; versions of versions do not exist.
type VersionRecord struct {
	ID            string
	RootID        string
	ParentID      string // empty only for the lineage root
	VersionNumber int64
	BlobKey       string
	BlobLocation  string
	Encrypted     bool // blob at BlobKey is ciphertext
	SizeBytes     int64
	OwnerID       string
	Descriptor    Descriptor
	IsDeleted     bool
	DeletedAt     *time.Time
	CreatedAt     time.Time
}

// IsRoot reports whether the record is the original of its lineage.
func (r *VersionRecord) IsRoot() bool {
	return r.ParentID == "" && r.ID == r.RootID
}

// Descriptor carries the free-form attributes of a version. The Manager does not
// interpret them beyond copy and override.
type Descriptor struct {
	Filename        string            `json:"filename,omitempty"`
	MimeType        string            `json:"mime_type,omitempty"`
	Width           int               `json:"width,omitempty"`
	Height          int               `json:"height,omitempty"`
	DurationSeconds float64           `json:"duration_seconds,omitempty"`
	Tags            []string          `json:"tags,omitempty"`
	Description     string            `json:"description,omitempty"`
	Folder          string            `json:"folder,omitempty"`
	RestoredFrom    int64             `json:"restored_from,omitempty"`
	RestoredFromID  string            `json:"restored_from_id,omitempty"`
	Extra           map[string]string `json:"extra,omitempty"`
}

// DescriptorOverrides lists the descriptor fields a caller may replace when creating
// a new version. Nil fields keep the root's value.
type DescriptorOverrides struct {
	Filename        *string
	Width           *int
	Height          *int
	DurationSeconds *float64
	Tags            []string
	Description     *string
	Folder          *string
	Extra           map[string]string
}

// Payload is the binary content of a new version together with its content type.
type Payload struct {
	Data        []byte
	ContentType string
}

// Principal is the authenticated caller, supplied by upstream middleware.
type Principal struct {
	ID   string
	Role string
}

// RoleAdmin grants elevated privilege in the access gate.
const RoleAdmin = "admin"
