package av

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
)

// DefaultMaxConflictRetries bounds how often a create or restore recomputes its
// version number after losing an insert race.
const DefaultMaxConflictRetries = 5

// Manager is the version-history engine. It appends versions to a lineage,
// restores old versions by copying them forward as a new head, soft-deletes
// versions and lists what is visible. History is never rewritten: the only
// mutation of an existing record is the soft-delete flag.
type Manager struct {
	records    RecordStore
	vault      Vault
	encryptor  Encryptor
	logger     Logger
	clock      Clock
	idgen      IDGenerator
	locks      *LineageLocker
	maxRetries int
}

// Option configures optional Manager behaviour.
type Option func(*Manager)

// WithEncryptor seals every new payload with enc before it is written to the vault.
func WithEncryptor(enc Encryptor) Option {
	return func(m *Manager) { m.encryptor = enc }
}

// WithMaxConflictRetries sets how many insert attempts a create or restore makes.
// Values below 1 are ignored.
func WithMaxConflictRetries(n int) Option {
	return func(m *Manager) {
		if n >= 1 {
			m.maxRetries = n
		}
	}
}

// WithLineageLocker shares a locker between managers of the same process.
func WithLineageLocker(l *LineageLocker) Option {
	return func(m *Manager) { m.locks = l }
}

// NewManager creates a Manager over the given record store and vault.
func NewManager(records RecordStore, vault Vault, logger Logger, clock Clock, idgen IDGenerator, opts ...Option) *Manager {
	m := &Manager{
		records:    records,
		vault:      vault,
		logger:     logger,
		clock:      clock,
		idgen:      idgen,
		locks:      NewLineageLocker(),
		maxRetries: DefaultMaxConflictRetries,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ImportAsset stores the original upload of a new asset and returns its root record
// (version 1, owned by the principal).
func (m *Manager) ImportAsset(ctx context.Context, principal Principal, payload Payload, desc Descriptor) (*VersionRecord, error) {
	if principal.ID == "" {
		return nil, fmt.Errorf("importing asset: %w: anonymous principal", ErrAccessDenied)
	}
	if err := validatePayload(payload); err != nil {
		return nil, fmt.Errorf("importing asset: %w", err)
	}

	id := m.idgen.New()
	desc = desc.Clone()
	desc.MimeType = payload.ContentType
	desc.RestoredFrom = 0
	desc.RestoredFromID = ""

	key := NewAssetKey(id, desc.Filename)
	size, encrypted, err := m.putBlob(ctx, key, payload.Data)
	if err != nil {
		return nil, fmt.Errorf("importing asset: %w", err)
	}

	rec := &VersionRecord{
		ID:            id,
		RootID:        id,
		VersionNumber: 1,
		BlobKey:       key,
		BlobLocation:  m.vault.Location(key),
		Encrypted:     encrypted,
		SizeBytes:     size,
		OwnerID:       principal.ID,
		Descriptor:    desc,
		CreatedAt:     m.clock.Now(),
	}
	if err := m.records.InsertVersion(ctx, rec); err != nil {
		m.logger.Warn("blob orphaned", "key", key, "error", err)
		return nil, unavailable("recording asset", err)
	}

	m.logger.Info("asset imported", "root_id", rec.ID, "owner_id", rec.OwnerID, "key", key)
	return rec, nil
}

// ListVersions returns the visible records of a lineage, highest version first,
// ties broken by newest creation time.
func (m *Manager) ListVersions(ctx context.Context, rootID string, principal Principal) ([]*VersionRecord, error) {
	root, err := m.loadRoot(ctx, rootID)
	if err != nil {
		return nil, err
	}
	if err := authorize(principal, root); err != nil {
		return nil, err
	}

	visible, err := m.visibleLineage(ctx, rootID)
	if err != nil {
		return nil, err
	}

	m.logger.Debug("versions listed", "root_id", rootID, "count", len(visible))
	return visible, nil
}

// Head returns the current head of a lineage: its highest visible version.
func (m *Manager) Head(ctx context.Context, rootID string, principal Principal) (*VersionRecord, error) {
	versions, err := m.ListVersions(ctx, rootID, principal)
	if err != nil {
		return nil, err
	}
	// The root itself is visible whenever ListVersions succeeds.
	return versions[0], nil
}

// GetVersion looks up one visible record of a lineage.
func (m *Manager) GetVersion(ctx context.Context, rootID, versionID string, principal Principal) (*VersionRecord, error) {
	root, err := m.loadRoot(ctx, rootID)
	if err != nil {
		return nil, err
	}
	if err := authorize(principal, root); err != nil {
		return nil, err
	}
	return m.loadMember(ctx, root, versionID)
}

// CreateVersion appends a new version holding payload. The descriptor starts from
// the root's and is overridden by overrides; the mime type follows the payload.
func (m *Manager) CreateVersion(ctx context.Context, rootID string, principal Principal, payload Payload, overrides DescriptorOverrides) (*VersionRecord, error) {
	root, err := m.loadRoot(ctx, rootID)
	if err != nil {
		return nil, err
	}
	if err := authorize(principal, root); err != nil {
		return nil, err
	}
	if err := validatePayload(payload); err != nil {
		return nil, fmt.Errorf("creating version: %w", err)
	}

	desc := root.Descriptor.Apply(overrides)
	desc.MimeType = payload.ContentType
	desc.RestoredFrom = 0
	desc.RestoredFromID = ""

	rec, err := m.appendVersion(ctx, root, func(n int64) (*VersionRecord, error) {
		id := m.idgen.New()
		key := DeriveVersionedKey(root.BlobKey, n, id)
		size, encrypted, err := m.putBlob(ctx, key, payload.Data)
		if err != nil {
			return nil, err
		}
		return &VersionRecord{
			ID:            id,
			RootID:        root.ID,
			ParentID:      root.ID,
			VersionNumber: n,
			BlobKey:       key,
			BlobLocation:  m.vault.Location(key),
			Encrypted:     encrypted,
			SizeBytes:     size,
			OwnerID:       root.OwnerID,
			Descriptor:    desc.Clone(),
			CreatedAt:     m.clock.Now(),
		}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("creating version: %w", err)
	}

	m.logger.Info("version created", "root_id", root.ID, "version_id", rec.ID, "version", rec.VersionNumber)
	return rec, nil
}

// RestoreVersion makes a prior version the new head by appending a record that
// reuses the source's blob. Any visible version may be restored, the root and the
// current head included; each restore appends exactly one record.
func (m *Manager) RestoreVersion(ctx context.Context, rootID, versionID string, principal Principal) (*VersionRecord, error) {
	root, err := m.loadRoot(ctx, rootID)
	if err != nil {
		return nil, err
	}
	if err := authorize(principal, root); err != nil {
		return nil, err
	}
	source, err := m.loadMember(ctx, root, versionID)
	if err != nil {
		return nil, err
	}

	rec, err := m.appendVersion(ctx, root, func(n int64) (*VersionRecord, error) {
		// The source may have been deleted while we waited for the lock.
		current, err := m.loadMember(ctx, root, source.ID)
		if err != nil {
			return nil, err
		}
		return &VersionRecord{
			ID:            m.idgen.New(),
			RootID:        root.ID,
			ParentID:      root.ID,
			VersionNumber: n,
			BlobKey:       current.BlobKey,
			BlobLocation:  current.BlobLocation,
			Encrypted:     current.Encrypted,
			SizeBytes:     current.SizeBytes,
			OwnerID:       root.OwnerID,
			Descriptor:    restoredDescriptor(current.Descriptor, root.Descriptor, current.VersionNumber, current.ID),
			CreatedAt:     m.clock.Now(),
		}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("restoring version %s: %w", versionID, err)
	}

	m.logger.Info("version restored", "root_id", root.ID, "from_version", source.VersionNumber, "version", rec.VersionNumber)
	return rec, nil
}

// DeleteVersion soft-deletes one non-root version. The blob is left in the vault:
// restored versions may still reference it.
func (m *Manager) DeleteVersion(ctx context.Context, rootID, versionID string, principal Principal) error {
	if versionID == rootID {
		return fmt.Errorf("deleting version: %w: the lineage root cannot be deleted as a version", ErrInvalidArgument)
	}

	root, err := m.loadRoot(ctx, rootID)
	if err != nil {
		return err
	}
	if err := authorize(principal, root); err != nil {
		return err
	}

	unlock := m.locks.Lock(root.ID)
	defer unlock()

	target, err := m.loadMember(ctx, root, versionID)
	if err != nil {
		return err
	}

	if err := m.records.SoftDelete(ctx, target.ID, m.clock.Now()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("version %s: %w", versionID, ErrNotFound)
		}
		return unavailable("deleting version", err)
	}

	m.logger.Info("version deleted", "root_id", root.ID, "version_id", target.ID, "version", target.VersionNumber)
	return nil
}

// ReadContent streams the payload of a visible version to w. Encrypted payloads
// are decrypted with decrypt, which must then be non-nil.
func (m *Manager) ReadContent(ctx context.Context, rootID, versionID string, principal Principal, w io.Writer, decrypt DecryptionContext) error {
	rec, err := m.GetVersion(ctx, rootID, versionID, principal)
	if err != nil {
		return err
	}

	if !rec.Encrypted {
		if err := m.vault.GetContent(ctx, rec.BlobKey, w); err != nil {
			return unavailable("reading content", err)
		}
		return nil
	}

	if decrypt == nil {
		return fmt.Errorf("reading content: %w: content is encrypted and no key was unlocked", ErrInvalidArgument)
	}

	pr, pw := io.Pipe()
	vaultErrCh := make(chan error, 1)
	go func() {
		err := m.vault.GetContent(ctx, rec.BlobKey, pw)
		pw.CloseWithError(err)
		vaultErrCh <- err
	}()

	decryptErr := decrypt.Decrypt(pr, w)
	pr.CloseWithError(decryptErr)
	vaultErr := <-vaultErrCh

	// A vault failure reaches the decryptor as a read error on the pipe.
	if vaultErr != nil && (decryptErr == nil || errors.Is(decryptErr, vaultErr)) {
		return unavailable("reading content", vaultErr)
	}
	if decryptErr != nil {
		return fmt.Errorf("decrypting content: %w", decryptErr)
	}
	return nil
}

// appendVersion runs the read-max, build, insert sequence under the lineage lock,
// retrying with a fresh maximum when another writer took the number first.
// build receives the number to use and may write the blob.
func (m *Manager) appendVersion(ctx context.Context, root *VersionRecord, build func(n int64) (*VersionRecord, error)) (*VersionRecord, error) {
	unlock := m.locks.Lock(root.ID)
	defer unlock()

	for attempt := 1; attempt <= m.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, unavailable("appending version", err)
		}

		highest, err := m.records.MaxVersionNumber(ctx, root.ID)
		if err != nil {
			return nil, unavailable("reading max version", err)
		}

		rec, err := build(highest + 1)
		if err != nil {
			return nil, err
		}

		err = m.records.InsertVersion(ctx, rec)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, unavailable("inserting version", err)
		}
		m.logger.Warn("version number taken, retrying",
			"root_id", root.ID, "version", rec.VersionNumber, "attempt", attempt)
	}

	return nil, fmt.Errorf("%w: after %d attempts", ErrConflictRetryExhausted, m.maxRetries)
}

// loadRoot resolves rootID to a visible lineage root.
func (m *Manager) loadRoot(ctx context.Context, rootID string) (*VersionRecord, error) {
	if rootID == "" {
		return nil, fmt.Errorf("asset id is required: %w", ErrInvalidArgument)
	}
	rec, err := m.records.FindByID(ctx, rootID)
	if err != nil {
		return nil, unavailable("finding asset", err)
	}
	if rec == nil || rec.IsDeleted || !rec.IsRoot() {
		return nil, fmt.Errorf("asset %s: %w", rootID, ErrNotFound)
	}
	return rec, nil
}

// loadMember resolves versionID to a visible record of root's lineage.
func (m *Manager) loadMember(ctx context.Context, root *VersionRecord, versionID string) (*VersionRecord, error) {
	rec, err := m.records.FindByID(ctx, versionID)
	if err != nil {
		return nil, unavailable("finding version", err)
	}
	if rec == nil || rec.IsDeleted || rec.RootID != root.ID {
		return nil, fmt.Errorf("version %s: %w", versionID, ErrNotFound)
	}
	return rec, nil
}

// visibleLineage returns the non-deleted records of a lineage, head first.
func (m *Manager) visibleLineage(ctx context.Context, rootID string) ([]*VersionRecord, error) {
	lineage, err := m.records.FindLineage(ctx, rootID)
	if err != nil {
		return nil, unavailable("listing versions", err)
	}

	visible := make([]*VersionRecord, 0, len(lineage))
	for _, rec := range lineage {
		if !rec.IsDeleted {
			visible = append(visible, rec)
		}
	}

	slices.SortStableFunc(visible, func(a, b *VersionRecord) int {
		if c := cmp.Compare(b.VersionNumber, a.VersionNumber); c != 0 {
			return c
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return visible, nil
}

// putBlob writes data under key, sealing it first when an encryptor is set.
// It returns the number of bytes stored.
func (m *Manager) putBlob(ctx context.Context, key string, data []byte) (int64, bool, error) {
	if m.encryptor == nil {
		if err := m.vault.PutContent(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
			return 0, false, unavailable("storing content", err)
		}
		return int64(len(data)), false, nil
	}

	var sealed bytes.Buffer
	if err := m.encryptor.Encrypt(bytes.NewReader(data), &sealed); err != nil {
		return 0, false, fmt.Errorf("encrypting content: %w", err)
	}
	size := int64(sealed.Len())
	if err := m.vault.PutContent(ctx, key, &sealed, size); err != nil {
		return 0, false, unavailable("storing content", err)
	}
	return size, true, nil
}

func authorize(p Principal, root *VersionRecord) error {
	if !CanAccess(p, root.OwnerID) {
		return fmt.Errorf("asset %s: %w", root.ID, ErrAccessDenied)
	}
	return nil
}

func validatePayload(p Payload) error {
	if len(p.Data) == 0 {
		return fmt.Errorf("%w: payload is empty", ErrInvalidArgument)
	}
	if p.ContentType == "" {
		return fmt.Errorf("%w: payload has no content type", ErrInvalidArgument)
	}
	return nil
}

func unavailable(action string, err error) error {
	return fmt.Errorf("%s: %w: %w", action, ErrStoreUnavailable, err)
}
