package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"av-go/internal/av"
	"av-go/internal/config"
)

var testUser = av.Principal{ID: "u1"}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig("test-instance", t.TempDir())
	cfg.Vault = config.VaultConfig{Type: "memory", Name: "test"}
	cfg.Database = config.DatabaseConfig{Type: "memory"}
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *AVApp {
	t.Helper()
	a, err := NewAVApp(context.Background(), cfg, "Test")
	if err != nil {
		t.Fatalf("NewAVApp() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func writeMedia(t *testing.T, dir, name, data string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("creating dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

func TestAVApp_VersionLifecycle(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	ctx := context.Background()
	dir := t.TempDir()

	root, err := a.ImportFile(ctx, testUser, writeMedia(t, dir, "beach.jpg", "original"), av.Descriptor{Tags: []string{"summer"}})
	if err != nil {
		t.Fatalf("ImportFile() error = %v", err)
	}
	if root.Descriptor.Filename != "beach.jpg" || root.Descriptor.MimeType != "image/jpeg" {
		t.Errorf("root descriptor = %+v", root.Descriptor)
	}

	v2, err := a.CreateVersionFromFile(ctx, testUser, root.ID, writeMedia(t, dir, "edit.jpg", "edited"), av.DescriptorOverrides{})
	if err != nil {
		t.Fatalf("CreateVersionFromFile() error = %v", err)
	}

	v3, err := a.RestoreVersion(ctx, testUser, root.ID, root.ID)
	if err != nil {
		t.Fatalf("RestoreVersion() error = %v", err)
	}
	if v3.VersionNumber != 3 {
		t.Errorf("restored VersionNumber = %d, want 3", v3.VersionNumber)
	}

	if err := a.DeleteVersion(ctx, testUser, root.ID, v2.ID); err != nil {
		t.Fatalf("DeleteVersion() error = %v", err)
	}

	list, err := a.ListVersions(ctx, testUser, root.ID)
	if err != nil {
		t.Fatalf("ListVersions() error = %v", err)
	}
	if len(list) != 2 || list[0].ID != v3.ID || list[1].ID != root.ID {
		t.Errorf("ListVersions() = %v", list)
	}

	var buf bytes.Buffer
	if err := a.WriteContent(ctx, testUser, root.ID, v3.ID, &buf); err != nil {
		t.Fatalf("WriteContent() error = %v", err)
	}
	if buf.String() != "original" {
		t.Errorf("WriteContent() = %q, want original", buf.String())
	}

	if _, err := a.GetVersion(ctx, av.Principal{ID: "u2"}, root.ID, v3.ID); !errors.Is(err, av.ErrAccessDenied) {
		t.Errorf("GetVersion() by stranger error = %v, want ErrAccessDenied", err)
	}
}

func TestAVApp_ImportFile_Invalid(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	dir := t.TempDir()

	_, err := a.ImportFile(context.Background(), testUser, filepath.Join(dir, "missing.jpg"), av.Descriptor{})
	if !errors.Is(err, av.ErrInvalidArgument) {
		t.Errorf("ImportFile(missing) error = %v, want ErrInvalidArgument", err)
	}

	_, err = a.ImportFile(context.Background(), testUser, writeMedia(t, dir, "empty.jpg", ""), av.Descriptor{})
	if !errors.Is(err, av.ErrInvalidArgument) {
		t.Errorf("ImportFile(empty) error = %v, want ErrInvalidArgument", err)
	}
}

func TestAVApp_ImportPath_Directory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Import.Ignore = []string{"*.xmp"}
	a := newTestApp(t, cfg)
	dir := t.TempDir()

	writeMedia(t, dir, "a.jpg", "a")
	writeMedia(t, dir, "a.xmp", "sidecar")
	writeMedia(t, dir, "b.png", "b")
	writeMedia(t, dir, "sub/c.gif", "c")

	flat, err := a.ImportPath(context.Background(), testUser, dir, false, av.Descriptor{Folder: "inbox"})
	if err != nil {
		t.Fatalf("ImportPath() error = %v", err)
	}
	var names []string
	for _, rec := range flat {
		names = append(names, rec.Descriptor.Filename)
		if rec.Descriptor.Folder != "inbox" {
			t.Errorf("%s Folder = %q, want inbox", rec.Descriptor.Filename, rec.Descriptor.Folder)
		}
	}
	if got := strings.Join(names, ","); got != "a.jpg,b.png" {
		t.Errorf("imported %s, want a.jpg,b.png", got)
	}

	deep, err := a.ImportPath(context.Background(), testUser, dir, true, av.Descriptor{})
	if err != nil {
		t.Fatalf("ImportPath(recursive) error = %v", err)
	}
	if len(deep) != 3 {
		t.Errorf("recursive import returned %d records, want 3", len(deep))
	}

	single, err := a.ImportPath(context.Background(), testUser, filepath.Join(dir, "b.png"), false, av.Descriptor{})
	if err != nil || len(single) != 1 {
		t.Errorf("ImportPath(file) = %v, %v", single, err)
	}
}

func TestAVApp_EncryptedContent(t *testing.T) {
	cfg := testConfig(t)
	cfg.Encryption.Type = "test"
	a := newTestApp(t, cfg)
	ctx := context.Background()

	if !a.EncryptionEnabled() {
		t.Fatal("EncryptionEnabled() = false")
	}

	root, err := a.ImportFile(ctx, testUser, writeMedia(t, t.TempDir(), "clip.mp4", "frames"), av.Descriptor{})
	if err != nil {
		t.Fatalf("ImportFile() error = %v", err)
	}
	if !root.Encrypted {
		t.Error("record not encrypted")
	}

	err = a.WriteContent(ctx, testUser, root.ID, root.ID, &bytes.Buffer{})
	if !errors.Is(err, ErrLocked) {
		t.Errorf("WriteContent() before Unlock error = %v, want ErrLocked", err)
	}

	if err := a.Unlock("anything"); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	var buf bytes.Buffer
	if err := a.WriteContent(ctx, testUser, root.ID, root.ID, &buf); err != nil {
		t.Fatalf("WriteContent() error = %v", err)
	}
	if buf.String() != "frames" {
		t.Errorf("WriteContent() = %q, want frames", buf.String())
	}
}

func TestAVApp_UnlockWithoutEncryption(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	if a.EncryptionEnabled() {
		t.Error("EncryptionEnabled() = true for type none")
	}
	if err := a.Unlock("x"); err != nil {
		t.Errorf("Unlock() error = %v, want nil", err)
	}
	if a.Decryption() != nil {
		t.Error("Decryption() non-nil without encryption")
	}
}

func TestAVApp_SQLiteRequiresMigration(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database = config.DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(cfg.BaseDir, "db")}
	ctx := context.Background()

	if _, err := NewAVApp(ctx, cfg, "Test"); err == nil || !strings.Contains(err.Error(), "av db migrate") {
		t.Fatalf("NewAVApp() on fresh sqlite error = %v, want migration hint", err)
	}

	if err := MigrateDatabase(ctx, cfg); err != nil {
		t.Fatalf("MigrateDatabase() error = %v", err)
	}
	if err := MigrateDatabase(ctx, cfg); err != nil {
		t.Fatalf("second MigrateDatabase() error = %v", err)
	}

	a := newTestApp(t, cfg)
	if err := a.Check(ctx); err != nil {
		t.Errorf("Check() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.Database.DataDir, "test-instance.db")); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

func TestNewAVApp_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.InstanceID = ""
	if _, err := NewAVApp(context.Background(), cfg, "Test"); err == nil {
		t.Error("NewAVApp() accepted a config without instance_id")
	}

	cfg = testConfig(t)
	cfg.Vault.Type = "tape"
	if _, err := NewAVApp(context.Background(), cfg, "Test"); err == nil {
		t.Error("NewAVApp() accepted an unknown vault type")
	}
}

func TestAVApp_CloseLogsStatus(t *testing.T) {
	cfg := testConfig(t)
	a, err := NewAVApp(context.Background(), cfg, "DeleteVersion")
	if err != nil {
		t.Fatalf("NewAVApp() error = %v", err)
	}

	a.Fail(errors.New("boom"))
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(cfg.LogDir, "av.log"))
	if err != nil {
		t.Fatalf("reading av.log: %v", err)
	}
	if !strings.Contains(string(data), "operation finished\toperation=DeleteVersion\tstatus=error") {
		t.Errorf("av.log = %q", data)
	}
}
