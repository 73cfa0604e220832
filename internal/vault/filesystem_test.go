package vault

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestFSVault(t *testing.T) *FileSystemVault {
	t.Helper()
	v, err := NewFileSystemVault("test", t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}
	return v
}

func TestNewFileSystemVault(t *testing.T) {
	t.Run("creates directory structure", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "vault")

		v, err := NewFileSystemVault("test", root)
		if err != nil {
			t.Fatalf("NewFileSystemVault() error = %v", err)
		}

		if _, err := os.Stat(filepath.Join(root, "content")); err != nil {
			t.Errorf("content directory not created: %v", err)
		}
		if v.name != "test" {
			t.Errorf("name = %q, want %q", v.name, "test")
		}
	})

	t.Run("works with existing directory", func(t *testing.T) {
		if _, err := NewFileSystemVault("test", t.TempDir()); err != nil {
			t.Fatalf("NewFileSystemVault() error = %v", err)
		}
	})
}

func TestFileSystemVault_PutContent(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		data    string
		size    int64
		wantErr bool
	}{
		{name: "store content successfully", key: "assets/a1/photo.jpg", data: "hello world", size: 11},
		{name: "size mismatch", key: "assets/a1/bad.jpg", data: "hello", size: 10, wantErr: true},
		{name: "empty content", key: "assets/a1/empty", data: "", size: 0},
		{name: "path traversal", key: "../outside", data: "x", size: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestFSVault(t)

			err := v.PutContent(context.Background(), tt.key, strings.NewReader(tt.data), tt.size)
			if (err != nil) != tt.wantErr {
				t.Fatalf("PutContent() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			content, err := os.ReadFile(filepath.Join(v.contentDir, filepath.FromSlash(tt.key)))
			if err != nil {
				t.Fatalf("failed to read stored content: %v", err)
			}
			if string(content) != tt.data {
				t.Errorf("content = %q, want %q", string(content), tt.data)
			}
		})
	}
}

func TestFileSystemVault_PutContent_Replaces(t *testing.T) {
	v := newTestFSVault(t)
	ctx := context.Background()
	key := "assets/a1/photo.jpg"

	if err := v.PutContent(ctx, key, strings.NewReader("version 1"), 9); err != nil {
		t.Fatalf("first PutContent() error = %v", err)
	}
	if err := v.PutContent(ctx, key, strings.NewReader("version 2"), 9); err != nil {
		t.Fatalf("second PutContent() error = %v", err)
	}

	var buf bytes.Buffer
	if err := v.GetContent(ctx, key, &buf); err != nil {
		t.Fatalf("GetContent() error = %v", err)
	}
	if buf.String() != "version 2" {
		t.Errorf("content = %q, want %q", buf.String(), "version 2")
	}
}

func TestFileSystemVault_GetContent(t *testing.T) {
	v := newTestFSVault(t)
	ctx := context.Background()

	t.Run("retrieve existing content", func(t *testing.T) {
		key := "assets/a1/photo.v2.n1.jpg"
		data := "hello world"

		if err := v.PutContent(ctx, key, strings.NewReader(data), int64(len(data))); err != nil {
			t.Fatalf("PutContent() error = %v", err)
		}

		var buf bytes.Buffer
		if err := v.GetContent(ctx, key, &buf); err != nil {
			t.Fatalf("GetContent() error = %v", err)
		}
		if buf.String() != data {
			t.Errorf("content = %q, want %q", buf.String(), data)
		}
	})

	t.Run("content not found", func(t *testing.T) {
		var buf bytes.Buffer
		err := v.GetContent(ctx, "assets/none/x", &buf)
		if !errors.Is(err, ErrContentNotFound) {
			t.Errorf("GetContent() error = %v, want ErrContentNotFound", err)
		}
	})

	t.Run("invalid key", func(t *testing.T) {
		if err := v.GetContent(ctx, "/etc/passwd", &bytes.Buffer{}); err == nil {
			t.Error("GetContent() expected error for absolute key")
		}
	})
}

func TestFileSystemVault_Location(t *testing.T) {
	v := newTestFSVault(t)

	got := v.Location("assets/a1/photo.jpg")
	if !strings.HasPrefix(got, "file://") || !strings.HasSuffix(got, "/content/assets/a1/photo.jpg") {
		t.Errorf("Location() = %q", got)
	}
}

func TestFileSystemVault_ValidateSetup(t *testing.T) {
	t.Run("valid setup", func(t *testing.T) {
		v := newTestFSVault(t)
		if err := v.ValidateSetup(context.Background()); err != nil {
			t.Errorf("ValidateSetup() error = %v", err)
		}
	})

	t.Run("missing root directory", func(t *testing.T) {
		v := &FileSystemVault{
			name:       "test",
			root:       "/nonexistent/path",
			contentDir: "/nonexistent/path/content",
		}
		if err := v.ValidateSetup(context.Background()); err == nil {
			t.Error("ValidateSetup() expected error for missing root")
		}
	})
}

func TestFileSystemVault_AtomicWrite(t *testing.T) {
	v := newTestFSVault(t)
	ctx := context.Background()

	if err := v.PutContent(ctx, "assets/a1/ok", strings.NewReader("hello world"), 11); err != nil {
		t.Fatalf("PutContent() error = %v", err)
	}
	if err := v.PutContent(ctx, "assets/a1/bad", strings.NewReader("short"), 99); err == nil {
		t.Fatal("PutContent() expected size mismatch error")
	}

	dir := filepath.Join(v.contentDir, "assets", "a1")
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to read content dir: %v", err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", entry.Name())
		}
		if entry.Name() == "bad" {
			t.Error("failed write left a partial file at its key")
		}
	}
}

func TestFileSystemVault_CancelledContext(t *testing.T) {
	v := newTestFSVault(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := v.PutContent(ctx, "assets/a1/x", strings.NewReader("data"), 4)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("PutContent() error = %v, want context.Canceled", err)
	}
}
