package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFSStore_PutOpenDelete(t *testing.T) {
	ctx := context.Background()
	s, err := NewFSStore(t.TempDir(), "https://blobs.example.com/")
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	s.now = func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC) }

	key, err := s.Put(ctx, "u1", "c1", "image/jpeg", []byte("jpeg-bytes"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if key != "u1/2024/05/06/c1.jpg" {
		t.Errorf("key = %q", key)
	}
	if got := s.URL(key); got != "https://blobs.example.com/u1/2024/05/06/c1.jpg" {
		t.Errorf("URL = %q", got)
	}

	rc, err := s.Open(ctx, key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	b, _ := io.ReadAll(rc)
	rc.Close()
	if string(b) != "jpeg-bytes" {
		t.Errorf("content = %q", b)
	}

	// No temp files left behind.
	entries, _ := os.ReadDir(filepath.Join(s.root, "u1", "2024", "05", "06"))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".upload-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}

	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, key); err != nil {
		t.Errorf("second Delete should be a no-op, got %v", err)
	}
	if _, err := s.Open(ctx, key); err != ErrNotFound {
		t.Errorf("Open after delete = %v, want ErrNotFound", err)
	}
}

func TestFSStore_RejectsUnsafeKeys(t *testing.T) {
	ctx := context.Background()
	s, err := NewFSStore(t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	if _, err := s.Put(ctx, "../evil", "c1", "image/png", []byte("x")); err == nil {
		t.Error("Put accepted a traversal owner id")
	}
	if _, err := s.Open(ctx, "../../etc/passwd"); err == nil {
		t.Error("Open accepted a traversal key")
	}
	if !strings.HasPrefix(s.URL("u1/x.png"), "file://") {
		t.Errorf("URL without base = %q, want file://", s.URL("u1/x.png"))
	}
}

func TestFSStore_CanceledContext(t *testing.T) {
	s, _ := NewFSStore(t.TempDir(), "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Put(ctx, "u1", "c1", "image/png", []byte("x")); err == nil {
		t.Error("Put should honor a canceled context")
	}
}
