package localfs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPutOpenDelete(t *testing.T) {
	t.Parallel()

	p, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	n, err := p.Put(ctx, "generated/a.jpg", bytes.NewReader([]byte("hello")))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5 bytes written, got %d", n)
	}
	rc, err := p.Open(ctx, "generated/a.jpg")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "hello" {
		t.Fatalf("unexpected content %q", data)
	}
	if err := p.Delete(ctx, "generated/a.jpg"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := p.Delete(ctx, "generated/a.jpg"); err != nil {
		t.Fatalf("delete missing should be nil, got %v", err)
	}
}

func TestPutRejectsTraversal(t *testing.T) {
	t.Parallel()

	p, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, key := range []string{"../x.jpg", "generated/../../x.jpg", "/etc/passwd", ".."} {
		if _, err := p.Put(context.Background(), key, bytes.NewReader(nil)); !errors.Is(err, ErrPathTraversal) {
			t.Fatalf("key %q: expected ErrPathTraversal, got %v", key, err)
		}
	}
}

func TestSweepRemovesOnlyStaleFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	p, err := New(root)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	for _, name := range []string{"old.jpg", "new.jpg"} {
		if _, err := p.Put(ctx, "generated/"+name, bytes.NewReader([]byte("x"))); err != nil {
			t.Fatalf("put %s: %v", name, err)
		}
	}
	now := time.Now()
	old := now.Add(-48 * time.Hour)
	if err := os.Chtimes(filepath.Join(root, "generated", "old.jpg"), old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	removed, err := p.Sweep(ctx, "generated", 24*time.Hour, now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, err := os.Stat(filepath.Join(root, "generated", "new.jpg")); err != nil {
		t.Fatalf("fresh file should remain: %v", err)
	}
}

func TestSweepMissingDir(t *testing.T) {
	t.Parallel()

	p, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	removed, err := p.Sweep(context.Background(), "generated", time.Hour, time.Now())
	if err != nil || removed != 0 {
		t.Fatalf("expected 0, nil; got %d, %v", removed, err)
	}
}
