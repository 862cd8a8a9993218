package vfs

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cortex-mind/cortex/internal/cortexerr"
	"github.com/cortex-mind/cortex/internal/domain"
	"github.com/cortex-mind/cortex/internal/storage"
)

func setupTestTree(t *testing.T) *Tree {
	t.Helper()
	dir := t.TempDir()
	pool, err := storage.Open(storage.Options{
		Namespace:    "cortex",
		DatabaseName: "test",
		Path:         filepath.Join(dir, "vfs.db"),
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return New(pool)
}

func TestWriteReadBase(t *testing.T) {
	tree := setupTestTree(t)
	ctx := context.Background()

	node, err := tree.WriteBase(ctx, "ws1", "src/main.go", []byte("package main"), 0644)
	if err != nil {
		t.Fatalf("WriteBase failed: %v", err)
	}
	if node.Size != int64(len("package main")) {
		t.Errorf("unexpected size: %d", node.Size)
	}

	_, content, err := tree.ReadBase(ctx, "ws1", "src/main.go")
	if err != nil {
		t.Fatalf("ReadBase failed: %v", err)
	}
	if string(content) != "package main" {
		t.Errorf("unexpected content: %s", content)
	}
}

func TestOverlayShadowsBase(t *testing.T) {
	tree := setupTestTree(t)
	ctx := context.Background()

	if _, err := tree.WriteBase(ctx, "ws1", "a.txt", []byte("base"), 0644); err != nil {
		t.Fatal(err)
	}

	view := tree.Open("ws1", "sess1")
	if _, _, err := view.Read(ctx, "a.txt"); err != nil {
		t.Fatalf("expected fallthrough to base, got %v", err)
	}

	entry, err := view.Write(ctx, "a.txt", []byte("modified"), 0644)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if entry.Op != domain.OverlayModified {
		t.Errorf("expected Modified op for existing base path, got %s", entry.Op)
	}

	_, content, err := view.Read(ctx, "a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "modified" {
		t.Errorf("overlay did not shadow base: got %s", content)
	}

	// base itself is untouched
	_, baseContent, err := tree.ReadBase(ctx, "ws1", "a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if string(baseContent) != "base" {
		t.Errorf("base tree mutated by overlay write: got %s", baseContent)
	}
}

func TestOverlayAddedForNewPath(t *testing.T) {
	tree := setupTestTree(t)
	ctx := context.Background()
	view := tree.Open("ws1", "sess1")

	entry, err := view.Write(ctx, "new.txt", []byte("hi"), 0644)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Op != domain.OverlayAdded {
		t.Errorf("expected Added op for new path, got %s", entry.Op)
	}
}

func TestOverlayDelete(t *testing.T) {
	tree := setupTestTree(t)
	ctx := context.Background()

	if _, err := tree.WriteBase(ctx, "ws1", "a.txt", []byte("base"), 0644); err != nil {
		t.Fatal(err)
	}
	view := tree.Open("ws1", "sess1")
	if err := view.Delete(ctx, "a.txt"); err != nil {
		t.Fatal(err)
	}

	if _, _, err := view.Read(ctx, "a.txt"); !cortexerr.Is(err, cortexerr.CodeNotFound) {
		t.Errorf("expected NotFound after overlay delete, got %v", err)
	}

	// base still has it
	if _, _, err := tree.ReadBase(ctx, "ws1", "a.txt"); err != nil {
		t.Errorf("base should be untouched by overlay delete, got %v", err)
	}
}

func TestSnapshotIsolatedFromLiveBase(t *testing.T) {
	tree := setupTestTree(t)
	ctx := context.Background()

	if _, err := tree.WriteBase(ctx, "ws1", "a.txt", []byte("v1"), 0644); err != nil {
		t.Fatal(err)
	}

	view := tree.Open("ws1", "sess1")
	if err := view.Snapshot(ctx); err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	// main workspace moves on after the session snapshot was taken
	if _, err := tree.WriteBase(ctx, "ws1", "a.txt", []byte("v2"), 0644); err != nil {
		t.Fatal(err)
	}

	_, snapContent, err := view.ReadSnapshot(ctx, "a.txt")
	if err != nil {
		t.Fatalf("ReadSnapshot failed: %v", err)
	}
	if string(snapContent) != "v1" {
		t.Errorf("snapshot should preserve base-at-creation content, got %s", snapContent)
	}

	_, liveContent, err := tree.ReadBase(ctx, "ws1", "a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if string(liveContent) != "v2" {
		t.Errorf("live base should reflect later write, got %s", liveContent)
	}
}

func TestListMergesBaseAndOverlay(t *testing.T) {
	tree := setupTestTree(t)
	ctx := context.Background()

	if _, err := tree.WriteBase(ctx, "ws1", "keep.txt", []byte("k"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := tree.WriteBase(ctx, "ws1", "remove.txt", []byte("r"), 0644); err != nil {
		t.Fatal(err)
	}

	view := tree.Open("ws1", "sess1")
	if err := view.Delete(ctx, "remove.txt"); err != nil {
		t.Fatal(err)
	}
	if _, err := view.Write(ctx, "added.txt", []byte("a"), 0644); err != nil {
		t.Fatal(err)
	}

	nodes, err := view.List(ctx, "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	seen := map[string]bool{}
	for _, n := range nodes {
		seen[n.Path] = true
	}
	if !seen["keep.txt"] {
		t.Error("expected keep.txt in merged listing")
	}
	if seen["remove.txt"] {
		t.Error("remove.txt should be hidden by overlay deletion")
	}
	if !seen["added.txt"] {
		t.Error("expected added.txt in merged listing")
	}
}

func TestDiscardOverlay(t *testing.T) {
	tree := setupTestTree(t)
	ctx := context.Background()
	view := tree.Open("ws1", "sess1")

	if _, err := view.Write(ctx, "a.txt", []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := view.DiscardOverlay(ctx); err != nil {
		t.Fatalf("DiscardOverlay failed: %v", err)
	}

	entries, err := view.ListOverlay(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty overlay after discard, got %d entries", len(entries))
	}
}
