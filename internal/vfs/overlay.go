package vfs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cortex-mind/cortex/internal/cortexerr"
	"github.com/cortex-mind/cortex/internal/domain"
)

func overlayKey(sessionID, path string) string {
	return "overlay:" + sessionID + ":" + path
}

func overlayDirPrefix(sessionID string) string {
	return "overlay:" + sessionID + ":"
}

func snapshotKey(sessionID, path string) string {
	return "vfs:snapshot:" + sessionID + ":" + path
}

func snapshotDirPrefix(sessionID string) string {
	return "vfs:snapshot:" + sessionID + ":"
}

// overlayRecord is the persisted shape of domain.OverlayEntry; content lives
// under a content-addressed blob key, same as base VNodes.
type overlayRecord struct {
	SessionID   domain.SessionID `json:"session_id"`
	Path        string           `json:"path"`
	Op          domain.OverlayOp `json:"op"`
	ContentHash string           `json:"content_hash"`
	Size        int64            `json:"size"`
	Permissions uint32           `json:"permissions"`
	MTime       int64            `json:"mtime"`
}

func (r overlayRecord) toEntry() domain.OverlayEntry {
	return domain.OverlayEntry{
		SessionID:   r.SessionID,
		Path:        r.Path,
		Op:          r.Op,
		ContentHash: r.ContentHash,
		Size:        r.Size,
		Permissions: r.Permissions,
		MTime:       r.MTime,
	}
}

// View is a session's sparse copy-on-write window onto a workspace tree.
type View struct {
	tree        *Tree
	workspaceID domain.WorkspaceID
	sessionID   domain.SessionID
}

// Open returns a session-scoped view over workspaceID. Call Snapshot once,
// at session creation, before any reads through the view that need a
// stable "base at session start" (the Merge Engine relies on this).
func (t *Tree) Open(workspaceID domain.WorkspaceID, sessionID domain.SessionID) *View {
	return &View{tree: t, workspaceID: workspaceID, sessionID: sessionID}
}

// Snapshot copies every current base VNode's metadata into a per-session
// snapshot namespace, so the Merge Engine can later resolve "base" as it
// stood at session creation even though the live base tree keeps moving.
// Only metadata is copied; blob content is already shared by hash.
func (v *View) Snapshot(ctx context.Context) error {
	nodes, err := v.tree.ListBase(ctx, v.workspaceID, "")
	if err != nil {
		return err
	}
	for _, n := range nodes {
		data, err := json.Marshal(toRecord(n))
		if err != nil {
			return cortexerr.Storage(err, "failed to marshal snapshot vnode %s", n.Path)
		}
		if err := v.tree.pool.Put(ctx, snapshotKey(string(v.sessionID), n.Path), data); err != nil {
			return err
		}
	}
	return nil
}

// ReadSnapshot reads path as it stood in this session's base snapshot,
// independent of both the live base tree and this session's own overlay.
func (v *View) ReadSnapshot(ctx context.Context, path string) (domain.VNode, []byte, error) {
	data, err := v.tree.pool.Get(ctx, snapshotKey(string(v.sessionID), path))
	if err != nil {
		return domain.VNode{}, nil, err
	}
	var rec nodeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.VNode{}, nil, cortexerr.Storage(err, "failed to unmarshal snapshot vnode %s", path)
	}
	node := rec.toNode()
	content, err := v.tree.getBlob(ctx, node.ContentHash)
	if err != nil {
		return domain.VNode{}, nil, err
	}
	return node, content, nil
}

// ListSnapshot returns every path recorded in this session's base snapshot.
func (v *View) ListSnapshot(ctx context.Context) ([]domain.VNode, error) {
	entries, err := v.tree.pool.PrefixScan(ctx, snapshotDirPrefix(string(v.sessionID)))
	if err != nil {
		return nil, err
	}
	nodes := make([]domain.VNode, 0, len(entries))
	for _, e := range entries {
		var rec nodeRecord
		if err := json.Unmarshal(e.Value, &rec); err != nil {
			return nil, cortexerr.Storage(err, "failed to unmarshal snapshot entry at %s", e.Key)
		}
		nodes = append(nodes, rec.toNode())
	}
	return nodes, nil
}

// getOverlay returns the raw overlay record for path, or (nil, nil) if the
// path has no overlay entry (i.e. falls through to base).
func (v *View) getOverlay(ctx context.Context, path string) (*overlayRecord, error) {
	data, err := v.tree.pool.Get(ctx, overlayKey(string(v.sessionID), path))
	if err != nil {
		if cortexerr.Is(err, cortexerr.CodeNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var rec overlayRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, cortexerr.Storage(err, "failed to unmarshal overlay entry %s", path)
	}
	return &rec, nil
}

func (v *View) putOverlay(ctx context.Context, rec overlayRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return cortexerr.Storage(err, "failed to marshal overlay entry %s", rec.Path)
	}
	return v.tree.pool.Put(ctx, overlayKey(string(v.sessionID), rec.Path), data)
}

// Read resolves path through the overlay first, falling back to the base
// tree. Returns cortexerr.NotFound if the overlay marks path Deleted or if
// neither overlay nor base has it.
func (v *View) Read(ctx context.Context, path string) (domain.VNode, []byte, error) {
	rec, err := v.getOverlay(ctx, path)
	if err != nil {
		return domain.VNode{}, nil, err
	}
	if rec != nil {
		if rec.Op == domain.OverlayDeleted {
			return domain.VNode{}, nil, cortexerr.NotFound("path %s deleted in session overlay", path)
		}
		content, err := v.tree.getBlob(ctx, rec.ContentHash)
		if err != nil {
			return domain.VNode{}, nil, err
		}
		node := domain.VNode{
			WorkspaceID: v.workspaceID,
			Path:        path,
			Kind:        domain.NodeFile,
			ContentHash: rec.ContentHash,
			Size:        rec.Size,
			Permissions: rec.Permissions,
			MTime:       rec.MTime,
		}
		return node, content, nil
	}
	return v.tree.ReadBase(ctx, v.workspaceID, path)
}

// Write upserts path in this session's overlay, marking it Added if the
// base tree has no such path, Modified otherwise.
func (v *View) Write(ctx context.Context, path string, content []byte, perm uint32) (domain.OverlayEntry, error) {
	hash, err := v.tree.putBlob(ctx, content)
	if err != nil {
		return domain.OverlayEntry{}, err
	}
	op := domain.OverlayAdded
	if _, err := v.tree.statBase(ctx, v.workspaceID, path); err == nil {
		op = domain.OverlayModified
	} else if !cortexerr.Is(err, cortexerr.CodeNotFound) {
		return domain.OverlayEntry{}, err
	}
	rec := overlayRecord{
		SessionID:   v.sessionID,
		Path:        path,
		Op:          op,
		ContentHash: hash,
		Size:        int64(len(content)),
		Permissions: perm,
		MTime:       time.Now().UnixMilli(),
	}
	if err := v.putOverlay(ctx, rec); err != nil {
		return domain.OverlayEntry{}, err
	}
	return rec.toEntry(), nil
}

// Delete marks path as Deleted in this session's overlay. It is not an
// error to delete a path that has no base entry; the overlay still records
// the deletion so merge sees it as an explicit removal rather than a no-op.
func (v *View) Delete(ctx context.Context, path string) error {
	rec := overlayRecord{
		SessionID: v.sessionID,
		Path:      path,
		Op:        domain.OverlayDeleted,
		MTime:     time.Now().UnixMilli(),
	}
	return v.putOverlay(ctx, rec)
}

// ListOverlay returns every path this session's overlay has touched
// (Added, Modified, or Deleted), unmerged with the base tree.
func (v *View) ListOverlay(ctx context.Context) ([]domain.OverlayEntry, error) {
	entries, err := v.tree.pool.PrefixScan(ctx, overlayDirPrefix(string(v.sessionID)))
	if err != nil {
		return nil, err
	}
	out := make([]domain.OverlayEntry, 0, len(entries))
	for _, e := range entries {
		var rec overlayRecord
		if err := json.Unmarshal(e.Value, &rec); err != nil {
			return nil, cortexerr.Storage(err, "failed to unmarshal overlay entry at %s", e.Key)
		}
		out = append(out, rec.toEntry())
	}
	return out, nil
}

// List merges the base tree with this session's overlay under dirPrefix:
// base paths shadowed by a Deleted overlay are dropped, Added/Modified
// overlay paths are included, and everything else falls through to base.
func (v *View) List(ctx context.Context, dirPrefix string) ([]domain.VNode, error) {
	baseNodes, err := v.tree.ListBase(ctx, v.workspaceID, dirPrefix)
	if err != nil {
		return nil, err
	}
	overlayEntries, err := v.ListOverlay(ctx)
	if err != nil {
		return nil, err
	}

	byPath := make(map[string]domain.VNode, len(baseNodes))
	for _, n := range baseNodes {
		byPath[n.Path] = n
	}
	for _, e := range overlayEntries {
		if dirPrefix != "" && !hasPathPrefix(e.Path, dirPrefix) {
			continue
		}
		switch e.Op {
		case domain.OverlayDeleted:
			delete(byPath, e.Path)
		default:
			byPath[e.Path] = domain.VNode{
				WorkspaceID: v.workspaceID,
				Path:        e.Path,
				Kind:        domain.NodeFile,
				ContentHash: e.ContentHash,
				Size:        e.Size,
				Permissions: e.Permissions,
				MTime:       e.MTime,
			}
		}
	}

	out := make([]domain.VNode, 0, len(byPath))
	for _, n := range byPath {
		out = append(out, n)
	}
	return out, nil
}

func hasPathPrefix(path, prefix string) bool {
	return len(path) >= len(prefix) && path[:len(prefix)] == prefix
}

// DiscardOverlay removes every overlay entry for this session. Neither the
// Merge Engine nor session abandonment calls it, so a merged or abandoned
// session's overlay entries stay in storage unless a caller discards them.
func (v *View) DiscardOverlay(ctx context.Context) error {
	entries, err := v.tree.pool.PrefixScan(ctx, overlayDirPrefix(string(v.sessionID)))
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := v.tree.pool.Delete(ctx, e.Key); err != nil {
			return err
		}
	}
	return nil
}
