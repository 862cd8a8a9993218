// Package vfs is the workspace-scoped virtual file tree: a base tree per
// workspace plus a sparse copy-on-write overlay per active session. Content
// is stored content-addressably so overlays that duplicate base content
// never duplicate bytes; only metadata entries are copied into a session's
// snapshot. Every read/write goes through internal/storage, per the rule
// that no component opens its own backend.
package vfs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/cortex-mind/cortex/internal/cortexerr"
	"github.com/cortex-mind/cortex/internal/domain"
	"github.com/cortex-mind/cortex/internal/storage"
)

// Tree is the workspace-scoped VFS backed by a storage.Pool.
type Tree struct {
	pool *storage.Pool
}

// New wraps pool as a VFS tree.
func New(pool *storage.Pool) *Tree {
	return &Tree{pool: pool}
}

func baseKey(workspaceID, path string) string {
	return "vfs:" + workspaceID + ":" + path
}

func baseDirPrefix(workspaceID string) string {
	return "vfs:" + workspaceID + ":"
}

func blobKey(hash string) string {
	return "vfs:blob:" + hash
}

func hashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// nodeRecord is the JSON-serializable projection of a domain.VNode; content
// bytes live under a separate content-addressed blob key, never inline.
type nodeRecord struct {
	WorkspaceID domain.WorkspaceID `json:"workspace_id"`
	Path        string             `json:"path"`
	Kind        domain.NodeKind    `json:"kind"`
	ContentHash string             `json:"content_hash"`
	Size        int64              `json:"size"`
	Permissions uint32             `json:"permissions"`
	MTime       int64              `json:"mtime"`
}

func toRecord(n domain.VNode) nodeRecord {
	return nodeRecord{
		WorkspaceID: n.WorkspaceID,
		Path:        n.Path,
		Kind:        n.Kind,
		ContentHash: n.ContentHash,
		Size:        n.Size,
		Permissions: n.Permissions,
		MTime:       n.MTime,
	}
}

func (r nodeRecord) toNode() domain.VNode {
	return domain.VNode{
		WorkspaceID: r.WorkspaceID,
		Path:        r.Path,
		Kind:        r.Kind,
		ContentHash: r.ContentHash,
		Size:        r.Size,
		Permissions: r.Permissions,
		MTime:       r.MTime,
	}
}

// putBlob stores content under its sha256 hash, deduplicating automatically
// since the key already encodes identity; repeated writes of identical
// content are a no-op cost beyond one Put.
func (t *Tree) putBlob(ctx context.Context, content []byte) (string, error) {
	hash := hashContent(content)
	if err := t.pool.Put(ctx, blobKey(hash), content); err != nil {
		return "", err
	}
	return hash, nil
}

func (t *Tree) getBlob(ctx context.Context, hash string) ([]byte, error) {
	return t.pool.Get(ctx, blobKey(hash))
}

// WriteBase writes path directly into the workspace's base tree, bypassing
// any session overlay. Used by the Merge Engine when it applies a session's
// resolved changes to the base.
func (t *Tree) WriteBase(ctx context.Context, workspaceID, path string, content []byte, perm uint32) (domain.VNode, error) {
	hash, err := t.putBlob(ctx, content)
	if err != nil {
		return domain.VNode{}, err
	}
	node := domain.VNode{
		WorkspaceID: workspaceID,
		Path:        path,
		Kind:        domain.NodeFile,
		ContentHash: hash,
		Size:        int64(len(content)),
		Permissions: perm,
		MTime:       time.Now().UnixMilli(),
	}
	data, err := json.Marshal(toRecord(node))
	if err != nil {
		return domain.VNode{}, cortexerr.Storage(err, "failed to marshal vnode %s", path)
	}
	if err := t.pool.Put(ctx, baseKey(workspaceID, path), data); err != nil {
		return domain.VNode{}, err
	}
	return node, nil
}

// DeleteBase removes path from the base tree.
func (t *Tree) DeleteBase(ctx context.Context, workspaceID, path string) error {
	return t.pool.Delete(ctx, baseKey(workspaceID, path))
}

// ReadBase reads path from the base tree, ignoring any overlay.
func (t *Tree) ReadBase(ctx context.Context, workspaceID, path string) (domain.VNode, []byte, error) {
	node, err := t.statBase(ctx, workspaceID, path)
	if err != nil {
		return domain.VNode{}, nil, err
	}
	content, err := t.getBlob(ctx, node.ContentHash)
	if err != nil {
		return domain.VNode{}, nil, err
	}
	return node, content, nil
}

func (t *Tree) statBase(ctx context.Context, workspaceID, path string) (domain.VNode, error) {
	data, err := t.pool.Get(ctx, baseKey(workspaceID, path))
	if err != nil {
		return domain.VNode{}, err
	}
	var rec nodeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.VNode{}, cortexerr.Storage(err, "failed to unmarshal vnode %s", path)
	}
	return rec.toNode(), nil
}

// ListBase returns every path in workspaceID's base tree under dirPrefix
// ("" for the whole tree), sorted lexicographically.
func (t *Tree) ListBase(ctx context.Context, workspaceID, dirPrefix string) ([]domain.VNode, error) {
	entries, err := t.pool.PrefixScan(ctx, baseDirPrefix(workspaceID)+dirPrefix)
	if err != nil {
		return nil, err
	}
	nodes := make([]domain.VNode, 0, len(entries))
	for _, e := range entries {
		var rec nodeRecord
		if err := json.Unmarshal(e.Value, &rec); err != nil {
			return nil, cortexerr.Storage(err, "failed to unmarshal vnode at %s", e.Key)
		}
		nodes = append(nodes, rec.toNode())
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Path < nodes[j].Path })
	return nodes, nil
}
