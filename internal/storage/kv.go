package storage

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"

	"github.com/cortex-mind/cortex/internal/cortexerr"
)

// Put writes a binary value under key, overwriting any existing value.
func (p *Pool) Put(ctx context.Context, key string, value []byte) error {
	return p.Conn(ctx, func(c *sql.Conn) error {
		_, err := c.ExecContext(ctx, `
			INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`, key, value, time.Now().UnixMilli())
		if err != nil {
			return cortexerr.Storage(err, "failed to put key %s", key)
		}
		return nil
	})
}

// Get reads the value stored under key. Returns cortexerr.NotFound if absent.
func (p *Pool) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := p.Conn(ctx, func(c *sql.Conn) error {
		row := c.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE key = ?`, key)
		if err := row.Scan(&value); err != nil {
			if err == sql.ErrNoRows {
				return cortexerr.NotFound("key %s not found", key)
			}
			return cortexerr.Storage(err, "failed to get key %s", key)
		}
		return nil
	})
	return value, err
}

// Delete removes a key. It is not an error to delete a missing key.
func (p *Pool) Delete(ctx context.Context, key string) error {
	return p.Conn(ctx, func(c *sql.Conn) error {
		_, err := c.ExecContext(ctx, `DELETE FROM kv_store WHERE key = ?`, key)
		if err != nil {
			return cortexerr.Storage(err, "failed to delete key %s", key)
		}
		return nil
	})
}

// KVEntry is one row returned by PrefixScan.
type KVEntry struct {
	Key   string
	Value []byte
}

// PrefixScan returns every key/value pair whose key starts with prefix, in
// lexicographic key order. Used for range reads like the semantic store's
// dep: keys or the VFS's vfs:{WorkspaceId}:{path} keys.
func (p *Pool) PrefixScan(ctx context.Context, prefix string) ([]KVEntry, error) {
	var entries []KVEntry
	err := p.Conn(ctx, func(c *sql.Conn) error {
		upperBound := prefixUpperBound(prefix)
		rows, err := c.QueryContext(ctx, `
			SELECT key, value FROM kv_store WHERE key >= ? AND key < ? ORDER BY key
		`, prefix, upperBound)
		if err != nil {
			return cortexerr.Storage(err, "failed to prefix-scan %s", prefix)
		}
		defer rows.Close()

		for rows.Next() {
			var e KVEntry
			if err := rows.Scan(&e.Key, &e.Value); err != nil {
				return cortexerr.Storage(err, "failed to scan prefix-scan row")
			}
			entries = append(entries, e)
		}
		return rows.Err()
	})
	return entries, err
}

// prefixUpperBound computes the exclusive upper bound for a lexicographic
// prefix range scan by incrementing the final byte.
func prefixUpperBound(prefix string) string {
	if prefix == "" {
		return "\xff\xff\xff\xff"
	}
	b := []byte(prefix)
	b[len(b)-1]++
	return string(b)
}

// Doc is one document in a named collection.
type Doc struct {
	Collection string
	ID         string
	Data       []byte
	CreatedAt  int64
	UpdatedAt  int64
}

// CreateDoc upserts a document by (collection, id).
func (p *Pool) CreateDoc(ctx context.Context, collection, id string, data []byte) error {
	now := time.Now().UnixMilli()
	return p.Conn(ctx, func(c *sql.Conn) error {
		_, err := c.ExecContext(ctx, `
			INSERT INTO documents (collection, id, data, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(collection, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
		`, collection, id, data, now, now)
		if err != nil {
			return cortexerr.Storage(err, "failed to create doc %s/%s", collection, id)
		}
		return nil
	})
}

// GetDoc fetches a single document by id.
func (p *Pool) GetDoc(ctx context.Context, collection, id string) (*Doc, error) {
	var d Doc
	d.Collection = collection
	d.ID = id
	err := p.Conn(ctx, func(c *sql.Conn) error {
		row := c.QueryRowContext(ctx, `
			SELECT data, created_at, updated_at FROM documents WHERE collection = ? AND id = ?
		`, collection, id)
		if err := row.Scan(&d.Data, &d.CreatedAt, &d.UpdatedAt); err != nil {
			if err == sql.ErrNoRows {
				return cortexerr.NotFound("document %s/%s not found", collection, id)
			}
			return cortexerr.Storage(err, "failed to get doc %s/%s", collection, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// DeleteDoc removes a document by id.
func (p *Pool) DeleteDoc(ctx context.Context, collection, id string) error {
	return p.Conn(ctx, func(c *sql.Conn) error {
		_, err := c.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
		if err != nil {
			return cortexerr.Storage(err, "failed to delete doc %s/%s", collection, id)
		}
		return nil
	})
}

// QueryDocs returns every document in collection matching predicate.
// Predicates run in-process: the storage layer intentionally stays a plain
// document store, not a query engine, so richer stores (BM25 ranking,
// hybrid scoring) apply their own logic over the returned set.
func (p *Pool) QueryDocs(ctx context.Context, collection string, predicate func(*Doc) bool) ([]*Doc, error) {
	var out []*Doc
	err := p.Conn(ctx, func(c *sql.Conn) error {
		rows, err := c.QueryContext(ctx, `
			SELECT id, data, created_at, updated_at FROM documents WHERE collection = ?
		`, collection)
		if err != nil {
			return cortexerr.Storage(err, "failed to query collection %s", collection)
		}
		defer rows.Close()

		for rows.Next() {
			d := &Doc{Collection: collection}
			if err := rows.Scan(&d.ID, &d.Data, &d.CreatedAt, &d.UpdatedAt); err != nil {
				return cortexerr.Storage(err, "failed to scan doc row")
			}
			if predicate == nil || predicate(d) {
				out = append(out, d)
			}
		}
		return rows.Err()
	})
	return out, err
}

// ListCollectionIDs returns every document id in a collection, sorted.
func (p *Pool) ListCollectionIDs(ctx context.Context, collection string) ([]string, error) {
	docs, err := p.QueryDocs(ctx, collection, nil)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

// HasPrefix is a small helper collections use when a caller passes a
// workspace or session scope as a key prefix filter.
func HasPrefix(s, prefix string) bool {
	return strings.HasPrefix(s, prefix)
}
