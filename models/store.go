package models

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// ============================================================================
// Local Entity Store
//
// A DuckDB-backed store for every syncable entity plus the per-blog
// SyncState. Sync code never writes entities one statement at a time
// outside a transaction: Update runs a function inside a single SQL
// transaction and either commits everything it did or nothing.
// ============================================================================

// Store is the local datastore. It is safe for concurrent use; write
// transactions are serialized by mu.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Tx is the write surface handed to Update callbacks.
type Tx interface {
	// Get decodes the entity (kind, id) of blogID into dst.
	// Returns false when no such row exists.
	Get(ctx context.Context, blogID string, kind Kind, id string, dst Entity) (bool, error)
	// Put inserts or replaces an entity.
	Put(ctx context.Context, blogID string, e Entity) error
	// Delete removes an entity. Deleting a missing row is not an error.
	Delete(ctx context.Context, blogID string, kind Kind, id string) error
	// SaveSyncState inserts or replaces the sync state row of state.BlogID.
	SaveSyncState(ctx context.Context, state *SyncState) error
}

// OpenStore opens (creating if needed) the DuckDB database at path.
// An empty path opens a private in-memory database, which is what tests use.
func OpenStore(path string) (*Store, error) {
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, serr.Wrap(err, "failed to create database directory")
		}
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, serr.Wrap(err, "failed to open database")
	}

	if err := migrateDB(db); err != nil {
		_ = db.Close()
		return nil, serr.Wrap(err, "failed to migrate database")
	}

	if path == "" {
		logger.Debug("Opened in-memory store")
	} else {
		logger.Info("Opened store", "path", path)
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Update runs fn inside one write transaction. If fn returns an error,
// or the commit fails, every statement fn executed is rolled back.
func (s *Store) Update(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return serr.Wrap(err, "failed to begin transaction")
	}

	if err := fn(&storeTx{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			logger.LogErr(rbErr, "failed to roll back transaction")
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return serr.Wrap(err, "failed to commit transaction")
	}
	return nil
}

// Put stores entities in a single transaction. Convenience for authoring
// code paths that are not part of a sync operation.
func (s *Store) Put(ctx context.Context, blogID string, entities ...Entity) error {
	return s.Update(ctx, func(tx Tx) error {
		for _, e := range entities {
			if err := tx.Put(ctx, blogID, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get reads a single entity outside any write transaction.
func (s *Store) Get(ctx context.Context, blogID string, kind Kind, id string, dst Entity) (bool, error) {
	return getEntity(ctx, s.db, blogID, kind, id, dst)
}

// Delete removes a single entity in its own transaction.
func (s *Store) Delete(ctx context.Context, blogID string, kind Kind, id string) error {
	return s.Update(ctx, func(tx Tx) error {
		return tx.Delete(ctx, blogID, kind, id)
	})
}

// Blogs lists every blog in the store ordered by id.
func (s *Store) Blogs(ctx context.Context) ([]*Blog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM entities WHERE kind = ? ORDER BY id`, string(KindBlog))
	if err != nil {
		return nil, serr.Wrap(err, "failed to query blogs")
	}
	defer rows.Close()

	var blogs []*Blog
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, serr.Wrap(err, "failed to scan blog")
		}
		b := &Blog{}
		if err := decodePayload(payload, b); err != nil {
			return nil, err
		}
		blogs = append(blogs, b)
	}
	if err := rows.Err(); err != nil {
		return nil, serr.Wrap(err, "error iterating blogs")
	}
	return blogs, nil
}

// Snapshot reads every syncable entity of a blog in one pass.
// Returns an error if the blog itself does not exist.
func (s *Store) Snapshot(ctx context.Context, blogID string) (*Snapshot, error) {
	snap := &Snapshot{Blog: &Blog{}}
	found, err := getEntity(ctx, s.db, blogID, KindBlog, blogID, snap.Blog)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, serr.New("blog not found: " + blogID)
	}

	if snap.Categories, err = ListModifiedSince[Category](ctx, s, blogID, KindCategory, time.Time{}); err != nil {
		return nil, err
	}
	if snap.Tags, err = ListModifiedSince[Tag](ctx, s, blogID, KindTag, time.Time{}); err != nil {
		return nil, err
	}
	posts, err := ListModifiedSince[Post](ctx, s, blogID, KindPost, time.Time{})
	if err != nil {
		return nil, err
	}
	for _, p := range posts {
		if p.IsDraft {
			snap.Drafts = append(snap.Drafts, p)
		} else {
			snap.Posts = append(snap.Posts, p)
		}
	}
	if snap.Sidebar, err = ListModifiedSince[SidebarObject](ctx, s, blogID, KindSidebar, time.Time{}); err != nil {
		return nil, err
	}
	if snap.StaticFiles, err = ListModifiedSince[StaticFile](ctx, s, blogID, KindStaticFile, time.Time{}); err != nil {
		return nil, err
	}
	if snap.EmbedImages, err = ListModifiedSince[EmbedImage](ctx, s, blogID, KindEmbedImage, time.Time{}); err != nil {
		return nil, err
	}
	if snap.Themes, err = ListModifiedSince[Theme](ctx, s, blogID, KindTheme, time.Time{}); err != nil {
		return nil, err
	}
	return snap, nil
}

// ListModifiedSince returns every entity of kind whose last-modified
// timestamp is after since, ordered by id. A zero since lists everything.
func ListModifiedSince[T any, PT interface {
	*T
	Entity
}](ctx context.Context, s *Store, blogID string, kind Kind, since time.Time) ([]PT, error) {
	query := `SELECT payload FROM entities WHERE blog_id = ? AND kind = ?`
	args := []any{blogID, string(kind)}
	if !since.IsZero() {
		query += ` AND updated_at > ?`
		args = append(args, Timestamp(since))
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, serr.Wrap(err, "failed to query "+string(kind)+" entities")
	}
	defer rows.Close()

	var out []PT
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, serr.Wrap(err, "failed to scan "+string(kind)+" entity")
		}
		v := PT(new(T))
		if err := decodePayload(payload, v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, serr.Wrap(err, "error iterating "+string(kind)+" entities")
	}

	// ORDER BY already sorts; keep the guarantee independent of collation
	sort.SliceStable(out, func(i, j int) bool { return out[i].EntityID() < out[j].EntityID() })
	return out, nil
}

// ============================================================================
// Transaction implementation
// ============================================================================

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type storeTx struct {
	tx *sql.Tx
}

func (t *storeTx) Get(ctx context.Context, blogID string, kind Kind, id string, dst Entity) (bool, error) {
	return getEntity(ctx, t.tx, blogID, kind, id, dst)
}

func (t *storeTx) Put(ctx context.Context, blogID string, e Entity) error {
	if blogID == "" {
		return serr.New("cannot store entity without a blog id")
	}
	if e.EntityID() == "" {
		return serr.New("cannot store " + string(e.EntityKind()) + " without a stable id")
	}
	e.normalize()

	payload, err := encodePayload(e)
	if err != nil {
		return err
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO entities (blog_id, kind, id, updated_at, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (blog_id, kind, id) DO UPDATE
		SET updated_at = excluded.updated_at, payload = excluded.payload
	`, blogID, string(e.EntityKind()), e.EntityID(), Timestamp(e.Modified()), payload)
	if err != nil {
		return serr.Wrap(err, "failed to store "+string(e.EntityKind())+" "+e.EntityID())
	}
	return nil
}

func (t *storeTx) Delete(ctx context.Context, blogID string, kind Kind, id string) error {
	_, err := t.tx.ExecContext(ctx,
		`DELETE FROM entities WHERE blog_id = ? AND kind = ? AND id = ?`,
		blogID, string(kind), id)
	if err != nil {
		return serr.Wrap(err, "failed to delete "+string(kind)+" "+id)
	}
	return nil
}

func (t *storeTx) SaveSyncState(ctx context.Context, state *SyncState) error {
	return saveSyncState(ctx, t.tx, state)
}

func getEntity(ctx context.Context, q queryRower, blogID string, kind Kind, id string, dst Entity) (bool, error) {
	var payload []byte
	err := q.QueryRowContext(ctx,
		`SELECT payload FROM entities WHERE blog_id = ? AND kind = ? AND id = ?`,
		blogID, string(kind), id).Scan(&payload)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, serr.Wrap(err, "failed to get "+string(kind)+" "+id)
	}
	if err := decodePayload(payload, dst); err != nil {
		return false, err
	}
	return true, nil
}
