package models

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// ============================================================================
// Sync State Persistence
//
// SyncState records what this device last absorbed from, or sent to, the
// published sync directory of one blog. It is only ever written inside the
// same transaction as the entity changes it describes, so a failed pull or
// publish leaves it untouched.
// ============================================================================

// SyncState is the per-blog sync bookkeeping row.
type SyncState struct {
	BlogID            string
	LastSyncedVersion int64
	LastSyncedAt      time.Time
	// LocalFileHashes maps a sync path to the digest this device last saw or sent.
	// It is used for diffing only and is never treated as content.
	LocalFileHashes map[string]string
	SyncEnabled     bool
	RemoteURL       string
	// ProducerID identifies this device in manifests it produces. Generated
	// once and stable across restarts.
	ProducerID      string
	LastPublishedAt time.Time
}

// Clone returns a deep copy so callers can prepare a new state without
// mutating the one they loaded.
func (st *SyncState) Clone() *SyncState {
	c := *st
	c.LocalFileHashes = make(map[string]string, len(st.LocalFileHashes))
	for k, v := range st.LocalFileHashes {
		c.LocalFileHashes[k] = v
	}
	return &c
}

// SyncState loads the sync state of a blog, creating a disabled state with a
// fresh producer id if none exists yet.
func (s *Store) SyncState(ctx context.Context, blogID string) (*SyncState, error) {
	state, err := loadSyncState(ctx, s.db, blogID)
	if err != nil {
		return nil, err
	}
	if state != nil {
		return state, nil
	}

	// First time this device syncs the blog: generate a producer id
	state = &SyncState{
		BlogID:          blogID,
		ProducerID:      uuid.New().String(),
		LocalFileHashes: map[string]string{},
	}
	err = s.Update(ctx, func(tx Tx) error {
		return tx.SaveSyncState(ctx, state)
	})
	if err != nil {
		return nil, serr.Wrap(err, "failed to create sync state")
	}

	logger.Info("Created new sync state", "blog_id", blogID, "producer_id", state.ProducerID)
	return state, nil
}

// SetSyncEnabled toggles sync for a blog and records the remote site URL.
// An empty remoteURL keeps the currently stored one.
func (s *Store) SetSyncEnabled(ctx context.Context, blogID string, enabled bool, remoteURL string) (*SyncState, error) {
	state, err := s.SyncState(ctx, blogID)
	if err != nil {
		return nil, err
	}

	state.SyncEnabled = enabled
	if remoteURL != "" {
		state.RemoteURL = remoteURL
	}
	err = s.Update(ctx, func(tx Tx) error {
		return tx.SaveSyncState(ctx, state)
	})
	if err != nil {
		return nil, serr.Wrap(err, "failed to update sync enabled flag")
	}

	logger.Info("Sync toggled", "blog_id", blogID, "enabled", enabled, "remote_url", state.RemoteURL)
	return state, nil
}

func loadSyncState(ctx context.Context, q queryRower, blogID string) (*SyncState, error) {
	var (
		state           SyncState
		lastSyncedAt    sql.NullTime
		lastPublishedAt sql.NullTime
		remoteURL       sql.NullString
		hashes          []byte
	)

	err := q.QueryRowContext(ctx, `
		SELECT blog_id, producer_id, last_synced_version, last_synced_at, last_published_at,
		       sync_enabled, remote_url, file_hashes
		FROM sync_state WHERE blog_id = ?
	`, blogID).Scan(&state.BlogID, &state.ProducerID, &state.LastSyncedVersion, &lastSyncedAt,
		&lastPublishedAt, &state.SyncEnabled, &remoteURL, &hashes)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, serr.Wrap(err, "failed to query sync state")
	}

	if lastSyncedAt.Valid {
		state.LastSyncedAt = lastSyncedAt.Time.UTC()
	}
	if lastPublishedAt.Valid {
		state.LastPublishedAt = lastPublishedAt.Time.UTC()
	}
	state.RemoteURL = remoteURL.String

	if state.LocalFileHashes, err = decodeFileHashes(hashes); err != nil {
		return nil, err
	}
	return &state, nil
}

func saveSyncState(ctx context.Context, tx *sql.Tx, state *SyncState) error {
	if state.BlogID == "" {
		return serr.New("cannot save sync state without a blog id")
	}
	if state.ProducerID == "" {
		state.ProducerID = uuid.New().String()
	}

	hashes, err := encodeFileHashes(state.LocalFileHashes)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sync_state (blog_id, producer_id, last_synced_version, last_synced_at,
		                        last_published_at, sync_enabled, remote_url, file_hashes, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (blog_id) DO UPDATE SET
		    producer_id = excluded.producer_id,
		    last_synced_version = excluded.last_synced_version,
		    last_synced_at = excluded.last_synced_at,
		    last_published_at = excluded.last_published_at,
		    sync_enabled = excluded.sync_enabled,
		    remote_url = excluded.remote_url,
		    file_hashes = excluded.file_hashes,
		    updated_at = excluded.updated_at
	`, state.BlogID, state.ProducerID, state.LastSyncedVersion, nullTime(state.LastSyncedAt),
		nullTime(state.LastPublishedAt), state.SyncEnabled, state.RemoteURL, hashes, Timestamp(time.Now()))
	if err != nil {
		return serr.Wrap(err, "failed to save sync state")
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: Timestamp(t), Valid: true}
}
