// Package state manages the SQLite database that tracks the identity
// mapping between Raindrop.io records and local bookmark nodes.
//
// Only this package may open or query the database. All other packages
// receive a [*Store] and call its methods.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS item_map (
    raindrop_id   INTEGER PRIMARY KEY,
    node_id       TEXT    NOT NULL,
    collection_id INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS folder_map (
    collection_id INTEGER PRIMARY KEY,
    folder_id     TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_item_node ON item_map (node_id);
`

// ItemMapping links one Raindrop record to one local bookmark node, with the
// collection the record was last seen in.
type ItemMapping struct {
	RaindropID   int64
	NodeID       string
	CollectionID int64
}

// Store is the SQLite-backed state repository.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path, applies the schema, and
// configures WAL mode for better concurrent read performance.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// LookupItem returns the mapping for the given Raindrop ID, or (nil, nil) if
// none exists.
func (s *Store) LookupItem(ctx context.Context, raindropID int64) (*ItemMapping, error) {
	const q = `SELECT raindrop_id, node_id, collection_id FROM item_map WHERE raindrop_id = ?`
	row := s.db.QueryRowContext(ctx, q, raindropID)
	return scanItemMapping(row)
}

// RecordItem inserts or replaces the mapping for m.RaindropID.
func (s *Store) RecordItem(ctx context.Context, m ItemMapping) error {
	const q = `INSERT OR REPLACE INTO item_map (raindrop_id, node_id, collection_id) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, m.RaindropID, m.NodeID, m.CollectionID); err != nil {
		return fmt.Errorf("recording item mapping %d: %w", m.RaindropID, err)
	}
	return nil
}

// DeleteItem removes the mapping for the given Raindrop ID. Deleting an
// absent mapping is not an error.
func (s *Store) DeleteItem(ctx context.Context, raindropID int64) error {
	const q = `DELETE FROM item_map WHERE raindrop_id = ?`
	if _, err := s.db.ExecContext(ctx, q, raindropID); err != nil {
		return fmt.Errorf("deleting item mapping %d: %w", raindropID, err)
	}
	return nil
}

// ItemMappings returns every tracked item mapping.
func (s *Store) ItemMappings(ctx context.Context) ([]ItemMapping, error) {
	const q = `SELECT raindrop_id, node_id, collection_id FROM item_map`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("querying item mappings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []ItemMapping
	for rows.Next() {
		m, err := scanItemMapping(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *m)
	}
	return items, rows.Err()
}

// PruneItems removes every item mapping whose node fails the existence
// check and returns the number removed. A check error keeps the mapping.
func (s *Store) PruneItems(ctx context.Context, exists func(nodeID string) (bool, error)) (int, error) {
	items, err := s.ItemMappings(ctx)
	if err != nil {
		return 0, err
	}
	pruned := 0
	for _, m := range items {
		ok, err := exists(m.NodeID)
		if err != nil {
			return pruned, fmt.Errorf("checking node %q: %w", m.NodeID, err)
		}
		if ok {
			continue
		}
		if err := s.DeleteItem(ctx, m.RaindropID); err != nil {
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}

// LookupFolder returns the local folder ID mapped to the given collection,
// or ("", nil) if none exists.
func (s *Store) LookupFolder(ctx context.Context, collectionID int64) (string, error) {
	const q = `SELECT folder_id FROM folder_map WHERE collection_id = ?`
	var folderID string
	err := s.db.QueryRowContext(ctx, q, collectionID).Scan(&folderID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("looking up folder for collection %d: %w", collectionID, err)
	}
	return folderID, nil
}

// RecordFolder inserts or replaces the folder mapping for a collection.
func (s *Store) RecordFolder(ctx context.Context, collectionID int64, folderID string) error {
	const q = `INSERT OR REPLACE INTO folder_map (collection_id, folder_id) VALUES (?, ?)`
	if _, err := s.db.ExecContext(ctx, q, collectionID, folderID); err != nil {
		return fmt.Errorf("recording folder mapping %d: %w", collectionID, err)
	}
	return nil
}

// DeleteFolder removes the folder mapping for the given collection.
func (s *Store) DeleteFolder(ctx context.Context, collectionID int64) error {
	const q = `DELETE FROM folder_map WHERE collection_id = ?`
	if _, err := s.db.ExecContext(ctx, q, collectionID); err != nil {
		return fmt.Errorf("deleting folder mapping %d: %w", collectionID, err)
	}
	return nil
}

// FolderMappings returns collectionID → folderID for every tracked folder.
func (s *Store) FolderMappings(ctx context.Context) (map[int64]string, error) {
	const q = `SELECT collection_id, folder_id FROM folder_map`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("querying folder mappings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	folders := make(map[int64]string)
	for rows.Next() {
		var collectionID int64
		var folderID string
		if err := rows.Scan(&collectionID, &folderID); err != nil {
			return nil, fmt.Errorf("scanning folder row: %w", err)
		}
		folders[collectionID] = folderID
	}
	return folders, rows.Err()
}

// PruneFolders removes every folder mapping whose folder fails the existence
// check and returns the number removed.
func (s *Store) PruneFolders(ctx context.Context, exists func(folderID string) (bool, error)) (int, error) {
	folders, err := s.FolderMappings(ctx)
	if err != nil {
		return 0, err
	}
	pruned := 0
	for collectionID, folderID := range folders {
		ok, err := exists(folderID)
		if err != nil {
			return pruned, fmt.Errorf("checking folder %q: %w", folderID, err)
		}
		if ok {
			continue
		}
		if err := s.DeleteFolder(ctx, collectionID); err != nil {
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}

// Meta keys.
const (
	metaLastSync     = "last_sync"
	metaAccessToken  = "access_token"
	metaRefreshToken = "refresh_token"
)

// LastSync returns the completion time of the last successful pass, or the
// zero time when no pass has completed yet.
func (s *Store) LastSync(ctx context.Context) (time.Time, error) {
	v, err := s.getMeta(ctx, metaLastSync)
	if err != nil || v == "" {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, v)
}

// SetLastSync records the completion time of a successful pass.
func (s *Store) SetLastSync(ctx context.Context, t time.Time) error {
	return s.setMeta(ctx, metaLastSync, t.UTC().Format(time.RFC3339Nano))
}

// Tokens returns the stored access and refresh tokens. Both empty when the
// user has not logged in (or tokens were cleared after a failed refresh).
func (s *Store) Tokens(ctx context.Context) (access, refresh string, err error) {
	if access, err = s.getMeta(ctx, metaAccessToken); err != nil {
		return "", "", err
	}
	refresh, err = s.getMeta(ctx, metaRefreshToken)
	return access, refresh, err
}

// SetTokens stores the access and refresh tokens.
func (s *Store) SetTokens(ctx context.Context, access, refresh string) error {
	if err := s.setMeta(ctx, metaAccessToken, access); err != nil {
		return err
	}
	return s.setMeta(ctx, metaRefreshToken, refresh)
}

// ClearTokens removes both tokens, forcing a fresh login.
func (s *Store) ClearTokens(ctx context.Context) error {
	const q = `DELETE FROM meta WHERE key IN (?, ?)`
	if _, err := s.db.ExecContext(ctx, q, metaAccessToken, metaRefreshToken); err != nil {
		return fmt.Errorf("clearing tokens: %w", err)
	}
	return nil
}

// MappingCounts returns the number of tracked item and folder mappings.
// Used by the status subcommand.
func (s *Store) MappingCounts(ctx context.Context) (items, folders int, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM item_map`).Scan(&items); err != nil {
		return 0, 0, fmt.Errorf("counting item mappings: %w", err)
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM folder_map`).Scan(&folders); err != nil {
		return 0, 0, fmt.Errorf("counting folder mappings: %w", err)
	}
	return items, folders, nil
}

// --- helpers -----------------------------------------------------------------

// scanner matches both *sql.Row and *sql.Rows so scanItemMapping can be reused.
type scanner interface {
	Scan(dest ...any) error
}

func scanItemMapping(s scanner) (*ItemMapping, error) {
	var m ItemMapping
	err := s.Scan(&m.RaindropID, &m.NodeID, &m.CollectionID)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning item mapping row: %w", err)
	}
	return &m, nil
}

func (s *Store) getMeta(ctx context.Context, key string) (string, error) {
	const q = `SELECT value FROM meta WHERE key = ?`
	var value string
	err := s.db.QueryRowContext(ctx, q, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading meta %q: %w", key, err)
	}
	return value, nil
}

func (s *Store) setMeta(ctx context.Context, key, value string) error {
	const q = `INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`
	if _, err := s.db.ExecContext(ctx, q, key, value); err != nil {
		return fmt.Errorf("writing meta %q: %w", key, err)
	}
	return nil
}
