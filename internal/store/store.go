// Package store manages the SQLite database holding the local contact mirror:
// contact groups, contacts with their structured sub-fields, group
// memberships, photo bytes, and per-account sync metadata.
//
// Only this package may open or query the database. All other packages receive
// a [*Store] and call its methods. Mutations go through [Store.Apply], which
// commits a [Batch] atomically.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/njoerd114/coworkersync/internal/model"
)

// Store is the SQLite-backed local contact store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// DataRow is one structured sub-field of a contact.
type DataRow struct {
	Kind   DataKind
	Values [3]string
}

// AccountStats summarises the mirror of one account.
type AccountStats struct {
	Contacts      int
	PendingPhotos int
	StoredPhotos  int
}

// SyncMeta is the persisted per-account sync bookkeeping.
type SyncMeta struct {
	Account    string
	LastSyncAt time.Time
	AppVersion string
}

// DefaultDBPath returns the default path for the contacts database:
// ~/.local/share/coworkersync/contacts.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "coworkersync", "contacts.db"), nil
}

// Open opens (or creates) the SQLite database at path, applies pending
// migrations, and configures WAL mode and foreign keys.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db, logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// GroupBySourceID returns the group of account with the given source ID,
// or (nil, nil) if no such group exists.
func (s *Store) GroupBySourceID(ctx context.Context, account, sourceID string) (*model.SyncedGroup, error) {
	const q = `SELECT id, source_id, title FROM contact_groups WHERE account = ? AND source_id = ?`
	var g model.SyncedGroup
	err := s.db.QueryRowContext(ctx, q, account, sourceID).Scan(&g.LocalKey, &g.UID, &g.Title)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("querying group %q for %q: %w", sourceID, account, err)
	}
	return &g, nil
}

// GroupMembers returns the mirror records of all contacts of account that
// belong to the group with the given key.
func (s *Store) GroupMembers(ctx context.Context, account string, groupKey int64) ([]model.MirrorRecord, error) {
	const q = `
		SELECT c.id, c.source_id, c.version, c.photo_url, c.photo_synced
		FROM contacts c
		JOIN group_memberships m ON m.contact_id = c.id
		WHERE c.account = ? AND m.group_id = ?
		ORDER BY c.source_id`
	rows, err := s.db.QueryContext(ctx, q, account, groupKey)
	if err != nil {
		return nil, fmt.Errorf("querying members of group %d: %w", groupKey, err)
	}
	defer func() { _ = rows.Close() }()

	var records []model.MirrorRecord
	for rows.Next() {
		rec, err := scanMirror(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// Contact returns the mirror record with the given key if it belongs to
// account, or (nil, nil).
func (s *Store) Contact(ctx context.Context, account string, key int64) (*model.MirrorRecord, error) {
	const q = `
		SELECT id, source_id, version, photo_url, photo_synced
		FROM contacts WHERE account = ? AND id = ?`
	return scanMirror(s.db.QueryRowContext(ctx, q, account, key))
}

// Data returns the structured sub-fields of a contact keyed by kind.
func (s *Store) Data(ctx context.Context, key int64) (map[DataKind]DataRow, error) {
	const q = `SELECT kind, data1, data2, data3 FROM contact_data WHERE contact_id = ?`
	rows, err := s.db.QueryContext(ctx, q, key)
	if err != nil {
		return nil, fmt.Errorf("querying data of contact %d: %w", key, err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[DataKind]DataRow)
	for rows.Next() {
		var r DataRow
		var kind string
		if err := rows.Scan(&kind, &r.Values[0], &r.Values[1], &r.Values[2]); err != nil {
			return nil, fmt.Errorf("scanning data row: %w", err)
		}
		r.Kind = DataKind(kind)
		out[r.Kind] = r
	}
	return out, rows.Err()
}

// Photo returns the stored photo of a contact. Both return values are empty
// when no photo is stored.
func (s *Store) Photo(ctx context.Context, key int64) (mimeType string, data []byte, err error) {
	const q = `SELECT mime_type, bytes FROM contact_photos WHERE contact_id = ?`
	err = s.db.QueryRowContext(ctx, q, key).Scan(&mimeType, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("querying photo of contact %d: %w", key, err)
	}
	return mimeType, data, nil
}

// Stats counts the contacts and photo state of account.
func (s *Store) Stats(ctx context.Context, account string) (AccountStats, error) {
	const q = `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN c.photo_synced = 0 THEN 1 ELSE 0 END), 0),
		       COUNT(p.contact_id)
		FROM contacts c
		LEFT JOIN contact_photos p ON p.contact_id = c.id
		WHERE c.account = ?`
	var st AccountStats
	if err := s.db.QueryRowContext(ctx, q, account).Scan(&st.Contacts, &st.PendingPhotos, &st.StoredPhotos); err != nil {
		return AccountStats{}, fmt.Errorf("counting contacts for %q: %w", account, err)
	}
	return st, nil
}

// SyncMeta returns the sync bookkeeping of account. A zero value (with the
// account set) is returned when the account never completed a sync.
func (s *Store) SyncMeta(ctx context.Context, account string) (SyncMeta, error) {
	const q = `SELECT last_sync_at, app_version FROM sync_meta WHERE account = ?`
	meta := SyncMeta{Account: account}
	var lastSync string
	err := s.db.QueryRowContext(ctx, q, account).Scan(&lastSync, &meta.AppVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return meta, nil
	}
	if err != nil {
		return SyncMeta{}, fmt.Errorf("querying sync meta for %q: %w", account, err)
	}
	meta.LastSyncAt, _ = parseTime(lastSync)
	return meta, nil
}

// PutSyncMeta inserts or replaces the sync bookkeeping of meta.Account.
func (s *Store) PutSyncMeta(ctx context.Context, meta SyncMeta) error {
	const q = `
		INSERT INTO sync_meta (account, last_sync_at, app_version) VALUES (?, ?, ?)
		ON CONFLICT(account) DO UPDATE SET
		    last_sync_at = excluded.last_sync_at,
		    app_version  = excluded.app_version`
	if _, err := s.db.ExecContext(ctx, q, meta.Account, formatTime(meta.LastSyncAt), meta.AppVersion); err != nil {
		return fmt.Errorf("writing sync meta for %q: %w", meta.Account, err)
	}
	return nil
}

// --- helpers -----------------------------------------------------------------

// scanner matches both *sql.Row and *sql.Rows so scanMirror can be reused.
type scanner interface {
	Scan(dest ...any) error
}

func scanMirror(s scanner) (*model.MirrorRecord, error) {
	var rec model.MirrorRecord
	err := s.Scan(&rec.LocalKey, &rec.UID, &rec.Version, &rec.PhotoURL, &rec.PhotoSynced)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning contact row: %w", err)
	}
	return &rec, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
