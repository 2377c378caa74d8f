package asset

import (
	"database/sql"
	"fmt"
	"time"

	// SQLite driver, registered as "sqlite3".
	_ "github.com/mattn/go-sqlite3"
)

// Repository persists assets so they survive an agent restart. Observations
// are deliberately never persisted; only the asset store writes through.
type Repository interface {
	Save(a *Asset) error
	Delete(id string) error
	LoadAll() ([]*Asset, error)
	Close() error
}

// SQLiteRepository is the SQLite-backed Repository.
type SQLiteRepository struct {
	db *sql.DB
}

// OpenSQLiteRepository opens (and creates, if needed) the asset database at
// path.
func OpenSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening asset database: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS assets (
	asset_id    TEXT PRIMARY KEY,
	type        TEXT NOT NULL,
	device_uuid TEXT NOT NULL,
	timestamp   TEXT NOT NULL,
	removed     INTEGER NOT NULL DEFAULT 0,
	raw         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_assets_device ON assets(device_uuid);
CREATE INDEX IF NOT EXISTS idx_assets_type ON assets(type);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating asset schema: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// Save upserts an asset row.
func (r *SQLiteRepository) Save(a *Asset) error {
	const q = `
INSERT INTO assets (asset_id, type, device_uuid, timestamp, removed, raw)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(asset_id) DO UPDATE SET
	type = excluded.type,
	device_uuid = excluded.device_uuid,
	timestamp = excluded.timestamp,
	removed = excluded.removed,
	raw = excluded.raw
`
	removed := 0
	if a.Removed {
		removed = 1
	}
	_, err := r.db.Exec(q, a.AssetID, a.Type, a.DeviceUUID,
		a.Timestamp.UTC().Format(time.RFC3339Nano), removed, a.Raw)
	if err != nil {
		return fmt.Errorf("saving asset %s: %w", a.AssetID, err)
	}
	return nil
}

// Delete removes an asset row.
func (r *SQLiteRepository) Delete(id string) error {
	if _, err := r.db.Exec(`DELETE FROM assets WHERE asset_id = ?`, id); err != nil {
		return fmt.Errorf("deleting asset %s: %w", id, err)
	}
	return nil
}

// LoadAll returns every persisted asset, oldest update first.
func (r *SQLiteRepository) LoadAll() ([]*Asset, error) {
	rows, err := r.db.Query(`
SELECT asset_id, type, device_uuid, timestamp, removed, raw
FROM assets ORDER BY timestamp ASC`)
	if err != nil {
		return nil, fmt.Errorf("loading assets: %w", err)
	}
	defer rows.Close()

	var assets []*Asset
	for rows.Next() {
		var a Asset
		var ts string
		var removed int
		if err := rows.Scan(&a.AssetID, &a.Type, &a.DeviceUUID, &ts, &removed, &a.Raw); err != nil {
			return nil, fmt.Errorf("scanning asset row: %w", err)
		}
		a.Removed = removed != 0
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			a.Timestamp = parsed
		}
		assets = append(assets, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading asset rows: %w", err)
	}
	return assets, nil
}

// Close closes the database.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}
