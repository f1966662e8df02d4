// Package store implements the Paired-Devices Store (spec component C7):
// the durable record of which cameras have been paired, which are enabled,
// and the global sync flag. It follows the teacher's sqlite idiom -- a
// single pooled connection guarded by a mutex, with ALTER TABLE migrations
// for backward compatibility -- generalized to this package's own schema.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// Sentinel errors, matching spec §7's control-flow error kinds.
var (
	// ErrStorageCorrupt is returned when persisted state cannot be read
	// back; the store never silently resets on this error.
	ErrStorageCorrupt = errors.New("store: persisted state failed to deserialize")
	// ErrNotFound is returned by operations targeting a MAC that isn't
	// currently paired.
	ErrNotFound = errors.New("store: paired device not found")
)

// PairedDevice is a persisted pairing record. Equal identity is by MAC.
type PairedDevice struct {
	MAC            string
	Name           *string
	VendorID       string
	Enabled        bool
	LastSyncedAtMS *int64
}

// Store is the durable, single-writer home for paired devices and the
// global sync-enabled flag.
type Store struct {
	mu sync.Mutex
	db *sql.DB

	paired        *broadcaster[[]PairedDevice]
	enabled       *broadcaster[[]PairedDevice]
	isSyncEnabled *broadcaster[bool]
}

// Open opens (creating if necessary) the sqlite database at path and
// migrates its schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	_, _ = db.Exec(`PRAGMA foreign_keys = ON;`)
	// SQLite is effectively single-writer; one connection avoids SQLITE_BUSY
	// under concurrent device supervisors.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{
		db:            db,
		paired:        newBroadcaster[[]PairedDevice](nil),
		enabled:       newBroadcaster[[]PairedDevice](nil),
		isSyncEnabled: newBroadcaster(true),
	}
	ctx := context.Background()
	if err := s.initialize(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.reload(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS paired_devices (
	mac TEXT PRIMARY KEY COLLATE NOCASE,
	name TEXT,
	vendor_id TEXT NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1,
	last_synced_at_ms INTEGER
);
`); err != nil {
		return fmt.Errorf("%w: create paired_devices: %v", ErrStorageCorrupt, err)
	}
	// Backward-compatible schema growth, per the teacher's migration idiom.
	_ = execIgnore(ctx, s.db, `ALTER TABLE paired_devices ADD COLUMN last_synced_at_ms INTEGER`)

	if _, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS sync_settings (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	sync_enabled INTEGER NOT NULL DEFAULT 1
);
`); err != nil {
		return fmt.Errorf("%w: create sync_settings: %v", ErrStorageCorrupt, err)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO sync_settings (id, sync_enabled) VALUES (1, 1)`); err != nil {
		return fmt.Errorf("%w: seed sync_settings: %v", ErrStorageCorrupt, err)
	}
	return nil
}

func execIgnore(ctx context.Context, db *sql.DB, q string) error {
	_, err := db.ExecContext(ctx, q)
	return err
}

func normalizeMAC(mac string) string {
	return strings.ToUpper(strings.TrimSpace(mac))
}

// reload re-reads the whole table and resets the three observables. It is
// called after every write, under s.mu.
func (s *Store) reload(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT mac, name, vendor_id, enabled, last_synced_at_ms FROM paired_devices ORDER BY mac`)
	if err != nil {
		return fmt.Errorf("%w: query paired_devices: %v", ErrStorageCorrupt, err)
	}
	defer rows.Close()

	all := make([]PairedDevice, 0, 8)
	for rows.Next() {
		var mac, vendorID string
		var name sql.NullString
		var enabledInt int
		var lastSynced sql.NullInt64
		if err := rows.Scan(&mac, &name, &vendorID, &enabledInt, &lastSynced); err != nil {
			return fmt.Errorf("%w: scan paired_devices row: %v", ErrStorageCorrupt, err)
		}
		pd := PairedDevice{MAC: mac, VendorID: vendorID, Enabled: enabledInt != 0}
		if name.Valid {
			n := name.String
			pd.Name = &n
		}
		if lastSynced.Valid {
			v := lastSynced.Int64
			pd.LastSyncedAtMS = &v
		}
		all = append(all, pd)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: iterate paired_devices: %v", ErrStorageCorrupt, err)
	}

	enabledOnly := make([]PairedDevice, 0, len(all))
	for _, pd := range all {
		if pd.Enabled {
			enabledOnly = append(enabledOnly, pd)
		}
	}

	var syncEnabled int
	if err := s.db.QueryRowContext(ctx, `SELECT sync_enabled FROM sync_settings WHERE id = 1`).Scan(&syncEnabled); err != nil {
		return fmt.Errorf("%w: query sync_settings: %v", ErrStorageCorrupt, err)
	}

	s.paired.Set(all)
	s.enabled.Set(enabledOnly)
	s.isSyncEnabled.Set(syncEnabled != 0)
	return nil
}

// Paired is the latest-value observable of every paired device.
func (s *Store) Paired(ctx context.Context) <-chan []PairedDevice { return s.paired.Subscribe(ctx) }

// Enabled is the latest-value observable of paired devices with Enabled set.
func (s *Store) Enabled(ctx context.Context) <-chan []PairedDevice { return s.enabled.Subscribe(ctx) }

// IsSyncEnabled is the latest-value observable of the global sync flag.
func (s *Store) IsSyncEnabled(ctx context.Context) <-chan bool { return s.isSyncEnabled.Subscribe(ctx) }

// Snapshot is a synchronous read of every paired device, for callers (the
// host dashboard and notifier) that just need a point-in-time
// list rather than a subscription.
func (s *Store) Snapshot() []PairedDevice { return s.paired.Get() }

// Add pairs a new device. Adding an already-paired MAC updates its name and
// vendor id rather than erroring, so re-pairing after a factory reset is
// idempotent.
func (s *Store) Add(ctx context.Context, mac string, name *string, vendorID string) error {
	mac = normalizeMAC(mac)
	if mac == "" {
		return fmt.Errorf("%w: empty MAC", ErrStorageCorrupt)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
INSERT INTO paired_devices (mac, name, vendor_id, enabled)
VALUES (?, ?, ?, 1)
ON CONFLICT(mac) DO UPDATE SET name = excluded.name, vendor_id = excluded.vendor_id
`, mac, optString(name), vendorID)
	if err != nil {
		return fmt.Errorf("%w: insert paired device: %v", ErrStorageCorrupt, err)
	}
	return s.reload(ctx)
}

// Remove unpairs a device. Removing an unknown MAC is a no-op.
func (s *Store) Remove(ctx context.Context, mac string) error {
	mac = normalizeMAC(mac)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM paired_devices WHERE mac = ?`, mac); err != nil {
		return fmt.Errorf("%w: delete paired device: %v", ErrStorageCorrupt, err)
	}
	return s.reload(ctx)
}

// SetEnabled flips a paired device's per-device enabled flag.
func (s *Store) SetEnabled(ctx context.Context, mac string, enabled bool) error {
	mac = normalizeMAC(mac)
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `UPDATE paired_devices SET enabled = ? WHERE mac = ?`, boolToInt(enabled), mac)
	if err != nil {
		return fmt.Errorf("%w: update enabled: %v", ErrStorageCorrupt, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, mac)
	}
	return s.reload(ctx)
}

// SetSyncEnabled flips the global sync flag gating every device.
func (s *Store) SetSyncEnabled(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `UPDATE sync_settings SET sync_enabled = ? WHERE id = 1`, boolToInt(enabled)); err != nil {
		return fmt.Errorf("%w: update sync_settings: %v", ErrStorageCorrupt, err)
	}
	return s.reload(ctx)
}

// UpdateDeviceName renames a paired device.
func (s *Store) UpdateDeviceName(ctx context.Context, mac string, name string) error {
	mac = normalizeMAC(mac)
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `UPDATE paired_devices SET name = ? WHERE mac = ?`, name, mac)
	if err != nil {
		return fmt.Errorf("%w: update name: %v", ErrStorageCorrupt, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, mac)
	}
	return s.reload(ctx)
}

// UpdateLastSyncedAt records the epoch-millisecond timestamp of a
// successful sync for mac.
func (s *Store) UpdateLastSyncedAt(ctx context.Context, mac string, atMS int64) error {
	mac = normalizeMAC(mac)
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `UPDATE paired_devices SET last_synced_at_ms = ? WHERE mac = ?`, atMS, mac)
	if err != nil {
		return fmt.Errorf("%w: update last_synced_at_ms: %v", ErrStorageCorrupt, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, mac)
	}
	return s.reload(ctx)
}

// IsPaired reports whether mac currently has a paired_devices row.
func (s *Store) IsPaired(mac string) bool {
	mac = normalizeMAC(mac)
	for _, pd := range s.paired.Get() {
		if pd.MAC == mac {
			return true
		}
	}
	return false
}

// Get returns the paired record for mac, if any.
func (s *Store) Get(mac string) (PairedDevice, bool) {
	mac = normalizeMAC(mac)
	for _, pd := range s.paired.Get() {
		if pd.MAC == mac {
			return pd, true
		}
	}
	return PairedDevice{}, false
}

// HasAny reports whether at least one device is paired.
func (s *Store) HasAny() bool {
	return len(s.paired.Get()) > 0
}

// HasEnabled reports whether at least one paired device is enabled.
func (s *Store) HasEnabled() bool {
	return len(s.enabled.Get()) > 0
}

func optString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
