package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hirewire/inboxsync/internal/settings"
)

// StatusStore persists provider connection status between sessions. It is
// the fallback layer behind the in-memory settings cache and satisfies
// settings.Store.
type StatusStore struct {
	db *sql.DB
}

// NewStatusStore creates a new status store from a base store
func NewStatusStore(store *Store) *StatusStore {
	if store == nil {
		return nil
	}
	return &StatusStore{db: store.DB()}
}

// Save upserts the status for a provider key
func (ss *StatusStore) Save(key string, st settings.Status, fetchedAt time.Time) error {
	if ss == nil || ss.db == nil {
		return fmt.Errorf("status store not initialized")
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("empty status key")
	}
	_, err := ss.db.Exec(`INSERT INTO connection_status(key, connected, email, fetched_at)
VALUES(?,?,?,?)
ON CONFLICT(key) DO UPDATE SET connected=excluded.connected, email=excluded.email, fetched_at=excluded.fetched_at;
`, key, st.Connected, st.Email, fetchedAt.Unix())
	return err
}

// Load returns the persisted status and its fetch time if present
func (ss *StatusStore) Load(key string) (settings.Status, time.Time, bool, error) {
	if ss == nil || ss.db == nil {
		return settings.Status{}, time.Time{}, false, fmt.Errorf("status store not initialized")
	}
	var st settings.Status
	var fetchedAt int64
	err := ss.db.QueryRow(`SELECT connected, email, fetched_at FROM connection_status WHERE key=?`, key).
		Scan(&st.Connected, &st.Email, &fetchedAt)
	if err == sql.ErrNoRows {
		return settings.Status{}, time.Time{}, false, nil
	}
	if err != nil {
		return settings.Status{}, time.Time{}, false, err
	}
	return st, time.Unix(fetchedAt, 0), true, nil
}

// Delete removes the persisted status for a provider key
func (ss *StatusStore) Delete(key string) error {
	if ss == nil || ss.db == nil {
		return fmt.Errorf("status store not initialized")
	}
	_, err := ss.db.Exec(`DELETE FROM connection_status WHERE key=?`, key)
	return err
}
