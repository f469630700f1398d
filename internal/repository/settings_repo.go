package repository

import (
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// SettingsRepository stores install-scoped key-value state, such as the
// generated webhook secret, so it survives restarts.
type SettingsRepository struct {
	db *sqlx.DB
}

// NewSettingsRepository creates a new SettingsRepository.
func NewSettingsRepository(db *sqlx.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get returns the value for a key, or "" when not set.
func (r *SettingsRepository) Get(key string) (string, error) {
	var v string
	err := r.db.Get(&v, `SELECT value FROM settings WHERE key = $1 LIMIT 1`, key)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

// Set upserts a key-value pair.
func (r *SettingsRepository) Set(key, value string) error {
	const q = `
        INSERT INTO settings (key, value, updated_at)
        VALUES ($1, $2, NOW())
        ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`
	_, err := r.db.Exec(q, key, value)
	return err
}
