package models

import "time"

// AdminUser represents an operator account for the audit/debug endpoints.
type AdminUser struct {
	ID           int       `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Name         string    `db:"name" json:"name"`
	IsActive     bool      `db:"is_active" json:"isActive"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

// Setting is a persisted key-value pair for install-scoped state such as the
// generated webhook secret.
type Setting struct {
	Key       string    `db:"key" json:"key"`
	Value     string    `db:"value" json:"value"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// SettingWebhookSecret is the settings key holding the per-install webhook
// secret. Generated once; constant across restarts.
const SettingWebhookSecret = "webhook_secret"
