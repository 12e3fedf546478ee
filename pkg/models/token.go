package models

import "time"

// Token is a user's decrypted access token for one provider app.
type Token struct {
	UserID            string     `json:"user_id"`
	App               string     `json:"app"`
	AccessToken       string     `json:"-"`
	ExternalAccountID string     `json:"external_account_id,omitempty"`
	ConnectedAt       time.Time  `json:"connected_at"`
	LastUsedAt        *time.Time `json:"last_used_at,omitempty"`
}
