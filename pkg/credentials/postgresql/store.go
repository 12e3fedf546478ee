// Package postgresql reads encrypted app tokens from the app_tokens table.
package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/unifyos/unify/pkg/credentials"
	"github.com/unifyos/unify/pkg/models"
	"github.com/unifyos/unify/pkg/persistence"
)

// Store implements credentials.Store and credentials.IdentityResolver on top
// of the app_tokens table created by the execution store migrations.
type Store struct {
	db     *sql.DB
	cipher *credentials.TokenCipher
	logger *slog.Logger
}

func NewStore(db *sql.DB, cipher *credentials.TokenCipher, logger *slog.Logger) *Store {
	return &Store{db: db, cipher: cipher, logger: logger}
}

// Token decrypts the user's token for app and records its use.
func (s *Store) Token(ctx context.Context, userID, app string) (*models.Token, error) {
	query := `
		UPDATE app_tokens
		SET last_used_at = NOW()
		WHERE user_id = $1 AND app_name = $2 AND connected
		RETURNING access_token, external_account_id, connected_at, last_used_at
	`

	var (
		token             = models.Token{UserID: userID, App: app}
		encrypted         string
		externalAccountID sql.NullString
		lastUsedAt        time.Time
	)

	err := s.db.QueryRowContext(ctx, query, userID, app).Scan(&encrypted, &externalAccountID, &token.ConnectedAt, &lastUsedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, credentials.ErrNotConnected
		}

		return nil, persistence.Unavailable("load app token", err)
	}

	token.AccessToken, err = s.cipher.Decrypt(encrypted)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to decrypt app token", "user_id", userID, "app", app, "error", err)

		return nil, fmt.Errorf("token for %s: %w", app, err)
	}

	token.ExternalAccountID = externalAccountID.String
	token.LastUsedAt = &lastUsedAt

	return &token, nil
}

// Connected reports whether the user holds a usable token for app without
// touching last_used_at.
func (s *Store) Connected(ctx context.Context, userID, app string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM app_tokens WHERE user_id = $1 AND app_name = $2 AND connected)`

	var connected bool

	err := s.db.QueryRowContext(ctx, query, userID, app).Scan(&connected)
	if err != nil {
		return false, persistence.Unavailable("check app token", err)
	}

	return connected, nil
}

func (s *Store) ResolveUser(ctx context.Context, app, externalAccountID string) (string, error) {
	query := `
		SELECT user_id
		FROM app_tokens
		WHERE app_name = $1 AND external_account_id = $2 AND connected
		ORDER BY connected_at DESC
		LIMIT 1
	`

	var userID string

	err := s.db.QueryRowContext(ctx, query, app, externalAccountID).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", credentials.ErrUnknownAccount
		}

		return "", persistence.Unavailable("resolve external account", err)
	}

	return userID, nil
}

// Connect encrypts and upserts a token.
func (s *Store) Connect(ctx context.Context, token models.Token) error {
	encrypted, err := s.cipher.Encrypt(token.AccessToken)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO app_tokens (user_id, app_name, access_token, external_account_id, connected, connected_at)
		VALUES ($1, $2, $3, $4, true, NOW())
		ON CONFLICT (user_id, app_name) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			external_account_id = EXCLUDED.external_account_id,
			connected = true,
			connected_at = NOW()
	`

	_, err = s.db.ExecContext(ctx, query, token.UserID, token.App, encrypted,
		sql.NullString{String: token.ExternalAccountID, Valid: token.ExternalAccountID != ""})
	if err != nil {
		return persistence.Unavailable("save app token", err)
	}

	return nil
}

// Disconnect marks the token unusable without deleting it.
func (s *Store) Disconnect(ctx context.Context, userID, app string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE app_tokens SET connected = false WHERE user_id = $1 AND app_name = $2`, userID, app)
	if err != nil {
		return persistence.Unavailable("disconnect app token", err)
	}

	return nil
}
