package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/tally/internal/models"
)

// CredentialRepository stores the curator's token pair, one row per principal.
type CredentialRepository struct {
	db *sql.DB
}

// NewCredentialRepository creates a new CredentialRepository with the given database connection
func NewCredentialRepository(db *sql.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Get returns the credential for principal, or an error wrapping [shared.ErrRecordNotFound].
func (r *CredentialRepository) Get(ctx context.Context, principal string) (*models.Credential, error) {
	query := `
		SELECT principal_id, access_token, refresh_token, expires_at, scope, token_type, created_at, updated_at
		FROM curator_credentials
		WHERE principal_id = ?
	`

	var c models.Credential
	err := r.db.QueryRowContext(ctx, query, principal).Scan(
		&c.PrincipalID, &c.AccessToken, &c.RefreshToken, &c.ExpiresAt, &c.Scope, &c.TokenType, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, "credential", principal)
	}
	return &c, nil
}

// Save creates the credential or overwrites it in place.
//
// The whole row is written in one statement so readers never observe a new access token
// paired with a stale expiry.
func (r *CredentialRepository) Save(ctx context.Context, c *models.Credential) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	query := `
		INSERT INTO curator_credentials (principal_id, access_token, refresh_token, expires_at, scope, token_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(principal_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			scope = excluded.scope,
			token_type = excluded.token_type,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		c.PrincipalID, c.AccessToken, c.RefreshToken, c.ExpiresAt.UTC(), c.Scope, c.TokenType, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}
