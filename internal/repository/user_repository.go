package repository

import (
	"context"
	"fmt"
	"strings"

	"gitlab.com/yelinaung/ledger-bot/internal/database"
	"gitlab.com/yelinaung/ledger-bot/internal/models"
)

// UserRepository handles user database operations.
type UserRepository struct {
	db database.PGXDB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db database.PGXDB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, external_id, username, first_name, last_name, created_at, updated_at`

// GetOrCreate creates the user or refreshes its profile, returning the stored row.
func (r *UserRepository) GetOrCreate(ctx context.Context, externalID int64, profile models.Profile) (*models.User, error) {
	var user models.User
	err := r.db.QueryRow(ctx, `
		INSERT INTO users (external_id, username, first_name, last_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (external_id) DO UPDATE SET
			username = EXCLUDED.username,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			updated_at = NOW()
		RETURNING `+userColumns,
		externalID, profile.Username, profile.FirstName, profile.LastName,
	).Scan(&user.ID, &user.ExternalID, &user.Username, &user.FirstName, &user.LastName, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}
	return &user, nil
}

// GetByExternalID retrieves a user by their Telegram ID.
func (r *UserRepository) GetByExternalID(ctx context.Context, externalID int64) (*models.User, error) {
	var user models.User
	err := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE external_id = $1`, externalID).
		Scan(&user.ID, &user.ExternalID, &user.Username, &user.FirstName, &user.LastName, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, notFoundOr(err, "failed to get user")
	}
	return &user, nil
}

// GetByUsername retrieves a user by Telegram username, ignoring case and a
// leading "@". If the name moved between accounts the freshest profile wins.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" {
		return nil, ErrNotFound
	}

	var user models.User
	err := r.db.QueryRow(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE LOWER(username) = LOWER($1)
		ORDER BY updated_at DESC, id DESC
		LIMIT 1
	`, username).Scan(&user.ID, &user.ExternalID, &user.Username, &user.FirstName, &user.LastName, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, notFoundOr(err, "failed to get user by username")
	}
	return &user, nil
}
