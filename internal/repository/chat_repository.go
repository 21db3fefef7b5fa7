package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"gitlab.com/yelinaung/ledger-bot/internal/database"
	"gitlab.com/yelinaung/ledger-bot/internal/models"
)

// ChatRepository handles chat database operations.
type ChatRepository struct {
	db database.PGXDB
}

// NewChatRepository creates a new ChatRepository.
func NewChatRepository(db database.PGXDB) *ChatRepository {
	return &ChatRepository{db: db}
}

// GetOrCreate returns the chat with the given Telegram ID, creating it if needed.
// A concurrent insert of the same chat is absorbed by ON CONFLICT and a re-read.
func (r *ChatRepository) GetOrCreate(ctx context.Context, externalID int64) (*models.Chat, error) {
	var chat models.Chat
	err := r.db.QueryRow(ctx, `
		INSERT INTO chats (external_id) VALUES ($1)
		ON CONFLICT (external_id) DO NOTHING
		RETURNING id, external_id, created_at
	`, externalID).Scan(&chat.ID, &chat.ExternalID, &chat.CreatedAt)
	if err == nil {
		return &chat, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to insert chat: %w", err)
	}
	return r.GetByExternalID(ctx, externalID)
}

// GetByExternalID retrieves a chat by its Telegram ID.
func (r *ChatRepository) GetByExternalID(ctx context.Context, externalID int64) (*models.Chat, error) {
	var chat models.Chat
	err := r.db.QueryRow(ctx, `
		SELECT id, external_id, created_at FROM chats WHERE external_id = $1
	`, externalID).Scan(&chat.ID, &chat.ExternalID, &chat.CreatedAt)
	if err != nil {
		return nil, notFoundOr(err, "failed to get chat")
	}
	return &chat, nil
}

// LockByExternalID retrieves a chat and holds its row lock until the
// surrounding transaction ends. All balance mutations of a chat take this
// lock first, so they are applied one at a time.
func (r *ChatRepository) LockByExternalID(ctx context.Context, externalID int64) (*models.Chat, error) {
	var chat models.Chat
	err := r.db.QueryRow(ctx, `
		SELECT id, external_id, created_at FROM chats WHERE external_id = $1 FOR UPDATE
	`, externalID).Scan(&chat.ID, &chat.ExternalID, &chat.CreatedAt)
	if err != nil {
		return nil, notFoundOr(err, "failed to lock chat")
	}
	return &chat, nil
}
