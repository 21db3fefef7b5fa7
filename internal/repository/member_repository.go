package repository

import (
	"context"
	"fmt"

	"gitlab.com/yelinaung/ledger-bot/internal/database"
	"gitlab.com/yelinaung/ledger-bot/internal/models"
)

// MemberRepository handles chat membership.
type MemberRepository struct {
	db database.PGXDB
}

// NewMemberRepository creates a new MemberRepository.
func NewMemberRepository(db database.PGXDB) *MemberRepository {
	return &MemberRepository{db: db}
}

// Add makes the user a member of the chat. It reports whether a new
// membership was created; adding an existing member is a no-op.
func (r *MemberRepository) Add(ctx context.Context, chatID, userID int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO chat_members (chat_id, user_id) VALUES ($1, $2)
		ON CONFLICT (chat_id, user_id) DO NOTHING
	`, chatID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to add member: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Remove ends the user's membership. It reports whether a membership existed.
func (r *MemberRepository) Remove(ctx context.Context, chatID, userID int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM chat_members WHERE chat_id = $1 AND user_id = $2`, chatID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to remove member: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// IsMember reports whether the user currently belongs to the chat.
func (r *MemberRepository) IsMember(ctx context.Context, chatID, userID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM chat_members WHERE chat_id = $1 AND user_id = $2)
	`, chatID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return exists, nil
}

// List returns the chat's current members in join order.
func (r *MemberRepository) List(ctx context.Context, chatID int64) ([]models.Member, error) {
	rows, err := r.db.Query(ctx, `
		SELECT m.chat_id, m.joined_at,
		       u.id, u.external_id, u.username, u.first_name, u.last_name, u.created_at, u.updated_at
		FROM chat_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.chat_id = $1
		ORDER BY m.joined_at, m.id
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()

	var members []models.Member
	for rows.Next() {
		var m models.Member
		if err := rows.Scan(&m.ChatID, &m.JoinedAt,
			&m.User.ID, &m.User.ExternalID, &m.User.Username, &m.User.FirstName, &m.User.LastName,
			&m.User.CreatedAt, &m.User.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating members: %w", err)
	}
	return members, nil
}
