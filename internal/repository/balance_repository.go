package repository

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"gitlab.com/yelinaung/ledger-bot/internal/database"
	"gitlab.com/yelinaung/ledger-bot/internal/models"
)

// BalanceRepository handles per-member net balances.
type BalanceRepository struct {
	db database.PGXDB
}

// NewBalanceRepository creates a new BalanceRepository.
func NewBalanceRepository(db database.PGXDB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

// Ensure creates a zero balance row for the user if none exists.
// An existing row, including one left behind by an earlier leave, is kept.
func (r *BalanceRepository) Ensure(ctx context.Context, chatID, userID int64) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO balances (chat_id, user_id) VALUES ($1, $2)
		ON CONFLICT (chat_id, user_id) DO NOTHING
	`, chatID, userID)
	if err != nil {
		return fmt.Errorf("failed to ensure balance: %w", err)
	}
	return nil
}

// Adjust adds delta to the user's balance and returns the new value.
// The increment happens in the database under the row lock, never as a
// read followed by a blind write.
func (r *BalanceRepository) Adjust(ctx context.Context, chatID, userID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.db.QueryRow(ctx, `
		INSERT INTO balances (chat_id, user_id, balance, updated_at) VALUES ($1, $2, $3, NOW())
		ON CONFLICT (chat_id, user_id) DO UPDATE SET
			balance = balances.balance + EXCLUDED.balance,
			updated_at = NOW()
		RETURNING balance
	`, chatID, userID, delta).Scan(&balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to adjust balance: %w", err)
	}
	return balance, nil
}

// Get returns the user's balance, zero if the user has none yet.
func (r *BalanceRepository) Get(ctx context.Context, chatID, userID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE((SELECT balance FROM balances WHERE chat_id = $1 AND user_id = $2), 0)
	`, chatID, userID).Scan(&balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// ListByChat returns every balance row of the chat ordered by user ID.
// Active is true for users who are still members.
func (r *BalanceRepository) ListByChat(ctx context.Context, chatID int64) ([]models.Balance, error) {
	rows, err := r.db.Query(ctx, `
		SELECT b.chat_id, b.user_id, b.balance, b.updated_at, (m.id IS NOT NULL),
		       u.id, u.external_id, u.username, u.first_name, u.last_name, u.created_at, u.updated_at
		FROM balances b
		JOIN users u ON u.id = b.user_id
		LEFT JOIN chat_members m ON m.chat_id = b.chat_id AND m.user_id = b.user_id
		WHERE b.chat_id = $1
		ORDER BY b.user_id
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	var balances []models.Balance
	for rows.Next() {
		var b models.Balance
		var u models.User
		if err := rows.Scan(&b.ChatID, &b.UserID, &b.Amount, &b.UpdatedAt, &b.Active,
			&u.ID, &u.ExternalID, &u.Username, &u.FirstName, &u.LastName, &u.CreatedAt, &u.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		b.User = &u
		balances = append(balances, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating balances: %w", err)
	}
	return balances, nil
}

// SumByChat returns the sum of all balances in the chat. A consistent ledger sums to zero.
func (r *BalanceRepository) SumByChat(ctx context.Context, chatID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(balance), 0) FROM balances WHERE chat_id = $1
	`, chatID).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum balances: %w", err)
	}
	return total, nil
}
