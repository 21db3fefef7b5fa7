package repository

import (
	"context"
	"fmt"

	"gitlab.com/yelinaung/ledger-bot/internal/database"
	"gitlab.com/yelinaung/ledger-bot/internal/models"
)

// PaymentRepository handles payment database operations.
type PaymentRepository struct {
	db database.PGXDB
}

// NewPaymentRepository creates a new PaymentRepository.
func NewPaymentRepository(db database.PGXDB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Append records a payment and fills in its ID and timestamp.
func (r *PaymentRepository) Append(ctx context.Context, payment *models.Payment) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO payments (chat_id, from_user_id, to_user_id, amount)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, payment.ChatID, payment.FromUserID, payment.ToUserID, payment.Amount,
	).Scan(&payment.ID, &payment.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// ListByChat returns the chat's newest payments with both parties joined.
func (r *PaymentRepository) ListByChat(ctx context.Context, chatID int64, limit int) ([]models.Payment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT p.id, p.chat_id, p.from_user_id, p.to_user_id, p.amount, p.created_at,
		       f.id, f.external_id, f.username, f.first_name, f.last_name, f.created_at, f.updated_at,
		       t.id, t.external_id, t.username, t.first_name, t.last_name, t.created_at, t.updated_at
		FROM payments p
		JOIN users f ON f.id = p.from_user_id
		JOIN users t ON t.id = p.to_user_id
		WHERE p.chat_id = $1
		ORDER BY p.created_at DESC, p.id DESC
		LIMIT $2
	`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []models.Payment
	for rows.Next() {
		var p models.Payment
		var from, to models.User
		if err := rows.Scan(&p.ID, &p.ChatID, &p.FromUserID, &p.ToUserID, &p.Amount, &p.CreatedAt,
			&from.ID, &from.ExternalID, &from.Username, &from.FirstName, &from.LastName, &from.CreatedAt, &from.UpdatedAt,
			&to.ID, &to.ExternalID, &to.Username, &to.FirstName, &to.LastName, &to.CreatedAt, &to.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		p.FromUser = &from
		p.ToUser = &to
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payments: %w", err)
	}
	return payments, nil
}
