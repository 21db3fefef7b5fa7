package repository

import (
	"context"
	"fmt"
	"time"

	"gitlab.com/yelinaung/ledger-bot/internal/database"
	"gitlab.com/yelinaung/ledger-bot/internal/models"
)

// ExpenseRepository handles expense and split database operations.
type ExpenseRepository struct {
	db database.PGXDB
}

// NewExpenseRepository creates a new ExpenseRepository.
func NewExpenseRepository(db database.PGXDB) *ExpenseRepository {
	return &ExpenseRepository{db: db}
}

// Append inserts an expense together with its splits as one unit.
// Inside a transaction the unit is a savepoint; on a pool it is its own transaction.
func (r *ExpenseRepository) Append(ctx context.Context, expense *models.Expense, splits []models.ExpenseSplit) error {
	beginner, ok := r.db.(database.TxBeginner)
	if !ok {
		return fmt.Errorf("failed to append expense: %T cannot begin a transaction", r.db)
	}

	tx, err := beginner.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin expense insert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO expenses (chat_id, payer_id, amount, description)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, expense.ChatID, expense.PayerID, expense.Amount, expense.Description,
	).Scan(&expense.ID, &expense.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create expense: %w", err)
	}

	expense.Splits = make([]models.ExpenseSplit, 0, len(splits))
	for _, s := range splits {
		s.ExpenseID = expense.ID
		err := tx.QueryRow(ctx, `
			INSERT INTO expense_splits (expense_id, user_id, amount) VALUES ($1, $2, $3)
			RETURNING id
		`, s.ExpenseID, s.UserID, s.Amount).Scan(&s.ID)
		if err != nil {
			return fmt.Errorf("failed to add split for user %d to expense %d: %w", s.UserID, expense.ID, err)
		}
		expense.Splits = append(expense.Splits, s)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit expense: %w", err)
	}
	return nil
}

// GetByID retrieves an expense of the chat with its payer and splits, reversed or not.
func (r *ExpenseRepository) GetByID(ctx context.Context, chatID, id int64) (*models.Expense, error) {
	rows, err := r.db.Query(ctx, expenseSelect+`
		WHERE e.chat_id = $1 AND e.id = $2
	`, chatID, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query expense: %w", err)
	}
	defer rows.Close()

	expenses, err := scanExpenses(rows)
	if err != nil {
		return nil, err
	}
	if len(expenses) == 0 {
		return nil, ErrNotFound
	}
	if err := r.loadSplits(ctx, expenses); err != nil {
		return nil, err
	}
	return &expenses[0], nil
}

// MarkReversed stamps reversed_at on a live expense. It reports false when the
// expense is unknown in the chat or was already reversed.
func (r *ExpenseRepository) MarkReversed(ctx context.Context, chatID, id int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE expenses SET reversed_at = NOW()
		WHERE chat_id = $1 AND id = $2 AND reversed_at IS NULL
	`, chatID, id)
	if err != nil {
		return false, fmt.Errorf("failed to reverse expense: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListByChat returns the chat's newest live expenses, splits included.
func (r *ExpenseRepository) ListByChat(ctx context.Context, chatID int64, limit int) ([]models.Expense, error) {
	rows, err := r.db.Query(ctx, expenseSelect+`
		WHERE e.chat_id = $1 AND e.reversed_at IS NULL
		ORDER BY e.created_at DESC, e.id DESC
		LIMIT $2
	`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query expenses: %w", err)
	}
	defer rows.Close()

	expenses, err := scanExpenses(rows)
	if err != nil {
		return nil, err
	}
	if err := r.loadSplits(ctx, expenses); err != nil {
		return nil, err
	}
	return expenses, nil
}

// ListAllByChat returns every live expense of the chat, oldest first.
func (r *ExpenseRepository) ListAllByChat(ctx context.Context, chatID int64) ([]models.Expense, error) {
	rows, err := r.db.Query(ctx, expenseSelect+`
		WHERE e.chat_id = $1 AND e.reversed_at IS NULL
		ORDER BY e.created_at, e.id
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query all expenses: %w", err)
	}
	defer rows.Close()

	expenses, err := scanExpenses(rows)
	if err != nil {
		return nil, err
	}
	if err := r.loadSplits(ctx, expenses); err != nil {
		return nil, err
	}
	return expenses, nil
}

const expenseSelect = `
	SELECT e.id, e.chat_id, e.payer_id, e.amount, e.description, e.created_at, e.reversed_at,
	       u.id, u.external_id, u.username, u.first_name, u.last_name, u.created_at, u.updated_at
	FROM expenses e
	JOIN users u ON u.id = e.payer_id`

// loadSplits batch-loads the splits of the given expenses in one query.
func (r *ExpenseRepository) loadSplits(ctx context.Context, expenses []models.Expense) error {
	if len(expenses) == 0 {
		return nil
	}

	ids := make([]int64, len(expenses))
	index := make(map[int64]int, len(expenses))
	for i, e := range expenses {
		ids[i] = e.ID
		index[e.ID] = i
	}

	rows, err := r.db.Query(ctx, `
		SELECT s.id, s.expense_id, s.user_id, s.amount,
		       u.id, u.external_id, u.username, u.first_name, u.last_name, u.created_at, u.updated_at
		FROM expense_splits s
		JOIN users u ON u.id = s.user_id
		WHERE s.expense_id = ANY($1)
		ORDER BY s.expense_id, s.user_id
	`, ids)
	if err != nil {
		return fmt.Errorf("failed to query splits: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s models.ExpenseSplit
		var u models.User
		if err := rows.Scan(&s.ID, &s.ExpenseID, &s.UserID, &s.Amount,
			&u.ID, &u.ExternalID, &u.Username, &u.FirstName, &u.LastName, &u.CreatedAt, &u.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to scan split: %w", err)
		}
		s.User = &u
		i := index[s.ExpenseID]
		expenses[i].Splits = append(expenses[i].Splits, s)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating splits: %w", err)
	}
	return nil
}

// scanExpenses is a helper to scan expense rows with their payer joined.
func scanExpenses(rows rowScanner) ([]models.Expense, error) {
	var expenses []models.Expense
	for rows.Next() {
		var exp models.Expense
		var payer models.User
		var reversedAt *time.Time

		if err := rows.Scan(
			&exp.ID, &exp.ChatID, &exp.PayerID, &exp.Amount, &exp.Description, &exp.CreatedAt, &reversedAt,
			&payer.ID, &payer.ExternalID, &payer.Username, &payer.FirstName, &payer.LastName,
			&payer.CreatedAt, &payer.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}

		exp.ReversedAt = reversedAt
		exp.Payer = &payer
		expenses = append(expenses, exp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating expenses: %w", err)
	}
	return expenses, nil
}
