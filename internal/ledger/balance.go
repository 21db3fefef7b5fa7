package ledger

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"
	"gitlab.com/yelinaung/ledger-bot/internal/database"
	"gitlab.com/yelinaung/ledger-bot/internal/models"
	"gitlab.com/yelinaung/ledger-bot/internal/repository"
)

// Sign selects whether an entry is applied or undone.
type Sign int

// Apply books an entry; Reverse books its exact inverse.
const (
	Apply   Sign = 1
	Reverse Sign = -1
)

func (s Sign) decimal() decimal.Decimal {
	return decimal.NewFromInt(int64(s))
}

// Delta is a signed change to one user's balance.
type Delta struct {
	UserID int64
	Amount decimal.Decimal
}

// ExpenseDeltas credits the payer with the total and debits every split owner
// with their share. The payer's own share nets against the credit. Users whose
// change nets to zero are left out. The result is ordered by user ID.
func ExpenseDeltas(payerID int64, total decimal.Decimal, splits []models.ExpenseSplit, sign Sign) []Delta {
	net := map[int64]decimal.Decimal{payerID: total}
	for _, s := range splits {
		net[s.UserID] = net[s.UserID].Sub(s.Amount)
	}
	return collect(net, sign)
}

// PaymentDeltas credits the sender and debits the recipient: paying off a
// debt moves the sender's balance up towards zero.
func PaymentDeltas(fromID, toID int64, amount decimal.Decimal, sign Sign) []Delta {
	net := map[int64]decimal.Decimal{fromID: amount}
	net[toID] = net[toID].Sub(amount)
	return collect(net, sign)
}

func collect(net map[int64]decimal.Decimal, sign Sign) []Delta {
	deltas := make([]Delta, 0, len(net))
	for userID, amount := range net {
		if amount.IsZero() {
			continue
		}
		deltas = append(deltas, Delta{UserID: userID, Amount: amount.Mul(sign.decimal())})
	}
	slices.SortFunc(deltas, func(a, b Delta) int {
		return cmp.Compare(a.UserID, b.UserID)
	})
	return deltas
}

// BalanceEngine turns ledger entries into balance increments.
type BalanceEngine struct {
	checkInvariants bool
}

// NewBalanceEngine creates a BalanceEngine. With checkInvariants set, every
// application re-sums the chat and fails the unit of work unless it is zero.
func NewBalanceEngine(checkInvariants bool) *BalanceEngine {
	return &BalanceEngine{checkInvariants: checkInvariants}
}

// ApplyExpense books (or with Reverse, undoes) an expense and its splits.
func (e *BalanceEngine) ApplyExpense(ctx context.Context, db database.PGXDB, expense *models.Expense, sign Sign) error {
	return e.apply(ctx, db, expense.ChatID, ExpenseDeltas(expense.PayerID, expense.Amount, expense.Splits, sign))
}

// ApplyPayment books (or with Reverse, undoes) a payment.
func (e *BalanceEngine) ApplyPayment(ctx context.Context, db database.PGXDB, payment *models.Payment, sign Sign) error {
	return e.apply(ctx, db, payment.ChatID, PaymentDeltas(payment.FromUserID, payment.ToUserID, payment.Amount, sign))
}

// apply adjusts rows in ascending user ID order so that concurrent units of
// work always take balance row locks in the same order.
func (e *BalanceEngine) apply(ctx context.Context, db database.PGXDB, chatID int64, deltas []Delta) error {
	balances := repository.NewBalanceRepository(db)
	for _, d := range deltas {
		if _, err := balances.Adjust(ctx, chatID, d.UserID, d.Amount); err != nil {
			return err
		}
	}

	if !e.checkInvariants {
		return nil
	}
	sum, err := balances.SumByChat(ctx, chatID)
	if err != nil {
		return err
	}
	if !sum.IsZero() {
		return fmt.Errorf("%w: chat %d balances sum to %s", ErrInvariantViolated, chatID, sum.StringFixed(models.MoneyPlaces))
	}
	return nil
}
