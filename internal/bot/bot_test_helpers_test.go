package bot

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"gitlab.com/yelinaung/ledger-bot/internal/config"
	"gitlab.com/yelinaung/ledger-bot/internal/models"
)

// expenseCall records the arguments of one AddExpense call.
type expenseCall struct {
	ChatID      int64
	PayerID     int64
	Amount      decimal.Decimal
	Description string
	Split       string
}

// paymentCall records the arguments of one RecordPayment or
// RecordPaymentToUsername call.
type paymentCall struct {
	ChatID   int64
	FromID   int64
	ToID     int64
	Username string
	Amount   decimal.Decimal
}

// fakeLedger is an in-memory Ledger whose answers are set per test.
type fakeLedger struct {
	mu sync.Mutex

	err error

	registered map[int64]models.Profile
	ensured    []int64
	left       bool
	added      bool
	removed    bool

	expenseID int64
	expenses  []expenseCall
	removedID int64

	payments []paymentCall

	members      []models.MemberView
	recent       []models.ExpenseView
	paymentViews []models.PaymentView
	balances     []models.BalanceView
	transfers    []models.TransferSuggestion
	listLimit    int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{registered: make(map[int64]models.Profile), expenseID: 1}
}

func (f *fakeLedger) RegisterUser(_ context.Context, userExt int64, profile models.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered[userExt] = profile
	return f.err
}

func (f *fakeLedger) EnsureMember(_ context.Context, _, userExt int64, _ models.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.ensured = append(f.ensured, userExt)
	return nil
}

func (f *fakeLedger) Leave(_ context.Context, _, _ int64) (bool, error) {
	return f.left, f.err
}

func (f *fakeLedger) AddMemberByUsername(_ context.Context, _ int64, _ string) (bool, error) {
	return f.added, f.err
}

func (f *fakeLedger) RemoveMemberByUsername(_ context.Context, _ int64, _ string) (bool, error) {
	return f.removed, f.err
}

func (f *fakeLedger) ListMembers(_ context.Context, _ int64) ([]models.MemberView, error) {
	return f.members, f.err
}

func (f *fakeLedger) AddExpense(_ context.Context, chatExt, payerExt int64, amount decimal.Decimal, description, rawSplit string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.expenses = append(f.expenses, expenseCall{
		ChatID:      chatExt,
		PayerID:     payerExt,
		Amount:      amount,
		Description: description,
		Split:       rawSplit,
	})
	return f.expenseID, nil
}

func (f *fakeLedger) RemoveExpense(_ context.Context, _, expenseID int64) error {
	if f.err != nil {
		return f.err
	}
	f.removedID = expenseID
	return nil
}

func (f *fakeLedger) ListRecentExpenses(_ context.Context, _ int64, limit int) ([]models.ExpenseView, error) {
	f.listLimit = limit
	return f.recent, f.err
}

func (f *fakeLedger) ExportExpenses(_ context.Context, _ int64) ([]models.ExpenseView, error) {
	return f.recent, f.err
}

func (f *fakeLedger) RecordPayment(_ context.Context, chatExt, fromExt, toExt int64, amount decimal.Decimal) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.payments = append(f.payments, paymentCall{ChatID: chatExt, FromID: fromExt, ToID: toExt, Amount: amount})
	return int64(len(f.payments)), nil
}

func (f *fakeLedger) RecordPaymentToUsername(_ context.Context, chatExt, fromExt int64, toUsername string, amount decimal.Decimal) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.payments = append(f.payments, paymentCall{ChatID: chatExt, FromID: fromExt, Username: toUsername, Amount: amount})
	return int64(len(f.payments)), nil
}

func (f *fakeLedger) ListRecentPayments(_ context.Context, _ int64, limit int) ([]models.PaymentView, error) {
	f.listLimit = limit
	return f.paymentViews, f.err
}

func (f *fakeLedger) ListBalances(_ context.Context, _ int64) ([]models.BalanceView, error) {
	return f.balances, f.err
}

func (f *fakeLedger) SuggestSettlement(_ context.Context, _ int64) ([]models.TransferSuggestion, error) {
	return f.transfers, f.err
}

// setupTestBot creates a Bot backed by a fresh fakeLedger.
func setupTestBot() (*Bot, *fakeLedger) {
	fake := newFakeLedger()
	cfg := &config.Config{
		TelegramBotToken:    "test-token",
		DatabaseURL:         "test-url",
		RecentExpensesLimit: 10,
	}
	return &Bot{cfg: cfg, ledger: fake}, fake
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
