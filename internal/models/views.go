package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SplitView is one member's share of an expense, ready for display.
type SplitView struct {
	Member string
	Amount decimal.Decimal
}

// ExpenseView is the read model returned to the transport layer.
type ExpenseView struct {
	ID          int64
	PaidBy      string
	Amount      decimal.Decimal
	Description string
	Splits      []SplitView
	CreatedAt   time.Time
}

// PaymentView is the read model of a recorded payment.
type PaymentView struct {
	ID        int64
	From      string
	To        string
	Amount    decimal.Decimal
	CreatedAt time.Time
}

// BalanceView is one member's net position in a chat. UserID is the Telegram
// user ID; Active is false for a departed member still carrying a balance.
type BalanceView struct {
	UserID int64
	Member string
	Amount decimal.Decimal
	Active bool
}

// MemberView is a current chat member.
type MemberView struct {
	UserID   int64
	Member   string
	JoinedAt time.Time
}

// TransferSuggestion is one payment that helps bring the chat to zero.
// The user IDs are Telegram user IDs.
type TransferSuggestion struct {
	FromUserID int64
	ToUserID   int64
	From       string
	To         string
	Amount     decimal.Decimal
}
