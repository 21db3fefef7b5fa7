// Package models defines the domain entities for the group ledger.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of fractional digits kept for every amount.
const MoneyPlaces = 2

// MaxDescriptionLength is the maximum stored length of an expense description.
const MaxDescriptionLength = 255

// Chat is a Telegram group. It owns members, expenses, payments and balances.
type Chat struct {
	ID         int64
	ExternalID int64
	CreatedAt  time.Time
}

// Profile carries the display fields Telegram sends with every update.
type Profile struct {
	Username  string
	FirstName string
	LastName  string
}

// User is a person, shared across all chats they take part in.
type User struct {
	ID         int64
	ExternalID int64
	Username   string
	FirstName  string
	LastName   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DisplayName returns the best human-readable name for the user.
func (u User) DisplayName() string {
	switch {
	case u.Username != "":
		return "@" + u.Username
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return "user"
	}
}

// Member is a user's membership in a chat.
type Member struct {
	ChatID   int64
	User     User
	JoinedAt time.Time
}

// Expense is an amount paid by one member on behalf of the chat.
type Expense struct {
	ID          int64
	ChatID      int64
	PayerID     int64
	Payer       *User
	Amount      decimal.Decimal
	Description string
	Splits      []ExpenseSplit
	CreatedAt   time.Time
	ReversedAt  *time.Time
}

// Reversed reports whether the expense has been cancelled by a reversing entry.
func (e Expense) Reversed() bool {
	return e.ReversedAt != nil
}

// ExpenseSplit is the portion of one expense owed by one member.
type ExpenseSplit struct {
	ID        int64
	ExpenseID int64
	UserID    int64
	User      *User
	Amount    decimal.Decimal
}

// Payment is a direct transfer between two members of the same chat.
type Payment struct {
	ID         int64
	ChatID     int64
	FromUserID int64
	ToUserID   int64
	FromUser   *User
	ToUser     *User
	Amount     decimal.Decimal
	CreatedAt  time.Time
}

// Balance is the net amount a user is owed (positive) or owes (negative) in a chat.
type Balance struct {
	ChatID    int64
	UserID    int64
	User      *User
	Amount    decimal.Decimal
	Active    bool
	UpdatedAt time.Time
}
