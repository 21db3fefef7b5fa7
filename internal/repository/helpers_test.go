package repository

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gitlab.com/yelinaung/ledger-bot/internal/database"
	"gitlab.com/yelinaung/ledger-bot/internal/models"
)

// externalSeq hands out Telegram IDs that do not collide between parallel tests.
var externalSeq atomic.Int64

func init() {
	externalSeq.Store(time.Now().UnixNano() % 1_000_000_000)
}

func nextExternalID() int64 {
	return externalSeq.Add(1)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	ctx      context.Context
	db       database.TestTxDB
	chats    *ChatRepository
	users    *UserRepository
	members  *MemberRepository
	expenses *ExpenseRepository
	payments *PaymentRepository
	balances *BalanceRepository
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()

	db := database.TestTx(t)
	return &fixture{
		ctx:      context.Background(),
		db:       db,
		chats:    NewChatRepository(db),
		users:    NewUserRepository(db),
		members:  NewMemberRepository(db),
		expenses: NewExpenseRepository(db),
		payments: NewPaymentRepository(db),
		balances: NewBalanceRepository(db),
	}
}

func (f *fixture) chat(t *testing.T) *models.Chat {
	t.Helper()
	chat, err := f.chats.GetOrCreate(f.ctx, -nextExternalID())
	require.NoError(t, err)
	return chat
}

func (f *fixture) user(t *testing.T, username string) *models.User {
	t.Helper()
	user, err := f.users.GetOrCreate(f.ctx, nextExternalID(), models.Profile{Username: username, FirstName: "Test"})
	require.NoError(t, err)
	return user
}
