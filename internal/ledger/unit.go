package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"gitlab.com/yelinaung/ledger-bot/internal/events"
	"gitlab.com/yelinaung/ledger-bot/internal/models"
	"gitlab.com/yelinaung/ledger-bot/internal/repository"
)

// unit is one ledger unit of work: a transaction, the repositories bound to
// it, and the events to publish once it commits.
type unit struct {
	tx       pgx.Tx
	chats    *repository.ChatRepository
	users    *repository.UserRepository
	members  *repository.MemberRepository
	expenses *repository.ExpenseRepository
	payments *repository.PaymentRepository
	balances *repository.BalanceRepository
	pending  []events.Event
}

func newUnit(tx pgx.Tx) *unit {
	return &unit{
		tx:       tx,
		chats:    repository.NewChatRepository(tx),
		users:    repository.NewUserRepository(tx),
		members:  repository.NewMemberRepository(tx),
		expenses: repository.NewExpenseRepository(tx),
		payments: repository.NewPaymentRepository(tx),
		balances: repository.NewBalanceRepository(tx),
	}
}

func (u *unit) emit(event events.Event) {
	u.pending = append(u.pending, event)
}

// lockChat takes the chat row lock that serializes every balance mutation of the chat.
func (u *unit) lockChat(ctx context.Context, chatExt int64) (*models.Chat, error) {
	chat, err := u.chats.LockByExternalID(ctx, chatExt)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrChatNotFound
	}
	return chat, err
}

func (u *unit) findChat(ctx context.Context, chatExt int64) (*models.Chat, error) {
	chat, err := u.chats.GetByExternalID(ctx, chatExt)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrChatNotFound
	}
	return chat, err
}

// member resolves a Telegram user and requires a current membership in chat.
func (u *unit) member(ctx context.Context, chat *models.Chat, userExt int64) (*models.User, error) {
	user, err := u.users.GetByExternalID(ctx, userExt)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotRegistered
	}
	if err != nil {
		return nil, err
	}
	return u.requireMember(ctx, chat, user)
}

func (u *unit) requireMember(ctx context.Context, chat *models.Chat, user *models.User) (*models.User, error) {
	ok, err := u.members.IsMember(ctx, chat.ID, user.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotMember
	}
	return user, nil
}

// paymentParty is member for either side of a payment, where an unknown
// user is reported as not being a member.
func (u *unit) paymentParty(ctx context.Context, chat *models.Chat, userExt int64) (*models.User, error) {
	user, err := u.member(ctx, chat, userExt)
	if errors.Is(err, ErrUserNotRegistered) {
		return nil, ErrNotMember
	}
	return user, err
}
