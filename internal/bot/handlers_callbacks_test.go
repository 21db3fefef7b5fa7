package bot

import (
	"context"
	"testing"

	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/require"
	"gitlab.com/yelinaung/ledger-bot/internal/bot/mocks"
	"gitlab.com/yelinaung/ledger-bot/internal/ledger"
	appmodels "gitlab.com/yelinaung/ledger-bot/internal/models"
)

func TestHandleJoinCallbackCore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("nil callback returns early", func(t *testing.T) {
		t.Parallel()
		b, _ := setupTestBot()
		mockBot := mocks.NewMockBot()
		b.handleJoinCallbackCore(ctx, mockBot, &models.Update{})
		require.Nil(t, mockBot.LastAnsweredCallback())
	})

	t.Run("joins presser", func(t *testing.T) {
		t.Parallel()
		b, fake := setupTestBot()
		mockBot := mocks.NewMockBot()

		b.handleJoinCallbackCore(ctx, mockBot, mocks.CallbackQueryUpdate(-100, 8, 55, callbackJoin))

		require.Equal(t, []int64{8}, fake.ensured)
		answer := mockBot.LastAnsweredCallback()
		require.NotNil(t, answer)
		require.Equal(t, "callback-query-id", answer.CallbackQueryID)
		require.Equal(t, "✅ You're in.", answer.Text)
		require.True(t, answer.ShowAlert)
	})

	t.Run("failure is answered as plain text", func(t *testing.T) {
		t.Parallel()
		b, fake := setupTestBot()
		fake.err = ledger.ErrInvalidAmount
		mockBot := mocks.NewMockBot()

		b.handleJoinCallbackCore(ctx, mockBot, mocks.CallbackQueryUpdate(-100, 8, 55, callbackJoin))

		answer := mockBot.LastAnsweredCallback()
		require.Contains(t, answer.Text, "like 12.50.")
		require.NotContains(t, answer.Text, "<code>")
	})
}

func TestHandleLeaveCallbackCore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("member leaves", func(t *testing.T) {
		t.Parallel()
		b, fake := setupTestBot()
		fake.left = true
		mockBot := mocks.NewMockBot()

		b.handleLeaveCallbackCore(ctx, mockBot, mocks.CallbackQueryUpdate(-100, 8, 55, callbackLeave))
		require.Contains(t, mockBot.LastAnsweredCallback().Text, "You left")
	})

	t.Run("non-member", func(t *testing.T) {
		t.Parallel()
		b, _ := setupTestBot()
		mockBot := mocks.NewMockBot()

		b.handleLeaveCallbackCore(ctx, mockBot, mocks.CallbackQueryUpdate(-100, 8, 55, callbackLeave))
		require.Contains(t, mockBot.LastAnsweredCallback().Text, "not a member")
	})
}

func TestHandleViewCallbackCore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("balances replaces the menu message", func(t *testing.T) {
		t.Parallel()
		b, fake := setupTestBot()
		fake.balances = []appmodels.BalanceView{
			{UserID: 1, Member: "@alice", Amount: dec("5"), Active: true},
			{UserID: 2, Member: "@bob", Amount: dec("-5"), Active: true},
		}
		mockBot := mocks.NewMockBot()

		b.handleViewCallbackCore(ctx, mockBot, mocks.CallbackQueryUpdate(-100, 1, 55, callbackBalances))

		require.NotNil(t, mockBot.LastAnsweredCallback())
		edited := mockBot.LastEditedMessage()
		require.NotNil(t, edited)
		require.Equal(t, 55, edited.MessageID)
		require.Contains(t, edited.Text, "@alice is owed 5.00")
		require.NotNil(t, edited.ReplyMarkup)
	})

	t.Run("each view renders", func(t *testing.T) {
		t.Parallel()
		b, _ := setupTestBot()

		want := map[string]string{
			callbackExpenses: "No expenses recorded yet",
			callbackSettle:   "Everyone is settled up",
			callbackHelp:     "Available Commands",
		}
		for data, text := range want {
			mockBot := mocks.NewMockBot()
			b.handleViewCallbackCore(ctx, mockBot, mocks.CallbackQueryUpdate(-100, 1, 55, data))
			require.Contains(t, mockBot.LastEditedMessage().Text, text, data)
		}
	})

	t.Run("ledger failure is shown in place", func(t *testing.T) {
		t.Parallel()
		b, fake := setupTestBot()
		fake.err = ledger.ErrChatNotFound
		mockBot := mocks.NewMockBot()

		b.handleViewCallbackCore(ctx, mockBot, mocks.CallbackQueryUpdate(-100, 1, 55, callbackSettle))
		require.Contains(t, mockBot.LastEditedMessage().Text, "no ledger yet")
	})

	t.Run("unknown data is answered but not rendered", func(t *testing.T) {
		t.Parallel()
		b, _ := setupTestBot()
		mockBot := mocks.NewMockBot()

		b.handleViewCallbackCore(ctx, mockBot, mocks.CallbackQueryUpdate(-100, 1, 55, "bogus"))

		require.NotNil(t, mockBot.LastAnsweredCallback())
		require.Nil(t, mockBot.LastEditedMessage())
	})
}
