package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"gitlab.com/yelinaung/ledger-bot/internal/ledger"
	"gitlab.com/yelinaung/ledger-bot/internal/logger"
)

const (
	callbackJoin     = "join_group"
	callbackLeave    = "leave_group"
	callbackExpenses = "view_expenses_breakdown"
	callbackBalances = "view_balances"
	callbackSettle   = "settle_up"
	callbackHelp     = "help"
)

const helpText = `📚 <b>Available Commands</b>

<b>Members:</b>
• <code>/join</code> - Join this chat's ledger
• <code>/leave</code> - Leave the ledger (your balance is kept)
• <code>/members</code> - List members
• <code>/add @user</code> - Add a user who has talked to the bot
• <code>/remove @user</code> - Remove a member

<b>Expenses:</b>
• <code>/expense_add &lt;amount&gt; &lt;description&gt; [split]</code> - Record an expense you paid
• <code>/expense_view</code> - Show recent expenses
• <code>/expense_remove &lt;id&gt;</code> - Reverse an expense
• <code>/export</code> - Download all expenses as CSV

<b>Splits:</b>
• nothing - split equally between everyone
• <code>@alice @bob</code> - split equally between them
• <code>@alice=10 @bob=20.50</code> - exact amounts
• <code>@alice=60% @bob=40%</code> - percentages
• <code>@alice=2 @bob=1</code> or <code>@alice=2x @bob=1x</code> - shares
• <code>@me</code> is you

<b>Settling up:</b>
• <code>/pay @user &lt;amount&gt;</code> - Record a payment you made
• <code>/payments</code> - Show recent payments
• <code>/balances</code> - Show who owes what
• <code>/settle</code> - Suggest payments that settle everyone

<b>Other:</b>
• <code>/help</code> - Show this help message`

// extractCommandArgs strips the /command prefix (and optional @botname suffix)
// from a message and returns the remaining trimmed arguments.
func extractCommandArgs(text, command string) string {
	args := strings.TrimSpace(strings.TrimPrefix(text, command))
	if strings.HasPrefix(args, "@") && !strings.HasPrefix(text, command+" ") {
		if spaceIdx := strings.Index(args, " "); spaceIdx != -1 {
			args = strings.TrimSpace(args[spaceIdx:])
		} else {
			args = ""
		}
	}
	return args
}

// escapeHTML escapes the characters Telegram's HTML parse mode reserves.
func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// formatGreeting returns a greeting suffix with the user's name.
func formatGreeting(firstName string) string {
	if firstName == "" {
		return ""
	}
	return ", " + escapeHTML(firstName)
}

// userMessage renders a ledger failure as a reply.
func userMessage(err error) string {
	switch {
	case errors.Is(err, ledger.ErrServer):
		return "❌ Something went wrong. Please try again."
	case errors.Is(err, ledger.ErrChatNotFound):
		return "❌ This chat has no ledger yet. Use /join to start one."
	case errors.Is(err, ledger.ErrUserNotRegistered):
		return "❌ I don't know that user yet. Ask them to send /start first."
	case errors.Is(err, ledger.ErrNotMember):
		return "❌ Everyone involved must be a member of this ledger. Use /join first."
	case errors.Is(err, ledger.ErrNotFound):
		return "❌ Expense not found."
	case errors.Is(err, ledger.ErrInvalidAmount):
		return "❌ Invalid amount. Use a positive number like <code>12.50</code>."
	case errors.Is(err, ledger.ErrAmountMismatch):
		return "❌ The split doesn't add up: " + escapeHTML(err.Error())
	case errors.Is(err, ledger.ErrUnknownMember):
		return "❌ " + escapeHTML(err.Error()) + ". Only current members can be mentioned."
	case errors.Is(err, ledger.ErrInconsistentSyntax):
		return "❌ I couldn't read that split: " + escapeHTML(err.Error()) + "\n\nSee /help for examples."
	default:
		return "❌ Something went wrong. Please try again."
	}
}

// replyError logs unexpected failures and sends the rendered message.
func replyError(ctx context.Context, tg TelegramAPI, chatID int64, op string, err error) {
	if !ledger.IsDomainError(err) {
		logger.ForChat(chatID).Error().Err(err).Str("op", op).Msg("Ledger operation failed")
	}
	sendHTML(ctx, tg, chatID, userMessage(err), nil)
}

// sendHTML sends text in HTML parse mode, logging delivery failures.
func sendHTML(ctx context.Context, tg TelegramAPI, chatID int64, text string, markup models.ReplyMarkup) {
	_, err := tg.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        text,
		ParseMode:   models.ParseModeHTML,
		ReplyMarkup: markup,
	})
	if err != nil {
		logger.ForChat(chatID).Error().Err(err).Msg("Failed to send message")
	}
}

// mainMenuKeyboard is attached to /start and to every menu view.
func mainMenuKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "➕ Join", CallbackData: callbackJoin},
				{Text: "🚪 Leave", CallbackData: callbackLeave},
			},
			{
				{Text: "🧾 Expenses", CallbackData: callbackExpenses},
				{Text: "💰 Balances", CallbackData: callbackBalances},
			},
			{
				{Text: "🤝 Settle up", CallbackData: callbackSettle},
				{Text: "❓ Help", CallbackData: callbackHelp},
			},
		},
	}
}

// handleStart handles the /start command.
func (b *Bot) handleStart(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	b.handleStartCore(ctx, tgBot, update)
}

// handleStartCore provisions the sender as a member and shows the menu.
func (b *Bot) handleStartCore(ctx context.Context, tg TelegramAPI, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}

	chatID := update.Message.Chat.ID
	profile, _ := extractProfile(update)
	if err := b.ledger.EnsureMember(ctx, chatID, update.Message.From.ID, profile); err != nil {
		replyError(ctx, tg, chatID, "start", err)
		return
	}

	text := fmt.Sprintf(`👋 Welcome%s!

I keep this group's shared expenses and tell everyone who owes whom.

<b>Quick Start:</b>
• Everyone sends /join
• Record what you paid: <code>/expense_add 90 Dinner</code>
• Check <code>/balances</code> and <code>/settle</code> when it's time to pay up

Use /help to see all available commands.`,
		formatGreeting(update.Message.From.FirstName))

	logger.ForChat(chatID).Debug().Msg("Sending /start response")
	sendHTML(ctx, tg, chatID, text, mainMenuKeyboard())
}

// handleHelp handles the /help command.
func (b *Bot) handleHelp(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	b.handleHelpCore(ctx, tgBot, update)
}

// handleHelpCore is the testable implementation of handleHelp.
func (b *Bot) handleHelpCore(ctx context.Context, tg TelegramAPI, update *models.Update) {
	if update.Message == nil {
		return
	}
	sendHTML(ctx, tg, update.Message.Chat.ID, helpText, nil)
}
