// Package bot provides the Telegram bot initialization and handlers.
package bot

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/shopspring/decimal"
	"gitlab.com/yelinaung/ledger-bot/internal/config"
	"gitlab.com/yelinaung/ledger-bot/internal/ledger"
	"gitlab.com/yelinaung/ledger-bot/internal/logger"
	"gitlab.com/yelinaung/ledger-bot/internal/models"
)

// Ledger is the set of ledger operations the bot drives.
type Ledger interface {
	RegisterUser(ctx context.Context, userExt int64, profile models.Profile) error
	EnsureMember(ctx context.Context, chatExt, userExt int64, profile models.Profile) error
	Leave(ctx context.Context, chatExt, userExt int64) (bool, error)
	AddMemberByUsername(ctx context.Context, chatExt int64, username string) (bool, error)
	RemoveMemberByUsername(ctx context.Context, chatExt int64, username string) (bool, error)
	ListMembers(ctx context.Context, chatExt int64) ([]models.MemberView, error)

	AddExpense(ctx context.Context, chatExt, payerExt int64, amount decimal.Decimal, description, rawSplit string) (int64, error)
	RemoveExpense(ctx context.Context, chatExt, expenseID int64) error
	ListRecentExpenses(ctx context.Context, chatExt int64, limit int) ([]models.ExpenseView, error)
	ExportExpenses(ctx context.Context, chatExt int64) ([]models.ExpenseView, error)

	RecordPayment(ctx context.Context, chatExt, fromExt, toExt int64, amount decimal.Decimal) (int64, error)
	RecordPaymentToUsername(ctx context.Context, chatExt, fromExt int64, toUsername string, amount decimal.Decimal) (int64, error)
	ListRecentPayments(ctx context.Context, chatExt int64, limit int) ([]models.PaymentView, error)

	ListBalances(ctx context.Context, chatExt int64) ([]models.BalanceView, error)
	SuggestSettlement(ctx context.Context, chatExt int64) ([]models.TransferSuggestion, error)
}

var _ Ledger = (*ledger.Service)(nil)

// Bot wraps the Telegram bot with application dependencies.
type Bot struct {
	bot    *bot.Bot
	cfg    *config.Config
	ledger Ledger
}

// New creates a new Bot instance.
func New(cfg *config.Config, l Ledger) (*Bot, error) {
	b := &Bot{
		cfg:    cfg,
		ledger: l,
	}

	opts := []bot.Option{
		bot.WithMiddlewares(b.chatMiddleware),
		bot.WithDefaultHandler(b.defaultHandler),
	}
	if cfg.WebhookSecret != "" {
		opts = append(opts, bot.WithWebhookSecretToken(cfg.WebhookSecret))
	}

	telegramBot, err := bot.New(cfg.TelegramBotToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	b.bot = telegramBot
	b.registerHandlers()

	return b, nil
}

// Start begins polling for updates.
func (b *Bot) Start(ctx context.Context) {
	logger.Log.Info().Msg("Bot started polling")
	b.bot.Start(ctx)
}

// StartWebhook registers the webhook with Telegram and processes updates
// delivered to WebhookHandler until ctx is done.
func (b *Bot) StartWebhook(ctx context.Context) error {
	_, err := b.bot.SetWebhook(ctx, &bot.SetWebhookParams{
		URL:         b.cfg.WebhookURL,
		SecretToken: b.cfg.WebhookSecret,
	})
	if err != nil {
		return fmt.Errorf("failed to set webhook: %w", err)
	}

	logger.Log.Info().Msg("Bot started in webhook mode")
	b.bot.StartWebhook(ctx)
	return nil
}

// WebhookHandler returns the HTTP handler that receives Telegram updates.
func (b *Bot) WebhookHandler() http.Handler {
	return b.bot.WebhookHandler()
}

// registerHandlers sets up command and callback handlers.
func (b *Bot) registerHandlers() {
	commands := map[string]bot.HandlerFunc{
		"start":          b.handleStart,
		"help":           b.handleHelp,
		"join":           b.handleJoin,
		"leave":          b.handleLeave,
		"members":        b.handleMembers,
		"add":            b.handleAddMember,
		"remove":         b.handleRemoveMember,
		"expense_add":    b.handleExpenseAdd,
		"expense_view":   b.handleExpenseView,
		"expense_remove": b.handleExpenseRemove,
		"pay":            b.handlePay,
		"payments":       b.handlePayments,
		"balances":       b.handleBalances,
		"home":           b.handleBalances,
		"settle":         b.handleSettle,
		"export":         b.handleExport,
	}
	for name, handler := range commands {
		b.bot.RegisterHandlerMatchFunc(commandMatcher(name), handler)
	}

	b.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, callbackJoin, bot.MatchTypeExact, b.handleJoinCallback)
	b.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, callbackLeave, bot.MatchTypeExact, b.handleLeaveCallback)
	b.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, callbackExpenses, bot.MatchTypeExact, b.handleViewCallback)
	b.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, callbackBalances, bot.MatchTypeExact, b.handleViewCallback)
	b.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, callbackSettle, bot.MatchTypeExact, b.handleViewCallback)
	b.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, callbackHelp, bot.MatchTypeExact, b.handleViewCallback)
}

// commandMatcher matches "/name" and "/name@botname" exactly, so that
// "/pay" does not swallow "/payments".
func commandMatcher(name string) bot.MatchFunc {
	return func(update *tgmodels.Update) bool {
		if update.Message == nil {
			return false
		}
		return commandName(update.Message.Text) == name
	}
}

// commandName returns the command of a message without the slash and bot
// mention, or "" when the message is not a command.
func commandName(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	word, _, _ := strings.Cut(text[1:], " ")
	word, _, _ = strings.Cut(word, "\n")
	word, _, _ = strings.Cut(word, "@")
	return strings.ToLower(word)
}

// chatMiddleware drops updates from chats the bot is not enabled for and
// keeps the profile of anyone issuing a command fresh before any handler runs.
func (b *Bot) chatMiddleware(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, tgBot *bot.Bot, update *tgmodels.Update) {
		if !b.admit(ctx, tgBot, update) {
			return
		}
		next(ctx, tgBot, update)
	}
}

// admit is the testable body of chatMiddleware.
func (b *Bot) admit(ctx context.Context, tg TelegramAPI, update *tgmodels.Update) bool {
	userID := extractUserID(update)
	chatID := extractChatID(update)
	if userID == 0 || chatID == 0 {
		return false
	}

	logUserAction(chatID, userID, update)
	command := update.Message != nil && commandName(update.Message.Text) != ""

	if !b.cfg.IsChatAllowed(chatID) {
		logger.ForChat(chatID).Warn().Msg("Blocked update from chat that is not allowed")
		if command {
			_, _ = tg.SendMessage(ctx, &bot.SendMessageParams{
				ChatID: chatID,
				Text:   "⛔ Sorry, this bot is not enabled for this chat.",
			})
		}
		return false
	}

	// Plain chatter never reaches the ledger, so only commands and button
	// presses refresh the sender's profile.
	if !command && update.CallbackQuery == nil {
		return true
	}
	if profile, ok := extractProfile(update); ok {
		if err := b.ledger.RegisterUser(ctx, userID, profile); err != nil {
			logger.ForUser(chatID, userID).Error().Err(err).Msg("Failed to register user")
		}
	}
	return true
}

// logUserAction logs the user's input/action without exposing identifiers.
func logUserAction(chatID, userID int64, update *tgmodels.Update) {
	switch {
	case update.Message != nil:
		event := logger.ForUser(chatID, userID).Info()
		if cmd := commandName(update.Message.Text); cmd != "" {
			event = event.Str("command", cmd)
		} else {
			event = event.Str("text", logger.SanitizeText(update.Message.Text))
		}
		event.Msg("User input")

	case update.CallbackQuery != nil:
		logger.ForUser(chatID, userID).Info().
			Str("data", update.CallbackQuery.Data).
			Msg("Callback query")
	}
}

// extractUserID gets the user ID from various update types.
func extractUserID(update *tgmodels.Update) int64 {
	if update.Message != nil && update.Message.From != nil {
		return update.Message.From.ID
	}
	if update.CallbackQuery != nil {
		return update.CallbackQuery.From.ID
	}
	return 0
}

// extractChatID gets the chat ID from messages and callback queries.
func extractChatID(update *tgmodels.Update) int64 {
	if update.Message != nil {
		return update.Message.Chat.ID
	}
	if update.CallbackQuery != nil && update.CallbackQuery.Message.Message != nil {
		return update.CallbackQuery.Message.Message.Chat.ID
	}
	return 0
}

// extractProfile gets the sender's display fields from the update.
func extractProfile(update *tgmodels.Update) (models.Profile, bool) {
	var from *tgmodels.User
	switch {
	case update.Message != nil && update.Message.From != nil:
		from = update.Message.From
	case update.CallbackQuery != nil:
		from = &update.CallbackQuery.From
	default:
		return models.Profile{}, false
	}
	return models.Profile{
		Username:  from.Username,
		FirstName: from.FirstName,
		LastName:  from.LastName,
	}, true
}

// defaultHandler handles unrecognized messages.
func (b *Bot) defaultHandler(ctx context.Context, tgBot *bot.Bot, update *tgmodels.Update) {
	b.defaultHandlerCore(ctx, tgBot, update)
}

// defaultHandlerCore answers unknown commands. Plain group chatter is ignored.
func (b *Bot) defaultHandlerCore(ctx context.Context, tg TelegramAPI, update *tgmodels.Update) {
	if update.Message == nil || commandName(update.Message.Text) == "" {
		return
	}

	_, err := tg.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    update.Message.Chat.ID,
		Text:      "I didn't understand that. Use /help to see available commands.",
		ParseMode: tgmodels.ParseModeHTML,
	})
	if err != nil {
		logger.Log.Error().Err(err).Msg("Failed to send default response")
	}
}
