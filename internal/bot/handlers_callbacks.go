package bot

import (
	"context"
	"html"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"gitlab.com/yelinaung/ledger-bot/internal/logger"
)

const logFieldDataCB = "data"

// handleJoinCallback handles the join button.
func (b *Bot) handleJoinCallback(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	b.handleJoinCallbackCore(ctx, tgBot, update)
}

// handleJoinCallbackCore adds the presser to the ledger and answers with an alert.
func (b *Bot) handleJoinCallbackCore(ctx context.Context, tg TelegramAPI, update *models.Update) {
	cq := update.CallbackQuery
	if cq == nil || cq.Message.Message == nil {
		return
	}

	chatID := cq.Message.Message.Chat.ID
	profile, _ := extractProfile(update)
	text := "✅ You're in."
	if err := b.ledger.EnsureMember(ctx, chatID, cq.From.ID, profile); err != nil {
		logCallbackError(chatID, cq.Data, err)
		text = userMessage(err)
	}

	_, _ = tg.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: cq.ID,
		Text:            stripTags(text),
		ShowAlert:       true,
	})
}

// handleLeaveCallback handles the leave button.
func (b *Bot) handleLeaveCallback(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	b.handleLeaveCallbackCore(ctx, tgBot, update)
}

// handleLeaveCallbackCore removes the presser from the ledger.
func (b *Bot) handleLeaveCallbackCore(ctx context.Context, tg TelegramAPI, update *models.Update) {
	cq := update.CallbackQuery
	if cq == nil || cq.Message.Message == nil {
		return
	}

	chatID := cq.Message.Message.Chat.ID
	left, err := b.ledger.Leave(ctx, chatID, cq.From.ID)
	var text string
	switch {
	case err != nil:
		logCallbackError(chatID, cq.Data, err)
		text = userMessage(err)
	case left:
		text = "👋 You left. Your balance is kept until it's settled."
	default:
		text = "ℹ️ You are not a member."
	}

	_, _ = tg.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: cq.ID,
		Text:            stripTags(text),
		ShowAlert:       true,
	})
}

// handleViewCallback handles the read-only menu buttons.
func (b *Bot) handleViewCallback(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	b.handleViewCallbackCore(ctx, tgBot, update)
}

// handleViewCallbackCore replaces the menu message with the requested view,
// keeping the menu attached.
func (b *Bot) handleViewCallbackCore(ctx context.Context, tg TelegramAPI, update *models.Update) {
	cq := update.CallbackQuery
	if cq == nil || cq.Message.Message == nil {
		return
	}

	_, _ = tg.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: cq.ID,
	})

	chatID := cq.Message.Message.Chat.ID
	var (
		text string
		err  error
	)
	switch cq.Data {
	case callbackExpenses:
		text, err = b.expensesText(ctx, chatID)
	case callbackBalances:
		text, err = b.balancesText(ctx, chatID)
	case callbackSettle:
		text, err = b.settleText(ctx, chatID)
	case callbackHelp:
		text = helpText
	default:
		logger.ForChat(chatID).Error().Str(logFieldDataCB, cq.Data).Msg("Unknown callback data")
		return
	}
	if err != nil {
		logCallbackError(chatID, cq.Data, err)
		text = userMessage(err)
	}

	_, err = tg.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:      chatID,
		MessageID:   cq.Message.Message.ID,
		Text:        text,
		ParseMode:   models.ParseModeHTML,
		ReplyMarkup: mainMenuKeyboard(),
	})
	if err != nil {
		logger.ForChat(chatID).Error().Err(err).Str(logFieldDataCB, cq.Data).Msg("Failed to edit menu message")
	}
}

func logCallbackError(chatID int64, data string, err error) {
	logger.ForChat(chatID).Warn().Err(err).Str(logFieldDataCB, data).Msg("Callback action failed")
}

// stripTags removes the HTML markup userMessage may contain; callback
// answers are plain text.
func stripTags(s string) string {
	var out []rune
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>' && inTag:
			inTag = false
		case !inTag:
			out = append(out, r)
		}
	}
	return html.UnescapeString(string(out))
}
