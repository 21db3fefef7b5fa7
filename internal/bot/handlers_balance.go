package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	appmodels "gitlab.com/yelinaung/ledger-bot/internal/models"
	"gitlab.com/yelinaung/ledger-bot/internal/split"
)

const payUsage = "Usage: <code>/pay @username 25.50</code>"

// handlePay handles the /pay command.
func (b *Bot) handlePay(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	b.handlePayCore(ctx, tgBot, update)
}

// handlePayCore records a payment from the sender to a mentioned member.
func (b *Bot) handlePayCore(ctx context.Context, tg TelegramAPI, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}

	chatID := update.Message.Chat.ID
	text, mentioned := resolveTextMentions(update.Message.Text, update.Message.Entities)
	fields := strings.Fields(extractCommandArgs(text, "/pay"))
	if len(fields) != 2 {
		sendHTML(ctx, tg, chatID, "❌ Invalid format.\n\n"+payUsage, nil)
		return
	}

	// Accept both "/pay @bob 10" and "/pay 10 @bob".
	mention, amountStr := fields[0], fields[1]
	if !strings.HasPrefix(mention, "@") {
		mention, amountStr = amountStr, mention
	}
	username, ok := parseMention(mention)
	if !ok || !strings.HasPrefix(mention, "@") {
		sendHTML(ctx, tg, chatID, "❌ Invalid format.\n\n"+payUsage, nil)
		return
	}
	amount, err := split.ParsePositiveAmount(amountStr)
	if err != nil {
		replyError(ctx, tg, chatID, "pay", err)
		return
	}

	from := update.Message.From.ID
	payee := "@" + username
	if u, ok := mentionedUser(username, mentioned); ok {
		payee = senderName(u)
		_, err = b.ledger.RecordPayment(ctx, chatID, from, u.ID, amount)
	} else {
		_, err = b.ledger.RecordPaymentToUsername(ctx, chatID, from, username, amount)
	}
	if err != nil {
		replyError(ctx, tg, chatID, "pay", err)
		return
	}

	sendHTML(ctx, tg, chatID, fmt.Sprintf("💸 %s paid %s %s.",
		escapeHTML(senderName(update.Message.From)), escapeHTML(payee), amount.StringFixed(2)), nil)
}

// handlePayments handles the /payments command.
func (b *Bot) handlePayments(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	b.handlePaymentsCore(ctx, tgBot, update)
}

// handlePaymentsCore lists the most recent payments.
func (b *Bot) handlePaymentsCore(ctx context.Context, tg TelegramAPI, update *models.Update) {
	if update.Message == nil {
		return
	}

	chatID := update.Message.Chat.ID
	payments, err := b.ledger.ListRecentPayments(ctx, chatID, b.cfg.RecentExpensesLimit)
	if err != nil {
		replyError(ctx, tg, chatID, "payments", err)
		return
	}

	if len(payments) == 0 {
		sendHTML(ctx, tg, chatID, "💸 No payments recorded yet.", nil)
		return
	}

	var sb strings.Builder
	sb.WriteString("💸 <b>Recent Payments</b>\n\n")
	for _, p := range payments {
		fmt.Fprintf(&sb, "%s → %s: %s <i>(%s)</i>\n",
			escapeHTML(p.From), escapeHTML(p.To), p.Amount.StringFixed(2), p.CreatedAt.Format("Jan 2"))
	}
	sendHTML(ctx, tg, chatID, sb.String(), nil)
}

// handleBalances handles the /balances and /home commands.
func (b *Bot) handleBalances(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	b.handleBalancesCore(ctx, tgBot, update)
}

// handleBalancesCore shows every balance with the main menu.
func (b *Bot) handleBalancesCore(ctx context.Context, tg TelegramAPI, update *models.Update) {
	if update.Message == nil {
		return
	}

	chatID := update.Message.Chat.ID
	text, err := b.balancesText(ctx, chatID)
	if err != nil {
		replyError(ctx, tg, chatID, "balances", err)
		return
	}
	sendHTML(ctx, tg, chatID, text, mainMenuKeyboard())
}

func (b *Bot) balancesText(ctx context.Context, chatID int64) (string, error) {
	balances, err := b.ledger.ListBalances(ctx, chatID)
	if err != nil {
		return "", err
	}
	return formatBalances(balances), nil
}

// formatBalances renders who is owed and who owes.
func formatBalances(balances []appmodels.BalanceView) string {
	if len(balances) == 0 {
		return "💰 No members yet. Use /join to start."
	}

	var sb strings.Builder
	sb.WriteString("💰 <b>Balances</b>\n\n")
	for _, bv := range balances {
		name := escapeHTML(bv.Member)
		if !bv.Active {
			name += " <i>(left)</i>"
		}
		switch {
		case bv.Amount.IsPositive():
			fmt.Fprintf(&sb, "🟢 %s is owed %s\n", name, bv.Amount.StringFixed(2))
		case bv.Amount.IsNegative():
			fmt.Fprintf(&sb, "🔴 %s owes %s\n", name, bv.Amount.Neg().StringFixed(2))
		default:
			fmt.Fprintf(&sb, "⚪ %s is settled\n", name)
		}
	}
	return sb.String()
}

// handleSettle handles the /settle command.
func (b *Bot) handleSettle(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	b.handleSettleCore(ctx, tgBot, update)
}

// handleSettleCore suggests the payments that settle the chat.
func (b *Bot) handleSettleCore(ctx context.Context, tg TelegramAPI, update *models.Update) {
	if update.Message == nil {
		return
	}

	chatID := update.Message.Chat.ID
	text, err := b.settleText(ctx, chatID)
	if err != nil {
		replyError(ctx, tg, chatID, "settle", err)
		return
	}
	sendHTML(ctx, tg, chatID, text, nil)
}

func (b *Bot) settleText(ctx context.Context, chatID int64) (string, error) {
	transfers, err := b.ledger.SuggestSettlement(ctx, chatID)
	if err != nil {
		return "", err
	}
	return formatSettlement(transfers), nil
}

// formatSettlement renders suggested transfers with the /pay command for each.
func formatSettlement(transfers []appmodels.TransferSuggestion) string {
	if len(transfers) == 0 {
		return "🎉 Everyone is settled up."
	}

	var sb strings.Builder
	sb.WriteString("🤝 <b>Suggested Payments</b>\n\n")
	for _, t := range transfers {
		fmt.Fprintf(&sb, "• %s → %s: %s\n", escapeHTML(t.From), escapeHTML(t.To), t.Amount.StringFixed(2))
	}
	sb.WriteString("\nRecord each one with <code>/pay @user amount</code> once it's paid.")
	return sb.String()
}
