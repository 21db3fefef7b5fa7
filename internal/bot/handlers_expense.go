package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/shopspring/decimal"
	"gitlab.com/yelinaung/ledger-bot/internal/logger"
	appmodels "gitlab.com/yelinaung/ledger-bot/internal/models"
	"gitlab.com/yelinaung/ledger-bot/internal/split"
)

const expenseAddUsage = "Usage: <code>/expense_add 90 Dinner</code> or <code>/expense_add 48.50 Taxi @alice @bob</code>"

var errMissingAmount = errors.New("missing amount")

// expenseArgs is the parsed tail of /expense_add.
type expenseArgs struct {
	Amount      decimal.Decimal
	Description string
	Split       string
}

// parseExpenseArgs reads "<amount> [description words] [split rule]".
// The split rule starts at the first word beginning with "@".
func parseExpenseArgs(args string) (expenseArgs, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return expenseArgs{}, errMissingAmount
	}

	amount, err := split.ParsePositiveAmount(fields[0])
	if err != nil {
		return expenseArgs{}, err
	}

	rest := fields[1:]
	splitAt := len(rest)
	for i, f := range rest {
		if strings.HasPrefix(f, "@") {
			splitAt = i
			break
		}
	}

	return expenseArgs{
		Amount:      amount,
		Description: strings.Join(rest[:splitAt], " "),
		Split:       strings.Join(rest[splitAt:], " "),
	}, nil
}

// handleExpenseAdd handles the /expense_add command.
func (b *Bot) handleExpenseAdd(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	b.handleExpenseAddCore(ctx, tgBot, update)
}

// handleExpenseAddCore records an expense paid by the sender.
func (b *Bot) handleExpenseAddCore(ctx context.Context, tg TelegramAPI, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}

	chatID := update.Message.Chat.ID
	text, _ := resolveTextMentions(update.Message.Text, update.Message.Entities)
	parsed, err := parseExpenseArgs(extractCommandArgs(text, "/expense_add"))
	if err != nil {
		sendHTML(ctx, tg, chatID, "❌ Invalid format.\n\n"+expenseAddUsage, nil)
		return
	}

	id, err := b.ledger.AddExpense(ctx, chatID, update.Message.From.ID, parsed.Amount, parsed.Description, parsed.Split)
	if err != nil {
		replyError(ctx, tg, chatID, "expense_add", err)
		return
	}

	logger.ForUser(chatID, update.Message.From.ID).Info().Int64("expense_id", id).Msg("Expense recorded")

	description := parsed.Description
	if description == "" {
		description = "(no description)"
	}
	text = fmt.Sprintf(`✅ <b>Expense #%d Added</b>

💰 %s
📝 %s
👤 Paid by %s`,
		id,
		parsed.Amount.StringFixed(2),
		escapeHTML(description),
		escapeHTML(senderName(update.Message.From)))
	sendHTML(ctx, tg, chatID, text, nil)
}

// handleExpenseView handles the /expense_view command.
func (b *Bot) handleExpenseView(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	b.handleExpenseViewCore(ctx, tgBot, update)
}

// handleExpenseViewCore lists the most recent expenses with their splits.
func (b *Bot) handleExpenseViewCore(ctx context.Context, tg TelegramAPI, update *models.Update) {
	if update.Message == nil {
		return
	}

	chatID := update.Message.Chat.ID
	text, err := b.expensesText(ctx, chatID)
	if err != nil {
		replyError(ctx, tg, chatID, "expense_view", err)
		return
	}
	sendHTML(ctx, tg, chatID, text, nil)
}

func (b *Bot) expensesText(ctx context.Context, chatID int64) (string, error) {
	expenses, err := b.ledger.ListRecentExpenses(ctx, chatID, b.cfg.RecentExpensesLimit)
	if err != nil {
		return "", err
	}
	return formatExpenses(expenses), nil
}

// formatExpenses renders expenses newest first with each member's share.
func formatExpenses(expenses []appmodels.ExpenseView) string {
	if len(expenses) == 0 {
		return "🧾 No expenses recorded yet."
	}

	var sb strings.Builder
	sb.WriteString("🧾 <b>Recent Expenses</b>\n")
	for _, e := range expenses {
		description := e.Description
		if description == "" {
			description = "(no description)"
		}
		fmt.Fprintf(&sb, "\n<b>#%d</b> %s - %s\n", e.ID, e.Amount.StringFixed(2), escapeHTML(description))
		fmt.Fprintf(&sb, "   paid by %s on %s\n", escapeHTML(e.PaidBy), e.CreatedAt.Format("Jan 2 15:04"))
		for _, s := range e.Splits {
			if s.Amount.IsZero() {
				continue
			}
			fmt.Fprintf(&sb, "   • %s owes %s\n", escapeHTML(s.Member), s.Amount.StringFixed(2))
		}
	}
	return sb.String()
}

// handleExpenseRemove handles the /expense_remove command.
func (b *Bot) handleExpenseRemove(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	b.handleExpenseRemoveCore(ctx, tgBot, update)
}

// handleExpenseRemoveCore reverses an expense by ID.
func (b *Bot) handleExpenseRemoveCore(ctx context.Context, tg TelegramAPI, update *models.Update) {
	if update.Message == nil {
		return
	}

	chatID := update.Message.Chat.ID
	args := extractCommandArgs(update.Message.Text, "/expense_remove")
	id, err := strconv.ParseInt(strings.TrimPrefix(args, "#"), 10, 64)
	if err != nil || id <= 0 {
		sendHTML(ctx, tg, chatID, "❌ Please provide a valid expense ID.\n\nUsage: <code>/expense_remove 12</code>", nil)
		return
	}

	if err := b.ledger.RemoveExpense(ctx, chatID, id); err != nil {
		replyError(ctx, tg, chatID, "expense_remove", err)
		return
	}

	sendHTML(ctx, tg, chatID, fmt.Sprintf("🗑️ Expense #%d removed and balances restored.", id), nil)
}
