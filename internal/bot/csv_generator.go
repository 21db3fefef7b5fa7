package bot

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"gitlab.com/yelinaung/ledger-bot/internal/logger"
	appmodels "gitlab.com/yelinaung/ledger-bot/internal/models"
)

// GenerateExpensesCSV generates a CSV file from a list of expenses.
func GenerateExpensesCSV(expenses []appmodels.ExpenseView) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	header := []string{"ID", "Date", "Paid By", "Amount", "Description", "Splits"}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for i := range expenses {
		splits := make([]string, 0, len(expenses[i].Splits))
		for _, s := range expenses[i].Splits {
			splits = append(splits, s.Member+"="+s.Amount.StringFixed(2))
		}

		row := []string{
			strconv.FormatInt(expenses[i].ID, 10),
			expenses[i].CreatedAt.Format("2006-01-02 15:04:05"),
			expenses[i].PaidBy,
			expenses[i].Amount.StringFixed(2),
			csvSafe(expenses[i].Description),
			strings.Join(splits, "; "),
		}

		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// csvSafe keeps spreadsheet apps from evaluating user text as a formula.
func csvSafe(s string) string {
	if s != "" && strings.ContainsRune("=+-@", rune(s[0])) {
		return "'" + s
	}
	return s
}

// generateExportFilename creates a dated filename for the CSV export.
func generateExportFilename(now time.Time) string {
	return fmt.Sprintf("ledger_%s.csv", now.Format("2006-01-02"))
}

// handleExport handles the /export command.
func (b *Bot) handleExport(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	b.handleExportCore(ctx, tgBot, update)
}

// handleExportCore sends every live expense of the chat as a CSV document.
func (b *Bot) handleExportCore(ctx context.Context, tg TelegramAPI, update *models.Update) {
	if update.Message == nil {
		return
	}

	chatID := update.Message.Chat.ID
	expenses, err := b.ledger.ExportExpenses(ctx, chatID)
	if err != nil {
		replyError(ctx, tg, chatID, "export", err)
		return
	}

	if len(expenses) == 0 {
		sendHTML(ctx, tg, chatID, "🧾 No expenses to export.", nil)
		return
	}

	data, err := GenerateExpensesCSV(expenses)
	if err != nil {
		logger.ForChat(chatID).Error().Err(err).Msg("Failed to generate CSV")
		sendHTML(ctx, tg, chatID, "❌ Failed to generate export. Please try again.", nil)
		return
	}

	_, err = tg.SendDocument(ctx, &bot.SendDocumentParams{
		ChatID: chatID,
		Document: &models.InputFileUpload{
			Filename: generateExportFilename(time.Now()),
			Data:     bytes.NewReader(data),
		},
		Caption:   fmt.Sprintf("📊 %d expenses", len(expenses)),
		ParseMode: models.ParseModeHTML,
	})
	if err != nil {
		logger.ForChat(chatID).Error().Err(err).Msg("Failed to send CSV export")
		sendHTML(ctx, tg, chatID, "❌ Failed to send export. Please try again.", nil)
	}
}
