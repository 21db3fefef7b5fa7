package bot

import (
	"context"
	"encoding/csv"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gitlab.com/yelinaung/ledger-bot/internal/bot/mocks"
	"gitlab.com/yelinaung/ledger-bot/internal/models"
)

func sampleExpenses() []models.ExpenseView {
	return []models.ExpenseView{
		{
			ID:          2,
			PaidBy:      "@bob",
			Amount:      dec("25.01"),
			Description: "Taxi, late night",
			Splits: []models.SplitView{
				{Member: "@alice", Amount: dec("12.51")},
				{Member: "@bob", Amount: dec("12.50")},
			},
			CreatedAt: time.Date(2026, 1, 16, 14, 15, 0, 0, time.UTC),
		},
		{
			ID:          1,
			PaidBy:      "@alice",
			Amount:      dec("10"),
			Description: "=HYPERLINK(\"x\")",
			Splits:      []models.SplitView{{Member: "@bob", Amount: dec("10")}},
			CreatedAt:   time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC),
		},
	}
}

func TestGenerateExpensesCSV(t *testing.T) {
	t.Parallel()

	t.Run("generates CSV with header and rows", func(t *testing.T) {
		t.Parallel()

		csvData, err := GenerateExpensesCSV(sampleExpenses())
		require.NoError(t, err)

		records, err := csv.NewReader(strings.NewReader(string(csvData))).ReadAll()
		require.NoError(t, err)
		require.Len(t, records, 3)

		require.Equal(t, []string{"ID", "Date", "Paid By", "Amount", "Description", "Splits"}, records[0])
		require.Equal(t, []string{
			"2", "2026-01-16 14:15:00", "@bob", "25.01", "Taxi, late night", "@alice=12.51; @bob=12.50",
		}, records[1])
		require.Equal(t, "10.00", records[2][3])
	})

	t.Run("formula-like descriptions are neutralised", func(t *testing.T) {
		t.Parallel()

		csvData, err := GenerateExpensesCSV(sampleExpenses())
		require.NoError(t, err)

		records, err := csv.NewReader(strings.NewReader(string(csvData))).ReadAll()
		require.NoError(t, err)
		require.Equal(t, "'=HYPERLINK(\"x\")", records[2][4])
	})

	t.Run("empty input has header only", func(t *testing.T) {
		t.Parallel()

		csvData, err := GenerateExpensesCSV(nil)
		require.NoError(t, err)
		require.Equal(t, "ID,Date,Paid By,Amount,Description,Splits\n", string(csvData))
	})
}

func TestCSVSafe(t *testing.T) {
	t.Parallel()

	require.Equal(t, "'+1", csvSafe("+1"))
	require.Equal(t, "'-1", csvSafe("-1"))
	require.Equal(t, "'@a", csvSafe("@a"))
	require.Equal(t, "Lunch", csvSafe("Lunch"))
	require.Empty(t, csvSafe(""))
}

func TestGenerateExportFilename(t *testing.T) {
	t.Parallel()

	got := generateExportFilename(time.Date(2026, 3, 4, 23, 59, 0, 0, time.UTC))
	require.Equal(t, "ledger_2026-03-04.csv", got)
}

func TestHandleExportCore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("sends document", func(t *testing.T) {
		t.Parallel()
		b, fake := setupTestBot()
		fake.recent = sampleExpenses()
		mockBot := mocks.NewMockBot()

		b.handleExportCore(ctx, mockBot, mocks.CommandUpdate(-100, 1, "alice", "/export"))

		require.Equal(t, 1, mockBot.SentDocumentCount())
		doc := mockBot.LastSentDocument()
		require.True(t, strings.HasPrefix(doc.Filename, "ledger_"))
		require.True(t, strings.HasSuffix(doc.Filename, ".csv"))
		require.Equal(t, "📊 2 expenses", doc.Caption)
		require.Contains(t, string(doc.Data), "Taxi, late night")
		require.Equal(t, 0, mockBot.SentMessageCount())
	})

	t.Run("nothing to export", func(t *testing.T) {
		t.Parallel()
		b, _ := setupTestBot()
		mockBot := mocks.NewMockBot()

		b.handleExportCore(ctx, mockBot, mocks.CommandUpdate(-100, 1, "alice", "/export"))

		require.Equal(t, 0, mockBot.SentDocumentCount())
		require.Contains(t, mockBot.LastSentMessage().Text, "No expenses to export")
	})

	t.Run("upload failure is reported", func(t *testing.T) {
		t.Parallel()
		b, fake := setupTestBot()
		fake.recent = sampleExpenses()
		mockBot := mocks.NewMockBot()
		mockBot.SendDocumentError = errors.New("upload failed")

		b.handleExportCore(ctx, mockBot, mocks.CommandUpdate(-100, 1, "alice", "/export"))
		require.Contains(t, mockBot.LastSentMessage().Text, "Failed to send export")
	})
}
