package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"gitlab.com/yelinaung/ledger-bot/internal/logger"
)

// handleJoin handles the /join command.
func (b *Bot) handleJoin(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	b.handleJoinCore(ctx, tgBot, update)
}

// handleJoinCore adds the sender to the chat's ledger.
func (b *Bot) handleJoinCore(ctx context.Context, tg TelegramAPI, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}

	chatID := update.Message.Chat.ID
	profile, _ := extractProfile(update)
	if err := b.ledger.EnsureMember(ctx, chatID, update.Message.From.ID, profile); err != nil {
		replyError(ctx, tg, chatID, "join", err)
		return
	}

	sendHTML(ctx, tg, chatID, fmt.Sprintf("✅ %s is in. Expenses split equally will include you from now on.",
		escapeHTML(senderName(update.Message.From))), nil)
}

// handleLeave handles the /leave command.
func (b *Bot) handleLeave(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	b.handleLeaveCore(ctx, tgBot, update)
}

// handleLeaveCore removes the sender from the chat's ledger.
func (b *Bot) handleLeaveCore(ctx context.Context, tg TelegramAPI, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}

	chatID := update.Message.Chat.ID
	left, err := b.ledger.Leave(ctx, chatID, update.Message.From.ID)
	if err != nil {
		replyError(ctx, tg, chatID, "leave", err)
		return
	}
	if !left {
		sendHTML(ctx, tg, chatID, "ℹ️ You are not a member of this ledger.", nil)
		return
	}

	sendHTML(ctx, tg, chatID, "👋 You left the ledger. Any open balance stays until it is settled.", nil)
}

// handleMembers handles the /members command.
func (b *Bot) handleMembers(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	b.handleMembersCore(ctx, tgBot, update)
}

// handleMembersCore lists current members in join order.
func (b *Bot) handleMembersCore(ctx context.Context, tg TelegramAPI, update *models.Update) {
	if update.Message == nil {
		return
	}

	chatID := update.Message.Chat.ID
	members, err := b.ledger.ListMembers(ctx, chatID)
	if err != nil {
		replyError(ctx, tg, chatID, "members", err)
		return
	}

	if len(members) == 0 {
		sendHTML(ctx, tg, chatID, "No members yet. Use /join to start.", nil)
		return
	}

	var sb strings.Builder
	sb.WriteString("👥 <b>Members</b>\n\n")
	for i, m := range members {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, escapeHTML(m.Member))
	}
	sendHTML(ctx, tg, chatID, sb.String(), nil)
}

// handleAddMember handles the /add command.
func (b *Bot) handleAddMember(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	b.handleAddMemberCore(ctx, tgBot, update)
}

// handleAddMemberCore adds an already known user to the ledger by username.
func (b *Bot) handleAddMemberCore(ctx context.Context, tg TelegramAPI, update *models.Update) {
	if update.Message == nil {
		return
	}

	chatID := update.Message.Chat.ID
	username, ok := parseMention(extractCommandArgs(update.Message.Text, "/add"))
	if !ok {
		sendHTML(ctx, tg, chatID, "❌ Please mention a user.\n\nUsage: <code>/add @username</code>", nil)
		return
	}

	added, err := b.ledger.AddMemberByUsername(ctx, chatID, username)
	if err != nil {
		replyError(ctx, tg, chatID, "add_member", err)
		return
	}

	logger.ForChat(chatID).Info().Bool("added", added).Msg("Member added by username")
	if !added {
		sendHTML(ctx, tg, chatID, fmt.Sprintf("ℹ️ @%s is already a member.", escapeHTML(username)), nil)
		return
	}
	sendHTML(ctx, tg, chatID, fmt.Sprintf("✅ Added @%s to the ledger.", escapeHTML(username)), nil)
}

// handleRemoveMember handles the /remove command.
func (b *Bot) handleRemoveMember(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	b.handleRemoveMemberCore(ctx, tgBot, update)
}

// handleRemoveMemberCore removes a member by username. Their balance is kept.
func (b *Bot) handleRemoveMemberCore(ctx context.Context, tg TelegramAPI, update *models.Update) {
	if update.Message == nil {
		return
	}

	chatID := update.Message.Chat.ID
	username, ok := parseMention(extractCommandArgs(update.Message.Text, "/remove"))
	if !ok {
		sendHTML(ctx, tg, chatID, "❌ Please mention a member.\n\nUsage: <code>/remove @username</code>", nil)
		return
	}

	removed, err := b.ledger.RemoveMemberByUsername(ctx, chatID, username)
	if err != nil {
		replyError(ctx, tg, chatID, "remove_member", err)
		return
	}

	if !removed {
		sendHTML(ctx, tg, chatID, fmt.Sprintf("ℹ️ @%s is not a member.", escapeHTML(username)), nil)
		return
	}
	sendHTML(ctx, tg, chatID, fmt.Sprintf("✅ Removed @%s. Their balance stays until it is settled.", escapeHTML(username)), nil)
}

// parseMention accepts exactly one "@username" (or bare username) argument.
func parseMention(args string) (string, bool) {
	fields := strings.Fields(args)
	if len(fields) != 1 {
		return "", false
	}
	username := strings.TrimPrefix(fields[0], "@")
	if username == "" || strings.ContainsAny(username, "@=") {
		return "", false
	}
	return username, true
}

// senderName is how a Telegram user is shown before the ledger knows them.
func senderName(u *models.User) string {
	switch {
	case u.Username != "":
		return "@" + u.Username
	case u.FirstName != "":
		return u.FirstName
	default:
		return "You"
	}
}
