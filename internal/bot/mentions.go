package bot

import (
	"slices"
	"strconv"
	"unicode/utf16"

	"github.com/go-telegram/bot/models"
)

// resolveTextMentions rewrites every text_mention span of text as
// "@<telegram id>" so members without a username can be named in a split or
// a payment. Entity offsets count UTF-16 code units. The returned map holds
// the mentioned users by id.
func resolveTextMentions(text string, entities []models.MessageEntity) (string, map[int64]*models.User) {
	mentions := make([]models.MessageEntity, 0, len(entities))
	for _, e := range entities {
		if e.Type == models.MessageEntityTypeTextMention && e.User != nil {
			mentions = append(mentions, e)
		}
	}
	if len(mentions) == 0 {
		return text, nil
	}

	// Replace right to left so earlier offsets stay valid.
	slices.SortFunc(mentions, func(a, b models.MessageEntity) int {
		return b.Offset - a.Offset
	})

	units := utf16.Encode([]rune(text))
	users := make(map[int64]*models.User, len(mentions))
	end := len(units)
	for _, e := range mentions {
		if e.Offset < 0 || e.Length <= 0 || e.Offset+e.Length > end {
			continue
		}
		token := utf16.Encode([]rune("@" + strconv.FormatInt(e.User.ID, 10)))
		units = slices.Concat(units[:e.Offset], token, units[e.Offset+e.Length:])
		users[e.User.ID] = e.User
		end = e.Offset
	}
	return string(utf16.Decode(units)), users
}

// mentionedUser returns the text_mention user a "@<id>" name stands for.
func mentionedUser(name string, users map[int64]*models.User) (*models.User, bool) {
	id, err := strconv.ParseInt(name, 10, 64)
	if err != nil {
		return nil, false
	}
	u, ok := users[id]
	return u, ok
}
