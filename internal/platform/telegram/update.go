package telegram

import (
	"strings"

	"github.com/go-telegram/bot/models"

	"github.com/qs3c/vipgate_server/internal/platform"
)

// toEvent 只关心私聊消息和按钮回调，其余更新忽略
func toEvent(update *models.Update) (platform.Event, bool) {
	if update == nil {
		return platform.Event{}, false
	}

	switch {
	case update.Message != nil && update.Message.From != nil:
		msg := update.Message
		ev := platform.Event{
			Kind:   platform.EventMessage,
			ChatID: platform.ChatID(msg.Chat.ID),
			Buyer:  toBuyer(msg.From),
			Text:   strings.TrimSpace(msg.Text),
		}
		ev.Command, ev.Param = parseCommand(ev.Text)
		return ev, true

	case update.CallbackQuery != nil:
		cb := update.CallbackQuery
		chatID := messageChatID(cb.Message)
		if chatID == 0 {
			chatID = cb.From.ID
		}
		return platform.Event{
			Kind:         platform.EventCallback,
			ChatID:       platform.ChatID(chatID),
			Buyer:        toBuyer(&cb.From),
			CallbackID:   cb.ID,
			CallbackData: cb.Data,
		}, true
	}

	return platform.Event{}, false
}

func toBuyer(u *models.User) platform.Buyer {
	return platform.Buyer{
		ID:        u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}

// parseCommand "/start@shop_bot abc" -> ("start", "abc")
func parseCommand(text string) (string, string) {
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	name, _, _ := strings.Cut(head, "@")
	return strings.ToLower(name), strings.TrimSpace(rest)
}

func messageChatID(msg models.MaybeInaccessibleMessage) int64 {
	switch msg.Type {
	case models.MaybeInaccessibleMessageTypeMessage:
		if msg.Message == nil {
			return 0
		}
		return msg.Message.Chat.ID
	case models.MaybeInaccessibleMessageTypeInaccessibleMessage:
		if msg.InaccessibleMessage == nil {
			return 0
		}
		return msg.InaccessibleMessage.Chat.ID
	default:
		return 0
	}
}
