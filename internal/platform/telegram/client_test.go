package telegram

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/modmail-bot/internal/models"
	"github.com/xaenox/modmail-bot/internal/platform"
	"go.uber.org/zap"
)

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, `a\_b\*c \(1\)\.`, escapeMarkdown("a_b*c (1)."))
	assert.Equal(t, `back\\slash`, escapeMarkdown(`back\slash`))
}

func TestFormat(t *testing.T) {
	text := format(platform.Post{
		Kind:   platform.PostRelay,
		Title:  "Message received",
		Author: platform.Identity{Name: "mod_1"},
		Body:   "hi!",
		Footer: "Support",
	})
	assert.Equal(t, "*Message received*\n_mod\\_1_\nhi\\!\n\n_Support_", text)

	deleted := format(platform.Post{Kind: platform.PostRelay, Body: "gone", Deleted: true})
	assert.Equal(t, "~gone~", deleted)
}

func TestTranslatePrivateMessage(t *testing.T) {
	c := &Client{logger: zap.NewNop()}

	ev, ok := c.translate(tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 7,
		From:      &tgbotapi.User{ID: 42, UserName: "alice"},
		Chat:      &tgbotapi.Chat{ID: 42, Type: "private"},
		Text:      "hello",
		Date:      1700000000,
	}})
	require.True(t, ok)
	assert.Equal(t, platform.EventUserMessage, ev.Kind)
	assert.Equal(t, "42", ev.Author.ID)
	assert.Equal(t, "alice", ev.Author.Name)
	assert.Equal(t, "7", ev.MessageID)
	assert.Equal(t, "hello", ev.Content)

	_, ok = c.translate(tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: 42},
		Chat: &tgbotapi.Chat{ID: -100, Type: "group"},
		Text: "group chatter",
	}})
	assert.False(t, ok)
}

func TestMapError(t *testing.T) {
	assert.ErrorIs(t, mapError(&tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}), models.ErrDelivery)
	assert.ErrorIs(t, mapError(&tgbotapi.Error{Code: 400, Message: "Bad Request: message to edit not found"}), models.ErrNotFound)
	assert.NoError(t, mapError(nil))
}

func TestParseChatID(t *testing.T) {
	id, err := parseChatID("12345")
	require.NoError(t, err)
	assert.Equal(t, int64(12345), id)

	_, err = parseChatID("alice")
	assert.ErrorIs(t, err, models.ErrValidation)
}
