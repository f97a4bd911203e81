// Package telegram serves the private side of conversations over a Telegram
// bot: users write to the bot and receive staff replies in the same chat.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/modmail-bot/internal/models"
	"github.com/xaenox/modmail-bot/internal/platform"
	"go.uber.org/zap"
)

const eventBuffer = 256

// Client implements platform.PrivateChannels and produces user events.
type Client struct {
	api    *tgbotapi.BotAPI
	events chan platform.Event
	logger *zap.Logger
}

var _ platform.PrivateChannels = (*Client)(nil)

func New(token string, logger *zap.Logger) (*Client, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return &Client{
		api:    api,
		events: make(chan platform.Event, eventBuffer),
		logger: logger.Named("telegram"),
	}, nil
}

// Events is the stream of inbound events.
func (c *Client) Events() <-chan platform.Event {
	return c.events
}

// Start polls for updates until ctx ends.
func (c *Client) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := c.api.GetUpdatesChan(u)
	defer c.api.StopReceivingUpdates()

	c.logger.Info("Polling Telegram updates", zap.String("bot", c.api.Self.UserName))
	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if ev, ok := c.translate(update); ok {
				select {
				case c.events <- ev:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

// translate maps an update to an event. Only private chats and answers to
// prompts are of interest.
func (c *Client) translate(update tgbotapi.Update) (platform.Event, bool) {
	switch {
	case update.CallbackQuery != nil:
		cb := update.CallbackQuery
		if _, err := c.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
			c.logger.Warn("Failed to answer callback", zap.Error(err))
		}
		if cb.Message == nil || cb.From == nil {
			return platform.Event{}, false
		}
		return platform.Event{
			Kind:      platform.EventSignal,
			SurfaceID: promptID(cb.Message.Chat.ID, cb.Message.MessageID),
			Author:    identity(cb.From),
			Token:     cb.Data,
			Timestamp: time.Now(),
		}, true

	case update.Message != nil:
		msg := update.Message
		if msg.From == nil || msg.Chat == nil || !msg.Chat.IsPrivate() {
			return platform.Event{}, false
		}
		content := msg.Text
		if msg.Caption != "" {
			content = msg.Caption
		}
		if content == "" {
			return platform.Event{}, false
		}
		return platform.Event{
			Kind:      platform.EventUserMessage,
			SurfaceID: strconv.FormatInt(msg.Chat.ID, 10),
			Author:    identity(msg.From),
			Content:   content,
			MessageID: strconv.Itoa(msg.MessageID),
			Timestamp: msg.Time(),
		}, true
	}
	return platform.Event{}, false
}

func (c *Client) Send(ctx context.Context, userID string, p platform.Post) (string, error) {
	chatID, err := parseChatID(userID)
	if err != nil {
		return "", err
	}
	msg := tgbotapi.NewMessage(chatID, format(p))
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	sent, err := c.api.Send(msg)
	if err != nil {
		return "", mapError(err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

func (c *Client) Edit(ctx context.Context, userID, messageID string, p platform.Post) error {
	chatID, err := parseChatID(userID)
	if err != nil {
		return err
	}
	id, err := strconv.Atoi(messageID)
	if err != nil {
		return models.Validationf("message id %q", messageID)
	}
	edit := tgbotapi.NewEditMessageText(chatID, id, format(p))
	edit.ParseMode = tgbotapi.ModeMarkdownV2
	_, err = c.api.Send(edit)
	return mapError(err)
}

// PostPrompt sends the prompt with one inline button per option. The
// callback data of a button is its token.
func (c *Client) PostPrompt(ctx context.Context, userID string, pr platform.Prompt) (string, error) {
	chatID, err := parseChatID(userID)
	if err != nil {
		return "", err
	}
	buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(pr.Options))
	for _, o := range pr.Options {
		buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(o.Token+" "+o.Label, o.Token))
	}
	msg := tgbotapi.NewMessage(chatID, format(platform.Post{Kind: platform.PostNotice, Title: pr.Title, Body: pr.Body}))
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(buttons...))

	sent, err := c.api.Send(msg)
	if err != nil {
		return "", mapError(err)
	}
	return promptID(chatID, sent.MessageID), nil
}

// EditPrompt replaces the prompt text, which also drops its buttons.
func (c *Client) EditPrompt(ctx context.Context, userID, id string, p platform.Post) error {
	_, messageID, ok := strings.Cut(id, ":")
	if !ok {
		return models.Validationf("prompt id %q", id)
	}
	return c.Edit(ctx, userID, messageID, p)
}

func (c *Client) Profile(ctx context.Context, userID string) (*platform.Profile, error) {
	chatID, err := parseChatID(userID)
	if err != nil {
		return nil, err
	}
	chat, err := c.api.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: chatID}})
	if err != nil {
		return nil, mapError(err)
	}
	name := strings.TrimSpace(chat.FirstName + " " + chat.LastName)
	if chat.UserName != "" {
		name = chat.UserName
	}
	// Telegram exposes neither account age nor membership dates.
	return &platform.Profile{Identity: platform.Identity{ID: userID, Name: name}}, nil
}

func identity(u *tgbotapi.User) platform.Identity {
	name := u.UserName
	if name == "" {
		name = strings.TrimSpace(u.FirstName + " " + u.LastName)
	}
	return platform.Identity{ID: strconv.FormatInt(u.ID, 10), Name: name}
}

func promptID(chatID int64, messageID int) string {
	return fmt.Sprintf("%d:%d", chatID, messageID)
}

func parseChatID(userID string) (int64, error) {
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return 0, models.Validationf("telegram user id %q", userID)
	}
	return id, nil
}

// mapError classifies Bot API failures into the shared error taxonomy.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.Code == http.StatusForbidden:
		return fmt.Errorf("%w: %v", models.ErrDelivery, err)
	case apiErr.Code == http.StatusBadRequest && strings.Contains(apiErr.Message, "not found"):
		return fmt.Errorf("%w: %v", models.ErrNotFound, err)
	}
	return err
}
