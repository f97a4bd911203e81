// Package relay mirrors messages between a user's private channel and the
// staff channel of their conversation, and keeps edits and deletions of
// either copy in step through the stored id mapping.
package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/xaenox/modmail-bot/internal/models"
	"github.com/xaenox/modmail-bot/internal/platform"
	"github.com/xaenox/modmail-bot/internal/storage"
	"go.uber.org/zap"
)

// Store is the persistence the engine needs.
type Store interface {
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	GetActiveConversationByUser(ctx context.Context, userID string) (*models.Conversation, error)
	SaveMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	LatestMessage(ctx context.Context, conversationID string, filter storage.MessageFilter) (*models.Message, error)
	FindMessageBySideID(ctx context.Context, conversationID, sideID string) (*models.Message, error)
	UpdateMessageContent(ctx context.Context, id, content string) error
	MarkMessageDeleted(ctx context.Context, id string) error
	ListNotes(ctx context.Context, userID string) ([]*models.Message, error)
}

// Options tune user-facing wording.
type Options struct {
	// CommandPrefix is shown in the hint sent back to users.
	CommandPrefix string
}

type Engine struct {
	store   Store
	staff   platform.StaffChannels
	private platform.PrivateChannels
	opts    Options
	logger  *zap.Logger
	now     func() time.Time
}

func NewEngine(store Store, staff platform.StaffChannels, private platform.PrivateChannels, opts Options, logger *zap.Logger) *Engine {
	if opts.CommandPrefix == "" {
		opts.CommandPrefix = "!"
	}
	return &Engine{
		store:   store,
		staff:   staff,
		private: private,
		opts:    opts,
		logger:  logger.Named("relay"),
		now:     time.Now,
	}
}

// SendRequest describes one message to mirror.
type SendRequest struct {
	ConversationID string
	Origin         models.Side
	Author         platform.Identity
	Content        string
	// SourceMessageID is the id of the message as the author wrote it. For
	// user messages it becomes the user-side half of the mapping.
	SourceMessageID string
	// Anonymous hides the staff author from the user.
	Anonymous bool
}

// Send posts the message on the opposite side and records the mapping. Staff
// replies that cannot reach the user fail with models.ErrDelivery and leave
// no row behind.
func (e *Engine) Send(ctx context.Context, req SendRequest) (*models.Message, error) {
	if err := models.ValidateContent(req.Content); err != nil {
		return nil, err
	}
	if req.Anonymous && req.Origin != models.SideStaff {
		return nil, models.Validationf("only staff can reply anonymously")
	}
	conv, err := e.activeConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		ConversationID: conv.ID,
		Kind:           models.KindRelay,
		AuthorID:       req.Author.ID,
		AuthorName:     req.Author.Name,
		Content:        req.Content,
		MadeByStaff:    req.Origin == models.SideStaff,
		Anonymous:      req.Anonymous,
		CreatedAt:      e.now(),
	}

	if req.Origin == models.SideStaff {
		userSide, err := e.private.Send(ctx, conv.UserID, renderMessage(msg, models.SideUser, req.Author))
		if err != nil {
			return nil, fmt.Errorf("delivering reply to user %s: %w", conv.UserID, err)
		}
		msg.UserMessageID = userSide

		staffSide, err := e.staff.Send(ctx, conv.ChannelID, renderMessage(msg, models.SideStaff, req.Author))
		if err != nil {
			e.logger.Error("Reply reached the user but not the staff channel",
				zap.Error(err),
				zap.String("conversation_id", conv.ID),
				zap.String("user_message_id", userSide))
			return nil, fmt.Errorf("posting staff copy: %w", err)
		}
		msg.StaffMessageID = staffSide
	} else {
		msg.UserMessageID = req.SourceMessageID
		staffSide, err := e.staff.Send(ctx, conv.ChannelID, renderMessage(msg, models.SideStaff, req.Author))
		if err != nil {
			return nil, fmt.Errorf("mirroring message to channel %s: %w", conv.ChannelID, err)
		}
		msg.StaffMessageID = staffSide
	}

	if err := e.store.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("saving message: %w", err)
	}

	if req.Origin == models.SideUser {
		e.acknowledge(ctx, conv.UserID, msg, req.Author)
	}

	e.logger.Debug("Mirrored message",
		zap.String("conversation_id", conv.ID),
		zap.String("origin", req.Origin.String()),
		zap.String("message_id", msg.ID))
	return msg, nil
}

// acknowledge tells the user what was forwarded. Failure is only logged.
func (e *Engine) acknowledge(ctx context.Context, userID string, msg *models.Message, author platform.Identity) {
	ack := platform.Post{
		Kind:   platform.PostNotice,
		Title:  "Message sent",
		Author: author,
		Body: fmt.Sprintf("'%s'\n\n*if this isn't correct you can change it with %sedit*",
			msg.Content, e.opts.CommandPrefix),
		Origin:    models.SideStaff,
		Footer:    fmt.Sprintf("Message ID: %s", msg.UserMessageID),
		Timestamp: msg.CreatedAt,
	}
	if _, err := e.private.Send(ctx, userID, ack); err != nil {
		e.logger.Warn("Failed to acknowledge message",
			zap.Error(err),
			zap.String("user_id", userID))
	}
}

// EditRequest rewrites the issuer's latest message.
type EditRequest struct {
	ConversationID string
	Side           models.Side
	Issuer         platform.Identity
	Content        string
}

// Edit rewrites the most recent live message of the issuing side: on the
// staff side the issuer's own latest reply, on the user side the user's
// latest message. Content is overwritten in place.
func (e *Engine) Edit(ctx context.Context, req EditRequest) (*models.Message, error) {
	if err := models.ValidateContent(req.Content); err != nil {
		return nil, err
	}
	conv, err := e.activeConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}

	madeByStaff := req.Side == models.SideStaff
	filter := storage.MessageFilter{Kind: models.KindRelay, MadeByStaff: &madeByStaff}
	if madeByStaff {
		filter.AuthorID = req.Issuer.ID
	}
	msg, err := e.store.LatestMessage(ctx, conv.ID, filter)
	if err != nil {
		return nil, err
	}
	msg.Content = req.Content

	if madeByStaff {
		if err := e.private.Edit(ctx, conv.UserID, msg.UserMessageID, renderMessage(msg, models.SideUser, req.Issuer)); err != nil {
			return nil, fmt.Errorf("editing user copy: %w", err)
		}
	}
	// The user's own message belongs to the user; only the staff copy of a
	// user message can be rewritten.
	if err := e.staff.Edit(ctx, conv.ChannelID, msg.StaffMessageID, renderMessage(msg, models.SideStaff, req.Issuer)); err != nil {
		return nil, fmt.Errorf("editing staff copy: %w", err)
	}

	if err := e.store.UpdateMessageContent(ctx, msg.ID, req.Content); err != nil {
		return nil, fmt.Errorf("saving edit: %w", err)
	}
	return msg, nil
}

// DeleteRequest withdraws a relayed message. MessageID may be either the
// staff-side or user-side id; empty means the latest staff reply.
type DeleteRequest struct {
	ConversationID string
	MessageID      string
	Issuer         platform.Identity
}

// Delete soft-deletes a message on both displays and in the store. Deleting
// an already deleted message reports models.ErrNotFound and changes nothing.
func (e *Engine) Delete(ctx context.Context, req DeleteRequest) (*models.Message, error) {
	conv, err := e.activeConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}

	var msg *models.Message
	if req.MessageID != "" {
		msg, err = e.store.FindMessageBySideID(ctx, conv.ID, req.MessageID)
		if err == nil && (msg.Deleted || msg.IsNote()) {
			err = models.NotFoundf("message %s is not a live relayed message", req.MessageID)
		}
	} else {
		madeByStaff := true
		msg, err = e.store.LatestMessage(ctx, conv.ID, storage.MessageFilter{Kind: models.KindRelay, MadeByStaff: &madeByStaff})
	}
	if err != nil {
		return nil, err
	}

	// The store decides the single winner before any display changes.
	if err := e.store.MarkMessageDeleted(ctx, msg.ID); err != nil {
		return nil, err
	}
	msg.Deleted = true

	author := storedAuthor(msg)
	if msg.MadeByStaff {
		if err := e.private.Edit(ctx, conv.UserID, msg.UserMessageID, renderMessage(msg, models.SideUser, author)); err != nil {
			e.logger.Warn("Failed to strike user copy",
				zap.Error(err),
				zap.String("conversation_id", conv.ID),
				zap.String("message_id", msg.ID))
		}
	}
	if err := e.staff.Edit(ctx, conv.ChannelID, msg.StaffMessageID, renderMessage(msg, models.SideStaff, author)); err != nil {
		e.logger.Warn("Failed to strike staff copy",
			zap.Error(err),
			zap.String("conversation_id", conv.ID),
			zap.String("message_id", msg.ID))
	}

	e.logger.Info("Deleted message",
		zap.String("conversation_id", conv.ID),
		zap.String("message_id", msg.ID),
		zap.String("issuer_id", req.Issuer.ID))
	return msg, nil
}

// MarkUserDeleted reflects a user deleting their own message: the staff copy
// is struck through and the row flagged.
func (e *Engine) MarkUserDeleted(ctx context.Context, userID, userMessageID string) (*models.Message, error) {
	conv, err := e.store.GetActiveConversationByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	msg, err := e.store.FindMessageBySideID(ctx, conv.ID, userMessageID)
	if err != nil {
		return nil, err
	}
	if msg.MadeByStaff || msg.UserMessageID != userMessageID {
		return nil, models.NotFoundf("message %s was not written by the user", userMessageID)
	}
	if err := e.store.MarkMessageDeleted(ctx, msg.ID); err != nil {
		return nil, err
	}
	msg.Deleted = true

	if err := e.staff.Edit(ctx, conv.ChannelID, msg.StaffMessageID, renderMessage(msg, models.SideStaff, storedAuthor(msg))); err != nil {
		e.logger.Warn("Failed to strike staff copy",
			zap.Error(err),
			zap.String("conversation_id", conv.ID),
			zap.String("message_id", msg.ID))
	}
	return msg, nil
}

func (e *Engine) activeConversation(ctx context.Context, id string) (*models.Conversation, error) {
	conv, err := e.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !conv.Active {
		return nil, models.NotFoundf("conversation %s is closed", id)
	}
	return conv, nil
}
