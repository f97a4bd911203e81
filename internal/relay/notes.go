package relay

import (
	"context"
	"fmt"

	"github.com/xaenox/modmail-bot/internal/models"
	"github.com/xaenox/modmail-bot/internal/platform"
	"go.uber.org/zap"
)

// AddNote posts an internal note to the staff channel. Notes are never
// mirrored to the user.
func (e *Engine) AddNote(ctx context.Context, conversationID string, author platform.Identity, content string) (*models.Message, error) {
	if err := models.ValidateContent(content); err != nil {
		return nil, err
	}
	conv, err := e.activeConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	note := &models.Message{
		ConversationID: conv.ID,
		Kind:           models.KindInternal,
		AuthorID:       author.ID,
		AuthorName:     author.Name,
		Content:        content,
		MadeByStaff:    true,
		CreatedAt:      e.now(),
	}
	staffSide, err := e.staff.Send(ctx, conv.ChannelID, renderMessage(note, models.SideStaff, author))
	if err != nil {
		return nil, fmt.Errorf("posting note: %w", err)
	}
	note.StaffMessageID = staffSide

	if err := e.store.SaveMessage(ctx, note); err != nil {
		return nil, fmt.Errorf("saving note: %w", err)
	}
	return note, nil
}

// Notes lists the live notes about a user across all their conversations.
func (e *Engine) Notes(ctx context.Context, userID string) ([]*models.Message, error) {
	return e.store.ListNotes(ctx, userID)
}

// EditNote rewrites a note. Only its author may change it.
func (e *Engine) EditNote(ctx context.Context, noteID string, issuer platform.Identity, content string) (*models.Message, error) {
	if err := models.ValidateContent(content); err != nil {
		return nil, err
	}
	note, err := e.ownNote(ctx, noteID, issuer)
	if err != nil {
		return nil, err
	}
	if err := e.store.UpdateMessageContent(ctx, note.ID, content); err != nil {
		return nil, fmt.Errorf("saving note: %w", err)
	}
	note.Content = content
	e.refreshNote(ctx, note, issuer)
	return note, nil
}

// DeleteNote withdraws a note. Only its author may remove it.
func (e *Engine) DeleteNote(ctx context.Context, noteID string, issuer platform.Identity) error {
	note, err := e.ownNote(ctx, noteID, issuer)
	if err != nil {
		return err
	}
	if err := e.store.MarkMessageDeleted(ctx, note.ID); err != nil {
		return err
	}
	note.Deleted = true
	e.refreshNote(ctx, note, issuer)
	return nil
}

func (e *Engine) ownNote(ctx context.Context, noteID string, issuer platform.Identity) (*models.Message, error) {
	note, err := e.store.GetMessage(ctx, noteID)
	if err != nil {
		return nil, err
	}
	if !note.IsNote() || note.Deleted {
		return nil, models.NotFoundf("note %s", noteID)
	}
	if note.AuthorID != issuer.ID {
		return nil, fmt.Errorf("%w: note %s belongs to someone else", models.ErrPermission, noteID)
	}
	return note, nil
}

// refreshNote updates the posted copy while its conversation is still open.
func (e *Engine) refreshNote(ctx context.Context, note *models.Message, author platform.Identity) {
	conv, err := e.store.GetConversation(ctx, note.ConversationID)
	if err != nil || !conv.Active {
		return
	}
	if err := e.staff.Edit(ctx, conv.ChannelID, note.StaffMessageID, renderMessage(note, models.SideStaff, author)); err != nil {
		e.logger.Warn("Failed to update posted note",
			zap.Error(err),
			zap.String("note_id", note.ID))
	}
}
