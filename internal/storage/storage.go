package storage

import (
	"context"
	"time"

	"github.com/xaenox/modmail-bot/internal/models"
)

// Storage is the single source of truth for conversations, their messages,
// departments and mutes. Implementations enforce at most one active
// conversation per user structurally and report violations as
// models.ErrConstraint.
type Storage interface {
	ConversationStorage
	MessageStorage
	CategoryStorage
	MuteStorage
	Close() error
}

type ConversationStorage interface {
	// CreateConversation fails with models.ErrConstraint when the user already
	// has an active conversation or the category is unknown.
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	GetActiveConversationByUser(ctx context.Context, userID string) (*models.Conversation, error)
	// GetConversationByChannel resolves a staff channel regardless of the
	// active flag.
	GetConversationByChannel(ctx context.Context, channelID string) (*models.Conversation, error)
	CloseConversation(ctx context.Context, id string, at time.Time) error
	MoveConversation(ctx context.Context, id, channelID, categoryID string) error
	CountClosedConversations(ctx context.Context, userID string) (int, error)
}

// MessageFilter narrows LatestMessage. Zero values match everything.
type MessageFilter struct {
	Kind        models.MessageKind
	MadeByStaff *bool
	AuthorID    string
}

type MessageStorage interface {
	SaveMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	// LatestMessage returns the most recent not-deleted message of the
	// conversation matching filter.
	LatestMessage(ctx context.Context, conversationID string, filter MessageFilter) (*models.Message, error)
	// FindMessageBySideID matches either the staff-side or user-side id.
	FindMessageBySideID(ctx context.Context, conversationID, sideID string) (*models.Message, error)
	UpdateMessageContent(ctx context.Context, id, content string) error
	// MarkMessageDeleted flips deleted once; a second call reports
	// models.ErrNotFound.
	MarkMessageDeleted(ctx context.Context, id string) error
	SetStaffMessageID(ctx context.Context, id, staffMessageID string) error
	// ListMessages returns the whole history in chronological order,
	// internal notes and deleted messages included.
	ListMessages(ctx context.Context, conversationID string) ([]*models.Message, error)
	// ListNotes returns every internal note about a user across
	// conversations, oldest first.
	ListNotes(ctx context.Context, userID string) ([]*models.Message, error)
}

type CategoryStorage interface {
	ListActiveCategories(ctx context.Context) ([]*models.Category, error)
	ListCategories(ctx context.Context) ([]*models.Category, error)
	GetCategory(ctx context.Context, id string) (*models.Category, error)
	// FindCategory resolves an active category by id or case-insensitive name.
	FindCategory(ctx context.Context, ref string) (*models.Category, error)
	GetCategoryByToken(ctx context.Context, token string) (*models.Category, error)
	UpsertCategory(ctx context.Context, cat *models.Category) error
	SetCategoryActive(ctx context.Context, id string, active bool) error
}

type MuteStorage interface {
	UpsertMute(ctx context.Context, rec *models.MuteRecord) error
	ClearMute(ctx context.Context, userID string) error
	GetMute(ctx context.Context, userID string) (*models.MuteRecord, error)
	ListMutes(ctx context.Context, activeOnly bool) ([]*models.MuteRecord, error)
}
