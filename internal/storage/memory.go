package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/modmail-bot/internal/models"
)

// MemoryStorage keeps everything in process. It applies the same uniqueness
// and reference rules as the PostgreSQL schema so the two are interchangeable.
type MemoryStorage struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation
	activeByUser  map[string]string
	messages      map[string]*models.Message
	messageSeq    map[string]int64
	seq           int64
	categories    map[string]*models.Category
	mutes         map[string]*models.MuteRecord
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		conversations: make(map[string]*models.Conversation),
		activeByUser:  make(map[string]string),
		messages:      make(map[string]*models.Message),
		messageSeq:    make(map[string]int64),
		categories:    make(map[string]*models.Category),
		mutes:         make(map[string]*models.MuteRecord),
	}
}

// Conversation methods

func (s *MemoryStorage) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.categories[conv.CategoryID]; !ok {
		return fmt.Errorf("%w: unknown category %s", models.ErrConstraint, conv.CategoryID)
	}
	if conv.Active {
		if existing, ok := s.activeByUser[conv.UserID]; ok {
			return fmt.Errorf("%w: user %s already has active conversation %s", models.ErrConstraint, conv.UserID, existing)
		}
	}
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now()
	}

	stored := *conv
	s.conversations[conv.ID] = &stored
	if conv.Active {
		s.activeByUser[conv.UserID] = conv.ID
	}
	return nil
}

func (s *MemoryStorage) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if conv, ok := s.conversations[id]; ok {
		c := *conv
		return &c, nil
	}
	return nil, models.NotFoundf("conversation %s", id)
}

func (s *MemoryStorage) GetActiveConversationByUser(ctx context.Context, userID string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.activeByUser[userID]; ok {
		c := *s.conversations[id]
		return &c, nil
	}
	return nil, models.NotFoundf("no active conversation for user %s", userID)
}

func (s *MemoryStorage) GetConversationByChannel(ctx context.Context, channelID string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *models.Conversation
	for _, conv := range s.conversations {
		if conv.ChannelID != channelID {
			continue
		}
		// Prefer the active row, then the most recent one.
		if found == nil || (conv.Active && !found.Active) || (conv.Active == found.Active && conv.CreatedAt.After(found.CreatedAt)) {
			found = conv
		}
	}
	if found == nil {
		return nil, models.NotFoundf("no conversation for channel %s", channelID)
	}
	c := *found
	return &c, nil
}

func (s *MemoryStorage) CloseConversation(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return models.NotFoundf("conversation %s", id)
	}
	if conv.Active && s.activeByUser[conv.UserID] == id {
		delete(s.activeByUser, conv.UserID)
	}
	conv.Active = false
	closing := at
	conv.ClosingDate = &closing
	return nil
}

func (s *MemoryStorage) MoveConversation(ctx context.Context, id, channelID, categoryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return models.NotFoundf("conversation %s", id)
	}
	if _, ok := s.categories[categoryID]; !ok {
		return fmt.Errorf("%w: unknown category %s", models.ErrConstraint, categoryID)
	}
	conv.ChannelID = channelID
	conv.CategoryID = categoryID
	return nil
}

func (s *MemoryStorage) CountClosedConversations(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, conv := range s.conversations {
		if conv.UserID == userID && !conv.Active {
			count++
		}
	}
	return count, nil
}

// Message methods

func (s *MemoryStorage) SaveMessage(ctx context.Context, msg *models.Message) error {
	if err := models.ValidateContent(msg.Content); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[msg.ConversationID]; !ok {
		return fmt.Errorf("%w: unknown conversation %s", models.ErrConstraint, msg.ConversationID)
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Kind == "" {
		msg.Kind = models.KindRelay
	}
	now := time.Now()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now

	stored := *msg
	s.messages[msg.ID] = &stored
	s.seq++
	s.messageSeq[msg.ID] = s.seq
	return nil
}

func (s *MemoryStorage) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if msg, ok := s.messages[id]; ok {
		m := *msg
		return &m, nil
	}
	return nil, models.NotFoundf("message %s", id)
}

func (s *MemoryStorage) LatestMessage(ctx context.Context, conversationID string, filter MessageFilter) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *models.Message
	for _, msg := range s.sortedLocked(conversationID) {
		if msg.Deleted {
			continue
		}
		if filter.Kind != "" && msg.Kind != filter.Kind {
			continue
		}
		if filter.MadeByStaff != nil && msg.MadeByStaff != *filter.MadeByStaff {
			continue
		}
		if filter.AuthorID != "" && msg.AuthorID != filter.AuthorID {
			continue
		}
		latest = msg
	}
	if latest == nil {
		return nil, models.NotFoundf("no matching message in conversation %s", conversationID)
	}
	m := *latest
	return &m, nil
}

func (s *MemoryStorage) FindMessageBySideID(ctx context.Context, conversationID, sideID string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, msg := range s.messages {
		if msg.ConversationID != conversationID {
			continue
		}
		if msg.StaffMessageID == sideID || (msg.UserMessageID != "" && msg.UserMessageID == sideID) {
			m := *msg
			return &m, nil
		}
	}
	return nil, models.NotFoundf("message %s in conversation %s", sideID, conversationID)
}

func (s *MemoryStorage) UpdateMessageContent(ctx context.Context, id, content string) error {
	if err := models.ValidateContent(content); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return models.NotFoundf("message %s", id)
	}
	msg.Content = content
	msg.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStorage) MarkMessageDeleted(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok || msg.Deleted {
		return models.NotFoundf("message %s", id)
	}
	msg.Deleted = true
	msg.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStorage) SetStaffMessageID(ctx context.Context, id, staffMessageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return models.NotFoundf("message %s", id)
	}
	msg.StaffMessageID = staffMessageID
	return nil
}

func (s *MemoryStorage) ListMessages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sorted := s.sortedLocked(conversationID)
	result := make([]*models.Message, 0, len(sorted))
	for _, msg := range sorted {
		m := *msg
		result = append(result, &m)
	}
	return result, nil
}

func (s *MemoryStorage) ListNotes(ctx context.Context, userID string) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var notes []*models.Message
	for _, msg := range s.sortedLocked("") {
		if msg.Kind != models.KindInternal || msg.Deleted {
			continue
		}
		if conv, ok := s.conversations[msg.ConversationID]; ok && conv.UserID == userID {
			m := *msg
			notes = append(notes, &m)
		}
	}
	return notes, nil
}

// sortedLocked returns the messages of a conversation (all of them when
// conversationID is empty) in creation order.
func (s *MemoryStorage) sortedLocked(conversationID string) []*models.Message {
	var result []*models.Message
	for _, msg := range s.messages {
		if conversationID == "" || msg.ConversationID == conversationID {
			result = append(result, msg)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return s.messageSeq[result[i].ID] < s.messageSeq[result[j].ID]
	})
	return result
}

// Category methods

func (s *MemoryStorage) ListActiveCategories(ctx context.Context) ([]*models.Category, error) {
	return s.listCategories(true), nil
}

func (s *MemoryStorage) ListCategories(ctx context.Context) ([]*models.Category, error) {
	return s.listCategories(false), nil
}

func (s *MemoryStorage) listCategories(activeOnly bool) []*models.Category {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Category, 0, len(s.categories))
	for _, cat := range s.categories {
		if activeOnly && !cat.Active {
			continue
		}
		c := copyCategory(cat)
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

func (s *MemoryStorage) GetCategory(ctx context.Context, id string) (*models.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if cat, ok := s.categories[id]; ok {
		return copyCategory(cat), nil
	}
	return nil, models.NotFoundf("category %s", id)
}

func (s *MemoryStorage) FindCategory(ctx context.Context, ref string) (*models.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, cat := range s.categories {
		if cat.Active && (cat.ID == ref || strings.EqualFold(cat.Name, ref)) {
			return copyCategory(cat), nil
		}
	}
	return nil, models.NotFoundf("category %q", ref)
}

func (s *MemoryStorage) GetCategoryByToken(ctx context.Context, token string) (*models.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, cat := range s.categories {
		if cat.Active && cat.Token == token {
			return copyCategory(cat), nil
		}
	}
	return nil, models.NotFoundf("no active category for token %q", token)
}

func (s *MemoryStorage) UpsertCategory(ctx context.Context, cat *models.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cat.Active {
		for id, other := range s.categories {
			if id != cat.ID && other.Active && other.Token == cat.Token {
				return fmt.Errorf("%w: token %q already used by category %s", models.ErrConstraint, cat.Token, id)
			}
		}
	}
	s.categories[cat.ID] = copyCategory(cat)
	return nil
}

func (s *MemoryStorage) SetCategoryActive(ctx context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cat, ok := s.categories[id]
	if !ok {
		return models.NotFoundf("category %s", id)
	}
	cat.Active = active
	return nil
}

func copyCategory(cat *models.Category) *models.Category {
	c := *cat
	c.AccessList = append([]string(nil), cat.AccessList...)
	return &c
}

// Mute methods

func (s *MemoryStorage) UpsertMute(ctx context.Context, rec *models.MuteRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *rec
	s.mutes[rec.UserID] = &stored
	return nil
}

func (s *MemoryStorage) ClearMute(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.mutes[userID]
	if !ok {
		return models.NotFoundf("no mute record for user %s", userID)
	}
	rec.Active = false
	return nil
}

func (s *MemoryStorage) GetMute(ctx context.Context, userID string) (*models.MuteRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if rec, ok := s.mutes[userID]; ok {
		r := *rec
		return &r, nil
	}
	return nil, models.NotFoundf("no mute record for user %s", userID)
}

func (s *MemoryStorage) ListMutes(ctx context.Context, activeOnly bool) ([]*models.MuteRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.MuteRecord
	for _, rec := range s.mutes {
		if activeOnly && !rec.Active {
			continue
		}
		r := *rec
		result = append(result, &r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].MutedAt.Before(result[j].MutedAt) })
	return result, nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
