// Package lifecycle opens, closes and moves conversations. Each operation
// allocates platform resources only after its store-side preconditions hold
// and releases them again when a later step fails.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xaenox/modmail-bot/internal/classifier"
	"github.com/xaenox/modmail-bot/internal/models"
	"github.com/xaenox/modmail-bot/internal/platform"
	"github.com/xaenox/modmail-bot/internal/prompt"
	"github.com/xaenox/modmail-bot/internal/relay"
	"go.uber.org/zap"
)

// Store is the persistence the lifecycle needs.
type Store interface {
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	GetActiveConversationByUser(ctx context.Context, userID string) (*models.Conversation, error)
	GetConversationByChannel(ctx context.Context, channelID string) (*models.Conversation, error)
	CloseConversation(ctx context.Context, id string, at time.Time) error
	MoveConversation(ctx context.Context, id, channelID, categoryID string) error
	CountClosedConversations(ctx context.Context, userID string) (int, error)
	ListMessages(ctx context.Context, conversationID string) ([]*models.Message, error)
	SetStaffMessageID(ctx context.Context, id, staffMessageID string) error
	GetCategory(ctx context.Context, id string) (*models.Category, error)
	FindCategory(ctx context.Context, ref string) (*models.Category, error)
	ListActiveCategories(ctx context.Context) ([]*models.Category, error)
}

// Gate decides whether a user may reach the staff at all.
type Gate interface {
	Allow(ctx context.Context, userID string) (bool, error)
}

// Relayer mirrors a user message into an open conversation.
type Relayer interface {
	Send(ctx context.Context, req relay.SendRequest) (*models.Message, error)
}

// Options configure the grace periods and the fallback access policy.
type Options struct {
	CreateGrace  time.Duration
	CloseGrace   time.Duration
	ForwardGrace time.Duration
	// Admins may open conversations in departments without an access list.
	Admins []string
}

// DefaultOptions returns the stock grace periods.
func DefaultOptions() Options {
	return Options{
		CreateGrace:  15 * time.Second,
		CloseGrace:   10 * time.Second,
		ForwardGrace: 10 * time.Second,
	}
}

type Service struct {
	store    Store
	staff    platform.StaffChannels
	private  platform.PrivateChannels
	selector *prompt.Selector
	relay    Relayer
	gate     Gate
	triage   classifier.Classifier
	opts     Options
	logger   *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

func NewService(
	store Store,
	staff platform.StaffChannels,
	private platform.PrivateChannels,
	selector *prompt.Selector,
	relayer Relayer,
	opts Options,
	logger *zap.Logger,
) *Service {
	return &Service{
		store:    store,
		staff:    staff,
		private:  private,
		selector: selector,
		relay:    relayer,
		opts:     opts,
		logger:   logger.Named("lifecycle"),
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// WithGate installs the check consulted before a user message is handled.
func (s *Service) WithGate(g Gate) *Service {
	s.gate = g
	return s
}

// WithTriage installs the classifier used for the department hint.
func (s *Service) WithTriage(c classifier.Classifier) *Service {
	s.triage = c
	return s
}

// ErrMuted is returned for messages from users that are muted.
var ErrMuted = fmt.Errorf("%w: user is muted", models.ErrPermission)

// UserMessage is a message the user wrote in their private channel.
type UserMessage struct {
	Author    platform.Identity
	Content   string
	MessageID string
}

// HandleUserMessage relays msg into the user's open conversation, opening one
// first when there is none.
func (s *Service) HandleUserMessage(ctx context.Context, msg UserMessage) (*models.Message, error) {
	if s.gate != nil {
		ok, err := s.gate.Allow(ctx, msg.Author.ID)
		if err != nil {
			return nil, fmt.Errorf("checking mute: %w", err)
		}
		if !ok {
			return nil, ErrMuted
		}
	}
	if err := models.ValidateContent(msg.Content); err != nil {
		return nil, err
	}

	conv, err := s.store.GetActiveConversationByUser(ctx, msg.Author.ID)
	if errors.Is(err, models.ErrNotFound) {
		conv, err = s.Create(ctx, CreateRequest{
			UserID:       msg.Author.ID,
			Requester:    msg.Author,
			Surface:      models.SideUser,
			Target:       msg.Author.ID,
			FirstMessage: msg.Content,
		})
		if errors.Is(err, models.ErrConstraint) {
			// Another message from the same user won the race; join it.
			conv, err = s.store.GetActiveConversationByUser(ctx, msg.Author.ID)
		}
	}
	if err != nil {
		return nil, err
	}

	return s.relay.Send(ctx, relay.SendRequest{
		ConversationID:  conv.ID,
		Origin:          models.SideUser,
		Author:          msg.Author,
		Content:         msg.Content,
		SourceMessageID: msg.MessageID,
	})
}

// Resolve returns the open conversation owning a staff channel.
func (s *Service) Resolve(ctx context.Context, channelID string) (*models.Conversation, error) {
	conv, err := s.store.GetConversationByChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if !conv.Active {
		return nil, models.NotFoundf("conversation in channel %s is closed", channelID)
	}
	return conv, nil
}

// ActiveForUser returns the user's open conversation.
func (s *Service) ActiveForUser(ctx context.Context, userID string) (*models.Conversation, error) {
	return s.store.GetActiveConversationByUser(ctx, userID)
}

// chooseCategory resolves ref when given and otherwise asks requester on the
// given surface.
func (s *Service) chooseCategory(ctx context.Context, ref string, surface models.Side, target, requesterID string) (*models.Category, error) {
	if ref != "" {
		cat, err := s.store.FindCategory(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("department %q: %w", ref, err)
		}
		return cat, nil
	}
	var p platform.Prompter = s.staff
	if surface == models.SideUser {
		p = s.private
	}
	return s.selector.Select(ctx, p, target, requesterID)
}

// cleanup runs fn after the grace period on a context that outlives ctx, so
// a shutdown cannot strand a channel.
func (s *Service) cleanup(ctx context.Context, grace time.Duration, fn func(ctx context.Context) error) error {
	detached := context.WithoutCancel(ctx)
	s.sleep(detached, grace)
	return fn(detached)
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
