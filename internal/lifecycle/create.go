package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/xaenox/modmail-bot/internal/models"
	"github.com/xaenox/modmail-bot/internal/platform"
	"go.uber.org/zap"
)

// CreateRequest opens a conversation for UserID on behalf of Requester.
type CreateRequest struct {
	UserID    string
	Requester platform.Identity
	// Surface and Target locate where the category selector is shown: the
	// user's private channel or a staff channel.
	Surface models.Side
	Target  string
	// CategoryRef skips the selector when set.
	CategoryRef string
	// FirstMessage feeds the department hint on first contact.
	FirstMessage string
}

// Create opens a staff channel and an active conversation for the user.
// Nothing is allocated until a department has been chosen and the requester
// is allowed into it. When the user cannot be told about the conversation it
// is rolled back after the create grace period.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Conversation, error) {
	cat, err := s.chooseCategory(ctx, req.CategoryRef, req.Surface, req.Target, req.Requester.ID)
	if err != nil {
		return nil, err
	}
	if req.Requester.ID != req.UserID {
		if err := s.Authorize(ctx, cat, req.Requester.ID); err != nil {
			return nil, err
		}
	}

	profile := s.profile(ctx, req.UserID)
	channelID, err := s.staff.CreateChannel(ctx, channelName(profile), cat)
	if err != nil {
		return nil, fmt.Errorf("creating channel in %s: %w", cat.Name, err)
	}

	conv := &models.Conversation{
		UserID:     req.UserID,
		ChannelID:  channelID,
		CategoryID: cat.ID,
		Active:     true,
		CreatedAt:  s.now(),
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		if derr := s.staff.DeleteChannel(context.WithoutCancel(ctx), channelID); derr != nil {
			s.logger.Error("Failed to remove channel of rejected conversation",
				zap.Error(derr),
				zap.String("channel_id", channelID))
		}
		return nil, fmt.Errorf("recording conversation for %s: %w", req.UserID, err)
	}

	if _, err := s.staff.Send(ctx, channelID, s.summary(ctx, profile, req.FirstMessage)); err != nil {
		s.logger.Warn("Failed to post profile summary", zap.Error(err), zap.String("channel_id", channelID))
	}
	if req.Requester.ID != req.UserID {
		notice := platform.Notice("Conversation created",
			fmt.Sprintf("%s opened this conversation in %s", req.Requester.Name, categoryLabel(cat)))
		if _, err := s.staff.Send(ctx, channelID, notice); err != nil {
			s.logger.Warn("Failed to post creation notice", zap.Error(err), zap.String("channel_id", channelID))
		}
	}

	if err := s.notifyCreated(ctx, req, cat); err != nil {
		if !errors.Is(err, models.ErrDelivery) {
			s.logger.Warn("Failed to notify user of new conversation", zap.Error(err), zap.String("user_id", req.UserID))
		} else {
			s.rollback(ctx, conv)
			return nil, fmt.Errorf("notifying user %s: %w", req.UserID, err)
		}
	}

	s.logger.Info("Opened conversation",
		zap.String("conversation_id", conv.ID),
		zap.String("user_id", conv.UserID),
		zap.String("category_id", cat.ID),
		zap.String("requester_id", req.Requester.ID))
	return conv, nil
}

func (s *Service) notifyCreated(ctx context.Context, req CreateRequest, cat *models.Category) error {
	body := fmt.Sprintf("A member of the %s team opened a conversation with you. Reply here to answer them.", categoryLabel(cat))
	if req.Requester.ID == req.UserID {
		body = fmt.Sprintf("Your message has been forwarded to the %s team. They will answer you here.", categoryLabel(cat))
	}
	_, err := s.private.Send(ctx, req.UserID, platform.Notice("Conversation created", body))
	return err
}

// rollback undoes a conversation the user never heard about.
func (s *Service) rollback(ctx context.Context, conv *models.Conversation) {
	notice := platform.Notice("Conversation created",
		fmt.Sprintf("The user can't receive direct messages, so this channel will be deleted in %s.", s.opts.CreateGrace))
	if _, err := s.staff.Send(ctx, conv.ChannelID, notice); err != nil {
		s.logger.Warn("Failed to post rollback notice", zap.Error(err), zap.String("channel_id", conv.ChannelID))
	}

	err := s.cleanup(ctx, s.opts.CreateGrace, func(ctx context.Context) error {
		return errors.Join(
			s.store.CloseConversation(ctx, conv.ID, s.now()),
			s.staff.DeleteChannel(ctx, conv.ChannelID),
		)
	})
	if err != nil {
		s.logger.Error("Failed to roll back conversation",
			zap.Error(err),
			zap.String("conversation_id", conv.ID),
			zap.String("channel_id", conv.ChannelID))
	}
}
