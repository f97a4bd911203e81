package lifecycle

import (
	"context"
	"fmt"

	"github.com/xaenox/modmail-bot/internal/models"
	"github.com/xaenox/modmail-bot/internal/platform"
	"github.com/xaenox/modmail-bot/internal/relay"
	"go.uber.org/zap"
)

// ForwardRequest moves the conversation in ChannelID to another department.
type ForwardRequest struct {
	ChannelID string
	Requester platform.Identity
	// CategoryRef skips the selector when set.
	CategoryRef string
}

// Forward recreates the conversation in a new channel under the chosen
// department, replays its history there and retires the old channel.
// Choosing the current department changes nothing.
func (s *Service) Forward(ctx context.Context, req ForwardRequest) (*models.Conversation, error) {
	conv, err := s.Resolve(ctx, req.ChannelID)
	if err != nil {
		return nil, err
	}
	cat, err := s.chooseCategory(ctx, req.CategoryRef, models.SideStaff, req.ChannelID, req.Requester.ID)
	if err != nil {
		return nil, err
	}
	if cat.ID == conv.CategoryID {
		notice := platform.Notice("Forward conversation", "The conversation is already in that department.")
		if _, err := s.staff.Send(ctx, req.ChannelID, notice); err != nil {
			s.logger.Warn("Failed to post forward notice", zap.Error(err), zap.String("channel_id", req.ChannelID))
		}
		return conv, nil
	}
	if err := s.Authorize(ctx, cat, req.Requester.ID); err != nil {
		return nil, err
	}

	previous, err := s.store.GetCategory(ctx, conv.CategoryID)
	if err != nil {
		s.logger.Warn("Failed to load previous department", zap.Error(err), zap.String("category_id", conv.CategoryID))
		previous = nil
	}

	profile := s.profile(ctx, conv.UserID)
	newChannel, err := s.staff.CreateChannel(ctx, channelName(profile), cat)
	if err != nil {
		return nil, fmt.Errorf("creating channel in %s: %w", cat.Name, err)
	}
	// original keeps the staff-side ids of replayed messages so an aborted
	// forward can point them back at the old channel.
	original := make(map[string]string)
	replayed := make(map[string]string)
	abandon := func(cause error) (*models.Conversation, error) {
		detached := context.WithoutCancel(ctx)
		restore := make(map[string]string, len(replayed))
		for msgID := range replayed {
			restore[msgID] = original[msgID]
		}
		s.repoint(detached, restore)
		if derr := s.staff.DeleteChannel(detached, newChannel); derr != nil {
			s.logger.Error("Failed to remove abandoned channel", zap.Error(derr), zap.String("channel_id", newChannel))
		}
		return nil, cause
	}

	if _, err := s.staff.Send(ctx, newChannel, s.summary(ctx, profile, "")); err != nil {
		s.logger.Warn("Failed to post profile summary", zap.Error(err), zap.String("channel_id", newChannel))
	}
	notice := platform.Notice("Forwarded conversation",
		fmt.Sprintf("%s forwarded this conversation from %s", req.Requester.Name, categoryLabel(previous)))
	if _, err := s.staff.Send(ctx, newChannel, notice); err != nil {
		s.logger.Warn("Failed to post forward notice", zap.Error(err), zap.String("channel_id", newChannel))
	}

	history, err := s.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return abandon(fmt.Errorf("loading history: %w", err))
	}
	for _, msg := range history {
		original[msg.ID] = msg.StaffMessageID
	}
	if err := s.replay(ctx, newChannel, history, replayed); err != nil {
		return abandon(err)
	}

	if err := s.store.MoveConversation(ctx, conv.ID, newChannel, cat.ID); err != nil {
		return abandon(fmt.Errorf("moving conversation %s: %w", conv.ID, err))
	}

	// Messages relayed into the old channel while history was replayed.
	if late, err := s.store.ListMessages(ctx, conv.ID); err != nil {
		s.logger.Warn("Failed to reload history", zap.Error(err), zap.String("conversation_id", conv.ID))
	} else if err := s.replay(ctx, newChannel, late, replayed); err != nil {
		s.logger.Warn("Failed to replay late messages", zap.Error(err), zap.String("conversation_id", conv.ID))
	}

	conv.ChannelID = newChannel
	conv.CategoryID = cat.ID

	moved := platform.Notice("Conversation forwarded",
		fmt.Sprintf("Your conversation was forwarded to the %s team.", categoryLabel(cat)))
	if _, err := s.private.Send(ctx, conv.UserID, moved); err != nil {
		s.logger.Warn("Failed to tell user about forward", zap.Error(err), zap.String("user_id", conv.UserID))
	}

	retire := platform.Notice("Forward conversation",
		fmt.Sprintf("Successfully forwarded to %s, this channel will be deleted in %s.", categoryLabel(cat), s.opts.ForwardGrace))
	if _, err := s.staff.Send(ctx, req.ChannelID, retire); err != nil {
		s.logger.Warn("Failed to post forward notice", zap.Error(err), zap.String("channel_id", req.ChannelID))
	}
	err = s.cleanup(ctx, s.opts.ForwardGrace, func(ctx context.Context) error {
		return s.staff.DeleteChannel(ctx, req.ChannelID)
	})
	if err != nil {
		s.logger.Error("Failed to delete old channel", zap.Error(err), zap.String("channel_id", req.ChannelID))
	}

	s.logger.Info("Forwarded conversation",
		zap.String("conversation_id", conv.ID),
		zap.String("category_id", cat.ID),
		zap.String("channel_id", newChannel))
	return conv, nil
}

// replay posts every message of history not yet in posted to channelID, in
// order, and points its staff-side id at the new copy right away. posted
// records msgID -> new staff id for everything replayed so far.
func (s *Service) replay(ctx context.Context, channelID string, history []*models.Message, posted map[string]string) error {
	for _, msg := range history {
		if _, ok := posted[msg.ID]; ok {
			continue
		}
		id, err := s.staff.Send(ctx, channelID, relay.RenderReplay(msg))
		if err != nil {
			return fmt.Errorf("replaying message %s: %w", msg.ID, err)
		}
		posted[msg.ID] = id
		s.repoint(ctx, map[string]string{msg.ID: id})
	}
	return nil
}

func (s *Service) repoint(ctx context.Context, posted map[string]string) {
	for msgID, staffID := range posted {
		if err := s.store.SetStaffMessageID(ctx, msgID, staffID); err != nil {
			s.logger.Warn("Failed to repoint message",
				zap.Error(err),
				zap.String("message_id", msgID),
				zap.String("staff_message_id", staffID))
		}
	}
}
