package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/xaenox/modmail-bot/internal/platform"
	"go.uber.org/zap"
)

// Close ends the conversation owning channelID. The row may already be
// inactive, for instance after an earlier close failed to delete the
// channel; its closing date is then left alone. Telling the user is best
// effort; the channel is deleted on every path once the row has been found.
func (s *Service) Close(ctx context.Context, channelID string, closer platform.Identity) (err error) {
	conv, err := s.store.GetConversationByChannel(ctx, channelID)
	if err != nil {
		return err
	}

	defer func() {
		detached := context.WithoutCancel(ctx)
		if conv.Active {
			if cerr := s.store.CloseConversation(detached, conv.ID, s.now()); cerr != nil {
				err = errors.Join(err, fmt.Errorf("closing conversation %s: %w", conv.ID, cerr))
			}
		}
		notice := platform.Notice("Conversation closed",
			fmt.Sprintf("This channel will be deleted in %s.", s.opts.CloseGrace))
		if _, serr := s.staff.Send(detached, channelID, notice); serr != nil {
			s.logger.Warn("Failed to post close notice", zap.Error(serr), zap.String("channel_id", channelID))
		}
		derr := s.cleanup(ctx, s.opts.CloseGrace, func(ctx context.Context) error {
			return s.staff.DeleteChannel(ctx, channelID)
		})
		if derr != nil {
			err = errors.Join(err, fmt.Errorf("deleting channel %s: %w", channelID, derr))
		}
		if err != nil {
			s.logger.Error("Conversation closed with errors", zap.Error(err), zap.String("conversation_id", conv.ID))
			return
		}
		s.logger.Info("Closed conversation",
			zap.String("conversation_id", conv.ID),
			zap.String("closer_id", closer.ID))
	}()

	bye := platform.Notice("Conversation closed", "The conversation was closed, hope that we were able to help you!")
	if _, nerr := s.private.Send(ctx, conv.UserID, bye); nerr != nil {
		s.logger.Warn("Failed to tell user about close", zap.Error(nerr), zap.String("user_id", conv.UserID))
		notice := platform.Notice("Conversation closed", "The user can't receive direct messages, so they were not told.")
		if _, serr := s.staff.Send(ctx, channelID, notice); serr != nil {
			s.logger.Warn("Failed to post close notice", zap.Error(serr), zap.String("channel_id", channelID))
		}
	}
	return nil
}
