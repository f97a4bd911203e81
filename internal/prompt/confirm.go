package prompt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xaenox/modmail-bot/internal/models"
	"github.com/xaenox/modmail-bot/internal/platform"
	"go.uber.org/zap"
)

const (
	TokenYes = "✅"
	TokenNo  = "❌"
)

// Confirmer asks a yes/no question and waits for the requester's answer.
type Confirmer struct {
	hub    *Hub
	window time.Duration
	logger *zap.Logger
}

func NewConfirmer(hub *Hub, window time.Duration, logger *zap.Logger) *Confirmer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Confirmer{hub: hub, window: window, logger: logger.Named("confirmer")}
}

// Confirm returns true only for an explicit yes. A no returns (false, nil);
// a timeout or unknown answer returns false with an error.
func (c *Confirmer) Confirm(ctx context.Context, p platform.Prompter, target, requesterID, title, question string) (bool, error) {
	promptID, err := p.PostPrompt(ctx, target, platform.Prompt{
		Title: title,
		Body:  question,
		Options: []platform.Option{
			{Token: TokenYes, Label: "Yes"},
			{Token: TokenNo, Label: "No"},
		},
	})
	if err != nil {
		return false, fmt.Errorf("posting confirmation: %w", err)
	}

	sig, err := c.hub.Wait(ctx, promptID, requesterID, c.window)
	switch {
	case errors.Is(err, models.ErrTimeout):
		c.rewrite(ctx, p, target, promptID, platform.Notice(title, "Looks like you waited too long. Please restart the process."))
		return false, err
	case err != nil:
		return false, err
	}

	switch sig.Token {
	case TokenYes:
		c.rewrite(ctx, p, target, promptID, platform.Notice(title, "The request is confirmed."))
		return true, nil
	case TokenNo:
		c.rewrite(ctx, p, target, promptID, platform.Notice(title, "The request is cancelled."))
		return false, nil
	default:
		c.rewrite(ctx, p, target, promptID, platform.Notice(title, "That is not one of the options. Please start over."))
		return false, fmt.Errorf("%w: %q", ErrInvalidSelection, sig.Token)
	}
}

func (c *Confirmer) rewrite(ctx context.Context, p platform.Prompter, target, promptID string, post platform.Post) {
	if err := p.EditPrompt(ctx, target, promptID, post); err != nil {
		c.logger.Warn("Failed to update confirmation",
			zap.Error(err),
			zap.String("prompt_id", promptID))
	}
}
