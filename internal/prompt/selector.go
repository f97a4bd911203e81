package prompt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xaenox/modmail-bot/internal/models"
	"github.com/xaenox/modmail-bot/internal/platform"
	"go.uber.org/zap"
)

// DefaultWindow is how long a requester has to answer a prompt.
const DefaultWindow = 30 * time.Second

// ErrInvalidSelection means the answer did not map to an active department.
var ErrInvalidSelection = fmt.Errorf("%w: selection does not match any department", models.ErrValidation)

// NoSelection reports whether err means the requester did not pick anything
// usable and the enclosing operation should stop quietly.
func NoSelection(err error) bool {
	return errors.Is(err, models.ErrTimeout) || errors.Is(err, ErrInvalidSelection)
}

// CategorySource is the read-only view of departments the selector needs.
type CategorySource interface {
	ListActiveCategories(ctx context.Context) ([]*models.Category, error)
	GetCategoryByToken(ctx context.Context, token string) (*models.Category, error)
}

// Selector asks one requester to choose a department.
type Selector struct {
	hub        *Hub
	categories CategorySource
	window     time.Duration
	logger     *zap.Logger
}

func NewSelector(hub *Hub, categories CategorySource, window time.Duration, logger *zap.Logger) *Selector {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Selector{hub: hub, categories: categories, window: window, logger: logger.Named("selector")}
}

// Select presents every active department on target and returns the one the
// requester picks. It writes nothing to the store. Timeouts and unknown
// answers rewrite the prompt and return an error for which NoSelection is
// true.
func (s *Selector) Select(ctx context.Context, p platform.Prompter, target, requesterID string) (*models.Category, error) {
	categories, err := s.categories.ListActiveCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing departments: %w", err)
	}
	if len(categories) == 0 {
		return nil, models.NotFoundf("no departments are open")
	}

	lines := make([]string, 0, len(categories))
	options := make([]platform.Option, 0, len(categories))
	for _, cat := range categories {
		label := capitalize(cat.Name)
		lines = append(lines, fmt.Sprintf("%s = %s", label, cat.Token))
		options = append(options, platform.Option{Token: cat.Token, Label: label})
	}

	promptID, err := p.PostPrompt(ctx, target, platform.Prompt{
		Title:   "Category Selector",
		Body:    "Please react with the corresponding emote for your desired category\n\n" + strings.Join(lines, "\n"),
		Options: options,
	})
	if err != nil {
		return nil, fmt.Errorf("posting category selector: %w", err)
	}

	sig, err := s.hub.Wait(ctx, promptID, requesterID, s.window)
	if err != nil {
		if errors.Is(err, models.ErrTimeout) {
			s.rewrite(ctx, p, target, promptID, platform.Notice("Category Selector",
				"You didn't answer in time, please restart the process."))
		}
		return nil, err
	}

	cat, err := s.categories.GetCategoryByToken(ctx, sig.Token)
	if errors.Is(err, models.ErrNotFound) {
		s.rewrite(ctx, p, target, promptID, platform.Notice("Invalid Reaction",
			"Please use one of the listed emotes. Restart the process and try again."))
		return nil, fmt.Errorf("%w: %q", ErrInvalidSelection, sig.Token)
	}
	if err != nil {
		return nil, fmt.Errorf("resolving selection: %w", err)
	}

	s.rewrite(ctx, p, target, promptID, platform.Notice("Category Selector",
		fmt.Sprintf("Selected **%s**", capitalize(cat.Name))))
	return cat, nil
}

func (s *Selector) rewrite(ctx context.Context, p platform.Prompter, target, promptID string, post platform.Post) {
	if err := p.EditPrompt(ctx, target, promptID, post); err != nil {
		s.logger.Warn("Failed to update prompt",
			zap.Error(err),
			zap.String("prompt_id", promptID))
	}
}

func capitalize(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
