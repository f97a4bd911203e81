package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/xaenox/modmail-bot/internal/models"
	"github.com/xaenox/modmail-bot/internal/platform"
	"go.uber.org/zap"
)

// profile loads the user's profile, falling back to a bare identity.
func (s *Service) profile(ctx context.Context, userID string) *platform.Profile {
	p, err := s.private.Profile(ctx, userID)
	if err != nil || p == nil {
		s.logger.Warn("Failed to load profile", zap.Error(err), zap.String("user_id", userID))
		return &platform.Profile{Identity: platform.Identity{ID: userID, Name: userID}}
	}
	return p
}

// summary describes the user to the staff when a channel opens.
func (s *Service) summary(ctx context.Context, p *platform.Profile, firstMessage string) platform.Post {
	closed, err := s.store.CountClosedConversations(ctx, p.ID)
	if err != nil {
		s.logger.Warn("Failed to count past conversations", zap.Error(err), zap.String("user_id", p.ID))
	}
	past := "no"
	if closed > 0 {
		past = fmt.Sprintf("**%d**", closed)
	}

	now := s.now()
	body := fmt.Sprintf("%s was created %s, joined %s with %s past threads",
		p.Name, ago(now, p.CreatedAt), ago(now, p.JoinedAt), past)

	post := platform.Post{
		Kind:      platform.PostProfile,
		Title:     p.Name,
		Author:    p.Identity,
		Body:      body,
		Footer:    fmt.Sprintf("User ID: %s", p.ID),
		Timestamp: now,
	}
	if len(p.Groups) > 0 {
		post.Fields = append(post.Fields, platform.Field{Name: "Roles", Value: strings.Join(p.Groups, " ")})
	}
	if hint := s.suggest(ctx, firstMessage); hint != "" {
		post.Fields = append(post.Fields, platform.Field{Name: "Suggested department", Value: hint})
	}
	return post
}

func (s *Service) suggest(ctx context.Context, content string) string {
	if s.triage == nil || strings.TrimSpace(content) == "" {
		return ""
	}
	cats, err := s.store.ListActiveCategories(ctx)
	if err != nil || len(cats) == 0 {
		return ""
	}
	names := make([]string, 0, len(cats))
	for _, c := range cats {
		names = append(names, c.Name)
	}
	return s.triage.Suggest(ctx, content, names)
}

func ago(now, then time.Time) string {
	if then.IsZero() {
		return "at an unknown time"
	}
	days := int(now.Sub(then).Hours() / 24)
	switch days {
	case 0:
		return "today"
	case 1:
		return "1 day ago"
	default:
		return fmt.Sprintf("%d days ago", days)
	}
}

// channelName derives a platform-safe channel name for a user.
func channelName(p *platform.Profile) string {
	var b strings.Builder
	for _, r := range strings.ToLower(p.Name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_' || r == '.':
			b.WriteRune('-')
		}
	}
	name := strings.Trim(b.String(), "-")
	if name == "" {
		name = "user"
	}
	id := p.ID
	if len(id) > 4 {
		id = id[len(id)-4:]
	}
	return name + "-" + id
}

func categoryLabel(cat *models.Category) string {
	if cat == nil || cat.Name == "" {
		return "unknown"
	}
	return strings.ToUpper(cat.Name[:1]) + cat.Name[1:]
}
