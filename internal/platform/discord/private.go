package discord

import (
	"context"
	"errors"

	"github.com/bwmarrin/discordgo"
	"github.com/xaenox/modmail-bot/internal/models"
	"github.com/xaenox/modmail-bot/internal/platform"
	"go.uber.org/zap"
)

// Private implements platform.PrivateChannels over DMs.
type Private struct {
	c *Client
}

var _ platform.PrivateChannels = (*Private)(nil)

func (p *Private) Send(ctx context.Context, userID string, post platform.Post) (string, error) {
	channelID, err := p.c.dmChannel(ctx, userID)
	if err != nil {
		return "", err
	}
	msg, err := p.c.session.ChannelMessageSendEmbed(channelID, embed(post), discordgo.WithContext(ctx))
	if err != nil {
		return "", mapError(err)
	}
	return msg.ID, nil
}

func (p *Private) Edit(ctx context.Context, userID, messageID string, post platform.Post) error {
	channelID, err := p.c.dmChannel(ctx, userID)
	if err != nil {
		return err
	}
	_, err = p.c.session.ChannelMessageEditEmbed(channelID, messageID, embed(post), discordgo.WithContext(ctx))
	return mapError(err)
}

func (p *Private) PostPrompt(ctx context.Context, userID string, pr platform.Prompt) (string, error) {
	channelID, err := p.c.dmChannel(ctx, userID)
	if err != nil {
		return "", err
	}
	return p.c.postPrompt(ctx, channelID, pr)
}

func (p *Private) EditPrompt(ctx context.Context, userID, promptID string, post platform.Post) error {
	channelID, err := p.c.dmChannel(ctx, userID)
	if err != nil {
		return err
	}
	return p.c.editPrompt(ctx, channelID, promptID, post)
}

// Profile reports account age from the snowflake and guild membership from
// the staff guild.
func (p *Private) Profile(ctx context.Context, userID string) (*platform.Profile, error) {
	u, err := p.c.session.User(userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapError(err)
	}
	profile := &platform.Profile{Identity: p.c.identity(u, nil)}
	if created, err := discordgo.SnowflakeTimestamp(u.ID); err == nil {
		profile.CreatedAt = created
	}

	member, err := p.c.session.GuildMember(p.c.guildID, userID, discordgo.WithContext(ctx))
	switch err = mapError(err); {
	case err == nil:
		profile.JoinedAt = member.JoinedAt
		profile.Groups = p.c.roleNames(member.Roles)
	case errors.Is(err, models.ErrNotFound):
	default:
		p.c.logger.Warn("Failed to load guild member", zap.Error(err), zap.String("user_id", userID))
	}
	return profile, nil
}
