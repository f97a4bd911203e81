package discord

import (
	"context"
	"errors"

	"github.com/bwmarrin/discordgo"
	"github.com/xaenox/modmail-bot/internal/models"
	"github.com/xaenox/modmail-bot/internal/platform"
	"go.uber.org/zap"
)

// Staff implements platform.StaffChannels and platform.Containers on the
// staff guild.
type Staff struct {
	c *Client
}

var (
	_ platform.StaffChannels = (*Staff)(nil)
	_ platform.Containers    = (*Staff)(nil)
)

func (s *Staff) CreateChannel(ctx context.Context, name string, category *models.Category) (string, error) {
	guildID := category.GroupID
	if guildID == "" {
		guildID = s.c.guildID
	}
	ch, err := s.c.session.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name:     name,
		Type:     discordgo.ChannelTypeGuildText,
		ParentID: category.ID,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", mapError(err)
	}
	return ch.ID, nil
}

func (s *Staff) DeleteChannel(ctx context.Context, channelID string) error {
	_, err := s.c.session.ChannelDelete(channelID, discordgo.WithContext(ctx))
	return mapError(err)
}

func (s *Staff) Send(ctx context.Context, channelID string, p platform.Post) (string, error) {
	msg, err := s.c.session.ChannelMessageSendEmbed(channelID, embed(p), discordgo.WithContext(ctx))
	if err != nil {
		return "", mapError(err)
	}
	return msg.ID, nil
}

func (s *Staff) Edit(ctx context.Context, channelID, messageID string, p platform.Post) error {
	_, err := s.c.session.ChannelMessageEditEmbed(channelID, messageID, embed(p), discordgo.WithContext(ctx))
	return mapError(err)
}

func (s *Staff) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return mapError(s.c.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)))
}

func (s *Staff) MemberGroups(ctx context.Context, groupID, memberID string) ([]string, error) {
	if groupID == "" {
		groupID = s.c.guildID
	}
	member, err := s.c.session.GuildMember(groupID, memberID, discordgo.WithContext(ctx))
	if err != nil {
		err = mapError(err)
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return member.Roles, nil
}

func (s *Staff) PostPrompt(ctx context.Context, target string, pr platform.Prompt) (string, error) {
	return s.c.postPrompt(ctx, target, pr)
}

func (s *Staff) EditPrompt(ctx context.Context, target, promptID string, p platform.Post) error {
	return s.c.editPrompt(ctx, target, promptID, p)
}

// ContainerName returns the name of a department's category channel.
func (s *Staff) ContainerName(ctx context.Context, categoryID string) (string, error) {
	ch, err := s.c.session.Channel(categoryID, discordgo.WithContext(ctx))
	if err != nil {
		return "", mapError(err)
	}
	if ch.Type != discordgo.ChannelTypeGuildCategory {
		return "", models.NotFoundf("channel %s is not a category", categoryID)
	}
	return ch.Name, nil
}

// postPrompt sends the prompt and adds one reaction per option; reacting is
// how a member answers.
func (c *Client) postPrompt(ctx context.Context, channelID string, pr platform.Prompt) (string, error) {
	msg, err := c.session.ChannelMessageSendEmbed(channelID, promptEmbed(pr), discordgo.WithContext(ctx))
	if err != nil {
		return "", mapError(err)
	}
	for _, o := range pr.Options {
		if err := c.session.MessageReactionAdd(channelID, msg.ID, o.Token, discordgo.WithContext(ctx)); err != nil {
			return "", mapError(err)
		}
	}
	return msg.ID, nil
}

func (c *Client) editPrompt(ctx context.Context, channelID, promptID string, p platform.Post) error {
	if err := c.session.MessageReactionsRemoveAll(channelID, promptID, discordgo.WithContext(ctx)); err != nil {
		c.logger.Debug("Failed to clear prompt reactions", zap.Error(err), zap.String("prompt_id", promptID))
	}
	_, err := c.session.ChannelMessageEditEmbed(channelID, promptID, embed(p), discordgo.WithContext(ctx))
	return mapError(err)
}
