// Package discord connects the relay to Discord. One bot session serves the
// staff side (a guild where every conversation gets a text channel under its
// department's category channel) and, optionally, the private side (DMs).
package discord

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/xaenox/modmail-bot/internal/models"
	"github.com/xaenox/modmail-bot/internal/platform"
	"go.uber.org/zap"
)

const eventBuffer = 256

// Config holds what the adapter needs to connect.
type Config struct {
	Token   string
	GuildID string
	// IgnoreDMs drops direct messages when users are served elsewhere.
	IgnoreDMs bool
}

// Client owns the gateway session and fans its events out as platform
// events.
type Client struct {
	session   *discordgo.Session
	guildID   string
	ignoreDMs bool
	logger    *zap.Logger

	events chan platform.Event
	done   chan struct{}
	once   sync.Once

	mu sync.Mutex
	// dmChannels maps DM channel ids to users and back.
	dmByChannel map[string]string
	dmByUser    map[string]string
}

func New(cfg Config, logger *zap.Logger) (*Client, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsDirectMessageReactions |
		discordgo.IntentsMessageContent

	c := &Client{
		session:     session,
		guildID:     cfg.GuildID,
		ignoreDMs:   cfg.IgnoreDMs,
		logger:      logger.Named("discord"),
		events:      make(chan platform.Event, eventBuffer),
		done:        make(chan struct{}),
		dmByChannel: make(map[string]string),
		dmByUser:    make(map[string]string),
	}
	session.AddHandler(c.onMessageCreate)
	session.AddHandler(c.onMessageDelete)
	session.AddHandler(c.onReactionAdd)
	return c, nil
}

// Events is the stream of inbound events. It is closed by Close.
func (c *Client) Events() <-chan platform.Event {
	return c.events
}

// Start opens the gateway connection and blocks until ctx ends.
func (c *Client) Start(ctx context.Context) error {
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	c.logger.Info("Connected to Discord", zap.String("guild_id", c.guildID))
	<-ctx.Done()
	return c.Close()
}

func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.session.Close()
	})
	return err
}

// Staff returns the staff-side view of the client.
func (c *Client) Staff() *Staff {
	return &Staff{c: c}
}

// Private returns the DM view of the client.
func (c *Client) Private() *Private {
	return &Private{c: c}
}

func (c *Client) emit(ev platform.Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Client) isSelf(userID string) bool {
	return c.session.State != nil && c.session.State.User != nil && c.session.State.User.ID == userID
}

func (c *Client) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || c.isSelf(m.Author.ID) {
		return
	}
	ev := platform.Event{
		SurfaceID: m.ChannelID,
		Author:    c.identity(m.Author, m.Member),
		Content:   m.Content,
		MessageID: m.ID,
		Timestamp: m.Timestamp,
	}
	switch {
	case m.GuildID == "" && c.ignoreDMs:
		return
	case m.GuildID == "":
		c.rememberDM(m.ChannelID, m.Author.ID)
		ev.Kind = platform.EventUserMessage
	case m.GuildID == c.guildID:
		ev.Kind = platform.EventStaffMessage
	default:
		return
	}
	c.emit(ev)
}

func (c *Client) onMessageDelete(s *discordgo.Session, m *discordgo.MessageDelete) {
	if m.GuildID != "" {
		return
	}
	c.mu.Lock()
	userID, ok := c.dmByChannel[m.ChannelID]
	c.mu.Unlock()
	if !ok {
		return
	}
	c.emit(platform.Event{
		Kind:      platform.EventUserMessageDeleted,
		SurfaceID: m.ChannelID,
		Author:    platform.Identity{ID: userID},
		MessageID: m.ID,
		Timestamp: time.Now(),
	})
}

func (c *Client) onReactionAdd(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
	if c.isSelf(r.UserID) {
		return
	}
	c.emit(platform.Event{
		Kind:      platform.EventSignal,
		SurfaceID: r.MessageID,
		Author:    platform.Identity{ID: r.UserID},
		Token:     r.Emoji.Name,
		Timestamp: time.Now(),
	})
}

func (c *Client) rememberDM(channelID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dmByChannel[channelID] = userID
	c.dmByUser[userID] = channelID
}

// dmChannel returns the DM channel with userID, opening it when needed.
func (c *Client) dmChannel(ctx context.Context, userID string) (string, error) {
	c.mu.Lock()
	id, ok := c.dmByUser[userID]
	c.mu.Unlock()
	if ok {
		return id, nil
	}
	ch, err := c.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return "", mapError(err)
	}
	c.rememberDM(ch.ID, userID)
	return ch.ID, nil
}

// identity describes a user, labelled with their most senior role when they
// are a guild member.
func (c *Client) identity(u *discordgo.User, member *discordgo.Member) platform.Identity {
	id := platform.Identity{ID: u.ID, Name: displayName(u), AvatarURL: u.AvatarURL("")}
	if member != nil {
		if names := c.roleNames(member.Roles); len(names) > 0 {
			id.Label = names[0]
		}
	}
	return id
}

// roleNames resolves role ids to names, most senior first.
func (c *Client) roleNames(ids []string) []string {
	roles := make([]*discordgo.Role, 0, len(ids))
	for _, id := range ids {
		role, err := c.session.State.Role(c.guildID, id)
		if err != nil {
			continue
		}
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Position > roles[j].Position })
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	return names
}

func displayName(u *discordgo.User) string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

// mapError classifies REST failures into the shared error taxonomy.
func mapError(err error) error {
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) || rest.Message == nil {
		return err
	}
	switch rest.Message.Code {
	case discordgo.ErrCodeCannotSendMessagesToThisUser:
		return fmt.Errorf("%w: %v", models.ErrDelivery, err)
	case discordgo.ErrCodeUnknownChannel, discordgo.ErrCodeUnknownMessage,
		discordgo.ErrCodeUnknownMember, discordgo.ErrCodeUnknownUser:
		return fmt.Errorf("%w: %v", models.ErrNotFound, err)
	case discordgo.ErrCodeMissingAccess, discordgo.ErrCodeMissingPermissions:
		return fmt.Errorf("%w: %v", models.ErrPermission, err)
	}
	return err
}
