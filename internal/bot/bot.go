// Package bot turns inbound platform events into relay and lifecycle
// operations. Events that touch the same user or staff channel are handled
// in arrival order; selection signals go straight to the prompt hub so a
// waiting prompt is never stuck behind its own command.
package bot

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/xaenox/modmail-bot/internal/lifecycle"
	"github.com/xaenox/modmail-bot/internal/models"
	"github.com/xaenox/modmail-bot/internal/mute"
	"github.com/xaenox/modmail-bot/internal/platform"
	"github.com/xaenox/modmail-bot/internal/prompt"
	"github.com/xaenox/modmail-bot/internal/relay"
	"go.uber.org/zap"
)

// Options configure command parsing and who counts as staff.
type Options struct {
	Prefix string
	// GroupID is the staff guild whose roles are checked.
	GroupID    string
	Admins     []string
	StaffRoles []string
}

// Deps are the services the bot drives.
type Deps struct {
	Lifecycle *lifecycle.Service
	Relay     *relay.Engine
	Mutes     *mute.Guard
	Hub       *prompt.Hub
	Confirmer *prompt.Confirmer
	Staff     platform.StaffChannels
	Private   platform.PrivateChannels
}

type Bot struct {
	Deps
	opts   Options
	seq    *Sequencer
	logger *zap.Logger
}

func New(deps Deps, opts Options, logger *zap.Logger) *Bot {
	if opts.Prefix == "" {
		opts.Prefix = "!"
	}
	return &Bot{
		Deps:   deps,
		opts:   opts,
		seq:    NewSequencer(),
		logger: logger.Named("bot"),
	}
}

// Start consumes events until the channel closes or ctx ends, then waits for
// in-flight handlers.
func (b *Bot) Start(ctx context.Context, events <-chan platform.Event) error {
	defer b.seq.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			b.Dispatch(ctx, ev)
		}
	}
}

// Dispatch routes one event. It returns without waiting for the handler.
func (b *Bot) Dispatch(ctx context.Context, ev platform.Event) {
	switch ev.Kind {
	case platform.EventSignal:
		b.Hub.Deliver(prompt.Signal{
			SurfaceID: ev.SurfaceID,
			IssuerID:  ev.Author.ID,
			Token:     ev.Token,
			At:        ev.Timestamp,
		})
	case platform.EventUserMessage:
		b.seq.Do("user:"+ev.Author.ID, func() { b.handleUserMessage(ctx, ev) })
	case platform.EventUserMessageDeleted:
		b.seq.Do("user:"+ev.Author.ID, func() { b.handleUserDeleted(ctx, ev) })
	case platform.EventStaffMessage:
		if !strings.HasPrefix(ev.Content, b.opts.Prefix) {
			return
		}
		b.seq.Do("channel:"+ev.SurfaceID, func() { b.handleCommand(ctx, ev) })
	default:
		b.logger.Debug("Ignoring event", zap.Stringer("kind", ev.Kind))
	}
}

// Wait blocks until all dispatched handlers have finished.
func (b *Bot) Wait() {
	b.seq.Wait()
}

func (b *Bot) handleUserMessage(ctx context.Context, ev platform.Event) {
	if name, rest := splitCommand(ev.Content, b.opts.Prefix); name == "edit" {
		b.handleUserEdit(ctx, ev, rest)
		return
	}

	_, err := b.Lifecycle.HandleUserMessage(ctx, lifecycle.UserMessage{
		Author:    ev.Author,
		Content:   ev.Content,
		MessageID: ev.MessageID,
	})
	switch {
	case err == nil:
	case prompt.NoSelection(err):
		// The prompt itself already tells the user what happened.
		b.logger.Debug("User made no selection", zap.String("user_id", ev.Author.ID), zap.Error(err))
	case errors.Is(err, lifecycle.ErrMuted):
		b.tellUser(ctx, ev.Author.ID, platform.Notice("Muted", "You are muted and can't contact the staff right now."))
	case errors.Is(err, models.ErrValidation):
		b.tellUser(ctx, ev.Author.ID, platform.Notice("Message not sent", errorText(err)))
	case errors.Is(err, models.ErrNotFound):
		b.tellUser(ctx, ev.Author.ID, platform.Notice("Message not sent", "No department is available right now, please try again later."))
	case errors.Is(err, models.ErrDelivery):
		b.logger.Warn("User became unreachable", zap.String("user_id", ev.Author.ID), zap.Error(err))
	default:
		b.logger.Error("Failed to handle user message",
			zap.Error(err),
			zap.String("user_id", ev.Author.ID),
			zap.String("message_id", ev.MessageID))
		b.tellUser(ctx, ev.Author.ID, platform.Notice("Message not sent", "Sorry, something went wrong. Please try again."))
	}
}

func (b *Bot) handleUserEdit(ctx context.Context, ev platform.Event, content string) {
	conv, err := b.activeFor(ctx, ev.Author.ID)
	if err == nil {
		_, err = b.Relay.Edit(ctx, relay.EditRequest{
			ConversationID: conv.ID,
			Side:           models.SideUser,
			Issuer:         ev.Author,
			Content:        content,
		})
	}
	if err != nil {
		b.tellUser(ctx, ev.Author.ID, platform.Notice("Edit failed", errorText(err)))
		return
	}
	b.tellUser(ctx, ev.Author.ID, platform.Notice("Message edited", content))
}

func (b *Bot) handleUserDeleted(ctx context.Context, ev platform.Event) {
	_, err := b.Relay.MarkUserDeleted(ctx, ev.Author.ID, ev.MessageID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		b.logger.Warn("Failed to mirror user deletion",
			zap.Error(err),
			zap.String("user_id", ev.Author.ID),
			zap.String("message_id", ev.MessageID))
	}
}

func (b *Bot) activeFor(ctx context.Context, userID string) (*models.Conversation, error) {
	conv, err := b.Lifecycle.ActiveForUser(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.NotFoundf("you have no open conversation")
	}
	return conv, err
}

// isStaff reports whether the member is an admin or holds a staff role.
func (b *Bot) isStaff(ctx context.Context, memberID string) bool {
	if slices.Contains(b.opts.Admins, memberID) {
		return true
	}
	if len(b.opts.StaffRoles) == 0 {
		return false
	}
	groups, err := b.Staff.MemberGroups(ctx, b.opts.GroupID, memberID)
	if err != nil {
		b.logger.Warn("Failed to load member roles", zap.Error(err), zap.String("member_id", memberID))
		return false
	}
	for _, g := range groups {
		if slices.Contains(b.opts.StaffRoles, g) {
			return true
		}
	}
	return false
}

func (b *Bot) tellUser(ctx context.Context, userID string, post platform.Post) {
	if _, err := b.Private.Send(ctx, userID, post); err != nil {
		b.logger.Warn("Failed to send notice to user", zap.Error(err), zap.String("user_id", userID))
	}
}

func (b *Bot) tellChannel(ctx context.Context, channelID string, post platform.Post) {
	if _, err := b.Staff.Send(ctx, channelID, post); err != nil {
		b.logger.Error("Failed to send notice to channel", zap.Error(err), zap.String("channel_id", channelID))
	}
}

// splitCommand returns the lower-cased command name and the remaining text
// when content starts with prefix.
func splitCommand(content, prefix string) (string, string) {
	if !strings.HasPrefix(content, prefix) {
		return "", ""
	}
	body := strings.TrimSpace(strings.TrimPrefix(content, prefix))
	name, rest, _ := strings.Cut(body, " ")
	if i := strings.IndexAny(name, "\n\t"); i >= 0 {
		rest = name[i+1:] + " " + rest
		name = name[:i]
	}
	return strings.ToLower(name), strings.TrimSpace(rest)
}

var userFacing = []error{
	models.ErrValidation, models.ErrNotFound, models.ErrPermission,
	models.ErrDelivery, models.ErrTimeout, models.ErrConstraint,
}

// describeError returns the part of err worth showing to a person and
// whether err belongs to the known taxonomy.
func describeError(err error) (string, bool) {
	for _, sentinel := range userFacing {
		if !errors.Is(err, sentinel) {
			continue
		}
		msg := err.Error()
		if i := strings.LastIndex(msg, sentinel.Error()+": "); i >= 0 {
			return capitalizeFirst(msg[i+len(sentinel.Error())+2:]), true
		}
		return capitalizeFirst(msg), true
	}
	return "Sorry, something went wrong.", false
}

func errorText(err error) string {
	text, _ := describeError(err)
	return text
}

func capitalizeFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
