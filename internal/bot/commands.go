package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xaenox/modmail-bot/internal/lifecycle"
	"github.com/xaenox/modmail-bot/internal/models"
	"github.com/xaenox/modmail-bot/internal/platform"
	"github.com/xaenox/modmail-bot/internal/prompt"
	"github.com/xaenox/modmail-bot/internal/relay"
	"go.uber.org/zap"
)

var commandHelp = map[string]string{
	"r":          "r <text> - reply to the user",
	"reply":      "reply <text> - reply to the user",
	"ar":         "ar <text> - reply anonymously",
	"edit":       "edit <text> - change your last reply",
	"delete":     "delete [message id] - withdraw your last reply or the given message",
	"close":      "close - close this conversation",
	"forward":    "forward [department] - move this conversation to another department",
	"create":     "create <user> [department] - open a conversation with a user",
	"note":       "note <text> - add an internal note",
	"notes":      "notes [user] - list internal notes about a user",
	"editnote":   "editnote <note id> <text> - change one of your notes",
	"deletenote": "deletenote <note id> - remove one of your notes",
	"mute":       "mute <user> [duration] - stop relaying a user's messages, e.g. mute 123 1w 2d",
	"unmute":     "unmute <user> - lift a mute",
	"muted":      "muted - list muted users",
	"ismuted":    "ismuted <user> - show a user's mute state",
	"help":       "help - show this message",
}

func (b *Bot) handleCommand(ctx context.Context, ev platform.Event) {
	name, args := splitCommand(ev.Content, b.opts.Prefix)
	if _, known := commandHelp[name]; !known {
		return
	}
	if !b.isStaff(ctx, ev.Author.ID) {
		b.tellChannel(ctx, ev.SurfaceID, platform.Notice("Permission denied", "Only staff can use modmail commands."))
		return
	}

	var err error
	switch name {
	case "r", "reply":
		err = b.handleReply(ctx, ev, args, false)
	case "ar":
		err = b.handleReply(ctx, ev, args, true)
	case "edit":
		err = b.handleEdit(ctx, ev, args)
	case "delete":
		err = b.handleDelete(ctx, ev, args)
	case "close":
		err = b.Lifecycle.Close(ctx, ev.SurfaceID, ev.Author)
	case "forward":
		_, err = b.Lifecycle.Forward(ctx, lifecycle.ForwardRequest{
			ChannelID:   ev.SurfaceID,
			Requester:   ev.Author,
			CategoryRef: args,
		})
	case "create":
		err = b.handleCreate(ctx, ev, args)
	case "note":
		err = b.handleNote(ctx, ev, args)
	case "notes":
		err = b.handleNotes(ctx, ev, args)
	case "editnote":
		err = b.handleEditNote(ctx, ev, args)
	case "deletenote":
		err = b.handleDeleteNote(ctx, ev, args)
	case "mute":
		err = b.handleMute(ctx, ev, args)
	case "unmute":
		err = b.handleUnmute(ctx, ev, args)
	case "muted":
		err = b.handleMuted(ctx, ev)
	case "ismuted":
		err = b.handleIsMuted(ctx, ev, args)
	case "help":
		b.handleHelp(ctx, ev)
	}
	if err != nil {
		b.fail(ctx, ev, name, err)
	}
}

func (b *Bot) fail(ctx context.Context, ev platform.Event, name string, err error) {
	switch {
	case prompt.NoSelection(err):
		return
	case errors.Is(err, models.ErrDelivery):
		b.tellChannel(ctx, ev.SurfaceID, platform.Notice("Command failed",
			"The user can't receive direct messages, nothing was sent."))
	case errors.Is(err, context.Canceled):
		return
	default:
		text, known := describeError(err)
		if !known {
			b.logger.Error("Command failed",
				zap.Error(err),
				zap.String("command", name),
				zap.String("channel_id", ev.SurfaceID),
				zap.String("author_id", ev.Author.ID))
		}
		b.tellChannel(ctx, ev.SurfaceID, platform.Notice("Command failed", text))
	}
}

func (b *Bot) conversationHere(ctx context.Context, channelID string) (*models.Conversation, error) {
	conv, err := b.Lifecycle.Resolve(ctx, channelID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.NotFoundf("this channel is not an open conversation")
	}
	return conv, err
}

func (b *Bot) handleReply(ctx context.Context, ev platform.Event, text string, anonymous bool) error {
	conv, err := b.conversationHere(ctx, ev.SurfaceID)
	if err != nil {
		return err
	}
	if _, err := b.Relay.Send(ctx, relay.SendRequest{
		ConversationID: conv.ID,
		Origin:         models.SideStaff,
		Author:         ev.Author,
		Content:        text,
		Anonymous:      anonymous,
	}); err != nil {
		return err
	}
	b.removeCommand(ctx, ev)
	return nil
}

func (b *Bot) handleEdit(ctx context.Context, ev platform.Event, text string) error {
	conv, err := b.conversationHere(ctx, ev.SurfaceID)
	if err != nil {
		return err
	}
	if _, err := b.Relay.Edit(ctx, relay.EditRequest{
		ConversationID: conv.ID,
		Side:           models.SideStaff,
		Issuer:         ev.Author,
		Content:        text,
	}); err != nil {
		return err
	}
	b.removeCommand(ctx, ev)
	return nil
}

func (b *Bot) handleDelete(ctx context.Context, ev platform.Event, args string) error {
	conv, err := b.conversationHere(ctx, ev.SurfaceID)
	if err != nil {
		return err
	}
	if _, err := b.Relay.Delete(ctx, relay.DeleteRequest{
		ConversationID: conv.ID,
		MessageID:      strings.TrimSpace(args),
		Issuer:         ev.Author,
	}); err != nil {
		return err
	}
	b.removeCommand(ctx, ev)
	return nil
}

func (b *Bot) handleCreate(ctx context.Context, ev platform.Event, args string) error {
	userID, rest, err := parseUserRef(args)
	if err != nil {
		return err
	}
	conv, err := b.Lifecycle.Create(ctx, lifecycle.CreateRequest{
		UserID:      userID,
		Requester:   ev.Author,
		Surface:     models.SideStaff,
		Target:      ev.SurfaceID,
		CategoryRef: rest,
	})
	if errors.Is(err, models.ErrConstraint) {
		return fmt.Errorf("%w: user %s already has an open conversation", models.ErrConstraint, userID)
	}
	if err != nil {
		return err
	}
	b.tellChannel(ctx, ev.SurfaceID, platform.Notice("Conversation created",
		fmt.Sprintf("Opened a conversation with %s in channel %s.", userID, conv.ChannelID)))
	return nil
}

func (b *Bot) handleNote(ctx context.Context, ev platform.Event, text string) error {
	conv, err := b.conversationHere(ctx, ev.SurfaceID)
	if err != nil {
		return err
	}
	if _, err := b.Relay.AddNote(ctx, conv.ID, ev.Author, text); err != nil {
		return err
	}
	b.removeCommand(ctx, ev)
	return nil
}

func (b *Bot) handleNotes(ctx context.Context, ev platform.Event, args string) error {
	var userID string
	if strings.TrimSpace(args) != "" {
		id, _, err := parseUserRef(args)
		if err != nil {
			return err
		}
		userID = id
	} else {
		conv, err := b.conversationHere(ctx, ev.SurfaceID)
		if err != nil {
			return err
		}
		userID = conv.UserID
	}

	notes, err := b.Relay.Notes(ctx, userID)
	if err != nil {
		return err
	}
	post := platform.Notice("Notes", fmt.Sprintf("No notes about %s.", userID))
	if len(notes) > 0 {
		post.Body = fmt.Sprintf("%d notes about %s", len(notes), userID)
		for _, n := range notes {
			post.Fields = append(post.Fields, platform.Field{
				Name:  fmt.Sprintf("%s by %s on %s", n.ID, n.AuthorName, n.CreatedAt.Format("2006-01-02")),
				Value: n.Content,
			})
		}
	}
	b.tellChannel(ctx, ev.SurfaceID, post)
	return nil
}

func (b *Bot) handleEditNote(ctx context.Context, ev platform.Event, args string) error {
	noteID, text, _ := strings.Cut(strings.TrimSpace(args), " ")
	if noteID == "" {
		return models.Validationf("usage: %s%s", b.opts.Prefix, commandHelp["editnote"])
	}
	if _, err := b.Relay.EditNote(ctx, noteID, ev.Author, strings.TrimSpace(text)); err != nil {
		return err
	}
	b.tellChannel(ctx, ev.SurfaceID, platform.Notice("Note updated", fmt.Sprintf("Note %s was changed.", noteID)))
	return nil
}

func (b *Bot) handleDeleteNote(ctx context.Context, ev platform.Event, args string) error {
	noteID := strings.TrimSpace(args)
	if noteID == "" {
		return models.Validationf("usage: %s%s", b.opts.Prefix, commandHelp["deletenote"])
	}
	ok, err := b.Confirmer.Confirm(ctx, b.Staff, ev.SurfaceID, ev.Author.ID, "Delete note",
		fmt.Sprintf("Do you really want to delete note %s?", noteID))
	if err != nil || !ok {
		return err
	}
	if err := b.Relay.DeleteNote(ctx, noteID, ev.Author); err != nil {
		return err
	}
	b.tellChannel(ctx, ev.SurfaceID, platform.Notice("Note deleted", fmt.Sprintf("Note %s was removed.", noteID)))
	return nil
}

func (b *Bot) handleMute(ctx context.Context, ev platform.Event, args string) error {
	userID, duration, err := parseUserRef(args)
	if err != nil {
		return err
	}
	rec, err := b.Mutes.Mute(ctx, userID, ev.Author.ID, duration)
	if err != nil {
		return err
	}
	until := "indefinitely"
	if rec.MutedUntil != nil {
		until = "until " + rec.MutedUntil.Format(time.RFC1123)
	}
	b.tellChannel(ctx, ev.SurfaceID, platform.Notice("User muted", fmt.Sprintf("%s is muted %s.", userID, until)))
	return nil
}

func (b *Bot) handleUnmute(ctx context.Context, ev platform.Event, args string) error {
	userID, _, err := parseUserRef(args)
	if err != nil {
		return err
	}
	if err := b.Mutes.Unmute(ctx, userID); err != nil {
		return err
	}
	b.tellChannel(ctx, ev.SurfaceID, platform.Notice("User unmuted", fmt.Sprintf("%s can contact the staff again.", userID)))
	return nil
}

func (b *Bot) handleMuted(ctx context.Context, ev platform.Event) error {
	recs, err := b.Mutes.Active(ctx)
	if err != nil {
		return err
	}
	post := platform.Notice("Muted users", "Nobody is muted.")
	if len(recs) > 0 {
		post.Body = fmt.Sprintf("%d muted users", len(recs))
		for _, rec := range recs {
			post.Fields = append(post.Fields, platform.Field{Name: rec.UserID, Value: describeMute(rec)})
		}
	}
	b.tellChannel(ctx, ev.SurfaceID, post)
	return nil
}

func (b *Bot) handleIsMuted(ctx context.Context, ev platform.Event, args string) error {
	userID, _, err := parseUserRef(args)
	if err != nil {
		return err
	}
	rec, err := b.Mutes.IsMuted(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		b.tellChannel(ctx, ev.SurfaceID, platform.Notice("Mute state", fmt.Sprintf("%s has never been muted.", userID)))
		return nil
	}
	if err != nil {
		return err
	}
	b.tellChannel(ctx, ev.SurfaceID, platform.Notice("Mute state", fmt.Sprintf("%s: %s", userID, describeMute(rec))))
	return nil
}

func (b *Bot) handleHelp(ctx context.Context, ev platform.Event) {
	lines := make([]string, 0, len(commandHelp))
	for _, usage := range commandHelp {
		lines = append(lines, b.opts.Prefix+usage)
	}
	sort.Strings(lines)
	b.tellChannel(ctx, ev.SurfaceID, platform.Notice("Modmail commands", strings.Join(lines, "\n")))
}

// removeCommand deletes the invoking message once it has been acted on.
func (b *Bot) removeCommand(ctx context.Context, ev platform.Event) {
	if ev.MessageID == "" {
		return
	}
	if err := b.Staff.DeleteMessage(ctx, ev.SurfaceID, ev.MessageID); err != nil {
		b.logger.Warn("Failed to remove command message",
			zap.Error(err),
			zap.String("channel_id", ev.SurfaceID),
			zap.String("message_id", ev.MessageID))
	}
}

func describeMute(rec *models.MuteRecord) string {
	switch {
	case !rec.Active:
		return "not muted"
	case rec.MutedUntil == nil:
		return fmt.Sprintf("muted indefinitely by %s", rec.MutedBy)
	case !rec.InEffect(time.Now()):
		return fmt.Sprintf("mute by %s expired %s", rec.MutedBy, rec.MutedUntil.Format(time.RFC1123))
	default:
		return fmt.Sprintf("muted by %s until %s", rec.MutedBy, rec.MutedUntil.Format(time.RFC1123))
	}
}

// parseUserRef splits a leading user id or mention off args.
func parseUserRef(args string) (string, string, error) {
	ref, rest, _ := strings.Cut(strings.TrimSpace(args), " ")
	ref = strings.TrimSuffix(strings.TrimPrefix(ref, "<@"), ">")
	ref = strings.TrimPrefix(ref, "!")
	if ref == "" {
		return "", "", models.Validationf("a user id or mention is required")
	}
	for _, r := range ref {
		if (r < '0' || r > '9') && r != '-' {
			return "", "", models.Validationf("%q is not a user id", ref)
		}
	}
	return ref, strings.TrimSpace(rest), nil
}
