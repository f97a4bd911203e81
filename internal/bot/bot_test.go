package bot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/modmail-bot/internal/lifecycle"
	"github.com/xaenox/modmail-bot/internal/models"
	"github.com/xaenox/modmail-bot/internal/mute"
	"github.com/xaenox/modmail-bot/internal/platform"
	"github.com/xaenox/modmail-bot/internal/platform/platformtest"
	"github.com/xaenox/modmail-bot/internal/prompt"
	"github.com/xaenox/modmail-bot/internal/relay"
	"github.com/xaenox/modmail-bot/internal/storage"
	"go.uber.org/zap"
)

type harness struct {
	store   *storage.MemoryStorage
	staff   *platformtest.Staff
	private *platformtest.Private
	bot     *Bot
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:   storage.NewMemoryStorage(),
		staff:   platformtest.NewStaff(),
		private: platformtest.NewPrivate(),
	}
	require.NoError(t, h.store.UpsertCategory(context.Background(), &models.Category{
		ID: "cat-support", Name: "support", Active: true, Token: "🛠",
	}))

	logger := zap.NewNop()
	hub := prompt.NewHub()
	engine := relay.NewEngine(h.store, h.staff, h.private, relay.Options{}, logger)
	opts := lifecycle.DefaultOptions()
	opts.CreateGrace, opts.CloseGrace, opts.ForwardGrace = 0, 0, 0
	opts.Admins = []string{"admin"}
	guard := mute.NewGuard(h.store, logger)
	svc := lifecycle.NewService(h.store, h.staff, h.private,
		prompt.NewSelector(hub, h.store, 300*time.Millisecond, logger), engine, opts, logger).WithGate(guard)

	h.bot = New(Deps{
		Lifecycle: svc,
		Relay:     engine,
		Mutes:     guard,
		Hub:       hub,
		Confirmer: prompt.NewConfirmer(hub, 300*time.Millisecond, zap.NewNop()),
		Staff:     h.staff,
		Private:   h.private,
	}, Options{Admins: []string{"admin"}, StaffRoles: []string{"role-staff"}}, logger)
	return h
}

// answerWith resolves every prompt with a signal dispatched through the bot.
func (h *harness) answerWith(issuer, token string) {
	hook := func(target, promptID string, p platform.Prompt) {
		h.bot.Dispatch(context.Background(), platform.Event{
			Kind: platform.EventSignal, SurfaceID: promptID, Author: platform.Identity{ID: issuer}, Token: token,
		})
	}
	h.staff.SetOnPrompt(hook)
	h.private.SetOnPrompt(hook)
}

func (h *harness) dm(userID, messageID, content string) {
	h.bot.Dispatch(context.Background(), platform.Event{
		Kind: platform.EventUserMessage, SurfaceID: userID, Author: platform.Identity{ID: userID, Name: "user"},
		Content: content, MessageID: messageID,
	})
}

func (h *harness) command(channelID, authorID, messageID, content string) {
	h.bot.Dispatch(context.Background(), platform.Event{
		Kind: platform.EventStaffMessage, SurfaceID: channelID, Author: platform.Identity{ID: authorID, Name: authorID},
		Content: content, MessageID: messageID,
	})
}

func (h *harness) openConversation(t *testing.T, userID string) *models.Conversation {
	t.Helper()
	h.answerWith(userID, "🛠")
	h.dm(userID, "dm-first", "hello")
	h.bot.Wait()
	conv, err := h.store.GetActiveConversationByUser(context.Background(), userID)
	require.NoError(t, err)
	return conv
}

func TestUserMessagesKeepOrderAcrossFirstContact(t *testing.T) {
	h := newHarness(t)
	h.answerWith("u1", "🛠")

	h.dm("u1", "m1", "first")
	h.dm("u1", "m2", "second")
	h.dm("u1", "m3", "third")
	h.bot.Wait()

	conv, err := h.store.GetActiveConversationByUser(context.Background(), "u1")
	require.NoError(t, err)
	msgs, err := h.store.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "second", msgs[1].Content)
	assert.Equal(t, "third", msgs[2].Content)
	assert.Len(t, h.private.Prompts, 1)
	assert.Equal(t, 1, h.staff.ChannelCount())
}

func TestReplyCommandRelaysAndRemovesCommand(t *testing.T) {
	h := newHarness(t)
	conv := h.openConversation(t, "u1")

	h.command(conv.ChannelID, "admin", "cmd-1", "!r thanks for writing")
	h.bot.Wait()

	msg, err := h.store.LatestMessage(context.Background(), conv.ID, storage.MessageFilter{Kind: models.KindRelay})
	require.NoError(t, err)
	assert.Equal(t, "thanks for writing", msg.Content)
	assert.True(t, msg.MadeByStaff)
	assert.Contains(t, h.staff.Removed, "cmd-1")

	sent := h.private.SentTo("u1")
	assert.Equal(t, "thanks for writing", sent[len(sent)-1].Post.Body)
}

func TestCommandsRequireStaff(t *testing.T) {
	h := newHarness(t)
	conv := h.openConversation(t, "u1")

	h.command(conv.ChannelID, "visitor", "cmd-1", "!r hi")
	h.bot.Wait()

	posts := h.staff.SentTo(conv.ChannelID)
	assert.Equal(t, "Permission denied", posts[len(posts)-1].Post.Title)

	h.staff.Groups["helper"] = []string{"role-staff"}
	h.command(conv.ChannelID, "helper", "cmd-2", "!r hi")
	h.bot.Wait()
	assert.Contains(t, h.staff.Removed, "cmd-2")
}

func TestNonCommandStaffChatIsIgnored(t *testing.T) {
	h := newHarness(t)
	conv := h.openConversation(t, "u1")
	before := len(h.staff.SentTo(conv.ChannelID))

	h.command(conv.ChannelID, "admin", "chat-1", "just talking among staff")
	h.command(conv.ChannelID, "admin", "chat-2", "!unknowncommand")
	h.bot.Wait()
	assert.Len(t, h.staff.SentTo(conv.ChannelID), before)
}

func TestDeleteTwiceReportsNotFound(t *testing.T) {
	h := newHarness(t)
	conv := h.openConversation(t, "u1")

	h.command(conv.ChannelID, "admin", "cmd-1", "!r oops")
	h.bot.Wait()
	msg, err := h.store.LatestMessage(context.Background(), conv.ID, storage.MessageFilter{Kind: models.KindRelay})
	require.NoError(t, err)

	h.command(conv.ChannelID, "admin", "cmd-2", "!delete "+msg.StaffMessageID)
	h.bot.Wait()
	h.command(conv.ChannelID, "admin", "cmd-3", "!delete "+msg.StaffMessageID)
	h.bot.Wait()

	posts := h.staff.SentTo(conv.ChannelID)
	assert.Equal(t, "Command failed", posts[len(posts)-1].Post.Title)
	assert.Contains(t, h.staff.Removed, "cmd-2")
	assert.NotContains(t, h.staff.Removed, "cmd-3")
}

func TestMutedUserIsNotRelayed(t *testing.T) {
	h := newHarness(t)
	h.command("staff-room", "admin", "cmd-1", "!mute <@u9> 2d")
	h.bot.Wait()
	// u9 is not numeric; mute must reject it without recording anything.
	_, err := h.store.GetMute(context.Background(), "u9")
	assert.ErrorIs(t, err, models.ErrNotFound)

	h.command("staff-room", "admin", "cmd-2", "!mute <@!42> 2d")
	h.bot.Wait()
	rec, err := h.store.GetMute(context.Background(), "42")
	require.NoError(t, err)
	require.NotNil(t, rec.MutedUntil)
	assert.WithinDuration(t, rec.MutedAt.Add(48*time.Hour), *rec.MutedUntil, time.Second)

	h.dm("42", "dm-1", "let me in")
	h.bot.Wait()
	assert.Empty(t, h.private.Prompts)
	sent := h.private.SentTo("42")
	require.Len(t, sent, 1)
	assert.Equal(t, "Muted", sent[0].Post.Title)

	h.command("staff-room", "admin", "cmd-3", "!unmute 42")
	h.bot.Wait()
	h.answerWith("42", "🛠")
	h.dm("42", "dm-2", "hello again")
	h.bot.Wait()
	_, err = h.store.GetActiveConversationByUser(context.Background(), "42")
	assert.NoError(t, err)
}

func TestDeleteNoteNeedsConfirmation(t *testing.T) {
	h := newHarness(t)
	conv := h.openConversation(t, "u1")

	h.command(conv.ChannelID, "admin", "cmd-1", "!note prefers email")
	h.bot.Wait()
	notes, err := h.store.ListNotes(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, notes, 1)

	h.answerWith("admin", prompt.TokenNo)
	h.command(conv.ChannelID, "admin", "cmd-2", "!deletenote "+notes[0].ID)
	h.bot.Wait()
	notes, err = h.store.ListNotes(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, notes, 1)

	h.answerWith("admin", prompt.TokenYes)
	h.command(conv.ChannelID, "admin", "cmd-3", "!deletenote "+notes[0].ID)
	h.bot.Wait()
	stored, err := h.store.GetMessage(context.Background(), notes[0].ID)
	require.NoError(t, err)
	assert.True(t, stored.Deleted)
}

func TestUserEditRewritesStaffCopy(t *testing.T) {
	h := newHarness(t)
	conv := h.openConversation(t, "u1")

	h.dm("u1", "dm-edit", "!edit hello, world")
	h.bot.Wait()

	msg, err := h.store.LatestMessage(context.Background(), conv.ID, storage.MessageFilter{Kind: models.KindRelay})
	require.NoError(t, err)
	assert.Equal(t, "hello, world", msg.Content)
	edited, ok := h.staff.EditOf(msg.StaffMessageID)
	require.True(t, ok)
	assert.Equal(t, "hello, world", edited.Body)
}

func TestCloseCommand(t *testing.T) {
	h := newHarness(t)
	conv := h.openConversation(t, "u1")

	h.command(conv.ChannelID, "admin", "cmd-1", "!close")
	h.bot.Wait()
	assert.False(t, h.staff.HasChannel(conv.ChannelID))
	_, err := h.store.GetActiveConversationByUser(context.Background(), "u1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		in, name, rest string
	}{
		{"!r hello there", "r", "hello there"},
		{"!R  spaced", "r", "spaced"},
		{"!close", "close", ""},
		{"!r\nmulti line", "r", "multi line"},
		{"plain text", "", ""},
	}
	for _, tt := range tests {
		name, rest := splitCommand(tt.in, "!")
		assert.Equal(t, tt.name, name, tt.in)
		assert.Equal(t, tt.rest, rest, tt.in)
	}
}

func TestParseUserRef(t *testing.T) {
	id, rest, err := parseUserRef("<@!1234> 1w 2d")
	require.NoError(t, err)
	assert.Equal(t, "1234", id)
	assert.Equal(t, "1w 2d", rest)

	_, _, err = parseUserRef("")
	assert.ErrorIs(t, err, models.ErrValidation)
	_, _, err = parseUserRef("bob")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestDescribeError(t *testing.T) {
	text, known := describeError(models.NotFoundf("this channel is not an open conversation"))
	assert.True(t, known)
	assert.Equal(t, "This channel is not an open conversation", text)

	_, known = describeError(context.DeadlineExceeded)
	assert.False(t, known)
}
