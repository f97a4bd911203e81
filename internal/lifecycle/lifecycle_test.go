package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/modmail-bot/internal/models"
	"github.com/xaenox/modmail-bot/internal/platform"
	"github.com/xaenox/modmail-bot/internal/platform/platformtest"
	"github.com/xaenox/modmail-bot/internal/prompt"
	"github.com/xaenox/modmail-bot/internal/relay"
	"github.com/xaenox/modmail-bot/internal/storage"
	"go.uber.org/zap"
)

type fixture struct {
	store   *storage.MemoryStorage
	staff   *platformtest.Staff
	private *platformtest.Private
	hub     *prompt.Hub
	svc     *Service
	slept   []time.Duration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		store:   storage.NewMemoryStorage(),
		staff:   platformtest.NewStaff(),
		private: platformtest.NewPrivate(),
		hub:     prompt.NewHub(),
	}
	require.NoError(t, f.store.UpsertCategory(ctx, &models.Category{
		ID: "cat-support", Name: "support", GroupID: "guild", Active: true, Token: "🛠", AccessList: []string{"role-support"},
	}))
	require.NoError(t, f.store.UpsertCategory(ctx, &models.Category{
		ID: "cat-billing", Name: "billing", GroupID: "guild", Active: true, Token: "💳",
	}))

	logger := zap.NewNop()
	selector := prompt.NewSelector(f.hub, f.store, 200*time.Millisecond, logger)
	engine := relay.NewEngine(f.store, f.staff, f.private, relay.Options{}, logger)
	opts := DefaultOptions()
	opts.Admins = []string{"admin"}
	f.svc = NewService(f.store, f.staff, f.private, selector, engine, opts, logger)

	var mu sync.Mutex
	f.svc.sleep = func(ctx context.Context, d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		f.slept = append(f.slept, d)
	}
	return f
}

// answer makes every prompt on both surfaces resolve with token from issuer.
func (f *fixture) answer(issuer, token string) {
	hook := func(target, promptID string, p platform.Prompt) {
		f.hub.Deliver(prompt.Signal{SurfaceID: promptID, IssuerID: issuer, Token: token})
	}
	f.staff.SetOnPrompt(hook)
	f.private.SetOnPrompt(hook)
}

func TestHandleUserMessageFirstContact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.answer("u1", "🛠")

	msg, err := f.svc.HandleUserMessage(ctx, UserMessage{
		Author:    platform.Identity{ID: "u1", Name: "alice"},
		Content:   "hello",
		MessageID: "dm-in-1",
	})
	require.NoError(t, err)

	conv, err := f.store.GetActiveConversationByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "cat-support", conv.CategoryID)
	assert.True(t, f.staff.HasChannel(conv.ChannelID))
	assert.Equal(t, conv.ID, msg.ConversationID)
	assert.Equal(t, "dm-in-1", msg.UserMessageID)

	posts := f.staff.SentTo(conv.ChannelID)
	require.Len(t, posts, 2)
	assert.Equal(t, platform.PostProfile, posts[0].Post.Kind)
	assert.Equal(t, "hello", posts[1].Post.Body)
	assert.Equal(t, msg.StaffMessageID, posts[1].ID)

	// A second message reuses the conversation without prompting again.
	_, err = f.svc.HandleUserMessage(ctx, UserMessage{
		Author:    platform.Identity{ID: "u1", Name: "alice"},
		Content:   "are you there?",
		MessageID: "dm-in-2",
	})
	require.NoError(t, err)
	assert.Len(t, f.private.Prompts, 1)
	assert.Equal(t, 1, f.staff.ChannelCount())
}

func TestHandleUserMessageSelectionTimeout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.HandleUserMessage(ctx, UserMessage{
		Author:  platform.Identity{ID: "u1", Name: "alice"},
		Content: "hello",
	})
	require.Error(t, err)
	assert.True(t, prompt.NoSelection(err))
	assert.ErrorIs(t, err, models.ErrTimeout)

	assert.Equal(t, 0, f.staff.ChannelCount())
	_, err = f.store.GetActiveConversationByUser(ctx, "u1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestHandleUserMessageMuted(t *testing.T) {
	f := newFixture(t)
	f.svc.WithGate(gateFunc(func(userID string) bool { return userID != "u1" }))

	_, err := f.svc.HandleUserMessage(context.Background(), UserMessage{
		Author:  platform.Identity{ID: "u1", Name: "alice"},
		Content: "hello",
	})
	assert.ErrorIs(t, err, ErrMuted)
	assert.ErrorIs(t, err, models.ErrPermission)
	assert.Empty(t, f.private.Prompts)
}

func TestHandleUserMessageTooLong(t *testing.T) {
	f := newFixture(t)
	long := make([]rune, models.MaxContentLength+1)
	for i := range long {
		long[i] = 'a'
	}

	_, err := f.svc.HandleUserMessage(context.Background(), UserMessage{
		Author:  platform.Identity{ID: "u1", Name: "alice"},
		Content: string(long),
	})
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Empty(t, f.private.Prompts)
}

func TestCreateByArgumentRequiresAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, CreateRequest{
		UserID:      "u1",
		Requester:   platform.Identity{ID: "mod", Name: "mod"},
		Surface:     models.SideStaff,
		Target:      "staff-room",
		CategoryRef: "support",
	})
	assert.ErrorIs(t, err, models.ErrPermission)
	assert.Equal(t, 0, f.staff.ChannelCount())

	f.staff.Groups["mod"] = []string{"role-support"}
	conv, err := f.svc.Create(ctx, CreateRequest{
		UserID:      "u1",
		Requester:   platform.Identity{ID: "mod", Name: "mod"},
		Surface:     models.SideStaff,
		Target:      "staff-room",
		CategoryRef: "Support",
	})
	require.NoError(t, err)
	assert.Equal(t, "cat-support", conv.CategoryID)
	assert.Empty(t, f.staff.Prompts)
}

func TestCreateEmptyAccessListFallsBackToAdmins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, CreateRequest{
		UserID: "u1", Requester: platform.Identity{ID: "mod"}, CategoryRef: "billing",
	})
	assert.ErrorIs(t, err, models.ErrPermission)

	_, err = f.svc.Create(ctx, CreateRequest{
		UserID: "u1", Requester: platform.Identity{ID: "admin"}, CategoryRef: "billing",
	})
	require.NoError(t, err)
}

func TestCreateDuplicateActiveRemovesChannel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Create(ctx, CreateRequest{UserID: "u1", Requester: platform.Identity{ID: "admin"}, CategoryRef: "billing"})
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, CreateRequest{UserID: "u1", Requester: platform.Identity{ID: "admin"}, CategoryRef: "billing"})
	assert.ErrorIs(t, err, models.ErrConstraint)
	assert.Equal(t, 1, f.staff.ChannelCount())
	assert.True(t, f.staff.HasChannel(first.ChannelID))
}

func TestCreateUnreachableUserRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.private.SetUnreachable("u1", true)

	_, err := f.svc.Create(ctx, CreateRequest{UserID: "u1", Requester: platform.Identity{ID: "admin"}, CategoryRef: "billing"})
	assert.ErrorIs(t, err, models.ErrDelivery)

	assert.Equal(t, 0, f.staff.ChannelCount())
	assert.Equal(t, []time.Duration{15 * time.Second}, f.slept)
	_, err = f.store.GetActiveConversationByUser(ctx, "u1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCloseNotifiesAndDeletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.svc.Create(ctx, CreateRequest{UserID: "u1", Requester: platform.Identity{ID: "admin"}, CategoryRef: "billing"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Close(ctx, conv.ChannelID, platform.Identity{ID: "admin"}))

	assert.False(t, f.staff.HasChannel(conv.ChannelID))
	assert.Equal(t, []time.Duration{10 * time.Second}, f.slept)
	stored, err := f.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)
	require.NotNil(t, stored.ClosingDate)

	sent := f.private.SentTo("u1")
	assert.Equal(t, "Conversation closed", sent[len(sent)-1].Post.Title)

	// The row is found again but the channel is already gone.
	err = f.svc.Close(ctx, conv.ChannelID, platform.Identity{ID: "admin"})
	assert.ErrorIs(t, err, models.ErrNotFound)

	err = f.svc.Close(ctx, "no-such-channel", platform.Identity{ID: "admin"})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCloseInactiveRowDeletesLeftoverChannel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.svc.Create(ctx, CreateRequest{UserID: "u1", Requester: platform.Identity{ID: "admin"}, CategoryRef: "billing"})
	require.NoError(t, err)

	closedAt := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, f.store.CloseConversation(ctx, conv.ID, closedAt))
	require.True(t, f.staff.HasChannel(conv.ChannelID))

	require.NoError(t, f.svc.Close(ctx, conv.ChannelID, platform.Identity{ID: "admin"}))
	assert.False(t, f.staff.HasChannel(conv.ChannelID))
	assert.Equal(t, []time.Duration{10 * time.Second}, f.slept)

	stored, err := f.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ClosingDate)
	assert.True(t, closedAt.Equal(*stored.ClosingDate), "closing date is stamped once")
}

func TestCloseUnreachableUserStillCloses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.svc.Create(ctx, CreateRequest{UserID: "u1", Requester: platform.Identity{ID: "admin"}, CategoryRef: "billing"})
	require.NoError(t, err)
	f.private.SetUnreachable("u1", true)

	require.NoError(t, f.svc.Close(ctx, conv.ChannelID, platform.Identity{ID: "admin"}))
	assert.False(t, f.staff.HasChannel(conv.ChannelID))
	_, err = f.store.GetActiveConversationByUser(ctx, "u1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestForwardReplaysHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.staff.Groups["admin"] = []string{"role-support"}
	engine := relay.NewEngine(f.store, f.staff, f.private, relay.Options{}, zap.NewNop())

	conv, err := f.svc.Create(ctx, CreateRequest{UserID: "u1", Requester: platform.Identity{ID: "admin"}, CategoryRef: "billing"})
	require.NoError(t, err)
	oldChannel := conv.ChannelID

	m1, err := engine.Send(ctx, relay.SendRequest{ConversationID: conv.ID, Origin: models.SideUser, Author: platform.Identity{ID: "u1"}, Content: "one", SourceMessageID: "dm-a"})
	require.NoError(t, err)
	m2, err := engine.Send(ctx, relay.SendRequest{ConversationID: conv.ID, Origin: models.SideStaff, Author: platform.Identity{ID: "admin"}, Content: "two"})
	require.NoError(t, err)
	note, err := engine.AddNote(ctx, conv.ID, platform.Identity{ID: "admin"}, "vip")
	require.NoError(t, err)
	m3, err := engine.Send(ctx, relay.SendRequest{ConversationID: conv.ID, Origin: models.SideUser, Author: platform.Identity{ID: "u1"}, Content: "three", SourceMessageID: "dm-b"})
	require.NoError(t, err)
	userSideBefore := m2.UserMessageID

	f.answer("admin", "🛠")
	moved, err := f.svc.Forward(ctx, ForwardRequest{ChannelID: oldChannel, Requester: platform.Identity{ID: "admin", Name: "admin"}})
	require.NoError(t, err)
	assert.Equal(t, "cat-support", moved.CategoryID)
	assert.NotEqual(t, oldChannel, moved.ChannelID)
	assert.False(t, f.staff.HasChannel(oldChannel))
	assert.Equal(t, []time.Duration{10 * time.Second}, f.slept)

	var replayed []platformtest.SentPost
	for _, p := range f.staff.SentTo(moved.ChannelID) {
		if p.Post.Forwarded {
			replayed = append(replayed, p)
		}
	}
	require.Len(t, replayed, 4)
	for i, want := range []*models.Message{m1, m2, note, m3} {
		assert.Equal(t, want.Content, replayed[i].Post.Body)
		stored, err := f.store.GetMessage(ctx, want.ID)
		require.NoError(t, err)
		assert.Equal(t, replayed[i].ID, stored.StaffMessageID)
	}
	assert.Equal(t, platform.PostNote, replayed[2].Post.Kind)

	stored, err := f.store.GetMessage(ctx, m2.ID)
	require.NoError(t, err)
	assert.Equal(t, userSideBefore, stored.UserMessageID)

	// Edits after the move land on the replayed copy.
	_, err = engine.Edit(ctx, relay.EditRequest{ConversationID: conv.ID, Side: models.SideStaff, Issuer: platform.Identity{ID: "admin"}, Content: "two!"})
	require.NoError(t, err)
	edited, ok := f.staff.EditOf(replayed[1].ID)
	require.True(t, ok)
	assert.Equal(t, "two!", edited.Body)

	// So do deletes.
	deleted, err := engine.Delete(ctx, relay.DeleteRequest{ConversationID: conv.ID, Issuer: platform.Identity{ID: "admin"}})
	require.NoError(t, err)
	assert.Equal(t, m2.ID, deleted.ID)
	struck, ok := f.staff.EditOf(replayed[1].ID)
	require.True(t, ok)
	assert.True(t, struck.Deleted)
	userCopy, ok := f.private.EditOf(userSideBefore)
	require.True(t, ok)
	assert.True(t, userCopy.Deleted)

	// User-side edits and deletions resolve through the repointed ids too.
	_, err = engine.Edit(ctx, relay.EditRequest{ConversationID: conv.ID, Side: models.SideUser, Issuer: platform.Identity{ID: "u1"}, Content: "three!"})
	require.NoError(t, err)
	userEdit, ok := f.staff.EditOf(replayed[3].ID)
	require.True(t, ok)
	assert.Equal(t, "three!", userEdit.Body)

	gone, err := engine.MarkUserDeleted(ctx, "u1", "dm-a")
	require.NoError(t, err)
	assert.Equal(t, m1.ID, gone.ID)
	userStruck, ok := f.staff.EditOf(replayed[0].ID)
	require.True(t, ok)
	assert.True(t, userStruck.Deleted)
}

// failingMove rejects every move so forward has to back out.
type failingMove struct {
	*storage.MemoryStorage
}

func (failingMove) MoveConversation(ctx context.Context, id, channelID, categoryID string) error {
	return fmt.Errorf("%w: move rejected", models.ErrConstraint)
}

func TestForwardFailedMoveRestoresPointers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.staff.Groups["admin"] = []string{"role-support"}
	engine := relay.NewEngine(f.store, f.staff, f.private, relay.Options{}, zap.NewNop())

	conv, err := f.svc.Create(ctx, CreateRequest{UserID: "u1", Requester: platform.Identity{ID: "admin"}, CategoryRef: "billing"})
	require.NoError(t, err)
	m1, err := engine.Send(ctx, relay.SendRequest{ConversationID: conv.ID, Origin: models.SideUser, Author: platform.Identity{ID: "u1"}, Content: "one", SourceMessageID: "dm-a"})
	require.NoError(t, err)
	m2, err := engine.Send(ctx, relay.SendRequest{ConversationID: conv.ID, Origin: models.SideStaff, Author: platform.Identity{ID: "admin"}, Content: "two"})
	require.NoError(t, err)

	f.svc.store = failingMove{f.store}
	_, err = f.svc.Forward(ctx, ForwardRequest{ChannelID: conv.ChannelID, Requester: platform.Identity{ID: "admin"}, CategoryRef: "support"})
	assert.ErrorIs(t, err, models.ErrConstraint)

	assert.Equal(t, 1, f.staff.ChannelCount())
	assert.True(t, f.staff.HasChannel(conv.ChannelID))
	for _, want := range []*models.Message{m1, m2} {
		stored, err := f.store.GetMessage(ctx, want.ID)
		require.NoError(t, err)
		assert.Equal(t, want.StaffMessageID, stored.StaffMessageID)
	}
	stored, err := f.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ChannelID, stored.ChannelID)
}

func TestForwardSameCategoryIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.svc.Create(ctx, CreateRequest{UserID: "u1", Requester: platform.Identity{ID: "admin"}, CategoryRef: "billing"})
	require.NoError(t, err)

	got, err := f.svc.Forward(ctx, ForwardRequest{ChannelID: conv.ChannelID, Requester: platform.Identity{ID: "admin"}, CategoryRef: "billing"})
	require.NoError(t, err)
	assert.Equal(t, conv.ChannelID, got.ChannelID)
	assert.Equal(t, 1, f.staff.ChannelCount())
	assert.Empty(t, f.slept)
}

func TestForwardTimeoutChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.svc.Create(ctx, CreateRequest{UserID: "u1", Requester: platform.Identity{ID: "admin"}, CategoryRef: "billing"})
	require.NoError(t, err)

	_, err = f.svc.Forward(ctx, ForwardRequest{ChannelID: conv.ChannelID, Requester: platform.Identity{ID: "admin"}})
	assert.True(t, prompt.NoSelection(err))
	assert.Equal(t, 1, f.staff.ChannelCount())

	stored, err := f.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ChannelID, stored.ChannelID)
}

func TestChannelName(t *testing.T) {
	p := &platform.Profile{Identity: platform.Identity{ID: "123456789", Name: "Alice B."}}
	assert.Equal(t, "alice-b-6789", channelName(p))

	p = &platform.Profile{Identity: platform.Identity{ID: "12", Name: "!!"}}
	assert.Equal(t, "user-12", channelName(p))
}

type gateFunc func(userID string) bool

func (g gateFunc) Allow(ctx context.Context, userID string) (bool, error) {
	return g(userID), nil
}
