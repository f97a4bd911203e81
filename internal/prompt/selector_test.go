package prompt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/modmail-bot/internal/models"
	"github.com/xaenox/modmail-bot/internal/platform"
	"github.com/xaenox/modmail-bot/internal/platform/platformtest"
	"github.com/xaenox/modmail-bot/internal/storage"
	"go.uber.org/zap"
)

func newSelector(t *testing.T) (*Selector, *Hub, *platformtest.Private) {
	t.Helper()
	store := storage.NewMemoryStorage()
	ctx := context.Background()
	require.NoError(t, store.UpsertCategory(ctx, &models.Category{ID: "cat-1", Name: "support", Active: true, Token: "🛠"}))
	require.NoError(t, store.UpsertCategory(ctx, &models.Category{ID: "cat-2", Name: "billing", Active: true, Token: "💳"}))

	hub := NewHub()
	return NewSelector(hub, store, 50*time.Millisecond, zap.NewNop()), hub, platformtest.NewPrivate()
}

// answerWith makes the requester pick token as soon as a prompt appears.
func answerWith(hub *Hub, issuer, token string) platformtest.PromptHook {
	return func(target, promptID string, _ platform.Prompt) {
		hub.Deliver(Signal{SurfaceID: promptID, IssuerID: issuer, Token: token})
	}
}

func TestSelectorPicksCategory(t *testing.T) {
	sel, hub, private := newSelector(t)
	private.SetOnPrompt(answerWith(hub, "42", "💳"))

	cat, err := sel.Select(context.Background(), private, "42", "42")
	require.NoError(t, err)
	assert.Equal(t, "cat-2", cat.ID)

	require.Len(t, private.Prompts, 1)
	assert.Contains(t, private.Prompts[0].Post.Body, "Support = 🛠")
	answer, ok := private.AnswerOf(private.Prompts[0].ID)
	require.True(t, ok)
	assert.Contains(t, answer.Body, "Billing")
}

func TestSelectorIgnoresOtherIssuers(t *testing.T) {
	sel, hub, private := newSelector(t)
	private.SetOnPrompt(answerWith(hub, "someone-else", "💳"))

	_, err := sel.Select(context.Background(), private, "42", "42")
	assert.ErrorIs(t, err, models.ErrTimeout)
	assert.True(t, NoSelection(err))

	answer, ok := private.AnswerOf(private.Prompts[0].ID)
	require.True(t, ok)
	assert.Contains(t, answer.Body, "didn't answer in time")
}

func TestSelectorRejectsUnknownToken(t *testing.T) {
	sel, hub, private := newSelector(t)
	private.SetOnPrompt(answerWith(hub, "42", "🍕"))

	_, err := sel.Select(context.Background(), private, "42", "42")
	assert.ErrorIs(t, err, ErrInvalidSelection)
	assert.True(t, NoSelection(err))

	answer, ok := private.AnswerOf(private.Prompts[0].ID)
	require.True(t, ok)
	assert.Equal(t, "Invalid Reaction", answer.Title)
}

func TestSelectorWithoutCategories(t *testing.T) {
	sel := NewSelector(NewHub(), storage.NewMemoryStorage(), time.Second, zap.NewNop())
	_, err := sel.Select(context.Background(), platformtest.NewPrivate(), "42", "42")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.False(t, NoSelection(err))
}
