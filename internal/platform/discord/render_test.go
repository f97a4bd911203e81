package discord

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/modmail-bot/internal/models"
	"github.com/xaenox/modmail-bot/internal/platform"
)

func TestEmbedColorsBySide(t *testing.T) {
	user := embed(platform.Post{Kind: platform.PostRelay, Origin: models.SideUser, Body: "hi"})
	staff := embed(platform.Post{Kind: platform.PostRelay, Origin: models.SideStaff, Body: "hello"})
	profile := embed(platform.Post{Kind: platform.PostProfile})

	assert.Equal(t, colorUser, user.Color)
	assert.Equal(t, colorStaff, staff.Color)
	assert.Equal(t, colorProfile, profile.Color)
}

func TestEmbedStrikesDeleted(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e := embed(platform.Post{
		Body:      "oops",
		Deleted:   true,
		Footer:    "(deleted)",
		Author:    platform.Identity{Name: "mod", AvatarURL: "https://cdn/avatar.png"},
		Fields:    []platform.Field{{Name: "Roles", Value: "Support"}},
		Timestamp: at,
	})

	assert.Equal(t, "~~oops~~", e.Description)
	require.NotNil(t, e.Footer)
	assert.Equal(t, "(deleted)", e.Footer.Text)
	require.NotNil(t, e.Author)
	assert.Equal(t, "mod", e.Author.Name)
	require.Len(t, e.Fields, 1)
	assert.Equal(t, "2024-05-01T12:00:00Z", e.Timestamp)
}

func TestPromptEmbedListsOptions(t *testing.T) {
	e := promptEmbed(platform.Prompt{
		Title:   "Delete note",
		Body:    "Are you sure?",
		Options: []platform.Option{{Token: "✅", Label: "Yes"}, {Token: "❌", Label: "No"}},
	})
	assert.Contains(t, e.Description, "✅ Yes")

	e = promptEmbed(platform.Prompt{
		Title:   "Category Selector",
		Body:    "Support = 🛠",
		Options: []platform.Option{{Token: "🛠", Label: "Support"}},
	})
	assert.Equal(t, "Support = 🛠", e.Description)
}

func TestMapError(t *testing.T) {
	restErr := func(code int) error {
		return &discordgo.RESTError{
			Response: &http.Response{StatusCode: http.StatusForbidden},
			Message:  &discordgo.APIErrorMessage{Code: code, Message: "nope"},
		}
	}

	assert.ErrorIs(t, mapError(restErr(discordgo.ErrCodeCannotSendMessagesToThisUser)), models.ErrDelivery)
	assert.ErrorIs(t, mapError(restErr(discordgo.ErrCodeUnknownChannel)), models.ErrNotFound)
	assert.ErrorIs(t, mapError(restErr(discordgo.ErrCodeMissingPermissions)), models.ErrPermission)

	plain := errors.New("boom")
	assert.Equal(t, plain, mapError(plain))
	assert.NoError(t, mapError(nil))
}
