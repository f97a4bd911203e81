package discord

import (
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/xaenox/modmail-bot/internal/models"
	"github.com/xaenox/modmail-bot/internal/platform"
)

const (
	colorUser    = 0xE8D90C
	colorStaff   = 0x7CFC00
	colorProfile = 0x7289DA
	colorNote    = 0x95A5A6
)

// embed renders a Post as a Discord embed.
func embed(p platform.Post) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title:       p.Title,
		Description: p.Body,
		Color:       color(p),
	}
	if p.Deleted && p.Body != "" {
		e.Description = "~~" + p.Body + "~~"
	}
	if p.Author.Name != "" {
		e.Author = &discordgo.MessageEmbedAuthor{Name: p.Author.Name, IconURL: p.Author.AvatarURL}
	}
	if p.Footer != "" {
		e.Footer = &discordgo.MessageEmbedFooter{Text: p.Footer}
	}
	for _, f := range p.Fields {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value})
	}
	if !p.Timestamp.IsZero() {
		e.Timestamp = p.Timestamp.UTC().Format(time.RFC3339)
	}
	return e
}

func color(p platform.Post) int {
	switch p.Kind {
	case platform.PostProfile, platform.PostNotice:
		return colorProfile
	case platform.PostNote:
		return colorNote
	}
	if p.Origin == models.SideStaff {
		return colorStaff
	}
	return colorUser
}

// promptEmbed lists the options of a prompt under its body.
func promptEmbed(pr platform.Prompt) *discordgo.MessageEmbed {
	body := pr.Body
	if len(pr.Options) > 0 && !strings.Contains(body, pr.Options[0].Token) {
		lines := make([]string, 0, len(pr.Options))
		for _, o := range pr.Options {
			lines = append(lines, o.Token+" "+o.Label)
		}
		body += "\n\n" + strings.Join(lines, "\n")
	}
	return &discordgo.MessageEmbed{Title: pr.Title, Description: body, Color: colorProfile}
}
