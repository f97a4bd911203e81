package relay

import (
	"fmt"

	"github.com/xaenox/modmail-bot/internal/models"
	"github.com/xaenox/modmail-bot/internal/platform"
)

// anonymousName replaces the staff author on the user side of anonymous
// replies.
const anonymousName = "Anonymous"

// renderMessage builds the Post shown for msg on the viewer side.
func renderMessage(msg *models.Message, viewer models.Side, author platform.Identity) platform.Post {
	post := platform.Post{
		Kind:      platform.PostRelay,
		Author:    author,
		Body:      msg.Content,
		Origin:    msg.Origin(),
		Deleted:   msg.Deleted,
		Timestamp: msg.CreatedAt,
	}
	if msg.IsNote() {
		post.Kind = platform.PostNote
		post.Footer = "Internal note"
	}

	switch {
	case msg.IsNote():
	case msg.MadeByStaff && msg.Anonymous && viewer == models.SideUser:
		post.Author = platform.Identity{Name: anonymousName}
	case msg.MadeByStaff && msg.Anonymous:
		post.Footer = "Anonymous Reply"
	case msg.MadeByStaff:
		post.Footer = author.Label
	case viewer == models.SideStaff:
		post.Footer = fmt.Sprintf("Message ID: %s", msg.UserMessageID)
	}

	if msg.Deleted {
		if post.Footer != "" {
			post.Footer += " "
		}
		post.Footer += "(deleted)"
	}
	return post
}

// storedAuthor is the identity recorded on the row, used when the original
// author is not the one acting.
func storedAuthor(msg *models.Message) platform.Identity {
	return platform.Identity{ID: msg.AuthorID, Name: msg.AuthorName}
}

// RenderReplay builds the Post used when history is replayed into a new
// staff channel.
func RenderReplay(msg *models.Message) platform.Post {
	post := renderMessage(msg, models.SideStaff, storedAuthor(msg))
	post.Forwarded = true
	if msg.IsNote() {
		post.Footer = "Forwarded internal note"
	} else {
		post.Footer = "Forwarded message"
	}
	if msg.Deleted {
		post.Footer += " (deleted)"
	}
	return post
}
