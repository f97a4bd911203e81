// Package platform describes the chat surfaces the relay talks to: the staff
// side, where each conversation owns a channel inside a department container,
// and the private side, a one-to-one stream with the user. Adapters render
// Posts in whatever form their platform supports.
package platform

import (
	"context"
	"time"

	"github.com/xaenox/modmail-bot/internal/models"
)

// Identity is how an author is shown.
type Identity struct {
	ID        string
	Name      string
	AvatarURL string
	// Label is an opaque display label (for staff, usually the most senior
	// role name) passed through to the renderer.
	Label string
}

// PostKind selects how a Post is presented.
type PostKind int

const (
	PostRelay PostKind = iota
	PostNote
	PostNotice
	PostProfile
)

// Field is a named value shown alongside a post body.
type Field struct {
	Name  string
	Value string
}

// Post is a platform-neutral message.
type Post struct {
	Kind      PostKind
	Title     string
	Author    Identity
	Body      string
	Footer    string
	Origin    models.Side
	Deleted   bool
	Forwarded bool
	Fields    []Field
	Timestamp time.Time
}

// Notice builds a plain titled notice.
func Notice(title, body string) Post {
	return Post{Kind: PostNotice, Title: title, Body: body, Timestamp: time.Now()}
}

// Option is one choice offered by a prompt.
type Option struct {
	Token string
	Label string
}

// Prompt asks a requester to pick one Option.
type Prompt struct {
	Title   string
	Body    string
	Options []Option
}

// Prompter posts prompts on a surface and rewrites them once answered.
// target is a staff channel id or a user id depending on the side.
type Prompter interface {
	PostPrompt(ctx context.Context, target string, p Prompt) (promptID string, err error)
	EditPrompt(ctx context.Context, target, promptID string, p Post) error
}

// StaffChannels manages per-conversation channels on the staff side.
type StaffChannels interface {
	Prompter
	CreateChannel(ctx context.Context, name string, category *models.Category) (string, error)
	DeleteChannel(ctx context.Context, channelID string) error
	Send(ctx context.Context, channelID string, p Post) (string, error)
	Edit(ctx context.Context, channelID, messageID string, p Post) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	// MemberGroups lists the role/group ids a member holds inside groupID.
	MemberGroups(ctx context.Context, groupID, memberID string) ([]string, error)
}

// PrivateChannels is the one-to-one stream with a user. Send and Edit fail
// with models.ErrDelivery when the user cannot be reached.
type PrivateChannels interface {
	Prompter
	Send(ctx context.Context, userID string, p Post) (string, error)
	Edit(ctx context.Context, userID, messageID string, p Post) error
	Profile(ctx context.Context, userID string) (*Profile, error)
}

// Containers lets the sweep compare stored departments with the platform.
type Containers interface {
	// ContainerName returns the current name of a department container or
	// models.ErrNotFound when it no longer exists.
	ContainerName(ctx context.Context, categoryID string) (string, error)
}

// Profile is what the staff sees about a user when a conversation opens.
// Zero times mean the platform does not expose the value.
type Profile struct {
	Identity
	CreatedAt time.Time
	JoinedAt  time.Time
	Groups    []string
}
