package models

import (
	"time"
	"unicode/utf8"
)

// MaxContentLength is the longest message body, in code points, that can be
// relayed or stored.
const MaxContentLength = 2048

// Conversation pairs one user's private channel with one staff channel.
type Conversation struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	ChannelID   string     `json:"channel_id"`
	CategoryID  string     `json:"category_id"`
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"created_at"`
	ClosingDate *time.Time `json:"closing_date,omitempty"`
}

// Message is one relayed (or internal) post of a conversation. StaffMessageID
// always points at the copy in the staff channel; UserMessageID points at the
// copy in the user's private channel and is empty for internal notes.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	Kind           MessageKind `json:"kind"`
	AuthorID       string      `json:"author_id"`
	AuthorName     string      `json:"author_name"`
	Content        string      `json:"content"`
	MadeByStaff    bool        `json:"made_by_staff"`
	Anonymous      bool        `json:"anonymous"`
	Deleted        bool        `json:"deleted"`
	StaffMessageID string      `json:"staff_message_id"`
	UserMessageID  string      `json:"user_message_id,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Origin reports which side of the conversation produced the message.
func (m *Message) Origin() Side {
	if m.MadeByStaff {
		return SideStaff
	}
	return SideUser
}

// Category is a department staff conversations are routed into.
type Category struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	GroupID    string   `json:"group_id"`
	Active     bool     `json:"active"`
	Token      string   `json:"token"`
	AccessList []string `json:"access_list"`
}

// Side is one end of a conversation.
type Side int

const (
	SideUser Side = iota
	SideStaff
)

func (s Side) String() string {
	if s == SideStaff {
		return "staff"
	}
	return "user"
}

// Other returns the opposite side.
func (s Side) Other() Side {
	if s == SideStaff {
		return SideUser
	}
	return SideStaff
}

// ValidateContent rejects empty bodies and bodies longer than
// MaxContentLength code points.
func ValidateContent(content string) error {
	if content == "" {
		return Validationf("message is empty")
	}
	if n := utf8.RuneCountInString(content); n > MaxContentLength {
		return Validationf("message is %d characters, the limit is %d", n, MaxContentLength)
	}
	return nil
}
