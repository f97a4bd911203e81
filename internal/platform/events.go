package platform

import "time"

// EventKind classifies inbound platform events.
type EventKind int

const (
	// EventUserMessage is a message the user wrote in their private channel.
	EventUserMessage EventKind = iota
	// EventStaffMessage is a message written in a guild/staff channel.
	EventStaffMessage
	// EventUserMessageDeleted reports a user deleting one of their messages.
	EventUserMessageDeleted
	// EventSignal is a selection signal (reaction, button press).
	EventSignal
)

func (k EventKind) String() string {
	switch k {
	case EventUserMessage:
		return "user_message"
	case EventStaffMessage:
		return "staff_message"
	case EventUserMessageDeleted:
		return "user_message_deleted"
	case EventSignal:
		return "signal"
	default:
		return "unknown"
	}
}

// Event is one inbound occurrence from a transport adapter.
type Event struct {
	Kind EventKind
	// SurfaceID is the channel the event happened in, or for signals the
	// prompt it answers.
	SurfaceID string
	Author    Identity
	Content   string
	MessageID string
	Token     string
	Timestamp time.Time
}
