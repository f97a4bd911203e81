package models

// MessageKind separates relayed messages from staff-only annotations.
type MessageKind string

const (
	// KindRelay is mirrored between both sides.
	KindRelay MessageKind = "relay"
	// KindInternal is an internal note, visible in the staff channel only.
	KindInternal MessageKind = "internal"
)

// Valid reports whether k is a known kind.
func (k MessageKind) Valid() bool {
	return k == KindRelay || k == KindInternal
}

// IsNote reports whether the message is an internal note.
func (m *Message) IsNote() bool {
	return m.Kind == KindInternal
}
