package inbox

import (
	"github.com/matheus3301/wppinbox/internal/event"
	"github.com/matheus3301/wppinbox/internal/identity"
)

// Status is the delivery status of an outbound message.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusPlayed    Status = "played"
)

// rank orders statuses; unknown values rank below sent.
func (s Status) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	case StatusPlayed:
		return 4
	default:
		return 0
	}
}

// statusFor maps a receipt type to the status it reports. Receipts of an
// unknown type report nothing.
func statusFor(t event.ReceiptType) (Status, bool) {
	switch t {
	case event.ReceiptDelivered:
		return StatusDelivered, true
	case event.ReceiptRead:
		return StatusRead, true
	case event.ReceiptPlayed:
		return StatusPlayed, true
	default:
		return "", false
	}
}

// Message is one entry of a conversation log. The JSON form is the persisted
// snapshot format.
type Message struct {
	ID          string       `json:"id"`
	ChatKey     string       `json:"chatKey"`
	ChatPrimary string       `json:"chatPrimary,omitempty"`
	ChatAlias   string       `json:"chatAlias,omitempty"`
	From        string       `json:"from"`
	Text        string       `json:"text"`
	At          int64        `json:"at"`
	FromMe      bool         `json:"fromMe"`
	Status      Status       `json:"status,omitempty"`
	Media       *event.Media `json:"media,omitempty"`
}

// FromEvent converts a normalized message event into a log entry. ChatKey is
// left raw; the store resolves it on insert.
func FromEvent(m *event.Message) Message {
	msg := Message{
		ID:          m.ID,
		ChatKey:     m.ChatKey(),
		ChatPrimary: m.ChatPrimary,
		ChatAlias:   m.ChatAlias,
		From:        m.Sender,
		Text:        m.Text,
		At:          m.At,
		FromMe:      m.FromMe,
		Status:      StatusSent,
	}
	if m.Media != nil {
		media := *m.Media
		msg.Media = &media
	}
	return msg
}

// Preview returns the text, or a bracketed media tag for media-only messages.
func (m Message) Preview() string {
	if m.Text != "" {
		return m.Text
	}
	if m.Media != nil {
		return "[" + string(m.Media.Kind) + "]"
	}
	return ""
}

// Conversation is a read-only copy of one conversation.
type Conversation struct {
	Key      string
	Primary  string // first-seen Primary identifier
	Alias    string // first-seen Alias identifier
	Messages []Message
}

// Last returns the most recently appended message.
func (c Conversation) Last() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// DisplayName prefers the Primary identifier, then the Alias one, then the key.
func (c Conversation) DisplayName() string {
	if name := identity.DisplayName(c.Primary, c.Alias); name != "" {
		return name
	}
	return c.Key
}

// Target is the identifier outbound sends to: Primary, then Alias, then key.
func (c Conversation) Target() string {
	if t := identity.PickKey(c.Primary, c.Alias); t != "" {
		return t
	}
	return c.Key
}

// Snapshot is the full persisted state.
type Snapshot struct {
	Active  string               `json:"active,omitempty"`
	Aliases map[string]string    `json:"aliases,omitempty"`
	Map     map[string][]Message `json:"map,omitempty"`
}

// Persister stores full snapshots.
type Persister interface {
	Save(Snapshot) error
	// Clear drops the stored snapshot so the next start begins empty.
	Clear() error
}

// MessageUpserted is the payload of inbox.message_upserted.
type MessageUpserted struct {
	Key string
	ID  string
}

// ReceiptsApplied is the payload of inbox.receipts_applied.
type ReceiptsApplied struct {
	Status  Status
	Updated int
}

// AliasPromoted is the payload of inbox.alias_promoted.
type AliasPromoted struct {
	Alias   string
	Primary string
	Merged  int
}

// Reset is the payload of inbox.reset and counts what was discarded.
type Reset struct {
	Conversations int
	Messages      int
	Aliases       int
}

// ActiveChanged is the payload of inbox.active_changed.
type ActiveChanged struct {
	From string
	To   string
}
