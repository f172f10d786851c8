package event

import "github.com/matheus3301/wppinbox/internal/identity"

// Kind enumerates the canonical event kinds.
type Kind int

const (
	Unrecognized Kind = iota
	MessageKind
	ReceiptKind
	PresenceKind
)

func (k Kind) String() string {
	switch k {
	case MessageKind:
		return "message"
	case ReceiptKind:
		return "receipt"
	case PresenceKind:
		return "presence"
	default:
		return "unrecognized"
	}
}

// MediaKind is the type of an attachment.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
)

// MediaKinds lists every supported attachment kind.
var MediaKinds = []MediaKind{MediaImage, MediaVideo, MediaAudio, MediaDocument}

// ParseMediaKind validates s as a media kind.
func ParseMediaKind(s string) (MediaKind, bool) {
	for _, k := range MediaKinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// Media references attachment content.
type Media struct {
	Kind     MediaKind `json:"kind"`
	Content  string    `json:"content,omitempty"`
	Mime     string    `json:"mime,omitempty"`
	Filename string    `json:"filename,omitempty"`
}

// Message is a normalized chat message event.
type Message struct {
	ID          string
	ChatPrimary string
	ChatAlias   string
	Sender      string
	Text        string
	At          int64 // epoch millis
	FromMe      bool
	Media       *Media
}

// ChatKey returns the raw (unresolved) conversation key.
func (m *Message) ChatKey() string {
	return identity.PickKey(m.ChatPrimary, m.ChatAlias)
}

// ReceiptType is the delivery status a receipt reports.
type ReceiptType string

const (
	ReceiptDelivered ReceiptType = "delivered"
	ReceiptRead      ReceiptType = "read"
	ReceiptPlayed    ReceiptType = "played"
	ReceiptOther     ReceiptType = "other"
)

// Receipt is a batch of status updates referencing message ids.
type Receipt struct {
	IDs  []string
	Type ReceiptType
}

// Event is the output of Normalize. Exactly one of Message and Receipt is
// set for the corresponding kinds; Presence and Unrecognized carry nothing.
type Event struct {
	Kind    Kind
	Message *Message
	Receipt *Receipt
}
