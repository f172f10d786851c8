package store

// Outbound attempt outcomes recorded in outbound_log.
const (
	OutboundSent   = "sent"
	OutboundFailed = "failed"
)

// OutboundEntry is one recorded send attempt.
type OutboundEntry struct {
	ID         int64
	LocalID    string // id of the local echo, empty when the send failed
	ChatKey    string
	Target     string
	Kind       string // text, image, video, audio, document
	Body       string
	Filename   string
	Status     string
	HTTPStatus int
	Error      string
	CreatedAt  int64
}
