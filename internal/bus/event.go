package bus

import "time"

// Event kinds published inside the daemon. Subscribers filter by prefix, so
// "inbox." receives every store change.
const (
	KindMessageUpserted = "inbox.message_upserted"
	KindReceiptsApplied = "inbox.receipts_applied"
	KindAliasPromoted   = "inbox.alias_promoted"
	KindActiveChanged   = "inbox.active_changed"
	KindInboxReset      = "inbox.reset"

	KindSendSucceeded = "outbound.sent"
	KindSendFailed    = "outbound.send_failed"

	KindLinkChanged = "link.status_changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
