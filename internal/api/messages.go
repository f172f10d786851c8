package api

import (
	"github.com/matheus3301/wppinbox/internal/inbox"
	"github.com/matheus3301/wppinbox/internal/store"
)

// StatusRequest asks for the daemon status.
type StatusRequest struct{}

// StatusReply describes the daemon, its stream link and the inbox.
type StatusReply struct {
	Session        string `json:"session"`
	State          string `json:"state"`
	StateSinceMS   int64  `json:"stateSinceMs"`
	UptimeMS       int64  `json:"uptimeMs"`
	Gateway        string `json:"gateway,omitempty"`
	Active         string `json:"active,omitempty"`
	Conversations  int    `json:"conversations"`
	Messages       int    `json:"messages"`
	Aliases        int    `json:"aliases"`
	OutboundSent   int    `json:"outboundSent"`
	OutboundFailed int    `json:"outboundFailed"`
	DroppedEvents  uint64 `json:"droppedEvents"`
}

// ListChatsRequest filters the conversation list by a case-insensitive
// substring of the display name or key. Empty matches everything.
type ListChatsRequest struct {
	Query string `json:"query,omitempty"`
}

// ListChatsReply is the ordered conversation list.
type ListChatsReply struct {
	Active string          `json:"active,omitempty"`
	Chats  []inbox.Summary `json:"chats"`
}

// ChatRequest names one conversation by key, phone number or identifier.
type ChatRequest struct {
	Key string `json:"key"`
}

// Chat is one conversation with its full log.
type Chat struct {
	Key         string          `json:"key"`
	DisplayName string          `json:"displayName"`
	Primary     string          `json:"primary,omitempty"`
	Alias       string          `json:"alias,omitempty"`
	Active      bool            `json:"active"`
	Messages    []inbox.Message `json:"messages"`
}

// SetActiveReply reports the selection after SetActive.
type SetActiveReply struct {
	Active  string `json:"active"`
	Changed bool   `json:"changed"`
}

// SendTextRequest sends text to a conversation.
type SendTextRequest struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

// SendMediaRequest uploads a file readable by the daemon.
type SendMediaRequest struct {
	Key  string `json:"key"`
	Kind string `json:"kind"`
	Path string `json:"path"`
}

// SendReply carries the local echo of a completed send.
type SendReply struct {
	Key     string        `json:"key"`
	Target  string        `json:"target"`
	Message inbox.Message `json:"message"`
}

// ListOutboundRequest pages the outbound log, newest first.
type ListOutboundRequest struct {
	Limit int `json:"limit,omitempty"`
}

// Outbound is one recorded send attempt.
type Outbound struct {
	ID         int64  `json:"id"`
	LocalID    string `json:"localId,omitempty"`
	ChatKey    string `json:"chatKey"`
	Target     string `json:"target"`
	Kind       string `json:"kind"`
	Body       string `json:"body,omitempty"`
	Filename   string `json:"filename,omitempty"`
	Status     string `json:"status"`
	HTTPStatus int    `json:"httpStatus,omitempty"`
	Error      string `json:"error,omitempty"`
	CreatedAt  int64  `json:"createdAt"`
}

// ListOutboundReply lists send attempts.
type ListOutboundReply struct {
	Entries []Outbound `json:"entries"`
}

// ResetRequest discards the whole inbox state.
type ResetRequest struct{}

// ResetReply counts what a reset discarded.
type ResetReply struct {
	Conversations int `json:"conversations"`
	Messages      int `json:"messages"`
	Aliases       int `json:"aliases"`
}

// WatchRequest subscribes to daemon events under a kind prefix. Empty means
// every event.
type WatchRequest struct {
	Prefix string `json:"prefix,omitempty"`
}

// Envelope wraps one bus event for streaming.
type Envelope struct {
	ID           string `json:"id"`
	Session      string `json:"session"`
	Kind         string `json:"kind"`
	OccurredAtMS int64  `json:"occurredAtMs"`
	Payload      any    `json:"payload,omitempty"`
}

func outboundFromEntry(e store.OutboundEntry) Outbound {
	return Outbound{
		ID:         e.ID,
		LocalID:    e.LocalID,
		ChatKey:    e.ChatKey,
		Target:     e.Target,
		Kind:       e.Kind,
		Body:       e.Body,
		Filename:   e.Filename,
		Status:     e.Status,
		HTTPStatus: e.HTTPStatus,
		Error:      e.Error,
		CreatedAt:  e.CreatedAt,
	}
}
