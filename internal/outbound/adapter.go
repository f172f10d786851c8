// Package outbound sends text and media through the gateway and echoes each
// successful send into the inbox store.
package outbound

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/wppinbox/internal/bus"
	"github.com/matheus3301/wppinbox/internal/event"
	"github.com/matheus3301/wppinbox/internal/inbox"
	"github.com/matheus3301/wppinbox/internal/metrics"
	"github.com/matheus3301/wppinbox/internal/store"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

var (
	// ErrNoConversationKey is returned when a send names no conversation.
	ErrNoConversationKey = errors.New("conversation key is required")
	// ErrEmptyMessage is returned for blank text or an empty attachment.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrUnknownMediaKind is returned for kinds other than image, video, audio
	// and document.
	ErrUnknownMediaKind = errors.New("unknown media kind")
)

// SendError reports a send whose request never completed. No local echo
// exists for it.
type SendError struct {
	Key    string
	Target string
	Kind   string
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s to %s: %v", e.Kind, e.Target, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Transport issues the network send calls.
type Transport interface {
	SendText(ctx context.Context, to, text string) (Response, error)
	SendMedia(ctx context.Context, kind event.MediaKind, to string, f File) (Response, error)
}

// Log records send attempts.
type Log interface {
	RecordOutbound(e *store.OutboundEntry) (int64, error)
}

// Sent is the payload of outbound.sent.
type Sent struct {
	Key        string
	Target     string
	LocalID    string
	Kind       string
	HTTPStatus int
}

// Failed is the payload of outbound.send_failed.
type Failed struct {
	Key    string
	Target string
	Kind   string
	Error  string
}

// Adapter resolves send targets, calls the transport and inserts the
// optimistic local echo.
type Adapter struct {
	store     *inbox.Store
	transport Transport
	blobs     *Blobs
	log       Log
	bus       *bus.Bus
	metrics   *metrics.Metrics
	logger    *zap.Logger

	now func() time.Time
}

// NewAdapter creates an adapter. log, b and m may be nil.
func NewAdapter(s *inbox.Store, t Transport, blobs *Blobs, log Log, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if blobs == nil {
		blobs = NewBlobs()
	}
	return &Adapter{
		store:     s,
		transport: t,
		blobs:     blobs,
		log:       log,
		bus:       b,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Blobs returns the registry holding sent attachments.
func (a *Adapter) Blobs() *Blobs { return a.blobs }

// Target returns the conversation key key resolves to and the identifier a
// send to it goes to: the conversation's Primary identifier, else its Alias
// identifier, else the key itself.
func (a *Adapter) Target(key string) (convKey, target string) {
	if c, ok := a.store.Get(key); ok {
		return c.Key, c.Target()
	}
	convKey = a.store.Resolve(key)
	return convKey, convKey
}

// SendText sends text and, once the request completes, appends the local echo.
func (a *Adapter) SendText(ctx context.Context, key, text string) (inbox.Message, error) {
	if strings.TrimSpace(key) == "" {
		return inbox.Message{}, ErrNoConversationKey
	}
	if strings.TrimSpace(text) == "" {
		return inbox.Message{}, ErrEmptyMessage
	}
	convKey, target := a.Target(key)

	resp, err := a.transport.SendText(ctx, target, text)
	entry := &store.OutboundEntry{ChatKey: convKey, Target: target, Kind: "text", Body: text}
	if err != nil {
		return inbox.Message{}, a.fail(entry, err)
	}

	echo := a.echo(convKey, target)
	echo.Text = text
	return a.succeed(entry, echo, resp), nil
}

// SendMedia uploads f as kind and, once the request completes, appends a
// local echo whose media content is a transient blob handle.
func (a *Adapter) SendMedia(ctx context.Context, key string, kind event.MediaKind, f File) (inbox.Message, error) {
	if strings.TrimSpace(key) == "" {
		return inbox.Message{}, ErrNoConversationKey
	}
	if _, ok := event.ParseMediaKind(string(kind)); !ok {
		return inbox.Message{}, fmt.Errorf("%w: %q", ErrUnknownMediaKind, kind)
	}
	if len(f.Data) == 0 {
		return inbox.Message{}, ErrEmptyMessage
	}
	convKey, target := a.Target(key)

	resp, err := a.transport.SendMedia(ctx, kind, target, f)
	entry := &store.OutboundEntry{ChatKey: convKey, Target: target, Kind: string(kind), Filename: f.Name}
	if err != nil {
		return inbox.Message{}, a.fail(entry, err)
	}

	f.Mime = mimeFor(kind, f)
	echo := a.echo(convKey, target)
	echo.Media = &event.Media{
		Kind:     kind,
		Content:  a.blobs.Put(f),
		Mime:     f.Mime,
		Filename: f.Name,
	}
	return a.succeed(entry, echo, resp), nil
}

func (a *Adapter) echo(convKey, target string) inbox.Message {
	now := a.now()
	return inbox.Message{
		ID:      "local-" + newULID(now),
		ChatKey: convKey,
		From:    target,
		At:      now.UnixMilli(),
		FromMe:  true,
		Status:  inbox.StatusSent,
	}
}

func (a *Adapter) succeed(entry *store.OutboundEntry, echo inbox.Message, resp Response) inbox.Message {
	a.store.UpsertMessage(echo)
	a.metrics.ObserveSend(entry.Kind, true)

	if !resp.OK() {
		a.logger.Warn("gateway answered with an error status",
			zap.String("chat", entry.ChatKey),
			zap.String("kind", entry.Kind),
			zap.Int("status", resp.StatusCode),
		)
	}

	entry.LocalID = echo.ID
	entry.Status = store.OutboundSent
	entry.HTTPStatus = resp.StatusCode
	a.record(entry)
	a.publish(bus.KindSendSucceeded, Sent{
		Key:        entry.ChatKey,
		Target:     entry.Target,
		LocalID:    echo.ID,
		Kind:       entry.Kind,
		HTTPStatus: resp.StatusCode,
	})
	return echo
}

func (a *Adapter) fail(entry *store.OutboundEntry, err error) error {
	a.metrics.ObserveSend(entry.Kind, false)
	a.logger.Error("send failed",
		zap.Error(err),
		zap.String("chat", entry.ChatKey),
		zap.String("target", entry.Target),
		zap.String("kind", entry.Kind),
	)

	entry.Status = store.OutboundFailed
	entry.Error = err.Error()
	a.record(entry)
	a.publish(bus.KindSendFailed, Failed{
		Key:    entry.ChatKey,
		Target: entry.Target,
		Kind:   entry.Kind,
		Error:  err.Error(),
	})
	return &SendError{Key: entry.ChatKey, Target: entry.Target, Kind: entry.Kind, Err: err}
}

func (a *Adapter) record(entry *store.OutboundEntry) {
	if a.log == nil {
		return
	}
	entry.CreatedAt = a.now().UnixMilli()
	if _, err := a.log.RecordOutbound(entry); err != nil {
		a.logger.Warn("failed to record outbound attempt", zap.Error(err))
	}
}

func (a *Adapter) publish(kind string, payload any) {
	if a.bus == nil {
		return
	}
	a.bus.Publish(bus.Event{Kind: kind, Payload: payload})
}

// newULID returns a fresh ULID stamped with now.
func newULID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
}

// Blobs keeps sent attachments addressable by a local handle for the
// lifetime of the process.
type Blobs struct {
	mu    sync.RWMutex
	files map[string]File
}

// NewBlobs creates an empty registry.
func NewBlobs() *Blobs {
	return &Blobs{files: make(map[string]File)}
}

// Put stores f and returns its handle.
func (b *Blobs) Put(f File) string {
	handle := "blob:" + newULID(time.Now())
	b.mu.Lock()
	b.files[handle] = f
	b.mu.Unlock()
	return handle
}

// Get returns the file behind handle.
func (b *Blobs) Get(handle string) (File, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	f, ok := b.files[handle]
	return f, ok
}

// Len returns the number of stored attachments.
func (b *Blobs) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.files)
}
