package outbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/wppinbox/internal/bus"
	"github.com/matheus3301/wppinbox/internal/event"
	"github.com/matheus3301/wppinbox/internal/inbox"
	"github.com/matheus3301/wppinbox/internal/store"
	"go.uber.org/zap"
)

const (
	primaryKey = "5511999999999@s.whatsapp.net"
	aliasKey   = "3917077286968@lid"
)

// recordedRequest is what the fake gateway saw.
type recordedRequest struct {
	Path     string
	To       string
	Text     string
	FileName string
	FileMime string
	FileData string
}

type fakeGateway struct {
	mu       sync.Mutex
	requests []recordedRequest
	status   int
}

func (g *fakeGateway) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		rec := recordedRequest{Path: r.URL.Path}
		if r.URL.Path == "/messages/text" {
			var body struct {
				To   string `json:"to"`
				Text string `json:"text"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode text body: %v", err)
			}
			rec.To, rec.Text = body.To, body.Text
		} else {
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Errorf("parse multipart: %v", err)
			}
			rec.To = r.FormValue("to")
			file, header, err := r.FormFile("file")
			if err != nil {
				t.Errorf("form file: %v", err)
			} else {
				data, _ := io.ReadAll(file)
				rec.FileName = header.Filename
				rec.FileMime = header.Header.Get("Content-Type")
				rec.FileData = string(data)
			}
		}
		g.mu.Lock()
		g.requests = append(g.requests, rec)
		status := g.status
		g.mu.Unlock()
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"id":"server-side-id"}`))
	})
}

func (g *fakeGateway) last(t *testing.T) recordedRequest {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.requests) == 0 {
		t.Fatal("gateway received no request")
	}
	return g.requests[len(g.requests)-1]
}

type fixture struct {
	store   *inbox.Store
	db      *store.DB
	gateway *fakeGateway
	server  *httptest.Server
	adapter *Adapter
	bus     *bus.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, _, err := store.OpenMigrated(filepath.Join(t.TempDir(), "inbox.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	gw := &fakeGateway{}
	srv := httptest.NewServer(gw.handler(t))
	t.Cleanup(srv.Close)

	b := bus.New()
	s := inbox.NewStore(nil, b, zap.NewNop())
	a := NewAdapter(s, NewGateway(srv.URL+"/", 5*time.Second, nil), nil, db, b, nil, zap.NewNop())
	a.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return &fixture{store: s, db: db, gateway: gw, server: srv, adapter: a, bus: b}
}

func TestSendTextTargetsPrimary(t *testing.T) {
	f := newFixture(t)
	f.store.UpsertMessage(inbox.Message{ID: "in1", ChatPrimary: primaryKey, ChatAlias: aliasKey, Text: "hello", At: 1})

	// Sending through the alias key lands in the merged conversation.
	echo, err := f.adapter.SendText(context.Background(), aliasKey, "hi there")
	if err != nil {
		t.Fatal(err)
	}

	req := f.gateway.last(t)
	if req.Path != "/messages/text" || req.To != primaryKey || req.Text != "hi there" {
		t.Errorf("request = %+v", req)
	}

	if !strings.HasPrefix(echo.ID, "local-") || len(echo.ID) != len("local-")+26 {
		t.Errorf("echo id = %q, want local-<ULID>", echo.ID)
	}
	if !echo.FromMe || echo.Status != inbox.StatusSent || echo.At != 1700000000000 {
		t.Errorf("echo = %+v", echo)
	}

	c, _ := f.store.Get(primaryKey)
	if len(c.Messages) != 2 || c.Messages[1].ID != echo.ID || c.Messages[1].Text != "hi there" {
		t.Errorf("conversation log = %+v", c.Messages)
	}
}

func TestSendTextTargetFallbacks(t *testing.T) {
	f := newFixture(t)
	f.store.UpsertMessage(inbox.Message{ID: "in1", ChatAlias: aliasKey, Text: "alias only", At: 1})

	if _, err := f.adapter.SendText(context.Background(), aliasKey, "to alias"); err != nil {
		t.Fatal(err)
	}
	if got := f.gateway.last(t).To; got != aliasKey {
		t.Errorf("to = %q, want alias identifier", got)
	}

	if _, err := f.adapter.SendText(context.Background(), "Maria", "to raw"); err != nil {
		t.Fatal(err)
	}
	if got := f.gateway.last(t).To; got != "Maria" {
		t.Errorf("to = %q, want raw key", got)
	}
	if c, ok := f.store.Get("Maria"); !ok || len(c.Messages) != 1 {
		t.Errorf("echo not stored under raw key: %+v", c)
	}
}

func TestSendTextNon2xxStillEchoes(t *testing.T) {
	f := newFixture(t)
	f.gateway.status = http.StatusInternalServerError

	echo, err := f.adapter.SendText(context.Background(), primaryKey, "hello")
	if err != nil {
		t.Fatalf("SendText() error = %v, want nil for HTTP-level errors", err)
	}
	if _, ok := f.store.Get(primaryKey); !ok {
		t.Fatal("echo missing")
	}

	entries, err := f.db.ListOutbound(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].HTTPStatus != 500 || entries[0].LocalID != echo.ID || entries[0].Status != store.OutboundSent {
		t.Errorf("outbound log = %+v", entries)
	}
}

func TestSendTextTransportFailure(t *testing.T) {
	f := newFixture(t)
	failed, unsub := f.bus.Subscribe(bus.KindSendFailed, 4)
	defer unsub()
	f.server.Close()

	_, err := f.adapter.SendText(context.Background(), primaryKey, "hello")
	var sendErr *SendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("SendText() error = %v, want *SendError", err)
	}
	if sendErr.Target != primaryKey || sendErr.Kind != "text" {
		t.Errorf("SendError = %+v", sendErr)
	}

	if _, ok := f.store.Get(primaryKey); ok {
		t.Error("a local echo was inserted for a failed send")
	}
	select {
	case evt := <-failed:
		if p, ok := evt.Payload.(Failed); !ok || p.Target != primaryKey {
			t.Errorf("payload = %#v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no outbound.send_failed event")
	}

	n, err := f.db.CountOutbound(store.OutboundFailed)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("failed attempts recorded = %d, want 1", n)
	}
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.adapter.SendText(ctx, "", "x"); !errors.Is(err, ErrNoConversationKey) {
		t.Errorf("SendText(no key) error = %v", err)
	}
	if _, err := f.adapter.SendText(ctx, primaryKey, "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("SendText(blank) error = %v", err)
	}
	if _, err := f.adapter.SendMedia(ctx, primaryKey, "sticker", File{Data: []byte("x")}); !errors.Is(err, ErrUnknownMediaKind) {
		t.Errorf("SendMedia(sticker) error = %v", err)
	}
	if _, err := f.adapter.SendMedia(ctx, primaryKey, event.MediaImage, File{}); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("SendMedia(empty) error = %v", err)
	}
	if len(f.gateway.requests) != 0 {
		t.Errorf("gateway received %d requests for invalid sends", len(f.gateway.requests))
	}
}

func TestSendMedia(t *testing.T) {
	f := newFixture(t)
	f.store.UpsertMessage(inbox.Message{ID: "in1", ChatPrimary: primaryKey, At: 1})

	tests := []struct {
		kind     event.MediaKind
		file     File
		wantMime string
	}{
		{event.MediaImage, File{Name: "photo", Data: []byte("jpg")}, "image/jpeg"},
		{event.MediaVideo, File{Name: "clip", Data: []byte("mp4")}, "video/mp4"},
		{event.MediaAudio, File{Name: "voice", Data: []byte("ogg")}, "audio/ogg; codecs=opus"},
		{event.MediaDocument, File{Name: "report", Data: []byte("pdf")}, "application/octet-stream"},
		{event.MediaDocument, File{Name: "notes.txt", Mime: "text/plain", Data: []byte("txt")}, "text/plain"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind)+"/"+tt.file.Name, func(t *testing.T) {
			echo, err := f.adapter.SendMedia(context.Background(), primaryKey, tt.kind, tt.file)
			if err != nil {
				t.Fatal(err)
			}

			req := f.gateway.last(t)
			if req.Path != "/messages/"+string(tt.kind) || req.To != primaryKey {
				t.Errorf("request = %+v", req)
			}
			if req.FileName != tt.file.Name || req.FileData != string(tt.file.Data) || req.FileMime != tt.wantMime {
				t.Errorf("file part = %+v, want mime %q", req, tt.wantMime)
			}

			m := echo.Media
			if m == nil || m.Kind != tt.kind || m.Mime != tt.wantMime || m.Filename != tt.file.Name {
				t.Fatalf("echo media = %+v", m)
			}
			blob, ok := f.adapter.Blobs().Get(m.Content)
			if !strings.HasPrefix(m.Content, "blob:") || !ok || string(blob.Data) != string(tt.file.Data) {
				t.Errorf("blob handle %q not resolvable", m.Content)
			}
		})
	}

	c, _ := f.store.Get(primaryKey)
	if len(c.Messages) != 1+len(tests) {
		t.Errorf("log has %d messages, want %d", len(c.Messages), 1+len(tests))
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "picture.png")
	if err := os.WriteFile(path, []byte("png-bytes"), 0o600); err != nil {
		t.Fatal(err)
	}
	f, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if f.Name != "picture.png" || f.Mime != "image/png" || string(f.Data) != "png-bytes" {
		t.Errorf("ReadFile() = %+v", f)
	}

	if _, err := ReadFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("ReadFile(missing) error = nil")
	}
}

func TestReceiptAdvancesEchoWhenIDsMatch(t *testing.T) {
	f := newFixture(t)
	echo, err := f.adapter.SendText(context.Background(), primaryKey, "hello")
	if err != nil {
		t.Fatal(err)
	}

	f.store.ApplyReceipts(event.Receipt{IDs: []string{echo.ID}, Type: event.ReceiptDelivered})

	c, _ := f.store.Get(primaryKey)
	if c.Messages[0].Status != inbox.StatusDelivered {
		t.Errorf("echo status = %s, want delivered", c.Messages[0].Status)
	}
}

// TestConcurrentPromotionKeepsEveryMessage races alias-keyed inbound messages,
// sends through the alias key and the alias promotion against each other.
// Whatever the interleaving, every message ends up in the primary
// conversation and nothing stays under the alias key.
func TestConcurrentPromotionKeepsEveryMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const perWorker = 25

	var (
		mu       sync.Mutex
		want     []string
		promoted bool
		wg       sync.WaitGroup
	)
	expect := func(id string) {
		mu.Lock()
		want = append(want, id)
		mu.Unlock()
	}

	wg.Add(4)
	go func() {
		defer wg.Done()
		for i := range perWorker {
			id := fmt.Sprintf("alias-%d", i)
			f.store.UpsertMessage(inbox.Message{ID: id, ChatKey: aliasKey, Text: "in", At: int64(1000 + i)})
			expect(id)
		}
	}()
	go func() {
		defer wg.Done()
		for i := range perWorker {
			id := fmt.Sprintf("primary-%d", i)
			f.store.UpsertMessage(inbox.Message{ID: id, ChatKey: primaryKey, Text: "in", At: int64(2000 + i)})
			expect(id)
		}
	}()
	go func() {
		defer wg.Done()
		for range perWorker {
			echo, err := f.adapter.SendText(ctx, aliasKey, "out")
			if err != nil {
				t.Errorf("SendText error = %v", err)
				return
			}
			expect(echo.ID)
		}
	}()
	go func() {
		defer wg.Done()
		for i := range perWorker {
			if i == perWorker/2 {
				ok := f.store.Promote(primaryKey, aliasKey)
				mu.Lock()
				promoted = ok
				mu.Unlock()
				continue
			}
			f.store.Project("")
			f.store.Get(aliasKey)
		}
	}()
	wg.Wait()

	if !promoted {
		t.Fatal("Promote() = false, want the mapping installed")
	}
	if got := f.store.Resolve(aliasKey); got != primaryKey {
		t.Fatalf("Resolve(alias) = %q, want %q", got, primaryKey)
	}

	snap := f.store.Snapshot()
	if _, ok := snap.Map[aliasKey]; ok {
		t.Errorf("%d messages left under the alias key", len(snap.Map[aliasKey]))
	}
	if len(snap.Map) != 1 {
		t.Errorf("conversations = %d, want 1", len(snap.Map))
	}

	c, ok := f.store.Get(primaryKey)
	if !ok {
		t.Fatal("primary conversation missing")
	}
	if len(c.Messages) != 3*perWorker || len(want) != 3*perWorker {
		t.Errorf("stored %d messages, sent %d, want %d", len(c.Messages), len(want), 3*perWorker)
	}
	stored := make(map[string]bool, len(c.Messages))
	for _, m := range c.Messages {
		if m.ChatKey != primaryKey {
			t.Errorf("message %s keyed %q, want primary", m.ID, m.ChatKey)
		}
		stored[m.ID] = true
	}
	for _, id := range want {
		if !stored[id] {
			t.Errorf("message %s lost", id)
		}
	}
}
