package daemon

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/matheus3301/wppinbox/internal/api"
	"github.com/matheus3301/wppinbox/internal/config"
	"github.com/matheus3301/wppinbox/internal/lock"
	"github.com/matheus3301/wppinbox/internal/session"
	"github.com/matheus3301/wppinbox/internal/status"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	primaryKey = "5511999999999@s.whatsapp.net"
	aliasKey   = "3917077286968@lid"
)

// fakeGateway serves the event stream on /ws and accepts sends.
type fakeGateway struct {
	*httptest.Server
	frames chan string

	mu    sync.Mutex
	sends []string
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	g := &fakeGateway{frames: make(chan string, 16)}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		ctx := c.CloseRead(r.Context())
		for {
			select {
			case f := <-g.frames:
				if err := c.Write(ctx, websocket.MessageText, []byte(f)); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	})
	mux.HandleFunc("/messages/text", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			To string `json:"to"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		g.mu.Lock()
		g.sends = append(g.sends, body.To)
		g.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	g.Server = httptest.NewServer(mux)
	t.Cleanup(g.Close)
	return g
}

// shortTempDir keeps socket paths under the 104-char limit on macOS.
func shortTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "inboxd-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startApp(t *testing.T, p Params) *fx.App {
	t.Helper()
	app := fx.New(Module(p), fx.NopLogger)
	if err := app.Err(); err != nil {
		t.Fatalf("fx.New error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("app.Start error = %v", err)
	}
	return app
}

func stopApp(t *testing.T, app *fx.App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.Stop(ctx); err != nil {
		t.Fatalf("app.Stop error = %v", err)
	}
}

func dial(t *testing.T, socketPath string) *api.Client {
	t.Helper()
	c, err := api.Dial(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestDaemonLifecycle(t *testing.T) {
	home := shortTempDir(t)
	t.Setenv(session.HomeEnv, home)
	gw := newFakeGateway(t)
	p := Params{SessionName: "test", SocketPath: filepath.Join(home, "d.sock"), GatewayURL: gw.URL}
	ctx := context.Background()

	app := startApp(t, p)
	client := dial(t, p.SocketPath)

	waitFor(t, "LIVE link", func() bool {
		st, err := client.GetStatus(ctx)
		return err == nil && st.State == string(status.Live)
	})

	gw.frames <- `{"type":"message","id":"in-1","chatPrimary":"` + primaryKey + `","chatLID":"` + aliasKey + `","text":"oi","at":1700000000000}`
	waitFor(t, "inbound message", func() bool {
		chat, err := client.GetChat(ctx, aliasKey)
		return err == nil && len(chat.Messages) == 1
	})

	sent, err := client.SendText(ctx, aliasKey, "tudo bem?")
	if err != nil {
		t.Fatalf("SendText error = %v", err)
	}
	if sent.Target != primaryKey {
		t.Errorf("send target = %q, want %q", sent.Target, primaryKey)
	}
	gw.mu.Lock()
	if len(gw.sends) != 1 || gw.sends[0] != primaryKey {
		t.Errorf("gateway sends = %v", gw.sends)
	}
	gw.mu.Unlock()

	// A read receipt for the echo advances its status.
	gw.frames <- `{"IDs":["` + sent.Message.ID + `"],"Type":"read"}`
	waitFor(t, "read receipt", func() bool {
		chat, err := client.GetChat(ctx, primaryKey)
		return err == nil && len(chat.Messages) == 2 && chat.Messages[1].Status == "read"
	})

	stopApp(t, app)

	if h, err := lock.Probe(session.Dir("test")); err != nil || h != nil {
		t.Errorf("lock still held after stop: %+v, %v", h, err)
	}
	if _, err := os.Stat(p.SocketPath); !os.IsNotExist(err) {
		t.Error("socket not removed on stop")
	}

	// A restart restores the inbox from the snapshot.
	app = startApp(t, p)
	defer stopApp(t, app)
	client = dial(t, p.SocketPath)

	chat, err := client.GetChat(ctx, aliasKey)
	if err != nil {
		t.Fatalf("GetChat after restart error = %v", err)
	}
	if chat.Key != primaryKey || len(chat.Messages) != 2 || !chat.Active {
		t.Errorf("restored chat = %+v", chat)
	}
	if chat.Messages[1].Status != "read" {
		t.Errorf("restored status = %q, want read", chat.Messages[1].Status)
	}
}

func TestSecondDaemonRefused(t *testing.T) {
	home := shortTempDir(t)
	t.Setenv(session.HomeEnv, home)
	gw := newFakeGateway(t)

	app := startApp(t, Params{SessionName: "test", SocketPath: filepath.Join(home, "a.sock"), GatewayURL: gw.URL})
	defer stopApp(t, app)

	second := fx.New(Module(Params{SessionName: "test", SocketPath: filepath.Join(home, "b.sock"), GatewayURL: gw.URL}), fx.NopLogger)
	if second.Err() == nil {
		t.Fatal("second daemon on the same session should fail to build")
	}
}

func TestModuleRejectsBadGateway(t *testing.T) {
	t.Setenv(session.HomeEnv, shortTempDir(t))

	app := fx.New(Module(Params{SessionName: "test", GatewayURL: "not a url"}), fx.NopLogger)
	if app.Err() == nil {
		t.Fatal("expected error for relative gateway URL")
	}
}

func TestNewServerSocket(t *testing.T) {
	socketPath := filepath.Join(shortTempDir(t), "d.sock")

	// A stale socket from a crashed daemon is replaced.
	stale, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	if ul, ok := stale.(*net.UnixListener); ok {
		ul.SetUnlinkOnClose(false)
	}
	_ = stale.Close()

	srv, err := NewServer(Params{SessionName: "test", SocketPath: socketPath}, zap.NewNop(), &api.Service{})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	defer srv.Stop(context.Background())

	info, err := os.Stat(srv.SocketPath())
	if err != nil {
		t.Fatalf("socket not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("socket permission = %o, want 0600", perm)
	}
}

func TestStartFailsWhenMetricsAddrTaken(t *testing.T) {
	home := shortTempDir(t)
	t.Setenv(session.HomeEnv, home)
	gw := newFakeGateway(t)

	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer busy.Close()

	cfg := config.Default()
	cfg.Daemon.MetricsAddr = busy.Addr().String()
	if err := config.Save(session.ConfigPath(), cfg); err != nil {
		t.Fatal(err)
	}

	app := fx.New(Module(Params{SessionName: "test", SocketPath: filepath.Join(home, "d.sock"), GatewayURL: gw.URL}), fx.NopLogger)
	if err := app.Err(); err != nil {
		t.Fatalf("fx.New error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.Start(ctx); err == nil {
		_ = app.Stop(ctx)
		t.Fatal("Start() should fail when the metrics address is taken")
	}
}
