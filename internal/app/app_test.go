package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"craftybot/internal/storage"
	kit "craftybot/internal/transport"
	logx "craftybot/pkg/logx"
)

type sentText struct {
	chatID int64
	text   string
	edit   bool
}

// fakeAdapter records outbound traffic and lets tests inject updates.
type fakeAdapter struct {
	mu     sync.Mutex
	out    chan<- kit.Update
	nextID int

	sent    chan sentText
	started chan struct{}
	stopped bool
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{sent: make(chan sentText, 64), started: make(chan struct{})}
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error {
	f.mu.Lock()
	f.out = out
	f.mu.Unlock()
	close(f.started)
	return nil
}

func (f *fakeAdapter) Stop(ctx context.Context) error {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.mu.Unlock()
	f.record(sentText{chatID: to.ChatID, text: text})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: id}, nil
}

func (f *fakeAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	f.record(sentText{chatID: ref.ChatID, text: text, edit: true})
	return nil
}

func (f *fakeAdapter) record(s sentText) {
	select {
	case f.sent <- s:
	default:
	}
}

func (f *fakeAdapter) push(t *testing.T, msg kit.Message) {
	t.Helper()
	f.mu.Lock()
	out := f.out
	f.mu.Unlock()
	out <- kit.Update{Kind: kit.UpdateMessage, Message: &msg}
}

func (f *fakeAdapter) await(t *testing.T, match func(sentText) bool) sentText {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-f.sent:
			if match(s) {
				return s
			}
		case <-deadline:
			t.Fatalf("expected outbound message not seen")
			return sentText{}
		}
	}
}

const serverID = "3f2a9c1e-7b4d-4e8a-9c2f-1a2b3c4d5e6f"

func newCrafty(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v2/servers", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok","data":[{"server_id":"` + serverID + `","server_name":"Alpha"}]}`))
	})
	mux.HandleFunc("GET /api/v2/servers/{id}/stats", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok","data":{"server_id":{"server_id":"` + serverID + `","server_name":"Alpha"},
			"running":true,"online":3,"max":10,"version":"1.20.4"}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, craftyURL string) string {
	t.Helper()
	body := `{
  "telegram": {"token": "test-token", "owner_user_ids": [7]},
  "crafty": {"base_url": "` + craftyURL + `", "api_key": "k"},
  "broadcast": {"interval": "1h", "timezone": "UTC", "rate_per_sec": 100},
  "storage": {"driver": "memory"},
  "http": {"enabled": true, "addr": "127.0.0.1:0"},
  "logging": {"level": "error", "console": false}
}`
	p := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestAppEndToEnd(t *testing.T) {
	crafty := newCrafty(t)
	fa := newFakeAdapter()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(ctx, writeConfig(t, crafty.URL), WithAdapter(fa))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-fa.started

	fa.push(t, kit.Message{ID: 1, ChatID: 42, FromID: 7, Text: "/subscribe"})
	fa.await(t, func(s sentText) bool { return s.chatID == 42 && s.text == "Status reporting enabled" })

	a.Scheduler().Trigger()
	fa.await(t, func(s sentText) bool { return s.chatID == 42 && strings.Contains(s.text, "Alpha") })

	addr := a.HTTPAddr()
	if addr == "" {
		t.Fatalf("http api not listening")
	}
	resp, err := http.Post("http://"+addr+"/webhook/server-started", "application/json",
		strings.NewReader(`{"embeds":[{"title":"Alpha"}]}`))
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("webhook status=%d", resp.StatusCode)
	}
	fa.await(t, func(s sentText) bool {
		return s.chatID == 42 && !s.edit && strings.HasPrefix(s.text, "🟢 Server Alpha has started.")
	})

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatalf("Done not closed after Stop")
	}
	fa.mu.Lock()
	stopped := fa.stopped
	fa.mu.Unlock()
	if !stopped {
		t.Fatalf("adapter not stopped")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(p, []byte(`{"storage": {"driver": "postgres"}}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := New(context.Background(), p, WithAdapter(newFakeAdapter()))
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{"telegram.token", "storage.dsn"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("missing %q in %v", want, err)
		}
	}
}

func TestReasonFromSignal(t *testing.T) {
	t.Parallel()

	if got := ReasonFromSignal(os.Interrupt); got != StopSIGINT {
		t.Fatalf("interrupt=%q", got)
	}
	if got := ReasonFromSignal(os.Kill); got != StopUnknown {
		t.Fatalf("kill=%q", got)
	}
}

func TestRenderOnce(t *testing.T) {
	t.Parallel()

	crafty := newCrafty(t)
	text, err := RenderOnce(context.Background(), writeConfig(t, crafty.URL), logx.Nop())
	if err != nil {
		t.Fatalf("RenderOnce: %v", err)
	}
	if !strings.Contains(text, "Alpha") {
		t.Fatalf("report:\n%s", text)
	}
}

func TestSubscribersFromFileStore(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dataPath := filepath.Join(dir, "recipients.json")
	st, err := storage.Open(context.Background(), storage.Config{Driver: "file", Path: dataPath}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, id := range []int64{5, 3} {
		if err := st.Upsert(context.Background(), storage.RecipientState{ChatID: id, LastMessageID: int(id) * 10}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	cfgPath := filepath.Join(dir, "config.yaml")
	body := "storage:\n  driver: file\n  path: " + dataPath + "\n"
	if err := os.WriteFile(cfgPath, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := Subscribers(context.Background(), cfgPath, logx.Nop())
	if err != nil {
		t.Fatalf("Subscribers: %v", err)
	}
	if len(got) != 2 || got[0].ChatID != 3 || got[1].LastMessageID != 50 {
		t.Fatalf("got %+v", got)
	}

	if err := os.WriteFile(cfgPath, []byte("storage:\n  driver: none\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Subscribers(context.Background(), cfgPath, logx.Nop()); err == nil {
		t.Fatalf("disabled storage should be reported")
	}
}
