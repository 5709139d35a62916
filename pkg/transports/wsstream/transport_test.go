package wsstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/parley/pkg/adapters/vad"
	"github.com/harunnryd/parley/pkg/metrics"
	"github.com/harunnryd/parley/pkg/providers/mock"
	"github.com/harunnryd/parley/pkg/session"
)

func newRegistry(t *testing.T) *session.Registry {
	t.Helper()
	deps := session.Deps{
		Model: mock.NewLLMAdapter(mock.LLMConfig{ResponseText: "Happy to help."}),
		Synth: mock.NewTTS(mock.TTSConfig{SampleRate: 8000, PerChar: time.Millisecond}),
		VAD:   vad.NewEnergyDetector(),
	}
	reg := session.NewRegistry(session.NewFactory(deps, session.Config{}), nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		reg.CloseAll(ctx)
	})
	return reg
}

func serve(t *testing.T, tr *Transport) string {
	t.Helper()
	srv := httptest.NewServer(tr.Handler())
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + tr.cfg.Path
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readJSON(t *testing.T, ws *websocket.Conn, want string) outbound {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		if kind != websocket.TextMessage {
			continue
		}
		var msg outbound
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg.Event == want {
			return msg
		}
	}
}

func eventually(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", desc)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCallStreamsGreetingAndEvents(t *testing.T) {
	reg := newRegistry(t)
	tr := New(Config{}, reg, nil)
	ws := dial(t, serve(t, tr))

	if err := ws.WriteJSON(inbound{Event: "start", SessionID: "call-1", CustomerID: "cust-1"}); err != nil {
		t.Fatalf("write start: %v", err)
	}
	started := readJSON(t, ws, "started")
	if started.SessionID != "call-1" || started.Resumed {
		t.Fatalf("unexpected start ack %+v", started)
	}

	var sawAudio, sawTransition bool
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	for !(sawAudio && sawTransition) {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v (audio=%v transition=%v)", err, sawAudio, sawTransition)
		}
		if kind == websocket.BinaryMessage {
			sawAudio = len(data) > 0
			continue
		}
		var msg outbound
		_ = json.Unmarshal(data, &msg)
		if msg.Event == "session_event" && msg.Kind == string(session.EventTransition) {
			sawTransition = true
		}
	}

	if err := ws.WriteJSON(inbound{Event: "stop"}); err != nil {
		t.Fatalf("write stop: %v", err)
	}
	eventually(t, "session removed", func() bool { return reg.Count() == 0 })
}

func TestMalformedMessageReportsError(t *testing.T) {
	tr := New(Config{}, newRegistry(t), nil)
	ws := dial(t, serve(t, tr))
	if err := ws.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readJSON(t, ws, "error")
	if msg.Reason != "transport_protocol" {
		t.Fatalf("expected protocol reason, got %+v", msg)
	}
}

func TestReconnectReplacesConnection(t *testing.T) {
	reg := newRegistry(t)
	tr := New(Config{}, reg, nil)
	url := serve(t, tr)

	first := dial(t, url)
	if err := first.WriteJSON(inbound{Event: "start", SessionID: "call-2"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readJSON(t, first, "started")

	second := dial(t, url)
	if err := second.WriteJSON(inbound{Event: "start", SessionID: "call-2"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if ack := readJSON(t, second, "started"); !ack.Resumed {
		t.Fatalf("expected resumed session, got %+v", ack)
	}

	_ = first.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}
	if reg.Count() != 1 {
		t.Fatalf("expected the call to survive the reconnect, got %d sessions", reg.Count())
	}
}

func TestRejectsWhenDrainingOrFull(t *testing.T) {
	reg := newRegistry(t)
	obs := metrics.NewMemoryObserver()
	tr := New(Config{MaxSessions: 1}, reg, obs)
	url := serve(t, tr)

	if _, _, err := reg.GetOrCreate(context.Background(), "busy", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 at capacity, got %v", err)
	}

	reg.SetDraining(true)
	_, resp, err = websocket.DefaultDialer.Dial(url, nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while draining, got %v", err)
	}
	if got := len(obs.Named(metrics.EventConnRejected)); got != 2 {
		t.Fatalf("expected two rejections recorded, got %d", got)
	}

	rec := httptest.NewRecorder()
	tr.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected unhealthy while draining, got %d", rec.Code)
	}
}

func TestCheckOrigin(t *testing.T) {
	tr := New(Config{AllowedOrigins: []string{"https://agent.example.com", "console.example.com"}}, newRegistry(t), nil)
	cases := map[string]bool{
		"":                            true,
		"https://agent.example.com":   true,
		"https://console.example.com": true,
		"http://console.example.com/": true,
		"https://evil.example.com":    false,
		"http://agent.example.com":    false,
	}
	for origin, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		if got := tr.checkOrigin(req); got != want {
			t.Fatalf("origin %q: got %v want %v", origin, got, want)
		}
	}
}

func TestStartAndStopServer(t *testing.T) {
	tr := New(Config{Addr: "127.0.0.1:0"}, newRegistry(t), nil)
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	resp, err := http.Get("http://" + tr.Addr() + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected healthy, got %d", resp.StatusCode)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tr.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := http.Get("http://" + tr.Addr() + "/health"); err == nil {
		t.Fatalf("expected listener closed")
	}
}
