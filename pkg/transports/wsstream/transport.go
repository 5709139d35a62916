// Package wsstream carries calls over a websocket: PCM audio and
// transcripts in, synthesized audio and session events out.
package wsstream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/harunnryd/parley/pkg/bus"
	"github.com/harunnryd/parley/pkg/errorsx"
	"github.com/harunnryd/parley/pkg/frames"
	"github.com/harunnryd/parley/pkg/logging"
	"github.com/harunnryd/parley/pkg/metrics"
	"github.com/harunnryd/parley/pkg/session"
	"github.com/harunnryd/parley/pkg/transports"
)

const (
	writeWait    = 5 * time.Second
	maxMessage   = 1 << 20
	closeTimeout = 5 * time.Second
)

type Config struct {
	Addr            string   `mapstructure:"addr"`
	Path            string   `mapstructure:"ws_path"`
	AllowAnyOrigin  bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	ReadBufferSize  int      `mapstructure:"read_buffer_size"`
	WriteBufferSize int      `mapstructure:"write_buffer_size"`
	MaxSessions     int      `mapstructure:"max_sessions"`
	// SampleRate is assumed for inbound audio unless the start message
	// names one.
	SampleRate int `mapstructure:"sample_rate"`
	SendBuffer int `mapstructure:"send_buffer"`
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.Path == "" {
		c.Path = "/v1/sessions"
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = 4096
	}
	if c.WriteBufferSize <= 0 {
		c.WriteBufferSize = 4096
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 512
	}
	return c
}

type Transport struct {
	cfg      Config
	sessions transports.Sessions
	obs      metrics.Observer
	logger   *slog.Logger
	upgrader websocket.Upgrader
	mux      *http.ServeMux

	server   *http.Server
	listener net.Listener

	mu    sync.Mutex
	conns map[string]*conn

	draining atomic.Bool
}

func New(cfg Config, sessions transports.Sessions, obs metrics.Observer) *Transport {
	cfg = cfg.withDefaults()
	t := &Transport{
		cfg:      cfg,
		sessions: sessions,
		obs:      obs,
		logger:   logging.NewComponentLogger(nil, "wsstream"),
		conns:    make(map[string]*conn),
		mux:      http.NewServeMux(),
	}
	t.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     t.checkOrigin,
	}
	t.mux.Handle(cfg.Path, t)
	t.mux.HandleFunc("/health", t.handleHealth)
	return t
}

func (t *Transport) Name() string { return "wsstream" }

// Handle mounts an extra route (metrics, debug) on the same listener.
// Call it before Start.
func (t *Transport) Handle(pattern string, h http.Handler) { t.mux.Handle(pattern, h) }

func (t *Transport) Handler() http.Handler { return t.mux }

func (t *Transport) ReadyFields() map[string]any {
	return map[string]any{
		"addr":    t.Addr(),
		"ws_path": t.cfg.Path,
	}
}

// Addr is the bound listener address once started.
func (t *Transport) Addr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return t.cfg.Addr
	}
	return t.listener.Addr().String()
}

// Start binds the listener synchronously so a busy port fails the caller.
func (t *Transport) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", t.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           t.mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	t.mu.Lock()
	t.listener = ln
	t.server = srv
	t.mu.Unlock()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("server_error", "error", err.Error())
		}
	}()
	t.logger.Info("transport_listening", "addr", ln.Addr().String(), "ws_path", t.cfg.Path)
	return nil
}

// Stop refuses new connections, shuts the listener and hangs up whatever
// is still attached.
func (t *Transport) Stop(ctx context.Context) error {
	t.draining.Store(true)
	t.mu.Lock()
	srv := t.server
	open := make([]*conn, 0, len(t.conns))
	for _, c := range t.conns {
		open = append(open, c)
	}
	t.conns = make(map[string]*conn)
	t.mu.Unlock()
	for _, c := range open {
		c.finish()
	}
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (t *Transport) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if t.draining.Load() || t.sessions.Draining() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (t *Transport) reject(w http.ResponseWriter, reason string) {
	metrics.Count(t.obs, metrics.EventConnRejected, map[string]string{"reason": reason})
	t.logger.Warn("connection_rejected",
		"reason", reason,
		"reason_code", string(errorsx.ReasonTransportRejected),
	)
	http.Error(w, reason, http.StatusServiceUnavailable)
}

func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.draining.Load() || t.sessions.Draining() {
		t.reject(w, "draining")
		return
	}
	if limit := t.cfg.MaxSessions; limit > 0 && t.sessions.Count() >= int64(limit) {
		t.reject(w, "capacity")
		return
	}
	ws, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	ws.SetReadLimit(maxMessage)
	c := newConn(ws, t.cfg.SendBuffer)
	go c.writeLoop()
	defer func() {
		c.finish()
		c.wait(writeWait)
		c.hangup()
	}()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	var (
		sess *session.Session
		rate = t.cfg.SampleRate
		seq  frames.SeqGen
	)
	ingest := func(pcm []byte) {
		if sess == nil || len(pcm) == 0 {
			return
		}
		f := frames.NewAudioFrame(seq.Next(), time.Now(), pcm, rate, 1, map[string]string{
			frames.MetaSessionID: sess.ID(),
			frames.MetaSource:    "transport",
		})
		if err := sess.Ingest(ctx, f); err != nil {
			t.logger.Debug("ingest_failed", "session_id", sess.ID(), "error", err.Error())
		}
	}

	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		if kind == websocket.BinaryMessage {
			ingest(data)
			continue
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendJSON(outbound{Event: "error", Error: "malformed message", Reason: string(errorsx.ReasonTransportProtocol)})
			continue
		}
		switch msg.Event {
		case "start":
			if sess != nil {
				continue
			}
			id := strings.TrimSpace(msg.SessionID)
			if id == "" {
				id = uuid.NewString()
			}
			if msg.SampleRate > 0 {
				rate = msg.SampleRate
			}
			s, created, err := t.sessions.GetOrCreate(ctx, id, msg.CustomerID)
			if err != nil {
				t.logger.Warn("session_start_failed", "session_id", id, "error", err.Error(), "reason_code", string(errorsx.Reason(err)))
				c.sendJSON(outbound{Event: "error", SessionID: id, Error: err.Error(), Reason: string(errorsx.Reason(err))})
				return
			}
			sess = s
			t.attach(id, c)
			c.sendJSON(outbound{Event: "started", SessionID: id, Resumed: !created})
			go t.pumpAudio(c, sess)
			go t.pumpEvents(c, sess)
		case "media":
			pcm, err := base64.StdEncoding.DecodeString(msg.Payload)
			if err != nil {
				c.sendJSON(outbound{Event: "error", Error: "invalid media payload", Reason: string(errorsx.ReasonTransportProtocol)})
				continue
			}
			ingest(pcm)
		case "transcript":
			if sess == nil {
				continue
			}
			ev := frames.TranscriptEvent{
				UtteranceID:    msg.UtteranceID,
				Text:           msg.Text,
				Language:       frames.NormalizeLanguage(msg.Language),
				IsFinal:        msg.Final || msg.EndOfUtterance,
				EndOfUtterance: msg.EndOfUtterance,
				Confidence:     msg.Confidence,
				At:             time.Now(),
			}
			if err := sess.IngestTranscript(ctx, ev); err != nil {
				t.logger.Debug("transcript_rejected", "session_id", sess.ID(), "error", err.Error())
			}
		case "stop":
			if sess != nil && t.detach(sess.ID(), c) {
				t.closeSession(sess.ID())
			}
			return
		}
	}
	if sess != nil && t.detach(sess.ID(), c) {
		t.closeSession(sess.ID())
	}
}

func (t *Transport) closeSession(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := t.sessions.Remove(ctx, id); err != nil {
		t.logger.Warn("session_close_failed", "session_id", id, "error", err.Error())
	}
}

// attach binds c to the session; a reconnect replaces and hangs up the
// previous connection without ending the call.
func (t *Transport) attach(id string, c *conn) {
	t.mu.Lock()
	old := t.conns[id]
	t.conns[id] = c
	t.mu.Unlock()
	if old != nil && old != c {
		t.logger.Info("session_reattached", "session_id", id)
		old.finish()
	}
}

// detach reports whether c was still the session's connection.
func (t *Transport) detach(id string, c *conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conns[id] != c {
		return false
	}
	delete(t.conns, id)
	return true
}

func (t *Transport) pumpAudio(c *conn, sess *session.Session) {
	ctx, cancel := c.context()
	defer cancel()
	egress := sess.Egress()
	for {
		f, err := egress.Pop(ctx)
		if err != nil {
			return
		}
		c.sendAudio(f.RawPayload(), f.MetaValue(frames.MetaTurnID), sess.TurnCancelled)
	}
}

func (t *Transport) pumpEvents(c *conn, sess *session.Session) {
	ctx, cancel := c.context()
	defer cancel()
	events := sess.Events()
	for {
		ev, err := events.Pop(ctx)
		if err != nil {
			if errors.Is(err, bus.ErrClosed) {
				c.finish()
			}
			return
		}
		if ev.Kind == session.EventBargeIn {
			c.sendJSON(outbound{Event: "clear", SessionID: ev.SessionID, TurnID: ev.TurnID})
		}
		c.sendJSON(eventMessage(ev))
	}
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	if t.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(origin, "https://")
	originHost = strings.TrimPrefix(originHost, "http://")
	for _, allowed := range t.cfg.AllowedOrigins {
		a := strings.TrimRight(strings.TrimSpace(allowed), "/")
		if a == "" {
			continue
		}
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}

var _ transports.Transport = (*Transport)(nil)
