// Package listener receives voice transcripts from a Serenade-style
// WebSocket endpoint and hands each one to the dispatcher.
package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/scriptvoice/internal/config"
	"github.com/nugget/scriptvoice/internal/events"
)

// Defaults for a Serenade desktop client.
const (
	DefaultURL       = "ws://localhost:17373"
	DefaultHeartbeat = 5 * time.Second
	DefaultReconnect = 5 * time.Second
)

// Message types on the wire.
const (
	TypeActive    = "active"
	TypeHeartbeat = "heartbeat"
	TypeCallback  = "callback"
)

// Handler processes one transcript. Each call runs on its own goroutine.
type Handler func(ctx context.Context, transcript string)

// Config configures a [Listener].
type Config struct {
	URL       string
	Heartbeat time.Duration
	Reconnect time.Duration
}

type message struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript,omitempty"`
}

// Listener keeps a WebSocket session open, reconnecting after failures,
// and dispatches every callback transcript concurrently.
type Listener struct {
	cfg      Config
	handler  Handler
	prompter *VoicePrompter
	bus      *events.Bus
	logger   *slog.Logger

	inflight sync.WaitGroup
}

// New creates a listener. prompter and bus may be nil.
func New(cfg Config, handler Handler, prompter *VoicePrompter, bus *events.Bus, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if cfg.Reconnect <= 0 {
		cfg.Reconnect = DefaultReconnect
	}
	return &Listener{
		cfg:      cfg,
		handler:  handler,
		prompter: prompter,
		bus:      bus,
		logger:   logger.With("component", "listener"),
	}
}

// Run connects and serves until ctx is cancelled, reconnecting after
// every dropped or failed session. It waits for in-flight transcripts
// before returning.
func (l *Listener) Run(ctx context.Context) error {
	defer l.inflight.Wait()

	for {
		err := l.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		l.logger.Warn("voice session ended", "url", l.cfg.URL, "error", err, "retry_in", l.cfg.Reconnect)
		l.bus.Emit(events.SourceListener, events.KindDisconnected, map[string]any{
			"url":   l.cfg.URL,
			"error": fmt.Sprint(err),
		})

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.cfg.Reconnect):
		}
	}
}

func (l *Listener) session(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", l.cfg.URL, err)
	}

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sessCtx.Done()
		conn.Close()
	}()

	if err := conn.WriteJSON(message{Type: TypeActive}); err != nil {
		return fmt.Errorf("send active: %w", err)
	}
	l.logger.Info("connected to voice endpoint", "url", l.cfg.URL)
	l.bus.Emit(events.SourceListener, events.KindConnected, map[string]any{"url": l.cfg.URL})

	go l.heartbeat(sessCtx, conn, cancel)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			l.logger.Warn("ignoring malformed message", "error", err, "size", len(data))
			continue
		}
		l.logger.Debug("received message", "type", msg.Type)
		if msg.Type == TypeCallback {
			l.route(ctx, msg.Transcript)
		}
	}
}

// heartbeat is the only writer once the session is established.
func (l *Listener) heartbeat(ctx context.Context, conn *websocket.Conn, fail context.CancelFunc) {
	ticker := time.NewTicker(l.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteJSON(message{Type: TypeHeartbeat}); err != nil {
				l.logger.Error("heartbeat failed", "error", err)
				fail()
				return
			}
			l.logger.Log(ctx, config.LevelTrace, "sent heartbeat")
		}
	}
}

func (l *Listener) route(ctx context.Context, transcript string) {
	if transcript == "" {
		l.logger.Warn("callback without transcript")
		return
	}
	if l.prompter.Deliver(transcript) {
		l.logger.Debug("transcript answered a pending prompt")
		return
	}
	l.logger.Info("processing transcript", "transcript", transcript)

	l.inflight.Add(1)
	go func() {
		defer l.inflight.Done()
		l.handler(ctx, transcript)
	}()
}
