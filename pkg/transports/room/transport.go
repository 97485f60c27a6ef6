// Package room connects to the realtime interview room service over a
// websocket and maps its JSON events onto the voice event stream.
package room

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/prepdeck/interviewkit/pkg/interview"
	"github.com/prepdeck/interviewkit/pkg/logging"
	"github.com/prepdeck/interviewkit/pkg/voice"
)

// Settings tunes the websocket connection. Zero values fall back to the
// defaults below.
type Settings struct {
	HandshakeTimeoutMS   int `mapstructure:"handshake_timeout_ms"`
	PingIntervalMS       int `mapstructure:"ping_interval_ms"`
	MaxReconnectAttempts int `mapstructure:"max_reconnect_attempts"`
	ReconnectBackoffMS   int `mapstructure:"reconnect_backoff_ms"`
}

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultPingInterval     = 20 * time.Second
	defaultReconnectLimit   = 3
	defaultReconnectBackoff = time.Second
)

// envelope is the room service's wire frame.
type envelope struct {
	Type      string    `json:"type"`
	Role      string    `json:"role,omitempty"`
	Content   string    `json:"content,omitempty"`
	Delta     string    `json:"delta,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	Status    string    `json:"status,omitempty"`
	At        time.Time `json:"at,omitempty"`
}

type Transport struct {
	grant    voice.Grant
	settings Settings
	logger   *slog.Logger

	out    chan voice.Event
	closed atomic.Bool
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	conn  *websocket.Conn
	state voice.ConnectionState

	writeMu sync.Mutex
}

func New(grant voice.Grant, settings Settings, logger *slog.Logger) *Transport {
	return &Transport{
		grant:    grant,
		settings: settings,
		logger:   logging.NewComponentLogger(logger, "room_transport"),
		out:      make(chan voice.Event, 256),
		state:    voice.StateDisconnected,
	}
}

func (t *Transport) Name() string { return "room" }

// Start dials the room. ctx bounds the dial only; the connection lives
// until Stop or until reconnect attempts are exhausted.
func (t *Transport) Start(ctx context.Context) error {
	conn, err := t.dial(ctx)
	if err != nil {
		return fmt.Errorf("room dial: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.conn = conn
	t.state = voice.StateConnected
	t.cancel = cancel
	t.mu.Unlock()

	t.wg.Add(2)
	go t.readLoop(runCtx)
	go t.pingLoop(runCtx)

	t.logger.Info("room connected", slog.String("room", t.grant.RoomName))
	return nil
}

func (t *Transport) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: msOrDefault(t.settings.HandshakeTimeoutMS, defaultHandshakeTimeout),
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+t.grant.Token)
	conn, resp, err := dialer.DialContext(ctx, t.grant.RoomURL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

func (t *Transport) Stop() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
	}
	conn := t.conn
	t.conn = nil
	t.state = voice.StateDisconnected
	t.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	t.wg.Wait()
	close(t.out)
	return nil
}

func (t *Transport) Events() <-chan voice.Event { return t.out }

func (t *Transport) State() voice.ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SetMicrophoneEnabled forwards the mic toggle to the room service.
func (t *Transport) SetMicrophoneEnabled(enabled bool) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteJSON(map[string]any{"type": "microphone", "enabled": enabled})
}

func (t *Transport) readLoop(ctx context.Context) {
	defer t.wg.Done()
	for {
		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()
		if conn == nil || t.closed.Load() {
			return
		}

		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			if t.closed.Load() || ctx.Err() != nil {
				return
			}
			if !t.reconnect(ctx) {
				return
			}
			continue
		}
		t.dispatch(env)
	}
}

// reconnect mirrors the transport's own recovery: transient network
// loss surfaces as reconnecting, then connected again; only exhausted
// attempts surface as error.
func (t *Transport) reconnect(ctx context.Context) bool {
	t.setState(voice.StateReconnecting)
	attempts := t.settings.MaxReconnectAttempts
	if attempts <= 0 {
		attempts = defaultReconnectLimit
	}
	backoff := msOrDefault(t.settings.ReconnectBackoffMS, defaultReconnectBackoff)

	for i := 1; i <= attempts; i++ {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		if t.closed.Load() {
			return false
		}
		dctx, cancel := context.WithTimeout(ctx, msOrDefault(t.settings.HandshakeTimeoutMS, defaultHandshakeTimeout))
		conn, err := t.dial(dctx)
		cancel()
		if err != nil {
			t.logger.Warn("room reconnect failed",
				slog.Int("attempt", i),
				slog.String("error", err.Error()))
			continue
		}
		t.mu.Lock()
		t.conn = conn
		t.state = voice.StateConnected
		t.mu.Unlock()
		t.emit(voice.StatusChanged{Status: voice.StatusReady})
		t.logger.Info("room reconnected", slog.Int("attempt", i))
		return true
	}

	t.setState(voice.StateError)
	t.emit(voice.StatusChanged{Status: voice.StatusError})
	t.logger.Error("room reconnect attempts exhausted")
	return false
}

func (t *Transport) pingLoop(ctx context.Context) {
	defer t.wg.Done()
	ticker := time.NewTicker(msOrDefault(t.settings.PingIntervalMS, defaultPingInterval))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			conn := t.conn
			t.mu.Unlock()
			if conn == nil {
				continue
			}
			t.writeMu.Lock()
			_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			t.writeMu.Unlock()
		}
	}
}

func (t *Transport) dispatch(env envelope) {
	at := env.At
	if at.IsZero() {
		at = time.Now()
	}
	switch env.Type {
	case "transcript.final":
		t.emit(voice.TranscriptFinal{
			Role:      interview.Role(env.Role),
			Content:   env.Content,
			MessageID: env.MessageID,
			At:        at,
		})
	case "transcript.delta":
		t.emit(voice.TranscriptDelta{
			MessageID: env.MessageID,
			Delta:     env.Delta,
			At:        at,
		})
	case "status":
		t.emit(voice.StatusChanged{Status: voice.Status(env.Status)})
	default:
		raw, _ := json.Marshal(env)
		t.logger.Debug("unhandled room event", slog.String("data", string(raw)))
	}
}

func (t *Transport) emit(ev voice.Event) {
	if t.closed.Load() {
		return
	}
	select {
	case t.out <- ev:
	default:
		t.logger.Warn("room event dropped: channel full")
	}
}

func (t *Transport) setState(s voice.ConnectionState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func msOrDefault(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

var _ voice.Transport = (*Transport)(nil)
