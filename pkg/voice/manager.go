package voice

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prepdeck/interviewkit/pkg/errorsx"
	"github.com/prepdeck/interviewkit/pkg/logging"
	"github.com/prepdeck/interviewkit/pkg/metrics"
	"github.com/prepdeck/interviewkit/pkg/resilience"
)

// ManagerOptions configures a Manager. Tokens and Factory are required.
type ManagerOptions struct {
	Tokens         TokenSource
	Factory        TransportFactory
	Logger         *slog.Logger
	Observer       metrics.Observer
	ConnectTimeout time.Duration
	TokenRetry     resilience.RetryPolicy
	Breaker        *resilience.CircuitBreaker
}

// Manager owns the lifecycle of the optional realtime voice connection:
// token acquisition, room connect, status mirroring, and teardown.
// Every failure it returns is recoverable; the caller downgrades to
// text-only rather than treating it as session-fatal.
type Manager struct {
	opts   ManagerOptions
	logger *slog.Logger
	obs    metrics.Observer

	mu         sync.Mutex
	connecting bool
	state      ConnectionState
	transport  Transport
	grant      Grant
	micEnabled bool

	out       chan Event
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewManager(opts ManagerOptions) *Manager {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 20 * time.Second
	}
	obs := opts.Observer
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	return &Manager{
		opts:   opts,
		logger: logging.NewComponentLogger(opts.Logger, "voice_manager"),
		obs:    obs,
		state:  StateDisconnected,
		out:    make(chan Event, 256),
	}
}

// Connect acquires a room grant and opens the realtime connection.
// A call while another connect is in flight is ignored, not queued:
// duplicate token requests would open two rooms.
func (m *Manager) Connect(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	if m.connecting {
		m.mu.Unlock()
		m.logger.Debug("connect already in flight", slog.String("session_id", sessionID))
		return nil
	}
	if m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	if m.opts.Breaker != nil && !m.opts.Breaker.Allow() {
		m.mu.Unlock()
		return errorsx.New("voice connect suppressed: too many recent failures", errorsx.ReasonTokenAcquisition)
	}
	m.connecting = true
	m.state = StateConnecting
	m.mu.Unlock()

	tctx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()

	var grant Grant
	err := m.opts.TokenRetry.Do(tctx, func() error {
		var terr error
		grant, terr = m.opts.Tokens.GetVoiceToken(tctx, sessionID)
		return terr
	})
	if err != nil {
		return m.failConnect(sessionID, err, errorsx.ReasonTokenAcquisition)
	}

	transport, err := m.opts.Factory(grant)
	if err != nil {
		return m.failConnect(sessionID, err, errorsx.ReasonConnectionFailed)
	}
	if err := transport.Start(tctx); err != nil {
		_ = transport.Stop()
		return m.failConnect(sessionID, err, errorsx.ReasonConnectionFailed)
	}

	m.mu.Lock()
	m.transport = transport
	m.grant = grant
	m.state = StateConnected
	m.micEnabled = true
	m.connecting = false
	m.mu.Unlock()

	if m.opts.Breaker != nil {
		m.opts.Breaker.OnSuccess()
	}
	m.wg.Add(1)
	go m.pump(transport)

	m.logger.Info("voice connected",
		slog.String("session_id", sessionID),
		slog.String("room", grant.RoomName),
		slog.String("transport", transport.Name()))
	m.obs.RecordEvent(metrics.Event{
		Name: "voice_connect",
		Time: time.Now(),
		Tags: map[string]string{"session_id": sessionID, "result": "ok"},
	})
	return nil
}

func (m *Manager) failConnect(sessionID string, err error, reason errorsx.ReasonCode) error {
	if errors.Is(err, context.DeadlineExceeded) {
		reason = errorsx.ReasonNetworkTimeout
	}
	m.mu.Lock()
	m.connecting = false
	m.state = StateDisconnected
	m.mu.Unlock()

	if m.opts.Breaker != nil {
		m.opts.Breaker.OnFailure()
	}
	m.logger.Warn("voice connect failed",
		slog.String("session_id", sessionID),
		slog.String("reason", string(reason)),
		slog.String("error", err.Error()))
	m.obs.RecordEvent(metrics.Event{
		Name: "voice_connect",
		Time: time.Now(),
		Tags: map[string]string{"session_id": sessionID, "result": string(reason)},
	})
	return errorsx.Wrap(err, reason)
}

// pump forwards transport events to the manager's stream, mirroring
// status transitions into the connection state. It exits when the
// transport closes its channel.
func (m *Manager) pump(transport Transport) {
	defer m.wg.Done()
	for ev := range transport.Events() {
		if sc, ok := ev.(StatusChanged); ok {
			m.applyStatus(transport, sc.Status)
		}
		select {
		case m.out <- ev:
		default:
			m.logger.Warn("voice event dropped: consumer too slow")
		}
	}
	m.mu.Lock()
	if m.transport == transport {
		m.transport = nil
		m.state = StateDisconnected
		m.micEnabled = false
	}
	m.mu.Unlock()
}

func (m *Manager) applyStatus(transport Transport, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transport != transport {
		return
	}
	switch status {
	case StatusReady:
		m.state = StateConnected
	case StatusError:
		m.state = StateError
	}
	if ts := transport.State(); ts == StateReconnecting {
		m.state = StateReconnecting
	}
}

// Disconnect tears down the realtime connection and discards the grant.
// Safe to call when already disconnected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	transport := m.transport
	m.transport = nil
	m.grant = Grant{}
	m.state = StateDisconnected
	m.micEnabled = false
	m.mu.Unlock()

	if transport != nil {
		_ = transport.Stop()
	}
}

// Events returns the manager's event stream. The channel stays open for
// the life of the manager and is closed by Close.
func (m *Manager) Events() <-chan Event {
	return m.out
}

// SetMicrophoneEnabled toggles the mic. No-op unless connected.
func (m *Manager) SetMicrophoneEnabled(enabled bool) error {
	m.mu.Lock()
	if m.state != StateConnected || m.transport == nil {
		m.mu.Unlock()
		return nil
	}
	m.micEnabled = enabled
	transport := m.transport
	m.mu.Unlock()
	return transport.SetMicrophoneEnabled(enabled)
}

// MicrophoneEnabled reports the current mic toggle.
func (m *Manager) MicrophoneEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.micEnabled
}

// State returns the current connection state.
func (m *Manager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Close disconnects and closes the event stream after the pump drains.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.Disconnect()
		m.wg.Wait()
		close(m.out)
	})
}
