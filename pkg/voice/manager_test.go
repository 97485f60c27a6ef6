package voice

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prepdeck/interviewkit/pkg/errorsx"
	"github.com/prepdeck/interviewkit/pkg/interview"
	"github.com/prepdeck/interviewkit/pkg/resilience"
)

type fakeTokens struct {
	mu    sync.Mutex
	calls int
	fail  bool
	delay time.Duration
}

func (f *fakeTokens) GetVoiceToken(ctx context.Context, sessionID string) (Grant, error) {
	f.mu.Lock()
	f.calls++
	fail, delay := f.fail, f.delay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Grant{}, ctx.Err()
		}
	}
	if fail {
		return Grant{}, errors.New("token service unavailable")
	}
	return Grant{Token: "tok", RoomURL: "wss://rooms.test/abc", RoomName: "abc"}, nil
}

func (f *fakeTokens) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeTransport struct {
	events  chan Event
	stopped atomic.Bool
	mic     atomic.Bool
	failure error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan Event, 16)}
}

func (t *fakeTransport) Name() string { return "fake" }

func (t *fakeTransport) Start(ctx context.Context) error { return t.failure }

func (t *fakeTransport) Events() <-chan Event { return t.events }

func (t *fakeTransport) State() ConnectionState { return StateConnected }

func (t *fakeTransport) Stop() error {
	if t.stopped.CompareAndSwap(false, true) {
		close(t.events)
	}
	return nil
}

func (t *fakeTransport) SetMicrophoneEnabled(enabled bool) error {
	t.mic.Store(enabled)
	return nil
}

func newTestManager(tokens TokenSource, transport *fakeTransport) *Manager {
	return NewManager(ManagerOptions{
		Tokens:  tokens,
		Factory: func(Grant) (Transport, error) { return transport, nil },
	})
}

func TestConnectSuccess(t *testing.T) {
	transport := newFakeTransport()
	m := newTestManager(&fakeTokens{}, transport)
	defer m.Close()

	if err := m.Connect(context.Background(), "s1"); err != nil {
		t.Fatalf("connect error: %v", err)
	}
	if m.State() != StateConnected {
		t.Fatalf("expected connected, got %s", m.State())
	}
	if !m.MicrophoneEnabled() {
		t.Fatalf("expected mic enabled after connect")
	}
}

func TestConnectTokenFailureIsRecoverable(t *testing.T) {
	m := newTestManager(&fakeTokens{fail: true}, newFakeTransport())
	defer m.Close()

	err := m.Connect(context.Background(), "s1")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errorsx.HasReason(err, errorsx.ReasonTokenAcquisition) {
		t.Fatalf("expected token_acquisition_failed, got %s", errorsx.Reason(err))
	}
	if !errorsx.Reason(err).Recoverable() {
		t.Fatalf("token failure must be recoverable")
	}
	if m.State() != StateDisconnected {
		t.Fatalf("expected disconnected after failure, got %s", m.State())
	}
}

func TestConnectCollapsesConcurrentCalls(t *testing.T) {
	tokens := &fakeTokens{delay: 50 * time.Millisecond}
	transport := newFakeTransport()
	m := newTestManager(tokens, transport)
	defer m.Close()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Connect(context.Background(), "s1")
		}()
	}
	wg.Wait()

	if got := tokens.Calls(); got != 1 {
		t.Fatalf("expected a single token request, got %d", got)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	transport := newFakeTransport()
	m := newTestManager(&fakeTokens{}, transport)
	defer m.Close()

	if err := m.Connect(context.Background(), "s1"); err != nil {
		t.Fatalf("connect error: %v", err)
	}
	m.Disconnect()
	m.Disconnect()
	if m.State() != StateDisconnected {
		t.Fatalf("expected disconnected, got %s", m.State())
	}
}

func TestSetMicrophoneIsNoopWhenDisconnected(t *testing.T) {
	transport := newFakeTransport()
	m := newTestManager(&fakeTokens{}, transport)
	defer m.Close()

	if err := m.SetMicrophoneEnabled(true); err != nil {
		t.Fatalf("mic toggle while disconnected must be a no-op: %v", err)
	}
	if transport.mic.Load() {
		t.Fatalf("transport mic must not be touched while disconnected")
	}
}

func TestEventsAreForwarded(t *testing.T) {
	transport := newFakeTransport()
	m := newTestManager(&fakeTokens{}, transport)
	defer m.Close()

	if err := m.Connect(context.Background(), "s1"); err != nil {
		t.Fatalf("connect error: %v", err)
	}
	transport.events <- TranscriptFinal{Role: interview.RoleUser, Content: "hello", At: time.Now()}

	select {
	case ev := <-m.Events():
		final, ok := ev.(TranscriptFinal)
		if !ok {
			t.Fatalf("expected TranscriptFinal, got %T", ev)
		}
		if final.Content != "hello" {
			t.Fatalf("unexpected content %q", final.Content)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for forwarded event")
	}
}

func TestConnectFailureOpensBreaker(t *testing.T) {
	tokens := &fakeTokens{fail: true}
	breaker := resilience.NewCircuitBreaker(2, time.Minute)
	m := NewManager(ManagerOptions{
		Tokens:  tokens,
		Factory: func(Grant) (Transport, error) { return newFakeTransport(), nil },
		Breaker: breaker,
	})
	defer m.Close()

	for i := 0; i < 2; i++ {
		if err := m.Connect(context.Background(), "s1"); err == nil {
			t.Fatalf("expected connect failure")
		}
	}
	before := tokens.Calls()
	if err := m.Connect(context.Background(), "s1"); err == nil {
		t.Fatalf("expected breaker to suppress connect")
	}
	if tokens.Calls() != before {
		t.Fatalf("breaker must prevent further token requests")
	}
}
