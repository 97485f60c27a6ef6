// Package mock is an in-memory room transport for tests and local
// wiring. It implements voice.Transport without any network dependency.
package mock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prepdeck/interviewkit/pkg/interview"
	"github.com/prepdeck/interviewkit/pkg/voice"
)

type Transport struct {
	out    chan voice.Event
	closed atomic.Bool
	mic    atomic.Bool

	mu    sync.Mutex
	state voice.ConnectionState

	// FailStart, when set, makes Start return it.
	FailStart error
}

func New() *Transport {
	return &Transport{
		out:   make(chan voice.Event, 256),
		state: voice.StateDisconnected,
	}
}

func (t *Transport) Name() string { return "mock" }

// Start only observes ctx as a dial bound; the transport lives until
// Stop, matching the real room transport's lifetime.
func (t *Transport) Start(ctx context.Context) error {
	if t.FailStart != nil {
		return t.FailStart
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	t.state = voice.StateConnected
	t.mu.Unlock()
	return nil
}

func (t *Transport) Stop() error {
	if t.closed.CompareAndSwap(false, true) {
		t.mu.Lock()
		t.state = voice.StateDisconnected
		t.mu.Unlock()
		close(t.out)
	}
	return nil
}

func (t *Transport) Events() <-chan voice.Event { return t.out }

func (t *Transport) State() voice.ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transport) SetMicrophoneEnabled(enabled bool) error {
	t.mic.Store(enabled)
	return nil
}

// MicrophoneEnabled reports the last mic toggle the transport saw.
func (t *Transport) MicrophoneEnabled() bool { return t.mic.Load() }

// Emit injects an event, as if it arrived from the room service.
func (t *Transport) Emit(ev voice.Event) {
	if t.closed.Load() {
		return
	}
	t.out <- ev
}

// EmitFinal injects a complete utterance.
func (t *Transport) EmitFinal(role interview.Role, content, messageID string) {
	t.Emit(voice.TranscriptFinal{Role: role, Content: content, MessageID: messageID, At: time.Now()})
}

// EmitDelta injects an assistant utterance chunk.
func (t *Transport) EmitDelta(messageID, delta string) {
	t.Emit(voice.TranscriptDelta{MessageID: messageID, Delta: delta, At: time.Now()})
}

// EmitStatus injects a status transition.
func (t *Transport) EmitStatus(status voice.Status) {
	t.Emit(voice.StatusChanged{Status: status})
}

var _ voice.Transport = (*Transport)(nil)
