package voice

import "context"

// Transport defines a vendor-agnostic boundary to one realtime room
// connection. Implementations own their network lifecycle, including
// transparent reconnects; they surface transport-level trouble as
// StatusChanged events, never by panicking or blocking producers.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Events() <-chan Event
	State() ConnectionState
	SetMicrophoneEnabled(enabled bool) error
}

// TransportFactory builds a transport for one connection attempt from
// the grant issued by the backend.
type TransportFactory func(grant Grant) (Transport, error)

// TokenSource issues room credentials for a session. The backend client
// satisfies this.
type TokenSource interface {
	GetVoiceToken(ctx context.Context, sessionID string) (Grant, error)
}
