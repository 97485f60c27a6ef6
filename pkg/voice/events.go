package voice

import (
	"time"

	"github.com/prepdeck/interviewkit/pkg/interview"
)

// ConnectionState tracks the realtime connection lifecycle.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateError        ConnectionState = "error"
)

// EventKind discriminates inbound voice channel events.
type EventKind string

const (
	KindTranscriptFinal EventKind = "transcript_final"
	KindTranscriptDelta EventKind = "transcript_delta"
	KindStatus          EventKind = "status"
)

// Event is one inbound event from the realtime channel. The sequence is
// push-driven; consumers must tolerate bursts and silence.
type Event interface {
	Kind() EventKind
}

// TranscriptFinal carries a complete utterance. MessageID may be a
// server-issued id, enabling exact-match dedup against polled history.
type TranscriptFinal struct {
	Role      interview.Role
	Content   string
	MessageID string
	At        time.Time
}

func (TranscriptFinal) Kind() EventKind { return KindTranscriptFinal }

// TranscriptDelta carries an incremental chunk of an assistant
// utterance still being spoken, keyed by MessageID.
type TranscriptDelta struct {
	MessageID string
	Delta     string
	At        time.Time
}

func (TranscriptDelta) Kind() EventKind { return KindTranscriptDelta }

// Status values surfaced by transports.
type Status string

const (
	StatusReady       Status = "ready"
	StatusError       Status = "error"
	StatusTypingStart Status = "typing_start"
	StatusTypingEnd   Status = "typing_end"
)

// StatusChanged reports a channel status transition.
type StatusChanged struct {
	Status Status
}

func (StatusChanged) Kind() EventKind { return KindStatus }

// Grant is the credential pair issued by the backend for one room
// connection attempt. Discarded on disconnect, error, or session end.
type Grant struct {
	Token    string
	RoomURL  string
	RoomName string
}
