package interview

import "time"

// Role identifies which side of the interview produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Origin records which channel delivered a message. Merge conflicts are
// resolved by authority: polled history beats realtime voice transcripts,
// which beat locally created optimistic entries.
type Origin string

const (
	OriginOptimisticLocal Origin = "optimistic-local"
	OriginVoiceRealtime   Origin = "voice-realtime"
	OriginPolled          Origin = "polled"
)

// Authority returns the merge precedence of an origin. Higher wins.
func (o Origin) Authority() int {
	switch o {
	case OriginPolled:
		return 3
	case OriginVoiceRealtime:
		return 2
	case OriginOptimisticLocal:
		return 1
	default:
		return 0
	}
}

// Message is one transcript entry. ID is either a server-issued permanent
// id or a locally generated provisional id (optimistic entries).
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Origin    Origin    `json:"origin"`
}
