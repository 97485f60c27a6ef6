package interview

import "time"

// SessionStatus is the backend-visible lifecycle status of a session.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
	StatusAbandoned SessionStatus = "abandoned"
)

// Session is one mock interview. It is owned exclusively by the
// orchestrator for the lifetime of the interview and dropped on teardown.
type Session struct {
	ID        string        `json:"id"`
	ProblemID string        `json:"problem_id"`
	Status    SessionStatus `json:"status"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at,omitempty"`
}

// Evaluation is the interviewer's verdict returned when a session ends.
type Evaluation struct {
	Score        int      `json:"score"`
	Summary      string   `json:"summary"`
	Strengths    []string `json:"strengths,omitempty"`
	Improvements []string `json:"improvements,omitempty"`
}
