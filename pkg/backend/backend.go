// Package backend defines the interview backend boundary. The concrete
// wire protocol belongs to the backend; this core only depends on the
// operations below.
package backend

import (
	"context"

	"github.com/prepdeck/interviewkit/pkg/interview"
	"github.com/prepdeck/interviewkit/pkg/voice"
)

// StartResult is the backend's response to starting an interview.
type StartResult struct {
	InterviewID string `json:"interview_id"`
}

// InterviewDetail bundles a session with its message history.
type InterviewDetail struct {
	Session interview.Session   `json:"session"`
	History []interview.Message `json:"history"`
}

// SendResult carries the server-confirmed user message and, when the
// agent answered inline, its reply.
type SendResult struct {
	Confirmed interview.Message  `json:"confirmed"`
	Reply     *interview.Message `json:"reply,omitempty"`
}

// Client is the interview backend consumed by the orchestrator and the
// poller. All calls are network I/O and must respect ctx deadlines.
type Client interface {
	StartInterview(ctx context.Context, problemID string) (StartResult, error)
	GetInterview(ctx context.Context, interviewID string) (InterviewDetail, error)
	SendMessage(ctx context.Context, interviewID, text string) (SendResult, error)
	GetChatHistory(ctx context.Context, interviewID string) ([]interview.Message, error)
	EndInterview(ctx context.Context, interviewID string) (interview.Evaluation, error)
	GetVoiceToken(ctx context.Context, interviewID string) (voice.Grant, error)
}
