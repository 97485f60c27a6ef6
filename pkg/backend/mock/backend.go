// Package mock is an in-memory interview backend for tests and local
// wiring without any network dependency.
package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prepdeck/interviewkit/pkg/backend"
	"github.com/prepdeck/interviewkit/pkg/interview"
	"github.com/prepdeck/interviewkit/pkg/voice"
)

// Backend scripts backend behavior. Fail* fields make the next matching
// call return the given error; they are consumed per call site checks
// by tests via Set helpers.
type Backend struct {
	mu sync.Mutex

	sessions map[string]*interview.Session
	history  map[string][]interview.Message
	nextID   int
	nextMsg  int

	FailSend  error
	FailEnd   error
	FailToken error
	FailStart error

	Evaluation interview.Evaluation
	Grant      voice.Grant

	// Reply, when set, is returned as the assistant's inline answer to
	// every SendMessage.
	Reply string
}

func New() *Backend {
	return &Backend{
		sessions: make(map[string]*interview.Session),
		history:  make(map[string][]interview.Message),
		Evaluation: interview.Evaluation{
			Score:   4,
			Summary: "solid problem decomposition",
		},
		Grant: voice.Grant{Token: "mock-token", RoomURL: "wss://rooms.local/mock", RoomName: "mock"},
	}
}

func (b *Backend) StartInterview(ctx context.Context, problemID string) (backend.StartResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailStart != nil {
		return backend.StartResult{}, b.FailStart
	}
	b.nextID++
	id := fmt.Sprintf("iv-%d", b.nextID)
	b.sessions[id] = &interview.Session{
		ID:        id,
		ProblemID: problemID,
		Status:    interview.StatusActive,
		StartedAt: time.Now(),
	}
	return backend.StartResult{InterviewID: id}, nil
}

func (b *Backend) GetInterview(ctx context.Context, interviewID string) (backend.InterviewDetail, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[interviewID]
	if !ok {
		return backend.InterviewDetail{}, errors.New("interview not found")
	}
	return backend.InterviewDetail{Session: *s, History: b.copyHistory(interviewID)}, nil
}

func (b *Backend) SendMessage(ctx context.Context, interviewID, text string) (backend.SendResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailSend != nil {
		return backend.SendResult{}, b.FailSend
	}
	if _, ok := b.sessions[interviewID]; !ok {
		return backend.SendResult{}, errors.New("interview not found")
	}
	confirmed := b.appendLocked(interviewID, interview.RoleUser, text)
	res := backend.SendResult{Confirmed: confirmed}
	if b.Reply != "" {
		reply := b.appendLocked(interviewID, interview.RoleAssistant, b.Reply)
		res.Reply = &reply
	}
	return res, nil
}

func (b *Backend) GetChatHistory(ctx context.Context, interviewID string) ([]interview.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sessions[interviewID]; !ok {
		return nil, errors.New("interview not found")
	}
	return b.copyHistory(interviewID), nil
}

func (b *Backend) EndInterview(ctx context.Context, interviewID string) (interview.Evaluation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailEnd != nil {
		return interview.Evaluation{}, b.FailEnd
	}
	s, ok := b.sessions[interviewID]
	if !ok {
		return interview.Evaluation{}, errors.New("interview not found")
	}
	s.Status = interview.StatusCompleted
	s.EndedAt = time.Now()
	return b.Evaluation, nil
}

func (b *Backend) GetVoiceToken(ctx context.Context, interviewID string) (voice.Grant, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailToken != nil {
		return voice.Grant{}, b.FailToken
	}
	if _, ok := b.sessions[interviewID]; !ok {
		return voice.Grant{}, errors.New("interview not found")
	}
	return b.Grant, nil
}

// SeedAssistant inserts an assistant message into the server history,
// as if the remote agent had spoken. Returns the stored message.
func (b *Backend) SeedAssistant(interviewID, content string) interview.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.appendLocked(interviewID, interview.RoleAssistant, content)
}

func (b *Backend) appendLocked(interviewID string, role interview.Role, content string) interview.Message {
	b.nextMsg++
	msg := interview.Message{
		ID:        fmt.Sprintf("m-%d", b.nextMsg),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
	b.history[interviewID] = append(b.history[interviewID], msg)
	return msg
}

func (b *Backend) copyHistory(interviewID string) []interview.Message {
	src := b.history[interviewID]
	out := make([]interview.Message, len(src))
	copy(out, src)
	return out
}

var _ backend.Client = (*Backend)(nil)
